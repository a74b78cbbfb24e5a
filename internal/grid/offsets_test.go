package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestOffsets_Default(t *testing.T) {
	o := NewOffsets(DefaultColumnWidth)

	assert.Equal(t, 0.0, o.Position(0))
	assert.Equal(t, 300.0, o.Position(3))
	assert.Equal(t, -200.0, o.Position(-2))
	assert.Equal(t, int64(0), o.IndexAt(0))
	assert.Equal(t, int64(0), o.IndexAt(99.9))
	assert.Equal(t, int64(1), o.IndexAt(100))
	assert.Equal(t, int64(-1), o.IndexAt(-0.5))
}

func TestOffsets_CustomSizes(t *testing.T) {
	o := NewOffsets(100)
	_, err := o.Set(2, ptr(50))
	require.NoError(t, err)
	_, err = o.Set(-1, ptr(30))
	require.NoError(t, err)

	assert.Equal(t, 50.0, o.Size(2))
	assert.Equal(t, 100.0, o.Size(3))

	positions := []struct {
		index int64
		pos   float64
	}{
		{-2, -130}, {-1, -30}, {0, 0}, {1, 100}, {2, 200}, {3, 250}, {4, 350},
	}
	for _, tt := range positions {
		assert.Equal(t, tt.pos, o.Position(tt.index), "position of %d", tt.index)
	}

	lookups := []struct {
		pos   float64
		index int64
	}{
		{-131, -3}, {-130, -2}, {-31, -2}, {-30, -1}, {-0.5, -1},
		{0, 0}, {199.9, 1}, {200, 2}, {249.9, 2}, {250, 3}, {350, 4},
	}
	for _, tt := range lookups {
		assert.Equal(t, tt.index, o.IndexAt(tt.pos), "index at %v", tt.pos)
	}
}

func TestOffsets_SetReturnsPrevious(t *testing.T) {
	o := NewOffsets(DefaultRowHeight)

	old, err := o.Set(5, ptr(40))
	require.NoError(t, err)
	assert.Nil(t, old)

	old, err = o.Set(5, ptr(60))
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, 40.0, *old)

	// restoring the previous value with nil resets to default
	old, err = o.Set(5, nil)
	require.NoError(t, err)
	assert.Equal(t, 60.0, *old)
	assert.Nil(t, o.Custom(5))
	assert.Empty(t, o.Entries())
}

func TestOffsets_RejectsInvalidSize(t *testing.T) {
	o := NewOffsets(100)
	_, err := o.Set(0, ptr(0))
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = o.Set(0, ptr(-3))
	assert.ErrorIs(t, err, ErrInvalidSize)
}
