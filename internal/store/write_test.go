package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendTransaction_AssignsSequencePerFile(t *testing.T) {
	s := createTestStore(t)

	a1 := appendTx(t, s, "file-a", "s1", setCellTx("tx-1", "file-a", 0, 0, "1"))
	a2 := appendTx(t, s, "file-a", "s1", setCellTx("tx-2", "file-a", 0, 1, "2"))
	b1 := appendTx(t, s, "file-b", "s2", setCellTx("tx-3", "file-b", 0, 0, "x"))

	assert.Equal(t, int64(1), a1.Seq)
	assert.Equal(t, int64(2), a2.Seq)
	assert.Equal(t, int64(1), b1.Seq)
}

func TestAppendTransaction_IdempotentOnID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := appendTx(t, s, "file-a", "s1", setCellTx("tx-1", "file-a", 0, 0, "1"))
	appendTx(t, s, "file-a", "s1", setCellTx("tx-2", "file-a", 0, 0, "2"))

	rec, err := NewTransaction("file-a", "s1", setCellTx("tx-1", "file-a", 0, 0, "1"))
	require.NoError(t, err)
	again, inserted, err := s.AppendTransaction(ctx, rec)
	require.NoError(t, err)

	assert.False(t, inserted)
	assert.Equal(t, first.Seq, again.Seq)

	last, err := s.LastSequence(ctx, "file-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), last, "duplicate must not consume a sequence number")
}

func TestAppendTransaction_IDScopedToFile(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	appendTx(t, s, "file-a", "s1", setCellTx("tx-1", "file-a", 0, 0, "a"))
	appendTx(t, s, "file-a", "s1", setCellTx("tx-2", "file-a", 0, 1, "a"))

	rec, err := NewTransaction("file-b", "s2", setCellTx("tx-1", "file-b", 0, 0, "b"))
	require.NoError(t, err)
	stored, inserted, err := s.AppendTransaction(ctx, rec)
	require.NoError(t, err)

	assert.True(t, inserted, "the same ID in another file is a new transaction")
	assert.Equal(t, "file-b", stored.FileID)
	assert.Equal(t, int64(1), stored.Seq)

	again, inserted, err := s.AppendTransaction(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "file-b", again.FileID)
	assert.Equal(t, "s2", again.SessionID)

	a, err := s.ReadTransaction(ctx, "file-a", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", a.SessionID)
}

func TestAppendTransaction_RequiresIDs(t *testing.T) {
	s := createTestStore(t)
	_, _, err := s.AppendTransaction(context.Background(), Transaction{FileID: "f"})
	assert.Error(t, err)
}

func TestAppendTransaction_UsesInjectedClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := Open(":memory:", WithNow(func() time.Time { return fixed }))
	require.NoError(t, err)
	defer s.Close()

	rec, err := NewTransaction("f", "s1", setCellTx("tx-1", "f", 0, 0, "a"))
	require.NoError(t, err)
	stored, inserted, err := s.AppendTransaction(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.True(t, fixed.Equal(stored.CreatedAt))
}

func TestWriteCheckpoint_IgnoresDuplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCheckpoint(ctx, Checkpoint{FileID: "f", Seq: 3, Digest: "first", Snapshot: []byte("{}")}))
	require.NoError(t, s.WriteCheckpoint(ctx, Checkpoint{FileID: "f", Seq: 3, Digest: "second", Snapshot: []byte("{}")}))

	cp, err := s.LatestCheckpoint(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, "first", cp.Digest)
}
