package cli

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/sheet"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/txn"
)

var seedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// seedLog appends one transaction per value, writing value i into (0, i)
// of the file's default sheet. Returns the database path.
func seedLog(t *testing.T, fileID string, values ...string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "grid.db")
	st, err := store.Open(dbPath, store.WithNow(func() time.Time { return seedTime }))
	require.NoError(t, err)
	defer st.Close()

	for i, v := range values {
		tx := &txn.Transaction{
			ID: fmt.Sprintf("tx-%d", i+1),
			Operations: []txn.Operation{txn.SetCells{
				SheetID: sheet.DefaultSheetID(fileID),
				Cells:   []grid.Entry{{Pos: grid.Pos{X: 0, Y: int64(i)}, Cell: grid.NewCell(v)}},
			}},
		}
		rec, err := store.NewTransaction(fileID, "alice", tx)
		require.NoError(t, err)
		_, _, err = st.AppendTransaction(context.Background(), rec)
		require.NoError(t, err)
	}
	return dbPath
}

// execute runs cmd with args and returns stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
