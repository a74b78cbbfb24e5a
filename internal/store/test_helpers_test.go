package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/sheet"
	"github.com/roach88/gridsync/internal/txn"
)

// createTestStore creates a new on-disk store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// setCellTx builds a transaction writing value at (x, y) on the default
// sheet of fileID.
func setCellTx(id, fileID string, x, y int64, value string) *txn.Transaction {
	return &txn.Transaction{
		ID: id,
		Operations: []txn.Operation{txn.SetCells{
			SheetID: sheet.DefaultSheetID(fileID),
			Cells:   []grid.Entry{{Pos: grid.Pos{X: x, Y: y}, Cell: grid.NewCell(value)}},
		}},
	}
}

// appendTx logs tx for fileID and fails the test on error.
func appendTx(t *testing.T, s *Store, fileID, sessionID string, tx *txn.Transaction) Transaction {
	t.Helper()
	rec, err := NewTransaction(fileID, sessionID, tx)
	if err != nil {
		t.Fatalf("NewTransaction() failed: %v", err)
	}
	stored, _, err := s.AppendTransaction(context.Background(), rec)
	if err != nil {
		t.Fatalf("AppendTransaction() failed: %v", err)
	}
	return stored
}
