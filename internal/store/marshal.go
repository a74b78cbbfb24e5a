package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/gridsync/internal/txn"
)

// Transaction is one row of the transaction log. Operations holds the
// JSON operation list exactly as it travels on the wire.
type Transaction struct {
	FileID     string
	Seq        int64
	ID         string
	SessionID  string
	Operations json.RawMessage
	Cursor     string
	CreatedAt  time.Time
}

// NewTransaction prepares a log record for tx. Seq is assigned by
// AppendTransaction.
func NewTransaction(fileID, sessionID string, tx *txn.Transaction) (Transaction, error) {
	ops, err := txn.MarshalOperations(tx.Operations)
	if err != nil {
		return Transaction{}, fmt.Errorf("marshal transaction %s: %w", tx.ID, err)
	}
	return Transaction{
		FileID:     fileID,
		ID:         tx.ID,
		SessionID:  sessionID,
		Operations: ops,
		Cursor:     tx.Cursor,
	}, nil
}

// Decode returns the operations as a txn.Transaction.
func (t Transaction) Decode() (*txn.Transaction, error) {
	ops, err := txn.UnmarshalOperations(t.Operations)
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s (seq %d): %w", t.ID, t.Seq, err)
	}
	return &txn.Transaction{ID: t.ID, Operations: ops, Cursor: t.Cursor}, nil
}

// Checkpoint is a stored snapshot of a file after seq.
type Checkpoint struct {
	FileID    string
	Seq       int64
	Digest    string
	Snapshot  []byte
	CreatedAt time.Time
}

// FileInfo summarizes the log of one file.
type FileInfo struct {
	FileID       string
	LastSeq      int64
	Transactions int
	Checkpoints  int
}

// parseTime reads a created_at column. Unparseable values become the zero
// time; they are informational only.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
