package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AppendTransaction assigns the next sequence number of rec.FileID and
// appends rec to the log.
//
// It is idempotent on the transaction ID: appending an ID that is already
// logged returns the stored record and inserted=false. This lets a client
// resend unacknowledged transactions after a reconnect.
func (s *Store) AppendTransaction(ctx context.Context, rec Transaction) (stored Transaction, inserted bool, err error) {
	if rec.FileID == "" || rec.ID == "" {
		return Transaction{}, false, fmt.Errorf("append transaction: file_id and id are required")
	}
	if len(rec.Operations) == 0 {
		rec.Operations = []byte("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Transaction{}, false, fmt.Errorf("append transaction: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	existing, err := scanTransaction(tx.QueryRowContext(ctx, `
		SELECT file_id, seq, id, session_id, operations, cursor, created_at
		FROM transactions
		WHERE file_id = ? AND id = ?
	`, rec.FileID, rec.ID))
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return Transaction{}, false, fmt.Errorf("append transaction: %w", err)
	}

	var last int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM transactions WHERE file_id = ?
	`, rec.FileID).Scan(&last); err != nil {
		return Transaction{}, false, fmt.Errorf("append transaction: last seq: %w", err)
	}

	rec.Seq = last + 1
	created := s.timestamp()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (file_id, seq, id, session_id, operations, cursor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.FileID, rec.Seq, rec.ID, rec.SessionID, string(rec.Operations), rec.Cursor, created); err != nil {
		return Transaction{}, false, fmt.Errorf("append transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Transaction{}, false, fmt.Errorf("append transaction: commit: %w", err)
	}
	rec.CreatedAt = parseTime(created)
	return rec, true, nil
}

// WriteCheckpoint stores a snapshot. Writing a second checkpoint for the
// same (file, seq) is silently ignored.
func (s *Store) WriteCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (file_id, seq, digest, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_id, seq) DO NOTHING
	`, cp.FileID, cp.Seq, cp.Digest, cp.Snapshot, s.timestamp())
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		t       Transaction
		ops     string
		created string
	)
	err := row.Scan(&t.FileID, &t.Seq, &t.ID, &t.SessionID, &ops, &t.Cursor, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	t.Operations = []byte(ops)
	t.CreatedAt = parseTime(created)
	return t, nil
}
