package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LastSequence returns the highest sequence number logged for fileID, or 0.
func (s *Store) LastSequence(ctx context.Context, fileID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM transactions WHERE file_id = ?
	`, fileID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return seq, nil
}

// TransactionsSince returns the transactions of fileID with seq > after,
// in sequence order.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) TransactionsSince(ctx context.Context, fileID string, after int64) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, seq, id, session_id, operations, cursor, created_at
		FROM transactions
		WHERE file_id = ? AND seq > ?
		ORDER BY seq ASC
	`, fileID, after)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// ReadTransaction returns one transaction of fileID by ID.
// Returns ErrNotFound if it is not logged.
func (s *Store) ReadTransaction(ctx context.Context, fileID, id string) (Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT file_id, seq, id, session_id, operations, cursor, created_at
		FROM transactions
		WHERE file_id = ? AND id = ?
	`, fileID, id))
}

// LatestCheckpoint returns the checkpoint of fileID with the highest seq.
// Returns ErrNotFound if the file has none.
func (s *Store) LatestCheckpoint(ctx context.Context, fileID string) (Checkpoint, error) {
	return s.checkpointAtOrBefore(ctx, fileID, -1)
}

// checkpointAtOrBefore returns the newest checkpoint with seq <= limit, or
// the newest overall when limit is negative.
func (s *Store) checkpointAtOrBefore(ctx context.Context, fileID string, limit int64) (Checkpoint, error) {
	var (
		cp      Checkpoint
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT file_id, seq, digest, snapshot, created_at
		FROM checkpoints
		WHERE file_id = ? AND (? < 0 OR seq <= ?)
		ORDER BY seq DESC
		LIMIT 1
	`, fileID, limit, limit).Scan(&cp.FileID, &cp.Seq, &cp.Digest, &cp.Snapshot, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("checkpoint for %s: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	cp.CreatedAt = parseTime(created)
	return cp, nil
}

// ListFiles summarizes every file with a transaction or a checkpoint,
// ordered by file ID.
func (s *Store) ListFiles(ctx context.Context) ([]FileInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.file_id,
		       COALESCE((SELECT MAX(seq) FROM transactions t WHERE t.file_id = f.file_id), 0),
		       (SELECT COUNT(*) FROM transactions t WHERE t.file_id = f.file_id),
		       (SELECT COUNT(*) FROM checkpoints c WHERE c.file_id = f.file_id)
		FROM (
			SELECT file_id FROM transactions
			UNION
			SELECT file_id FROM checkpoints
		) f
		ORDER BY f.file_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	out := []FileInfo{}
	for rows.Next() {
		var fi FileInfo
		if err := rows.Scan(&fi.FileID, &fi.LastSeq, &fi.Transactions, &fi.Checkpoints); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, fi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}
