package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/gridsync/internal/sheet"
	"github.com/roach88/gridsync/internal/snapshot"
	"github.com/roach88/gridsync/internal/txn"
)

// ErrDigestMismatch is returned when a checkpoint's bytes do not hash to
// its recorded digest.
var ErrDigestMismatch = errors.New("checkpoint digest mismatch")

type rebuildConfig struct {
	useCheckpoint bool
	upTo          int64
	sheetOpts     []sheet.Option
}

// RebuildOption configures Rebuild.
type RebuildOption func(*rebuildConfig)

// WithoutCheckpoint replays the whole log from the initial grid.
func WithoutCheckpoint() RebuildOption {
	return func(c *rebuildConfig) { c.useCheckpoint = false }
}

// UpTo stops the replay after seq.
func UpTo(seq int64) RebuildOption {
	return func(c *rebuildConfig) { c.upTo = seq }
}

// WithSheetOptions passes options to the rebuilt registry.
func WithSheetOptions(opts ...sheet.Option) RebuildOption {
	return func(c *rebuildConfig) { c.sheetOpts = opts }
}

// RebuildResult is the grid of a file at Seq.
type RebuildResult struct {
	Registry *sheet.Registry
	Seq      int64

	// CheckpointSeq is the checkpoint replay started from, 0 for none.
	CheckpointSeq int64

	// Replayed counts the transactions applied after the checkpoint.
	Replayed int

	// Failed lists the IDs of transactions that could not be applied.
	Failed []string
}

// Rebuild reconstructs the grid of fileID: it decodes the latest usable
// checkpoint and applies every later transaction in sequence order.
//
// A transaction that fails to apply is logged and skipped. The room server
// keeps such transactions in the log (peers may have applied them), so
// replay must tolerate them the same way the live room did.
func (s *Store) Rebuild(ctx context.Context, fileID string, opts ...RebuildOption) (RebuildResult, error) {
	cfg := rebuildConfig{useCheckpoint: true, upTo: -1}
	for _, opt := range opts {
		opt(&cfg)
	}

	res := RebuildResult{Failed: []string{}}
	if cfg.useCheckpoint {
		cp, err := s.checkpointAtOrBefore(ctx, fileID, cfg.upTo)
		switch {
		case err == nil:
			reg, err := decodeCheckpoint(cp, cfg.sheetOpts)
			if err != nil {
				return RebuildResult{}, err
			}
			res.Registry = reg
			res.Seq = cp.Seq
			res.CheckpointSeq = cp.Seq
		case !errors.Is(err, ErrNotFound):
			return RebuildResult{}, err
		}
	}
	if res.Registry == nil {
		res.Registry = sheet.NewForFile(fileID, cfg.sheetOpts...)
	}

	tail, err := s.TransactionsSince(ctx, fileID, res.Seq)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("rebuild %s: %w", fileID, err)
	}

	ctrl := txn.NewController(res.Registry)
	for _, rec := range tail {
		if cfg.upTo >= 0 && rec.Seq > cfg.upTo {
			break
		}
		if err := ctx.Err(); err != nil {
			return RebuildResult{}, err
		}
		res.Seq = rec.Seq
		res.Replayed++

		tx, err := rec.Decode()
		if err == nil {
			_, err = ctrl.ApplyRemote(tx)
		}
		if err != nil {
			slog.Warn("replay: skipping transaction",
				"file_id", fileID,
				"seq", rec.Seq,
				"id", rec.ID,
				"error", err)
			res.Failed = append(res.Failed, rec.ID)
		}
	}

	slog.Debug("rebuilt file",
		"file_id", fileID,
		"seq", res.Seq,
		"checkpoint", res.CheckpointSeq,
		"replayed", res.Replayed)

	return res, nil
}

func decodeCheckpoint(cp Checkpoint, opts []sheet.Option) (*sheet.Registry, error) {
	if got := snapshot.Digest(cp.Snapshot); got != cp.Digest {
		return nil, fmt.Errorf("checkpoint %s@%d: %w", cp.FileID, cp.Seq, ErrDigestMismatch)
	}
	snap, err := snapshot.Decode(cp.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s@%d: %w", cp.FileID, cp.Seq, err)
	}
	reg, err := snap.Registry(opts...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s@%d: %w", cp.FileID, cp.Seq, err)
	}
	return reg, nil
}

// NewCheckpoint encodes reg as the checkpoint of fileID at seq.
func NewCheckpoint(reg *sheet.Registry, fileID string, seq int64) (Checkpoint, error) {
	data, err := snapshot.Encode(snapshot.Take(reg, fileID, seq))
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{
		FileID:   fileID,
		Seq:      seq,
		Digest:   snapshot.Digest(data),
		Snapshot: data,
	}, nil
}
