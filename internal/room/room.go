package room

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/gridsync/internal/multiplayer"
	"github.com/roach88/gridsync/internal/sheet"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/txn"
)

// member is one session in a room.
type member struct {
	user          multiplayer.User
	peer          *peer
	lastHeartbeat time.Time
}

// room is the server state of one file. Owned by the hub goroutine.
type room struct {
	fileID          string
	reg             *sheet.Registry
	ctrl            *txn.Controller
	seq             int64
	sinceCheckpoint int
	members         map[string]*member
}

func newRoom(fileID string, res store.RebuildResult) *room {
	return &room{
		fileID:          fileID,
		reg:             res.Registry,
		ctrl:            txn.NewController(res.Registry),
		seq:             res.Seq,
		sinceCheckpoint: int(res.Seq - res.CheckpointSeq),
		members:         make(map[string]*member),
	}
}

// users returns the roster sorted by session ID.
func (r *room) users() []multiplayer.User {
	out := make([]multiplayer.User, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.user)
	}
	slices.SortFunc(out, func(a, b multiplayer.User) int {
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// apply updates the authoritative grid. A transaction the grid rejects is
// still logged and broadcast: peers apply it with the same result.
func (r *room) apply(tx *txn.Transaction, seq int64) {
	r.seq = seq
	if _, err := r.ctrl.ApplyRemote(tx); err != nil {
		slog.Warn("room: transaction rejected by server grid",
			"file_id", r.fileID,
			"seq", seq,
			"tx_id", tx.ID,
			"error", err)
	}
	r.sinceCheckpoint++
}

// checkpoint writes a snapshot of the room's grid.
func (r *room) checkpoint(ctx context.Context, log Log) error {
	cp, err := store.NewCheckpoint(r.reg, r.fileID, r.seq)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", r.fileID, err)
	}
	if err := log.WriteCheckpoint(ctx, cp); err != nil {
		return err
	}
	r.sinceCheckpoint = 0
	slog.Debug("room checkpoint written", "file_id", r.fileID, "seq", r.seq, "digest", cp.Digest)
	return nil
}
