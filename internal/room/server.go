package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/gridsync/internal/multiplayer"
	"github.com/roach88/gridsync/internal/store"
)

// Log is the durable transaction log behind a Server. *store.Store
// implements it.
type Log interface {
	AppendTransaction(ctx context.Context, rec store.Transaction) (store.Transaction, bool, error)
	TransactionsSince(ctx context.Context, fileID string, after int64) ([]store.Transaction, error)
	WriteCheckpoint(ctx context.Context, cp store.Checkpoint) error
	Rebuild(ctx context.Context, fileID string, opts ...store.RebuildOption) (store.RebuildResult, error)
}

type eventKind int

const (
	evConnected eventKind = iota
	evDisconnected
	evMessage
	evSweep
)

type event struct {
	kind eventKind
	peer *peer
	msg  multiplayer.Message
	err  error
	done chan struct{}
}

// Stats are the live counters reported by /health.
type Stats struct {
	Rooms       int64 `json:"rooms"`
	Sessions    int64 `json:"sessions"`
	Connections int64 `json:"connections"`
}

// Server is the room server. Create with New, start Run, then hand
// connections to ServeConn (or mount Handler).
type Server struct {
	cfg Config
	log Log
	now func() time.Time

	events chan event
	done   chan struct{}

	// Owned by the hub goroutine.
	rooms map[string]*room
	peers map[*peer]struct{}

	rooms64    atomic.Int64
	sessions64 atomic.Int64
	peers64    atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithNow overrides the clock used for heartbeat bookkeeping.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a server over log.
func New(log Log, cfg Config, opts ...Option) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	s := &Server{
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		events: make(chan event, 256),
		done:   make(chan struct{}),
		rooms:  make(map[string]*room),
		peers:  make(map[*peer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the current counters. Safe to call from any goroutine.
func (s *Server) Stats() Stats {
	return Stats{
		Rooms:       s.rooms64.Load(),
		Sessions:    s.sessions64.Load(),
		Connections: s.peers64.Load(),
	}
}

// Run processes events until ctx is cancelled. It must be called once.
// On return every connection is closed and every dirty room checkpointed.
func (s *Server) Run(ctx context.Context) error {
	defer close(s.done)

	var tick <-chan time.Time
	if s.cfg.SweepInterval > 0 {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	slog.Info("room server started",
		"heartbeat_timeout", s.cfg.HeartbeatTimeout,
		"checkpoint_every", s.cfg.CheckpointEvery)

	for {
		select {
		case <-ctx.Done():
			s.shutdown(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-tick:
			s.sweep()
		case ev := <-s.events:
			s.process(ctx, ev)
		}
		s.publishStats()
	}
}

// Sweep removes stale sessions now and returns once done.
func (s *Server) Sweep() {
	s.call(event{kind: evSweep})
}

// call posts ev and waits for the hub to process it.
func (s *Server) call(ev event) bool {
	ev.done = make(chan struct{})
	if !s.post(ev) {
		return false
	}
	select {
	case <-ev.done:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) process(ctx context.Context, ev event) {
	if ev.done != nil {
		defer close(ev.done)
	}
	switch ev.kind {
	case evConnected:
		s.peers[ev.peer] = struct{}{}
		slog.Debug("connection opened", "peer", ev.peer.id)

	case evDisconnected:
		slog.Debug("connection closed", "peer", ev.peer.id, "session_id", ev.peer.sessionID)
		s.drop(ctx, ev.peer)

	case evSweep:
		s.sweep()

	case evMessage:
		if _, ok := s.peers[ev.peer]; !ok {
			return
		}
		err := ev.err
		if err == nil {
			err = s.handle(ctx, ev.peer, ev.msg)
		}
		if err != nil {
			s.reject(ctx, ev.peer, ev.msg, err)
		}
	}
}

func (s *Server) handle(ctx context.Context, p *peer, m multiplayer.Message) error {
	switch m.Type {
	case multiplayer.TypeEnterRoom:
		return s.enter(ctx, p, m)

	case multiplayer.TypeLeaveRoom:
		if _, _, err := s.memberOf(p, m); err != nil {
			return err
		}
		s.leave(ctx, p)
		return nil

	case multiplayer.TypeHeartbeat:
		_, mem, err := s.memberOf(p, m)
		if err != nil {
			return err
		}
		mem.lastHeartbeat = s.now()
		return nil

	case multiplayer.TypeUserUpdate:
		r, mem, err := s.memberOf(p, m)
		if err != nil {
			return err
		}
		mem.lastHeartbeat = s.now()
		mem.user.Apply(*m.Update)
		s.broadcast(ctx, r, multiplayer.Message{
			Type:      multiplayer.TypeUserUpdate,
			SessionID: m.SessionID,
			FileID:    r.fileID,
			Update:    m.Update,
		}, p)
		return nil

	case multiplayer.TypeTransaction:
		return s.transaction(ctx, p, m)

	default:
		return &multiplayer.ProtocolError{
			Code:      multiplayer.CodeUnknownType,
			Message:   fmt.Sprintf("%s is not sent by clients", m.Type),
			SessionID: m.SessionID,
		}
	}
}

// enter adds p's session to the room of m.FileID, sends it the
// transactions it has not seen and broadcasts the new roster.
func (s *Server) enter(ctx context.Context, p *peer, m multiplayer.Message) error {
	if p.fileID != "" && (p.fileID != m.FileID || p.sessionID != m.SessionID) {
		s.leave(ctx, p)
	}

	r, err := s.loadRoom(ctx, m.FileID)
	if err != nil {
		return err
	}

	if old, ok := r.members[m.SessionID]; ok && old.peer != p {
		slog.Info("session moved to a new connection", "file_id", r.fileID, "session_id", m.SessionID)
		old.peer.fileID = ""
		delete(r.members, m.SessionID)
		s.drop(ctx, old.peer)
	}

	r.members[m.SessionID] = &member{user: m.EnteringUser(), peer: p, lastHeartbeat: s.now()}
	p.fileID, p.sessionID = r.fileID, m.SessionID

	missed, err := s.log.TransactionsSince(ctx, r.fileID, m.SequenceNum)
	if err != nil {
		return fmt.Errorf("catch up %s: %w", r.fileID, err)
	}
	backlog := make([]multiplayer.Message, 0, len(missed))
	for _, rec := range missed {
		backlog = append(backlog, recordMessage(rec))
	}
	if !s.send(p, backlog...) {
		s.drop(ctx, p)
		return nil
	}

	slog.Info("session entered room",
		"file_id", r.fileID,
		"session_id", m.SessionID,
		"user_id", m.UserID,
		"caught_up", len(missed))

	s.broadcastRoster(ctx, r)
	return nil
}

// transaction sequences, logs, applies and echoes one transaction.
func (s *Server) transaction(ctx context.Context, p *peer, m multiplayer.Message) error {
	r, mem, err := s.memberOf(p, m)
	if err != nil {
		return err
	}
	mem.lastHeartbeat = s.now()

	tx, err := m.Transaction()
	if err != nil {
		return err
	}
	rec, err := store.NewTransaction(r.fileID, m.SessionID, tx)
	if err != nil {
		return err
	}
	stored, inserted, err := s.log.AppendTransaction(ctx, rec)
	if err != nil {
		return err
	}

	if !inserted {
		slog.Debug("duplicate transaction acknowledged",
			"file_id", r.fileID, "tx_id", tx.ID, "seq", stored.Seq)
		if !s.send(p, recordMessage(stored)) {
			s.drop(ctx, p)
		}
		return nil
	}

	r.apply(tx, stored.Seq)
	s.broadcast(ctx, r, recordMessage(stored), nil)

	if s.cfg.CheckpointEvery > 0 && r.sinceCheckpoint >= s.cfg.CheckpointEvery {
		if err := r.checkpoint(ctx, s.log); err != nil {
			slog.Error("checkpoint failed", "file_id", r.fileID, "seq", r.seq, "error", err)
		}
	}
	return nil
}

// memberOf resolves the room membership m claims.
func (s *Server) memberOf(p *peer, m multiplayer.Message) (*room, *member, error) {
	switch {
	case p.fileID == "":
		return nil, nil, &multiplayer.ProtocolError{
			Code:      multiplayer.CodeNotInRoom,
			Message:   fmt.Sprintf("%s before EnterRoom", m.Type),
			SessionID: m.SessionID,
		}
	case p.sessionID != m.SessionID:
		return nil, nil, &multiplayer.ProtocolError{
			Code:      multiplayer.CodeUnknownSession,
			Message:   fmt.Sprintf("connection belongs to session %s", p.sessionID),
			SessionID: m.SessionID,
		}
	case p.fileID != m.FileID:
		return nil, nil, &multiplayer.ProtocolError{
			Code:      multiplayer.CodeWrongFile,
			Message:   fmt.Sprintf("%s for file %s while in %s", m.Type, m.FileID, p.fileID),
			SessionID: m.SessionID,
		}
	}
	r := s.rooms[p.fileID]
	if r == nil {
		return nil, nil, &multiplayer.ProtocolError{Code: multiplayer.CodeNotInRoom, Message: "room closed", SessionID: m.SessionID}
	}
	mem := r.members[p.sessionID]
	if mem == nil || mem.peer != p {
		return nil, nil, &multiplayer.ProtocolError{Code: multiplayer.CodeNotInRoom, Message: "session left the room", SessionID: m.SessionID}
	}
	return r, mem, nil
}

func (s *Server) loadRoom(ctx context.Context, fileID string) (*room, error) {
	if r, ok := s.rooms[fileID]; ok {
		return r, nil
	}
	res, err := s.log.Rebuild(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", fileID, err)
	}
	r := newRoom(fileID, res)
	s.rooms[fileID] = r
	slog.Info("room loaded",
		"file_id", fileID,
		"seq", res.Seq,
		"checkpoint", res.CheckpointSeq,
		"replayed", res.Replayed)
	return r, nil
}

// leave removes p's session from its room. An emptied room is
// checkpointed and unloaded.
func (s *Server) leave(ctx context.Context, p *peer) {
	r := s.rooms[p.fileID]
	p.fileID = ""
	if r == nil {
		return
	}
	if mem, ok := r.members[p.sessionID]; ok && mem.peer == p {
		delete(r.members, p.sessionID)
		slog.Info("session left room", "file_id", r.fileID, "session_id", p.sessionID)
	}
	if len(r.members) > 0 {
		s.broadcastRoster(ctx, r)
		return
	}
	s.unload(ctx, r)
}

func (s *Server) unload(ctx context.Context, r *room) {
	if r.sinceCheckpoint > 0 {
		if err := r.checkpoint(ctx, s.log); err != nil {
			slog.Error("checkpoint failed", "file_id", r.fileID, "seq", r.seq, "error", err)
		}
	}
	delete(s.rooms, r.fileID)
	slog.Debug("room unloaded", "file_id", r.fileID, "seq", r.seq)
}

// drop closes p and removes its session. Safe to call more than once.
func (s *Server) drop(ctx context.Context, p *peer) {
	if _, ok := s.peers[p]; !ok {
		return
	}
	delete(s.peers, p)
	p.close()
	if p.fileID != "" {
		s.leave(ctx, p)
	}
}

// sweep drops every session whose last message is older than the
// heartbeat timeout.
func (s *Server) sweep() {
	if s.cfg.HeartbeatTimeout <= 0 {
		return
	}
	ctx := context.Background()
	now := s.now()
	var stale []*peer
	for _, r := range s.rooms {
		for sid, mem := range r.members {
			if now.Sub(mem.lastHeartbeat) > s.cfg.HeartbeatTimeout {
				slog.Info("removing stale session",
					"file_id", r.fileID,
					"session_id", sid,
					"silent_for", now.Sub(mem.lastHeartbeat))
				stale = append(stale, mem.peer)
			}
		}
	}
	for _, p := range stale {
		s.drop(ctx, p)
	}
}

// reject answers a bad message with an Error message.
func (s *Server) reject(ctx context.Context, p *peer, m multiplayer.Message, err error) {
	code := multiplayer.CodeInternal
	var pe *multiplayer.ProtocolError
	if errors.As(err, &pe) {
		code = pe.Code
		slog.Warn("message rejected", "peer", p.id, "type", m.Type, "session_id", m.SessionID, "error", err)
	} else {
		slog.Error("message failed", "peer", p.id, "type", m.Type, "session_id", m.SessionID, "error", err)
	}
	sessionID := m.SessionID
	if sessionID == "" && pe != nil {
		sessionID = pe.SessionID
	}
	if !s.send(p, multiplayer.Message{
		Type:      multiplayer.TypeError,
		SessionID: sessionID,
		FileID:    m.FileID,
		Code:      code,
		Error:     err.Error(),
	}) {
		s.drop(ctx, p)
	}
}

func (s *Server) broadcastRoster(ctx context.Context, r *room) {
	s.broadcast(ctx, r, multiplayer.Message{
		Type:   multiplayer.TypeUsersInRoom,
		FileID: r.fileID,
		Users:  r.users(),
	}, nil)
}

// broadcast sends m to every member of r except skip. Members that cannot
// keep up are dropped after the fan-out.
func (s *Server) broadcast(ctx context.Context, r *room, m multiplayer.Message, skip *peer) {
	data, err := multiplayer.Encode(m)
	if err != nil {
		slog.Error("encode broadcast", "type", m.Type, "error", err)
		return
	}
	var slow []*peer
	for _, mem := range r.members {
		if mem.peer == skip {
			continue
		}
		if !mem.peer.enqueue(data) {
			slow = append(slow, mem.peer)
		}
	}
	for _, p := range slow {
		slog.Warn("dropping slow connection", "peer", p.id, "session_id", p.sessionID)
		s.drop(ctx, p)
	}
}

// send queues ms to p as one batch. It reports false when p cannot keep up.
func (s *Server) send(p *peer, ms ...multiplayer.Message) bool {
	frames := make([][]byte, 0, len(ms))
	for _, m := range ms {
		data, err := multiplayer.Encode(m)
		if err != nil {
			slog.Error("encode message", "type", m.Type, "error", err)
			continue
		}
		frames = append(frames, data)
	}
	return p.enqueue(frames...)
}

func (s *Server) shutdown(ctx context.Context) {
	for p := range s.peers {
		delete(s.peers, p)
		p.close()
	}
	for _, r := range s.rooms {
		s.unload(ctx, r)
	}
	s.publishStats()
	slog.Info("room server stopped")
}

func (s *Server) publishStats() {
	var sessions int64
	for _, r := range s.rooms {
		sessions += int64(len(r.members))
	}
	s.rooms64.Store(int64(len(s.rooms)))
	s.sessions64.Store(sessions)
	s.peers64.Store(int64(len(s.peers)))
}

func recordMessage(rec store.Transaction) multiplayer.Message {
	return multiplayer.Message{
		Type:        multiplayer.TypeTransaction,
		SessionID:   rec.SessionID,
		FileID:      rec.FileID,
		ID:          rec.ID,
		Operations:  rec.Operations,
		Cursor:      rec.Cursor,
		SequenceNum: rec.Seq,
	}
}
