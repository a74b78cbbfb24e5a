package multiplayer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/selection"
	"github.com/roach88/gridsync/internal/txn"
)

// State is the connection state of a Client.
type State int

const (
	StateNotConnected State = iota
	StateConnecting
	StateConnected
	StateWaitingToReconnect
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "not connected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateWaitingToReconnect:
		return "waiting to reconnect"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the client timings.
type Config struct {
	URL               string
	UpdateInterval    time.Duration
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	RosterMissLimit   int
}

// DefaultConfig returns the standard timings: presence flushed at about
// 30 Hz, a heartbeat after 15s of silence and a 5s reconnect delay.
func DefaultConfig() Config {
	return Config{
		UpdateInterval:    time.Second / 30,
		HeartbeatInterval: 15 * time.Second,
		ReconnectDelay:    5 * time.Second,
		RosterMissLimit:   2,
	}
}

// Identity is the local user announced to the room.
type Identity struct {
	UserID    string
	FirstName string
	LastName  string
	Image     string
}

// RemoteApplier receives transactions authored by other sessions.
// engine.Engine implements it.
type RemoteApplier interface {
	ApplyRemote(sessionID string, seq int64, tx *txn.Transaction) bool
}

// Option configures a Client.
type Option func(*Client)

// WithDialer overrides the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithSessionID fixes the session ID instead of generating one.
func WithSessionID(id string) Option {
	return func(c *Client) { c.sessionID = id }
}

// WithStateListener is called on every state change. It runs under the
// client's lock and must not call back into the Client.
func WithStateListener(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// WithRosterListener is called with the current players whenever the
// roster or a player's presence changes. It runs under the client's lock
// and must not call back into the Client.
func WithRosterListener(fn func([]Player)) Option {
	return func(c *Client) { c.onRoster = fn }
}

// Client synchronizes one local grid with a room.
//
// Thread-safety: all exported methods are safe for concurrent use.
type Client struct {
	cfg       Config
	user      Identity
	sessionID string
	dialer    Dialer
	clock     Clock
	applier   RemoteApplier
	onState   func(State)
	onRoster  func([]Player)

	mu            sync.Mutex
	state         State
	gen           uint64
	conn          Conn
	stopTick      func() bool
	stopReconnect func() bool

	fileID   string
	inRoom   bool
	presence User
	pending  UserUpdate
	lastSent time.Time

	outbox  []*txn.Transaction
	roster  *Roster
	lastSeq int64
}

// NewClient creates a disconnected client. The session ID lives as long as
// the Client, so the server can recognise the client's own transactions
// after a reconnect.
func NewClient(cfg Config, user Identity, applier RemoteApplier, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = def.UpdateInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.RosterMissLimit <= 0 {
		cfg.RosterMissLimit = def.RosterMissLimit
	}
	c := &Client{
		cfg:     cfg,
		user:    user,
		dialer:  WebSocketDialer{},
		clock:   SystemClock,
		applier: applier,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	c.roster = NewRoster(c.sessionID, cfg.RosterMissLimit)
	return c
}

// SessionID returns this client's session ID.
func (c *Client) SessionID() string { return c.sessionID }

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FileID returns the room the client is in, or last joined.
func (c *Client) FileID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileID
}

// InRoom reports whether the client has joined a room.
func (c *Client) InRoom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inRoom
}

// LastSequence returns the highest server sequence number seen.
func (c *Client) LastSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Unacknowledged returns the number of local transactions the server has
// not echoed back yet.
func (c *Client) Unacknowledged() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

// Players returns the remote players sorted by session ID.
func (c *Client) Players() []Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roster.Players()
}

// CellIsBeingEdited reports whether another player is editing pos.
func (c *Client) CellIsBeingEdited(sheetID string, pos grid.Pos) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roster.CellIsBeingEdited(sheetID, pos)
}

// Connect opens the connection if there is none. A failed dial schedules a
// reconnect and returns the error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.stopReconnect != nil {
		c.stopReconnect()
		c.stopReconnect = nil
	}
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, c.cfg.URL)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		if conn != nil {
			conn.Close()
		}
		return ErrNotConnected
	}
	if err != nil {
		slog.Warn("multiplayer connect failed", "url", c.cfg.URL, "error", err)
		c.scheduleReconnectLocked()
		return fmt.Errorf("connect: %w", err)
	}

	c.conn = conn
	c.lastSent = c.clock.Now()
	c.setStateLocked(StateConnected)
	slog.Info("multiplayer connected", "url", c.cfg.URL, "session_id", c.sessionID)

	go c.readLoop(gen, conn)
	c.scheduleTickLocked(gen)
	if c.inRoom {
		c.joinLocked()
	}
	return nil
}

// Disconnect closes the connection without scheduling a reconnect. The
// room is left; a later EnterRoom for the same file resumes from the last
// sequence number seen.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inRoom && c.state == StateConnected {
		_ = c.sendLocked(Message{Type: TypeLeaveRoom, SessionID: c.sessionID, FileID: c.fileID})
	}
	c.gen++
	if c.stopReconnect != nil {
		c.stopReconnect()
		c.stopReconnect = nil
	}
	c.closeConnLocked()
	c.leaveLocked()
	c.setStateLocked(StateNotConnected)
}

// EnterRoom joins the room of fileID, connecting first if needed. Entering
// the room the client is already in does nothing.
func (c *Client) EnterRoom(ctx context.Context, fileID string) error {
	c.mu.Lock()
	if c.inRoom && c.fileID == fileID {
		c.mu.Unlock()
		return nil
	}
	if c.fileID != fileID {
		if c.inRoom && c.state == StateConnected {
			_ = c.sendLocked(Message{Type: TypeLeaveRoom, SessionID: c.sessionID, FileID: c.fileID})
		}
		if len(c.outbox) > 0 {
			slog.Warn("unsent transactions dropped on room change",
				"file_id", c.fileID, "count", len(c.outbox))
		}
		c.outbox = nil
		c.lastSeq = 0
		c.fileID = fileID
	}
	c.inRoom = true
	c.roster.Reset()

	state := c.state
	if state == StateConnected {
		c.joinLocked()
	}
	c.mu.Unlock()

	if state == StateNotConnected {
		return c.Connect(ctx)
	}
	return nil
}

// LeaveRoom announces departure and forgets the roster.
func (c *Client) LeaveRoom() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inRoom {
		return ErrNotInRoom
	}
	if c.state == StateConnected {
		_ = c.sendLocked(Message{Type: TypeLeaveRoom, SessionID: c.sessionID, FileID: c.fileID})
	}
	c.leaveLocked()
	return nil
}

// SendTransaction queues a locally applied transaction for the room and
// sends it right away when connected. It never blocks on the network for
// longer than one write.
func (c *Client) SendTransaction(tx *txn.Transaction) {
	if tx == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outbox = append(c.outbox, tx)
	if !c.inRoom || c.state != StateConnected {
		slog.Debug("transaction queued offline", "tx_id", tx.ID, "queued", len(c.outbox))
		return
	}
	c.sendTransactionLocked(tx)
}

// SetSheet records the sheet the user is looking at.
func (c *Client) SetSheet(sheetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setSheetLocked(sheetID)
}

func (c *Client) setSheetLocked(sheetID string) {
	if c.presence.SheetID == sheetID {
		return
	}
	c.presence.SheetID = sheetID
	c.pending.SheetID = &sheetID
}

// SetSelection records the user's selection, switching sheet if the
// selection is on another one.
func (c *Client) SetSelection(sel selection.Selection) {
	enc := sel.Encode()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setSheetLocked(sel.SheetID)
	if c.presence.Selection == enc {
		return
	}
	c.presence.Selection = enc
	c.pending.Selection = &enc
}

// MovePointer records the pointer position and makes it visible.
func (c *Client) MovePointer(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.presence
	if p.X != nil && p.Y != nil && *p.X == x && *p.Y == y && p.Visible {
		return
	}
	visible := true
	c.presence.X, c.presence.Y, c.presence.Visible = &x, &y, true
	c.pending.X, c.pending.Y, c.pending.Visible = &x, &y, &visible
}

// HidePointer marks the pointer as outside the grid.
func (c *Client) HidePointer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.presence.Visible {
		return
	}
	hidden := false
	c.presence.Visible = false
	c.pending.Visible = &hidden
}

// SetCellEdit records the text of an open cell editor.
func (c *Client) SetCellEdit(text string, cursor int) {
	c.setCellEdit(CellEdit{Active: true, Text: text, Cursor: cursor})
}

// EndCellEdit records that the cell editor closed.
func (c *Client) EndCellEdit() {
	c.setCellEdit(CellEdit{})
}

func (c *Client) setCellEdit(ce CellEdit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.presence.CellEdit == ce {
		return
	}
	c.presence.CellEdit = ce
	c.pending.CellEdit = &ce
}

// setStateLocked records a transition and notifies the listener.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	slog.Debug("multiplayer state", "from", c.state.String(), "to", s.String(), "session_id", c.sessionID)
	c.state = s
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Client) notifyRosterLocked() {
	if c.onRoster != nil {
		c.onRoster(c.roster.Players())
	}
}

// leaveLocked forgets room membership but keeps the file, the last sequence
// number and the outbox so the same room can be resumed.
func (c *Client) leaveLocked() {
	if !c.inRoom {
		return
	}
	c.inRoom = false
	c.pending = UserUpdate{}
	c.roster.Reset()
	c.notifyRosterLocked()
}

func (c *Client) closeConnLocked() {
	if c.stopTick != nil {
		c.stopTick()
		c.stopTick = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// scheduleReconnectLocked moves to WaitingToReconnect unless a reconnect
// is already pending.
func (c *Client) scheduleReconnectLocked() {
	if c.state == StateWaitingToReconnect {
		return
	}
	c.closeConnLocked()
	c.gen++
	gen := c.gen
	c.setStateLocked(StateWaitingToReconnect)
	slog.Info("multiplayer reconnect scheduled", "delay", c.cfg.ReconnectDelay, "session_id", c.sessionID)
	c.stopReconnect = c.clock.AfterFunc(c.cfg.ReconnectDelay, func() { c.reconnect(gen) })
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateWaitingToReconnect {
		c.mu.Unlock()
		return
	}
	c.stopReconnect = nil
	c.setStateLocked(StateNotConnected)
	c.mu.Unlock()

	if err := c.Connect(context.Background()); err != nil {
		slog.Debug("multiplayer reconnect failed", "error", err)
	}
}

func (c *Client) transportFailed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	slog.Warn("multiplayer connection lost", "error", err, "file_id", c.fileID, "session_id", c.sessionID)
	c.scheduleReconnectLocked()
}

func (c *Client) scheduleTickLocked(gen uint64) {
	c.stopTick = c.clock.AfterFunc(c.cfg.UpdateInterval, func() { c.tick(gen) })
}

// tick flushes batched presence, or sends a heartbeat when the connection
// has been quiet for too long.
func (c *Client) tick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != StateConnected {
		return
	}

	if c.inRoom {
		if !c.pending.IsEmpty() {
			up := c.pending
			c.pending = UserUpdate{}
			_ = c.sendLocked(Message{Type: TypeUserUpdate, SessionID: c.sessionID, FileID: c.fileID, Update: &up})
		} else if c.clock.Now().Sub(c.lastSent) >= c.cfg.HeartbeatInterval {
			_ = c.sendLocked(Message{Type: TypeHeartbeat, SessionID: c.sessionID, FileID: c.fileID})
		}
	}

	if gen == c.gen {
		c.scheduleTickLocked(gen)
	}
}

// joinLocked announces the user with its full presence, then resends every
// unacknowledged transaction.
func (c *Client) joinLocked() {
	ce := c.presence.CellEdit
	m := Message{
		Type:        TypeEnterRoom,
		SessionID:   c.sessionID,
		UserID:      c.user.UserID,
		FileID:      c.fileID,
		SheetID:     c.presence.SheetID,
		Selection:   c.presence.Selection,
		FirstName:   c.user.FirstName,
		LastName:    c.user.LastName,
		Image:       c.user.Image,
		CellEdit:    &ce,
		SequenceNum: c.lastSeq,
	}
	c.pending.SheetID, c.pending.Selection, c.pending.CellEdit = nil, nil, nil
	if err := c.sendLocked(m); err != nil {
		return
	}
	slog.Info("entered room", "file_id", c.fileID, "session_id", c.sessionID, "seq", c.lastSeq)

	for _, tx := range slices.Clone(c.outbox) {
		if c.state != StateConnected {
			return
		}
		c.sendTransactionLocked(tx)
	}
}

func (c *Client) sendTransactionLocked(tx *txn.Transaction) {
	m, err := TransactionMessage(c.sessionID, c.fileID, 0, tx)
	if err != nil {
		slog.Error("transaction not sendable, dropped", "tx_id", tx.ID, "error", err)
		c.ackLocked(tx.ID)
		return
	}
	_ = c.sendLocked(m)
}

// sendLocked writes one message. A write failure is a transport failure.
func (c *Client) sendLocked(m Message) error {
	if c.conn == nil || c.state != StateConnected {
		return ErrNotConnected
	}
	data, err := Encode(m)
	if err != nil {
		slog.Error("multiplayer encode failed", "type", m.Type, "error", err)
		return err
	}
	if err := c.conn.WriteMessage(data); err != nil {
		slog.Warn("multiplayer send failed", "type", m.Type, "error", err)
		c.scheduleReconnectLocked()
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	c.lastSent = c.clock.Now()
	return nil
}

func (c *Client) ackLocked(id string) {
	c.outbox = slices.DeleteFunc(c.outbox, func(tx *txn.Transaction) bool { return tx.ID == id })
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.transportFailed(gen, err)
			return
		}
		c.receive(gen, data)
	}
}

func (c *Client) receive(gen uint64, data []byte) {
	m, err := Decode(data)
	if err != nil {
		slog.Warn("multiplayer message dropped", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if err := c.handleLocked(m); err != nil {
		slog.Warn("multiplayer message dropped",
			"type", m.Type,
			"session_id", m.SessionID,
			"file_id", m.FileID,
			"error", err,
		)
	}
}

func (c *Client) handleLocked(m Message) error {
	switch m.Type {
	case TypeUsersInRoom:
		if err := c.checkRoomLocked(m); err != nil {
			return err
		}
		joined, left := c.roster.Reconcile(m.Users)
		for _, id := range joined {
			slog.Debug("player entered room", "file_id", c.fileID, "session_id", id)
		}
		for _, id := range left {
			slog.Debug("player left room", "file_id", c.fileID, "session_id", id)
		}
		c.notifyRosterLocked()
		return nil

	case TypeUserUpdate:
		if m.SessionID == c.sessionID {
			return nil
		}
		if err := c.checkRoomLocked(m); err != nil {
			return err
		}
		if err := c.roster.Update(m.SessionID, *m.Update); err != nil {
			return err
		}
		c.notifyRosterLocked()
		return nil

	case TypeTransaction:
		if err := c.checkRoomLocked(m); err != nil {
			return err
		}
		return c.receiveTransactionLocked(m)

	case TypeError:
		slog.Warn("room server error", "code", m.Code, "error", m.Error, "file_id", c.fileID)
		return nil

	default:
		return &ProtocolError{
			Code:      CodeUnknownType,
			Message:   fmt.Sprintf("%s is not sent by servers", m.Type),
			SessionID: m.SessionID,
		}
	}
}

func (c *Client) checkRoomLocked(m Message) error {
	if !c.inRoom {
		return &ProtocolError{Code: CodeNotInRoom, Message: string(m.Type) + " outside a room", SessionID: m.SessionID}
	}
	if m.FileID != "" && m.FileID != c.fileID {
		return &ProtocolError{
			Code:      CodeWrongFile,
			Message:   fmt.Sprintf("%s for file %s while in %s", m.Type, m.FileID, c.fileID),
			SessionID: m.SessionID,
		}
	}
	return nil
}

func (c *Client) receiveTransactionLocked(m Message) error {
	if m.SessionID == c.sessionID {
		c.ackLocked(m.ID)
		c.lastSeq = max(c.lastSeq, m.SequenceNum)
		return nil
	}
	if m.SequenceNum > 0 && m.SequenceNum <= c.lastSeq {
		slog.Debug("duplicate transaction ignored", "seq", m.SequenceNum, "tx_id", m.ID)
		return nil
	}
	tx, err := m.Transaction()
	if err != nil {
		return err
	}
	c.lastSeq = max(c.lastSeq, m.SequenceNum)
	if c.applier != nil && !c.applier.ApplyRemote(m.SessionID, m.SequenceNum, tx) {
		slog.Warn("remote transaction not applied: engine stopped", "tx_id", tx.ID, "seq", m.SequenceNum)
	}
	return nil
}
