package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/gridsync/internal/engine"
	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/multiplayer"
	"github.com/roach88/gridsync/internal/room"
	"github.com/roach88/gridsync/internal/selection"
	"github.com/roach88/gridsync/internal/sheet"
	"github.com/roach88/gridsync/internal/snapshot"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/testutil"
	"github.com/roach88/gridsync/internal/txn"
)

// SettleTimeout bounds how long a step may take to reach every session.
const SettleTimeout = 5 * time.Second

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// player is one session: a local grid behind an engine, synchronized by a
// multiplayer client.
type player struct {
	def    Session
	eng    *engine.Engine
	client *multiplayer.Client
	done   chan struct{}
	online bool

	// queued holds transactions authored while out of the room.
	queued []string
}

// Harness runs one scenario against an in-process room server. Sessions
// reach the server over in-memory pipes, time is frozen, and transaction
// IDs are sequential per session, so a scenario produces the same trace on
// every run.
type Harness struct {
	scenario *Scenario
	clock    *testutil.FakeClock
	store    *store.Store
	server   *room.Server

	players map[string]*player
	order   []string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. An error
// means the scenario could not be driven at all; failed expectations are
// reported in the Result.
//
// Execution flow:
//  1. Start a room server over an in-memory log
//  2. Join every session, in order
//  3. Execute the steps, waiting after each until every session in the
//     room has seen every transaction and the same roster
//  4. Rebuild the file from the log and compare every session against it
//  5. Evaluate the expectations
func Run(scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := testutil.NewFakeClock(epoch)
	st, err := store.Open(":memory:", store.WithNow(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	cfg := room.DefaultConfig()
	cfg.SweepInterval = 0
	srv := room.New(st, cfg, room.WithNow(clock.Now))
	srvCtx, stopServer := context.WithCancel(ctx)
	srvDone := make(chan struct{})
	go func() {
		defer close(srvDone)
		srv.Run(srvCtx)
	}()
	defer func() {
		stopServer()
		<-srvDone
	}()

	h := &Harness{
		scenario: scenario,
		clock:    clock,
		store:    st,
		server:   srv,
		players:  make(map[string]*player, len(scenario.Sessions)),
	}
	defer h.stop()

	result := NewResult()
	result.AddTrace("scenario " + scenario.Name)
	result.AddTrace("file " + scenario.FileID)

	for _, def := range scenario.Sessions {
		p := h.addPlayer(ctx, def)
		if err := p.client.EnterRoom(ctx, scenario.FileID); err != nil {
			return nil, fmt.Errorf("session %s: enter room: %w", def.ID, err)
		}
		p.online = true
		if err := h.settle(ctx); err != nil {
			return nil, fmt.Errorf("session %s: join: %w", def.ID, err)
		}
	}
	result.AddTrace("sessions " + strings.Join(h.order, " "))

	for i, step := range scenario.Steps {
		line, err := h.execute(ctx, i, step, result)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		result.AddTrace(line)
	}

	state, err := h.finalState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect final state: %w", err)
	}
	result.State = state
	h.traceFinal(state, result)

	for _, errMsg := range EvaluateExpectations(state, scenario.Expect) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) addPlayer(ctx context.Context, def Session) *player {
	reg := sheet.NewForFile(h.scenario.FileID)
	ctrl := txn.NewController(reg, txn.WithIDGenerator(testutil.NewSequentialIDs(def.ID)))
	eng := engine.New(ctrl)

	client := multiplayer.NewClient(
		multiplayer.Config{URL: "pipe://" + def.ID, RosterMissLimit: 1},
		multiplayer.Identity{UserID: def.UserID, FirstName: def.FirstName},
		eng,
		multiplayer.WithClock(h.clock),
		multiplayer.WithSessionID(def.ID),
		multiplayer.WithDialer(multiplayer.DialerFunc(h.dial)),
	)
	eng.SetBroadcaster(client)

	p := &player{def: def, eng: eng, client: client, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		eng.Run(ctx)
	}()

	h.players[def.ID] = p
	h.order = append(h.order, def.ID)
	return p
}

func (h *Harness) dial(_ context.Context, _ string) (multiplayer.Conn, error) {
	local, remote := testutil.Pipe()
	go h.server.ServeConn(remote)
	return local, nil
}

func (h *Harness) stop() {
	for _, id := range h.order {
		p := h.players[id]
		p.client.Disconnect()
		p.eng.Stop()
		<-p.done
	}
}

// online returns the sessions in the room, in declaration order.
func (h *Harness) online() []*player {
	var out []*player
	for _, id := range h.order {
		if p := h.players[id]; p.online {
			out = append(out, p)
		}
	}
	return out
}

// settle waits until every session in the room has its transactions
// acknowledged, has received the whole log and sees every other session,
// then until each engine has applied what its client received.
func (h *Harness) settle(ctx context.Context) error {
	deadline := time.Now().Add(SettleTimeout)
	for {
		ok, err := h.settled(ctx)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("room did not settle within %s", SettleTimeout)
		}
		time.Sleep(time.Millisecond)
	}

	for _, p := range h.online() {
		if err := p.eng.Read(ctx, func(*txn.Controller) {}); err != nil {
			return fmt.Errorf("session %s: %w", p.def.ID, err)
		}
	}
	return nil
}

func (h *Harness) settled(ctx context.Context) (bool, error) {
	seq, err := h.store.LastSequence(ctx, h.scenario.FileID)
	if err != nil {
		return false, err
	}
	online := h.online()
	for _, p := range online {
		if p.client.Unacknowledged() > 0 || p.client.LastSequence() != seq {
			return false, nil
		}
		if !slices.Equal(playerIDs(p.client.Players()), others(online, p)) {
			return false, nil
		}
	}
	return true, nil
}

func playerIDs(players []multiplayer.Player) []string {
	out := make([]string, len(players))
	for i, pl := range players {
		out[i] = pl.SessionID
	}
	return out
}

func others(online []*player, self *player) []string {
	out := make([]string, 0, len(online))
	for _, p := range online {
		if p != self {
			out = append(out, p.def.ID)
		}
	}
	slices.Sort(out)
	return out
}

// execute runs one step and returns its trace line.
func (h *Harness) execute(ctx context.Context, i int, st Step, result *Result) (string, error) {
	p := h.players[st.Session]
	line := fmt.Sprintf("step %d: %s %s", i+1, st.Session, describe(st))

	switch st.Action {
	case ActionLeave:
		if !p.online {
			return "", fmt.Errorf("session %s is not in the room", st.Session)
		}
		p.client.Disconnect()
		p.online = false
		return line, h.settle(ctx)

	case ActionJoin:
		if p.online {
			return "", fmt.Errorf("session %s is already in the room", st.Session)
		}
		if err := p.client.EnterRoom(ctx, h.scenario.FileID); err != nil {
			return "", fmt.Errorf("enter room: %w", err)
		}
		p.online = true
		if err := h.settle(ctx); err != nil {
			return "", err
		}
		line += fmt.Sprintf(" -> at seq %d", p.client.LastSequence())
		for _, id := range p.queued {
			rec, err := h.store.ReadTransaction(ctx, h.scenario.FileID, id)
			if err != nil {
				return "", fmt.Errorf("queued transaction %s: %w", id, err)
			}
			line += fmt.Sprintf(", sent %s seq %d", id, rec.Seq)
		}
		p.queued = nil
		return line, nil
	}

	res, err := h.edit(ctx, p, st)
	if errors.Is(err, engine.ErrStopped) || ctx.Err() != nil {
		return "", err
	}
	var lookup *lookupError
	if errors.As(err, &lookup) {
		return "", err
	}
	if err != nil {
		if !st.Reject {
			result.AddError(fmt.Sprintf("step %d: %s %s rejected: %v", i+1, st.Session, st.Action, err))
		}
		return line + " -> rejected", h.settle(ctx)
	}
	if st.Reject {
		result.AddError(fmt.Sprintf("step %d: %s %s: expected rejection", i+1, st.Session, st.Action))
	}

	if res.Transaction == nil {
		return line + " -> no change", h.settle(ctx)
	}
	txID := res.Transaction.ID
	if !p.online {
		p.queued = append(p.queued, txID)
		return line + fmt.Sprintf(" -> tx %s queued", txID), h.settle(ctx)
	}
	if err := h.settle(ctx); err != nil {
		return "", err
	}
	rec, err := h.store.ReadTransaction(ctx, h.scenario.FileID, txID)
	if err != nil {
		return "", fmt.Errorf("transaction %s: %w", txID, err)
	}
	return line + fmt.Sprintf(" -> tx %s seq %d", txID, rec.Seq), nil
}

// lookupError is a scenario mistake, such as naming a missing sheet.
type lookupError struct{ msg string }

func (e *lookupError) Error() string { return e.msg }

// edit turns a step into operations and submits them to the session's
// engine.
func (h *Harness) edit(ctx context.Context, p *player, st Step) (engine.Result, error) {
	switch st.Action {
	case ActionUndo:
		return p.eng.Undo(ctx)
	case ActionRedo:
		return p.eng.Redo(ctx)
	}

	var (
		sheetID  string
		order    string
		notFound bool
	)
	err := p.eng.Read(ctx, func(c *txn.Controller) {
		reg := c.Registry()
		order = reg.OrderAfterLast()
		if st.Sheet == "" {
			sheetID = reg.First().ID
			return
		}
		s, ok := reg.ByName(st.Sheet)
		if !ok {
			notFound = true
			return
		}
		sheetID = s.ID
	})
	if err != nil {
		return engine.Result{}, err
	}
	if notFound && st.Action != ActionAddSheet {
		return engine.Result{}, &lookupError{msg: fmt.Sprintf("session %s has no sheet named %q", p.def.ID, st.Sheet)}
	}

	pos := grid.Pos{X: st.X, Y: st.Y}
	rect := stepRect(st)
	cursor := selection.New(sheetID, pos).Encode()

	var op txn.Operation
	switch st.Action {
	case ActionSet:
		op = txn.SetCells{SheetID: sheetID, Cells: []grid.Entry{{Pos: pos, Cell: grid.NewCell(st.Value)}}}
	case ActionClear:
		op = txn.DeleteCells{SheetID: sheetID, Rect: rect}
	case ActionFormat:
		op = txn.SetFormats{SheetID: sheetID, Rect: rect, Patch: grid.FormatPatch{
			Bold:      st.Bold,
			Italic:    st.Italic,
			FillColor: st.FillColor,
		}}
	case ActionAddSheet:
		op = txn.AddSheet{Sheet: sheet.New(SheetID(st.Value), st.Value, order).Data()}
	case ActionDeleteSheet:
		op = txn.DeleteSheet{SheetID: sheetID}
	default:
		return engine.Result{}, &lookupError{msg: "unknown action " + st.Action}
	}
	return p.eng.Submit(ctx, cursor, op)
}

// SheetID is the ID the harness gives a sheet it adds, derived from the
// name so that traces are stable.
func SheetID(name string) string {
	return "sheet-" + strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

func stepRect(st Step) grid.Rect {
	w, h := max(st.W, 1), max(st.H, 1)
	return grid.RectFromSize(grid.Pos{X: st.X, Y: st.Y}, w, h)
}

// describe renders a step's action for the trace.
func describe(st Step) string {
	var b strings.Builder
	b.WriteString(st.Action)
	if st.Sheet != "" && st.Action != ActionAddSheet {
		fmt.Fprintf(&b, " %q", st.Sheet)
	}

	switch st.Action {
	case ActionSet:
		fmt.Fprintf(&b, " %s %q", grid.Pos{X: st.X, Y: st.Y}, st.Value)
	case ActionClear:
		b.WriteString(" " + rectString(stepRect(st)))
	case ActionFormat:
		b.WriteString(" " + rectString(stepRect(st)))
		if st.Bold != nil {
			b.WriteString(" " + flag("bold", *st.Bold))
		}
		if st.Italic != nil {
			b.WriteString(" " + flag("italic", *st.Italic))
		}
		if st.FillColor != nil {
			fmt.Fprintf(&b, " fill=%s", *st.FillColor)
		}
	case ActionAddSheet:
		fmt.Fprintf(&b, " %q", st.Value)
	}
	return b.String()
}

func rectString(r grid.Rect) string {
	if r.Min == r.Max {
		return r.Min.String()
	}
	return r.String()
}

func flag(name string, on bool) string {
	if on {
		return name
	}
	return "-" + name
}

// finalState copies every session's grid and rebuilds the server's.
func (h *Harness) finalState(ctx context.Context) (*FinalState, error) {
	rebuilt, err := h.store.Rebuild(ctx, h.scenario.FileID)
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}

	state := &FinalState{
		Seq:       rebuilt.Seq,
		Server:    rebuilt.Registry,
		Sessions:  make(map[string]*sheet.Registry),
		UndoDepth: make(map[string]int),
		Players:   make(map[string][]string),
	}
	for _, id := range h.order {
		p := h.players[id]
		var snap snapshot.Snapshot
		err := p.eng.Read(ctx, func(c *txn.Controller) {
			state.UndoDepth[id] = c.UndoDepth()
			snap = snapshot.Take(c.Registry(), h.scenario.FileID, 0)
		})
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
		if !p.online {
			state.Offline = append(state.Offline, id)
			continue
		}
		reg, err := snap.Registry()
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
		state.Sessions[id] = reg
		state.Players[id] = playerIDs(p.client.Players())
	}
	slices.Sort(state.Offline)
	return state, nil
}

// traceFinal appends the settled grid and the convergence verdict.
func (h *Harness) traceFinal(state *FinalState, result *Result) {
	result.AddTrace(fmt.Sprintf("final seq %d", state.Seq))
	for _, line := range renderRegistry(state.Server) {
		result.AddTrace("  " + line)
	}

	depths := make([]string, 0, len(h.order))
	for _, id := range h.order {
		depths = append(depths, fmt.Sprintf("%s=%d", id, state.UndoDepth[id]))
	}
	result.AddTrace("  undo " + strings.Join(depths, " "))

	var players []string
	for _, id := range h.order {
		if seen, ok := state.Players[id]; ok {
			players = append(players, fmt.Sprintf("%s=[%s]", id, strings.Join(seen, " ")))
		}
	}
	if len(players) > 0 {
		result.AddTrace("  players " + strings.Join(players, " "))
	}
	if len(state.Offline) > 0 {
		result.AddTrace("  offline " + strings.Join(state.Offline, " "))
	}

	diverged, err := Diverged(state)
	if err != nil {
		result.AddError(err.Error())
		return
	}
	if len(diverged) == 0 {
		result.AddTrace("  converged")
		return
	}
	result.AddTrace("  diverged " + strings.Join(diverged, " "))
	for _, id := range diverged {
		result.AddError(fmt.Sprintf("session %s diverged from the log", id))
	}
}

// Diverged returns the connected sessions whose grid differs from the one
// rebuilt from the log, sorted.
func Diverged(state *FinalState) ([]string, error) {
	want, err := snapshot.Fingerprint(state.Server)
	if err != nil {
		return nil, err
	}
	var out []string
	for id, reg := range state.Sessions {
		got, err := snapshot.Fingerprint(reg)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
		if got != want {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// renderRegistry lists every sheet's content, one line per position that
// holds a value or a format. A sheet without content gets one line.
func renderRegistry(reg *sheet.Registry) []string {
	var lines []string
	for _, s := range reg.Ordered() {
		d := s.Data()
		cells := make(map[grid.Pos]*grid.Cell, len(d.Cells))
		formats := make(map[grid.Pos]grid.Format, len(d.Formats))
		var positions []grid.Pos
		for _, e := range d.Cells {
			cells[e.Pos] = e.Cell
			positions = append(positions, e.Pos)
		}
		for _, e := range d.Formats {
			if _, ok := cells[e.Pos]; !ok {
				positions = append(positions, e.Pos)
			}
			formats[e.Pos] = e.Format
		}
		if len(positions) == 0 {
			lines = append(lines, fmt.Sprintf("%q empty", s.Name))
			continue
		}
		slices.SortFunc(positions, func(a, b grid.Pos) int {
			switch {
			case a.Less(b):
				return -1
			case b.Less(a):
				return 1
			}
			return 0
		})
		for _, pos := range positions {
			line := fmt.Sprintf("%q %s", s.Name, pos)
			if c, ok := cells[pos]; ok {
				line += fmt.Sprintf(" %s %q", c.Kind, c.Value)
			}
			if f, ok := formats[pos]; ok {
				line += renderFormat(f)
			}
			lines = append(lines, line)
		}
	}
	return lines
}

func renderFormat(f grid.Format) string {
	var b strings.Builder
	if f.Bold {
		b.WriteString(" bold")
	}
	if f.Italic {
		b.WriteString(" italic")
	}
	if f.FillColor != "" {
		b.WriteString(" fill=" + f.FillColor)
	}
	return b.String()
}
