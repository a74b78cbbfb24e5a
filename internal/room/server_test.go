package room

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/multiplayer"
	"github.com/roach88/gridsync/internal/sheet"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/testutil"
	"github.com/roach88/gridsync/internal/txn"
)

const (
	fileID  = "file-1"
	waitFor = 2 * time.Second
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	clock *testutil.FakeClock
	store *store.Store
	srv   *Server
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := DefaultConfig()
	cfg.SweepInterval = 0
	for _, m := range mutate {
		m(&cfg)
	}

	f := &fixture{t: t, clock: testutil.NewFakeClock(epoch), store: st}
	f.srv = New(st, cfg, WithNow(f.clock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

// connect opens a connection to the server and returns the client end.
func (f *fixture) connect() *testutil.PipeConn {
	client, server := testutil.Pipe()
	go f.srv.ServeConn(server)
	f.t.Cleanup(func() { client.Close() })
	return client
}

func (f *fixture) send(c *testutil.PipeConn, m multiplayer.Message) {
	f.t.Helper()
	data, err := multiplayer.Encode(m)
	require.NoError(f.t, err)
	require.NoError(f.t, c.WriteMessage(data))
}

func (f *fixture) read(c *testutil.PipeConn) multiplayer.Message {
	f.t.Helper()
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := c.ReadMessage()
		ch <- result{data, err}
	}()
	select {
	case r := <-ch:
		require.NoError(f.t, r.err)
		m, err := multiplayer.Decode(r.data)
		require.NoError(f.t, err)
		return m
	case <-time.After(waitFor):
		f.t.Fatal("timed out waiting for a message")
		return multiplayer.Message{}
	}
}

// expectClosed waits for the server to close c.
func (f *fixture) expectClosed(c *testutil.PipeConn) {
	f.t.Helper()
	ch := make(chan error, 1)
	go func() {
		for {
			if _, err := c.ReadMessage(); err != nil {
				ch <- err
				return
			}
		}
	}()
	select {
	case err := <-ch:
		assert.ErrorIs(f.t, err, io.EOF)
	case <-time.After(waitFor):
		f.t.Fatal("connection still open")
	}
}

// ping asserts that nothing else is queued for c: the server answers a
// wrong-file heartbeat with an error, so the next message must be that
// error.
func (f *fixture) ping(c *testutil.PipeConn, sessionID string) {
	f.t.Helper()
	f.send(c, multiplayer.Message{Type: multiplayer.TypeHeartbeat, SessionID: sessionID, FileID: "ping"})
	m := f.read(c)
	require.Equal(f.t, multiplayer.TypeError, m.Type, "unexpected %s before ping reply", m.Type)
}

func (f *fixture) enter(c *testutil.PipeConn, sessionID string, seq int64) {
	f.t.Helper()
	f.send(c, multiplayer.Message{
		Type:        multiplayer.TypeEnterRoom,
		SessionID:   sessionID,
		UserID:      "user-" + sessionID,
		FileID:      fileID,
		FirstName:   strings.ToUpper(sessionID),
		SequenceNum: seq,
	})
}

func setCell(id string, x, y int64, value string) *txn.Transaction {
	return &txn.Transaction{
		ID: id,
		Operations: []txn.Operation{txn.SetCells{
			SheetID: sheet.DefaultSheetID(fileID),
			Cells:   []grid.Entry{{Pos: grid.Pos{X: x, Y: y}, Cell: grid.NewCell(value)}},
		}},
	}
}

func (f *fixture) sendTx(c *testutil.PipeConn, sessionID string, tx *txn.Transaction) {
	f.t.Helper()
	m, err := multiplayer.TransactionMessage(sessionID, fileID, 0, tx)
	require.NoError(f.t, err)
	f.send(c, m)
}

func sessions(users []multiplayer.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.SessionID
	}
	return out
}

func TestEnterRoom_BroadcastsRoster(t *testing.T) {
	f := newFixture(t)
	a := f.connect()
	f.enter(a, "a", 0)

	m := f.read(a)
	assert.Equal(t, multiplayer.TypeUsersInRoom, m.Type)
	assert.Equal(t, []string{"a"}, sessions(m.Users))
	assert.Equal(t, "A", m.Users[0].FirstName)

	b := f.connect()
	f.enter(b, "b", 0)
	assert.Equal(t, []string{"a", "b"}, sessions(f.read(a).Users))
	assert.Equal(t, []string{"a", "b"}, sessions(f.read(b).Users))
}

func TestTransaction_EchoedToEveryoneWithSequence(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect(), f.connect()
	f.enter(a, "a", 0)
	f.read(a)
	f.enter(b, "b", 0)
	f.read(a)
	f.read(b)

	f.sendTx(a, "a", setCell("tx-1", 0, 0, "Hello"))
	f.sendTx(b, "b", setCell("tx-2", 1, 0, "World"))

	for _, c := range []*testutil.PipeConn{a, b} {
		first, second := f.read(c), f.read(c)
		assert.Equal(t, "tx-1", first.ID)
		assert.Equal(t, "a", first.SessionID)
		assert.Equal(t, int64(1), first.SequenceNum)
		assert.Equal(t, "tx-2", second.ID)
		assert.Equal(t, int64(2), second.SequenceNum)
	}

	res, err := f.store.Rebuild(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, "World", res.Registry.Cell(sheet.DefaultSheetID(fileID), grid.Pos{X: 1, Y: 0}).Value)
}

func TestTransaction_DuplicateAcksSenderOnly(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect(), f.connect()
	f.enter(a, "a", 0)
	f.read(a)
	f.enter(b, "b", 0)
	f.read(a)
	f.read(b)

	tx := setCell("tx-1", 0, 0, "once")
	f.sendTx(a, "a", tx)
	f.read(a)
	f.read(b)

	f.sendTx(a, "a", tx)
	ack := f.read(a)
	assert.Equal(t, "tx-1", ack.ID)
	assert.Equal(t, int64(1), ack.SequenceNum)
	f.ping(b, "b")

	last, err := f.store.LastSequence(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestEnterRoom_CatchesUpFromSequence(t *testing.T) {
	f := newFixture(t)
	a := f.connect()
	f.enter(a, "a", 0)
	f.read(a)
	f.sendTx(a, "a", setCell("tx-1", 0, 0, "1"))
	f.sendTx(a, "a", setCell("tx-2", 0, 1, "2"))
	f.read(a)
	f.read(a)

	c := f.connect()
	f.enter(c, "c", 1)
	missed := f.read(c)
	assert.Equal(t, multiplayer.TypeTransaction, missed.Type)
	assert.Equal(t, "tx-2", missed.ID)
	assert.Equal(t, int64(2), missed.SequenceNum)

	roster := f.read(c)
	assert.Equal(t, multiplayer.TypeUsersInRoom, roster.Type)
	assert.Equal(t, []string{"a", "c"}, sessions(roster.Users))
}

// slowConn delays every server write, like a client on a slow link.
type slowConn struct {
	multiplayer.Conn
	delay time.Duration
}

func (c slowConn) WriteMessage(data []byte) error {
	time.Sleep(c.delay)
	return c.Conn.WriteMessage(data)
}

func TestEnterRoom_CatchUpLongerThanSendBuffer(t *testing.T) {
	const logged = 100
	f := newFixture(t, func(c *Config) { c.SendBuffer = 4 })

	ctx := context.Background()
	for i := 1; i <= logged; i++ {
		rec, err := store.NewTransaction(fileID, "writer", setCell(fmt.Sprintf("tx-%d", i), 0, int64(i), "v"))
		require.NoError(t, err)
		_, _, err = f.store.AppendTransaction(ctx, rec)
		require.NoError(t, err)
	}

	client, server := testutil.Pipe()
	t.Cleanup(func() { client.Close() })
	go f.srv.ServeConn(slowConn{Conn: server, delay: 200 * time.Microsecond})

	f.enter(client, "late", 0)
	for i := 1; i <= logged; i++ {
		m := f.read(client)
		require.Equal(t, multiplayer.TypeTransaction, m.Type)
		require.Equal(t, int64(i), m.SequenceNum)
	}
	roster := f.read(client)
	assert.Equal(t, multiplayer.TypeUsersInRoom, roster.Type)
	assert.Equal(t, []string{"late"}, sessions(roster.Users))

	// live traffic follows the backlog on the same connection
	f.sendTx(client, "late", setCell("tx-live", 1, 0, "live"))
	echo := f.read(client)
	assert.Equal(t, "tx-live", echo.ID)
	assert.Equal(t, int64(logged+1), echo.SequenceNum)
	f.ping(client, "late")
}

// stuckConn never finishes a write until the test ends.
type stuckConn struct {
	multiplayer.Conn
	release chan struct{}
}

func (c stuckConn) WriteMessage([]byte) error {
	<-c.release
	return io.ErrClosedPipe
}

func TestBroadcast_DropsSlowConsumer(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SendBuffer = 2 })
	a := f.connect()
	f.enter(a, "a", 0)
	f.read(a)

	client, server := testutil.Pipe()
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		client.Close()
	})
	go f.srv.ServeConn(stuckConn{Conn: server, release: release})
	f.enter(client, "b", 0)
	assert.Equal(t, []string{"a", "b"}, sessions(f.read(a).Users))

	const sent = 5
	for i := 1; i <= sent; i++ {
		f.sendTx(a, "a", setCell(fmt.Sprintf("tx-%d", i), 0, int64(i), "v"))
	}

	var txs int
	var rosters [][]string
	for range sent + 1 {
		m := f.read(a)
		switch m.Type {
		case multiplayer.TypeTransaction:
			txs++
		case multiplayer.TypeUsersInRoom:
			rosters = append(rosters, sessions(m.Users))
		}
	}
	assert.Equal(t, sent, txs)
	assert.Equal(t, [][]string{{"a"}}, rosters)
	f.ping(a, "a")
}

func TestUserUpdate_FansOutToOthers(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect(), f.connect()
	f.enter(a, "a", 0)
	f.read(a)
	f.enter(b, "b", 0)
	f.read(a)
	f.read(b)

	x := 12.5
	f.send(a, multiplayer.Message{
		Type: multiplayer.TypeUserUpdate, SessionID: "a", FileID: fileID,
		Update: &multiplayer.UserUpdate{X: &x},
	})

	m := f.read(b)
	assert.Equal(t, multiplayer.TypeUserUpdate, m.Type)
	assert.Equal(t, "a", m.SessionID)
	require.NotNil(t, m.Update.X)
	assert.Equal(t, 12.5, *m.Update.X)
	f.ping(a, "a")

	// The merged state reaches sessions that enter later.
	c := f.connect()
	f.enter(c, "c", 0)
	roster := f.read(c)
	require.Len(t, roster.Users, 3)
	require.NotNil(t, roster.Users[0].X)
	assert.Equal(t, 12.5, *roster.Users[0].X)
}

func TestMessages_RejectedOutsideRoom(t *testing.T) {
	f := newFixture(t)
	a := f.connect()

	f.send(a, multiplayer.Message{Type: multiplayer.TypeHeartbeat, SessionID: "a", FileID: fileID})
	m := f.read(a)
	assert.Equal(t, multiplayer.TypeError, m.Type)
	assert.Equal(t, multiplayer.CodeNotInRoom, m.Code)

	require.NoError(t, a.WriteMessage([]byte(`{"type":`)))
	m = f.read(a)
	assert.Equal(t, multiplayer.CodeMalformed, m.Code)

	require.NoError(t, a.WriteMessage([]byte(`{"type":"UsersInRoom"}`)))
	m = f.read(a)
	assert.Equal(t, multiplayer.CodeUnknownType, m.Code)
}

func TestMessages_SessionMismatch(t *testing.T) {
	f := newFixture(t)
	a := f.connect()
	f.enter(a, "a", 0)
	f.read(a)

	f.send(a, multiplayer.Message{Type: multiplayer.TypeHeartbeat, SessionID: "mallory", FileID: fileID})
	m := f.read(a)
	assert.Equal(t, multiplayer.CodeUnknownSession, m.Code)

	f.send(a, multiplayer.Message{Type: multiplayer.TypeHeartbeat, SessionID: "a", FileID: "other"})
	m = f.read(a)
	assert.Equal(t, multiplayer.CodeWrongFile, m.Code)
}

func TestSweep_RemovesSilentSessions(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect(), f.connect()
	f.enter(a, "a", 0)
	f.read(a)
	f.enter(b, "b", 0)
	f.read(a)
	f.read(b)

	f.clock.Advance(30 * time.Second)
	f.send(b, multiplayer.Message{Type: multiplayer.TypeHeartbeat, SessionID: "b", FileID: fileID})
	f.ping(b, "b")

	f.clock.Advance(31 * time.Second)
	f.srv.Sweep()

	f.expectClosed(a)
	m := f.read(b)
	assert.Equal(t, multiplayer.TypeUsersInRoom, m.Type)
	assert.Equal(t, []string{"b"}, sessions(m.Users))
}

func TestDisconnect_UpdatesRoster(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect(), f.connect()
	f.enter(a, "a", 0)
	f.read(a)
	f.enter(b, "b", 0)
	f.read(a)
	f.read(b)

	a.Close()
	m := f.read(b)
	assert.Equal(t, []string{"b"}, sessions(m.Users))
}

func TestCheckpoint_WrittenEveryN(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CheckpointEvery = 2 })
	a := f.connect()
	f.enter(a, "a", 0)
	f.read(a)

	f.sendTx(a, "a", setCell("tx-1", 0, 0, "1"))
	f.sendTx(a, "a", setCell("tx-2", 0, 1, "2"))
	f.sendTx(a, "a", setCell("tx-3", 0, 2, "3"))
	for range 3 {
		f.read(a)
	}

	cp, err := f.store.LatestCheckpoint(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp.Seq)
}

func TestLeaveRoom_UnloadsAndReloads(t *testing.T) {
	f := newFixture(t)
	a := f.connect()
	f.enter(a, "a", 0)
	f.read(a)
	f.sendTx(a, "a", setCell("tx-1", 0, 0, "kept"))
	f.read(a)

	f.send(a, multiplayer.Message{Type: multiplayer.TypeLeaveRoom, SessionID: "a", FileID: fileID})
	assert.Eventually(t, func() bool { return f.srv.Stats().Rooms == 0 }, waitFor, 5*time.Millisecond)

	cp, err := f.store.LatestCheckpoint(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.Seq)

	f.enter(a, "a", 0)
	m := f.read(a)
	assert.Equal(t, "tx-1", m.ID)
	assert.Equal(t, multiplayer.TypeUsersInRoom, f.read(a).Type)
	assert.Eventually(t, func() bool { return f.srv.Stats().Rooms == 1 }, waitFor, 5*time.Millisecond)
}

func TestSessionMovesToNewConnection(t *testing.T) {
	f := newFixture(t)
	old := f.connect()
	f.enter(old, "a", 0)
	f.read(old)

	fresh := f.connect()
	f.enter(fresh, "a", 0)
	f.expectClosed(old)

	m := f.read(fresh)
	assert.Equal(t, []string{"a"}, sessions(m.Users))
}

func TestHandler_HealthAndWebSocket(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, err := multiplayer.WebSocketDialer{}.Dial(context.Background(), wsURL)
	require.NoError(t, err)
	defer conn.Close()

	data, err := multiplayer.Encode(multiplayer.Message{Type: multiplayer.TypeEnterRoom, SessionID: "ws", FileID: fileID})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(data))

	reply, err := conn.ReadMessage()
	require.NoError(t, err)
	m, err := multiplayer.Decode(reply)
	require.NoError(t, err)
	assert.Equal(t, []string{"ws"}, sessions(m.Users))
	assert.Eventually(t, func() bool { return f.srv.Stats().Sessions == 1 }, waitFor, 5*time.Millisecond)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health struct {
		Status   string `json:"status"`
		Rooms    int64  `json:"rooms"`
		Sessions int64  `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, int64(1), health.Rooms)
	assert.Equal(t, int64(1), health.Sessions)
}
