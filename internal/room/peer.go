package room

import (
	"log/slog"
	"sync/atomic"

	"github.com/roach88/gridsync/internal/multiplayer"
)

var peerIDs atomic.Uint64

// peer is one client connection. send is written by the hub and drained by
// writeLoop; the other fields are owned by the hub.
//
// Each entry of send is a batch of frames written back to back. A catch-up
// backlog is one batch, so it takes a single buffer slot however long it is.
type peer struct {
	id     uint64
	conn   multiplayer.Conn
	send   chan [][]byte
	closed bool

	fileID    string
	sessionID string
}

func newPeer(conn multiplayer.Conn, buffer int) *peer {
	return &peer{
		id:   peerIDs.Add(1),
		conn: conn,
		send: make(chan [][]byte, buffer),
	}
}

// enqueue queues frames as one batch without blocking. It reports false
// when the buffer is full.
func (p *peer) enqueue(frames ...[]byte) bool {
	if p.closed || len(frames) == 0 {
		return true
	}
	select {
	case p.send <- frames:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
}

func (p *peer) writeLoop() {
	failed := false
	for frames := range p.send {
		for _, data := range frames {
			if failed {
				break
			}
			if err := p.conn.WriteMessage(data); err != nil {
				slog.Debug("write failed", "peer", p.id, "error", err)
				failed = true
				p.conn.Close()
			}
		}
	}
	p.conn.Close()
}

// ServeConn serves one client connection until it closes or the server
// stops. It blocks; run it on the connection's goroutine.
func (s *Server) ServeConn(conn multiplayer.Conn) {
	p := newPeer(conn, s.cfg.SendBuffer)
	if !s.post(event{kind: evConnected, peer: p}) {
		conn.Close()
		return
	}
	go p.writeLoop()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.post(event{kind: evDisconnected, peer: p})
			return
		}
		m, err := multiplayer.Decode(data)
		if !s.post(event{kind: evMessage, peer: p, msg: m, err: err}) {
			return
		}
	}
}
