// Package room implements the room server: the authoritative side of the
// multiplayer protocol.
//
// One hub goroutine owns every room. Connections are served by a reader
// goroutine that decodes messages and posts them to the hub, and a writer
// goroutine that drains the connection's send buffer. The hub never blocks
// on a connection: a peer whose send buffer is full is dropped.
//
// Each room holds the file's grid, rebuilt from the transaction log when
// the first session enters. Transactions are assigned the next sequence
// number of the file, appended to the log, applied to the room's grid and
// echoed to every session in the room, sender included. The echo is the
// sender's acknowledgement.
//
//	EnterRoom ──► catch-up transactions (seq > sequence_num) ──► UsersInRoom to all
//	Transaction ──► append ──► apply ──► Transaction to all
//	UserUpdate ──► merge ──► UserUpdate to the others
//
// Sessions whose last message is older than the heartbeat timeout are
// removed by a periodic sweep.
package room
