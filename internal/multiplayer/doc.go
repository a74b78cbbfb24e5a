// Package multiplayer keeps one client's grid in sync with a shared room.
//
// A Client owns the connection to the room server. It announces the local
// user, batches presence changes (pointer, selection, active sheet,
// in-progress cell edit) into at most one UserUpdate per tick, sends
// heartbeats while idle and reconciles the room roster into Players.
//
// Transactions authored locally reach the Client through
// engine.Broadcaster. They are queued in an outbox until the server echoes
// them back with a sequence number, so edits made while offline are sent
// once the connection returns. Transactions authored by other sessions are
// handed to the engine, which applies them outside the local undo history.
//
// # Connection lifecycle
//
//	NotConnected -> Connecting -> Connected
//	                    ^             |
//	                    |             v  unexpected close or error
//	                    +---- WaitingToReconnect
//
// Disconnect never triggers a reconnect. Every transition bumps a
// generation counter; readers and timers belonging to an older generation
// exit without touching state.
package multiplayer
