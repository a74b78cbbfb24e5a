// Package testutil provides deterministic stand-ins for time, identifiers
// and the network, shared by the multiplayer, room and harness tests.
package testutil
