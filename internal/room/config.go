package room

import "time"

// Config tunes a Server.
type Config struct {
	// HeartbeatTimeout removes a session that has been silent this long.
	HeartbeatTimeout time.Duration

	// SweepInterval is the period of the stale-session sweep.
	SweepInterval time.Duration

	// CheckpointEvery writes a snapshot after this many transactions in a
	// room. Zero disables checkpoints.
	CheckpointEvery int

	// SendBuffer is the number of outbound batches queued per connection
	// before the connection is dropped. A catch-up backlog counts as one.
	SendBuffer int
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 60 * time.Second,
		SweepInterval:    10 * time.Second,
		CheckpointEvery:  50,
		SendBuffer:       256,
	}
}
