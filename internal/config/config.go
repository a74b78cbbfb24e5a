// Package config loads gridsync configuration files.
//
// A file is YAML. It is validated against an embedded CUE schema before it
// is decoded, so that typos and out-of-range values are reported with the
// offending path. Omitted settings keep their defaults.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/gridsync/internal/multiplayer"
	"github.com/roach88/gridsync/internal/room"
)

//go:embed schema.cue
var schemaCUE string

// Duration is a time.Duration written as a string such as "15s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is a whole configuration file.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig configures `gridsync serve`.
type ServerConfig struct {
	Addr             string   `yaml:"addr"`
	DB               string   `yaml:"db"`
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`
	SweepInterval    Duration `yaml:"sweep_interval"`
	CheckpointEvery  int      `yaml:"checkpoint_every"`
}

// ClientConfig configures multiplayer clients.
type ClientConfig struct {
	URL               string   `yaml:"url"`
	UpdateInterval    Duration `yaml:"update_interval"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	ReconnectDelay    Duration `yaml:"reconnect_delay"`
	RosterMissLimit   int      `yaml:"roster_miss_limit"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:             ":8080",
			DB:               "gridsync.db",
			HeartbeatTimeout: Duration(60 * time.Second),
			SweepInterval:    Duration(10 * time.Second),
			CheckpointEvery:  50,
		},
		Client: ClientConfig{
			URL:               "ws://localhost:8080/ws",
			UpdateInterval:    Duration(33 * time.Millisecond),
			HeartbeatInterval: Duration(15 * time.Second),
			ReconnectDelay:    Duration(5 * time.Second),
			RosterMissLimit:   2,
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data and decodes it over the defaults.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// validate unifies raw with the #Config schema.
func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	if raw == nil {
		raw = map[string]any{}
	}
	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Room returns the room server settings.
func (c Config) Room() room.Config {
	rc := room.DefaultConfig()
	rc.HeartbeatTimeout = time.Duration(c.Server.HeartbeatTimeout)
	rc.SweepInterval = time.Duration(c.Server.SweepInterval)
	rc.CheckpointEvery = c.Server.CheckpointEvery
	return rc
}

// Multiplayer returns the client settings.
func (c Config) Multiplayer() multiplayer.Config {
	mc := multiplayer.DefaultConfig()
	mc.URL = c.Client.URL
	mc.UpdateInterval = time.Duration(c.Client.UpdateInterval)
	mc.HeartbeatInterval = time.Duration(c.Client.HeartbeatInterval)
	mc.ReconnectDelay = time.Duration(c.Client.ReconnectDelay)
	mc.RosterMissLimit = c.Client.RosterMissLimit
	return mc
}
