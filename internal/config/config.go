package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"companiond/internal/protocol"
)

// Config is the top-level YAML configuration for the companiond daemon.
//
// The config file is the primary configuration surface; flags exist for
// small overrides and for environments where a file is awkward. Defaults
// and validation are centralized here so the rest of the code can assume a
// well-formed config.
type Config struct {
	// Device link configuration
	Link LinkConfig `yaml:"link"`

	// Command dispatch tuning
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Observer server configuration
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type LinkConfig struct {
	// Transport selects the link adapter: "stream" or "ws".
	Transport string `yaml:"transport"`

	// Target is the peer address. For stream: "tcp://host:port",
	// "unix:///path", or a bare "host:port". For ws: a ws:// or wss:// URL.
	Target string `yaml:"target"`

	// MaxPayloadBytes caps a single link message; larger frames are split
	// into chunks. Only meaningful for the ws transport.
	MaxPayloadBytes int `yaml:"max_payload_bytes"`

	// HandshakeTimeoutMS bounds the ws dial handshake.
	HandshakeTimeoutMS int `yaml:"handshake_timeout_ms"`

	// RecvBuf is the inbound frame queue size per connection.
	RecvBuf int `yaml:"recv_buf,omitempty"`
}

type DispatchConfig struct {
	// GraceMS is how long a command waits once for a media source to bind
	// before being dropped.
	GraceMS int `yaml:"grace_ms"`

	// SettleMS is the delay between a side effect and the follow-up state
	// publish.
	SettleMS int `yaml:"settle_ms"`

	// QueueSize is the inbound command FIFO capacity.
	QueueSize int `yaml:"queue_size"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`

	// SendBuf is the per-observer outbound queue size.
	SendBuf int `yaml:"send_buf,omitempty"`

	// BroadcastBuf is the observer hub inbound queue size.
	BroadcastBuf int `yaml:"broadcast_buf,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Link: LinkConfig{
			Transport:          "stream",
			Target:             "tcp://127.0.0.1:8765",
			MaxPayloadBytes:    protocol.DefaultMaxPayload,
			HandshakeTimeoutMS: 2000,
			RecvBuf:            64,
		},
		Dispatch: DispatchConfig{
			GraceMS:   200,
			SettleMS:  100,
			QueueSize: 64,
		},
		Server: ServerConfig{
			Enabled:      true,
			Listen:       "127.0.0.1:3002",
			SendBuf:      32,
			BroadcastBuf: 128,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
//   - The parsed document is layered on top of DefaultConfig, so partial
//     files are fine.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags should pass pointers; each override is only applied if the pointer
// is non-nil, so a config file stays the primary source while flags handle
// ad-hoc debugging and systemd overrides.
type FlagOverrides struct {
	LinkTransport *string
	LinkTarget    *string
	MaxPayload    *int

	ServerEnabled *bool
	ServerListen  *string

	LogLevel *string
}

// Apply merges the overrides into cfg. Nil pointers are ignored; non-nil
// values are applied even when they are zero values.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LinkTransport != nil {
		cfg.Link.Transport = *o.LinkTransport
	}
	if o.LinkTarget != nil {
		cfg.Link.Target = *o.LinkTarget
	}
	if o.MaxPayload != nil {
		cfg.Link.MaxPayloadBytes = *o.MaxPayload
	}

	if o.ServerEnabled != nil {
		cfg.Server.Enabled = *o.ServerEnabled
	}
	if o.ServerListen != nil {
		cfg.Server.Listen = *o.ServerListen
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call this after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Link
	switch c.Link.Transport {
	case "stream", "ws":
	default:
		return fmt.Errorf("link.transport must be %q or %q", "stream", "ws")
	}
	if c.Link.Target == "" {
		return errors.New("link.target must not be empty")
	}
	if c.Link.MaxPayloadBytes <= protocol.ChunkHeaderSize {
		return fmt.Errorf("link.max_payload_bytes must be > %d", protocol.ChunkHeaderSize)
	}
	if c.Link.HandshakeTimeoutMS <= 0 {
		return errors.New("link.handshake_timeout_ms must be > 0")
	}
	if c.Link.RecvBuf < 0 {
		return errors.New("link.recv_buf must be >= 0")
	}

	// Dispatch
	if c.Dispatch.GraceMS < 0 {
		return errors.New("dispatch.grace_ms must be >= 0")
	}
	if c.Dispatch.SettleMS < 0 {
		return errors.New("dispatch.settle_ms must be >= 0")
	}
	if c.Dispatch.QueueSize <= 0 {
		return errors.New("dispatch.queue_size must be > 0")
	}

	// Server
	if c.Server.Enabled && c.Server.Listen == "" {
		return errors.New("server.enabled is true but server.listen is empty")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
