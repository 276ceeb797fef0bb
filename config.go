package smp

import "time"

// Config carries the environment/configuration knobs of §6.3 with their
// documented defaults. No transport and not the upgrade orchestrator read
// this struct: each takes its own Config type (serial.Config, ble.Config,
// udp.Config, upgrade.Config) and applies the same defaults there.
type Config struct {
	// ConnectTimeout bounds a transport's Connect call. Default 10s.
	ConnectTimeout time.Duration
	// UpgradeDeadline bounds the reconnect phase of a firmware upgrade.
	// Default 60s.
	UpgradeDeadline time.Duration
	// LineLength is the serial transport's on-wire chunk cap. Default 128.
	LineLength int
	// DefaultMTU is left zero by DefaultConfig. The transports do not read
	// it; their own defaults are MaxUnencodedSize 8192 (serial), 256 (BLE)
	// and 1472 (UDP).
	DefaultMTU int
}

// DefaultConfig returns the documented defaults of §6.3.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  10 * time.Second,
		UpgradeDeadline: 60 * time.Second,
		LineLength:      128,
	}
}

// ConfigOption mutates a Config built from DefaultConfig.
type ConfigOption func(*Config)

// NewConfig applies opts over DefaultConfig.
func NewConfig(opts ...ConfigOption) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithConnectTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.ConnectTimeout = d }
}

func WithUpgradeDeadline(d time.Duration) ConfigOption {
	return func(c *Config) { c.UpgradeDeadline = d }
}

func WithLineLength(n int) ConfigOption {
	return func(c *Config) { c.LineLength = n }
}

func WithDefaultMTU(n int) ConfigOption {
	return func(c *Config) { c.DefaultMTU = n }
}
