// Package config loads and validates the central's runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config is the top-level runtime configuration.
type Config struct {
	Peripherals PeripheralsConfig `yaml:"peripherals"`
	Queues      QueuesConfig      `yaml:"queues"`
	Features    FeaturesConfig    `yaml:"features"`
	Conn        ConnConfig        `yaml:"connection"`
	Redis       RedisConfig       `yaml:"redis"`
}

// PeripheralsConfig sizes the slot table and seeds identity bindings.
type PeripheralsConfig struct {
	// Count is the number of peripheral slots (split halves minus the central).
	Count int `yaml:"count" default:"1"`
	// Addresses optionally pins known peripheral addresses to slot indices.
	Addresses []string `yaml:"addresses"`
}

// QueuesConfig sizes the bounded event and command queues.
type QueuesConfig struct {
	Position int `yaml:"position" default:"32"`
	Sensor   int `yaml:"sensor" default:"16"`
	Battery  int `yaml:"battery" default:"4"`
	Command  int `yaml:"command" default:"5"`
	// EnqueueTimeout bounds how long an outbound enqueue may wait before the
	// drop-oldest retry kicks in.
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout" default:"100ms"`
}

// FeaturesConfig toggles optional peripheral capabilities. Each flag gates
// both the discovery completeness predicate and the corresponding decoder.
type FeaturesConfig struct {
	Sensors    bool `yaml:"sensors"`
	Indicators bool `yaml:"indicators"`
	Battery    bool `yaml:"battery" default:"true"`
}

// ConnConfig carries link preferences and the outbound write security gate.
type ConnConfig struct {
	// MinSecurity is the minimum link security level required for layout and
	// indicator writes. Level 2 means encrypted.
	MinSecurity int `yaml:"min_security" default:"2"`
	// AssumeSecurity is the level the go-ble adapter reports, since go-ble
	// does not surface the negotiated level and pairing is handled outside
	// this service.
	AssumeSecurity int `yaml:"assume_security" default:"2"`

	// Preferred connection parameters, applied when a link is established or
	// the central becomes active.
	Interval time.Duration `yaml:"interval" default:"30ms"`
	Latency  int           `yaml:"latency" default:"0"`
	Timeout  time.Duration `yaml:"timeout" default:"4s"`

	// Idle parameters, applied when the central goes idle.
	IdleInterval time.Duration `yaml:"idle_interval" default:"120ms"`
	IdleLatency  int           `yaml:"idle_latency" default:"4"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" default:"4s"`
}

// RedisConfig configures the optional Redis event sink. Disabled when Addr is
// empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" default:"0"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file, applies defaults to unset fields and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the central cannot run with.
func (c *Config) Validate() error {
	if c.Peripherals.Count < 1 {
		return fmt.Errorf("peripherals.count must be >= 1, got %d", c.Peripherals.Count)
	}
	if len(c.Peripherals.Addresses) > c.Peripherals.Count {
		return fmt.Errorf("peripherals.addresses lists %d entries for %d slots",
			len(c.Peripherals.Addresses), c.Peripherals.Count)
	}
	for name, size := range map[string]int{
		"queues.position": c.Queues.Position,
		"queues.sensor":   c.Queues.Sensor,
		"queues.battery":  c.Queues.Battery,
		"queues.command":  c.Queues.Command,
	} {
		if size < 1 {
			return fmt.Errorf("%s must be >= 1, got %d", name, size)
		}
	}
	if c.Queues.EnqueueTimeout < 0 {
		return fmt.Errorf("queues.enqueue_timeout must not be negative")
	}
	if c.Conn.MinSecurity < 1 || c.Conn.MinSecurity > 4 {
		return fmt.Errorf("connection.min_security must be within 1..4, got %d", c.Conn.MinSecurity)
	}
	if c.Conn.AssumeSecurity < 1 || c.Conn.AssumeSecurity > 4 {
		return fmt.Errorf("connection.assume_security must be within 1..4, got %d", c.Conn.AssumeSecurity)
	}
	if c.Conn.Interval <= 0 || c.Conn.IdleInterval <= 0 {
		return fmt.Errorf("connection intervals must be positive")
	}
	return nil
}
