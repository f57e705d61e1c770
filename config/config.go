// Package config holds the tuning parameters of the streaming engine.
//
// The smoothing weights, timeout bounds and window depths here are product
// tuning knobs, not protocol constants; they can be loaded from a YAML file
// or left at their defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full tuning surface of the streaming engine.
type Config struct {
	Handshake struct {
		Timeout     time.Duration `yaml:"timeout"`
		Retries     int           `yaml:"retries"`
		BackoffBase time.Duration `yaml:"backoff_base"`
	} `yaml:"handshake"`

	Control struct {
		RetransmitTimeout time.Duration `yaml:"retransmit_timeout"`
		MaxRetransmits    int           `yaml:"max_retransmits"`
		AckDelay          time.Duration `yaml:"ack_delay"`
	} `yaml:"control"`

	Data struct {
		MaxFragmentSize   int           `yaml:"max_fragment_size"`
		ReassemblyTimeout time.Duration `yaml:"reassembly_timeout"`
	} `yaml:"data"`

	Jitter struct {
		VideoTargetDepth int           `yaml:"video_target_depth"`
		AudioTargetDepth int           `yaml:"audio_target_depth"`
		MaxWait          time.Duration `yaml:"max_wait"`
		DrainInterval    time.Duration `yaml:"drain_interval"`
	} `yaml:"jitter"`

	Clock struct {
		ProbeInterval   time.Duration `yaml:"probe_interval"`
		SmoothingWeight float64       `yaml:"smoothing_weight"`
		MaxStep         time.Duration `yaml:"max_step"`
		MaxRoundTrip    time.Duration `yaml:"max_round_trip"`
	} `yaml:"clock"`

	Session struct {
		KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
		HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
		DrainTimeout      time.Duration `yaml:"drain_timeout"`
	} `yaml:"session"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Default returns the built-in tuning values.
func Default() *Config {
	cfg := &Config{}

	cfg.Handshake.Timeout = 2 * time.Second
	cfg.Handshake.Retries = 3
	cfg.Handshake.BackoffBase = 500 * time.Millisecond

	cfg.Control.RetransmitTimeout = 200 * time.Millisecond
	cfg.Control.MaxRetransmits = 8
	cfg.Control.AckDelay = 20 * time.Millisecond

	cfg.Data.MaxFragmentSize = 1300
	cfg.Data.ReassemblyTimeout = 100 * time.Millisecond

	cfg.Jitter.VideoTargetDepth = 4
	cfg.Jitter.AudioTargetDepth = 6
	cfg.Jitter.MaxWait = 50 * time.Millisecond
	cfg.Jitter.DrainInterval = 2 * time.Millisecond

	cfg.Clock.ProbeInterval = 500 * time.Millisecond
	cfg.Clock.SmoothingWeight = 0.1
	cfg.Clock.MaxStep = 10 * time.Millisecond
	cfg.Clock.MaxRoundTrip = 150 * time.Millisecond

	cfg.Session.KeepAliveInterval = 1 * time.Second
	cfg.Session.HeartbeatTimeout = 5 * time.Second
	cfg.Session.DrainTimeout = 1 * time.Second

	cfg.Logging.Level = "info"

	return cfg
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the engine cannot operate with.
func (c *Config) Validate() error {
	if c.Handshake.Timeout <= 0 {
		return fmt.Errorf("handshake timeout must be positive")
	}
	if c.Handshake.Retries < 0 {
		return fmt.Errorf("handshake retries cannot be negative")
	}
	if c.Control.RetransmitTimeout <= 0 {
		return fmt.Errorf("control retransmit timeout must be positive")
	}
	if c.Control.MaxRetransmits <= 0 {
		return fmt.Errorf("control max retransmits must be positive")
	}
	if c.Data.MaxFragmentSize <= 0 {
		return fmt.Errorf("max fragment size must be positive")
	}
	if c.Data.ReassemblyTimeout <= 0 {
		return fmt.Errorf("reassembly timeout must be positive")
	}
	if c.Jitter.VideoTargetDepth <= 0 || c.Jitter.AudioTargetDepth <= 0 {
		return fmt.Errorf("jitter target depth must be positive")
	}
	if c.Jitter.MaxWait <= 0 {
		return fmt.Errorf("jitter max wait must be positive")
	}
	if c.Clock.SmoothingWeight <= 0 || c.Clock.SmoothingWeight > 1 {
		return fmt.Errorf("clock smoothing weight must be in (0, 1]")
	}
	if c.Clock.MaxStep <= 0 {
		return fmt.Errorf("clock max step must be positive")
	}
	if c.Session.HeartbeatTimeout <= c.Session.KeepAliveInterval {
		return fmt.Errorf("heartbeat timeout must exceed keepalive interval")
	}
	return nil
}
