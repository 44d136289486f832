// Package config holds the worker's configuration surface and its loader.
package config

import (
	"fmt"
	"time"
)

// Config is the fully resolved worker configuration.
type Config struct {
	MasterHost   string `mapstructure:"master_host"`
	MasterPort   int    `mapstructure:"master_port"`
	BufferSize   int    `mapstructure:"buffer_size"`
	Threads      int    `mapstructure:"threads"`
	StatInterval int    `mapstructure:"stat_interval"` // milliseconds
	RandomSeed   int64  `mapstructure:"random_seed"`
	MaxRPS       int    `mapstructure:"max_rps"`
	Scenario     string `mapstructure:"scenario"`
	Verbose      bool   `mapstructure:"verbose"`
	ConfigFile   string `mapstructure:"-"`
}

// Defaults mirrored by the flag definitions in loader.go.
const (
	DefaultMasterHost   = "127.0.0.1"
	DefaultMasterPort   = 5557
	DefaultBufferSize   = 32768
	DefaultThreads      = 8
	DefaultStatInterval = 2000
	DefaultMaxRPS       = 0
)

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.MasterHost == "" {
		return fmt.Errorf("config: master host is required")
	}
	if c.MasterPort <= 0 || c.MasterPort > 65535 {
		return fmt.Errorf("config: master port %d out of range", c.MasterPort)
	}
	if !isPowerOfTwo(c.BufferSize) {
		return fmt.Errorf("config: buffer size must be a power of 2, got %d", c.BufferSize)
	}
	if c.Threads <= 0 {
		return fmt.Errorf("config: threads must be positive, got %d", c.Threads)
	}
	if c.StatInterval <= 0 {
		return fmt.Errorf("config: stat interval must be positive, got %d", c.StatInterval)
	}
	if c.MaxRPS < 0 {
		return fmt.Errorf("config: max rps must be non-negative, got %d", c.MaxRPS)
	}
	return nil
}

// StatIntervalDuration returns the flush cadence as a duration.
func (c *Config) StatIntervalDuration() time.Duration {
	return time.Duration(c.StatInterval) * time.Millisecond
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
