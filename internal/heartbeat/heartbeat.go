// Package heartbeat emits periodic liveness frames to the master.
package heartbeat

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config configures a Ticker.
type Config struct {
	// Interval between beats. Must be positive.
	Interval time.Duration
	// Send emits one heartbeat frame. Errors are logged and ticking continues.
	Send func() error
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Ticker sends a heartbeat frame on a fixed cadence. Start begins ticking on
// the first call only, so readiness re-announcements after a reconnect do not
// spawn a second ticker. Stop is idempotent.
type Ticker struct {
	cfg Config
	log *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// New creates a Ticker.
func New(cfg Config) (*Ticker, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("heartbeat: interval must be positive, got %v", cfg.Interval)
	}
	if cfg.Send == nil {
		return nil, fmt.Errorf("heartbeat: send function is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Ticker{
		cfg:  cfg,
		log:  log.Named("heartbeat"),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// Start launches the beat loop. Only the first call has any effect.
func (t *Ticker) Start() {
	t.startOnce.Do(func() {
		t.started.Store(true)
		go t.run()
	})
}

// Stop halts the beat loop. Idempotent, and safe before Start.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
		if t.started.Load() {
			<-t.done
		}
	})
}

func (t *Ticker) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if err := t.cfg.Send(); err != nil {
				t.log.Warn("heartbeat send failed", zap.Error(err))
			}
		}
	}
}
