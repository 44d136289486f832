package runner

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/swarmling/swarmling/internal/config"
	"github.com/swarmling/swarmling/internal/message"
	"github.com/swarmling/swarmling/internal/transport"
)

// Transport is the worker's view of the master link.
type Transport interface {
	Initialize() error
	Send(*message.Message) error
	Dispose() error
}

// Options configures a Worker. Zero values fall back to the documented
// configuration defaults.
type Options struct {
	MasterHost string
	MasterPort int
	// BufferSize is the scheduler queue capacity. Must be a power of two.
	BufferSize int
	// Threads is the scheduler parallelism.
	Threads int
	// StatInterval is the stats flush cadence.
	StatInterval time.Duration
	// RandomSeed makes the node-id suffix deterministic; 0 randomizes it.
	RandomSeed int64
	// MaxRPS caps total executions per second. 0 disables the cap.
	MaxRPS int
	// HeartbeatInterval defaults to 1s.
	HeartbeatInterval time.Duration
	// Logger defaults to a nop logger.
	Logger *zap.Logger

	// NewTransport overrides the master link construction; tests inject a
	// fake here. Defaults to the ZeroMQ link.
	NewTransport func(transport.Config) Transport
	// Exit overrides process termination; defaults to os.Exit.
	Exit func(code int)
}

func (o *Options) normalize() error {
	if o.MasterHost == "" {
		o.MasterHost = config.DefaultMasterHost
	}
	if o.MasterPort == 0 {
		o.MasterPort = config.DefaultMasterPort
	}
	if o.BufferSize == 0 {
		o.BufferSize = config.DefaultBufferSize
	}
	if o.Threads == 0 {
		o.Threads = config.DefaultThreads
	}
	if o.StatInterval == 0 {
		o.StatInterval = time.Duration(config.DefaultStatInterval) * time.Millisecond
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Exit == nil {
		o.Exit = os.Exit
	}
	if o.NewTransport == nil {
		o.NewTransport = func(cfg transport.Config) Transport {
			return transport.New(cfg)
		}
	}

	if o.BufferSize&(o.BufferSize-1) != 0 || o.BufferSize <= 0 {
		return fmt.Errorf("runner: buffer size must be a power of 2, got %d", o.BufferSize)
	}
	if o.Threads <= 0 {
		return fmt.Errorf("runner: threads must be positive, got %d", o.Threads)
	}
	if o.StatInterval <= 0 {
		return fmt.Errorf("runner: stat interval must be positive, got %v", o.StatInterval)
	}
	if o.MaxRPS < 0 {
		return fmt.Errorf("runner: max rps must be non-negative, got %d", o.MaxRPS)
	}
	return nil
}
