// Package scheduler runs virtual clients with fixed parallelism over a
// bounded work queue, optionally capped by a global RPS gate.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarmling/swarmling/internal/ratelimit"
	"github.com/swarmling/swarmling/internal/stats"
	"github.com/swarmling/swarmling/internal/task"
)

// ErrStopped is returned by Submit after the scheduler has been stopped.
var ErrStopped = errors.New("scheduler: stopped")

// failureType labels outcomes the scheduler synthesizes from returned errors
// and panics, as opposed to outcomes the task body recorded itself.
const failureType = "task"

// Options configures a Scheduler.
type Options struct {
	// Parallelism is the worker count. Must be positive.
	Parallelism int
	// BufferSize is the work-queue capacity. Must be positive; the
	// power-of-two constraint is enforced by the worker's config validation.
	BufferSize int
	// MaxRPS caps total executions per second across all workers. 0 disables.
	MaxRPS int
	// Stats receives failure outcomes synthesized at the worker boundary.
	Stats *stats.Aggregator
	// DrainTimeout bounds how long Stop waits for in-flight executions.
	// Defaults to 5s.
	DrainTimeout time.Duration
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Scheduler owns a fixed pool of workers consuming from a bounded queue.
// Each submitted virtual client executes, then re-submits itself, producing
// an infinite execution loop that ends when the scheduler is stopped.
type Scheduler struct {
	opts Options
	log  *zap.Logger

	queue  chan task.Task
	gate   *ratelimit.Bucket
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	crons   []task.Task
}

// New creates and starts a scheduler with Parallelism idle workers.
func New(opts Options) (*Scheduler, error) {
	if opts.Parallelism <= 0 {
		return nil, fmt.Errorf("scheduler: parallelism must be positive, got %d", opts.Parallelism)
	}
	if opts.BufferSize <= 0 {
		return nil, fmt.Errorf("scheduler: buffer size must be positive, got %d", opts.BufferSize)
	}
	if opts.MaxRPS < 0 {
		return nil, fmt.Errorf("scheduler: max rps must be non-negative, got %d", opts.MaxRPS)
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		opts:   opts,
		log:    log.Named("scheduler"),
		queue:  make(chan task.Task, opts.BufferSize),
		gate:   ratelimit.NewBucket(float64(opts.MaxRPS)),
		ctx:    ctx,
		cancel: cancel,
	}

	s.wg.Add(opts.Parallelism)
	for i := 0; i < opts.Parallelism; i++ {
		go s.worker()
	}
	return s, nil
}

// Submit queues one execution of the given virtual client. Blocks while the
// queue is full; returns ErrStopped after Stop. The scheduler takes ownership
// of the cron and disposes it when stopped.
func (s *Scheduler) Submit(cron task.Task) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.crons = append(s.crons, cron)
	s.mu.Unlock()

	select {
	case s.queue <- cron:
		return nil
	case <-s.ctx.Done():
		return ErrStopped
	}
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop ceases re-submission, cancels the execution context and waits up to
// DrainTimeout for workers to finish, then disposes every live cron.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	crons := s.crons
	s.crons = nil
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.opts.DrainTimeout):
		s.log.Warn("drain timeout exceeded, proceeding with dispose",
			zap.Duration("timeout", s.opts.DrainTimeout))
	}

	for _, cron := range crons {
		if err := cron.Dispose(); err != nil {
			s.log.Warn("cron dispose failed", zap.String("name", cron.Name()), zap.Error(err))
		}
	}
	s.log.Info("stopped", zap.Int("crons", len(crons)))
}

// Dispose releases pool resources. Idempotent.
func (s *Scheduler) Dispose() {
	s.Stop()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case cron := <-s.queue:
			s.runOnce(cron)
			if s.ctx.Err() != nil {
				return
			}
			// Completion-driven re-submission. Blocks when the queue is
			// full, applying backpressure to this worker.
			select {
			case s.queue <- cron:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Scheduler) runOnce(cron task.Task) {
	if err := s.gate.Acquire(s.ctx); err != nil {
		return
	}

	start := time.Now()
	err := s.execute(cron)
	if err == nil {
		return
	}
	if s.opts.Stats != nil {
		s.opts.Stats.ReportFailure(failureType, cron.Name(),
			time.Since(start).Milliseconds(), err.Error())
	}
	s.log.Debug("task execution failed", zap.String("name", cron.Name()), zap.Error(err))
}

// execute invokes the cron body, converting panics into errors so one
// misbehaving task cannot take down a worker.
func (s *Scheduler) execute(cron task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cron.Execute(s.ctx)
}
