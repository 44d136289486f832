// Package stats maintains rolling per-endpoint request statistics and
// publishes a serializable snapshot on a fixed cadence.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Snapshot is the serializable flush payload. Keys: "stats" (per-endpoint
// entries), "stats_total" (the same shape aggregated across endpoints) and
// "errors". The runner injects "user_count" before transmission.
type Snapshot map[string]interface{}

// ErrorRecord counts occurrences of one (method, name, error) triple.
type ErrorRecord struct {
	Count  int64
	Method string
	Name   string
	Error  string
}

// Config configures an Aggregator.
type Config struct {
	// Interval is the flush cadence. Must be positive.
	Interval time.Duration
	// OnData receives each flush snapshot. May be nil.
	OnData func(Snapshot)
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Aggregator accumulates request outcomes and flushes snapshots on a timer.
// Report methods are safe for concurrent use.
type Aggregator struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	total   *Entry
	errors  map[string]*ErrorRecord

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates an Aggregator. The flush ticker does not run until Start.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("stats: interval must be positive, got %v", cfg.Interval)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		cfg:     cfg,
		log:     log.Named("stats"),
		entries: make(map[string]*Entry),
		total:   newEntry("", "Total"),
		errors:  make(map[string]*ErrorRecord),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the flush ticker. Subsequent calls are no-ops.
func (a *Aggregator) Start() {
	a.startOnce.Do(func() {
		a.started.Store(true)
		go a.run()
	})
}

// Stop halts the flush ticker. Idempotent, and safe before Start.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
		if a.started.Load() {
			<-a.done
		}
	})
}

func (a *Aggregator) run() {
	defer close(a.done)
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

// ReportSuccess records one successful request.
func (a *Aggregator) ReportSuccess(method, name string, responseTime, contentLength int64) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entry(method, name).log(responseTime, contentLength, now)
	a.total.log(responseTime, contentLength, now)
}

// ReportFailure records one failed request.
func (a *Aggregator) ReportFailure(method, name string, responseTime int64, errMsg string) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.entry(method, name)
	e.log(responseTime, 0, now)
	e.logFailure()
	a.total.log(responseTime, 0, now)
	a.total.logFailure()

	key := method + "|" + name + "|" + errMsg
	rec, ok := a.errors[key]
	if !ok {
		rec = &ErrorRecord{Method: method, Name: name, Error: errMsg}
		a.errors[key] = rec
	}
	rec.Count++
}

// ClearAll resets every entry, the total and the error map.
func (a *Aggregator) ClearAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[string]*Entry)
	a.total = newEntry("", "Total")
	a.errors = make(map[string]*ErrorRecord)
}

// Recorder returns the handle handed to task bodies at Initialize time.
func (a *Aggregator) Recorder() *Recorder {
	return &Recorder{a: a}
}

// entry returns the bucket for (method, name), creating it on first use.
// Caller holds a.mu.
func (a *Aggregator) entry(method, name string) *Entry {
	key := method + "|" + name
	e, ok := a.entries[key]
	if !ok {
		e = newEntry(method, name)
		a.entries[key] = e
	}
	return e
}

func (a *Aggregator) flush() {
	snap := a.Collect()
	if a.cfg.OnData != nil {
		a.cfg.OnData(snap)
	}
}

// Collect builds a snapshot immediately and resets the interval counters.
// The flush ticker calls it on every tick; tests may call it directly.
func (a *Aggregator) Collect() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := make([]map[string]interface{}, 0, len(a.entries))
	for _, e := range a.entries {
		entries = append(entries, e.serialize())
		if e.NumRequests > 0 && a.log.Core().Enabled(zap.DebugLevel) {
			a.log.Debug("endpoint flush",
				zap.String("method", e.Method),
				zap.String("name", e.Name),
				zap.Int64("requests", e.NumRequests),
				zap.Float64("mean_ms", e.mean()),
				zap.Float64("stddev_ms", e.stddev()),
				zap.Int64("p95_ms", e.hist.ValueAtQuantile(95)),
				zap.Int64("p99_ms", e.hist.ValueAtQuantile(99)),
			)
		}
		e.resetInterval()
	}

	errors := make(map[string]map[string]interface{}, len(a.errors))
	for key, rec := range a.errors {
		errors[key] = map[string]interface{}{
			"count":  rec.Count,
			"method": rec.Method,
			"name":   rec.Name,
			"error":  rec.Error,
		}
	}

	snap := Snapshot{
		"stats":       entries,
		"stats_total": a.total.serialize(),
		"errors":      errors,
	}
	a.total.resetInterval()
	return snap
}

// Recorder is the outcome-reporting capability passed to virtual clients.
type Recorder struct {
	a *Aggregator
}

// RecordSuccess reports a successful request. requestType is the endpoint
// method (GET, POST or whatever), responseTime is in milliseconds.
func (r *Recorder) RecordSuccess(requestType, name string, responseTime, contentLength int64) {
	r.a.ReportSuccess(requestType, name, responseTime, contentLength)
}

// RecordFailure reports a failed request.
func (r *Recorder) RecordFailure(requestType, name string, responseTime int64, errMsg string) {
	r.a.ReportFailure(requestType, name, responseTime, errMsg)
}
