package runner

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/swarmling/swarmling/internal/heartbeat"
	"github.com/swarmling/swarmling/internal/message"
	"github.com/swarmling/swarmling/internal/ratelimit"
	"github.com/swarmling/swarmling/internal/scheduler"
	"github.com/swarmling/swarmling/internal/stats"
	"github.com/swarmling/swarmling/internal/task"
	"github.com/swarmling/swarmling/internal/transport"
)

// Worker is the load-generation slave: exactly one per process.
type Worker struct {
	opts   Options
	log    *zap.Logger
	nodeID string

	state         atomic.Int32
	actualClients atomic.Int32

	tr   Transport
	aggr *stats.Aggregator
	hb   *heartbeat.Ticker
	exit func(int)

	mu         sync.Mutex
	started    bool
	prototypes []task.Task
	sched      *scheduler.Scheduler
	hatchStop  context.CancelFunc
}

// New assembles a Worker. The master link is not dialed until Run.
func New(opts Options) (*Worker, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	w := &Worker{
		opts:   opts,
		log:    opts.Logger.Named("runner"),
		nodeID: nodeID(opts.RandomSeed),
		exit:   opts.Exit,
	}
	w.state.Store(int32(StateIdle))

	aggr, err := stats.New(stats.Config{
		Interval: opts.StatInterval,
		OnData:   w.sendReport,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	w.aggr = aggr

	sched, err := scheduler.New(w.schedulerOptions())
	if err != nil {
		return nil, err
	}
	w.sched = sched

	hb, err := heartbeat.New(heartbeat.Config{
		Interval: opts.HeartbeatInterval,
		Send:     func() error { return w.tr.Send(message.New(message.TypeHeartbeat, nil, w.nodeID)) },
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	w.hb = hb

	w.tr = opts.NewTransport(transport.Config{
		MasterHost:  opts.MasterHost,
		MasterPort:  opts.MasterPort,
		NodeID:      w.nodeID,
		OnMessage:   w.onMessage,
		OnConnected: w.onReady,
		Logger:      opts.Logger,
	})
	return w, nil
}

func (w *Worker) schedulerOptions() scheduler.Options {
	return scheduler.Options{
		Parallelism: w.opts.Threads,
		BufferSize:  w.opts.BufferSize,
		MaxRPS:      w.opts.MaxRPS,
		Stats:       w.aggr,
		Logger:      w.opts.Logger,
	}
}

// NodeID returns the worker's identity on the master link.
func (w *Worker) NodeID() string { return w.nodeID }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// ActualClientCount returns the number of virtual clients spawned in the
// current hatching epoch.
func (w *Worker) ActualClientCount() int { return int(w.actualClients.Load()) }

// Recorder returns the outcome-reporting handle. Library users driving their
// own task bodies obtain it here; the spawn loop passes it to every clone.
func (w *Worker) Recorder() *stats.Recorder { return w.aggr.Recorder() }

// RecordSuccess reports a successful request outcome.
func (w *Worker) RecordSuccess(requestType, name string, responseTime, contentLength int64) {
	w.aggr.ReportSuccess(requestType, name, responseTime, contentLength)
}

// RecordFailure reports a failed request outcome.
func (w *Worker) RecordFailure(requestType, name string, responseTime int64, errMsg string) {
	w.aggr.ReportFailure(requestType, name, responseTime, errMsg)
}

// Register stores the task prototypes and moves the worker to READY. Only the
// first call has any effect; later calls are ignored.
func (w *Worker) Register(prototypes ...task.Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.prototypes = prototypes
	w.started = true
	w.state.Store(int32(StateReady))
	w.log.Info("registered prototypes", zap.Int("count", len(prototypes)))
}

// Run dials the master and blocks until ctx is cancelled, then disposes.
// A master unreachable at startup surfaces as an error; the caller exits
// non-zero.
func (w *Worker) Run(ctx context.Context) error {
	if w.State() == StateIdle {
		return fmt.Errorf("runner: no prototypes registered")
	}

	w.aggr.Start()
	if err := w.tr.Initialize(); err != nil {
		w.aggr.Stop()
		return err
	}

	<-ctx.Done()
	w.log.Warn("shutdown signal received")
	w.Dispose()
	return nil
}

// onReady runs on every transport connect, announcing readiness and starting
// the heartbeat. The heartbeat ticker itself only starts once; reconnects
// just re-announce.
func (w *Worker) onReady() {
	w.log.Info("ready", zap.String("node_id", w.nodeID))
	w.send(message.TypeClientReady, nil)
	w.hb.Start()
}

func (w *Worker) onMessage(m *message.Message) {
	switch m.Type {
	case message.TypeHatch:
		w.onHatch(m)
	case message.TypeStop:
		w.onStop()
	case message.TypeQuit:
		w.onQuit()
	default:
		w.log.Warn("ignoring unknown frame", zap.String("type", m.Type))
	}
}

func (w *Worker) onHatch(m *message.Message) {
	hatchRate, err := message.Float64Field(m.Data, "hatch_rate")
	if err != nil {
		w.log.Warn("ignoring malformed hatch frame", zap.Error(err))
		return
	}
	numClients, err := message.Int64Field(m.Data, "num_clients")
	if err != nil || numClients < 0 {
		w.log.Warn("ignoring malformed hatch frame", zap.Error(err), zap.Int64("num_clients", numClients))
		return
	}

	if !w.state.CompareAndSwap(int32(StateReady), int32(StateHatching)) &&
		!w.state.CompareAndSwap(int32(StateStopped), int32(StateHatching)) {
		w.log.Error("hatch received in invalid state, terminating",
			zap.Stringer("state", w.State()))
		w.Dispose()
		w.exit(1)
		return
	}

	epoch := newEpochID()
	w.log.Info("start hatching",
		zap.String("epoch", epoch),
		zap.Int64("num_clients", numClients),
		zap.Float64("hatch_rate", hatchRate))

	w.send(message.TypeHatching, nil)
	w.aggr.ClearAll()
	w.actualClients.Store(0)

	w.mu.Lock()
	if w.sched.Stopped() {
		sched, err := scheduler.New(w.schedulerOptions())
		if err != nil {
			// Options were validated at construction; a failure here means
			// the worker is unusable.
			w.mu.Unlock()
			w.log.Error("scheduler rebuild failed, terminating", zap.Error(err))
			w.Dispose()
			w.exit(1)
			return
		}
		w.sched = sched
	}
	sched := w.sched
	hatchCtx, hatchStop := context.WithCancel(context.Background())
	w.hatchStop = hatchStop
	prototypes := w.prototypes
	w.mu.Unlock()

	// The spawn loop blocks on pacing tokens and queue backpressure, so it
	// gets its own goroutine: control frames (stop in particular) must stay
	// deliverable mid-hatch. The state machine guarantees a single hatcher.
	go w.spawn(hatchCtx, sched, prototypes, epoch, int(numClients), hatchRate)
}

// spawn clones prototypes weighted by their share of the total weight and
// submits each clone through the hatch-rate gate.
func (w *Worker) spawn(ctx context.Context, sched *scheduler.Scheduler, prototypes []task.Task, epoch string, numClients int, hatchRate float64) {
	if len(prototypes) == 0 {
		w.log.Warn("no prototypes to spawn", zap.String("epoch", epoch))
		return
	}

	gate := ratelimit.NewBucket(hatchRate)
	recorder := w.aggr.Recorder()

	weightSum := 0
	for _, proto := range prototypes {
		weightSum += proto.Weight()
	}

	for _, proto := range prototypes {
		var amount int
		if weightSum == 0 {
			amount = numClients / len(prototypes)
		} else {
			share := float64(proto.Weight()) / float64(weightSum)
			amount = int(math.Round(float64(numClients) * share))
		}
		w.log.Info("spawning clones",
			zap.String("epoch", epoch),
			zap.String("prototype", proto.Name()),
			zap.Int("amount", amount))

		for i := 0; i < amount; i++ {
			if err := gate.Acquire(ctx); err != nil {
				return
			}
			if w.State() == StateStopped {
				return
			}

			clone := proto.Clone()
			if err := clone.Initialize(recorder); err != nil {
				w.log.Error("clone initialize failed",
					zap.String("prototype", proto.Name()), zap.Error(err))
				continue
			}
			if err := sched.Submit(clone); err != nil {
				return
			}
			w.actualClients.Add(1)
		}
	}

	// A stop may have landed between the last submission and here; in that
	// case client_stopped/client_ready already went out and hatch_complete
	// must not follow them.
	if !w.state.CompareAndSwap(int32(StateHatching), int32(StateRunning)) {
		return
	}
	w.send(message.TypeHatchComplete, map[string]interface{}{"count": numClients})
	w.log.Info("hatch complete",
		zap.String("epoch", epoch),
		zap.Int32("clients", w.actualClients.Load()))
}

func (w *Worker) onStop() {
	if !w.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) &&
		!w.state.CompareAndSwap(int32(StateHatching), int32(StateStopped)) {
		return
	}
	w.log.Info("stop received, quiescing workers")

	w.mu.Lock()
	if w.hatchStop != nil {
		w.hatchStop()
	}
	sched := w.sched
	w.mu.Unlock()

	sched.Stop()
	w.send(message.TypeClientStopped, nil)
	w.send(message.TypeClientReady, nil)
}

func (w *Worker) onQuit() {
	w.log.Info("quit received from master, shutting down")
	w.Dispose()
	w.exit(0)
}

// sendReport forwards a stats snapshot to the master. Snapshots produced
// outside HATCHING/RUNNING are dropped.
func (w *Worker) sendReport(snapshot stats.Snapshot) {
	s := w.State()
	if s != StateHatching && s != StateRunning {
		return
	}
	snapshot["user_count"] = w.actualClients.Load()
	w.send(message.TypeStats, map[string]interface{}(snapshot))
}

func (w *Worker) send(msgType string, data map[string]interface{}) {
	if err := w.tr.Send(message.New(msgType, data, w.nodeID)); err != nil {
		w.log.Warn("dropping outbound frame", zap.String("type", msgType), zap.Error(err))
	}
}

// Dispose tears the worker down: quit frame, prototypes, scheduler, then
// transport. A worker already in STOPPED returns immediately.
func (w *Worker) Dispose() {
	if State(w.state.Swap(int32(StateStopped))) == StateStopped {
		return
	}
	w.log.Warn("disposing")
	w.send(message.TypeQuit, nil)

	w.mu.Lock()
	if w.hatchStop != nil {
		w.hatchStop()
	}
	prototypes := w.prototypes
	sched := w.sched
	w.mu.Unlock()

	for _, proto := range prototypes {
		if err := proto.Dispose(); err != nil {
			w.log.Warn("prototype dispose failed",
				zap.String("prototype", proto.Name()), zap.Error(err))
		}
	}
	sched.Dispose()
	w.hb.Stop()
	if err := w.tr.Dispose(); err != nil {
		w.log.Warn("transport dispose failed", zap.Error(err))
	}
	w.aggr.Stop()
	w.log.Info("bye")
}
