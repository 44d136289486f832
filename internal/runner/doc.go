// Package runner owns the worker lifecycle: it registers task prototypes,
// reacts to coordinator control frames, hatches virtual clients at the
// prescribed rate and streams aggregated statistics back to the master.
//
// # States
//
// A Worker moves along a fixed set of edges:
//
//	IDLE -> READY        Register stores the prototypes
//	READY -> HATCHING    an accepted hatch frame
//	HATCHING -> RUNNING  the spawn loop finishes
//	HATCHING -> STOPPED  a stop frame (spawn aborts at the next pacing token)
//	RUNNING -> STOPPED   a stop frame
//	STOPPED -> HATCHING  the master restarts the swarm
//
// A hatch frame arriving in HATCHING or RUNNING is an illegal transition: the
// worker disposes and exits non-zero. A quit frame exits zero at any time.
//
// # Usage
//
//	w, err := runner.New(runner.Options{MasterHost: "127.0.0.1", MasterPort: 5557})
//	if err != nil {
//		...
//	}
//	w.Register(tasks...)
//	err = w.Run(ctx) // blocks until ctx is cancelled, then disposes
//
// Task bodies report outcomes through the *stats.Recorder they receive at
// Initialize time; there is no process-wide singleton.
package runner
