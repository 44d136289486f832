// Package task defines the virtual-client behavior contract and the HTTP
// scenario task bundled with the CLI.
//
// A Task is a prototype: it is registered once, then cloned for every virtual
// client hatched from it. Clones carry independent per-instance state; the
// prototype itself is never executed.
package task

import (
	"context"

	"github.com/swarmling/swarmling/internal/stats"
)

// Task is a user-supplied virtual-client behavior.
type Task interface {
	// Name identifies the task in spawn logs.
	Name() string
	// Weight is the relative spawn proportion. Non-negative.
	Weight() int
	// Clone returns a fresh instance whose state is independent of the
	// prototype.
	Clone() Task
	// Initialize is called once per clone before its first execution. The
	// recorder is the clone's channel for reporting request outcomes.
	Initialize(rec *stats.Recorder) error
	// Execute runs one iteration. Outcomes the body already recorded through
	// its recorder must not also surface as a returned error; a returned
	// error (or panic) is converted into a failure outcome by the caller.
	// Long-running bodies should honor ctx cancellation.
	Execute(ctx context.Context) error
	// Dispose releases per-clone resources on stop or shutdown.
	Dispose() error
}
