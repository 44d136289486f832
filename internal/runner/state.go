package runner

// State is the worker lifecycle state.
type State int32

const (
	// StateIdle means no prototypes are registered yet.
	StateIdle State = iota
	// StateReady means the worker can accept a hatch frame.
	StateReady
	// StateHatching means virtual clients are being spawned.
	StateHatching
	// StateRunning means the spawn completed and clients are executing.
	StateRunning
	// StateStopped means the pool is quiesced.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateHatching:
		return "hatching"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
