package session

// State is the lifecycle state of the emulator session.
type State int

const (
	StateIdle    State = iota // No session; Start is allowed
	StateLoading              // Load in flight; progress is advancing
	StateRunning              // Session is up
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}
