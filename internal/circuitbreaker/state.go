package circuitbreaker

type State int

const (
	// StateClosed - dependency is healthy, calls go through
	StateClosed State = iota

	// StateOpen - dependency failed recently, calls are refused until the timeout elapses
	StateOpen

	// StateHalfOpen - a single trial call decides whether to close again
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
