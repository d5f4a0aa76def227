package breaker

import "time"

// State is the position of a breaker in its state machine.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls rejected until the recovery timeout elapses
	StateHalfOpen              // a single probe is testing the dependency
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON diagnostics.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats are the counters of the current incident. They are zeroed every time
// the breaker enters CLOSED.
type Stats struct {
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	LastFailure time.Time `json:"lastFailure,omitzero"`
	Transitions int       `json:"transitions"`
}
