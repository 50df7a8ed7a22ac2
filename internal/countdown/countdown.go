// Package countdown implements the local per-trade timer as a pure state
// machine. The caller owns the clock and calls Tick once per second.
package countdown

import (
	"errors"
	"fmt"
)

// State is the phase of a countdown.
type State int

const (
	Idle State = iota
	Running
	Done
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrInvalidDuration is returned when Start is given a non-positive duration.
	ErrInvalidDuration = errors.New("countdown: duration must be at least one second")
	// ErrAlreadyStarted is returned when Start is called on a used countdown.
	ErrAlreadyStarted = errors.New("countdown: already started")
)

// Countdown counts whole seconds down to zero. Each trade gets its own
// instance; there is no way back from Done to Running.
type Countdown struct {
	state     State
	remaining int
}

// New returns an idle countdown.
func New() *Countdown {
	return &Countdown{}
}

// Start moves an idle countdown to Running with the given number of seconds.
func (c *Countdown) Start(seconds int) error {
	if c.state != Idle {
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, c.state)
	}
	if seconds <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidDuration, seconds)
	}
	c.state = Running
	c.remaining = seconds
	return nil
}

// Tick decrements a running countdown by one second and reports whether
// this tick moved it to Done. Ticks outside Running are ignored.
func (c *Countdown) Tick() bool {
	if c.state != Running {
		return false
	}
	c.remaining--
	if c.remaining <= 0 {
		c.remaining = 0
		c.state = Done
		return true
	}
	return false
}

// Cancel stops a countdown that has not finished. Nothing is persisted.
func (c *Countdown) Cancel() {
	if c.state == Idle || c.state == Running {
		c.state = Cancelled
	}
}

// State returns the current phase.
func (c *Countdown) State() State {
	return c.state
}

// Remaining returns the seconds left. It is zero unless Running.
func (c *Countdown) Remaining() int {
	if c.state != Running {
		return 0
	}
	return c.remaining
}
