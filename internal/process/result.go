package process

import (
	"fmt"
	"time"

	"github.com/loykin/taskexec/internal/metrics"
)

// Result is the outcome of one supervised run. It is built once when the
// run completes and never modified afterwards.
type Result struct {
	Name      string        `json:"name"`
	Command   []string      `json:"command"`
	PID       int           `json:"pid"`
	ExitCode  int           `json:"exit_code"` // -1 unless Exited
	Exited    bool          `json:"exited"`
	TimedOut  bool          `json:"timed_out"`
	Failure   error         `json:"-"` // captured watchdog or wait failure
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Usage     metrics.Usage `json:"usage,omitempty"`
}

// Code returns the exit code when the process exited normally.
func (r Result) Code() (int, bool) {
	if !r.Exited {
		return -1, false
	}
	return r.ExitCode, true
}

// Failed reports a non-zero exit, a kill, or a captured failure.
func (r Result) Failed() bool {
	if r.Failure != nil || r.TimedOut || !r.Exited {
		return true
	}
	return IsFailure(r.ExitCode)
}

// Err applies the common caller policy: a timeout yields ErrTimedOut, a
// failing exit yields ErrNonZeroExit, a captured failure is returned as is.
func (r Result) Err() error {
	switch {
	case r.Failure != nil:
		return r.Failure
	case r.TimedOut:
		return ErrTimedOut
	case !r.Exited:
		return fmt.Errorf("%w: %s terminated by signal", ErrNonZeroExit, r.Name)
	case IsFailure(r.ExitCode):
		return fmt.Errorf("%w: %s returned %d", ErrNonZeroExit, r.Name, r.ExitCode)
	}
	return nil
}

func (r Result) outcome() string {
	switch {
	case r.TimedOut:
		return metrics.OutcomeTimeout
	case r.Failed():
		return metrics.OutcomeFailure
	}
	return metrics.OutcomeSuccess
}
