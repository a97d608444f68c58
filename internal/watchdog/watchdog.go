// Package watchdog kills a supervised process that outlives its deadline.
package watchdog

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// MinTimeout is the smallest accepted timeout.
const MinTimeout = time.Millisecond

var (
	// ErrInvalidArgument reports a bad constructor argument.
	ErrInvalidArgument = errors.New("watchdog: invalid argument")
	// ErrInvalidState reports Start on a running watchdog or with no process.
	ErrInvalidState = errors.New("watchdog: invalid state")
)

// InternalFailure wraps a fault captured on the timer goroutine.
type InternalFailure struct {
	Err error
}

func (e *InternalFailure) Error() string { return "watchdog failure: " + e.Err.Error() }
func (e *InternalFailure) Unwrap() error { return e.Err }

// Destroyer is the part of a process handle the watchdog needs.
type Destroyer interface {
	Destroy() error
}

// State of a watchdog.
type State int32

const (
	StateIdle State = iota
	StateWatching
	StateExpired
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateExpired:
		return "expired"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Watchdog arms a deadline against one process at a time.
//
// Start moves idle, stopped or expired watchdogs to watching. When the
// deadline passes while still watching, the process is destroyed, the state
// becomes expired and the timeout observer runs on the timer goroutine.
// Stop ends a watch early and is a no-op in any other state.
type Watchdog struct {
	timeout   time.Duration
	onTimeout func()

	mu       sync.Mutex
	state    State
	proc     Destroyer
	wake     chan struct{} // closed by Stop to end the current cycle's wait
	timerEnd chan struct{} // closed when the current cycle's goroutine returns
	killed   bool
	failure  error
}

// New returns an idle watchdog. timeout must be at least MinTimeout.
func New(timeout time.Duration) (*Watchdog, error) {
	if timeout < MinTimeout {
		return nil, fmt.Errorf("%w: timeout %s is less than %s", ErrInvalidArgument, timeout, MinTimeout)
	}
	return &Watchdog{timeout: timeout}, nil
}

// Timeout returns the configured timeout.
func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// OnTimeout registers the observer invoked on expiry. It must be set before
// Start.
func (w *Watchdog) OnTimeout(fn func()) {
	w.mu.Lock()
	w.onTimeout = fn
	w.mu.Unlock()
}

// Start begins watching p.
func (w *Watchdog) Start(p Destroyer) error {
	if p == nil {
		return fmt.Errorf("%w: no process to watch", ErrInvalidState)
	}
	w.mu.Lock()
	if w.state == StateWatching {
		w.mu.Unlock()
		return fmt.Errorf("%w: already running", ErrInvalidState)
	}
	w.state = StateWatching
	w.proc = p
	w.killed = false
	w.failure = nil
	wake := make(chan struct{})
	end := make(chan struct{})
	w.wake = wake
	w.timerEnd = end
	deadline := time.Now().Add(w.timeout)
	w.mu.Unlock()

	go w.run(deadline, wake, end)
	return nil
}

func (w *Watchdog) run(deadline time.Time, wake, end chan struct{}) {
	defer close(end)
	defer func() {
		if r := recover(); r != nil {
			w.recordFailure(fmt.Errorf("panic: %v", r))
		}
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		select {
		case <-wake:
			return
		case <-timer.C:
		}
		// Never treat a wakeup as expiry without re-checking the deadline.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		timer.Reset(remaining)
	}

	w.mu.Lock()
	if w.state != StateWatching || w.wake != wake {
		w.mu.Unlock()
		return
	}
	p := w.proc
	w.state = StateExpired
	w.killed = true
	w.proc = nil
	observer := w.onTimeout
	w.mu.Unlock()

	if err := p.Destroy(); err != nil {
		w.recordFailure(err)
	}
	if observer != nil {
		observer()
	}
}

func (w *Watchdog) recordFailure(err error) {
	w.mu.Lock()
	if w.failure == nil {
		w.failure = &InternalFailure{Err: err}
	}
	w.mu.Unlock()
}

// Stop ends the current watch. It is idempotent and never runs the observer.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateWatching {
		return
	}
	w.state = StateStopped
	w.proc = nil
	close(w.wake)
}

// Wait blocks until the timer goroutine of the latest Start has returned.
// After an expiry this guarantees the observer has completed.
func (w *Watchdog) Wait() {
	w.mu.Lock()
	end := w.timerEnd
	w.mu.Unlock()
	if end != nil {
		<-end
	}
}

// CheckFailure returns the fault captured on the timer goroutine, if any.
// Callers check it after the supervised process has been waited for.
func (w *Watchdog) CheckFailure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failure
}

// KilledProcess reports whether the latest watch ended by destroying the
// process.
func (w *Watchdog) KilledProcess() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

// State returns the current state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Watching reports whether a deadline is armed.
func (w *Watchdog) Watching() bool { return w.State() == StateWatching }
