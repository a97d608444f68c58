// Package stream pumps bytes from process pipes into sinks on dedicated
// goroutines.
package stream

import (
	"errors"
	"io"
	"sync"
)

// DefaultBufferSize is the read chunk used by a Relay.
const DefaultBufferSize = 1024

// ErrAlreadyStarted is returned by Start on a relay that has already run.
var ErrAlreadyStarted = errors.New("relay already started")

// Flusher is implemented by sinks that hold partial data until told to emit it.
type Flusher interface {
	Flush() error
}

// Relay copies one source into one sink on its own goroutine until the source
// reports end-of-stream or an error. Read and write errors end the relay
// quietly: on a closing pipe they are expected and indistinguishable from
// real faults at this layer.
//
// The relay does not own the source; closing it is the caller's business.
type Relay struct {
	src       io.Reader
	dst       io.Writer
	bufSize   int
	closeSink bool

	mu      sync.Mutex
	started bool
	running bool
	done    chan struct{}
	copied  int64
	err     error
}

// RelayOption customizes a Relay.
type RelayOption func(*Relay)

// WithBufferSize sets the read chunk size.
func WithBufferSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// WithCloseSink closes the sink once the source is exhausted. Used for the
// stdin direction so the child sees EOF.
func WithCloseSink() RelayOption {
	return func(r *Relay) { r.closeSink = true }
}

// NewRelay binds src to dst. A nil dst discards.
func NewRelay(src io.Reader, dst io.Writer, opts ...RelayOption) *Relay {
	if dst == nil {
		dst = io.Discard
	}
	r := &Relay{src: src, dst: dst, bufSize: DefaultBufferSize, done: make(chan struct{})}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start launches the pump goroutine. A relay runs once.
func (r *Relay) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.running = true
	r.mu.Unlock()
	go r.run()
	return nil
}

func (r *Relay) run() {
	defer close(r.done)
	buf := make([]byte, r.bufSize)
	var n int64
	var err error
	for {
		nr, rerr := r.src.Read(buf)
		if nr > 0 {
			nw, werr := r.write(buf[:nr])
			n += int64(nw)
			if werr != nil {
				err = werr
				break
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				err = rerr
			}
			break
		}
	}
	if f, ok := r.dst.(Flusher); ok {
		_ = f.Flush()
	}
	if r.closeSink {
		if c, ok := r.dst.(io.Closer); ok {
			_ = c.Close()
		}
	}
	r.mu.Lock()
	r.running = false
	r.copied = n
	r.err = err
	r.mu.Unlock()
}

// write shields the pump from panicking sinks.
func (r *Relay) write(p []byte) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			n, err = 0, errSinkPanic
		}
	}()
	n, err = r.dst.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

var errSinkPanic = errors.New("relay sink panicked")

// Done is closed when the relay has forwarded everything it will forward.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Wait blocks until the relay finishes. Calling Wait on a relay that was never
// started returns immediately.
func (r *Relay) Wait() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return
	}
	<-r.done
}

// Running reports whether the pump goroutine is still active.
func (r *Relay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Copied returns the number of bytes written to the sink. Valid after Done.
func (r *Relay) Copied() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copied
}

// Err returns the I/O error that ended the relay, if any. It is informational
// only; the relay never surfaces it as a failure.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
