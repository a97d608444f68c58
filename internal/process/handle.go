package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// Handle is a spawned OS process owned by one Supervisor.Run call.
// Its pipes are parent-side ends; the child ends are closed after start.
type Handle struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	stdin  *os.File // nil when the child got /dev/null
	stdout *os.File
	stderr *os.File

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}

	destroyOnce sync.Once
	destroyErr  error
	killed      atomic.Bool // a kill was sent while the process was unreaped
}

// startHandle launches cmd with fresh pipes for stdout and stderr, and for
// stdin when withStdin is set.
func startHandle(cmd *exec.Cmd, withStdin bool) (*Handle, error) {
	var parentEnds, childEnds []*os.File
	closeAll := func(fs []*os.File) {
		for _, f := range fs {
			_ = f.Close()
		}
	}
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll(parentEnds)
			closeAll(childEnds)
			return nil, nil, err
		}
		return r, w, nil
	}

	h := &Handle{cmd: cmd, done: make(chan struct{})}

	if withStdin {
		r, w, err := pipe()
		if err != nil {
			return nil, err
		}
		cmd.Stdin, h.stdin = r, w
		childEnds, parentEnds = append(childEnds, r), append(parentEnds, w)
	}
	outR, outW, err := pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout, h.stdout = outW, outR
	childEnds, parentEnds = append(childEnds, outW), append(parentEnds, outR)

	errR, errW, err := pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr, h.stderr = errW, errR
	childEnds, parentEnds = append(childEnds, errW), append(parentEnds, errR)

	if err := cmd.Start(); err != nil {
		closeAll(parentEnds)
		closeAll(childEnds)
		return nil, err
	}
	// the child holds its own copies now; keeping ours would block EOF
	closeAll(childEnds)

	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	return h, nil
}

// PID returns the OS process id.
func (h *Handle) PID() int { return h.pid }

// StartedAt is when the process was launched.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Stdin is the write end of the child's standard input, or nil.
func (h *Handle) Stdin() io.WriteCloser {
	if h.stdin == nil {
		return nil
	}
	return h.stdin
}

// Stdout is the read end of the child's standard output.
func (h *Handle) Stdout() io.ReadCloser { return h.stdout }

// Stderr is the read end of the child's standard error.
func (h *Handle) Stderr() io.ReadCloser { return h.stderr }

// Destroy force-kills the process and its process group. It is idempotent
// and returns once the kill was issued; use Wait for actual death.
func (h *Handle) Destroy() error {
	h.destroyOnce.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}
		if err := killGroup(h.pid); err != nil {
			kerr := h.cmd.Process.Kill()
			if errors.Is(kerr, os.ErrProcessDone) {
				return
			}
			if kerr != nil {
				h.destroyErr = err
				return
			}
		}
		h.killed.Store(true)
	})
	return h.destroyErr
}

// Killed reports whether Destroy sent a kill before the process was reaped.
func (h *Handle) Killed() bool { return h.killed.Load() }

// Wait blocks until the process has exited and returns the exec wait error.
// Safe to call from several goroutines.
func (h *Handle) Wait() error {
	h.waitOnce.Do(func() {
		h.waitErr = h.cmd.Wait()
		close(h.done)
	})
	<-h.done
	return h.waitErr
}

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process terminated on its own (not by signal).
// Valid after Wait.
func (h *Handle) Exited() bool {
	ps := h.cmd.ProcessState
	return ps != nil && ps.Exited()
}

// ExitCode returns the exit status when the process exited normally.
func (h *Handle) ExitCode() (int, bool) {
	if !h.Exited() {
		return -1, false
	}
	return h.cmd.ProcessState.ExitCode(), true
}

func (h *Handle) closeStdin() {
	if h.stdin != nil {
		_ = h.stdin.Close()
	}
}

func (h *Handle) closeOutput() {
	_ = h.stdout.Close()
	_ = h.stderr.Close()
}
