package process

import (
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/loykin/taskexec/internal/metrics"
)

// Registry tracks live processes so they can be force-destroyed when the
// host shuts down. All mutations happen under one lock so a process is never
// destroyed twice or iterated mid-registration.
type Registry struct {
	mu       sync.Mutex
	live     map[*Handle]struct{}
	shutdown bool

	hook     bool
	hookOnce sync.Once
	signals  []os.Signal
	logger   *slog.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithSignalHook installs, on first registration, a handler that destroys
// every live process when one of sigs arrives and then re-delivers the signal.
func WithSignalHook(sigs ...os.Signal) RegistryOption {
	return func(r *Registry) {
		r.hook = true
		if len(sigs) == 0 {
			sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
		}
		r.signals = sigs
	}
}

// WithRegistryLogger sets the logger used by the shutdown hook.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{live: make(map[*Handle]struct{}), logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry(WithSignalHook())
})

// DefaultRegistry is the process-wide registry. It is created on first use
// and hooks SIGINT and SIGTERM.
func DefaultRegistry() *Registry { return defaultRegistry() }

// Add starts tracking h. After Shutdown it destroys h instead and returns
// ErrShuttingDown.
func (r *Registry) Add(h *Handle) error {
	r.hookOnce.Do(r.installHook)
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		_ = h.Destroy()
		return ErrShuttingDown
	}
	r.live[h] = struct{}{}
	n := len(r.live)
	r.mu.Unlock()
	metrics.SetLiveProcesses(n)
	return nil
}

// Remove stops tracking h. Removing an unknown handle is a no-op.
func (r *Registry) Remove(h *Handle) {
	r.mu.Lock()
	delete(r.live, h)
	n := len(r.live)
	r.mu.Unlock()
	metrics.SetLiveProcesses(n)
}

// DestroyAll force-destroys every tracked process and returns how many
// were signalled. Entries stay registered until their owners remove them.
func (r *Registry) DestroyAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for h := range r.live {
		if err := h.Destroy(); err != nil {
			r.logger.Warn("destroy on shutdown failed", "pid", h.PID(), "error", err)
			continue
		}
		n++
	}
	return n
}

// Shutdown refuses further registrations and destroys all live processes.
func (r *Registry) Shutdown() int {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
	return r.DestroyAll()
}

// Len returns the number of tracked processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// PIDs returns the tracked process ids in ascending order.
func (r *Registry) PIDs() []int {
	r.mu.Lock()
	pids := make([]int, 0, len(r.live))
	for h := range r.live {
		pids = append(pids, h.PID())
	}
	r.mu.Unlock()
	sort.Ints(pids)
	return pids
}

func (r *Registry) installHook() {
	if !r.hook {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, r.signals...)
	go func() {
		sig := <-ch
		n := r.Shutdown()
		r.logger.Info("destroyed live processes on shutdown", "signal", sig.String(), "count", n)
		signal.Stop(ch)
		// deliver the signal again with default handling so the exit status is preserved
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			if err := p.Signal(sig); err == nil {
				return
			}
		}
		os.Exit(1)
	}()
}
