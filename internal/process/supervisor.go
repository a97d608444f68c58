package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/taskexec/internal/env"
	"github.com/loykin/taskexec/internal/history"
	"github.com/loykin/taskexec/internal/logger"
	"github.com/loykin/taskexec/internal/metrics"
	"github.com/loykin/taskexec/internal/stream"
	"github.com/loykin/taskexec/internal/watchdog"
)

// DefaultDrainTimeout bounds how long output relays may keep reading after
// the process exited.
const DefaultDrainTimeout = 5 * time.Second

// Supervisor runs external commands: it spawns the process, relays its
// output, enforces an optional timeout and reports a Result.
type Supervisor struct {
	registry       *Registry
	env            *env.Env
	logger         *slog.Logger
	drainTimeout   time.Duration
	sampleInterval time.Duration
	history        []history.Sink
	stdoutLevel    logger.Level
	stderrLevel    logger.Level
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithRegistry tracks spawned processes in r instead of DefaultRegistry.
func WithRegistry(r *Registry) Option { return func(s *Supervisor) { s.registry = r } }

// WithGlobalEnv layers e between the OS environment and Spec.Env.
func WithGlobalEnv(e *env.Env) Option {
	return func(s *Supervisor) {
		if e != nil {
			s.env = e
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDrainTimeout sets how long to wait for output after exit. Zero waits
// until the pipes close.
func WithDrainTimeout(d time.Duration) Option { return func(s *Supervisor) { s.drainTimeout = d } }

// WithUsageSampling samples the child's memory and CPU every interval.
func WithUsageSampling(interval time.Duration) Option {
	return func(s *Supervisor) { s.sampleInterval = interval }
}

// WithHistory sends one event per run to each sink.
func WithHistory(sinks ...history.Sink) Option {
	return func(s *Supervisor) { s.history = append(s.history, sinks...) }
}

// WithLevels sets the severities used for stdout and stderr lines.
func WithLevels(stdout, stderr logger.Level) Option {
	return func(s *Supervisor) { s.stdoutLevel, s.stderrLevel = stdout, stderr }
}

func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		env:          env.New(),
		logger:       slog.Default(),
		drainTimeout: DefaultDrainTimeout,
		stdoutLevel:  logger.LevelInfo,
		stderrLevel:  logger.LevelWarn,
	}
	for _, o := range opts {
		o(s)
	}
	if s.registry == nil {
		s.registry = DefaultRegistry()
	}
	return s
}

// Registry returns the registry live processes are tracked in.
func (s *Supervisor) Registry() *Registry { return s.registry }

// Request is one run. Each output stream goes to its writer and, line by
// line, to Lines; either may be nil.
type Request struct {
	Spec   Spec
	Stdout io.Writer
	Stderr io.Writer
	Lines  logger.LineFunc
	Stdin  io.Reader // takes precedence over Spec.Input
}

// RunLogged runs spec delivering every output line to fn.
func (s *Supervisor) RunLogged(spec Spec, fn logger.LineFunc) (Result, error) {
	return s.Run(Request{Spec: spec, Lines: fn})
}

// Run executes the request and blocks until the process is gone and its
// output has been relayed. A non-zero exit or a timeout is reported in the
// Result, not as an error; errors mean the process never ran.
func (s *Supervisor) Run(req Request) (Result, error) {
	spec := req.Spec
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}
	name := spec.DisplayName()

	cmd, argv, err := s.prepare(&spec, false)
	if err != nil {
		s.spawnFailed(spec, name, argv, err)
		return Result{Name: name, Command: argv, ExitCode: -1}, err
	}

	stdin := req.Stdin
	if stdin == nil && spec.Input != "" {
		stdin = strings.NewReader(spec.Input)
	}

	h, err := startHandle(cmd, stdin != nil)
	if err != nil {
		serr := &SpawnError{Command: argv, Err: err}
		s.spawnFailed(spec, name, argv, serr)
		return Result{Name: name, Command: argv, ExitCode: -1}, serr
	}
	if err := s.registry.Add(h); err != nil {
		_ = h.Wait()
		h.closeStdin()
		h.closeOutput()
		return Result{Name: name, Command: argv, PID: h.PID(), ExitCode: -1}, err
	}
	defer s.registry.Remove(h)

	s.logger.Log(context.Background(), logger.SlogDebug, "process started", "name", name, "pid", h.PID(), "command", describe(argv))

	outRelay := s.outputRelay(h.Stdout(), req.Stdout, req.Lines, s.stdoutLevel)
	errRelay := s.outputRelay(h.Stderr(), req.Stderr, req.Lines, s.stderrLevel)
	_ = outRelay.Start()
	_ = errRelay.Start()
	if stdin != nil {
		// not joined: the source may block forever and it no longer matters once the child is gone
		_ = stream.NewRelay(stdin, h.Stdin(), stream.WithCloseSink()).Start()
	}

	usage := metrics.SampleUsage(h.PID(), s.sampleInterval, h.Done())

	var wd *watchdog.Watchdog
	if spec.Timeout > 0 {
		wd, err = watchdog.New(spec.Timeout)
		if err == nil {
			wd.OnTimeout(func() {
				if h.Killed() {
					s.logger.Warn("timeout: killed the sub-process", "name", name, "pid", h.PID(), "timeout", spec.Timeout)
				}
			})
			err = wd.Start(h)
		}
		if err != nil {
			// unreachable after Validate; never leave the child unsupervised
			_ = h.Destroy()
			wd = nil
		}
	}

	waitErr := h.Wait()
	if wd != nil {
		wd.Stop()
		wd.Wait()
	}
	h.closeStdin()
	s.drain(h, name, outRelay, errRelay)

	code, exited := h.ExitCode()
	res := Result{
		Name:      name,
		Command:   argv,
		PID:       h.PID(),
		ExitCode:  code,
		Exited:    exited,
		TimedOut:  timedOut(wd, h, exited),
		StartedAt: h.StartedAt(),
		Duration:  time.Since(h.StartedAt()),
		Usage:     <-usage,
	}
	if wd != nil {
		res.Failure = wd.CheckFailure()
	}
	var exitErr *exec.ExitError
	if res.Failure == nil && waitErr != nil && !errors.As(waitErr, &exitErr) {
		res.Failure = waitErr
	}

	s.finished(spec, res)
	return res, nil
}

// timedOut requires that the watchdog expired and that its Destroy sent a
// kill. Where the wait status can show a kill, a normal exit means the child
// finished on its own just before the deadline.
func timedOut(wd *watchdog.Watchdog, h *Handle, exited bool) bool {
	if wd == nil || !wd.KilledProcess() || !h.Killed() {
		return false
	}
	return !exited || !exitStatusShowsKill
}

func (s *Supervisor) outputRelay(src io.Reader, w io.Writer, fn logger.LineFunc, level logger.Level) *stream.Relay {
	switch {
	case w != nil && fn != nil:
		return stream.NewRelay(src, stream.NewTeeWriter(w, fn, level))
	case fn != nil:
		return stream.NewLineLogger(src, fn, level)
	}
	return stream.NewRelay(src, w)
}

// drain waits for both output relays. A grandchild holding the pipes open
// past the drain timeout gets its read ends closed.
func (s *Supervisor) drain(h *Handle, name string, relays ...*stream.Relay) {
	done := make(chan struct{})
	go func() {
		for _, r := range relays {
			r.Wait()
		}
		close(done)
	}()
	if s.drainTimeout > 0 {
		t := time.NewTimer(s.drainTimeout)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			s.logger.Warn("output still open after exit, closing", "name", name, "pid", h.PID())
			h.closeOutput()
			<-done
		}
	} else {
		<-done
	}
	h.closeOutput()
}

// prepare builds the exec.Cmd for spec. Failures are SpawnErrors.
func (s *Supervisor) prepare(spec *Spec, detached bool) (*exec.Cmd, []string, error) {
	argv := spec.Argv()
	var environ []string
	if spec.NewEnvironment {
		environ = s.env.MergeNew(spec.Env)
	} else {
		environ = s.env.Merge(spec.Env)
	}
	if spec.ResolveExecutable {
		argv[0] = ResolveExecutable(argv[0], spec.WorkDir, spec.SearchPath, environ)
	}
	if err := checkWorkDir(spec.WorkDir); err != nil {
		return nil, argv, &SpawnError{Command: argv, Err: err}
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = environ
	configureSysProcAttr(cmd, detached)
	return cmd, argv, nil
}

// Spawn launches spec detached in its own session and returns its PID
// without waiting. Output is discarded and the process is not tracked for
// shutdown.
func (s *Supervisor) Spawn(spec Spec) (int, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	if spec.Timeout > 0 {
		return 0, invalidSpec("timeout is not supported for spawned processes")
	}
	if spec.Input != "" {
		return 0, invalidSpec("input is not supported for spawned processes")
	}
	name := spec.DisplayName()
	cmd, argv, err := s.prepare(&spec, true)
	if err != nil {
		s.spawnFailed(spec, name, argv, err)
		return 0, err
	}
	if err := cmd.Start(); err != nil {
		serr := &SpawnError{Command: argv, Err: err}
		s.spawnFailed(spec, name, argv, serr)
		return 0, serr
	}
	pid := cmd.Process.Pid
	s.logger.Log(context.Background(), logger.SlogVerbose, "spawned detached process", "name", name, "pid", pid, "command", describe(argv))
	// reap so the child does not linger as a zombie while we live
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func (s *Supervisor) spawnFailed(spec Spec, name string, argv []string, err error) {
	s.logger.Error("could not launch process", "name", name, "command", describe(argv), "error", err)
	metrics.IncSpawnFailure(name)
	history.Emit(s.logger, s.history, history.Event{
		Type:       history.EventSpawnFailed,
		OccurredAt: time.Now(),
		Record: history.Record{
			Name:      name,
			Command:   describe(argv),
			WorkDir:   spec.WorkDir,
			StartedAt: time.Now(),
			ExitCode:  -1,
			Error:     err.Error(),
		},
	})
}

func (s *Supervisor) finished(spec Spec, res Result) {
	attrs := []any{
		"name", res.Name, "pid", res.PID, "exit_code", res.ExitCode,
		"timed_out", res.TimedOut, "duration", res.Duration,
	}
	if res.Usage.Samples > 0 {
		attrs = append(attrs, "peak_rss", res.Usage.PeakRSS)
		metrics.SetPeakRSS(res.Name, res.Usage.PeakRSS)
	}
	if res.Failure != nil {
		attrs = append(attrs, "error", res.Failure)
	}
	s.logger.Log(context.Background(), logger.SlogVerbose, "process finished", attrs...)

	metrics.RecordRun(res.Name, res.outcome(), res.Duration.Seconds())
	if res.TimedOut {
		metrics.IncTimeout(res.Name)
	}

	ev := history.Event{
		Type:       history.EventFinished,
		OccurredAt: time.Now(),
		Record: history.Record{
			Name:      res.Name,
			Command:   describe(res.Command),
			WorkDir:   spec.WorkDir,
			PID:       res.PID,
			StartedAt: res.StartedAt,
			Duration:  res.Duration,
			ExitCode:  res.ExitCode,
			Exited:    res.Exited,
			TimedOut:  res.TimedOut,
		},
	}
	if res.TimedOut {
		ev.Type = history.EventTimeout
	}
	if res.Failure != nil {
		ev.Record.Error = res.Failure.Error()
	}
	history.Emit(s.logger, s.history, ev)
}
