package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/taskexec/internal/auth"
	"github.com/loykin/taskexec/internal/config"
	"github.com/loykin/taskexec/internal/env"
	"github.com/loykin/taskexec/internal/history"
	"github.com/loykin/taskexec/internal/history/factory"
	"github.com/loykin/taskexec/internal/logger"
	"github.com/loykin/taskexec/internal/process"
	"github.com/loykin/taskexec/pkg/client"
)

// TimeoutExitCode is the exit status used when the watchdog killed the command.
const TimeoutExitCode = 124

type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type command struct {
	global *GlobalFlags
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newCommand() *command {
	return &command{global: &GlobalFlags{}, stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
}

// settings is the resolved configuration for one invocation.
type settings struct {
	cfg    *config.Config
	logger *slog.Logger
	sinks  []history.Sink
}

func (s *settings) Close() {
	for _, sk := range s.sinks {
		if c, ok := sk.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// load reads --config when given and applies the log flags on top.
func (c *command) load() (*settings, error) {
	cfg := &config.Config{StdoutLevel: logger.LevelInfo, StderrLevel: logger.LevelWarn}
	cfg.Supervisor.DrainTimeout = process.DefaultDrainTimeout
	if c.global.ConfigPath != "" {
		loaded, err := config.Load(c.global.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg = loaded
	}
	if c.global.LogLevel != "" {
		cfg.Log.Level = c.global.LogLevel
	}
	if c.global.LogFormat != "" {
		cfg.Log.Format = c.global.LogFormat
	}
	l, err := logger.New(cfg.Log, c.stderr)
	if err != nil {
		return nil, err
	}
	s := &settings{cfg: cfg, logger: l}
	if cfg.HistoryDSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		s.sinks = append(s.sinks, sink)
	}
	return s, nil
}

func (s *settings) supervisor(extra ...process.Option) *process.Supervisor {
	opts := []process.Option{
		process.WithLogger(s.logger),
		process.WithGlobalEnv(env.New().WithList(s.cfg.GlobalEnv)),
		process.WithDrainTimeout(s.cfg.Supervisor.DrainTimeout),
		process.WithUsageSampling(s.cfg.Supervisor.SampleInterval),
		process.WithLevels(s.cfg.StdoutLevel, s.cfg.StderrLevel),
		process.WithHistory(s.sinks...),
	}
	return process.NewSupervisor(append(opts, extra...)...)
}

// Run runs one ad-hoc command locally or on a daemon.
func (c *command) Run(f RunFlags, args []string) error {
	spec := process.Spec{
		Name:              f.Name,
		Command:           f.Shell,
		Args:              args,
		WorkDir:           f.WorkDir,
		Env:               f.EnvKVs,
		NewEnvironment:    f.NewEnvironment,
		Input:             f.Input,
		Timeout:           f.Timeout,
		ResolveExecutable: f.Resolve,
		SearchPath:        f.SearchPath,
	}
	if f.APIUrl != "" {
		return c.runRemote(f.APIUrl, f.APITimeout, spec)
	}

	s, err := c.load()
	if err != nil {
		return err
	}
	defer s.Close()
	if spec.Timeout == 0 {
		spec.Timeout = s.cfg.Supervisor.DefaultTimeout
	}

	req := process.Request{Spec: spec}
	if f.Stdin {
		req.Stdin = c.stdin
	}
	if f.LogLines {
		req.Lines = logger.SlogLineFunc(s.logger, "name", spec.DisplayName())
	} else {
		outW, errW, closeFn, err := c.outputWriters(s.cfg.Log.File, spec.DisplayName())
		if err != nil {
			return err
		}
		defer closeFn()
		req.Stdout, req.Stderr = outW, errW
	}

	res, err := s.supervisor().Run(req)
	if err != nil {
		return err
	}
	return exitStatus(res.TimedOut, res.Exited, res.ExitCode, res.Failure != nil)
}

// outputWriters passes output through to the terminal and, when [log.file]
// is configured, into rotating files as well.
func (c *command) outputWriters(fc logger.FileConfig, name string) (io.Writer, io.Writer, func(), error) {
	fileOut, fileErr, err := fc.Writers(name)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("output files: %w", err)
	}
	outW, errW := c.stdout, c.stderr
	if fileOut != nil {
		outW = io.MultiWriter(c.stdout, fileOut)
	}
	if fileErr != nil {
		errW = io.MultiWriter(c.stderr, fileErr)
	}
	return outW, errW, func() {
		if fileOut != nil {
			_ = fileOut.Close()
		}
		if fileErr != nil {
			_ = fileErr.Close()
		}
	}, nil
}

// Environment variables holding API credentials for remote commands.
const (
	envAPIToken    = "TASKEXEC_API_TOKEN"
	envAPIUser     = "TASKEXEC_API_USER"
	envAPIPassword = "TASKEXEC_API_PASSWORD"
)

func newClient(apiURL string, timeout time.Duration) *client.Client {
	return client.New(client.Config{
		BaseURL:  apiURL,
		Timeout:  timeout,
		Token:    os.Getenv(envAPIToken),
		Username: os.Getenv(envAPIUser),
		Password: os.Getenv(envAPIPassword),
	})
}

func (c *command) runRemote(apiURL string, timeout time.Duration, spec process.Spec) error {
	cl := newClient(apiURL, timeout)
	resp, err := cl.Run(context.Background(), client.RunRequest{
		Name:              spec.Name,
		Command:           spec.Command,
		Args:              spec.Args,
		WorkDir:           spec.WorkDir,
		Env:               spec.Env,
		NewEnvironment:    spec.NewEnvironment,
		Input:             spec.Input,
		Timeout:           spec.Timeout,
		ResolveExecutable: spec.ResolveExecutable,
		SearchPath:        spec.SearchPath,
	})
	if err != nil {
		return err
	}
	return c.printRemote(resp)
}

func (c *command) printRemote(resp client.RunResponse) error {
	for _, l := range resp.Stdout {
		_, _ = fmt.Fprintln(c.stdout, l)
	}
	for _, l := range resp.Stderr {
		_, _ = fmt.Fprintln(c.stderr, l)
	}
	r := resp.Result
	return exitStatus(r.TimedOut, r.Exited, r.ExitCode, resp.Failure != "")
}

// Exec runs a command from the config file with the task logging policy.
func (c *command) Exec(f ExecFlags, name string) error {
	if f.APIUrl != "" {
		cl := newClient(f.APIUrl, f.APITimeout)
		resp, err := cl.RunNamed(context.Background(), name)
		if err != nil {
			return err
		}
		return c.printRemote(resp)
	}
	if c.global.ConfigPath == "" {
		return errors.New("exec requires --config or --api-url")
	}
	s, err := c.load()
	if err != nil {
		return err
	}
	defer s.Close()
	spec, ok := s.cfg.Command(name)
	if !ok {
		return fmt.Errorf("command %q not found in %s", name, c.global.ConfigPath)
	}
	res, err := s.supervisor().RunCommand(spec)
	if err != nil {
		s.logger.Error("command failed", "name", name, "error", err)
		if errors.Is(err, process.ErrTimedOut) || errors.Is(err, process.ErrNonZeroExit) || res.Failure != nil {
			return exitStatus(res.TimedOut, res.Exited, res.ExitCode, true)
		}
		return err
	}
	return nil
}

// Spawn starts a detached command and prints its PID.
func (c *command) Spawn(f SpawnFlags, args []string) error {
	s, err := c.load()
	if err != nil {
		return err
	}
	defer s.Close()
	pid, err := s.supervisor().Spawn(process.Spec{
		Command: f.Shell,
		Args:    args,
		WorkDir: f.WorkDir,
		Env:     f.EnvKVs,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.stdout, pid)
	return nil
}

// Commands lists configured commands from the config file or a daemon.
func (c *command) Commands(f ListFlags) error {
	if f.APIUrl != "" {
		cl := newClient(f.APIUrl, f.APITimeout)
		cmds, err := cl.Commands(context.Background())
		if err != nil {
			return err
		}
		for _, cmd := range cmds {
			printCommand(c.stdout, process.Spec{Name: cmd.Name, Command: cmd.Command, Args: cmd.Args, Timeout: cmd.Timeout})
		}
		return nil
	}
	if c.global.ConfigPath == "" {
		return errors.New("commands requires --config or --api-url")
	}
	s, err := c.load()
	if err != nil {
		return err
	}
	defer s.Close()
	for _, sp := range s.cfg.Specs {
		printCommand(c.stdout, sp)
	}
	return nil
}

// Ps prints the PIDs a daemon is supervising.
func (c *command) Ps(f ListFlags) error {
	cl := newClient(f.APIUrl, f.APITimeout)
	pids, err := cl.Processes(context.Background())
	if err != nil {
		return err
	}
	printJSON(c.stdout, map[string][]int{"pids": pids})
	return nil
}

// HashPassword prints the bcrypt hash for a [[server.auth.users]] entry.
func (c *command) HashPassword(password string, cost int) error {
	h, err := auth.HashPassword(password, cost)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.stdout, h)
	return nil
}
