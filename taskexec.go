package taskexec

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	cfg "github.com/loykin/taskexec/internal/config"
	"github.com/loykin/taskexec/internal/env"
	"github.com/loykin/taskexec/internal/history"
	"github.com/loykin/taskexec/internal/history/factory"
	"github.com/loykin/taskexec/internal/logger"
	"github.com/loykin/taskexec/internal/metrics"
	"github.com/loykin/taskexec/internal/process"
	iapi "github.com/loykin/taskexec/internal/server"
	"github.com/loykin/taskexec/internal/stream"
	"github.com/loykin/taskexec/internal/watchdog"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Result = process.Result

type Request = process.Request

type Supervisor = process.Supervisor

type Option = process.Option

type Registry = process.Registry

type RegistryOption = process.RegistryOption

type SpawnError = process.SpawnError

type Config = cfg.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Usage = metrics.Usage

// Errors reported by runs.
var (
	ErrInvalidSpec  = process.ErrInvalidSpec
	ErrShuttingDown = process.ErrShuttingDown
	ErrTimedOut     = process.ErrTimedOut
	ErrNonZeroExit  = process.ErrNonZeroExit
)

const DefaultDrainTimeout = process.DefaultDrainTimeout

// NewSupervisor returns a supervisor tracking its processes in
// DefaultRegistry unless WithRegistry says otherwise.
func NewSupervisor(opts ...Option) *Supervisor { return process.NewSupervisor(opts...) }

func WithRegistry(r *Registry) Option                 { return process.WithRegistry(r) }
func WithLogger(l *slog.Logger) Option                { return process.WithLogger(l) }
func WithDrainTimeout(d time.Duration) Option         { return process.WithDrainTimeout(d) }
func WithUsageSampling(interval time.Duration) Option { return process.WithUsageSampling(interval) }
func WithHistory(sinks ...HistorySink) Option         { return process.WithHistory(sinks...) }
func WithLevels(stdout, stderr Level) Option          { return process.WithLevels(stdout, stderr) }

// WithGlobalEnv layers KEY=VALUE pairs between the OS environment and Spec.Env.
func WithGlobalEnv(kvs []string) Option {
	return process.WithGlobalEnv(env.New().WithList(kvs))
}

// Run executes spec with a default supervisor, delivering output lines to fn.
func Run(spec Spec, fn LineFunc) (Result, error) {
	return process.NewSupervisor().RunLogged(spec, fn)
}

func NewRegistry(opts ...RegistryOption) *Registry { return process.NewRegistry(opts...) }

// DefaultRegistry is the process-wide registry; it destroys its processes
// on SIGINT or SIGTERM.
func DefaultRegistry() *Registry { return process.DefaultRegistry() }

func WithSignalHook(sigs ...os.Signal) RegistryOption { return process.WithSignalHook(sigs...) }
func WithRegistryLogger(l *slog.Logger) RegistryOption { return process.WithRegistryLogger(l) }

func IsFailure(code int) bool     { return process.IsFailure(code) }
func IsSpawnError(err error) bool { return process.IsSpawnError(err) }

// ResolveExecutable returns the path a spec's executable would run from.
func ResolveExecutable(exe, dir string, searchPath bool, environ []string) string {
	return process.ResolveExecutable(exe, dir, searchPath, environ)
}

// Output lines and levels

type Level = logger.Level

const (
	LevelError   = logger.LevelError
	LevelWarn    = logger.LevelWarn
	LevelInfo    = logger.LevelInfo
	LevelVerbose = logger.LevelVerbose
	LevelDebug   = logger.LevelDebug
)

type LineFunc = logger.LineFunc

type Line = stream.Line

type CaptureLines = stream.CaptureLines

type LineWriter = stream.LineWriter

type Relay = stream.Relay

func ParseLevel(s string) (Level, error) { return logger.ParseLevel(s) }

// SlogLineFunc logs each line through l at the line's level.
func SlogLineFunc(l *slog.Logger, attrs ...any) LineFunc { return logger.SlogLineFunc(l, attrs...) }

func NewCaptureLines(next LineFunc) *CaptureLines { return stream.NewCaptureLines(next) }

func NewLineWriter(fn LineFunc, level Level) *LineWriter { return stream.NewLineWriter(fn, level) }

func NewRelay(src io.Reader, dst io.Writer) *Relay { return stream.NewRelay(src, dst) }

func NewLineLogger(src io.Reader, fn LineFunc, level Level) *Relay {
	return stream.NewLineLogger(src, fn, level)
}

// Watchdog

type Watchdog = watchdog.Watchdog

type Destroyer = watchdog.Destroyer

func NewWatchdog(timeout time.Duration) (*Watchdog, error) { return watchdog.New(timeout) }

// Config, history and HTTP

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySinkFromDSN opens a sqlite://, postgres:// or clickhouse:// sink.
func NewHistorySinkFromDSN(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewHTTPServer starts an HTTP server exposing the run API backed by sup.
func NewHTTPServer(addr, basePath string, sup *Supervisor, commands []Spec) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, sup, iapi.WithCommands(commands), iapi.WithMetrics(metrics.Registered()))
}

// NewHTTPHandler returns the run API as an http.Handler for mounting in
// another router.
func NewHTTPHandler(basePath string, sup *Supervisor, commands []Spec) http.Handler {
	return iapi.NewRouter(sup, basePath, iapi.WithCommands(commands), iapi.WithMetrics(metrics.Registered())).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }

type Router = iapi.Router

// NewRouter returns the run API for registering on an existing gin group.
func NewRouter(sup *Supervisor, commands []Spec) *Router {
	return iapi.NewRouter(sup, "", iapi.WithCommands(commands), iapi.WithMetrics(false))
}
