package server

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/taskexec/internal/auth"
	"github.com/loykin/taskexec/internal/logger"
	"github.com/loykin/taskexec/internal/metrics"
	"github.com/loykin/taskexec/internal/process"
	"github.com/loykin/taskexec/internal/stream"
)

// Router provides embeddable HTTP handlers for running commands.
// Endpoints:
//   POST {basePath}/run                 body: Spec JSON; runs synchronously
//   GET  {basePath}/commands            configured command names and specs
//   POST {basePath}/commands/:name/run  runs a configured command
//   GET  {basePath}/processes           PIDs currently tracked for shutdown
//   POST {basePath}/auth/login          exchanges credentials for a token (when auth is enabled)
//   GET  /metrics                       Prometheus metrics (when enabled)
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *process.Supervisor
	basePath string
	commands []process.Spec
	metrics  bool
	auth     *auth.Middleware
	tls      *tls.Config
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithCommands exposes named specs under /commands.
func WithCommands(specs []process.Spec) RouterOption {
	return func(r *Router) { r.commands = append([]process.Spec(nil), specs...) }
}

// WithMetrics mounts the Prometheus handler on /metrics.
func WithMetrics(enabled bool) RouterOption {
	return func(r *Router) { r.metrics = enabled }
}

// WithAuth requires callers to authenticate against s. A nil s leaves the
// API open.
func WithAuth(s *auth.Service) RouterOption {
	return func(r *Router) { r.auth = auth.NewMiddleware(s) }
}

// WithTLS makes NewServer serve HTTPS with c.
func WithTLS(c *tls.Config) RouterOption {
	return func(r *Router) { r.tls = c }
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/run, /abc/commands, /abc/processes.
func NewRouter(sup *process.Supervisor, basePath string, opts ...RouterOption) *Router {
	r := &Router{sup: sup, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g.Group(r.basePath))
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// Register adds the API routes to an existing gin group.
func (r *Router) Register(group *gin.RouterGroup) {
	a := r.auth
	group.POST("/auth/login", a.GinLogin())
	api := group.Group("", a.GinAuth())
	api.POST("/run", a.GinRequirePermission(auth.ResourceCommand, auth.ActionRun), r.handleRun)
	api.GET("/commands", a.GinRequirePermission(auth.ResourceCommand, auth.ActionRead), r.handleCommands)
	api.POST("/commands/:name/run", a.GinRequirePermission(auth.ResourceCommand, auth.ActionRun), r.handleRunNamed)
	api.GET("/processes", a.GinRequirePermission(auth.ResourceProcess, auth.ActionRead), r.handleProcesses)
}

// NewServer listens on addr and serves this router in the background,
// over HTTPS when WithTLS was given. Addr on the returned server is the
// bound address. The caller shuts it down with Close or Shutdown.
func NewServer(addr, basePath string, sup *process.Supervisor, opts ...RouterOption) (*http.Server, error) {
	r := NewRouter(sup, basePath, opts...)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		TLSConfig:         r.tls,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: /run blocks for as long as the command runs
	}
	if r.tls != nil {
		go func() { _ = server.ServeTLS(ln, "", "") }()
	} else {
		go func() { _ = server.Serve(ln) }()
	}
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

// RunResponse is the body returned by the run endpoints.
type RunResponse struct {
	Result  process.Result `json:"result"`
	Failure string         `json:"failure,omitempty"`
	Stdout  []string       `json:"stdout"`
	Stderr  []string       `json:"stderr"`
}

type processesResp struct {
	PIDs []int `json:"pids"`
}

func (r *Router) handleRun(c *gin.Context) {
	var spec process.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := checkRunSpec(spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	r.run(c, spec)
}

func (r *Router) handleRunNamed(c *gin.Context) {
	name := c.Param("name")
	for _, s := range r.commands {
		if s.Name == name {
			r.run(c, s)
			return
		}
	}
	writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown command: " + name})
}

func (r *Router) run(c *gin.Context, spec process.Spec) {
	stdout := stream.NewCaptureLines(nil)
	stderr := stream.NewCaptureLines(nil)
	res, err := r.sup.Run(process.Request{
		Spec:   spec,
		Stdout: stream.NewLineWriter(stdout.Func(), logger.LevelInfo),
		Stderr: stream.NewLineWriter(stderr.Func(), logger.LevelWarn),
	})
	switch {
	case err == nil:
	case errors.Is(err, process.ErrInvalidSpec):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	case process.IsSpawnError(err):
		writeJSON(c, http.StatusUnprocessableEntity, errorResp{Error: err.Error()})
		return
	case errors.Is(err, process.ErrShuttingDown):
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	default:
		// timeouts below the watchdog minimum
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	resp := RunResponse{Result: res, Stdout: stdout.Texts(), Stderr: stderr.Texts()}
	if res.Failure != nil {
		resp.Failure = res.Failure.Error()
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleCommands(c *gin.Context) {
	specs := r.commands
	if specs == nil {
		specs = []process.Spec{}
	}
	writeJSON(c, http.StatusOK, specs)
}

func (r *Router) handleProcesses(c *gin.Context) {
	writeJSON(c, http.StatusOK, processesResp{PIDs: r.sup.Registry().PIDs()})
}
