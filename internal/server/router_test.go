package server

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/taskexec/internal/auth"
	"github.com/loykin/taskexec/internal/metrics"
	"github.com/loykin/taskexec/internal/process"
	tlsx "github.com/loykin/taskexec/internal/tls"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

func setupRouter(t *testing.T, base string, opts ...RouterOption) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sup := process.NewSupervisor(process.WithRegistry(process.NewRegistry()))
	return NewRouter(sup, base, opts...).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) RunResponse {
	t.Helper()
	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestRunEchoCapturesOutput(t *testing.T) {
	requireUnix(t)
	h := setupRouter(t, "/abc")
	rec := doReq(t, h, http.MethodPost, "/abc/run", process.Spec{Name: "greet", Command: "echo hello; echo oops >&2", Timeout: 10 * time.Second})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeRun(t, rec)
	assert.Equal(t, "greet", resp.Result.Name)
	assert.True(t, resp.Result.Exited)
	assert.Equal(t, 0, resp.Result.ExitCode)
	assert.False(t, resp.Result.TimedOut)
	assert.Equal(t, []string{"hello"}, resp.Stdout)
	assert.Equal(t, []string{"oops"}, resp.Stderr)
}

func TestRunTimeoutReported(t *testing.T) {
	requireUnix(t)
	h := setupRouter(t, "")
	rec := doReq(t, h, http.MethodPost, "/run", process.Spec{Args: []string{"sleep", "5"}, Timeout: 200 * time.Millisecond})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeRun(t, rec)
	assert.True(t, resp.Result.TimedOut)
	assert.False(t, resp.Result.Exited)
	assert.Equal(t, -1, resp.Result.ExitCode)
}

func TestRunErrors(t *testing.T) {
	h := setupRouter(t, "")

	rec := doReq(t, h, http.MethodPost, "/run", process.Spec{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/run", process.Spec{Name: "../x", Command: "true"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/run", process.Spec{Command: "true", WorkDir: "relative/dir"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/run", process.Spec{Command: "true", Timeout: time.Microsecond})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/run", process.Spec{Command: "true", Env: []string{"=x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid env entry")

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	h.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec = doReq(t, h, http.MethodPost, "/run", process.Spec{Args: []string{"/definitely/not/here"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCommandsEndpoints(t *testing.T) {
	requireUnix(t)
	specs := []process.Spec{{Name: "hi", Command: "echo configured"}}
	h := setupRouter(t, "/api", WithCommands(specs))

	rec := doReq(t, h, http.MethodGet, "/api/commands", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []process.Spec
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, specs, listed)

	rec = doReq(t, h, http.MethodPost, "/api/commands/hi/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"configured"}, decodeRun(t, rec).Stdout)

	rec = doReq(t, h, http.MethodPost, "/api/commands/nope/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommandsEmptyList(t *testing.T) {
	h := setupRouter(t, "")
	rec := doReq(t, h, http.MethodGet, "/commands", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestProcessesEndpoint(t *testing.T) {
	h := setupRouter(t, "")
	rec := doReq(t, h, http.MethodGet, "/processes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pids":[]}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	require.NoError(t, metrics.Register(prometheus.DefaultRegisterer))
	h := setupRouter(t, "/api", WithMetrics(true))
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskexec_live_processes")

	h = setupRouter(t, "/api")
	rec = doReq(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewServerStartClose(t *testing.T) {
	sup := process.NewSupervisor(process.WithRegistry(process.NewRegistry()))
	srv, err := NewServer("127.0.0.1:0", "/x", sup)
	require.NoError(t, err)
	require.NotNil(t, srv)
	assert.NoError(t, srv.Close())
}

func TestNewServerListenError(t *testing.T) {
	sup := process.NewSupervisor(process.WithRegistry(process.NewRegistry()))
	srv, err := NewServer("127.0.0.1:0", "/x", sup)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	_, err = NewServer(srv.Addr, "/x", sup)
	assert.Error(t, err)
}

func TestRouterAuth(t *testing.T) {
	hash, err := auth.HashPassword("pw", bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := auth.NewService(auth.Config{
		Enabled:   true,
		JWTSecret: "k",
		Users: []auth.UserConfig{
			{Username: "op", PasswordHash: hash, Roles: []string{"operator"}},
			{Username: "ro", PasswordHash: hash, Roles: []string{"viewer"}},
		},
	})
	require.NoError(t, err)
	h := setupRouter(t, "/api", WithAuth(svc))

	rec := doReq(t, h, http.MethodGet, "/api/processes", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/processes", nil)
	req.SetBasicAuth("ro", "pw")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(`{"args":["true"]}`))
	req.SetBasicAuth("ro", "pw")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/api/auth/login", map[string]string{"username": "op", "password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	var res auth.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.Token)

	req = httptest.NewRequest(http.MethodGet, "/api/commands", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token.Value)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServerTLS(t *testing.T) {
	tc, err := tlsx.Setup(tlsx.Development(t.TempDir()))
	require.NoError(t, err)
	sup := process.NewSupervisor(process.WithRegistry(process.NewRegistry()))
	srv, err := NewServer("127.0.0.1:0", "/api", sup, WithTLS(tc))
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	cl := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}, // #nosec G402 self-signed test cert
	}
	resp, err := cl.Get("https://" + srv.Addr + "/api/processes")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, resp.TLS)
}
