package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/run", func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "invalid JSON"})
			return
		}
		if req.Args[0] == "missing" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "could not launch missing"})
			return
		}
		_ = json.NewEncoder(w).Encode(RunResponse{
			Result: Result{Name: req.Name, ExitCode: 0, Exited: true, Duration: req.Timeout},
			Stdout: []string{"hello"},
			Stderr: []string{},
		})
	})
	mux.HandleFunc("POST /api/commands/{name}/run", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "build" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("not json"))
			return
		}
		_ = json.NewEncoder(w).Encode(RunResponse{Result: Result{Name: "build", TimedOut: true, ExitCode: -1}})
	})
	mux.HandleFunc("GET /api/commands", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]RunRequest{{Name: "build", Command: "make"}})
	})
	mux.HandleFunc("GET /api/processes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ProcessesResponse{PIDs: []int{10, 20}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRun(t *testing.T) {
	srv := fakeServer(t)
	c := New(Config{BaseURL: srv.URL + "/api"})
	ctx := context.Background()

	resp, err := c.Run(ctx, RunRequest{Name: "greet", Args: []string{"echo", "hello"}, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "greet", resp.Result.Name)
	assert.Equal(t, time.Second, resp.Result.Duration)
	assert.Equal(t, []string{"hello"}, resp.Stdout)

	_, err = c.Run(ctx, RunRequest{Args: []string{"missing"}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "could not launch")
}

func TestClientRunNamedAndLists(t *testing.T) {
	srv := fakeServer(t)
	c := New(Config{BaseURL: srv.URL + "/api"})
	ctx := context.Background()

	resp, err := c.RunNamed(ctx, "build")
	require.NoError(t, err)
	assert.True(t, resp.Result.TimedOut)

	_, err = c.RunNamed(ctx, "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	cmds, err := c.Commands(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RunRequest{{Name: "build", Command: "make"}}, cmds)

	pids, err := c.Processes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20}, pids)
	assert.True(t, c.IsReachable(ctx))
}

func TestClientUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: time.Second})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Processes(context.Background())
	assert.Error(t, err)
}

func TestClientCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "op" || body["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "authentication_failed"})
			return
		}
		_ = json.NewEncoder(w).Encode(LoginResponse{Success: true, Username: "op", Token: &Token{Type: "Bearer", Value: "tok"}})
	})
	mux.HandleFunc("GET /api/processes", func(w http.ResponseWriter, r *http.Request) {
		user, pass, basic := r.BasicAuth()
		if r.Header.Get("Authorization") != "Bearer tok" && !(basic && user == "op" && pass == "pw") {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "authentication_failed"})
			return
		}
		_ = json.NewEncoder(w).Encode(ProcessesResponse{PIDs: []int{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	ctx := context.Background()

	anon := New(Config{BaseURL: srv.URL + "/api"})
	_, err := anon.Processes(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	basic := New(Config{BaseURL: srv.URL + "/api", Username: "op", Password: "pw"})
	_, err = basic.Processes(ctx)
	require.NoError(t, err)

	_, err = anon.Login(ctx, "op", "bad")
	assert.Error(t, err)
	tok, err := anon.Login(ctx, "op", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.Value)
	_, err = anon.Processes(ctx)
	require.NoError(t, err)
}
