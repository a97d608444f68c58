package client

import "time"

// RunRequest describes a command for the server to run. It mirrors the
// server's spec JSON; Timeout is sent in nanoseconds.
type RunRequest struct {
	Name              string        `json:"name,omitempty"`
	Command           string        `json:"command,omitempty"`
	Args              []string      `json:"args,omitempty"`
	WorkDir           string        `json:"work_dir,omitempty"`
	Env               []string      `json:"env,omitempty"`
	NewEnvironment    bool          `json:"new_environment,omitempty"`
	Input             string        `json:"input,omitempty"`
	Timeout           time.Duration `json:"timeout,omitempty"`
	ResolveExecutable bool          `json:"resolve_executable,omitempty"`
	SearchPath        bool          `json:"search_path,omitempty"`
}

// Result is the outcome of a remote run.
type Result struct {
	Name      string        `json:"name"`
	Command   []string      `json:"command"`
	PID       int           `json:"pid"`
	ExitCode  int           `json:"exit_code"`
	Exited    bool          `json:"exited"`
	TimedOut  bool          `json:"timed_out"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Usage     Usage         `json:"usage"`
}

// Usage holds resource samples taken during the run, when enabled.
type Usage struct {
	PeakRSS    uint64  `json:"peak_rss,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	Samples    int     `json:"samples,omitempty"`
}

// RunResponse is returned by Run and RunNamed.
type RunResponse struct {
	Result  Result   `json:"result"`
	Failure string   `json:"failure,omitempty"`
	Stdout  []string `json:"stdout"`
	Stderr  []string `json:"stderr"`
}

// ProcessesResponse lists PIDs the server is currently supervising.
type ProcessesResponse struct {
	PIDs []int `json:"pids"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-200 responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return "API error: " + e.Message }

// Token is a bearer token issued by the server.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginResponse is returned by the login endpoint.
type LoginResponse struct {
	Success  bool     `json:"success"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Token    *Token   `json:"token"`
}
