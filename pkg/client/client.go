package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a taskexec server.
type Client struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	username string
	password string
	token    string
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration // 0 means no client-side limit; runs may be long
	Logger   *slog.Logger  // Optional logger for client operations
	Insecure bool          // Skip TLS verification

	// Credentials; Token takes precedence over Username/Password.
	Username string
	Password string
	Token    string
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: "http://127.0.0.1:8080/api"}
}

// New creates a new taskexec API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := &http.Transport{}
	if config.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 opt-in
	}
	return &Client{
		baseURL:  config.BaseURL,
		logger:   config.Logger,
		username: config.Username,
		password: config.Password,
		token:    config.Token,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the server is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	var out ProcessesResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/processes", nil, &out); err != nil {
		c.logger.Debug("Server unreachable", "error", err)
		return false
	}
	return true
}

// Login exchanges username and password for a bearer token, which the
// client uses for later requests.
func (c *Client) Login(ctx context.Context, username, password string) (Token, error) {
	data, err := json.Marshal(map[string]string{"method": "basic", "username": username, "password": password})
	if err != nil {
		return Token{}, fmt.Errorf("marshal request: %w", err)
	}
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/auth/login", data, &out); err != nil {
		return Token{}, err
	}
	if out.Token == nil {
		return Token{}, errors.New("login response carried no token")
	}
	c.token = out.Token.Value
	return *out.Token, nil
}

// Run asks the server to run req and waits for the result.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunResponse, error) {
	c.logger.Debug("Running remote command", "name", req.Name, "command", req.Command, "args", req.Args)
	data, err := json.Marshal(req)
	if err != nil {
		return RunResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	var out RunResponse
	err = c.do(ctx, http.MethodPost, c.baseURL+"/run", data, &out)
	return out, err
}

// RunNamed runs a command configured on the server.
func (c *Client) RunNamed(ctx context.Context, name string) (RunResponse, error) {
	var out RunResponse
	err := c.do(ctx, http.MethodPost, c.baseURL+"/commands/"+url.PathEscape(name)+"/run", nil, &out)
	return out, err
}

// Commands lists the command definitions configured on the server.
func (c *Client) Commands(ctx context.Context) ([]RunRequest, error) {
	var out []RunRequest
	err := c.do(ctx, http.MethodGet, c.baseURL+"/commands", nil, &out)
	return out, err
}

// Processes lists the PIDs the server is supervising.
func (c *Client) Processes(ctx context.Context) ([]int, error) {
	var out ProcessesResponse
	err := c.do(ctx, http.MethodGet, c.baseURL+"/processes", nil, &out)
	return out.PIDs, err
}

// do performs HTTP request with common error handling
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}
