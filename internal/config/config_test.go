package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskexec/internal/logger"
	"github.com/loykin/taskexec/internal/process"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "taskexec.toml")
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoad_Minimal(t *testing.T) {
	p := writeTOML(t, `
[[commands]]
name = "demo"
command = "echo hi"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Len(t, cfg.Specs, 1)
	assert.Equal(t, "demo", cfg.Specs[0].Name)
	assert.Equal(t, "echo hi", cfg.Specs[0].Command)

	// defaults
	assert.Equal(t, process.DefaultDrainTimeout, cfg.Supervisor.DrainTimeout)
	assert.Equal(t, logger.LevelInfo, cfg.StdoutLevel)
	assert.Equal(t, logger.LevelWarn, cfg.StderrLevel)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultBasePath, cfg.Server.BasePath)
	assert.True(t, cfg.Server.Metrics)
}

func TestLoad_Full(t *testing.T) {
	dir := t.TempDir()
	p := writeTOML(t, `
history_dsn = "sqlite://`+filepath.ToSlash(filepath.Join(dir, "h.db"))+`"
env = ["A=1"]

[log]
level = "verbose"
format = "json"
  [log.file]
  dir = "`+filepath.ToSlash(dir)+`"
  max_size_mb = 5

[supervisor]
drain_timeout = "2s"
default_timeout = "30s"
sample_interval = "250ms"
stdout_level = "debug"
stderr_level = "error"

[server]
listen = ":9999"
base_path = "/tasks"
metrics = false

[[commands]]
name = "build"
args = ["make", "all"]
workdir = "/tmp"
env = ["CC=gcc"]
new_environment = true
timeout = "5m"
input = "yes\n"
resolve_executable = true
search_path = true

[[commands]]
name = "lint"
command = "golangci-lint run"
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(cfg.HistoryDSN, "sqlite://"))
	assert.Equal(t, "verbose", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Log.File.MaxSizeMB)
	assert.Equal(t, 2*time.Second, cfg.Supervisor.DrainTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Supervisor.SampleInterval)
	assert.Equal(t, logger.LevelDebug, cfg.StdoutLevel)
	assert.Equal(t, logger.LevelError, cfg.StderrLevel)
	assert.Equal(t, ":9999", cfg.Server.Listen)
	assert.Equal(t, "/tasks", cfg.Server.BasePath)
	assert.False(t, cfg.Server.Metrics)
	assert.Equal(t, []string{"A=1"}, cfg.GlobalEnv)

	build, ok := cfg.Command("build")
	require.True(t, ok)
	assert.Equal(t, process.Spec{
		Name:              "build",
		Args:              []string{"make", "all"},
		WorkDir:           "/tmp",
		Env:               []string{"CC=gcc"},
		NewEnvironment:    true,
		Input:             "yes\n",
		Timeout:           5 * time.Minute,
		ResolveExecutable: true,
		SearchPath:        true,
	}, build)

	lint, ok := cfg.Command("lint")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, lint.Timeout, "default_timeout applies")

	_, ok = cfg.Command("missing")
	assert.False(t, ok)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		errPart string
	}{
		{"missing name", "[[commands]]\ncommand = \"true\"\n", "requires name"},
		{"duplicate", "[[commands]]\nname = \"a\"\ncommand = \"true\"\n[[commands]]\nname = \"a\"\ncommand = \"true\"\n", "more than once"},
		{"command and args", "[[commands]]\nname = \"a\"\ncommand = \"true\"\nargs = [\"true\"]\n", "either command or args"},
		{"no executable", "[[commands]]\nname = \"empty\"\n", "command empty"},
		{"bad env", "[[commands]]\nname = \"e\"\ncommand = \"true\"\nenv = [\"NOPE\"]\n", "command e"},
		{"bad level", "[supervisor]\nstdout_level = \"loud\"\n", "stdout_level"},
		{"bad log level", "[log]\nlevel = \"loud\"\n", "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTOML(t, tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadEnvFileInvalidPath(t *testing.T) {
	if _, err := LoadEnvFile("/definitely/not/exist.env"); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func TestLoad_ServerTLSAndAuth(t *testing.T) {
	p := writeTOML(t, `
[server.tls]
enabled = true
dir = "certs"
auto_generate = true
min_version = "1.2"

[server.auth]
enabled = true
jwt_secret = "secret"
token_ttl = "1h"

[[server.auth.users]]
username = "admin"
password_hash = "$2a$10$abcdefghijklmnopqrstuu"
roles = ["admin"]

[[server.auth.clients]]
client_id = "ci"
client_secret = "ci-secret"
scopes = ["operator"]
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	tls := cfg.Server.TLS
	assert.True(t, tls.Enabled)
	assert.True(t, tls.AutoGenerate)
	assert.Equal(t, "1.2", tls.MinVersion)
	assert.Equal(t, filepath.Join(filepath.Dir(p), "certs"), tls.Dir)

	a := cfg.Server.Auth
	assert.True(t, a.Enabled)
	assert.Equal(t, time.Hour, a.TokenTTL)
	require.Len(t, a.Users, 1)
	assert.Equal(t, "admin", a.Users[0].Username)
	assert.Equal(t, []string{"admin"}, a.Users[0].Roles)
	require.Len(t, a.Clients, 1)
	assert.Equal(t, []string{"operator"}, a.Clients[0].Scopes)
}

func TestLoad_Schedules(t *testing.T) {
	p := writeTOML(t, `
[[commands]]
name = "once"
command = "true"

[[commands]]
name = "tick"
args = ["date"]
schedule = "@every 1m"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	jobs := cfg.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "tick", jobs[0].Name)
	assert.Equal(t, "@every 1m", jobs[0].Schedule)
	assert.Equal(t, []string{"date"}, jobs[0].Spec.Args)

	p = writeTOML(t, `
[[commands]]
name = "bad"
command = "true"
schedule = "0 * * * *"
`)
	_, err = Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command bad")
}
