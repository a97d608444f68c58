package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/taskexec/internal/auth"
	"github.com/loykin/taskexec/internal/cron"
	"github.com/loykin/taskexec/internal/logger"
	"github.com/loykin/taskexec/internal/process"
	tlsx "github.com/loykin/taskexec/internal/tls"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env        []string         `toml:"env" mapstructure:"env"`
	EnvFiles   []string         `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv   bool             `toml:"use_os_env" mapstructure:"use_os_env"`
	HistoryDSN string           `toml:"history_dsn" mapstructure:"history_dsn"`
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Commands   []CommandConfig  `toml:"commands" mapstructure:"commands"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
}

// SupervisorConfig holds defaults applied to every run.
type SupervisorConfig struct {
	DrainTimeout   time.Duration `toml:"drain_timeout" mapstructure:"drain_timeout"`
	DefaultTimeout time.Duration `toml:"default_timeout" mapstructure:"default_timeout"`
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
	StdoutLevel    string        `toml:"stdout_level" mapstructure:"stdout_level"`
	StderrLevel    string        `toml:"stderr_level" mapstructure:"stderr_level"`
}

// CommandConfig is one named command that can be run by name.
type CommandConfig struct {
	Name              string        `toml:"name" mapstructure:"name"`
	Command           string        `toml:"command" mapstructure:"command"`
	Args              []string      `toml:"args" mapstructure:"args"`
	WorkDir           string        `toml:"workdir" mapstructure:"workdir"`
	Env               []string      `toml:"env" mapstructure:"env"`
	NewEnvironment    bool          `toml:"new_environment" mapstructure:"new_environment"`
	Timeout           time.Duration `toml:"timeout" mapstructure:"timeout"`
	Input             string        `toml:"input" mapstructure:"input"`
	ResolveExecutable bool          `toml:"resolve_executable" mapstructure:"resolve_executable"`
	SearchPath        bool          `toml:"search_path" mapstructure:"search_path"`
	Schedule          string        `toml:"schedule" mapstructure:"schedule"` // "@every <duration>"; run by serve
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen   string      `toml:"listen" mapstructure:"listen"`
	BasePath string      `toml:"base_path" mapstructure:"base_path"`
	Metrics  bool        `toml:"metrics" mapstructure:"metrics"`
	TLS      tlsx.Config `toml:"tls" mapstructure:"tls"`
	Auth     auth.Config `toml:"auth" mapstructure:"auth"`
}

// Config is a loaded and validated configuration.
type Config struct {
	FileConfig

	GlobalEnv   []string
	Specs       []process.Spec
	StdoutLevel logger.Level
	StderrLevel logger.Level
}

// Default supervisor and server settings.
const (
	DefaultListen   = "127.0.0.1:8080"
	DefaultBasePath = "/api"
)

func readFile(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault("supervisor.drain_timeout", process.DefaultDrainTimeout)
	v.SetDefault("supervisor.stdout_level", "info")
	v.SetDefault("supervisor.stderr_level", "warning")
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("server.metrics", true)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Load reads path and resolves global env, levels and command specs.
func Load(path string) (*Config, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{FileConfig: *fc}

	if cfg.StdoutLevel, err = logger.ParseLevel(fc.Supervisor.StdoutLevel); err != nil {
		return nil, fmt.Errorf("supervisor.stdout_level: %w", err)
	}
	if cfg.StderrLevel, err = logger.ParseLevel(fc.Supervisor.StderrLevel); err != nil {
		return nil, fmt.Errorf("supervisor.stderr_level: %w", err)
	}
	if _, err := logger.ParseLevel(fc.Log.Level); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	if cfg.GlobalEnv, err = globalEnv(fc); err != nil {
		return nil, err
	}
	if cfg.Specs, err = buildSpecs(fc); err != nil {
		return nil, err
	}
	resolveTLSPaths(&cfg.Server.TLS, filepath.Dir(path))
	return cfg, nil
}

// resolveTLSPaths makes relative certificate paths relative to the config file.
func resolveTLSPaths(t *tlsx.Config, base string) {
	for _, p := range []*string{&t.Dir, &t.CertFile, &t.KeyFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Jobs returns a cron job for every command with a schedule.
func (c *Config) Jobs() []*cron.Job {
	var jobs []*cron.Job
	for i, cc := range c.Commands {
		if cc.Schedule == "" {
			continue
		}
		jobs = append(jobs, &cron.Job{Name: cc.Name, Spec: c.Specs[i], Schedule: cc.Schedule})
	}
	return jobs
}

// Command returns the command configured under name.
func (c *Config) Command(name string) (process.Spec, bool) {
	for _, s := range c.Specs {
		if s.Name == name {
			return s, true
		}
	}
	return process.Spec{}, false
}

func buildSpecs(fc *FileConfig) ([]process.Spec, error) {
	seen := make(map[string]struct{}, len(fc.Commands))
	specs := make([]process.Spec, 0, len(fc.Commands))
	for i, cc := range fc.Commands {
		if strings.TrimSpace(cc.Name) == "" {
			return nil, fmt.Errorf("commands[%d] requires name", i)
		}
		if _, dup := seen[cc.Name]; dup {
			return nil, fmt.Errorf("command %s is defined more than once", cc.Name)
		}
		seen[cc.Name] = struct{}{}
		if cc.Command != "" && len(cc.Args) > 0 {
			return nil, fmt.Errorf("command %s: set either command or args, not both", cc.Name)
		}
		timeout := cc.Timeout
		if timeout == 0 {
			timeout = fc.Supervisor.DefaultTimeout
		}
		s := process.Spec{
			Name:              cc.Name,
			Command:           cc.Command,
			Args:              cc.Args,
			WorkDir:           cc.WorkDir,
			Env:               cc.Env,
			NewEnvironment:    cc.NewEnvironment,
			Input:             cc.Input,
			Timeout:           timeout,
			ResolveExecutable: cc.ResolveExecutable,
			SearchPath:        cc.SearchPath,
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("command %s: %w", cc.Name, err)
		}
		if cc.Schedule != "" {
			if _, err := cron.ParseEvery(cc.Schedule); err != nil {
				return nil, fmt.Errorf("command %s: %w", cc.Name, err)
			}
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// LoadGlobalEnv merges env from config: top-level env, env_files contents, and optionally OS env when UseOSEnv is true.
// Precedence: OS env (when enabled) provides base; then apply file vars; then top-level env list overrides last.
func LoadGlobalEnv(path string) ([]string, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return globalEnv(fc)
}

func globalEnv(fc *FileConfig) ([]string, error) {
	m := make(map[string]string)
	// base: optional OS env
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				m[k] = v
			}
		}
	}
	// load files in order
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	// apply top-level env overrides
	for _, kv := range fc.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return pairs(m), nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	return pairs(m), nil
}

func pairs(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
