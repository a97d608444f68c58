package process

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/taskexec/internal/watchdog"
)

// Spec describes one external command to run under supervision.
type Spec struct {
	Name              string        `json:"name"`                         // label for logs, metrics and history
	Command           string        `json:"command,omitempty"`            // shell-form command, used when Args is empty
	Args              []string      `json:"args,omitempty"`               // executable followed by its arguments
	WorkDir           string        `json:"work_dir,omitempty"`           // optional working dir; must exist
	Env               []string      `json:"env,omitempty"`                // KEY=VALUE overrides
	NewEnvironment    bool          `json:"new_environment,omitempty"`    // do not inherit the OS environment
	Input             string        `json:"input,omitempty"`              // fed to stdin when no reader is given
	Timeout           time.Duration `json:"timeout,omitempty"`            // 0 disables the watchdog
	ResolveExecutable bool          `json:"resolve_executable,omitempty"` // resolve argv[0] against WorkDir
	SearchPath        bool          `json:"search_path,omitempty"`        // with ResolveExecutable, also search PATH
}

// Validate checks s without touching the filesystem.
func (s *Spec) Validate() error {
	if len(s.Args) == 0 && strings.TrimSpace(s.Command) == "" {
		return invalidSpec("no executable specified")
	}
	if len(s.Args) > 0 && s.Args[0] == "" {
		return invalidSpec("empty executable")
	}
	if s.Timeout < 0 {
		return invalidSpec("timeout cannot be negative")
	}
	if s.Timeout > 0 && s.Timeout < watchdog.MinTimeout {
		return fmt.Errorf("%w: timeout %s is less than %s", watchdog.ErrInvalidArgument, s.Timeout, watchdog.MinTimeout)
	}
	for i, kv := range s.Env {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			return invalidSpec(fmt.Sprintf("env[%d] %q is not in KEY=VALUE format", i, kv))
		}
		if strings.TrimSpace(k) == "" {
			return invalidSpec(fmt.Sprintf("env[%d] has empty key", i))
		}
	}
	return nil
}

// Argv returns the command line to execute. Args wins over Command.
//
// A shell-form Command avoids invoking a shell when not necessary, and it
// respects an explicit shell invocation already present in the string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func (s *Spec) Argv() []string {
	if len(s.Args) > 0 {
		return append([]string(nil), s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return nil
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		return shellArgv(afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellArgv(cmdStr)
	}
	return strings.Fields(cmdStr)
}

// Describe renders the command line for logs.
func (s *Spec) Describe() string { return describe(s.Argv()) }

// DisplayName is Name, or the base name of the executable.
func (s *Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	argv := s.Argv()
	if len(argv) == 0 {
		return ""
	}
	return filepath.Base(argv[0])
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr and returns the script after -c.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// Strip one pair of wrapping quotes so the shell parses the script
			// itself rather than a single quoted word.
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
