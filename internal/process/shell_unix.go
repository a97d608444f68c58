//go:build !windows

package process

// shellArgv returns the argv that runs script through the system shell.
// The absolute path avoids a PATH dependency when Env is overridden.
func shellArgv(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

// exitStatusShowsKill reports whether a forced kill is visible in the wait
// status as a signal rather than a normal exit.
const exitStatusShowsKill = true
