//go:build windows

package process

// shellArgv returns the argv that runs script through the system shell.
func shellArgv(script string) []string {
	return []string{"cmd", "/c", script}
}

// exitStatusShowsKill reports whether a forced kill is visible in the wait
// status as a signal rather than a normal exit.
const exitStatusShowsKill = false
