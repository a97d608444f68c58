package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/loykin/taskexec/internal/process"
)

// exitStatus maps a finished run onto this process's exit status.
func exitStatus(timedOut, exited bool, code int, failed bool) error {
	switch {
	case timedOut:
		return &exitError{code: TimeoutExitCode}
	case !exited:
		return &exitError{code: 1}
	case code != 0:
		return &exitError{code: code}
	case failed:
		return &exitError{code: 1}
	}
	return nil
}

func printCommand(w io.Writer, sp process.Spec) {
	line := fmt.Sprintf("%s\t%s", sp.Name, sp.Describe())
	if sp.Timeout > 0 {
		line += fmt.Sprintf("\ttimeout=%s", sp.Timeout)
	}
	_, _ = fmt.Fprintln(w, line)
}

func printJSON(w io.Writer, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintln(w, err)
		return
	}
	_, _ = fmt.Fprintln(w, string(b))
}
