package process

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidSpec reports a spec that cannot be run as given.
	ErrInvalidSpec = errors.New("invalid process spec")
	// ErrShuttingDown is returned when a process is spawned after the
	// registry has destroyed everything for shutdown.
	ErrShuttingDown = errors.New("process registry is shutting down")
	// ErrTimedOut is returned by RunCommand when the watchdog killed the process.
	ErrTimedOut = errors.New("timeout: killed the sub-process")
	// ErrNonZeroExit is returned by RunCommand for a failing exit code.
	ErrNonZeroExit = errors.New("non-zero exit")

	errNotDir = errors.New("not a directory")
)

// SpawnError reports that a process could not be started. No relay or
// watchdog has been started when it is returned.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	name := ""
	if len(e.Command) > 0 {
		name = e.Command[0]
	}
	return "could not launch " + name + ": " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err is, or wraps, a SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

func invalidSpec(msg string) error {
	return &specError{msg: msg}
}

type specError struct{ msg string }

func (e *specError) Error() string        { return ErrInvalidSpec.Error() + ": " + e.msg }
func (e *specError) Is(target error) bool { return target == ErrInvalidSpec }

// IsFailure reports whether an exit code signals failure.
func IsFailure(code int) bool { return code != 0 }

// describe quotes arguments that need it so the line can be pasted into a shell.
func describe(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		switch {
		case a == "":
			parts[i] = `""`
		case strings.ContainsAny(a, "\""):
			parts[i] = "'" + a + "'"
		case strings.ContainsAny(a, " \t'"):
			parts[i] = `"` + a + `"`
		default:
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}
