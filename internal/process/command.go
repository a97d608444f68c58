package process

import (
	"context"

	"github.com/loykin/taskexec/internal/logger"
)

// RunCommand runs spec with the usual task policy: the command line is
// logged at verbose, stdout lines at info and stderr lines at error, and
// a timeout or failing exit becomes an error.
func (s *Supervisor) RunCommand(spec Spec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}
	name := spec.DisplayName()
	s.logger.Log(context.Background(), logger.SlogVerbose, "executing", "name", name, "command", spec.Describe())

	c := *s
	c.stdoutLevel, c.stderrLevel = logger.LevelInfo, logger.LevelError
	res, err := c.RunLogged(spec, logger.SlogLineFunc(s.logger, "name", name))
	if err != nil {
		return res, err
	}
	return res, res.Err()
}
