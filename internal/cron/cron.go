package cron

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/taskexec/internal/process"
)

// Runner executes one scheduled run. *process.Supervisor implements it.
type Runner interface {
	RunCommand(spec process.Spec) (process.Result, error)
}

// Job runs Spec on a schedule of the form "@every <duration>".
// A tick is skipped while the previous run of the same job is still active.
type Job struct {
	Name     string
	Spec     process.Spec
	Schedule string

	period  time.Duration
	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

// Runs is the number of runs started so far.
func (j *Job) Runs() int64 { return j.runs.Load() }

// Skipped counts ticks dropped because a run was still active.
func (j *Job) Skipped() int64 { return j.skipped.Load() }

// ParseEvery parses schedules of the form "@every <duration>".
func ParseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("@every duration must be > 0")
	}
	return d, nil
}

// Scheduler runs jobs on background tickers until Stop.
type Scheduler struct {
	runner Runner
	logger *slog.Logger

	mu   sync.Mutex
	jobs []*Job
	quit chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(r Runner, l *slog.Logger) *Scheduler {
	if l == nil {
		l = slog.Default()
	}
	return &Scheduler{runner: r, logger: l}
}

// Add validates j and registers it. Jobs cannot be added after Start.
func (s *Scheduler) Add(j *Job) error {
	if j.Name == "" {
		return errors.New("cron job requires a name")
	}
	d, err := ParseEvery(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	if err := j.Spec.Validate(); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	for _, o := range s.jobs {
		if o.Name == j.Name {
			return fmt.Errorf("duplicate cron job %q", j.Name)
		}
	}
	j.period = d
	s.jobs = append(s.jobs, j)
	return nil
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Job(nil), s.jobs...)
}

// Start launches all job loops. Call Stop to cancel.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	s.quit = make(chan struct{})
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(j)
	}
	return nil
}

func (s *Scheduler) loop(j *Job) {
	defer s.wg.Done()
	t := time.NewTicker(j.period)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
			if !j.running.CompareAndSwap(false, true) {
				j.skipped.Add(1)
				s.logger.Warn("cron tick skipped, previous run still active", "job", j.Name)
				continue
			}
			j.runs.Add(1)
			s.wg.Add(1)
			go s.run(j)
		}
	}
}

func (s *Scheduler) run(j *Job) {
	defer s.wg.Done()
	defer j.running.Store(false)
	res, err := s.runner.RunCommand(j.Spec)
	if err != nil {
		s.logger.Error("cron job failed", "job", j.Name, "error", err, "duration", res.Duration)
	}
}

// Stop cancels all jobs and waits for loops and in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.quit == nil {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
