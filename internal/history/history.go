// Package history exports one event per supervised run to analytics stores.
package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines how a run ended.
type EventType string

const (
	EventFinished    EventType = "finished"
	EventTimeout     EventType = "timeout"
	EventSpawnFailed EventType = "spawn_failed"
)

// Record describes a completed (or failed to start) run.
type Record struct {
	Name      string        `json:"name"`
	Command   string        `json:"command"`
	WorkDir   string        `json:"work_dir,omitempty"`
	PID       int           `json:"pid,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	ExitCode  int           `json:"exit_code"` // -1 when the process did not exit normally
	Exited    bool          `json:"exited"`
	TimedOut  bool          `json:"timed_out"`
	Error     string        `json:"error,omitempty"`
}

// Event represents a run outcome to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SendTimeout bounds each Send issued by Emit.
const SendTimeout = 5 * time.Second

// Emit delivers e to every sink. Failures are logged and never returned so a
// broken store cannot change the outcome of a run.
func Emit(logger *slog.Logger, sinks []Sink, e Event) {
	if len(sinks) == 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
		if err := s.Send(ctx, e); err != nil {
			logger.Warn("history send failed", "name", e.Record.Name, "type", string(e.Type), "error", err)
		}
		cancel()
	}
}
