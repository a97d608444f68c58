package history

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memSink) Send(ctx context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline")
	}
	m.events = append(m.events, e)
	return m.err
}

func TestEmitFansOut(t *testing.T) {
	a, b := &memSink{}, &memSink{}
	e := Event{Type: EventFinished, OccurredAt: time.Now(), Record: Record{Name: "job", ExitCode: 0, Exited: true}}
	Emit(nil, []Sink{a, b}, e)
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, "job", a.events[0].Record.Name)
}

func TestEmitLogsSinkErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	bad := &memSink{err: errors.New("boom")}
	good := &memSink{}
	Emit(logger, []Sink{bad, good}, Event{Type: EventTimeout, Record: Record{Name: "slow"}})
	assert.Len(t, good.events, 1)
	assert.Contains(t, buf.String(), "history send failed")
	assert.Contains(t, buf.String(), "boom")
}

func TestEmitNoSinks(t *testing.T) {
	Emit(nil, nil, Event{Type: EventSpawnFailed})
}
