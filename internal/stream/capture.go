package stream

import (
	"sync"

	"github.com/loykin/taskexec/internal/logger"
)

// Line is one captured output line.
type Line struct {
	Text  string       `json:"text"`
	Level logger.Level `json:"level"`
}

// CaptureLines records every line it receives, optionally forwarding to next.
type CaptureLines struct {
	next logger.LineFunc

	mu    sync.Mutex
	lines []Line
}

// NewCaptureLines returns a capture that also forwards to next when non-nil.
func NewCaptureLines(next logger.LineFunc) *CaptureLines {
	return &CaptureLines{next: next}
}

// Func is the LineFunc to hand to a LineWriter.
func (c *CaptureLines) Func() logger.LineFunc {
	return func(line string, level logger.Level) {
		c.mu.Lock()
		c.lines = append(c.lines, Line{Text: line, Level: level})
		c.mu.Unlock()
		if c.next != nil {
			c.next(line, level)
		}
	}
}

// Lines returns a copy of everything captured so far.
func (c *CaptureLines) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line(nil), c.lines...)
}

// Texts returns the captured line contents only.
func (c *CaptureLines) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	for i, l := range c.lines {
		out[i] = l.Text
	}
	return out
}
