package stream

import (
	"bytes"
	"io"
	"sync"

	"github.com/loykin/taskexec/internal/logger"
)

// LineWriter accumulates bytes and hands each completed line to a callback.
// "\n", "\r\n" and a lone "\r" each end a line; "\r\n" yields one line, not
// two. Bytes still pending when the writer is flushed become a final line.
//
// Write never fails. A callback that panics loses that line only.
type LineWriter struct {
	fn    logger.LineFunc
	level logger.Level

	mu      sync.Mutex
	buf     bytes.Buffer
	skipLF  bool // previous byte was '\r'
	emitted int
}

// NewLineWriter emits lines to fn at level.
func NewLineWriter(fn logger.LineFunc, level logger.Level) *LineWriter {
	return &LineWriter{fn: fn, level: level}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range p {
		switch c {
		case '\n':
			if !w.skipLF {
				w.emit()
			}
		case '\r':
			w.emit()
		default:
			w.buf.WriteByte(c)
		}
		w.skipLF = c == '\r'
	}
	return len(p), nil
}

// Flush emits any pending partial line.
func (w *LineWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit()
	}
	return nil
}

// Close flushes; the writer may not be reused afterwards.
func (w *LineWriter) Close() error { return w.Flush() }

// Lines returns how many lines were handed to the callback.
func (w *LineWriter) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.emitted
}

// Level returns the severity lines are emitted at.
func (w *LineWriter) Level() logger.Level { return w.level }

func (w *LineWriter) emit() {
	line := w.buf.String()
	w.buf.Reset()
	w.emitted++
	if w.fn == nil {
		return
	}
	defer func() { _ = recover() }()
	w.fn(line, w.level)
}

// NewLineLogger returns a relay that splits src into lines delivered to fn at
// level. The final partial line is emitted when src is exhausted.
func NewLineLogger(src io.Reader, fn logger.LineFunc, level logger.Level, opts ...RelayOption) *Relay {
	return NewRelay(src, NewLineWriter(fn, level), opts...)
}

// TeeWriter copies bytes to a raw writer and splits the same bytes into lines.
// A failing raw writer does not stop line delivery.
type TeeWriter struct {
	w     io.Writer
	lines *LineWriter
	err   error
}

// NewTeeWriter writes to w and emits lines to fn at level.
func NewTeeWriter(w io.Writer, fn logger.LineFunc, level logger.Level) *TeeWriter {
	return &TeeWriter{w: w, lines: NewLineWriter(fn, level)}
}

func (t *TeeWriter) Write(p []byte) (int, error) {
	if t.err == nil {
		if _, err := t.w.Write(p); err != nil {
			t.err = err
		}
	}
	return t.lines.Write(p)
}

// Flush emits the pending line and flushes the raw writer when it can.
func (t *TeeWriter) Flush() error {
	if f, ok := t.w.(Flusher); ok {
		_ = f.Flush()
	}
	return t.lines.Flush()
}

// Err returns the first error from the raw writer.
func (t *TeeWriter) Err() error { return t.err }
