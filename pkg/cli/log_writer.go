package cli

import (
	"strings"

	"github.com/kronktech/sully/pkg/buffer"
)

// LogBuffer holds the most recent log lines.
type LogBuffer = buffer.RingBuffer[string]

// NewLogBuffer creates a log buffer with the given max size.
func NewLogBuffer(maxSize int) *LogBuffer {
	return buffer.RingN[string](maxSize)
}

// LogWriter implements io.Writer and keeps the last lines written, for the
// live view. Pass it to slog.NewTextHandler while the view owns the
// terminal.
type LogWriter struct {
	buf     *LogBuffer
	changed chan struct{}
}

// NewLogWriter creates a log writer holding at most maxLines lines.
func NewLogWriter(maxLines int) *LogWriter {
	if maxLines <= 0 {
		maxLines = 100
	}
	return &LogWriter{
		buf:     NewLogBuffer(maxLines),
		changed: make(chan struct{}, 1),
	}
}

// Write implements io.Writer. Multi-line input is split on newlines.
func (w *LogWriter) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")
	if text == "" {
		return len(p), nil
	}
	_, _ = w.buf.Write(strings.Split(text, "\n"))

	select {
	case w.changed <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first.
func (w *LogWriter) Lines() []string {
	return w.buf.Bytes()
}

// Changed receives after writes. Bursts coalesce into one notification.
func (w *LogWriter) Changed() <-chan struct{} {
	return w.changed
}
