package logging

import (
	"strings"
	"sync"
)

const captureLines = 50

// LogCaptureWriter is a thread-safe writer that keeps the most recent lines.
type LogCaptureWriter struct {
	mu    sync.RWMutex
	lines []string
	size  int
}

// NewLogCapture returns a writer remembering at most size lines.
func NewLogCapture(size int) *LogCaptureWriter {
	if size < 1 {
		size = 1
	}
	return &LogCaptureWriter{size: size}
}

// GlobalLogCapture captures the server log for /api/log/latest.
var GlobalLogCapture = NewLogCapture(captureLines)

// GlobalEventCapture captures walk events.
var GlobalEventCapture = NewLogCapture(captureLines)

// Write implements io.Writer. Each call is one line.
func (w *LogCaptureWriter) Write(p []byte) (n int, err error) {
	line := strings.TrimRight(string(p), "\r\n")

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, line)
	if len(w.lines) > w.size {
		w.lines = w.lines[len(w.lines)-w.size:]
	}
	return len(p), nil
}

// GetLastLine returns the most recent line.
func (w *LogCaptureWriter) GetLastLine() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.lines) == 0 {
		return ""
	}
	return w.lines[len(w.lines)-1]
}

// Lines returns up to n recent lines, oldest first. n <= 0 returns all.
func (w *LogCaptureWriter) Lines(n int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	start := 0
	if n > 0 && n < len(w.lines) {
		start = len(w.lines) - n
	}
	out := make([]string, len(w.lines)-start)
	copy(out, w.lines[start:])
	return out
}
