package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"safestep/pkg/config"
	"safestep/pkg/model"
)

// RequestLogger is the logger instance for HTTP requests.
var RequestLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	eventLogPath string
	eventLogMu   sync.Mutex
)

// Init initializes the logging system based on configuration.
// It returns a cleanup function to close log files.
func Init(cfg *config.LogConfig, hCfg *config.HistoryConfig) (func(), error) {
	// Previous run's logs are kept as .old
	rotatePaths(cfg.Server.Path, cfg.Requests.Path, cfg.Events.Path)
	SetEventLogPath(cfg.Events.Path)

	if hCfg != nil {
		if hCfg.LLM.Enabled {
			rotatePaths(hCfg.LLM.Path)
		}
		if hCfg.TTS.Enabled {
			rotatePaths(hCfg.TTS.Path)
		}
	}

	var closers []io.Closer

	serverHandler, serverFile, err := setupHandler(cfg.Server.Path, cfg.Server.Level, true)
	if err != nil {
		return nil, fmt.Errorf("failed to setup server logger: %w", err)
	}
	closers = append(closers, serverFile)
	slog.SetDefault(slog.New(serverHandler))

	requestHandler, requestFile, err := setupHandler(cfg.Requests.Path, cfg.Requests.Level, false)
	if err != nil {
		serverFile.Close()
		return nil, fmt.Errorf("failed to setup requests logger: %w", err)
	}
	closers = append(closers, requestFile)
	RequestLogger = slog.New(requestHandler)

	return func() {
		for _, c := range closers {
			c.Close()
		}
	}, nil
}

// ParseLevel maps a config string to a slog level; unknown values mean INFO.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		EnableTrace = true
		return slog.LevelDebug
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupHandler(path, levelStr string, stdout bool) (slog.Handler, *os.File, error) {
	level := ParseLevel(levelStr)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	if !stdout {
		return fileHandler, file, nil
	}

	// Console never goes below INFO
	consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: max(level, slog.LevelInfo),
	})
	captureHandler := slog.NewTextHandler(GlobalLogCapture, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return &multiHandler{handlers: []slog.Handler{fileHandler, consoleHandler, captureHandler}}, file, nil
}

type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler
// nolint:gocritic // r must be passed by value to implement slog.Handler
func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// rotatePaths renames existing log files to .old, replacing any previous .old.
func rotatePaths(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			oldPath := p + ".old"
			_ = os.Remove(oldPath)
			_ = os.Rename(p, oldPath)
		}
	}
}

// SetEventLogPath configures the path for the event log file.
func SetEventLogPath(path string) {
	eventLogMu.Lock()
	defer eventLogMu.Unlock()
	eventLogPath = path
}

// FormatEvent renders a walk event as a single log line:
// [2006-01-02 15:04:05] [type] Title - Summary key=value ...
func FormatEvent(event *model.WalkEvent) string {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] [%s] %s", ts.Format("2006-01-02 15:04:05"), event.Type, event.Title)
	if event.Summary != "" {
		sb.WriteString(" - ")
		sb.WriteString(event.Summary)
	}

	keys := make([]string, 0, len(event.Data))
	for k := range event.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, event.Data[k])
	}
	return sb.String()
}

// LogEvent appends a walk event to the event log file and the event capture.
func LogEvent(event *model.WalkEvent) {
	if event == nil {
		return
	}
	line := FormatEvent(event)

	eventLogMu.Lock()
	defer eventLogMu.Unlock()

	_, _ = GlobalEventCapture.Write([]byte(line))

	if eventLogPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(eventLogPath), 0o755); err != nil {
		slog.Error("failed to create event log directory", "error", err)
		return
	}
	f, err := os.OpenFile(eventLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("failed to open event log", "error", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		slog.Error("failed to write event log", "error", err)
	}
}
