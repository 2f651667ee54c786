package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	logPath = ""
	mu      sync.RWMutex
)

// SetLogPath configures the path for the TTS history file. Empty disables it.
func SetLogPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	logPath = path
}

// Log appends the script and outcome of a synthesis to the TTS history file.
func Log(provider, script string, status int, err error) {
	mu.RLock()
	path := logPath
	mu.RUnlock()
	if path == "" {
		return
	}

	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, fileErr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if fileErr != nil {
		return
	}
	defer f.Close()

	statusStr := fmt.Sprintf("%d", status)
	if err != nil {
		statusStr = fmt.Sprintf("ERROR(%v)", err)
	}

	// [TIMESTAMP] [PROVIDER] STATUS: <code>
	entry := fmt.Sprintf("[%s] [%s] STATUS: %s\nSCRIPT:\n%s\n--------------------------------------------------\n",
		time.Now().Format("2006-01-02 15:04:05"), provider, statusStr, script)
	_, _ = f.WriteString(entry)
}
