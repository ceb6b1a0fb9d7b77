package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// TestLogEntry is one captured log call.
type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
}

// TestLogger captures log calls for assertions in tests. Safe for use from
// multiple goroutines since the transport logs from its own loops.
type TestLogger struct {
	mu       sync.Mutex
	metadata map[string]interface{}
	entries  []TestLogEntry
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns an empty TestLogger.
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func (t *TestLogger) With(metadata map[string]interface{}) Logger {
	return t
}

func (t *TestLogger) WithPrefix(prefix string) Logger {
	return t
}

func (t *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return true
}

func (t *TestLogger) log(severity string, msg string, args ...interface{}) {
	t.mu.Lock()
	t.entries = append(t.entries, TestLogEntry{severity, msg, args})
	t.mu.Unlock()
}

func (t *TestLogger) Trace(msg string, args ...interface{}) { t.log("TRACE", msg, args...) }
func (t *TestLogger) Debug(msg string, args ...interface{}) { t.log("DEBUG", msg, args...) }
func (t *TestLogger) Info(msg string, args ...interface{})  { t.log("INFO", msg, args...) }
func (t *TestLogger) Warn(msg string, args ...interface{})  { t.log("WARNING", msg, args...) }
func (t *TestLogger) Error(msg string, args ...interface{}) { t.log("ERROR", msg, args...) }

func (t *TestLogger) Fatal(msg string, args ...interface{}) {
	t.log("FATAL", msg, args...)
	os.Exit(1)
}

// Entries returns a copy of everything logged so far.
func (t *TestLogger) Entries() []TestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TestLogEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Contains reports whether any captured message, after formatting, contains
// the substring.
func (t *TestLogger) Contains(substr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if strings.Contains(fmt.Sprintf(e.Message, e.Arguments...), substr) {
			return true
		}
	}
	return false
}
