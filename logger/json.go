package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// JSONLogEntry is one structured log line.
type JSONLogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type jsonLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
}

var _ Logger = (*jsonLogger)(nil)

func (j *jsonLogger) clone() *jsonLogger {
	prefixes := make([]string, len(j.prefixes))
	copy(prefixes, j.prefixes)
	metadata := make(map[string]interface{})
	for k, v := range j.metadata {
		metadata[k] = v
	}
	return &jsonLogger{prefixes: prefixes, metadata: metadata, logLevel: j.logLevel}
}

func (j *jsonLogger) With(metadata map[string]interface{}) Logger {
	clone := j.clone()
	for k, v := range metadata {
		clone.metadata[k] = v
	}
	return clone
}

func (j *jsonLogger) WithPrefix(prefix string) Logger {
	clone := j.clone()
	clone.prefixes = append(clone.prefixes, prefix)
	return clone
}

func (j *jsonLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= j.logLevel
}

func (j *jsonLogger) write(level LogLevel, severity string, msg string, args ...interface{}) {
	if level < j.logLevel {
		return
	}
	formatted := fmt.Sprintf(msg, args...)
	if len(j.prefixes) > 0 {
		formatted = strings.Join(j.prefixes, " ") + " " + formatted
	}
	entry := JSONLogEntry{
		Timestamp: time.Now(),
		Severity:  severity,
		Message:   formatted,
	}
	if len(j.metadata) > 0 {
		entry.Metadata = j.metadata
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		log.Printf("{\"severity\":\"ERROR\",\"message\":\"error marshalling log entry: %v\"}\n", err)
		return
	}
	log.Println(string(buf))
}

func (j *jsonLogger) Trace(msg string, args ...interface{}) {
	j.write(LevelTrace, "TRACE", msg, args...)
}

func (j *jsonLogger) Debug(msg string, args ...interface{}) {
	j.write(LevelDebug, "DEBUG", msg, args...)
}

func (j *jsonLogger) Info(msg string, args ...interface{}) {
	j.write(LevelInfo, "INFO", msg, args...)
}

func (j *jsonLogger) Warn(msg string, args ...interface{}) {
	j.write(LevelWarn, "WARNING", msg, args...)
}

func (j *jsonLogger) Error(msg string, args ...interface{}) {
	j.write(LevelError, "ERROR", msg, args...)
}

func (j *jsonLogger) Fatal(msg string, args ...interface{}) {
	j.write(LevelError, "ERROR", msg, args...)
	os.Exit(1)
}

// NewJSONLogger returns a Logger which writes one JSON object per line,
// for processes whose output is shipped to a log collector.
func NewJSONLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &jsonLogger{logLevel: level, metadata: make(map[string]interface{})}
}
