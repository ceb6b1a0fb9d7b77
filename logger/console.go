package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"
	"slices"
	"strings"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

var noColor = os.Getenv("TERM") == "dumb" ||
	(!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()))

func color(val string) string {
	if isWindows || noColor {
		return ""
	}
	return val
}

const (
	ansiReset       = "\033[0m"
	ansiRed         = "\033[31m"
	ansiGreen       = "\033[32m"
	ansiMagenta     = "\033[35m"
	ansiGray        = "\033[1;90m"
	ansiBlueBold    = "\033[34;1m"
	ansiMagentaBold = "\033[35;1m"
	ansiRedBold     = "\033[31;1m"
	ansiYellowBold  = "\033[33;1m"
	ansiWhiteBold   = "\033[37;1m"
	ansiCyanBold    = "\033[36;1m"
)

type levelStyle struct {
	label        string
	labelColor   string
	messageColor string
}

var consoleStyles = map[LogLevel]levelStyle{
	LevelTrace: {"TRACE", ansiCyanBold, ansiGray},
	LevelDebug: {"DEBUG", ansiBlueBold, ansiGreen},
	LevelInfo:  {"INFO", ansiYellowBold, ansiWhiteBold},
	LevelWarn:  {"WARN", ansiMagentaBold, ansiMagenta},
	LevelError: {"ERROR", ansiRedBold, ansiRed},
}

type consoleLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
}

var _ Logger = (*consoleLogger)(nil)

func (c *consoleLogger) clone() *consoleLogger {
	prefixes := make([]string, len(c.prefixes))
	copy(prefixes, c.prefixes)
	metadata := make(map[string]interface{})
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return &consoleLogger{
		prefixes: prefixes,
		metadata: metadata,
		logLevel: c.logLevel,
	}
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range metadata {
		clone.metadata[k] = v
	}
	return clone
}

func (c *consoleLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	if !slices.Contains(clone.prefixes, prefix) {
		clone.prefixes = append(clone.prefixes, prefix)
	}
	return clone
}

func (c *consoleLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel
}

func (c *consoleLogger) write(level LogLevel, msg string, args ...interface{}) {
	if level < c.logLevel {
		return
	}
	style := consoleStyles[level]
	formatted := fmt.Sprintf(msg, args...)
	var prefix string
	if len(c.prefixes) > 0 {
		prefix = color(ansiMagentaBold) + strings.Join(c.prefixes, " ") + color(ansiReset) + " "
	}
	var suffix string
	if len(c.metadata) > 0 {
		buf, _ := json.Marshal(c.metadata)
		suffix = " " + color(ansiGray) + string(buf) + color(ansiReset)
	}
	var pad string
	if len(style.label) < 5 {
		pad = strings.Repeat(" ", 5-len(style.label))
	}
	levelText := color(style.labelColor) + fmt.Sprintf("[%s]%s", style.label, pad) + color(ansiReset)
	message := color(style.messageColor) + formatted + color(ansiReset)
	log.Printf("%s %s%s%s\n", levelText, prefix, message, suffix)
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) {
	c.write(LevelTrace, msg, args...)
}

func (c *consoleLogger) Debug(msg string, args ...interface{}) {
	c.write(LevelDebug, msg, args...)
}

func (c *consoleLogger) Info(msg string, args ...interface{}) {
	c.write(LevelInfo, msg, args...)
}

func (c *consoleLogger) Warn(msg string, args ...interface{}) {
	c.write(LevelWarn, msg, args...)
}

func (c *consoleLogger) Error(msg string, args ...interface{}) {
	c.write(LevelError, msg, args...)
}

func (c *consoleLogger) Fatal(msg string, args ...interface{}) {
	c.write(LevelError, msg, args...)
	os.Exit(1)
}

// NewConsoleLogger returns a Logger which writes colorized lines to the
// console. With no explicit level it uses GATELINK_LOG_LEVEL.
func NewConsoleLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &consoleLogger{logLevel: level, metadata: make(map[string]interface{})}
}
