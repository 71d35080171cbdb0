package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel accepts the names Level.String produces; empty means info.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", raw)
}

// Fields under these keys never reach the output. Verification codes and
// whatever was typed at the prompt are the obvious ones.
var redactedKeys = map[string]bool{
	"code":          true,
	"input":         true,
	"secret":        true,
	"shared_secret": true,
	"token":         true,
}

const redacted = "[redacted]"

type Logger struct {
	base   *log.Logger
	min    Level
	fields map[string]any
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout)
}

// NewLoggerTo writes JSON lines to w. The gate uses stderr so nothing lands
// on the login terminal's stdout.
func NewLoggerTo(w io.Writer) *Logger {
	return &Logger{base: log.New(w, "", 0), min: LevelInfo}
}

// WithLevel returns a logger that drops entries below min.
func (l *Logger) WithLevel(min Level) *Logger {
	return &Logger{base: l.base, min: min, fields: l.fields}
}

// With returns a logger that adds fields to every entry. Per-call fields win.
func (l *Logger) With(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{base: l.base, min: l.min, fields: merged}
}

func (l *Logger) Enabled(level Level) bool {
	return level >= l.min
}

func (l *Logger) Debug(message string, fields map[string]any) {
	l.write(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.write(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.write(LevelWarn, message, fields)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.write(LevelError, message, fields)
}

func (l *Logger) write(level Level, message string, fields map[string]any) {
	if !l.Enabled(level) {
		return
	}

	payload := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level.String(),
		"message":   message,
	}
	for k, v := range l.fields {
		payload[k] = scrub(k, v)
	}
	for k, v := range fields {
		payload[k] = scrub(k, v)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		l.base.Println(`{"level":"error","message":"failed to encode log"}`)
		return
	}

	l.base.Println(string(encoded))
}

func scrub(key string, value any) any {
	if redactedKeys[strings.ToLower(key)] {
		return redacted
	}
	return value
}
