// Package logger writes one JSON object per line. Phone numbers are the
// PII of this system and are masked unless redaction is turned off.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents the severity of a log entry.
type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel maps a config string onto a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// sink is shared by a root logger and everything derived from it.
type sink struct {
	mu        sync.Mutex
	out       io.Writer
	level     atomic.Int32
	redactPII atomic.Bool
}

// Logger carries a set of bound fields. The zero value is not usable;
// derive loggers from the package functions or With.
type Logger struct {
	s      *sink
	fields []interface{}
}

var root = newRoot()

func newRoot() *Logger {
	s := &sink{out: os.Stderr}
	s.level.Store(int32(INFO))
	s.redactPII.Store(true)
	return &Logger{s: s}
}

// SetLevel sets the minimum level for every logger.
func SetLevel(l Level) { root.s.level.Store(int32(l)) }

// SetRedactPII turns phone masking on or off for every logger.
func SetRedactPII(r bool) { root.s.redactPII.Store(r) }

// SetOutput redirects every logger; nil restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	root.s.mu.Lock()
	root.s.out = w
	root.s.mu.Unlock()
}

// With returns a logger that adds the key-value pairs to every entry.
func With(fields ...interface{}) *Logger { return root.With(fields...) }

// With returns a child logger with extra bound fields.
func (l *Logger) With(fields ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{s: l.s, fields: merged}
}

func Debug(msg string, fields ...interface{}) { root.write(DEBUG, msg, fields) }
func Info(msg string, fields ...interface{})  { root.write(INFO, msg, fields) }
func Warn(msg string, fields ...interface{})  { root.write(WARN, msg, fields) }
func Error(msg string, fields ...interface{}) { root.write(ERROR, msg, fields) }

func (l *Logger) Debug(msg string, fields ...interface{}) { l.write(DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.write(INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.write(WARN, msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.write(ERROR, msg, fields) }

func (l *Logger) write(level Level, msg string, fields []interface{}) {
	if int32(level) < l.s.level.Load() {
		return
	}
	redact := l.s.redactPII.Load()

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339Nano),
		"level": level.String(),
		"msg":   msg,
	}
	for _, kv := range [][]interface{}{l.fields, fields} {
		for i := 0; i+1 < len(kv); i += 2 {
			key := fmt.Sprint(kv[i])
			entry[key] = value(key, kv[i+1], redact)
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"level":"ERROR","msg":"unencodable log entry: %s"}`, err))
	}
	l.s.mu.Lock()
	l.s.out.Write(append(data, '\n'))
	l.s.mu.Unlock()
}

// value keeps numbers and booleans as JSON scalars; everything else is
// stringified and, when enabled, redacted.
func value(key string, v interface{}, redact bool) interface{} {
	switch t := v.(type) {
	case int, int32, int64, uint, uint32, uint64, float32, float64, bool:
		return t
	case time.Duration:
		return t.String()
	case error:
		v = t.Error()
	}
	s := fmt.Sprint(v)
	if !redact {
		return s
	}
	k := strings.ToLower(key)
	if strings.Contains(k, "phone") || strings.Contains(k, "msisdn") || k == "to" {
		return RedactPhone(s)
	}
	return phoneRegex.ReplaceAllStringFunc(s, RedactPhone)
}
