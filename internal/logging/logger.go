// Package logging provides the structured JSON logger shared by all
// components. Every session query carries a correlation id that the logger
// threads through context.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string onto a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is the structured logging contract. Fields are alternating
// key/value pairs.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	DebugContext(ctx context.Context, msg string, fields ...any)
	InfoContext(ctx context.Context, msg string, fields ...any)
	WarnContext(ctx context.Context, msg string, fields ...any)
	ErrorContext(ctx context.Context, msg string, fields ...any)

	WithComponent(component string) Logger
}

type ctxKey string

// correlationKey carries the per-query correlation id in context.
const correlationKey ctxKey = "correlation_id"

// WithCorrelation attaches a correlation id to the context, minting one when
// the given id is empty.
func WithCorrelation(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID extracts the correlation id from the context, if any.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

type entry struct {
	Timestamp     string         `json:"timestamp"`
	Level         string         `json:"level"`
	Message       string         `json:"message"`
	Component     string         `json:"component,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

type jsonLogger struct {
	level     Level
	component string
	useJSON   bool
}

// New creates a logger writing one line per event to stdout.
func New(level Level, useJSON bool) Logger {
	return &jsonLogger{level: level, useJSON: useJSON}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() Logger { return &jsonLogger{level: LevelError + 1} }

func (l *jsonLogger) WithComponent(component string) Logger {
	return &jsonLogger{level: l.level, component: component, useJSON: l.useJSON}
}

func (l *jsonLogger) Debug(msg string, fields ...any) { l.log(LevelDebug, "", msg, fields) }
func (l *jsonLogger) Info(msg string, fields ...any)  { l.log(LevelInfo, "", msg, fields) }
func (l *jsonLogger) Warn(msg string, fields ...any)  { l.log(LevelWarn, "", msg, fields) }
func (l *jsonLogger) Error(msg string, fields ...any) { l.log(LevelError, "", msg, fields) }

func (l *jsonLogger) DebugContext(ctx context.Context, msg string, fields ...any) {
	l.log(LevelDebug, CorrelationID(ctx), msg, fields)
}

func (l *jsonLogger) InfoContext(ctx context.Context, msg string, fields ...any) {
	l.log(LevelInfo, CorrelationID(ctx), msg, fields)
}

func (l *jsonLogger) WarnContext(ctx context.Context, msg string, fields ...any) {
	l.log(LevelWarn, CorrelationID(ctx), msg, fields)
}

func (l *jsonLogger) ErrorContext(ctx context.Context, msg string, fields ...any) {
	l.log(LevelError, CorrelationID(ctx), msg, fields)
}

func (l *jsonLogger) log(level Level, correlationID, msg string, fields []any) {
	if level < l.level {
		return
	}

	fieldMap := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		fieldMap[fmt.Sprintf("%v", fields[i])] = fields[i+1]
	}

	e := entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Level:         levelName(level),
		Message:       msg,
		Component:     l.component,
		CorrelationID: correlationID,
		Fields:        fieldMap,
	}

	if l.useJSON {
		if data, err := json.Marshal(e); err == nil {
			fmt.Fprintln(os.Stdout, string(data))
		}
		return
	}

	parts := []string{e.Timestamp, "[" + e.Level + "]"}
	if e.Component != "" {
		parts = append(parts, e.Component)
	}
	parts = append(parts, e.Message)
	for k, v := range fieldMap {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	fmt.Fprintln(os.Stdout, strings.Join(parts, " "))
}

func levelName(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}
