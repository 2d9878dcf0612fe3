// Package logging writes one JSON object per line with a "ts" timestamp
// rendered in the configured location. It is a thin layer over log/slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

type Logger struct {
	slog *slog.Logger
	loc  *time.Location
}

// New returns a Logger writing to w. A nil loc means UTC.
func New(w io.Writer, loc *time.Location) *Logger {
	if loc == nil {
		loc = time.UTC
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String("ts", a.Value.Time().In(loc).Format(time.RFC3339Nano))
			case slog.LevelKey:
				return slog.String(slog.LevelKey, strings.ToLower(a.Value.String()))
			}
			return a
		},
	})
	return &Logger{slog: slog.New(h), loc: loc}
}

var std = New(os.Stdout, time.UTC)

// Default returns the process-wide logger writing to stdout.
func Default() *Logger { return std }

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) { std = l }

// Location is the time zone used for "ts".
func (l *Logger) Location() *time.Location { return l.loc }

// Log writes fields as one JSON line. "msg" and "level" are taken from
// fields when present; level defaults to "error" when status is "error"
// and "info" otherwise.
func (l *Logger) Log(fields map[string]any) {
	l.LogContext(context.Background(), fields)
}

// LogContext is Log with the request id carried by ctx, if any, added as
// "request_id".
func (l *Logger) LogContext(ctx context.Context, fields map[string]any) {
	level := slog.LevelInfo
	if fields["status"] == "error" {
		level = slog.LevelError
	}
	if s, ok := fields["level"].(string); ok {
		level = parseLevel(s)
	}
	msg, _ := fields["msg"].(string)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "msg" || k == "level" || k == "ts" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys)+1)
	if rid := RequestIDFromContext(ctx); rid != "" {
		if _, set := fields["request_id"]; !set {
			attrs = append(attrs, slog.String("request_id", rid))
		}
	}
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	l.slog.LogAttrs(ctx, level, msg, attrs...)
}

func (l *Logger) Info(msg string, fields map[string]any) { l.emit(context.Background(), "info", msg, fields) }

func (l *Logger) Warn(msg string, fields map[string]any) { l.emit(context.Background(), "warn", msg, fields) }

func (l *Logger) Error(msg string, err error, fields map[string]any) {
	l.ErrorContext(context.Background(), msg, err, fields)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, fields map[string]any) {
	l.emit(ctx, "warn", msg, fields)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, err error, fields map[string]any) {
	entry := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		entry[k] = v
	}
	if err != nil {
		entry["error"] = err.Error()
	}
	l.emit(ctx, "error", msg, entry)
}

func (l *Logger) emit(ctx context.Context, level, msg string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	entry["level"] = level
	entry["msg"] = msg
	l.LogContext(ctx, entry)
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

type requestIDKey struct{}

// WithRequestID returns a copy of ctx carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
