// Package observability wires logging, tracing, metrics and the audit trail
// for the assistant.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TraceContextHandler is a slog.Handler that adds trace_id and span_id to
// records logged inside a span.
type TraceContextHandler struct {
	handler slog.Handler
}

// NewTraceContextHandler wraps handler.
func NewTraceContextHandler(handler slog.Handler) *TraceContextHandler {
	return &TraceContextHandler{handler: handler}
}

// Enabled reports whether the wrapped handler handles records at level.
func (h *TraceContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle adds trace context and passes the record on.
func (h *TraceContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.handler.Handle(ctx, record)
}

// WithAttrs returns a new handler with additional attributes.
func (h *TraceContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceContextHandler{handler: h.handler.WithAttrs(attrs)}
}

// WithGroup returns a new handler with the given group.
func (h *TraceContextHandler) WithGroup(name string) slog.Handler {
	return &TraceContextHandler{handler: h.handler.WithGroup(name)}
}

// StructuredHandler writes one JSON object per record with the keys
// timestamp, level, message and source, followed by the record attributes.
// Grouped attributes are flattened with dotted keys.
type StructuredHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewStructuredHandler creates a handler writing to out (stdout when nil).
func NewStructuredHandler(out io.Writer, level slog.Leveler) *StructuredHandler {
	if out == nil {
		out = os.Stdout
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &StructuredHandler{out: out, mu: &sync.Mutex{}, level: level}
}

// Enabled reports whether level is at or above the configured level.
func (h *StructuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes the record.
func (h *StructuredHandler) Handle(_ context.Context, record slog.Record) error {
	entry := map[string]interface{}{
		"timestamp": record.Time.UTC().Format(time.RFC3339Nano),
		"level":     record.Level.String(),
		"message":   record.Message,
	}

	if record.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{record.PC})
		f, _ := frames.Next()
		entry["source"] = fmt.Sprintf("%s:%d", f.File, f.Line)
	}

	for _, attr := range h.attrs {
		addAttr(entry, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		addAttr(entry, h.prefix, attr)
		return true
	})

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = fmt.Fprintln(h.out, string(data))
	return err
}

func addAttr(entry map[string]interface{}, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := prefix + attr.Key
	if attr.Value.Kind() == slog.KindGroup {
		for _, a := range attr.Value.Group() {
			addAttr(entry, key+".", a)
		}
		return
	}
	switch attr.Value.Kind() {
	case slog.KindDuration:
		entry[key] = attr.Value.Duration().String()
	case slog.KindTime:
		entry[key] = attr.Value.Time().UTC().Format(time.RFC3339Nano)
	default:
		v := attr.Value.Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[key] = v
	}
}

// WithAttrs returns a new handler with additional attributes.
func (h *StructuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return &next
}

// WithGroup returns a new handler with the given group.
func (h *StructuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// ParseLevel converts "debug", "info", "warn" or "error" to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// NewLogger builds a logger writing to out. Structured output is JSON;
// otherwise slog's text format is used.
func NewLogger(out io.Writer, level slog.Level, structured, includeTraceContext bool) *slog.Logger {
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler
	if structured {
		handler = NewStructuredHandler(out, level)
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	if includeTraceContext {
		handler = NewTraceContextHandler(handler)
	}
	return slog.New(handler)
}

// ConfigureLogging installs a logger on stderr as the slog default and
// returns it.
func ConfigureLogging(level slog.Level, structured bool, includeTraceContext bool) *slog.Logger {
	logger := NewLogger(os.Stderr, level, structured, includeTraceContext)
	slog.SetDefault(logger)
	return logger
}
