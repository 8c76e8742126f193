// Package trace carries a per-message trace ID through context.Context so
// that every log line produced while handling one inbound message (lock,
// classification, escalation, reply) can be correlated.
package trace

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// traceKey is the unexported context key used to store the trace ID.
type traceKey struct{}

// GenerateID returns a new random trace ID.
func GenerateID() string {
	return "t_" + uuid.NewString()
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// Ensure returns ctx unchanged when it already carries a trace ID, otherwise
// a child context with a freshly generated one.
func Ensure(ctx context.Context) context.Context {
	if FromContext(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, GenerateID())
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger returns slog.Default() annotated with the trace ID from ctx, if any.
func Logger(ctx context.Context) *slog.Logger {
	if id := FromContext(ctx); id != "" {
		return slog.Default().With("trace_id", id)
	}
	return slog.Default()
}
