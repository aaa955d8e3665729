package logger

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	executionIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithExecutionID returns a new context carrying the scenario execution ID.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// ExecutionID extracts the execution ID from the context, or "".
func ExecutionID(ctx context.Context) string {
	id, _ := ctx.Value(executionIDKey).(string)
	return id
}

// From returns slog.Default() enriched with the request and execution IDs
// found in ctx.
func From(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := RequestID(ctx); id != "" {
		l = l.With("request_id", id)
	}
	if id := ExecutionID(ctx); id != "" {
		l = l.With("execution_id", id)
	}
	return l
}
