package core

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const correlationIDKey contextKey = "correlation-id"

// WithCorrelationID returns a new context with the correlation ID attached.
// The correlation ID ties a dispatch to its usage record and log lines.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// GetCorrelationID retrieves the correlation ID from the context.
// Returns empty string if not found.
func GetCorrelationID(ctx context.Context) string {
	if v := ctx.Value(correlationIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
