package reqcontext

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContextKey is the type for context keys to avoid collisions
type ContextKey string

const (
	// CorrelationIDKey is the context key for correlation IDs
	CorrelationIDKey ContextKey = "correlation_id"

	// IdentityKey is the context key for the lab identity a session logs in as
	IdentityKey ContextKey = "identity"

	stepKey ContextKey = "step"
)

// GenerateCorrelationID generates a new unique correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// GetCorrelationID retrieves the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithIdentity records which lab identity the context belongs to
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetIdentity retrieves the lab identity from context
func GetIdentity(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(IdentityKey).(string); ok {
		return id
	}
	return ""
}

// Fields returns the zap fields that tie a log line to its session
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id := GetCorrelationID(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}
	if identity := GetIdentity(ctx); identity != "" {
		fields = append(fields, zap.String("identity", identity))
	}
	return fields
}
