// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/castellanhq/castellan/pkg/contextkeys"
//   ctx = contextkeys.WithAuthz(ctx, authzCtx)
//   authzCtx := ctx.Value(contextkeys.AuthzKey).(*authz.Context)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *token.Claims for the authenticated caller
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: authz resolution, audit actor attribution
	// Type: *token.Claims
	IdentityKey Key = "identity"

	// AuthzKey contains *authz.Context resolved for the current request
	// Set by: middleware.Authenticator after resolution
	// Required by: all guarded endpoints, error-to-audit bridge
	// Type: *authz.Context
	AuthzKey Key = "authz_context"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, audit trail, correlation across services
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithIdentity adds the authenticated identity to the context
func WithIdentity(ctx context.Context, claims interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, claims)
}

// WithAuthz adds the resolved authorization context to the context
func WithAuthz(ctx context.Context, authzCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthzKey, authzCtx)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
