// Package callerctx carries an already-resolved caller identity through
// a request's context. Token issuance and validation are an external
// collaborator (spec §1); this package only propagates the identity the
// adapter has already established.
package callerctx

import "context"

const (
	// UserIDHeader is the header carrying the resolved caller's user id.
	UserIDHeader = "X-User-ID"
	// ServiceIDHeader is the header carrying the resolved caller's service id,
	// used for service-to-service calls within the daemon.
	ServiceIDHeader = "X-Service-ID"
)

type contextKey string

const (
	serviceIDKey contextKey = "service_id"
	userIDKey    contextKey = "user_id"
)

// WithServiceID returns a new context carrying the service id.
func WithServiceID(ctx context.Context, serviceID string) context.Context {
	return context.WithValue(ctx, serviceIDKey, serviceID)
}

// GetServiceID extracts the service id from context.
func GetServiceID(ctx context.Context) string {
	if v, ok := ctx.Value(serviceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a new context carrying the user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the user id from context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
