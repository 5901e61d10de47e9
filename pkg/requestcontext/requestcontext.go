// Package requestcontext carries request-scoped facts (client IP, user agent,
// request ID, user ID) through context so services never touch *http.Request.
package requestcontext

import "context"

type contextKey int

const (
	keyClientIP contextKey = iota
	keyUserAgent
	keyRequestID
	keyUserID
)

// WithClientMetadata stores the client IP and user agent extracted by middleware.
func WithClientMetadata(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, keyClientIP, ip)
	return context.WithValue(ctx, keyUserAgent, userAgent)
}

// ClientIP returns the client IP set by the metadata middleware, or "unknown".
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(keyClientIP).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}

// UserAgent returns the request user agent, or "" if not set.
func UserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(keyUserAgent).(string)
	return ua
}

// WithRequestID stores the request correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID returns the request correlation ID, or "" if not set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(keyRequestID).(string)
	return id
}

// WithUserID stores the authenticated user ID.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyUserID, id)
}

// UserID returns the authenticated user ID, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(keyUserID).(string)
	return id
}
