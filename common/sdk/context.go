package sdk

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const userIDKey contextKey = "user-id"

// WithUserID attaches a caller identity to the context; the client
// forwards it as the X-User-ID header on every request
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFrom retrieves the caller identity from the context
func UserIDFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
