package middleware

import (
	"context"
)

type contextKey string

// userIDKey is the context key for the authenticated user id.
const userIDKey contextKey = "user_id"

// SetUserID stores the authenticated user id in the context.
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the authenticated user id from the request context.
// Empty means the request never passed the auth middleware.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
