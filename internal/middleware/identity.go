package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader carries the caller identity.
const UserIDHeader = "X-User-ID"

type userIDKey struct{}

// WithUserID stores the caller identity in ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// GetUserID returns the caller identity, or "" when anonymous
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Identity copies the X-User-ID header into the request context
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
			r = r.WithContext(WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
