package middleware

import (
	"context"
	"slices"

	"github.com/upb/pulse/internal/observability"
)

type (
	claimsKey struct{}
	userIDKey struct{}
)

// Claims are the verified token fields handlers may rely on
type Claims struct {
	Sub    string   `json:"sub"` // end user the request acts for
	Email  string   `json:"email"`
	Scopes []string `json:"scopes"`
	Iss    string   `json:"iss"`
	Exp    int64    `json:"exp"`
	Iat    int64    `json:"iat"`
}

// HasScope reports whether the token grants scope
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// GetRequestIDFromContext returns the ID set by RequestID, or ""
func GetRequestIDFromContext(ctx context.Context) string {
	return observability.RequestID(ctx)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return observability.WithRequestID(ctx, requestID)
}

// GetClaimsFromContext returns the claims RequireAuth stored, or nil
func GetClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// GetUserIDFromContext returns the end user the request acts for, or ""
func GetUserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}
