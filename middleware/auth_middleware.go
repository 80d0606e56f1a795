package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/upb/pulse/utils"
	"go.uber.org/zap"
)

// TokenValidator turns a bearer token into claims
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// AuthMiddleware resolves the end user every provider call acts for
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. validator may be nil when
// only TrustHeader is used.
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{validator: validator, logger: logger}
}

const (
	// authTokenCookieName is read when no Authorization header is sent
	authTokenCookieName = "auth_token"

	// UserHeader names the end user when authentication is disabled
	UserHeader = "X-Pulse-User"
)

var (
	errMissingToken     = errors.New("missing token")
	errNoValidator      = errors.New("token validation not configured")
	errMissingSubject   = errors.New("token has no subject")
	errMissingUserValue = errors.New("missing user header")
)

// RequireAuth validates the bearer token; its subject becomes the user ID.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.authenticate(r)
		if err != nil {
			m.logger.Warn("authentication failed",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.Error(err))
			if errors.Is(err, errMissingToken) {
				_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			} else {
				_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			}
			return
		}

		ctx := WithUserID(WithClaims(r.Context(), claims), claims.Sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (*Claims, error) {
	token := extractToken(r)
	if token == "" {
		return nil, errMissingToken
	}
	if m.validator == nil {
		return nil, errNoValidator
	}
	claims, err := m.validator.ValidateToken(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if claims.Sub == "" {
		return nil, errMissingSubject
	}
	return claims, nil
}

// TrustHeader takes the user ID from the X-Pulse-User header. Only for
// deployments with authentication disabled behind a trusted gateway.
func (m *AuthMiddleware) TrustHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			m.logger.Warn("authentication failed",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.Error(errMissingUserValue))
			_ = utils.WriteUnauthorized(w, "Missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// RequireScope rejects tokens lacking scope. Use after RequireAuth.
func (m *AuthMiddleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			switch {
			case claims == nil:
				_ = utils.WriteUnauthorized(w, "Authentication required")
			case !claims.HasScope(scope):
				m.logger.Warn("insufficient scope",
					zap.String("request_id", GetRequestIDFromContext(r.Context())),
					zap.String("required_scope", scope),
					zap.Strings("scopes", claims.Scopes))
				_ = utils.WriteError(w, http.StatusForbidden, "Insufficient permissions", nil)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// extractToken reads "Authorization: Bearer <token>", falling back to the auth_token cookie
func extractToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
