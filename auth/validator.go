package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/pulse/config"
	"github.com/upb/pulse/middleware"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when the token audience is invalid
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrMissingSubject is returned when the token names no user
	ErrMissingSubject = errors.New("token has no subject")
)

// Claims represents the claims pulse reads from a bearer token
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Scope string `json:"scope,omitempty"` // space separated
}

// HMACValidator validates HS256/384/512 bearer tokens signed with a shared secret
type HMACValidator struct {
	secret   []byte
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewHMACValidator creates a validator from the auth configuration
func NewHMACValidator(cfg config.AuthConfig) (*HMACValidator, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &HMACValidator{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		parser:   jwt.NewParser(opts...),
	}, nil
}

// ValidateToken validates a bearer token and returns its claims
func (v *HMACValidator) ValidateToken(_ context.Context, tokenString string) (*middleware.Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, fmt.Errorf("%w: expected %s", ErrInvalidIssuer, v.issuer)
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrInvalidAudience
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMissingSubject
	}

	parsed := &middleware.Claims{
		Sub:    claims.Subject,
		Email:  claims.Email,
		Scopes: strings.Fields(claims.Scope),
		Iss:    claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		parsed.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		parsed.Iat = claims.IssuedAt.Unix()
	}
	return parsed, nil
}

// Issue signs an HS256 token for subject that this validator accepts
func (v *HMACValidator) Issue(subject string, ttl time.Duration, scopes ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: strings.Join(scopes, " "),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
