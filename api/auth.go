package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("api: invalid token")
	ErrTokenExpired = errors.New("api: token expired")
)

// Claims is the minimal bearer-token shape nestedsetd accepts: a subject
// (actor, recorded on audit entries) scoped to one tenant.
type Claims struct {
	jwt.RegisteredClaims
	Tenant string `json:"tenant"`
}

// TokenService signs and verifies HS256 bearer tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
}

// NewTokenService creates a TokenService. An empty signingKey disables
// auth entirely; JWTAuthMiddleware becomes a no-op in that case.
func NewTokenService(signingKey []byte, issuer string) *TokenService {
	return &TokenService{signingKey: signingKey, issuer: issuer}
}

// Enabled reports whether a signing key was configured.
func (s *TokenService) Enabled() bool {
	return len(s.signingKey) > 0
}

// GenerateToken issues a token scoped to tenant, valid for ttl.
func (s *TokenService) GenerateToken(subject, tenant string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Tenant: tenant,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

// Verify parses and validates a token string.
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// extractBearerToken pulls the token out of an "Authorization: Bearer
// ..." header, or "" if absent/malformed.
func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

type actorKey struct{}

// ActorFrom returns the authenticated subject injected by
// JWTAuthMiddleware, or "" if auth is disabled or the route is
// unauthenticated.
func ActorFrom(ctx context.Context) string {
	if v := ctx.Value(actorKey{}); v != nil {
		return v.(string)
	}
	return ""
}

// JWTAuthMiddleware rejects requests lacking a valid bearer token, and
// requests whose token names a tenant other than the requested one; a
// token with an empty tenant claim is accepted for every tenant. When svc
// is nil or has no signing key configured, it passes every request
// through unauthenticated.
func JWTAuthMiddleware(svc *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if svc == nil || !svc.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := svc.Verify(token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if tenant := r.PathValue("tenant"); tenant != "" && claims.Tenant != "" && claims.Tenant != tenant {
				http.Error(w, "token not valid for this tenant", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), actorKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
