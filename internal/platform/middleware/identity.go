package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/trace"

	dErrors "poscore/pkg/domain-errors"
	"poscore/pkg/platform/httputil"
	"poscore/pkg/requestcontext"
)

// IdentityClaims is the token payload the gateway trusts: who is acting,
// for which tenant, with which roles. Role interpretation happens in the
// authorization layer; the middleware only transports the strings.
type IdentityClaims struct {
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenValidator verifies a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*IdentityClaims, error)
}

// HMACValidator validates HS256 tokens issued by the platform identity
// service.
type HMACValidator struct {
	key []byte
}

// NewHMACValidator creates a validator for the shared signing key.
func NewHMACValidator(key string) *HMACValidator {
	return &HMACValidator{key: []byte(key)}
}

// ValidateToken parses and verifies the token signature and expiry.
func (v *HMACValidator) ValidateToken(tokenString string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// RequireIdentity authenticates the request and installs the identity
// into the request context: tenant, actor, roles, trace ID. Handlers and
// the authorization layer read only the context, never the token.
func RequireIdentity(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access, missing bearer token",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access, invalid token",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}

			// A token without a tenant can never authorize anything; reject
			// it here instead of carrying an empty isolation boundary into
			// the handlers.
			if claims.TenantID == "" {
				logger.WarnContext(ctx, "unauthorized access, token has no tenant",
					"request_id", requestcontext.RequestID(ctx),
					"actor_id", claims.Subject,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token is not bound to a tenant"))
				return
			}

			ctx = requestcontext.WithTenantID(ctx, claims.TenantID)
			ctx = requestcontext.WithActorID(ctx, claims.Subject)
			ctx = requestcontext.WithRoles(ctx, claims.Roles)
			ctx = requestcontext.WithTraceID(ctx, resolveTraceID(r))
			ctx = requestcontext.WithTime(ctx, time.Now().UTC())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveTraceID prefers an active tracing span, then the request ID, so
// every audit envelope correlates with something.
func resolveTraceID(r *http.Request) string {
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return requestcontext.RequestID(r.Context())
}
