package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscore/pkg/requestcontext"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
}

func TestRequestIDHonorsCallerValue(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "req-123", seen)
}

func TestRecoveryConvertsPanicTo500(t *testing.T) {
	h := Recovery(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal_error"}`, w.Body.String())
}

func TestLoggerPassesThrough(t *testing.T) {
	h := Logger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}

const testSigningKey = "test-signing-key"

func signToken(t *testing.T, claims IdentityClaims, key string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func validClaims() IdentityClaims {
	return IdentityClaims{
		TenantID: "tenant-a",
		Roles:    []string{"store_manager", "cashier"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "actor-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestRequireIdentityInstallsContext(t *testing.T) {
	var (
		tenant string
		actor  string
		roles  []string
		trace  string
	)
	h := RequireIdentity(NewHMACValidator(testSigningKey), discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tenant = requestcontext.TenantID(ctx)
			actor = requestcontext.ActorID(ctx)
			roles = requestcontext.Roles(ctx)
			trace = requestcontext.TraceID(ctx)
		}))
	// RequestID runs first in the real chain so the trace fallback has
	// something to fall back on.
	chain := RequestID(h)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims(), testSigningKey))
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant-a", tenant)
	assert.Equal(t, "actor-1", actor)
	assert.Equal(t, []string{"store_manager", "cashier"}, roles)
	assert.NotEmpty(t, trace)
}

func TestRequireIdentityRejectsMissingToken(t *testing.T) {
	h := RequireIdentity(NewHMACValidator(testSigningKey), discardLogger())(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireIdentityRejectsBadSignature(t *testing.T) {
	h := RequireIdentity(NewHMACValidator(testSigningKey), discardLogger())(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims(), "wrong-key"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireIdentityRejectsExpiredToken(t *testing.T) {
	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	h := RequireIdentity(NewHMACValidator(testSigningKey), discardLogger())(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, claims, testSigningKey))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireIdentityRejectsTokenWithoutTenant(t *testing.T) {
	claims := validClaims()
	claims.TenantID = ""

	h := RequireIdentity(NewHMACValidator(testSigningKey), discardLogger())(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, claims, testSigningKey))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"forbidden","error_description":"token is not bound to a tenant"}`, w.Body.String())
}

func TestValidateTokenRequiresExpiry(t *testing.T) {
	claims := validClaims()
	claims.ExpiresAt = nil

	_, err := NewHMACValidator(testSigningKey).ValidateToken(signToken(t, claims, testSigningKey))
	assert.Error(t, err)
}
