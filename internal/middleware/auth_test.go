package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragline/internal/middleware"
)

var secret = []byte("test-secret")

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantOwner  string
	}{
		{
			name:       "valid token",
			header:     "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()}),
			wantStatus: http.StatusOK,
			wantOwner:  "user-1",
		},
		{
			name:       "missing header",
			header:     "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			header:     "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "user-1"}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired",
			header:     "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no subject",
			header:     "Bearer " + sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"name": "x"}),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var owner string
			h := middleware.Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				owner, _ = middleware.GetOwner(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/query", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOwner, owner)
		})
	}
}

func TestResolveOwner(t *testing.T) {
	ctx := context.Background()

	_, err := middleware.ResolveOwner(ctx, "")
	assert.ErrorIs(t, err, middleware.ErrNoOwner)

	id, err := middleware.ResolveOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	id, err = middleware.ResolveOwner(middleware.WithOwner(ctx, "token-user"), "u1")
	require.NoError(t, err)
	assert.Equal(t, "token-user", id)
}
