package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoOwner = errors.New("no authenticated owner")

// Auth verifies an HS256 bearer token and stores its subject as the owner
// identity of the request. Handlers must take the owner from the context,
// never from the request body, when auth is enabled.
func Auth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, found := strings.CutPrefix(header, "Bearer ")
			if !found || raw == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				slog.WarnContext(r.Context(), "rejected token", "error", err)
				writeUnauthorized(w, r, "invalid token")
				return
			}

			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				writeUnauthorized(w, r, "token has no subject")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), sub)))
		})
	}
}

func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, OwnerKey, ownerID)
}

func GetOwner(ctx context.Context) (string, error) {
	if id, ok := ctx.Value(OwnerKey).(string); ok && id != "" {
		return id, nil
	}
	return "", ErrNoOwner
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
		"correlationId": GetCorrelationID(r.Context()),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// ResolveOwner returns the authenticated owner when one is set on ctx and
// falls back to the caller-supplied id otherwise.
func ResolveOwner(ctx context.Context, claimed string) (string, error) {
	if id, err := GetOwner(ctx); err == nil {
		return id, nil
	}
	if claimed == "" {
		return "", ErrNoOwner
	}
	return claimed, nil
}
