package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RequireOperator admits only requests carrying a valid operator bearer
// token. Operator tokens are HS256 JWTs minted out of band against the
// shared secret.
func (h *Handlers) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err == nil {
			err = h.validateOperatorToken(token)
		}
		if err != nil {
			h.loggerFromContext(r.Context()).Warn("rejected operator request",
				"path", r.URL.Path, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="operator"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("authorization header is not a bearer token")
	}
	return strings.TrimSpace(token), nil
}

func (h *Handlers) validateOperatorToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return []byte(h.config.OperatorJWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid operator token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid operator token")
	}
	return nil
}
