package middleware

import (
	"crypto/subtle"
	"net/http"
)

// TokenParam is the query parameter carrying the caller's secret
const TokenParam = "token"

// RequireToken rejects requests whose token query parameter is not one of tokens
// with 403 before the wrapped handler runs.
func RequireToken(tokens []string) func(http.Handler) http.Handler {
	allowed := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			allowed = append(allowed, []byte(t))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validToken(allowed, r.URL.Query().Get(TokenParam)) {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte("Invalid token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validToken(allowed [][]byte, token string) bool {
	if token == "" {
		return false
	}
	got := []byte(token)
	ok := false
	for _, a := range allowed {
		if subtle.ConstantTimeCompare(a, got) == 1 {
			ok = true
		}
	}
	return ok
}
