package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := RequireToken([]string{"alpha", "", "beta"})(next)

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"first token", "/x?token=alpha", http.StatusTeapot},
		{"second token", "/x?token=beta", http.StatusTeapot},
		{"wrong token", "/x?token=gamma", http.StatusForbidden},
		{"empty token", "/x?token=", http.StatusForbidden},
		{"missing token", "/x", http.StatusForbidden},
		{"prefix of a token", "/x?token=alph", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, "Invalid token", rec.Body.String())
				assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
			}
		})
	}
}
