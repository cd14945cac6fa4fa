package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func okHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
	}
}

func TestIsAuthorized(t *testing.T) {
	handler := IsAuthorized("secret", okHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	handler(rec, req, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req.Header.Set("X-API-Key", "wrong")
	handler(rec, req, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req.Header.Set("X-API-Key", "secret")
	handler(rec, req, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAllowCORSListedOrigins(t *testing.T) {
	handler := AllowCORS([]string{"https://cms.example.com"})(okHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://cms.example.com")
	handler(rec, req, nil)
	require.Equal(t, "https://cms.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	req.Header.Set("Origin", "https://evil.example.com")
	handler(rec, req, nil)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAllowCORSPreflight(t *testing.T) {
	handler := AllowCORS(nil)(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		t.Fatal("next handler must not run for preflight")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/compress", nil)
	req.Header.Set("Origin", "https://cms.example.com")
	handler(rec, req, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiterAllowsWindowThenBlocks(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < rateLimitRequests; i++ {
		require.True(t, rl.Allow("10.0.0.1"), "request %d", i)
	}
	require.False(t, rl.Allow("10.0.0.1"))

	// A different client has its own bucket.
	require.True(t, rl.Allow("10.0.0.2"))

	// The bucket refills with time.
	now = now.Add(rateLimitWindow)
	require.True(t, rl.Allow("10.0.0.1"))
}

func TestRateLimitResponseCarriesRetryAfter(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }
	handler := rl.Limit(okHandler())

	var rec *httptest.ResponseRecorder
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	for i := 0; i <= rateLimitRequests; i++ {
		rec = httptest.NewRecorder()
		handler(rec, req, nil)
	}
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
}
