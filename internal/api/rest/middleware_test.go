package rest

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates an id when the client sends none", func(t *testing.T) {
		var seen *RequestMeta
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestMetaFromContext(r.Context())
		})

		w := httptest.NewRecorder()
		requestIDMiddleware(inner).ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

		got := w.Header().Get("X-Request-ID")
		_, err := uuid.Parse(got)
		assert.NoError(t, err, "generated id should be a UUID, got %q", got)

		require.NotNil(t, seen)
		assert.Equal(t, got, seen.RequestID)
		assert.NotEmpty(t, seen.ClientIP)
		assert.False(t, seen.StartTime.IsZero())
	})

	t.Run("passes a client-supplied id through", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/x", nil)
		req.Header.Set("X-Request-ID", "trace-me")

		w := httptest.NewRecorder()
		requestIDMiddleware(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, "trace-me", w.Header().Get("X-Request-ID"))
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	securityHeadersMiddleware(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	h := w.Header()
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", h.Get("Referrer-Policy"))
	assert.Equal(t, "no-store", h.Get("Cache-Control"))
	assert.Equal(t, "default-src 'none'", h.Get("Content-Security-Policy"))
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	w := httptest.NewRecorder()

	require.NotPanics(t, func() {
		recoveryMiddleware(logger)(panicking).ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	loggingMiddleware(logger)(inner).ServeHTTP(w, httptest.NewRequest("GET", "/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	line := buf.String()
	assert.Contains(t, line, "http_request")
	assert.Contains(t, line, "status=404")
	assert.Contains(t, line, "path=/missing")
}

func TestClientRateLimiter(t *testing.T) {
	t.Run("enforces the burst per client", func(t *testing.T) {
		rl := newClientRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})
		defer rl.Stop()

		assert.True(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))

		// A different client has its own bucket.
		assert.True(t, rl.Allow("10.0.0.2"))
	})

	t.Run("reset clears every bucket", func(t *testing.T) {
		rl := newClientRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
		defer rl.Stop()

		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))

		rl.reset()
		assert.True(t, rl.Allow("10.0.0.1"))
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := newClientRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	defer rl.Stop()

	handler := rateLimitMiddleware(rl)(okHandler())

	req := httptest.NewRequest("GET", "/x", nil)
	req.RemoteAddr = "198.51.100.7:4411"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")

	// Another address is not throttled by the first client's bucket.
	other := httptest.NewRequest("GET", "/x", nil)
	other.RemoteAddr = "198.51.100.8:4411"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		expect string
	}{
		{
			name:   "remote addr with port",
			setup:  func(r *http.Request) { r.RemoteAddr = "192.0.2.1:9000" },
			expect: "192.0.2.1",
		},
		{
			name: "first forwarded entry wins",
			setup: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1, 10.0.0.2")
			},
			expect: "203.0.113.9",
		},
		{
			name:   "single forwarded entry",
			setup:  func(r *http.Request) { r.Header.Set("X-Forwarded-For", " 203.0.113.9 ") },
			expect: "203.0.113.9",
		},
		{
			name:   "real ip fallback",
			setup:  func(r *http.Request) { r.Header.Set("X-Real-IP", "203.0.113.10") },
			expect: "203.0.113.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/x", nil)
			tt.setup(req)
			assert.Equal(t, tt.expect, clientIP(req))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		in   string
		want string
	}{
		{"/api/v1/patients/" + id + "/trends/K", "/api/v1/patients/:id/trends/K"},
		{"/api/v1/alerts/" + id, "/api/v1/alerts/:id"},
		{"/api/v1/things/42", "/api/v1/things/:n"},
		{"/api/v1/things/42/sub", "/api/v1/things/:n/sub"},
		{"/api/v1/rules", "/api/v1/rules"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}
