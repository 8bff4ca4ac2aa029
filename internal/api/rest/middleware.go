package rest

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/config"
	"github.com/vitalsense/clinical-signal-engine/internal/metrics"
)

// Middleware wraps an http.Handler. The server applies its chain in reverse
// so the first entry sees the request first.
type Middleware func(http.Handler) http.Handler

// requestIDMiddleware assigns a request ID and seeds the request metadata
// that handlers and the access log share.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		meta := &RequestMeta{
			RequestID: requestID,
			ClientIP:  clientIP(r),
			UserAgent: r.UserAgent(),
			StartTime: time.Now(),
		}
		ctx := context.WithValue(r.Context(), contextKeyRequestMeta, meta)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware writes one access log line per request.
func loggingMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, startTime: start}

			next.ServeHTTP(wrapped, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", clientIP(r),
			}
			if meta := RequestMetaFromContext(r.Context()); meta != nil {
				attrs = append(attrs, "request_id", meta.RequestID)
			}
			logger.InfoContext(r.Context(), "http_request", attrs...)
		})
	}
}

// recoveryMiddleware converts panics into 500 responses.
func recoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.ErrorContext(r.Context(), "panic recovered",
						"panic", recovered,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
					)
					writeMiddlewareError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeadersMiddleware sets the response headers appropriate for an
// API that serves patient data: nothing cacheable, nothing framable.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		h.Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records per-request duration and counts. Path labels are
// normalized so UUIDs and numbers do not explode cardinality.
func metricsMiddleware(registry *metrics.Registry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, startTime: start}

			next.ServeHTTP(wrapped, r)

			registry.RecordAPIRequest(r.Context(), time.Since(start).Seconds(), r.Method, normalizePath(r.URL.Path), wrapped.statusCode)
		})
	}
}

var (
	uuidSegmentRe    = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	numericSegmentRe = regexp.MustCompile(`/\d+(/|$)`)
)

func normalizePath(path string) string {
	path = uuidSegmentRe.ReplaceAllString(path, ":id")
	path = numericSegmentRe.ReplaceAllString(path, "/:n$1")
	return path
}

// rateLimitMiddleware enforces a per-client token bucket.
func rateLimitMiddleware(limiter *clientRateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(int(limiter.rate)))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				writeMiddlewareError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeMiddlewareError emits the standard envelope from outside a wrapped
// handler.
func writeMiddlewareError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"success":false,"error":{"code":"` + code + `","message":"` + message + `"}}`))
}

// clientRateLimiter keeps one token bucket per client address.
type clientRateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	done     chan struct{}
}

func newClientRateLimiter(cfg config.RateLimitConfig) *clientRateLimiter {
	rl := &clientRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.BurstSize,
		done:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *clientRateLimiter) Allow(key string) bool {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		limiter, exists = rl.limiters[key]
		if !exists {
			limiter = rate.NewLimiter(rl.rate, rl.burst)
			rl.limiters[key] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter.Allow()
}

// cleanupLoop clears the bucket map when it grows past a bound. Buckets
// refill on first touch so dropping idle ones is harmless.
func (rl *clientRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			if len(rl.limiters) > 10000 {
				rl.limiters = make(map[string]*rate.Limiter)
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

func (rl *clientRateLimiter) Stop() {
	close(rl.done)
}

func (rl *clientRateLimiter) reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiters = make(map[string]*rate.Limiter)
}
