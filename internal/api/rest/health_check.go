package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/database"
)

// HealthStatus is the per-check and overall verdict.
type HealthStatus string

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusWarn HealthStatus = "warn"
	HealthStatusFail HealthStatus = "fail"
)

// HealthChecker probes one dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) HealthCheckResult
}

// HealthCheckResult is the outcome of a single probe.
type HealthCheckResult struct {
	Status       HealthStatus           `json:"status"`
	Message      string                 `json:"message,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ResponseTime time.Duration          `json:"response_time_ns"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	LastChecked  time.Time              `json:"last_checked"`
}

// HealthConfig tunes the health service.
type HealthConfig struct {
	// CacheDuration bounds how often each dependency is probed
	CacheDuration time.Duration
	// Timeout bounds one probe
	Timeout time.Duration
	// MinUptime gates the startup probe
	MinUptime      time.Duration
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// DefaultHealthConfig returns the production probe settings.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CacheDuration:  10 * time.Second,
		Timeout:        5 * time.Second,
		MinUptime:      10 * time.Second,
		ServiceName:    "clinical-signal-engine",
		ServiceVersion: "dev",
	}
}

// HealthService runs dependency probes and serves the health endpoints.
type HealthService struct {
	checkers  []HealthChecker
	cache     sync.Map
	config    HealthConfig
	tracer    trace.Tracer
	startTime time.Time
}

type cachedResult struct {
	result    HealthCheckResult
	expiresAt time.Time
}

// NewHealthService creates the health probe service.
func NewHealthService(config HealthConfig, checkers ...HealthChecker) *HealthService {
	if config.CacheDuration <= 0 {
		config.CacheDuration = 10 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &HealthService{
		checkers:  checkers,
		config:    config,
		tracer:    otel.Tracer("api.rest.health"),
		startTime: time.Now(),
	}
}

// healthResponse is the application/health+json document.
type healthResponse struct {
	Status      HealthStatus                 `json:"status"`
	Version     string                       `json:"version,omitempty"`
	ServiceName string                       `json:"service_name,omitempty"`
	Environment string                       `json:"environment,omitempty"`
	UptimeSecs  int64                        `json:"uptime_seconds"`
	Checks      map[string]HealthCheckResult `json:"checks,omitempty"`
}

// LivenessHandler reports process liveness only; it never probes
// dependencies, so a wedged database cannot make the orchestrator restart
// the process.
func (s *HealthService) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeHealth(w, http.StatusOK, healthResponse{
			Status:      HealthStatusPass,
			Version:     s.config.ServiceVersion,
			ServiceName: s.config.ServiceName,
			Environment: s.config.Environment,
			UptimeSecs:  int64(time.Since(s.startTime).Seconds()),
		})
	})
}

// ReadinessHandler probes all dependencies in parallel and fails the probe
// when any dependency fails.
func (s *HealthService) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), "health.readiness")
		defer span.End()

		checks := s.runChecks(ctx)

		overall := HealthStatusPass
		for _, result := range checks {
			switch result.Status {
			case HealthStatusFail:
				overall = HealthStatusFail
			case HealthStatusWarn:
				if overall == HealthStatusPass {
					overall = HealthStatusWarn
				}
			}
		}
		span.SetAttributes(attribute.String("health.status", string(overall)))

		status := http.StatusOK
		if overall == HealthStatusFail {
			status = http.StatusServiceUnavailable
		}
		s.writeHealth(w, status, healthResponse{
			Status:      overall,
			Version:     s.config.ServiceVersion,
			ServiceName: s.config.ServiceName,
			Environment: s.config.Environment,
			UptimeSecs:  int64(time.Since(s.startTime).Seconds()),
			Checks:      checks,
		})
	})
}

// StartupHandler fails until the process has been up for MinUptime, giving
// pipeline workers and rule loading a window before traffic arrives.
func (s *HealthService) StartupHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uptime := time.Since(s.startTime)
		if uptime < s.config.MinUptime {
			s.writeHealth(w, http.StatusServiceUnavailable, healthResponse{
				Status:     HealthStatusFail,
				UptimeSecs: int64(uptime.Seconds()),
			})
			return
		}
		s.writeHealth(w, http.StatusOK, healthResponse{
			Status:     HealthStatusPass,
			UptimeSecs: int64(uptime.Seconds()),
		})
	})
}

// runChecks probes every checker in parallel, reusing cached results inside
// the cache window.
func (s *HealthService) runChecks(ctx context.Context) map[string]HealthCheckResult {
	results := make(map[string]HealthCheckResult, len(s.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range s.checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()
			result := s.checkWithCache(ctx, c)
			mu.Lock()
			results[c.Name()] = result
			mu.Unlock()
		}(checker)
	}
	wg.Wait()
	return results
}

func (s *HealthService) checkWithCache(ctx context.Context, checker HealthChecker) HealthCheckResult {
	if cached, ok := s.cache.Load(checker.Name()); ok {
		entry := cached.(cachedResult)
		if time.Now().Before(entry.expiresAt) {
			return entry.result
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	result := checker.Check(checkCtx)
	result.ResponseTime = time.Since(start)
	result.LastChecked = time.Now()

	s.cache.Store(checker.Name(), cachedResult{
		result:    result,
		expiresAt: time.Now().Add(s.config.CacheDuration),
	})
	return result
}

func (s *HealthService) writeHealth(w http.ResponseWriter, status int, resp healthResponse) {
	w.Header().Set("Content-Type", "application/health+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// CheckerFunc adapts a function to the HealthChecker interface.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) HealthCheckResult
}

func (c CheckerFunc) Name() string                                 { return c.CheckName }
func (c CheckerFunc) Check(ctx context.Context) HealthCheckResult { return c.Fn(ctx) }

// DatabaseHealthChecker probes the postgres pool.
type DatabaseHealthChecker struct {
	pool *database.ConnectionPool
}

func NewDatabaseHealthChecker(pool *database.ConnectionPool) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{pool: pool}
}

func (c *DatabaseHealthChecker) Name() string { return "database" }

func (c *DatabaseHealthChecker) Check(ctx context.Context) HealthCheckResult {
	if err := c.pool.Ping(ctx); err != nil {
		return HealthCheckResult{
			Status: HealthStatusFail,
			Error:  err.Error(),
		}
	}

	stat := c.pool.Pool().Stat()
	metadata := map[string]interface{}{
		"total_conns":    stat.TotalConns(),
		"idle_conns":     stat.IdleConns(),
		"acquired_conns": stat.AcquiredConns(),
		"max_conns":      stat.MaxConns(),
	}

	// Saturated pools respond before they fail; surface them early
	if stat.MaxConns() > 0 && float64(stat.AcquiredConns())/float64(stat.MaxConns()) > 0.9 {
		return HealthCheckResult{
			Status:   HealthStatusWarn,
			Message:  "connection pool near capacity",
			Metadata: metadata,
		}
	}

	return HealthCheckResult{
		Status:   HealthStatusPass,
		Metadata: metadata,
	}
}

// RedisHealthChecker probes the cache connection.
type RedisHealthChecker struct {
	client *redis.Client
}

func NewRedisHealthChecker(client *redis.Client) *RedisHealthChecker {
	return &RedisHealthChecker{client: client}
}

func (c *RedisHealthChecker) Name() string { return "redis" }

func (c *RedisHealthChecker) Check(ctx context.Context) HealthCheckResult {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return HealthCheckResult{
			Status: HealthStatusFail,
			Error:  err.Error(),
		}
	}

	poolStats := c.client.PoolStats()
	return HealthCheckResult{
		Status: HealthStatusPass,
		Metadata: map[string]interface{}{
			"total_conns": poolStats.TotalConns,
			"idle_conns":  poolStats.IdleConns,
			"hits":        poolStats.Hits,
			"misses":      poolStats.Misses,
		},
	}
}

// EventPublisherHealth is satisfied by the alert event publisher.
type EventPublisherHealth interface {
	Health() error
}

// PublisherHealthChecker probes the in-process event publisher.
type PublisherHealthChecker struct {
	publisher EventPublisherHealth
}

func NewPublisherHealthChecker(publisher EventPublisherHealth) *PublisherHealthChecker {
	return &PublisherHealthChecker{publisher: publisher}
}

func (c *PublisherHealthChecker) Name() string { return "event_publisher" }

func (c *PublisherHealthChecker) Check(ctx context.Context) HealthCheckResult {
	if err := c.publisher.Health(); err != nil {
		return HealthCheckResult{
			Status: HealthStatusFail,
			Error:  err.Error(),
		}
	}
	return HealthCheckResult{Status: HealthStatusPass}
}

// SystemHealthChecker reports process-level memory and goroutine pressure.
type SystemHealthChecker struct {
	maxGoroutines  int
	maxHeapPercent float64
}

func NewSystemHealthChecker() *SystemHealthChecker {
	return &SystemHealthChecker{
		maxGoroutines:  10000,
		maxHeapPercent: 90,
	}
}

func (c *SystemHealthChecker) Name() string { return "system" }

func (c *SystemHealthChecker) Check(ctx context.Context) HealthCheckResult {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	goroutines := runtime.NumGoroutine()
	heapPercent := float64(0)
	if memStats.HeapSys > 0 {
		heapPercent = float64(memStats.HeapAlloc) / float64(memStats.HeapSys) * 100
	}

	metadata := map[string]interface{}{
		"goroutines":    goroutines,
		"heap_alloc_mb": memStats.HeapAlloc / 1024 / 1024,
		"heap_sys_mb":   memStats.HeapSys / 1024 / 1024,
		"heap_percent":  fmt.Sprintf("%.1f", heapPercent),
		"gc_cycles":     memStats.NumGC,
		"last_gc_pause": time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]).String(),
	}

	if goroutines > c.maxGoroutines || heapPercent > c.maxHeapPercent {
		return HealthCheckResult{
			Status:   HealthStatusWarn,
			Message:  "resource pressure",
			Metadata: metadata,
		}
	}

	return HealthCheckResult{
		Status:   HealthStatusPass,
		Metadata: metadata,
	}
}
