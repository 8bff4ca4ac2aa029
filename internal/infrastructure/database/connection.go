package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/config"
)

// ConnectionPool wraps a pgx pool with a circuit breaker, a periodic health
// check, and pool metrics. Repositories consume it through the database/sql
// adapter.
type ConnectionPool struct {
	pool            *pgxpool.Pool
	config          *config.DatabaseConfig
	logger          *zap.Logger
	healthCheckStop chan struct{}
	stopOnce        sync.Once
	metrics         *ConnectionMetrics
	circuitBreaker  *CircuitBreaker
}

// ConnectionMetrics tracks pool behavior over time.
type ConnectionMetrics struct {
	mu sync.RWMutex

	TotalConnections    int64
	ActiveConnections   int64
	IdleConnections     int64
	MaxLifetimeClosures int64

	TransactionsStarted    int64
	TransactionsCommitted  int64
	TransactionsRolledBack int64

	LastHealthCheck time.Time
}

// Snapshot returns a copy of the current metrics.
func (m *ConnectionMetrics) Snapshot() ConnectionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ConnectionMetrics{
		TotalConnections:       m.TotalConnections,
		ActiveConnections:      m.ActiveConnections,
		IdleConnections:        m.IdleConnections,
		MaxLifetimeClosures:    m.MaxLifetimeClosures,
		TransactionsStarted:    m.TransactionsStarted,
		TransactionsCommitted:  m.TransactionsCommitted,
		TransactionsRolledBack: m.TransactionsRolledBack,
		LastHealthCheck:        m.LastHealthCheck,
	}
}

// CircuitBreaker trips after repeated connection failures so a dead database
// fails requests fast instead of queueing them.
type CircuitBreaker struct {
	mu              sync.Mutex
	failureCount    int
	lastFailureTime time.Time
	state           CircuitState
	timeout         time.Duration
	threshold       int
}

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// NewConnectionPool connects to PostgreSQL and starts the health check
// routine.
func NewConnectionPool(cfg *config.DatabaseConfig, logger *zap.Logger) (*ConnectionPool, error) {
	p := &ConnectionPool{
		config:          cfg,
		logger:          logger,
		healthCheckStop: make(chan struct{}),
		metrics:         &ConnectionMetrics{},
		circuitBreaker: &CircuitBreaker{
			timeout:   30 * time.Second,
			threshold: 10,
			state:     CircuitClosed,
		},
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	p.configurePool(poolConfig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := p.pool.Ping(ctx); err != nil {
		p.pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	go p.healthCheckRoutine()

	logger.Info("database connection pool initialized",
		zap.Int32("max_connections", poolConfig.MaxConns))

	return p, nil
}

func (p *ConnectionPool) configurePool(poolConfig *pgxpool.Config) {
	if p.config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(p.config.MaxOpenConns)
	} else {
		poolConfig.MaxConns = 25
	}
	if p.config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(p.config.MaxIdleConns)
	} else {
		poolConfig.MinConns = 5
	}
	if p.config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = p.config.ConnMaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second
	poolConfig.ConnConfig.RuntimeParams = map[string]string{
		"application_name":  "clinical_signal_engine",
		"timezone":          "UTC",
		"lock_timeout":      "10s",
		"statement_timeout": "30s",
	}

	poolConfig.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
		p.logger.Debug("establishing database connection",
			zap.String("host", cc.Host),
			zap.Uint16("port", cc.Port))
		return nil
	}

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		p.metrics.mu.Lock()
		p.metrics.TotalConnections++
		p.metrics.mu.Unlock()
		return nil
	}

	poolConfig.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		return p.circuitBreaker.Allow()
	}
}

// Pool exposes the raw pgx pool for callers that need pgx-native features.
func (p *ConnectionPool) Pool() *pgxpool.Pool {
	return p.pool
}

// DB returns a database/sql handle backed by the pool, for the repositories.
func (p *ConnectionPool) DB() *sql.DB {
	return stdlib.OpenDBFromPool(p.pool)
}

// Ping verifies connectivity, for readiness probes.
func (p *ConnectionPool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Transaction runs fn inside a transaction, committing on nil return.
func (p *ConnectionPool) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	p.metrics.mu.Lock()
	p.metrics.TransactionsStarted++
	p.metrics.mu.Unlock()

	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, fn)

	p.metrics.mu.Lock()
	if err != nil {
		p.metrics.TransactionsRolledBack++
	} else {
		p.metrics.TransactionsCommitted++
	}
	p.metrics.mu.Unlock()

	if err != nil {
		p.circuitBreaker.RecordFailure()
	} else {
		p.circuitBreaker.RecordSuccess()
	}

	return err
}

// Metrics returns the pool metrics collector.
func (p *ConnectionPool) Metrics() *ConnectionMetrics {
	return p.metrics
}

func (p *ConnectionPool) healthCheckRoutine() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performHealthCheck()
		case <-p.healthCheckStop:
			return
		}
	}
}

func (p *ConnectionPool) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.pool.Ping(ctx); err != nil {
		p.logger.Error("database health check failed", zap.Error(err))
		p.circuitBreaker.RecordFailure()
	} else {
		p.circuitBreaker.RecordSuccess()
	}

	stats := p.pool.Stat()
	p.metrics.mu.Lock()
	p.metrics.ActiveConnections = int64(stats.AcquiredConns())
	p.metrics.IdleConnections = int64(stats.IdleConns())
	p.metrics.MaxLifetimeClosures = stats.MaxLifetimeDestroyCount()
	p.metrics.LastHealthCheck = time.Now()
	p.metrics.mu.Unlock()
}

// Close stops the health check and closes all connections.
func (p *ConnectionPool) Close() error {
	p.stopOnce.Do(func() {
		close(p.healthCheckStop)
	})
	p.pool.Close()
	p.logger.Info("database connection pool closed")
	return nil
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.timeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.state = CircuitClosed
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.failureCount >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State reports the breaker state, for readiness probes.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Breaker exposes the circuit breaker.
func (p *ConnectionPool) Breaker() *CircuitBreaker {
	return p.circuitBreaker
}
