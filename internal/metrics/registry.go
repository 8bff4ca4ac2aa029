package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the application
type Registry struct {
	meter metric.Meter

	// Ingestion Domain Metrics
	IngestionDuration         metric.Float64Histogram
	MeasurementsPerSecond     metric.Float64ObservableGauge
	MeasurementAcceptedCounter metric.Int64Counter
	MeasurementRejectedCounter metric.Int64Counter
	PipelineQueueDepth        metric.Int64ObservableGauge

	// Analysis Domain Metrics
	AnalysisDuration metric.Float64Histogram
	TrendCounter     metric.Int64Counter
	AnomalyCounter   metric.Int64Counter

	// Rule Domain Metrics
	RuleEvaluationDuration metric.Float64Histogram
	RuleMatchCounter       metric.Int64Counter
	ActiveRules            metric.Int64ObservableGauge

	// Alert Domain Metrics
	AlertGeneratedCounter    metric.Int64Counter
	AlertEscalatedCounter    metric.Int64Counter
	AlertAcknowledgedCounter metric.Int64Counter
	AlertResolvedCounter     metric.Int64Counter
	AlertExpiredCounter      metric.Int64Counter
	ActiveAlerts             metric.Int64ObservableGauge
	AcknowledgeLatency       metric.Float64Histogram

	// System Metrics
	DatabaseConnectionPool metric.Int64ObservableGauge
	CacheHitRate           metric.Float64ObservableGauge
	EventQueueDepth        metric.Int64ObservableGauge
	APIRequestDuration     metric.Float64Histogram
	APIRequestCounter      metric.Int64Counter

	// State for observable metrics
	mu                    sync.RWMutex
	pipelineQueueDepth    int64
	activeRules           int64
	activeAlerts          int64
	dbPoolSize            int64
	eventQueueDepth       int64
	measurementsProcessed int64
	lastMeasurementCount  int64
	lastMeasurementTime   time.Time
	cacheHits             int64
	cacheMisses           int64
}

// NewRegistry creates a new metrics registry with all domain metrics
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{
		meter:               meter,
		lastMeasurementTime: time.Now(),
	}

	if err := r.initIngestionMetrics(); err != nil {
		return nil, err
	}

	if err := r.initAnalysisMetrics(); err != nil {
		return nil, err
	}

	if err := r.initRuleMetrics(); err != nil {
		return nil, err
	}

	if err := r.initAlertMetrics(); err != nil {
		return nil, err
	}

	if err := r.initSystemMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

// initIngestionMetrics initializes ingestion pipeline metrics
func (r *Registry) initIngestionMetrics() error {
	var err error

	// End-to-end ingestion duration histogram
	r.IngestionDuration, err = r.meter.Float64Histogram(
		"cse.ingestion.duration",
		metric.WithDescription("Duration of measurement ingestion in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return err
	}

	// Measurements per second gauge
	r.MeasurementsPerSecond, err = r.meter.Float64ObservableGauge(
		"cse.ingestion.throughput_per_second",
		metric.WithDescription("Current measurement ingestion throughput per second"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()

			now := time.Now()
			elapsed := now.Sub(r.lastMeasurementTime).Seconds()
			if elapsed > 0 {
				rate := float64(r.measurementsProcessed-r.lastMeasurementCount) / elapsed
				o.Observe(rate)
				r.lastMeasurementCount = r.measurementsProcessed
				r.lastMeasurementTime = now
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	// Acceptance counters
	r.MeasurementAcceptedCounter, err = r.meter.Int64Counter(
		"cse.ingestion.accepted_total",
		metric.WithDescription("Total number of measurements accepted"),
	)
	if err != nil {
		return err
	}

	r.MeasurementRejectedCounter, err = r.meter.Int64Counter(
		"cse.ingestion.rejected_total",
		metric.WithDescription("Total number of measurements rejected by validation"),
	)
	if err != nil {
		return err
	}

	// Pipeline queue depth
	r.PipelineQueueDepth, err = r.meter.Int64ObservableGauge(
		"cse.ingestion.queue_depth",
		metric.WithDescription("Current depth of the partitioned analysis queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.pipelineQueueDepth)
			return nil
		}),
	)

	return err
}

// initAnalysisMetrics initializes trend and anomaly analysis metrics
func (r *Registry) initAnalysisMetrics() error {
	var err error

	// Analysis duration histogram
	r.AnalysisDuration, err = r.meter.Float64Histogram(
		"cse.analysis.duration",
		metric.WithDescription("Trend and anomaly analysis duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100),
	)
	if err != nil {
		return err
	}

	// Trend classification counter
	r.TrendCounter, err = r.meter.Int64Counter(
		"cse.analysis.trend_total",
		metric.WithDescription("Total trend classifications by direction"),
	)
	if err != nil {
		return err
	}

	// Anomaly detection counter
	r.AnomalyCounter, err = r.meter.Int64Counter(
		"cse.analysis.anomaly_total",
		metric.WithDescription("Total anomalies detected by severity"),
	)

	return err
}

// initRuleMetrics initializes rule engine metrics
func (r *Registry) initRuleMetrics() error {
	var err error

	// Rule evaluation duration
	r.RuleEvaluationDuration, err = r.meter.Float64Histogram(
		"cse.rule.evaluation_duration",
		metric.WithDescription("Rule evaluation duration in microseconds"),
		metric.WithUnit("us"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	// Rule match counter
	r.RuleMatchCounter, err = r.meter.Int64Counter(
		"cse.rule.match_total",
		metric.WithDescription("Total rule matches by category"),
	)
	if err != nil {
		return err
	}

	// Active rule count
	r.ActiveRules, err = r.meter.Int64ObservableGauge(
		"cse.rule.active_total",
		metric.WithDescription("Number of rules in the active snapshot"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.activeRules)
			return nil
		}),
	)

	return err
}

// initAlertMetrics initializes alert lifecycle metrics
func (r *Registry) initAlertMetrics() error {
	var err error

	r.AlertGeneratedCounter, err = r.meter.Int64Counter(
		"cse.alert.generated_total",
		metric.WithDescription("Total critical alerts generated"),
	)
	if err != nil {
		return err
	}

	r.AlertEscalatedCounter, err = r.meter.Int64Counter(
		"cse.alert.escalated_total",
		metric.WithDescription("Total alert escalations"),
	)
	if err != nil {
		return err
	}

	r.AlertAcknowledgedCounter, err = r.meter.Int64Counter(
		"cse.alert.acknowledged_total",
		metric.WithDescription("Total alert acknowledgements"),
	)
	if err != nil {
		return err
	}

	r.AlertResolvedCounter, err = r.meter.Int64Counter(
		"cse.alert.resolved_total",
		metric.WithDescription("Total alerts resolved"),
	)
	if err != nil {
		return err
	}

	r.AlertExpiredCounter, err = r.meter.Int64Counter(
		"cse.alert.expired_total",
		metric.WithDescription("Total alerts expired by the sweep"),
	)
	if err != nil {
		return err
	}

	// Active alert gauge
	r.ActiveAlerts, err = r.meter.Int64ObservableGauge(
		"cse.alert.active_total",
		metric.WithDescription("Number of currently open critical alerts"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.activeAlerts)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	// Time from generation to acknowledgement
	r.AcknowledgeLatency, err = r.meter.Float64Histogram(
		"cse.alert.acknowledge_latency",
		metric.WithDescription("Time from alert generation to acknowledgement in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 300, 900, 1800, 3600),
	)

	return err
}

// initSystemMetrics initializes system-level metrics
func (r *Registry) initSystemMetrics() error {
	var err error

	// Database connection pool
	r.DatabaseConnectionPool, err = r.meter.Int64ObservableGauge(
		"cse.system.db_connection_pool_size",
		metric.WithDescription("Current database connection pool size"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.dbPoolSize)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	// Cache hit rate
	r.CacheHitRate, err = r.meter.Float64ObservableGauge(
		"cse.system.cache_hit_rate",
		metric.WithDescription("Fraction of cache reads served from Redis"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			total := r.cacheHits + r.cacheMisses
			if total > 0 {
				o.Observe(float64(r.cacheHits) / float64(total))
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	// Event queue depth
	r.EventQueueDepth, err = r.meter.Int64ObservableGauge(
		"cse.system.event_queue_depth",
		metric.WithDescription("Current event publisher queue depth"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.eventQueueDepth)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	// API request duration
	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"cse.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	// API request counter
	r.APIRequestCounter, err = r.meter.Int64Counter(
		"cse.api.request_total",
		metric.WithDescription("Total number of API requests"),
	)

	return err
}

// Helper methods for updating observable metric values

// SetPipelineQueueDepth sets the partitioned queue depth
func (r *Registry) SetPipelineQueueDepth(depth int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelineQueueDepth = depth
}

// SetActiveRules sets the active rule count
func (r *Registry) SetActiveRules(count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeRules = count
}

// UpdateActiveAlerts adjusts the open alert count
func (r *Registry) UpdateActiveAlerts(delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeAlerts += delta
}

// SetDBPoolSize sets the database connection pool size
func (r *Registry) SetDBPoolSize(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbPoolSize = size
}

// SetEventQueueDepth sets the event publisher queue depth
func (r *Registry) SetEventQueueDepth(depth int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventQueueDepth = depth
}

// IncrementMeasurementsProcessed increments the throughput counter
func (r *Registry) IncrementMeasurementsProcessed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.measurementsProcessed++
}

// RecordCacheAccess records a cache hit or miss
func (r *Registry) RecordCacheAccess(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.cacheHits++
	} else {
		r.cacheMisses++
	}
}

// Helper methods for recording metrics with common attribute patterns

// RecordIngestion records ingestion metrics for one measurement
func (r *Registry) RecordIngestion(ctx context.Context, durationMS float64, category string, accepted bool) {
	attrs := []attribute.KeyValue{
		attribute.String("category", category),
		attribute.Bool("accepted", accepted),
	}

	r.IngestionDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))

	if accepted {
		r.MeasurementAcceptedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		r.MeasurementRejectedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	r.IncrementMeasurementsProcessed()
}

// RecordAnalysis records trend and anomaly analysis metrics
func (r *Registry) RecordAnalysis(ctx context.Context, durationMS float64, direction, anomalySeverity string) {
	attrs := []attribute.KeyValue{
		attribute.String("direction", direction),
	}

	r.AnalysisDuration.Record(ctx, durationMS, metric.WithAttributes(attrs...))
	r.TrendCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if anomalySeverity != "" {
		r.AnomalyCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("severity", anomalySeverity),
		))
	}
}

// RecordRuleEvaluation records rule engine metrics
func (r *Registry) RecordRuleEvaluation(ctx context.Context, latencyUS float64, matches int) {
	r.RuleEvaluationDuration.Record(ctx, latencyUS)

	if matches > 0 {
		r.RuleMatchCounter.Add(ctx, int64(matches))
	}
}

// RecordAlertTransition records an alert lifecycle transition
func (r *Registry) RecordAlertTransition(ctx context.Context, transition, severity string) {
	attrs := []attribute.KeyValue{
		attribute.String("severity", severity),
	}

	switch transition {
	case "generated":
		r.AlertGeneratedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
		r.UpdateActiveAlerts(1)
	case "escalated":
		r.AlertEscalatedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	case "acknowledged":
		r.AlertAcknowledgedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	case "resolved":
		r.AlertResolvedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
		r.UpdateActiveAlerts(-1)
	case "expired":
		r.AlertExpiredCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
		r.UpdateActiveAlerts(-1)
	}
}

// RecordAcknowledgeLatency records the generation-to-acknowledgement delay
func (r *Registry) RecordAcknowledgeLatency(ctx context.Context, seconds float64, role string) {
	r.AcknowledgeLatency.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("role", role),
	))
}

// RecordAPIRequest records API request metrics
func (r *Registry) RecordAPIRequest(ctx context.Context, duration float64, method, path string, statusCode int) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	}

	r.APIRequestDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
	r.APIRequestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
