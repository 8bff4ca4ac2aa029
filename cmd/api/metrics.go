package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/database"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/events"
	"github.com/vitalsense/clinical-signal-engine/internal/metrics"
	"github.com/vitalsense/clinical-signal-engine/internal/service/ingestion"
	"github.com/vitalsense/clinical-signal-engine/internal/service/ruleengine"
)

// Process-level Prometheus metrics for the API binary. Domain metrics live
// in internal/metrics behind OTel; these gauges expose the infrastructure
// counters that only the binary can see (pool, publisher, pipeline).

var (
	// Ingestion pipeline metrics
	pipelineIngested = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cse",
			Subsystem: "pipeline",
			Name:      "measurements_ingested_total",
			Help:      "Measurements accepted since startup",
		},
	)

	pipelineAnalyzed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cse",
			Subsystem: "pipeline",
			Name:      "measurements_analyzed_total",
			Help:      "Measurements fully analyzed since startup",
		},
	)

	pipelineFailed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cse",
			Subsystem: "pipeline",
			Name:      "measurements_failed_total",
			Help:      "Measurements whose analysis failed since startup",
		},
	)

	pipelineAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cse",
			Subsystem: "pipeline",
			Name:      "alerts_created_total",
			Help:      "Alerts created by the pipeline since startup",
		},
	)

	pipelineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cse",
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Tasks waiting across partition queues",
		},
	)

	// Rule engine metrics
	activeRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cse",
			Subsystem: "rules",
			Name:      "active_total",
			Help:      "Rules in the installed evaluation set",
		},
	)

	correlationPatients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cse",
			Subsystem: "rules",
			Name:      "correlation_patients",
			Help:      "Patients holding signals in the correlation window",
		},
	)

	// Event publisher metrics
	eventsPublished = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cse",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events delivered to subscribers since startup",
		},
	)

	eventsDropped = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cse",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped on full queues since startup",
		},
	)

	eventQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cse",
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Events waiting in the publisher queues",
		},
		[]string{"queue"},
	)

	eventSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cse",
			Subsystem: "events",
			Name:      "subscriptions",
			Help:      "Active event subscriptions",
		},
	)

	// Database metrics
	dbConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "connections",
			Help:      "Current number of connections in the pool",
		},
		[]string{"state"},
	)

	dbTransactions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "transactions_total",
			Help:      "Transactions by outcome since startup",
		},
		[]string{"outcome"},
	)
)

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// statsPollInterval is how often the binary samples infrastructure
// counters into the gauges above and the OTel registry.
const statsPollInterval = 10 * time.Second

// pollProcessMetrics samples pool, publisher, pipeline, and rule engine
// state until the context ends.
func pollProcessMetrics(
	ctx context.Context,
	pool *database.ConnectionPool,
	publisher *events.AlertEventPublisher,
	pipeline ingestion.Service,
	engine ruleengine.Service,
	registry *metrics.Registry,
) {
	ticker := time.NewTicker(statsPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn := pool.Metrics().Snapshot()
			dbConnectionPoolSize.WithLabelValues("total").Set(float64(conn.TotalConnections))
			dbConnectionPoolSize.WithLabelValues("active").Set(float64(conn.ActiveConnections))
			dbConnectionPoolSize.WithLabelValues("idle").Set(float64(conn.IdleConnections))
			dbTransactions.WithLabelValues("committed").Set(float64(conn.TransactionsCommitted))
			dbTransactions.WithLabelValues("rolled_back").Set(float64(conn.TransactionsRolledBack))

			pub := publisher.Stats()
			eventsPublished.Set(float64(pub.Published))
			eventsDropped.Set(float64(pub.Dropped))
			eventQueueDepth.WithLabelValues("standard").Set(float64(pub.QueueDepth))
			eventQueueDepth.WithLabelValues("critical").Set(float64(pub.CriticalDepth))
			eventSubscriptions.Set(float64(pub.Subscriptions))

			pipe := pipeline.Stats()
			pipelineIngested.Set(float64(pipe.Ingested))
			pipelineAnalyzed.Set(float64(pipe.Analyzed))
			pipelineFailed.Set(float64(pipe.Failed))
			pipelineAlerts.Set(float64(pipe.AlertsCreated))
			pipelineQueueDepth.Set(float64(pipe.QueuedTasks))

			ruleCount := int64(engine.ActiveRuleCount())
			activeRules.Set(float64(ruleCount))
			correlationPatients.Set(float64(engine.TrackedPatientCount()))

			if registry != nil {
				registry.SetDBPoolSize(conn.ActiveConnections)
				registry.SetEventQueueDepth(int64(pub.QueueDepth + pub.CriticalDepth))
				registry.SetPipelineQueueDepth(int64(pipe.QueuedTasks))
				registry.SetActiveRules(ruleCount)
			}
		}
	}
}
