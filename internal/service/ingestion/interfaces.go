package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	domainanalysis "github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/service/analysis"
)

// Service is the measurement front door. Submissions are validated and
// stored synchronously, then analyzed, correlated, and alerted on by
// per-patient pipeline workers. Measurements for one patient always process
// in submission order.
type Service interface {
	// Ingest validates, stores, and queues one measurement
	Ingest(ctx context.Context, sub Submission) (*measurement.Measurement, error)
	// IngestBatch processes a batch with per-item acceptance
	IngestBatch(ctx context.Context, subs []Submission) (*BatchResult, error)
	// Start launches the pipeline workers
	Start() error
	// Stop drains queued work and shuts the workers down
	Stop()
	// Stats reports pipeline counters
	Stats() PipelineStats
}

// MeasurementStore persists validated measurements.
type MeasurementStore interface {
	Store(ctx context.Context, m *measurement.Measurement) error
}

// Analyzer classifies stored measurements; satisfied by the analysis
// service.
type Analyzer interface {
	AnalyzeMeasurement(ctx context.Context, m *measurement.Measurement) (*analysis.Result, error)
	BuildCompletedEvent(patientID uuid.UUID, results []*analysis.Result) domainanalysis.CompletedEvent
}

// RuleEvaluator turns analysis output into alert creation requests;
// satisfied by the rule engine.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, m *measurement.Measurement, trend *domainanalysis.TrendRecord, anomaly *domainanalysis.AnomalyRecord) ([]*alert.CreationRequest, error)
}

// AlertLifecycle receives creation requests; satisfied by the alerting
// service.
type AlertLifecycle interface {
	HandleCreationRequest(ctx context.Context, req *alert.CreationRequest) (*alert.CriticalAlert, error)
}

// CompletedPublisher fans out per-patient analysis summaries.
type CompletedPublisher interface {
	PublishAnalysisCompleted(ctx context.Context, event domainanalysis.CompletedEvent) error
}

// Submission is one raw measurement as received on the wire.
type Submission struct {
	PatientID     uuid.UUID
	TestCode      string
	TestName      string
	Value         float64
	Unit          string
	ReferenceLow  float64
	ReferenceHigh float64
	ObservedAt    time.Time
	Category      string
}

// BatchResult reports per-item outcomes for a batch submission.
type BatchResult struct {
	Accepted []*measurement.Measurement
	Rejected []RejectedSubmission
}

// RejectedSubmission names a batch item that failed validation or storage.
type RejectedSubmission struct {
	Index int
	Error string
}

// PipelineStats is a snapshot of the pipeline counters.
type PipelineStats struct {
	Ingested      int64
	Analyzed      int64
	Failed        int64
	AlertsCreated int64
	QueuedTasks   int
}
