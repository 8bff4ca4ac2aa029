package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
)

// Service classifies incoming measurements into trends and anomalies
type Service interface {
	// AnalyzeMeasurement classifies one measurement against the patient's
	// recent history, persisting the derived records
	AnalyzeMeasurement(ctx context.Context, m *measurement.Measurement) (*Result, error)
	// BuildCompletedEvent summarizes one analysis pass for outbound consumers
	BuildCompletedEvent(patientID uuid.UUID, results []*Result) analysis.CompletedEvent
	// GetTrendHistory returns the recorded trend history for a patient's test
	GetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.TrendRecord, error)
	// GetAnomalyHistory returns the recorded anomaly history for a patient's test
	GetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.AnomalyRecord, error)
}

// MeasurementRepository defines the measurement window reads the classifier needs
type MeasurementRepository interface {
	// GetWindow returns measurements for a patient's test observed in
	// [from, to], ordered by observation time ascending
	GetWindow(ctx context.Context, patientID uuid.UUID, testCode string, from, to time.Time) ([]*measurement.Measurement, error)
}

// AnalysisRepository persists and queries derived records
type AnalysisRepository interface {
	StoreTrend(ctx context.Context, tr *analysis.TrendRecord) error
	StoreAnomaly(ctx context.Context, ar *analysis.AnomalyRecord) error
	GetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.TrendRecord, error)
	GetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.AnomalyRecord, error)
}

// Result bundles the classification outputs for one measurement. Trend
// describes the history window ending at this measurement; Anomaly is nil
// when the value sits inside its reference range.
type Result struct {
	Measurement *measurement.Measurement
	Trend       *analysis.TrendRecord
	Anomaly     *analysis.AnomalyRecord
}
