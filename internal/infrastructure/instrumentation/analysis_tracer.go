package instrumentation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domainanalysis "github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/metrics"
	analysissvc "github.com/vitalsense/clinical-signal-engine/internal/service/analysis"
)

// AnalysisTracedService wraps the analysis service with OpenTelemetry instrumentation
type AnalysisTracedService struct {
	service analysissvc.Service
	tracer  trace.Tracer
	metrics *metrics.Registry
}

// NewAnalysisTracedService creates a new instrumented analysis service
func NewAnalysisTracedService(service analysissvc.Service, registry *metrics.Registry) *AnalysisTracedService {
	return &AnalysisTracedService{
		service: service,
		tracer:  otel.Tracer("analysis"),
		metrics: registry,
	}
}

// AnalyzeMeasurement instruments the classification of one measurement
func (s *AnalysisTracedService) AnalyzeMeasurement(ctx context.Context, m *measurement.Measurement) (*analysissvc.Result, error) {
	attrs := []attribute.KeyValue{
		attribute.String("component", "analysis"),
	}
	if m != nil {
		attrs = append(attrs,
			attribute.String("patient.id", m.PatientID.String()),
			attribute.String("measurement.test_code", m.TestCode),
			attribute.String("measurement.category", m.Category.String()),
		)
	}

	ctx, span := s.tracer.Start(ctx, "analysis.AnalyzeMeasurement",
		trace.WithAttributes(attrs...))
	defer span.End()

	startTime := time.Now()
	result, err := s.service.AnalyzeMeasurement(ctx, m)
	durationMS := float64(time.Since(startTime).Microseconds()) / 1000.0

	if err != nil {
		span.RecordError(err)
		s.metrics.RecordAnalysis(ctx, durationMS, "error", "")
		return nil, err
	}

	direction := ""
	anomalySeverity := ""
	if result.Trend != nil {
		direction = result.Trend.Direction.String()
		span.SetAttributes(
			attribute.String("trend.direction", direction),
			attribute.Float64("trend.change_percentage", result.Trend.ChangePercentage),
		)
	}
	if result.Anomaly != nil {
		anomalySeverity = result.Anomaly.Severity.String()
		span.SetAttributes(
			attribute.String("anomaly.severity", anomalySeverity),
			attribute.Float64("anomaly.deviation_percentage", result.Anomaly.DeviationPercentage),
		)
		span.AddEvent("anomaly_detected", trace.WithAttributes(
			attribute.String("severity", anomalySeverity),
			attribute.String("test_code", m.TestCode),
		))
	}

	s.metrics.RecordAnalysis(ctx, durationMS, direction, anomalySeverity)

	return result, nil
}

// BuildCompletedEvent passes through; summary assembly is pure
func (s *AnalysisTracedService) BuildCompletedEvent(patientID uuid.UUID, results []*analysissvc.Result) domainanalysis.CompletedEvent {
	return s.service.BuildCompletedEvent(patientID, results)
}

// GetTrendHistory instruments trend history reads
func (s *AnalysisTracedService) GetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*domainanalysis.TrendRecord, error) {
	ctx, span := s.tracer.Start(ctx, "analysis.GetTrendHistory",
		trace.WithAttributes(
			attribute.String("patient.id", patientID.String()),
			attribute.String("measurement.test_code", testCode),
			attribute.Int("limit", limit),
		))
	defer span.End()

	records, err := s.service.GetTrendHistory(ctx, patientID, testCode, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("records.count", len(records)))
	return records, nil
}

// GetAnomalyHistory instruments anomaly history reads
func (s *AnalysisTracedService) GetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*domainanalysis.AnomalyRecord, error) {
	ctx, span := s.tracer.Start(ctx, "analysis.GetAnomalyHistory",
		trace.WithAttributes(
			attribute.String("patient.id", patientID.String()),
			attribute.String("measurement.test_code", testCode),
			attribute.Int("limit", limit),
		))
	defer span.End()

	records, err := s.service.GetAnomalyHistory(ctx, patientID, testCode, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("records.count", len(records)))
	return records, nil
}
