package analysis

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
)

type service struct {
	measurements MeasurementRepository
	records      AnalysisRepository
	logger       *slog.Logger
	cfg          Config
}

// NewService creates the analysis service. A zero Config picks up the
// clinical defaults.
func NewService(measurements MeasurementRepository, records AnalysisRepository, logger *slog.Logger, cfg Config) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		measurements: measurements,
		records:      records,
		logger:       logger,
		cfg:          cfg.withDefaults(),
	}
}

func (s *service) AnalyzeMeasurement(ctx context.Context, m *measurement.Measurement) (*Result, error) {
	if m == nil {
		return nil, errors.NewValidationError("INVALID_MEASUREMENT", "measurement cannot be nil")
	}

	window, err := s.loadWindow(ctx, m)
	if err != nil {
		return nil, err
	}

	values := make([]float64, len(window))
	for i, w := range window {
		values[i] = w.Value
	}

	result := &Result{Measurement: m}

	tc := classifyTrend(values, m.ReferenceRange.Midpoint(), s.cfg)
	trend, err := analysis.NewTrendRecord(
		m.PatientID, m.TestCode,
		tc.Direction, tc.ChangePercentage,
		s.cfg.TrendWindowDays, len(values), tc.Confidence,
		trendSignificance(m.TestCode, tc),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build trend record")
	}
	if err := s.records.StoreTrend(ctx, trend); err != nil {
		return nil, errors.Wrap(err, "failed to store trend record")
	}
	result.Trend = trend

	if severity, deviationPct, outOfRange := classifyAnomaly(m, s.cfg); outOfRange {
		anomaly, err := analysis.NewAnomalyRecord(
			m.PatientID, m.TestCode, m.Value, m.Unit, m.ReferenceRange,
			deviationPct, severity,
			anomalyImplication(m, severity), anomalyAction(severity),
			m.ObservedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build anomaly record")
		}
		if err := s.records.StoreAnomaly(ctx, anomaly); err != nil {
			return nil, errors.Wrap(err, "failed to store anomaly record")
		}
		result.Anomaly = anomaly

		s.logger.InfoContext(ctx, "anomaly detected",
			"patient_id", m.PatientID,
			"test_code", m.TestCode,
			"value", m.Value,
			"severity", severity.String(),
			"deviation_pct", deviationPct,
		)
	}

	s.logger.DebugContext(ctx, "measurement analyzed",
		"patient_id", m.PatientID,
		"test_code", m.TestCode,
		"direction", tc.Direction.String(),
		"confidence", tc.Confidence,
		"samples", len(values),
	)

	return result, nil
}

// loadWindow fetches the trend window ending at the measurement's observation
// time. The measurement itself is guaranteed a slot even when the repository
// read races its own write.
func (s *service) loadWindow(ctx context.Context, m *measurement.Measurement) ([]*measurement.Measurement, error) {
	to := m.ObservedAt
	from := to.AddDate(0, 0, -s.cfg.TrendWindowDays)

	window, err := s.measurements.GetWindow(ctx, m.PatientID, m.TestCode, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load measurement window")
	}

	for _, w := range window {
		if w.ID == m.ID {
			return window, nil
		}
	}
	window = append(window, m)
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].ObservedAt.Before(window[j].ObservedAt)
	})
	return window, nil
}

func (s *service) BuildCompletedEvent(patientID uuid.UUID, results []*Result) analysis.CompletedEvent {
	var trends []*analysis.TrendRecord
	var anomalies []*analysis.AnomalyRecord
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Trend != nil {
			trends = append(trends, r.Trend)
		}
		if r.Anomaly != nil {
			anomalies = append(anomalies, r.Anomaly)
		}
	}
	return analysis.NewCompletedEvent(
		patientID, trends, anomalies,
		deriveRiskFactors(trends, anomalies),
		deriveRecommendations(trends, anomalies),
	)
}

func (s *service) GetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.TrendRecord, error) {
	if patientID == uuid.Nil {
		return nil, errors.ErrPatientNotFound
	}
	history, err := s.records.GetTrendHistory(ctx, patientID, testCode, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load trend history")
	}
	return history, nil
}

func (s *service) GetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.AnomalyRecord, error) {
	if patientID == uuid.Nil {
		return nil, errors.ErrPatientNotFound
	}
	history, err := s.records.GetAnomalyHistory(ctx, patientID, testCode, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load anomaly history")
	}
	return history, nil
}
