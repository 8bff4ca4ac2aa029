package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	domainErrors "github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
)

// AnalysisRepository persists the derived trend and anomaly records. Both
// tables are append-only; history reads return newest records first.
type AnalysisRepository struct {
	db DBTX
}

// NewAnalysisRepository creates an analysis repository backed by db.
func NewAnalysisRepository(db DBTX) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// StoreTrend appends one trend record.
func (r *AnalysisRepository) StoreTrend(ctx context.Context, tr *analysis.TrendRecord) error {
	query := `
		INSERT INTO trend_records (
			id, patient_id, test_code, direction, change_percentage,
			window_days, sample_count, confidence, clinical_significance, computed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		tr.ID,
		tr.PatientID,
		tr.TestCode,
		tr.Direction.String(),
		tr.ChangePercentage,
		tr.WindowDays,
		tr.SampleCount,
		tr.Confidence,
		tr.ClinicalSignificance,
		tr.ComputedAt,
	)
	if err != nil {
		return domainErrors.NewInternalError("failed to store trend record").WithCause(err)
	}

	return nil
}

// StoreAnomaly appends one anomaly record.
func (r *AnalysisRepository) StoreAnomaly(ctx context.Context, ar *analysis.AnomalyRecord) error {
	query := `
		INSERT INTO anomaly_records (
			id, patient_id, test_code, current_value, unit,
			reference_low, reference_high, deviation_percentage, severity,
			clinical_implication, recommended_action, observed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		ar.ID,
		ar.PatientID,
		ar.TestCode,
		ar.CurrentValue,
		ar.Unit,
		ar.ReferenceRange.Low,
		ar.ReferenceRange.High,
		ar.DeviationPercentage,
		ar.Severity.String(),
		ar.ClinicalImplication,
		ar.RecommendedAction,
		ar.ObservedAt,
		ar.CreatedAt,
	)
	if err != nil {
		return domainErrors.NewInternalError("failed to store anomaly record").WithCause(err)
	}

	return nil
}

// GetTrendHistory returns the recorded trends for a patient's test, newest
// first, up to limit.
func (r *AnalysisRepository) GetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.TrendRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, patient_id, test_code, direction, change_percentage,
		       window_days, sample_count, confidence, clinical_significance, computed_at
		FROM trend_records
		WHERE patient_id = $1 AND test_code = $2
		ORDER BY computed_at DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, testCode, limit)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to query trend history").WithCause(err)
	}
	defer rows.Close()

	var out []*analysis.TrendRecord
	for rows.Next() {
		tr, err := scanTrendRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, domainErrors.NewInternalError("failed to iterate trend rows").WithCause(err)
	}

	return out, nil
}

// GetAnomalyHistory returns the recorded anomalies for a patient's test,
// newest first, up to limit.
func (r *AnalysisRepository) GetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.AnomalyRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, patient_id, test_code, current_value, unit,
		       reference_low, reference_high, deviation_percentage, severity,
		       clinical_implication, recommended_action, observed_at, created_at
		FROM anomaly_records
		WHERE patient_id = $1 AND test_code = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, testCode, limit)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to query anomaly history").WithCause(err)
	}
	defer rows.Close()

	var out []*analysis.AnomalyRecord
	for rows.Next() {
		ar, err := scanAnomalyRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, domainErrors.NewInternalError("failed to iterate anomaly rows").WithCause(err)
	}

	return out, nil
}

func scanTrendRecord(row rowScanner) (*analysis.TrendRecord, error) {
	var (
		tr           analysis.TrendRecord
		directionStr string
	)

	err := row.Scan(
		&tr.ID,
		&tr.PatientID,
		&tr.TestCode,
		&directionStr,
		&tr.ChangePercentage,
		&tr.WindowDays,
		&tr.SampleCount,
		&tr.Confidence,
		&tr.ClinicalSignificance,
		&tr.ComputedAt,
	)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to scan trend row").WithCause(err)
	}

	tr.Direction, err = analysis.ParseTrendDirection(directionStr)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to decode trend direction").WithCause(err)
	}

	return &tr, nil
}

func scanAnomalyRecord(row rowScanner) (*analysis.AnomalyRecord, error) {
	var (
		ar          analysis.AnomalyRecord
		low, high   float64
		severityStr string
	)

	err := row.Scan(
		&ar.ID,
		&ar.PatientID,
		&ar.TestCode,
		&ar.CurrentValue,
		&ar.Unit,
		&low,
		&high,
		&ar.DeviationPercentage,
		&severityStr,
		&ar.ClinicalImplication,
		&ar.RecommendedAction,
		&ar.ObservedAt,
		&ar.CreatedAt,
	)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to scan anomaly row").WithCause(err)
	}

	ar.ReferenceRange = values.ReferenceRange{Low: low, High: high}
	ar.Severity, err = analysis.ParseAnomalySeverity(severityStr)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to decode anomaly severity").WithCause(err)
	}

	return &ar, nil
}
