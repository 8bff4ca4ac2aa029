package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
)

// MeasurementRepository persists clinical measurements. Rows are append-only;
// there is no update path.
type MeasurementRepository struct {
	db DBTX
}

// NewMeasurementRepository creates a measurement repository backed by db.
func NewMeasurementRepository(db DBTX) *MeasurementRepository {
	return &MeasurementRepository{db: db}
}

// Store inserts one measurement.
func (r *MeasurementRepository) Store(ctx context.Context, m *measurement.Measurement) error {
	query := `
		INSERT INTO measurements (
			id, patient_id, test_code, test_name, value, unit,
			reference_low, reference_high, observed_at, category, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		m.ID,
		m.PatientID,
		m.TestCode,
		m.TestName,
		m.Value,
		m.Unit,
		m.ReferenceRange.Low,
		m.ReferenceRange.High,
		m.ObservedAt,
		m.Category.String(),
		m.CreatedAt,
	)
	if err != nil {
		return domainErrors.NewInternalError("failed to store measurement").WithCause(err)
	}

	return nil
}

// GetWindow returns the patient's measurements for one test observed inside
// [from, to], ordered by observation time ascending.
func (r *MeasurementRepository) GetWindow(ctx context.Context, patientID uuid.UUID, testCode string, from, to time.Time) ([]*measurement.Measurement, error) {
	query := `
		SELECT id, patient_id, test_code, test_name, value, unit,
		       reference_low, reference_high, observed_at, category, created_at
		FROM measurements
		WHERE patient_id = $1 AND test_code = $2
		  AND observed_at >= $3 AND observed_at <= $4
		ORDER BY observed_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, testCode, from, to)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to query measurement window").WithCause(err)
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

// ListRecentByPatient returns the patient's newest measurements across all
// tests, up to limit.
func (r *MeasurementRepository) ListRecentByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*measurement.Measurement, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, patient_id, test_code, test_name, value, unit,
		       reference_low, reference_high, observed_at, category, created_at
		FROM measurements
		WHERE patient_id = $1
		ORDER BY observed_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, limit)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to query recent measurements").WithCause(err)
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

func scanMeasurements(rows *sql.Rows) ([]*measurement.Measurement, error) {
	var out []*measurement.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domainErrors.NewInternalError("failed to iterate measurement rows").WithCause(err)
	}
	return out, nil
}

func scanMeasurement(row rowScanner) (*measurement.Measurement, error) {
	var (
		m           measurement.Measurement
		low, high   float64
		categoryStr string
	)

	err := row.Scan(
		&m.ID,
		&m.PatientID,
		&m.TestCode,
		&m.TestName,
		&m.Value,
		&m.Unit,
		&low,
		&high,
		&m.ObservedAt,
		&categoryStr,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to scan measurement row").WithCause(err)
	}

	m.ReferenceRange = values.ReferenceRange{Low: low, High: high}
	m.Category, err = measurement.ParseCategory(categoryStr)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to decode measurement category").WithCause(err)
	}

	return &m, nil
}
