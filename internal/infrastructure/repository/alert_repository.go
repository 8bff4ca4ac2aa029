package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	domainErrors "github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

// AlertRepository persists critical alerts. "Open" throughout means any
// non-terminal status: active, acknowledged or escalated. A partial unique
// index on (patient_id, rule_id) over open statuses backs the one-open-alert
// invariant that the lifecycle service enforces.
type AlertRepository struct {
	db DBTX
}

// NewAlertRepository creates an alert repository backed by db.
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `
	id, patient_id, rule_id, category, severity, status,
	title, description, trigger_data, recommended_action,
	escalation_path, escalation_level, time_to_escalation_minutes, escalation_deadline,
	created_at, updated_at, expires_at,
	acknowledged_by, acknowledged_at, resolved_by, resolved_at
`

// Create inserts a new alert.
func (r *AlertRepository) Create(ctx context.Context, a *alert.CriticalAlert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17,
			$18, $19, $20, $21
		)
	`

	args, err := alertArgs(a)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return domainErrors.NewInternalError("failed to create alert").WithCause(err)
	}

	return nil
}

// UpdateFromStatus replaces the alert's mutable state, guarded by the status
// the caller last read. Admin transitions, dedup merges and the sweep all
// write alerts from different goroutines; the guard turns a lost update into
// ErrStaleAlert so the caller reloads instead of overwriting a transition it
// never saw. Zero rows also covers a row deleted underneath us; the reload
// surfaces that as not found.
func (r *AlertRepository) UpdateFromStatus(ctx context.Context, a *alert.CriticalAlert, expected alert.Status) error {
	query := `
		UPDATE alerts SET
			category = $4, severity = $5, status = $6,
			title = $7, description = $8, trigger_data = $9, recommended_action = $10,
			escalation_path = $11, escalation_level = $12,
			time_to_escalation_minutes = $13, escalation_deadline = $14,
			created_at = $15, updated_at = $16, expires_at = $17,
			acknowledged_by = $18, acknowledged_at = $19, resolved_by = $20, resolved_at = $21
		WHERE id = $1 AND status = $22
	`

	args, err := alertArgs(a)
	if err != nil {
		return err
	}
	args = append(args, expected.String())

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domainErrors.NewInternalError("failed to update alert").WithCause(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domainErrors.NewInternalError("failed to read update result").WithCause(err)
	}
	if affected == 0 {
		return domainErrors.ErrStaleAlert
	}

	return nil
}

// GetByID returns the alert, or nil, nil when no row exists.
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*alert.CriticalAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	a, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// GetOpenByPatientAndRule returns the patient's open alert for the rule, or
// nil, nil when there is none.
func (r *AlertRepository) GetOpenByPatientAndRule(ctx context.Context, patientID, ruleID uuid.UUID) (*alert.CriticalAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE patient_id = $1 AND rule_id = $2
		  AND status IN ('active', 'acknowledged', 'escalated')
		ORDER BY created_at DESC
		LIMIT 1
	`

	a, err := scanAlert(r.db.QueryRowContext(ctx, query, patientID, ruleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// ListOpenByPatient returns the patient's open alerts, newest first.
func (r *AlertRepository) ListOpenByPatient(ctx context.Context, patientID uuid.UUID) ([]*alert.CriticalAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE patient_id = $1
		  AND status IN ('active', 'acknowledged', 'escalated')
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to query open alerts").WithCause(err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ListEscalationDue returns open alerts whose escalation deadline has passed
// at the given instant. Acknowledged alerts never escalate.
func (r *AlertRepository) ListEscalationDue(ctx context.Context, now time.Time) ([]*alert.CriticalAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE status IN ('active', 'escalated')
		  AND escalation_deadline IS NOT NULL
		  AND escalation_deadline <= $1
		ORDER BY escalation_deadline ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to query escalation-due alerts").WithCause(err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ListExpireDue returns open alerts whose validity window has closed at the
// given instant.
func (r *AlertRepository) ListExpireDue(ctx context.Context, now time.Time) ([]*alert.CriticalAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE status IN ('active', 'acknowledged', 'escalated')
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		ORDER BY expires_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to query expiry-due alerts").WithCause(err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

func alertArgs(a *alert.CriticalAlert) ([]any, error) {
	triggerJSON, err := json.Marshal(a.TriggerData)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to marshal trigger data").WithCause(err)
	}
	pathJSON, err := json.Marshal(a.EscalationPath)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to marshal escalation path").WithCause(err)
	}

	var deadline sql.NullTime
	if !a.EscalationDeadline.IsZero() {
		deadline = sql.NullTime{Time: a.EscalationDeadline, Valid: true}
	}

	return []any{
		a.ID, a.PatientID, a.RuleID, a.Category.String(), a.Severity.String(), a.Status.String(),
		a.Title, a.Description, triggerJSON, a.RecommendedAction,
		pathJSON, a.EscalationLevel, a.TimeToEscalationMinutes, deadline,
		a.CreatedAt, a.UpdatedAt, a.ExpiresAt,
		a.AcknowledgedBy, a.AcknowledgedAt, a.ResolvedBy, a.ResolvedAt,
	}, nil
}

func scanAlerts(rows *sql.Rows) ([]*alert.CriticalAlert, error) {
	var out []*alert.CriticalAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domainErrors.NewInternalError("failed to iterate alert rows").WithCause(err)
	}
	return out, nil
}

func scanAlert(row rowScanner) (*alert.CriticalAlert, error) {
	var (
		a                        alert.CriticalAlert
		categoryStr, severityStr string
		statusStr                string
		triggerJSON, pathJSON    []byte
		deadline                 sql.NullTime
		expiresAt                sql.NullTime
		ackBy, resolvedBy        sql.NullString
		ackAt, resolvedAt        sql.NullTime
	)

	err := row.Scan(
		&a.ID, &a.PatientID, &a.RuleID, &categoryStr, &severityStr, &statusStr,
		&a.Title, &a.Description, &triggerJSON, &a.RecommendedAction,
		&pathJSON, &a.EscalationLevel, &a.TimeToEscalationMinutes, &deadline,
		&a.CreatedAt, &a.UpdatedAt, &expiresAt,
		&ackBy, &ackAt, &resolvedBy, &resolvedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, domainErrors.NewInternalError("failed to scan alert row").WithCause(err)
	}

	a.Category, err = rule.ParseCategory(categoryStr)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to decode alert category").WithCause(err)
	}
	a.Severity, err = rule.ParseSeverity(severityStr)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to decode alert severity").WithCause(err)
	}
	a.Status, err = alert.ParseStatus(statusStr)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to decode alert status").WithCause(err)
	}

	if err := json.Unmarshal(triggerJSON, &a.TriggerData); err != nil {
		return nil, domainErrors.NewInternalError("failed to unmarshal trigger data").WithCause(err)
	}
	if err := json.Unmarshal(pathJSON, &a.EscalationPath); err != nil {
		return nil, domainErrors.NewInternalError("failed to unmarshal escalation path").WithCause(err)
	}

	if deadline.Valid {
		a.EscalationDeadline = deadline.Time
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	if ackBy.Valid {
		s := ackBy.String
		a.AcknowledgedBy = &s
	}
	if ackAt.Valid {
		t := ackAt.Time
		a.AcknowledgedAt = &t
	}
	if resolvedBy.Valid {
		s := resolvedBy.String
		a.ResolvedBy = &s
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}

	return &a, nil
}
