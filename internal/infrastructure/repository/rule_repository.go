package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	domainErrors "github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

// RuleRepository persists alert rules.
type RuleRepository struct {
	db DBTX
}

// NewRuleRepository creates a rule repository backed by db.
func NewRuleRepository(db DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `
	id, name, category, severity, status, conditions,
	escalation_path, time_to_escalation_minutes, description, created_at, updated_at
`

// Create inserts a new rule.
func (r *RuleRepository) Create(ctx context.Context, ar *rule.AlertRule) error {
	query := `
		INSERT INTO alert_rules (` + ruleColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	args, err := ruleArgs(ar)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return domainErrors.NewInternalError("failed to create rule").WithCause(err)
	}

	return nil
}

// Update replaces the rule's mutable fields.
func (r *RuleRepository) Update(ctx context.Context, ar *rule.AlertRule) error {
	query := `
		UPDATE alert_rules SET
			name = $2, category = $3, severity = $4, status = $5, conditions = $6,
			escalation_path = $7, time_to_escalation_minutes = $8, description = $9,
			created_at = $10, updated_at = $11
		WHERE id = $1
	`

	args, err := ruleArgs(ar)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domainErrors.NewInternalError("failed to update rule").WithCause(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domainErrors.NewInternalError("failed to read update result").WithCause(err)
	}
	if affected == 0 {
		return domainErrors.ErrRuleNotFound
	}

	return nil
}

// GetByID returns the rule, or nil, nil when no row exists.
func (r *RuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = $1`

	ar, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ar, nil
}

// List returns every stored rule, oldest first so reloads are stable.
func (r *RuleRepository) List(ctx context.Context) ([]*rule.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to query rules").WithCause(err)
	}
	defer rows.Close()

	var out []*rule.AlertRule
	for rows.Next() {
		ar, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, domainErrors.NewInternalError("failed to iterate rule rows").WithCause(err)
	}

	return out, nil
}

// Delete removes the rule.
func (r *RuleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return domainErrors.NewInternalError("failed to delete rule").WithCause(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domainErrors.NewInternalError("failed to read delete result").WithCause(err)
	}
	if affected == 0 {
		return domainErrors.ErrRuleNotFound
	}

	return nil
}

func ruleArgs(ar *rule.AlertRule) ([]any, error) {
	conditionsJSON, err := json.Marshal(ar.Conditions)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to marshal rule conditions").WithCause(err)
	}
	pathJSON, err := json.Marshal(ar.EscalationPath)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to marshal escalation path").WithCause(err)
	}

	return []any{
		ar.ID, ar.Name, ar.Category.String(), ar.Severity.String(), ar.Status.String(), conditionsJSON,
		pathJSON, ar.TimeToEscalationMinutes, ar.Description, ar.CreatedAt, ar.UpdatedAt,
	}, nil
}

func scanRule(row rowScanner) (*rule.AlertRule, error) {
	var (
		ar                       rule.AlertRule
		categoryStr, severityStr string
		statusStr                string
		conditionsJSON, pathJSON []byte
	)

	err := row.Scan(
		&ar.ID, &ar.Name, &categoryStr, &severityStr, &statusStr, &conditionsJSON,
		&pathJSON, &ar.TimeToEscalationMinutes, &ar.Description, &ar.CreatedAt, &ar.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, domainErrors.NewInternalError("failed to scan rule row").WithCause(err)
	}

	ar.Category, err = rule.ParseCategory(categoryStr)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to decode rule category").WithCause(err)
	}
	ar.Severity, err = rule.ParseSeverity(severityStr)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to decode rule severity").WithCause(err)
	}
	ar.Status, err = parseRuleStatus(statusStr)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to decode rule status").WithCause(err)
	}

	if err := json.Unmarshal(conditionsJSON, &ar.Conditions); err != nil {
		return nil, domainErrors.NewInternalError("failed to unmarshal rule conditions").WithCause(err)
	}
	if err := json.Unmarshal(pathJSON, &ar.EscalationPath); err != nil {
		return nil, domainErrors.NewInternalError("failed to unmarshal escalation path").WithCause(err)
	}

	return &ar, nil
}

func parseRuleStatus(s string) (rule.RuleStatus, error) {
	switch s {
	case "draft":
		return rule.RuleStatusDraft, nil
	case "active":
		return rule.RuleStatusActive, nil
	case "inactive":
		return rule.RuleStatusInactive, nil
	default:
		return 0, domainErrors.NewInternalError("unknown rule status " + s)
	}
}
