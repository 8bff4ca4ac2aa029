package rules

import (
	"context"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

// Service manages the stored alert rule set and keeps the evaluation engine
// in sync with it.
type Service interface {
	CreateRule(ctx context.Context, params CreateParams) (*rule.AlertRule, error)
	UpdateRule(ctx context.Context, id uuid.UUID, params UpdateParams) (*rule.AlertRule, error)
	ActivateRule(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error)
	DeactivateRule(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error)
	ListRules(ctx context.Context) ([]*rule.AlertRule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error
	// Reload pushes the stored rule set into the evaluation engine. Run
	// once at startup and after any mutation.
	Reload(ctx context.Context) error
}

// RuleRepository persists alert rules.
type RuleRepository interface {
	Create(ctx context.Context, r *rule.AlertRule) error
	Update(ctx context.Context, r *rule.AlertRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error)
	List(ctx context.Context) ([]*rule.AlertRule, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// EngineUpdater receives the rule set after mutations. The rule engine's
// Service satisfies this.
type EngineUpdater interface {
	UpdateRules(ctx context.Context, rules []*rule.AlertRule) error
}

// CreateParams carries everything needed to create a rule. Description is
// optional; ActivateImmediately skips the draft stage.
type CreateParams struct {
	Name                    string
	Description             string
	Category                rule.Category
	Severity                rule.Severity
	Conditions              []rule.Condition
	EscalationPath          []string
	TimeToEscalationMinutes int
	ActivateImmediately     bool
}

// UpdateParams replaces a rule's mutable fields. The category is fixed at
// creation.
type UpdateParams struct {
	Name                    string
	Description             string
	Severity                rule.Severity
	Conditions              []rule.Condition
	EscalationPath          []string
	TimeToEscalationMinutes int
}
