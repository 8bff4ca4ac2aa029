package fixtures

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

// AlertRuleBuilder builds test AlertRule entities.
type AlertRuleBuilder struct {
	t                  *testing.T
	id                 uuid.UUID
	name               string
	category           rule.Category
	severity           rule.Severity
	conditions         []rule.Condition
	escalationPath     []string
	escalationMinutes  int
	description        string
	leaveDraft         bool
}

// NewAlertRuleBuilder creates a builder for an active lab-critical rule
// matching critical-severity glucose anomalies.
func NewAlertRuleBuilder(t *testing.T) *AlertRuleBuilder {
	t.Helper()
	return &AlertRuleBuilder{
		t:        t,
		name:     "Critical glucose anomaly",
		category: rule.CategoryLabCritical,
		severity: rule.SeverityCritical,
		conditions: []rule.Condition{
			{Field: "test_code", Operator: "equals", Value: "glucose"},
			{Field: "severity", Operator: "in", Value: []interface{}{"severe", "critical"}},
		},
		escalationPath:    []string{"charge nurse", "attending physician"},
		escalationMinutes: 15,
	}
}

// WithID pins the rule ID.
func (b *AlertRuleBuilder) WithID(id uuid.UUID) *AlertRuleBuilder {
	b.id = id
	return b
}

// WithName sets the rule name.
func (b *AlertRuleBuilder) WithName(name string) *AlertRuleBuilder {
	b.name = name
	return b
}

// WithCategory sets the rule category.
func (b *AlertRuleBuilder) WithCategory(category rule.Category) *AlertRuleBuilder {
	b.category = category
	return b
}

// WithSeverity sets the alert severity the rule raises.
func (b *AlertRuleBuilder) WithSeverity(severity rule.Severity) *AlertRuleBuilder {
	b.severity = severity
	return b
}

// WithConditions replaces the rule conditions.
func (b *AlertRuleBuilder) WithConditions(conditions ...rule.Condition) *AlertRuleBuilder {
	b.conditions = conditions
	return b
}

// WithEscalation sets the escalation path and countdown.
func (b *AlertRuleBuilder) WithEscalation(minutes int, path ...string) *AlertRuleBuilder {
	b.escalationMinutes = minutes
	b.escalationPath = path
	return b
}

// WithDescription sets the rule description.
func (b *AlertRuleBuilder) WithDescription(description string) *AlertRuleBuilder {
	b.description = description
	return b
}

// AsDraft leaves the rule in draft instead of activating it.
func (b *AlertRuleBuilder) AsDraft() *AlertRuleBuilder {
	b.leaveDraft = true
	return b
}

// Build creates the AlertRule entity.
func (b *AlertRuleBuilder) Build() *rule.AlertRule {
	b.t.Helper()

	r, err := rule.NewAlertRule(b.name, b.category, b.severity, b.conditions, b.escalationPath, b.escalationMinutes)
	require.NoError(b.t, err)

	r.Description = b.description
	if b.id != uuid.Nil {
		r.ID = b.id
	}
	if !b.leaveDraft {
		require.NoError(b.t, r.Activate())
	}
	return r
}
