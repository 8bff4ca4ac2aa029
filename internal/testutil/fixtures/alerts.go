package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

// AlertBuilder builds test CriticalAlert entities through the domain
// lifecycle, so derived state like deadlines stays consistent.
type AlertBuilder struct {
	t                 *testing.T
	id                uuid.UUID
	patientID         uuid.UUID
	ruleID            uuid.UUID
	category          rule.Category
	severity          rule.Severity
	title             string
	escalationPath    []string
	escalationMinutes int
	expiresAt         *time.Time
	status            alert.Status
	actor             string
}

// NewAlertBuilder creates a builder for an active critical alert.
func NewAlertBuilder(t *testing.T) *AlertBuilder {
	t.Helper()
	return &AlertBuilder{
		t:                 t,
		patientID:         uuid.New(),
		ruleID:            uuid.New(),
		category:          rule.CategoryLabCritical,
		severity:          rule.SeverityCritical,
		title:             "Critical glucose anomaly",
		escalationPath:    []string{"charge nurse", "attending physician"},
		escalationMinutes: 15,
		status:            alert.StatusActive,
		actor:             "nurse.jordan",
	}
}

// WithID pins the alert ID.
func (b *AlertBuilder) WithID(id uuid.UUID) *AlertBuilder {
	b.id = id
	return b
}

// WithPatientID sets the patient.
func (b *AlertBuilder) WithPatientID(patientID uuid.UUID) *AlertBuilder {
	b.patientID = patientID
	return b
}

// WithRuleID sets the originating rule.
func (b *AlertBuilder) WithRuleID(ruleID uuid.UUID) *AlertBuilder {
	b.ruleID = ruleID
	return b
}

// WithSeverity sets the alert severity.
func (b *AlertBuilder) WithSeverity(severity rule.Severity) *AlertBuilder {
	b.severity = severity
	return b
}

// WithTitle sets the alert title.
func (b *AlertBuilder) WithTitle(title string) *AlertBuilder {
	b.title = title
	return b
}

// WithEscalation sets the escalation path and countdown.
func (b *AlertBuilder) WithEscalation(minutes int, path ...string) *AlertBuilder {
	b.escalationMinutes = minutes
	b.escalationPath = path
	return b
}

// WithExpiresAt sets the validity window end.
func (b *AlertBuilder) WithExpiresAt(at time.Time) *AlertBuilder {
	b.expiresAt = &at
	return b
}

// WithStatus walks the alert to the given lifecycle status.
func (b *AlertBuilder) WithStatus(status alert.Status) *AlertBuilder {
	b.status = status
	return b
}

// WithActor sets who performs lifecycle transitions.
func (b *AlertBuilder) WithActor(actor string) *AlertBuilder {
	b.actor = actor
	return b
}

// Build creates the CriticalAlert entity.
func (b *AlertBuilder) Build() *alert.CriticalAlert {
	b.t.Helper()

	a, err := alert.NewCriticalAlert(alert.CreationRequest{
		PatientID:               b.patientID,
		RuleID:                  b.ruleID,
		Category:                b.category,
		Severity:                b.severity,
		Title:                   b.title,
		Description:             "fixture alert",
		RecommendedAction:       "review patient chart",
		EscalationPath:          b.escalationPath,
		TimeToEscalationMinutes: b.escalationMinutes,
		ExpiresAt:               b.expiresAt,
		Trigger: alert.TriggerSnapshot{
			Source:   "anomaly",
			TestCode: "glucose",
			Summary:  "glucose outside reference range",
			Severity: b.severity,
		},
	})
	require.NoError(b.t, err)

	switch b.status {
	case alert.StatusActive:
		// Creation state
	case alert.StatusAcknowledged:
		require.NoError(b.t, a.Acknowledge(b.actor))
	case alert.StatusEscalated:
		require.NoError(b.t, a.Escalate())
	case alert.StatusResolved:
		require.NoError(b.t, a.Resolve(b.actor))
	case alert.StatusExpired:
		require.NoError(b.t, a.Expire())
	}

	if b.id != uuid.Nil {
		a.ID = b.id
	}
	return a
}
