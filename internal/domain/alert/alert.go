package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/validation"
)

// CriticalAlert is the engine's primary mutable entity. It is created by the
// rule engine and exclusively owned by the lifecycle manager afterwards.
// Invariant: at most one alert per (patient_id, rule_id) may be in a
// non-terminal status at any time.
type CriticalAlert struct {
	ID        uuid.UUID     `json:"id"`
	PatientID uuid.UUID     `json:"patient_id"`
	RuleID    uuid.UUID     `json:"rule_id"`
	Category  rule.Category `json:"category"`
	Severity  rule.Severity `json:"severity"`
	Status    Status        `json:"status"`

	Title             string            `json:"title"`
	Description       string            `json:"description"`
	TriggerData       []TriggerSnapshot `json:"trigger_data"`
	RecommendedAction string            `json:"recommended_action"`

	// Escalation policy, copied from the rule at creation so later rule edits
	// do not change in-flight alerts
	EscalationPath          []string  `json:"escalation_path"`
	EscalationLevel         int       `json:"escalation_level"`
	TimeToEscalationMinutes int       `json:"time_to_escalation_minutes"`
	EscalationDeadline      time.Time `json:"escalation_deadline"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     *string    `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

type Status int

const (
	StatusActive Status = iota
	StatusAcknowledged
	StatusEscalated
	StatusResolved
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusAcknowledged:
		return "acknowledged"
	case StatusEscalated:
		return "escalated"
	case StatusResolved:
		return "resolved"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ParseStatus converts the wire representation of an alert status
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active":
		return StatusActive, nil
	case "acknowledged":
		return StatusAcknowledged, nil
	case "escalated":
		return StatusEscalated, nil
	case "resolved":
		return StatusResolved, nil
	case "expired":
		return StatusExpired, nil
	default:
		return 0, fmt.Errorf("invalid alert status: %q", s)
	}
}

// IsTerminal reports whether the status ends the alert's lifecycle
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusExpired
}

// TriggerSnapshot captures the signal values that caused or re-triggered an
// alert. Merged snapshots accumulate in arrival order.
type TriggerSnapshot struct {
	Source     string                 `json:"source"`
	TestCode   string                 `json:"test_code,omitempty"`
	Summary    string                 `json:"summary,omitempty"`
	Severity   rule.Severity          `json:"severity"`
	Data       map[string]interface{} `json:"data,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// CreationRequest is the rule engine's output contract: everything the
// lifecycle manager needs to create an alert, or to merge into an existing
// non-terminal one.
type CreationRequest struct {
	PatientID               uuid.UUID     `json:"patient_id"`
	RuleID                  uuid.UUID     `json:"rule_id"`
	Category                rule.Category `json:"category"`
	Severity                rule.Severity `json:"severity"`
	Title                   string        `json:"title"`
	Description             string        `json:"description"`
	RecommendedAction       string        `json:"recommended_action"`
	EscalationPath          []string      `json:"escalation_path"`
	TimeToEscalationMinutes int           `json:"time_to_escalation_minutes"`
	ExpiresAt               *time.Time    `json:"expires_at,omitempty"`
	Trigger                 TriggerSnapshot
}

// Validate checks the creation request invariants
func (req *CreationRequest) Validate() error {
	if req.PatientID == uuid.Nil {
		return fmt.Errorf("patient ID cannot be nil")
	}

	if req.RuleID == uuid.Nil {
		return fmt.Errorf("rule ID cannot be nil")
	}

	if req.Title == "" {
		return fmt.Errorf("alert title cannot be empty")
	}

	if len(req.EscalationPath) == 0 {
		return fmt.Errorf("escalation path cannot be empty")
	}

	if err := validation.ValidateEscalationMinutes(req.TimeToEscalationMinutes); err != nil {
		return err
	}

	return nil
}

func NewCriticalAlert(req CreationRequest) (*CriticalAlert, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid alert creation request: %w", err)
	}

	now := clock.Now().UTC()
	trigger := req.Trigger
	if trigger.RecordedAt.IsZero() {
		trigger.RecordedAt = now
	}

	return &CriticalAlert{
		ID:                      uuid.New(),
		PatientID:               req.PatientID,
		RuleID:                  req.RuleID,
		Category:                req.Category,
		Severity:                req.Severity,
		Status:                  StatusActive,
		Title:                   req.Title,
		Description:             req.Description,
		TriggerData:             []TriggerSnapshot{trigger},
		RecommendedAction:       req.RecommendedAction,
		EscalationPath:          req.EscalationPath,
		EscalationLevel:         0,
		TimeToEscalationMinutes: req.TimeToEscalationMinutes,
		EscalationDeadline:      now.Add(time.Duration(req.TimeToEscalationMinutes) * time.Minute),
		CreatedAt:               now,
		UpdatedAt:               now,
		ExpiresAt:               req.ExpiresAt,
	}, nil
}

// IsTerminal reports whether the alert reached a terminal status
func (a *CriticalAlert) IsTerminal() bool {
	return a.Status.IsTerminal()
}

// CurrentEscalationRole returns the role currently responsible for the alert
func (a *CriticalAlert) CurrentEscalationRole() string {
	if len(a.EscalationPath) == 0 {
		return ""
	}
	if a.EscalationLevel >= len(a.EscalationPath) {
		return a.EscalationPath[len(a.EscalationPath)-1]
	}
	return a.EscalationPath[a.EscalationLevel]
}

// ShouldEscalate reports whether the escalation deadline has elapsed for an
// alert still awaiting acknowledgment
func (a *CriticalAlert) ShouldEscalate(now time.Time) bool {
	if a.Status != StatusActive && a.Status != StatusEscalated {
		return false
	}
	if a.EscalationDeadline.IsZero() {
		return false
	}
	return !now.Before(a.EscalationDeadline)
}

// ShouldExpire reports whether the alert's validity window has closed
func (a *CriticalAlert) ShouldExpire(now time.Time) bool {
	if a.IsTerminal() {
		return false
	}
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// Escalate advances the alert one stage along its escalation path. The first
// escalation moves active to escalated; later ones keep the escalated status
// and walk the path further. Once the last role is reached the deadline is
// cleared and the sweep stops re-escalating.
func (a *CriticalAlert) Escalate() error {
	if a.Status != StatusActive && a.Status != StatusEscalated {
		return fmt.Errorf("cannot escalate alert in status %s", a.Status)
	}

	now := clock.Now().UTC()
	a.Status = StatusEscalated

	if a.EscalationLevel < len(a.EscalationPath)-1 {
		a.EscalationLevel++
	}

	if a.EscalationLevel < len(a.EscalationPath)-1 {
		a.EscalationDeadline = now.Add(time.Duration(a.TimeToEscalationMinutes) * time.Minute)
	} else {
		a.EscalationDeadline = time.Time{}
	}

	a.UpdatedAt = now
	return nil
}

// Acknowledge records a human taking ownership of the alert. Acknowledging
// after escalation keeps the alert acknowledged, it does not return to active.
func (a *CriticalAlert) Acknowledge(by string) error {
	if err := validation.ValidateActor(by); err != nil {
		return err
	}

	switch a.Status {
	case StatusActive, StatusEscalated:
		// Acknowledgeable
	case StatusAcknowledged:
		return fmt.Errorf("alert already acknowledged")
	default:
		return fmt.Errorf("cannot acknowledge alert in status %s", a.Status)
	}

	now := clock.Now().UTC()
	a.Status = StatusAcknowledged
	a.AcknowledgedBy = &by
	a.AcknowledgedAt = &now
	a.UpdatedAt = now
	return nil
}

// Resolve closes the alert. Allowed from any non-terminal status.
func (a *CriticalAlert) Resolve(by string) error {
	if err := validation.ValidateActor(by); err != nil {
		return err
	}

	if a.IsTerminal() {
		return fmt.Errorf("cannot resolve alert in status %s", a.Status)
	}

	now := clock.Now().UTC()
	a.Status = StatusResolved
	a.ResolvedBy = &by
	a.ResolvedAt = &now
	a.UpdatedAt = now
	return nil
}

// Expire terminates an alert whose validity window has closed
func (a *CriticalAlert) Expire() error {
	if a.IsTerminal() {
		return fmt.Errorf("cannot expire alert in status %s", a.Status)
	}

	a.Status = StatusExpired
	a.UpdatedAt = clock.Now().UTC()
	return nil
}

// MergeTrigger folds a duplicate creation request into this alert instead of
// creating a second one. Trigger data always accumulates; the escalation
// countdown is refreshed only when the new signal is more severe than what the
// alert already recorded, so noisy re-triggering cannot push escalation out
// indefinitely.
func (a *CriticalAlert) MergeTrigger(req CreationRequest) error {
	if a.IsTerminal() {
		return fmt.Errorf("cannot merge trigger into alert in status %s", a.Status)
	}

	now := clock.Now().UTC()
	trigger := req.Trigger
	if trigger.RecordedAt.IsZero() {
		trigger.RecordedAt = now
	}
	a.TriggerData = append(a.TriggerData, trigger)

	if req.Severity > a.Severity {
		a.Severity = req.Severity
		if a.Status == StatusActive || a.Status == StatusEscalated {
			a.EscalationDeadline = now.Add(time.Duration(a.TimeToEscalationMinutes) * time.Minute)
		}
	}

	a.UpdatedAt = now
	return nil
}
