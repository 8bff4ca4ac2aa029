package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
)

// Service owns the critical alert lifecycle: creation with deduplication,
// clinician transitions, and the periodic escalation and expiry sweep.
type Service interface {
	// HandleCreationRequest creates an alert, or merges the trigger into
	// the patient's existing open alert for the same rule
	HandleCreationRequest(ctx context.Context, req *alert.CreationRequest) (*alert.CriticalAlert, error)
	Acknowledge(ctx context.Context, alertID uuid.UUID, actor string) (*alert.CriticalAlert, error)
	Resolve(ctx context.Context, alertID uuid.UUID, actor string) (*alert.CriticalAlert, error)
	GetAlert(ctx context.Context, alertID uuid.UUID) (*alert.CriticalAlert, error)
	// GetActiveAlerts returns the patient's open alerts, newest first
	GetActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*alert.CriticalAlert, error)
	// RunSweep escalates overdue alerts and expires stale ones once
	RunSweep(ctx context.Context) (SweepStats, error)
	// Start runs the sweep on the configured interval until Stop or
	// context cancellation
	Start(ctx context.Context) error
	Stop()
}

// AlertRepository persists alerts. "Open" means any non-terminal status.
type AlertRepository interface {
	Create(ctx context.Context, a *alert.CriticalAlert) error
	// UpdateFromStatus stores the alert only while the persisted row still
	// carries the expected status, and reports errors.ErrStaleAlert when a
	// concurrent transition won the race
	UpdateFromStatus(ctx context.Context, a *alert.CriticalAlert, expected alert.Status) error
	GetByID(ctx context.Context, id uuid.UUID) (*alert.CriticalAlert, error)
	// GetOpenByPatientAndRule returns nil, nil when the patient has no
	// open alert for the rule
	GetOpenByPatientAndRule(ctx context.Context, patientID, ruleID uuid.UUID) (*alert.CriticalAlert, error)
	ListOpenByPatient(ctx context.Context, patientID uuid.UUID) ([]*alert.CriticalAlert, error)
	// ListEscalationDue returns open alerts whose escalation deadline has
	// passed at the given instant
	ListEscalationDue(ctx context.Context, now time.Time) ([]*alert.CriticalAlert, error)
	// ListExpireDue returns open alerts whose expiry window has passed
	ListExpireDue(ctx context.Context, now time.Time) ([]*alert.CriticalAlert, error)
}

// EventPublisher fans alert lifecycle events out to notification consumers.
// Publish failures never block a lifecycle transition; the caller logs and
// moves on.
type EventPublisher interface {
	PublishAlertEvent(ctx context.Context, event alert.Event) error
}

// AlertCache holds per-patient open alert snapshots. GetActiveAlerts
// returns nil, nil on a miss.
type AlertCache interface {
	GetActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*alert.CriticalAlert, error)
	SetActiveAlerts(ctx context.Context, patientID uuid.UUID, alerts []*alert.CriticalAlert) error
	InvalidateActiveAlerts(ctx context.Context, patientID uuid.UUID) error
}

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	Escalated int
	Expired   int
	Errors    int
}
