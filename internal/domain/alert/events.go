package alert

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies an alert lifecycle event on the wire
type EventType string

const (
	EventGenerated    EventType = "critical_alert_generated"
	EventEscalated    EventType = "critical_alert_escalated"
	EventAcknowledged EventType = "critical_alert_acknowledged"
	EventResolved     EventType = "critical_alert_resolved"
	EventExpired      EventType = "critical_alert_expired"
)

// Event is the outbound lifecycle notification. It carries a full alert
// snapshot so consumers never need a follow-up read.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"type"`
	PatientID  uuid.UUID      `json:"patient_id"`
	Alert      *CriticalAlert `json:"alert"`
	NotifyRole string         `json:"notify_role,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func newEvent(t EventType, a *CriticalAlert) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		PatientID:  a.PatientID,
		Alert:      a,
		OccurredAt: clock.Now().UTC(),
	}
}

// NewGeneratedEvent announces a freshly created alert. The initial escalation
// role is included so notification consumers know who to page first.
func NewGeneratedEvent(a *CriticalAlert) Event {
	e := newEvent(EventGenerated, a)
	e.NotifyRole = a.CurrentEscalationRole()
	return e
}

// NewEscalatedEvent announces an escalation step and the role now responsible
func NewEscalatedEvent(a *CriticalAlert) Event {
	e := newEvent(EventEscalated, a)
	e.NotifyRole = a.CurrentEscalationRole()
	return e
}

func NewAcknowledgedEvent(a *CriticalAlert) Event {
	return newEvent(EventAcknowledged, a)
}

func NewResolvedEvent(a *CriticalAlert) Event {
	return newEvent(EventResolved, a)
}

func NewExpiredEvent(a *CriticalAlert) Event {
	return newEvent(EventExpired, a)
}
