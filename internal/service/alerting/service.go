package alerting

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
)

// Config tunes the lifecycle manager. A zero SweepInterval picks up the
// default; a zero AlertTTL disables automatic expiry.
type Config struct {
	SweepInterval time.Duration
	// AlertTTL bounds how long an unresolved alert stays open before the
	// sweep expires it; zero keeps alerts open until resolved
	AlertTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		SweepInterval: 30 * time.Second,
		AlertTTL:      24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultConfig().SweepInterval
	}
	return c
}

// maxTransitionRetries bounds how often a transition reloads after losing a
// status race before giving up.
const maxTransitionRetries = 3

type service struct {
	repo      AlertRepository
	publisher EventPublisher
	cache     AlertCache
	logger    *slog.Logger
	cfg       Config

	sweeper *sweeper
}

// NewService creates the alert lifecycle manager. publisher and cache may be
// nil; transitions then run without fan-out or snapshot caching.
func NewService(repo AlertRepository, publisher EventPublisher, cache AlertCache, logger *slog.Logger, cfg Config) Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &service{
		repo:      repo,
		publisher: publisher,
		cache:     cache,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
	s.sweeper = newSweeper(s, s.cfg.SweepInterval, logger)
	return s
}

func (s *service) HandleCreationRequest(ctx context.Context, req *alert.CreationRequest) (*alert.CriticalAlert, error) {
	if req == nil {
		return nil, errors.NewValidationError("INVALID_ALERT_REQUEST", "creation request cannot be nil")
	}
	if err := req.Validate(); err != nil {
		return nil, errors.NewValidationError("INVALID_ALERT_REQUEST", err.Error())
	}

	for attempt := 0; ; attempt++ {
		a, err := s.createOrMerge(ctx, *req)
		if stderrors.Is(err, errors.ErrStaleAlert) && attempt < maxTransitionRetries {
			continue
		}
		return a, err
	}
}

func (s *service) createOrMerge(ctx context.Context, req alert.CreationRequest) (*alert.CriticalAlert, error) {
	existing, err := s.repo.GetOpenByPatientAndRule(ctx, req.PatientID, req.RuleID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check for open alert")
	}
	if existing != nil {
		return s.mergeIntoExisting(ctx, existing, req)
	}

	a, err := alert.NewCriticalAlert(req)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_ALERT_REQUEST", err.Error())
	}
	if a.ExpiresAt == nil && s.cfg.AlertTTL > 0 {
		expiry := alert.Now().UTC().Add(s.cfg.AlertTTL)
		a.ExpiresAt = &expiry
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, errors.Wrap(err, "failed to store alert")
	}
	s.invalidatePatient(ctx, a.PatientID)

	s.logger.InfoContext(ctx, "critical alert generated",
		"alert_id", a.ID,
		"patient_id", a.PatientID,
		"rule_id", a.RuleID,
		"severity", a.Severity.String(),
		"notify_role", a.CurrentEscalationRole(),
	)
	s.publish(ctx, alert.NewGeneratedEvent(a))
	return a, nil
}

// mergeIntoExisting folds a duplicate creation request into the patient's
// open alert for the same rule. The domain decides whether the severity
// upgrade refreshes the escalation countdown. The guarded update detects a
// sweep or clinician moving the alert under us; the caller re-reads and
// starts over, because the open alert may have turned terminal meanwhile.
func (s *service) mergeIntoExisting(ctx context.Context, existing *alert.CriticalAlert, req alert.CreationRequest) (*alert.CriticalAlert, error) {
	prevSeverity := existing.Severity
	readStatus := existing.Status
	if err := existing.MergeTrigger(req); err != nil {
		return nil, errors.NewBusinessError("ALERT_MERGE_FAILED", err.Error())
	}
	if err := s.repo.UpdateFromStatus(ctx, existing, readStatus); err != nil {
		if stderrors.Is(err, errors.ErrStaleAlert) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to update merged alert")
	}
	s.invalidatePatient(ctx, existing.PatientID)

	s.logger.InfoContext(ctx, "alert trigger merged",
		"alert_id", existing.ID,
		"patient_id", existing.PatientID,
		"rule_id", existing.RuleID,
		"severity", existing.Severity.String(),
		"upgraded", existing.Severity != prevSeverity,
		"triggers", len(existing.TriggerData),
	)
	return existing, nil
}

func (s *service) Acknowledge(ctx context.Context, alertID uuid.UUID, actor string) (*alert.CriticalAlert, error) {
	a, err := s.applyTransition(ctx, alertID, "ALERT_NOT_ACKNOWLEDGEABLE", func(a *alert.CriticalAlert) error {
		return a.Acknowledge(actor)
	})
	if err != nil {
		return nil, err
	}
	s.invalidatePatient(ctx, a.PatientID)

	s.logger.InfoContext(ctx, "alert acknowledged",
		"alert_id", a.ID,
		"patient_id", a.PatientID,
		"acknowledged_by", actor,
	)
	s.publish(ctx, alert.NewAcknowledgedEvent(a))
	return a, nil
}

func (s *service) Resolve(ctx context.Context, alertID uuid.UUID, actor string) (*alert.CriticalAlert, error) {
	a, err := s.applyTransition(ctx, alertID, "ALERT_NOT_RESOLVABLE", func(a *alert.CriticalAlert) error {
		return a.Resolve(actor)
	})
	if err != nil {
		return nil, err
	}
	s.invalidatePatient(ctx, a.PatientID)

	s.logger.InfoContext(ctx, "alert resolved",
		"alert_id", a.ID,
		"patient_id", a.PatientID,
		"resolved_by", actor,
	)
	s.publish(ctx, alert.NewResolvedEvent(a))
	return a, nil
}

func (s *service) GetAlert(ctx context.Context, alertID uuid.UUID) (*alert.CriticalAlert, error) {
	return s.getAlert(ctx, alertID)
}

func (s *service) GetActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*alert.CriticalAlert, error) {
	if patientID == uuid.Nil {
		return nil, errors.ErrPatientNotFound
	}
	if s.cache != nil {
		cached, err := s.cache.GetActiveAlerts(ctx, patientID)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil {
			s.logger.DebugContext(ctx, "alert cache read failed", "patient_id", patientID, "error", err)
		}
	}

	alerts, err := s.repo.ListOpenByPatient(ctx, patientID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list open alerts")
	}
	if s.cache != nil {
		if err := s.cache.SetActiveAlerts(ctx, patientID, alerts); err != nil {
			s.logger.DebugContext(ctx, "alert cache write failed", "patient_id", patientID, "error", err)
		}
	}
	return alerts, nil
}

func (s *service) RunSweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := alert.Now().UTC()

	due, err := s.repo.ListEscalationDue(ctx, now)
	if err != nil {
		return stats, errors.Wrap(err, "failed to list escalation-due alerts")
	}
	for _, a := range due {
		if !a.ShouldEscalate(now) {
			continue
		}
		if err := s.escalate(ctx, a); err != nil {
			if stderrors.Is(err, errors.ErrStaleAlert) {
				// someone acknowledged or resolved it after our read;
				// their transition stands
				s.logger.DebugContext(ctx, "alert changed during sweep, leaving it", "alert_id", a.ID)
				continue
			}
			stats.Errors++
			s.logger.ErrorContext(ctx, "alert escalation failed", "alert_id", a.ID, "error", err)
			continue
		}
		stats.Escalated++
	}

	stale, err := s.repo.ListExpireDue(ctx, now)
	if err != nil {
		return stats, errors.Wrap(err, "failed to list expire-due alerts")
	}
	for _, a := range stale {
		if !a.ShouldExpire(now) {
			continue
		}
		if err := s.expire(ctx, a); err != nil {
			if stderrors.Is(err, errors.ErrStaleAlert) {
				s.logger.DebugContext(ctx, "alert changed during sweep, leaving it", "alert_id", a.ID)
				continue
			}
			stats.Errors++
			s.logger.ErrorContext(ctx, "alert expiry failed", "alert_id", a.ID, "error", err)
			continue
		}
		stats.Expired++
	}

	if stats.Escalated > 0 || stats.Expired > 0 || stats.Errors > 0 {
		s.logger.InfoContext(ctx, "alert sweep completed",
			"escalated", stats.Escalated,
			"expired", stats.Expired,
			"errors", stats.Errors,
		)
	}
	return stats, nil
}

func (s *service) escalate(ctx context.Context, a *alert.CriticalAlert) error {
	readStatus := a.Status
	if err := a.Escalate(); err != nil {
		return err
	}
	if err := s.repo.UpdateFromStatus(ctx, a, readStatus); err != nil {
		return err
	}
	s.invalidatePatient(ctx, a.PatientID)

	s.logger.WarnContext(ctx, "critical alert escalated",
		"alert_id", a.ID,
		"patient_id", a.PatientID,
		"escalation_level", a.EscalationLevel,
		"notify_role", a.CurrentEscalationRole(),
		"severity", a.Severity.String(),
	)
	s.publish(ctx, alert.NewEscalatedEvent(a))
	return nil
}

func (s *service) expire(ctx context.Context, a *alert.CriticalAlert) error {
	readStatus := a.Status
	if err := a.Expire(); err != nil {
		return err
	}
	if err := s.repo.UpdateFromStatus(ctx, a, readStatus); err != nil {
		return err
	}
	s.invalidatePatient(ctx, a.PatientID)

	s.logger.InfoContext(ctx, "alert expired", "alert_id", a.ID, "patient_id", a.PatientID)
	s.publish(ctx, alert.NewExpiredEvent(a))
	return nil
}

func (s *service) Start(ctx context.Context) error {
	return s.sweeper.Start(ctx)
}

func (s *service) Stop() {
	s.sweeper.Stop()
}

// applyTransition loads the alert, applies the domain transition and stores
// the result guarded by the status it read. Losing the guard means another
// goroutine moved the alert between our read and write; the transition then
// reloads and re-applies against the fresh state, so it can never overwrite
// a transition it has not seen.
func (s *service) applyTransition(ctx context.Context, alertID uuid.UUID, code string, apply func(*alert.CriticalAlert) error) (*alert.CriticalAlert, error) {
	for attempt := 0; ; attempt++ {
		a, err := s.getAlert(ctx, alertID)
		if err != nil {
			return nil, err
		}
		readStatus := a.Status
		if err := apply(a); err != nil {
			return nil, errors.NewBusinessError(code, err.Error())
		}

		err = s.repo.UpdateFromStatus(ctx, a, readStatus)
		if err == nil {
			return a, nil
		}
		if !stderrors.Is(err, errors.ErrStaleAlert) {
			return nil, errors.Wrap(err, "failed to update alert")
		}
		if attempt >= maxTransitionRetries {
			return nil, errors.Wrap(err, "failed to update alert")
		}
		s.logger.DebugContext(ctx, "alert transition lost status race, retrying",
			"alert_id", alertID,
			"read_status", readStatus.String(),
		)
	}
}

func (s *service) getAlert(ctx context.Context, alertID uuid.UUID) (*alert.CriticalAlert, error) {
	if alertID == uuid.Nil {
		return nil, errors.ErrAlertNotFound
	}
	a, err := s.repo.GetByID(ctx, alertID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load alert")
	}
	if a == nil {
		return nil, errors.ErrAlertNotFound
	}
	return a, nil
}

func (s *service) invalidatePatient(ctx context.Context, patientID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateActiveAlerts(ctx, patientID); err != nil {
		s.logger.DebugContext(ctx, "alert cache invalidation failed", "patient_id", patientID, "error", err)
	}
}

// publish hands an event to the publisher and swallows failures; delivery
// problems must never roll back or delay a lifecycle transition.
func (s *service) publish(ctx context.Context, event alert.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAlertEvent(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "alert event publish failed",
			"event_type", string(event.Type),
			"alert_id", event.Alert.ID,
			"error", err,
		)
	}
}
