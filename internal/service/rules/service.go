package rules

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

type service struct {
	repo   RuleRepository
	engine EngineUpdater
	logger *slog.Logger
}

// NewService creates the rule management service. The engine may be nil in
// tooling contexts; mutations then skip the reload step.
func NewService(repo RuleRepository, engine EngineUpdater, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		repo:   repo,
		engine: engine,
		logger: logger,
	}
}

func (s *service) CreateRule(ctx context.Context, params CreateParams) (*rule.AlertRule, error) {
	r, err := rule.NewAlertRule(
		params.Name, params.Category, params.Severity,
		params.Conditions, params.EscalationPath, params.TimeToEscalationMinutes,
	)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_RULE", err.Error())
	}
	r.Description = params.Description

	if params.ActivateImmediately {
		if err := r.Activate(); err != nil {
			return nil, errors.NewValidationError("INVALID_RULE", err.Error())
		}
	}

	if err := s.repo.Create(ctx, r); err != nil {
		return nil, errors.Wrap(err, "failed to store alert rule")
	}

	s.logger.InfoContext(ctx, "alert rule created",
		"rule_id", r.ID,
		"rule_name", r.Name,
		"category", r.Category.String(),
		"active", r.IsActive(),
	)
	return r, s.reload(ctx)
}

func (s *service) UpdateRule(ctx context.Context, id uuid.UUID, params UpdateParams) (*rule.AlertRule, error) {
	r, err := s.getRule(ctx, id)
	if err != nil {
		return nil, err
	}

	r.Name = params.Name
	r.Description = params.Description
	r.Severity = params.Severity
	r.Conditions = params.Conditions
	r.EscalationPath = params.EscalationPath
	r.TimeToEscalationMinutes = params.TimeToEscalationMinutes
	if err := r.Validate(); err != nil {
		return nil, errors.NewValidationError("INVALID_RULE", err.Error())
	}
	r.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, r); err != nil {
		return nil, errors.Wrap(err, "failed to update alert rule")
	}

	s.logger.InfoContext(ctx, "alert rule updated", "rule_id", r.ID, "rule_name", r.Name)
	return r, s.reload(ctx)
}

func (s *service) ActivateRule(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error) {
	r, err := s.getRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Activate(); err != nil {
		return nil, errors.NewBusinessError("RULE_NOT_ACTIVATABLE", err.Error())
	}
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, errors.Wrap(err, "failed to update alert rule")
	}
	s.logger.InfoContext(ctx, "alert rule activated", "rule_id", r.ID, "rule_name", r.Name)
	return r, s.reload(ctx)
}

func (s *service) DeactivateRule(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error) {
	r, err := s.getRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Deactivate(); err != nil {
		return nil, errors.NewBusinessError("RULE_NOT_DEACTIVATABLE", err.Error())
	}
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, errors.Wrap(err, "failed to update alert rule")
	}
	s.logger.InfoContext(ctx, "alert rule deactivated", "rule_id", r.ID, "rule_name", r.Name)
	return r, s.reload(ctx)
}

func (s *service) GetRule(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error) {
	return s.getRule(ctx, id)
}

func (s *service) ListRules(ctx context.Context) ([]*rule.AlertRule, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list alert rules")
	}
	return list, nil
}

func (s *service) DeleteRule(ctx context.Context, id uuid.UUID) error {
	r, err := s.getRule(ctx, id)
	if err != nil {
		return err
	}
	if r.IsActive() {
		return errors.NewBusinessError("RULE_ACTIVE", "deactivate the rule before deleting it")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "failed to delete alert rule")
	}
	s.logger.InfoContext(ctx, "alert rule deleted", "rule_id", id)
	return s.reload(ctx)
}

func (s *service) Reload(ctx context.Context) error {
	return s.reload(ctx)
}

func (s *service) getRule(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error) {
	if id == uuid.Nil {
		return nil, errors.ErrRuleNotFound
	}
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load alert rule")
	}
	if r == nil {
		return nil, errors.ErrRuleNotFound
	}
	return r, nil
}

func (s *service) reload(ctx context.Context) error {
	if s.engine == nil {
		return nil
	}
	list, err := s.repo.List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to reload rules into engine")
	}
	return s.engine.UpdateRules(ctx, list)
}
