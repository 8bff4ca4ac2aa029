package ruleengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

// ruleSet is an immutable index over the installed rules. Evaluate reads a
// snapshot pointer, so UpdateRules can swap sets without blocking readers.
type ruleSet struct {
	byCategory        map[rule.Category][]*rule.AlertRule
	combinationByTest map[string][]*rule.AlertRule
	total             int
}

type service struct {
	mu         sync.RWMutex
	rules      *ruleSet
	thresholds *rule.ThresholdTable
	correlator *correlator
	logger     *slog.Logger
	cfg        Config
}

// NewService creates the rule engine. A nil threshold table installs the
// built-in critical value defaults; a zero Config picks up the clinical
// defaults.
func NewService(thresholds *rule.ThresholdTable, logger *slog.Logger, cfg Config) Service {
	if thresholds == nil {
		thresholds = rule.DefaultThresholdTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &service{
		rules:      emptyRuleSet(),
		thresholds: thresholds,
		correlator: newCorrelator(cfg.CorrelationWindow, cfg.MaxSignalsPerPatient),
		logger:     logger,
		cfg:        cfg,
	}
}

func emptyRuleSet() *ruleSet {
	return &ruleSet{
		byCategory:        make(map[rule.Category][]*rule.AlertRule),
		combinationByTest: make(map[string][]*rule.AlertRule),
	}
}

func (s *service) UpdateRules(ctx context.Context, rules []*rule.AlertRule) error {
	rs := emptyRuleSet()
	skipped := 0
	for _, r := range rules {
		if r == nil {
			continue
		}
		if err := r.Validate(); err != nil {
			skipped++
			s.logger.WarnContext(ctx, "skipping invalid alert rule",
				"rule_id", r.ID,
				"rule_name", r.Name,
				"error", err,
			)
			continue
		}
		if !r.IsActive() {
			continue
		}
		if r.IsCombination() {
			for _, code := range r.ReferencedTestCodes() {
				rs.combinationByTest[code] = append(rs.combinationByTest[code], r)
			}
		} else {
			rs.byCategory[r.Category] = append(rs.byCategory[r.Category], r)
		}
		rs.total++
	}

	s.mu.Lock()
	s.rules = rs
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "alert rules installed",
		"active", rs.total,
		"skipped", skipped,
	)
	return nil
}

func (s *service) ActiveRuleCount() int {
	return s.snapshot().total
}

func (s *service) TrackedPatientCount() int {
	return s.correlator.PatientCount()
}

func (s *service) snapshot() *ruleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

func (s *service) Evaluate(ctx context.Context, m *measurement.Measurement, trend *analysis.TrendRecord, anomaly *analysis.AnomalyRecord) ([]*alert.CreationRequest, error) {
	if m == nil {
		return nil, errors.NewValidationError("INVALID_MEASUREMENT", "measurement cannot be nil")
	}
	rs := s.snapshot()

	var requests []*alert.CreationRequest

	if m.Category == measurement.CategoryLab {
		if req := s.thresholdRequest(m); req != nil {
			requests = append(requests, req)
			s.logger.InfoContext(ctx, "critical value detected",
				"patient_id", m.PatientID,
				"test_code", m.TestCode,
				"value", m.Value,
				"severity", req.Severity.String(),
			)
		}
	}

	fields := buildSignalFields(m, trend, anomaly)
	data := singleSignalData(m, fields)

	for _, cat := range categoriesFor(m, trend) {
		for _, r := range rs.byCategory[cat] {
			if !ruleApplies(r, m.TestCode) {
				continue
			}
			matched, err := r.EvaluateConditions(data)
			if err != nil {
				s.logger.WarnContext(ctx, "rule evaluation failed",
					"rule_id", r.ID,
					"rule_name", r.Name,
					"error", err,
				)
				continue
			}
			if matched {
				requests = append(requests, s.ruleRequest(r, m))
			}
		}
	}

	if len(rs.combinationByTest) > 0 {
		sig := signal{testCode: m.TestCode, fields: fields, observedAt: m.ObservedAt}
		for _, f := range s.correlator.Record(m.PatientID, sig, rs.combinationByTest[m.TestCode]) {
			requests = append(requests, s.combinationRequest(f, m))
			s.logger.InfoContext(ctx, "combination rule fired",
				"patient_id", m.PatientID,
				"rule_id", f.Rule.ID,
				"rule_name", f.Rule.Name,
				"landing_test", m.TestCode,
			)
		}
	}

	return requests, nil
}

// ruleApplies checks the rule's test code scope; rules referencing no test
// codes apply to their whole category.
func ruleApplies(r *rule.AlertRule, testCode string) bool {
	codes := r.ReferencedTestCodes()
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if c == testCode {
			return true
		}
	}
	return false
}

// criticalValueRuleID derives a stable rule identity for built-in critical
// value alerts, so deduplication treats repeats of the same test as one
// rule even though no stored rule exists.
func criticalValueRuleID(testCode string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("critical-value:"+testCode))
}

func (s *service) thresholdRequest(m *measurement.Measurement) *alert.CreationRequest {
	severity, outside := s.thresholds.Classify(m.TestCode, m.Value, s.cfg.EmergencyMultiple)
	if !outside {
		return nil
	}
	th, _ := s.thresholds.Lookup(m.TestCode)

	title := fmt.Sprintf("Critical %s value", m.TestCode)
	minutes := s.cfg.CriticalEscalationMinutes
	if severity == rule.SeverityEmergency {
		title = fmt.Sprintf("Emergency %s value", m.TestCode)
		minutes = s.cfg.EmergencyEscalationMinutes
	}
	description := fmt.Sprintf("%s %g %s outside critical bounds [%g, %g]",
		m.TestCode, m.Value, m.Unit, th.Low, th.High)

	return &alert.CreationRequest{
		PatientID:               m.PatientID,
		RuleID:                  criticalValueRuleID(m.TestCode),
		Category:                rule.CategoryLabCritical,
		Severity:                severity,
		Title:                   title,
		Description:             description,
		RecommendedAction:       severityAction(severity),
		EscalationPath:          s.cfg.CriticalEscalationPath,
		TimeToEscalationMinutes: minutes,
		Trigger: alert.TriggerSnapshot{
			Source:   "critical_value_table",
			TestCode: m.TestCode,
			Summary:  description,
			Severity: severity,
			Data: map[string]interface{}{
				"value": m.Value,
				"unit":  m.Unit,
				"low":   th.Low,
				"high":  th.High,
			},
			RecordedAt: m.ObservedAt,
		},
	}
}

func (s *service) ruleRequest(r *rule.AlertRule, m *measurement.Measurement) *alert.CreationRequest {
	summary := fmt.Sprintf("%s matched on %s %g %s", r.Name, m.TestCode, m.Value, m.Unit)
	description := r.Description
	if description == "" {
		description = summary
	}
	return &alert.CreationRequest{
		PatientID:               m.PatientID,
		RuleID:                  r.ID,
		Category:                r.Category,
		Severity:                r.Severity,
		Title:                   r.Name,
		Description:             description,
		RecommendedAction:       severityAction(r.Severity),
		EscalationPath:          r.EscalationPath,
		TimeToEscalationMinutes: r.TimeToEscalationMinutes,
		Trigger: alert.TriggerSnapshot{
			Source:   "rule",
			TestCode: m.TestCode,
			Summary:  summary,
			Severity: r.Severity,
			Data: map[string]interface{}{
				"value": m.Value,
				"unit":  m.Unit,
			},
			RecordedAt: m.ObservedAt,
		},
	}
}

func (s *service) combinationRequest(f firing, m *measurement.Measurement) *alert.CreationRequest {
	r := f.Rule
	summary := fmt.Sprintf("%s satisfied by %s within correlation window",
		r.Name, strings.Join(r.ReferencedTestCodes(), ", "))
	description := r.Description
	if description == "" {
		description = summary
	}
	return &alert.CreationRequest{
		PatientID:               m.PatientID,
		RuleID:                  r.ID,
		Category:                r.Category,
		Severity:                r.Severity,
		Title:                   r.Name,
		Description:             description,
		RecommendedAction:       severityAction(r.Severity),
		EscalationPath:          r.EscalationPath,
		TimeToEscalationMinutes: r.TimeToEscalationMinutes,
		Trigger: alert.TriggerSnapshot{
			Source:     "correlation",
			TestCode:   m.TestCode,
			Summary:    summary,
			Severity:   r.Severity,
			Data:       f.Data,
			RecordedAt: m.ObservedAt,
		},
	}
}

func severityAction(severity rule.Severity) string {
	switch severity {
	case rule.SeverityEmergency:
		return "immediate intervention, activate rapid response"
	case rule.SeverityCritical:
		return "immediate clinical intervention required"
	case rule.SeverityHigh:
		return "prompt physician evaluation required"
	case rule.SeverityMedium:
		return "notify ordering clinician"
	default:
		return "review at next clinical rounding"
	}
}
