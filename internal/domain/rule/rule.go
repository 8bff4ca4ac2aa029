package rule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/validation"
)

// AlertRule is a configuration entity: it describes when the engine should
// raise a critical alert and how that alert escalates. Rules are mutated only
// through administrative configuration, never by the engine itself.
type AlertRule struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	Category Category   `json:"category"`
	Severity Severity   `json:"severity"`
	Status   RuleStatus `json:"status"`

	// Rule definition
	Conditions []Condition `json:"conditions"`

	// Escalation policy
	EscalationPath          []string `json:"escalation_path"`
	TimeToEscalationMinutes int      `json:"time_to_escalation_minutes"`

	// Metadata
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Category int

const (
	CategoryLabCritical Category = iota
	CategoryImagingCritical
	CategoryClinicalUrgent
	CategoryTrend
	CategoryCombination
)

func (c Category) String() string {
	switch c {
	case CategoryLabCritical:
		return "lab_critical"
	case CategoryImagingCritical:
		return "imaging_critical"
	case CategoryClinicalUrgent:
		return "clinical_urgent"
	case CategoryTrend:
		return "trend"
	case CategoryCombination:
		return "combination"
	default:
		return "unknown"
	}
}

// ParseCategory converts the wire representation of a rule category
func ParseCategory(s string) (Category, error) {
	switch s {
	case "lab_critical":
		return CategoryLabCritical, nil
	case "imaging_critical":
		return CategoryImagingCritical, nil
	case "clinical_urgent":
		return CategoryClinicalUrgent, nil
	case "trend":
		return CategoryTrend, nil
	case "combination":
		return CategoryCombination, nil
	default:
		return 0, fmt.Errorf("invalid rule category: %q", s)
	}
}

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
	SeverityEmergency
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	case SeverityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// ParseSeverity converts the wire representation of an alert severity
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	case "emergency":
		return SeverityEmergency, nil
	default:
		return 0, fmt.Errorf("invalid severity: %q", s)
	}
}

type RuleStatus int

const (
	RuleStatusDraft RuleStatus = iota
	RuleStatusActive
	RuleStatusInactive
)

func (s RuleStatus) String() string {
	switch s {
	case RuleStatusDraft:
		return "draft"
	case RuleStatusActive:
		return "active"
	case RuleStatusInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Condition is one predicate inside a rule. Single-signal rules leave TestCode
// empty and may pin the test through a condition on the "test_code" field;
// combination rules set TestCode on every condition so each predicate applies
// to that test's most recent signal inside the correlation window.
type Condition struct {
	TestCode string      `json:"test_code,omitempty"`
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

var validOperators = []string{
	"equals", "not_equals", "greater_than", "greater_or_equal",
	"less_than", "less_or_equal", "in", "present",
}

func NewAlertRule(name string, category Category, severity Severity, conditions []Condition, escalationPath []string, timeToEscalationMinutes int) (*AlertRule, error) {
	now := time.Now().UTC()
	r := &AlertRule{
		ID:                      uuid.New(),
		Name:                    name,
		Category:                category,
		Severity:                severity,
		Status:                  RuleStatusDraft,
		Conditions:              conditions,
		EscalationPath:          escalationPath,
		TimeToEscalationMinutes: timeToEscalationMinutes,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}

// Activate activates an alert rule
func (r *AlertRule) Activate() error {
	if r.Status == RuleStatusActive {
		return fmt.Errorf("rule is already active")
	}

	// Validate rule before activation
	if err := r.Validate(); err != nil {
		return fmt.Errorf("cannot activate invalid rule: %w", err)
	}

	r.Status = RuleStatusActive
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Deactivate deactivates an alert rule
func (r *AlertRule) Deactivate() error {
	if r.Status != RuleStatusActive {
		return fmt.Errorf("can only deactivate active rules")
	}

	r.Status = RuleStatusInactive
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// IsActive returns true if the rule participates in evaluation
func (r *AlertRule) IsActive() bool {
	return r.Status == RuleStatusActive
}

// IsCombination reports whether the rule requires multiple co-occurring signals
func (r *AlertRule) IsCombination() bool {
	return r.Category == CategoryCombination
}

// Validate validates the rule configuration
func (r *AlertRule) Validate() error {
	if err := validation.ValidateRuleName(r.Name); err != nil {
		return err
	}

	switch r.Category {
	case CategoryLabCritical, CategoryImagingCritical, CategoryClinicalUrgent, CategoryTrend, CategoryCombination:
		// Valid categories
	default:
		return fmt.Errorf("invalid rule category")
	}

	switch r.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical, SeverityEmergency:
		// Valid severities
	default:
		return fmt.Errorf("invalid rule severity")
	}

	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule must have at least one condition")
	}

	seen := make(map[string]bool, len(r.Conditions))
	for i, condition := range r.Conditions {
		if err := validateCondition(condition); err != nil {
			return fmt.Errorf("invalid condition %d: %w", i, err)
		}

		if r.Category == CategoryCombination {
			if condition.TestCode == "" {
				return fmt.Errorf("invalid condition %d: combination conditions must name a test code", i)
			}
			if seen[condition.TestCode] {
				return fmt.Errorf("invalid condition %d: duplicate test code %q in combination rule", i, condition.TestCode)
			}
			seen[condition.TestCode] = true
		}
	}

	if r.Category == CategoryCombination && len(r.Conditions) < 2 {
		return fmt.Errorf("combination rule must reference at least two signals")
	}

	if err := validation.ValidateEscalationMinutes(r.TimeToEscalationMinutes); err != nil {
		return err
	}

	if len(r.EscalationPath) == 0 {
		return fmt.Errorf("rule must define an escalation path")
	}

	for i, role := range r.EscalationPath {
		if err := validation.ValidateRoleName(role); err != nil {
			return fmt.Errorf("invalid escalation role %d: %w", i, err)
		}
	}

	return nil
}

func validateCondition(condition Condition) error {
	if condition.Field == "" {
		return fmt.Errorf("condition field cannot be empty")
	}

	if condition.Operator == "" {
		return fmt.Errorf("condition operator cannot be empty")
	}

	valid := false
	for _, op := range validOperators {
		if condition.Operator == op {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid operator: %s", condition.Operator)
	}

	if condition.Operator != "present" && condition.Value == nil {
		return fmt.Errorf("operator %s requires a comparison value", condition.Operator)
	}

	if condition.TestCode != "" {
		if err := validation.ValidateTestCode(condition.TestCode); err != nil {
			return err
		}
	}

	return nil
}

// ReferencedTestCodes returns the set of test codes this rule is anchored to.
// Combination rules reference the codes on their conditions; single-signal
// rules reference a code pinned through an equals condition on "test_code".
// An empty result means the rule applies to every record of its category.
func (r *AlertRule) ReferencedTestCodes() []string {
	var codes []string
	seen := make(map[string]bool)

	for _, c := range r.Conditions {
		code := c.TestCode
		if code == "" && c.Field == "test_code" && c.Operator == "equals" {
			if s, ok := c.Value.(string); ok {
				code = validation.NormalizeTestCode(s)
			}
		}
		if code != "" && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}

	return codes
}

// EvaluateConditions evaluates all conditions against the provided data.
// Combination conditions are resolved against per-test maps keyed
// "<test_code>.<field>"; plain conditions read the field directly.
func (r *AlertRule) EvaluateConditions(data map[string]interface{}) (bool, error) {
	for _, condition := range r.Conditions {
		matches, err := evaluateCondition(condition, data)
		if err != nil {
			return false, err
		}

		if !matches {
			return false, nil // Any condition failure means overall failure
		}
	}

	return true, nil
}

func evaluateCondition(condition Condition, data map[string]interface{}) (bool, error) {
	key := condition.Field
	if condition.TestCode != "" {
		key = condition.TestCode + "." + condition.Field
	}

	fieldValue, exists := data[key]
	if condition.Operator == "present" {
		return exists && fieldValue != nil, nil
	}
	if !exists {
		return false, nil
	}

	switch condition.Operator {
	case "equals":
		return compareEqual(fieldValue, condition.Value), nil

	case "not_equals":
		return !compareEqual(fieldValue, condition.Value), nil

	case "greater_than", "greater_or_equal", "less_than", "less_or_equal":
		fieldFloat, ok := toFloat64(fieldValue)
		if !ok {
			return false, fmt.Errorf("%s operator requires numeric field %s", condition.Operator, condition.Field)
		}
		valueFloat, ok := toFloat64(condition.Value)
		if !ok {
			return false, fmt.Errorf("%s operator requires numeric comparison value", condition.Operator)
		}
		switch condition.Operator {
		case "greater_than":
			return fieldFloat > valueFloat, nil
		case "greater_or_equal":
			return fieldFloat >= valueFloat, nil
		case "less_than":
			return fieldFloat < valueFloat, nil
		default:
			return fieldFloat <= valueFloat, nil
		}

	case "in":
		list, ok := condition.Value.([]interface{})
		if !ok {
			return false, fmt.Errorf("in operator requires a list value")
		}
		for _, item := range list {
			if compareEqual(fieldValue, item) {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("unsupported operator: %s", condition.Operator)
	}
}

func compareEqual(a, b interface{}) bool {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// toFloat64 coerces the numeric types that JSON, YAML and Go literals produce
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
