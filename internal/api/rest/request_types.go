package rest

import (
	"time"

	"github.com/google/uuid"
)

// Measurement submission

// SubmitMeasurementRequest carries one raw clinical measurement. Value is
// range-checked by the domain, not here, so a literal zero reading survives
// decoding.
type SubmitMeasurementRequest struct {
	PatientID     uuid.UUID `json:"patient_id" validate:"required"`
	TestCode      string    `json:"test_code" validate:"required,testcode"`
	TestName      string    `json:"test_name" validate:"required,max=120"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit" validate:"required,max=32"`
	ReferenceLow  float64   `json:"reference_low"`
	ReferenceHigh float64   `json:"reference_high" validate:"gtfield=ReferenceLow"`
	ObservedAt    time.Time `json:"observed_at" validate:"required"`
	Category      string    `json:"category" validate:"required,oneof=lab vital clinical_note imaging_finding"`
}

// BatchMeasurementRequest submits several measurements in one call. Items
// are accepted or rejected individually.
type BatchMeasurementRequest struct {
	Measurements []SubmitMeasurementRequest `json:"measurements" validate:"required,min=1,max=500,dive"`
}

// Alert actions

// AcknowledgeAlertRequest records who took ownership of an alert.
type AcknowledgeAlertRequest struct {
	AcknowledgedBy string `json:"acknowledged_by" validate:"required,actor"`
}

// ResolveAlertRequest records who closed out an alert.
type ResolveAlertRequest struct {
	ResolvedBy string `json:"resolved_by" validate:"required,actor"`
}

// Rule management

// RuleConditionRequest is one predicate of a rule definition. TestCode is
// set on combination-rule conditions and omitted otherwise.
type RuleConditionRequest struct {
	TestCode string      `json:"test_code,omitempty" validate:"omitempty,testcode"`
	Field    string      `json:"field" validate:"required,max=64"`
	Operator string      `json:"operator" validate:"required,oneof=equals not_equals greater_than greater_or_equal less_than less_or_equal in present"`
	Value    interface{} `json:"value,omitempty"`
}

// CreateRuleRequest defines a new alert rule. ActivateImmediately skips the
// draft stage.
type CreateRuleRequest struct {
	Name                    string                 `json:"name" validate:"required,min=3,max=120"`
	Description             string                 `json:"description,omitempty" validate:"omitempty,max=500"`
	Category                string                 `json:"category" validate:"required,oneof=lab_critical imaging_critical clinical_urgent trend combination"`
	Severity                string                 `json:"severity" validate:"required,oneof=low medium high critical emergency"`
	Conditions              []RuleConditionRequest `json:"conditions" validate:"required,min=1,max=20,dive"`
	EscalationPath          []string               `json:"escalation_path" validate:"required,min=1,max=10,dive,min=2,max=64"`
	TimeToEscalationMinutes int                    `json:"time_to_escalation_minutes" validate:"required,min=1,max=1440"`
	ActivateImmediately     bool                   `json:"activate_immediately"`
}

// UpdateRuleRequest replaces a rule's mutable fields. Category is fixed at
// creation time and absent here.
type UpdateRuleRequest struct {
	Name                    string                 `json:"name" validate:"required,min=3,max=120"`
	Description             string                 `json:"description,omitempty" validate:"omitempty,max=500"`
	Severity                string                 `json:"severity" validate:"required,oneof=low medium high critical emergency"`
	Conditions              []RuleConditionRequest `json:"conditions" validate:"required,min=1,max=20,dive"`
	EscalationPath          []string               `json:"escalation_path" validate:"required,min=1,max=10,dive,min=2,max=64"`
	TimeToEscalationMinutes int                    `json:"time_to_escalation_minutes" validate:"required,min=1,max=1440"`
}

// Query parameters

// HistoryQuery bounds trend and anomaly history reads.
type HistoryQuery struct {
	Limit int `validate:"min=1,max=200"`
}

const defaultHistoryLimit = 50
