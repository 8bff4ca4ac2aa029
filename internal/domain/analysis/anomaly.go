package analysis

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/validation"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
)

// AnomalyRecord classifies one out-of-range value with a severity tier.
// In-range values produce no record at all. Append-only.
type AnomalyRecord struct {
	ID                  uuid.UUID             `json:"id"`
	PatientID           uuid.UUID             `json:"patient_id"`
	TestCode            string                `json:"test_code"`
	CurrentValue        float64               `json:"current_value"`
	Unit                string                `json:"unit"`
	ReferenceRange      values.ReferenceRange `json:"reference_range"`
	DeviationPercentage float64               `json:"deviation_percentage"`
	Severity            AnomalySeverity       `json:"severity"`
	ClinicalImplication string                `json:"clinical_implication"`
	RecommendedAction   string                `json:"recommended_action"`
	ObservedAt          time.Time             `json:"observed_at"`

	CreatedAt time.Time `json:"created_at"`
}

type AnomalySeverity int

const (
	SeverityMild AnomalySeverity = iota
	SeverityModerate
	SeveritySevere
	SeverityCritical
)

func (s AnomalySeverity) String() string {
	switch s {
	case SeverityMild:
		return "mild"
	case SeverityModerate:
		return "moderate"
	case SeveritySevere:
		return "severe"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseAnomalySeverity converts the wire representation of a severity
func ParseAnomalySeverity(s string) (AnomalySeverity, error) {
	switch s {
	case "mild":
		return SeverityMild, nil
	case "moderate":
		return SeverityModerate, nil
	case "severe":
		return SeveritySevere, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("invalid anomaly severity: %q", s)
	}
}

func NewAnomalyRecord(patientID uuid.UUID, testCode string, currentValue float64, unit string, refRange values.ReferenceRange, deviationPercentage float64, severity AnomalySeverity, implication, action string, observedAt time.Time) (*AnomalyRecord, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient ID cannot be nil")
	}

	if err := validation.ValidateTestCode(testCode); err != nil {
		return nil, fmt.Errorf("invalid test code: %w", err)
	}

	if err := validation.ValidateMeasurementValue(currentValue); err != nil {
		return nil, fmt.Errorf("invalid current value: %w", err)
	}

	if err := refRange.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reference range: %w", err)
	}

	if deviationPercentage <= 0 {
		return nil, fmt.Errorf("deviation percentage must be positive for an anomaly")
	}

	switch severity {
	case SeverityMild, SeverityModerate, SeveritySevere, SeverityCritical:
		// Valid severities
	default:
		return nil, fmt.Errorf("invalid anomaly severity")
	}

	if observedAt.IsZero() {
		return nil, fmt.Errorf("observed_at cannot be zero")
	}

	return &AnomalyRecord{
		ID:                  uuid.New(),
		PatientID:           patientID,
		TestCode:            validation.NormalizeTestCode(testCode),
		CurrentValue:        currentValue,
		Unit:                unit,
		ReferenceRange:      refRange,
		DeviationPercentage: deviationPercentage,
		Severity:            severity,
		ClinicalImplication: implication,
		RecommendedAction:   action,
		ObservedAt:          observedAt.UTC(),
		CreatedAt:           time.Now().UTC(),
	}, nil
}

// RequiresImmediateEvaluation reports whether the anomaly is severe enough to
// bypass normal batching and go straight to rule evaluation.
func (a *AnomalyRecord) RequiresImmediateEvaluation() bool {
	return a.Severity >= SeveritySevere
}
