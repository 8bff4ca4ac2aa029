package rule

import (
	"fmt"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/validation"
)

// CriticalThreshold holds the static critical bounds for one test type. Values
// outside [Low, High] are critical regardless of the patient's own reference
// range; panic-level values further outside map to emergency.
type CriticalThreshold struct {
	TestCode string  `json:"test_code"`
	Low      float64 `json:"low"`
	High     float64 `json:"high"`
	Unit     string  `json:"unit"`
}

// ThresholdTable is the static per-test lookup used by lab_critical rules.
// Immutable after construction; shared freely across workers.
type ThresholdTable struct {
	entries map[string]CriticalThreshold
}

func NewThresholdTable(thresholds []CriticalThreshold) (*ThresholdTable, error) {
	entries := make(map[string]CriticalThreshold, len(thresholds))

	for i, th := range thresholds {
		if err := validation.ValidateTestCode(th.TestCode); err != nil {
			return nil, fmt.Errorf("invalid threshold %d: %w", i, err)
		}
		if th.High <= th.Low {
			return nil, fmt.Errorf("invalid threshold %d: high (%g) must be greater than low (%g)", i, th.High, th.Low)
		}

		code := validation.NormalizeTestCode(th.TestCode)
		if _, dup := entries[code]; dup {
			return nil, fmt.Errorf("invalid threshold %d: duplicate test code %q", i, code)
		}
		th.TestCode = code
		entries[code] = th
	}

	return &ThresholdTable{entries: entries}, nil
}

// Lookup returns the critical bounds for a test code, if the table defines them
func (t *ThresholdTable) Lookup(testCode string) (CriticalThreshold, bool) {
	th, ok := t.entries[validation.NormalizeTestCode(testCode)]
	return th, ok
}

// Len returns the number of configured thresholds
func (t *ThresholdTable) Len() int {
	return len(t.entries)
}

// Classify maps a value against the table: outside the critical bounds yields
// SeverityCritical, and beyond them by emergencyMultiple yields
// SeverityEmergency (high bound scaled up, low bound scaled down). The second
// return is false when the test is unknown or the value is inside bounds.
func (t *ThresholdTable) Classify(testCode string, value float64, emergencyMultiple float64) (Severity, bool) {
	th, ok := t.Lookup(testCode)
	if !ok {
		return 0, false
	}

	if value >= th.Low && value <= th.High {
		return 0, false
	}

	if emergencyMultiple > 1 {
		if value > th.High*emergencyMultiple {
			return SeverityEmergency, true
		}
		if value < th.Low/emergencyMultiple {
			return SeverityEmergency, true
		}
	}

	return SeverityCritical, true
}

// DefaultCriticalThresholds returns the standard adult panic-value table.
// These are configuration defaults, not hard medical fact; deployments
// override them per site policy.
func DefaultCriticalThresholds() []CriticalThreshold {
	return []CriticalThreshold{
		{TestCode: "potassium", Low: 2.5, High: 6.5, Unit: "mEq/L"},
		{TestCode: "sodium", Low: 120, High: 160, Unit: "mEq/L"},
		{TestCode: "glucose", Low: 40, High: 600, Unit: "mg/dL"},
		{TestCode: "calcium", Low: 6.0, High: 13.0, Unit: "mg/dL"},
		{TestCode: "magnesium", Low: 1.0, High: 4.9, Unit: "mg/dL"},
		{TestCode: "ph_arterial", Low: 7.2, High: 7.6, Unit: "pH"},
		{TestCode: "pco2", Low: 20, High: 70, Unit: "mmHg"},
		{TestCode: "hemoglobin", Low: 5.0, High: 20.0, Unit: "g/dL"},
		{TestCode: "platelets", Low: 20, High: 1000, Unit: "x10^9/L"},
		{TestCode: "wbc", Low: 2.0, High: 30.0, Unit: "x10^9/L"},
		{TestCode: "creatinine", Low: 0.2, High: 7.4, Unit: "mg/dL"},
		{TestCode: "lactate", Low: 0.1, High: 4.0, Unit: "mmol/L"},
		{TestCode: "inr", Low: 0.5, High: 5.0, Unit: "ratio"},
	}
}

// DefaultThresholdTable builds the table from the standard entries
func DefaultThresholdTable() *ThresholdTable {
	t, err := NewThresholdTable(DefaultCriticalThresholds())
	if err != nil {
		panic(err) // static defaults, must construct
	}
	return t
}
