package measurement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/validation"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
)

// Measurement is one observed clinical value. Measurements are immutable once
// recorded; analysis derives trend and anomaly records from them but never
// mutates the observation itself.
type Measurement struct {
	ID             uuid.UUID             `json:"id"`
	PatientID      uuid.UUID             `json:"patient_id"`
	TestCode       string                `json:"test_code"`
	TestName       string                `json:"test_name"`
	Value          float64               `json:"value"`
	Unit           string                `json:"unit"`
	ReferenceRange values.ReferenceRange `json:"reference_range"`
	ObservedAt     time.Time             `json:"observed_at"`
	Category       Category              `json:"category"`

	CreatedAt time.Time `json:"created_at"`
}

type Category int

const (
	CategoryLab Category = iota
	CategoryVital
	CategoryClinicalNote
	CategoryImagingFinding
)

func (c Category) String() string {
	switch c {
	case CategoryLab:
		return "lab"
	case CategoryVital:
		return "vital"
	case CategoryClinicalNote:
		return "clinical_note"
	case CategoryImagingFinding:
		return "imaging_finding"
	default:
		return "unknown"
	}
}

// ParseCategory converts the wire representation of a category
func ParseCategory(s string) (Category, error) {
	switch s {
	case "lab":
		return CategoryLab, nil
	case "vital":
		return CategoryVital, nil
	case "clinical_note":
		return CategoryClinicalNote, nil
	case "imaging_finding":
		return CategoryImagingFinding, nil
	default:
		return 0, fmt.Errorf("invalid measurement category: %q", s)
	}
}

func NewMeasurement(patientID uuid.UUID, testCode, testName string, value float64, unit string, refRange values.ReferenceRange, observedAt time.Time, category Category) (*Measurement, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient ID cannot be nil")
	}

	if err := validation.ValidateTestCode(testCode); err != nil {
		return nil, fmt.Errorf("invalid test code: %w", err)
	}

	if err := validation.ValidateTestName(testName); err != nil {
		return nil, fmt.Errorf("invalid test name: %w", err)
	}

	if err := validation.ValidateMeasurementValue(value); err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}

	if err := validation.ValidateUnit(unit); err != nil {
		return nil, fmt.Errorf("invalid unit: %w", err)
	}

	if err := refRange.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reference range: %w", err)
	}

	if observedAt.IsZero() {
		return nil, fmt.Errorf("observed_at cannot be zero")
	}

	switch category {
	case CategoryLab, CategoryVital, CategoryClinicalNote, CategoryImagingFinding:
		// Valid categories
	default:
		return nil, fmt.Errorf("invalid measurement category")
	}

	return &Measurement{
		ID:             uuid.New(),
		PatientID:      patientID,
		TestCode:       validation.NormalizeTestCode(testCode),
		TestName:       testName,
		Value:          value,
		Unit:           unit,
		ReferenceRange: refRange,
		ObservedAt:     observedAt.UTC(),
		Category:       category,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// IsOutOfRange reports whether the value falls outside the reference range.
// Boundary values count as in range.
func (m *Measurement) IsOutOfRange() bool {
	return !m.ReferenceRange.Contains(m.Value)
}
