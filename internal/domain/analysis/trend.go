package analysis

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/validation"
)

// TrendRecord is the directional characterization of one test's values over a
// time window. Records are append-only: every recomputation produces a new
// record with its own timestamp, superseding but never mutating earlier ones.
type TrendRecord struct {
	ID                   uuid.UUID      `json:"id"`
	PatientID            uuid.UUID      `json:"patient_id"`
	TestCode             string         `json:"test_code"`
	Direction            TrendDirection `json:"direction"`
	ChangePercentage     float64        `json:"change_percentage"`
	WindowDays           int            `json:"window_days"`
	SampleCount          int            `json:"sample_count"`
	Confidence           float64        `json:"confidence"`
	ClinicalSignificance string         `json:"clinical_significance"`

	ComputedAt time.Time `json:"computed_at"`
}

type TrendDirection int

const (
	TrendStable TrendDirection = iota
	TrendIncreasing
	TrendDecreasing
	TrendFluctuating
)

func (d TrendDirection) String() string {
	switch d {
	case TrendStable:
		return "stable"
	case TrendIncreasing:
		return "increasing"
	case TrendDecreasing:
		return "decreasing"
	case TrendFluctuating:
		return "fluctuating"
	default:
		return "unknown"
	}
}

// ParseTrendDirection converts the wire representation of a direction
func ParseTrendDirection(s string) (TrendDirection, error) {
	switch s {
	case "stable":
		return TrendStable, nil
	case "increasing":
		return TrendIncreasing, nil
	case "decreasing":
		return TrendDecreasing, nil
	case "fluctuating":
		return TrendFluctuating, nil
	default:
		return 0, fmt.Errorf("invalid trend direction: %q", s)
	}
}

func NewTrendRecord(patientID uuid.UUID, testCode string, direction TrendDirection, changePercentage float64, windowDays, sampleCount int, confidence float64, significance string) (*TrendRecord, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient ID cannot be nil")
	}

	if err := validation.ValidateTestCode(testCode); err != nil {
		return nil, fmt.Errorf("invalid test code: %w", err)
	}

	switch direction {
	case TrendStable, TrendIncreasing, TrendDecreasing, TrendFluctuating:
		// Valid directions
	default:
		return nil, fmt.Errorf("invalid trend direction")
	}

	if windowDays <= 0 {
		return nil, fmt.Errorf("window days must be positive")
	}

	if sampleCount < 0 {
		return nil, fmt.Errorf("sample count cannot be negative")
	}

	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence must be in [0,1], got %g", confidence)
	}

	return &TrendRecord{
		ID:                   uuid.New(),
		PatientID:            patientID,
		TestCode:             validation.NormalizeTestCode(testCode),
		Direction:            direction,
		ChangePercentage:     changePercentage,
		WindowDays:           windowDays,
		SampleCount:          sampleCount,
		Confidence:           confidence,
		ClinicalSignificance: significance,
		ComputedAt:           time.Now().UTC(),
	}, nil
}

// IsDirectional reports whether the trend moves one way rather than being
// stable or fluctuating.
func (tr *TrendRecord) IsDirectional() bool {
	return tr.Direction == TrendIncreasing || tr.Direction == TrendDecreasing
}
