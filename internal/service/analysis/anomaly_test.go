package analysis

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
)

func labMeasurement(t *testing.T, testCode string, value, low, high float64) *measurement.Measurement {
	t.Helper()
	m, err := measurement.NewMeasurement(
		uuid.New(), testCode, testCode, value, "mg/dL",
		values.MustNewReferenceRange(low, high),
		time.Now().Add(-time.Minute), measurement.CategoryLab,
	)
	require.NoError(t, err)
	return m
}

func TestClassifyAnomaly(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name             string
		value            float64
		low, high        float64
		expectedOK       bool
		expectedSeverity analysis.AnomalySeverity
		expectedPct      float64
	}{
		{name: "inside range", value: 95, low: 70, high: 110, expectedOK: false},
		{name: "at upper boundary", value: 110, low: 70, high: 110, expectedOK: false},
		{name: "at lower boundary", value: 70, low: 70, high: 110, expectedOK: false},
		{name: "mild excursion", value: 115, low: 70, high: 110, expectedOK: true, expectedSeverity: analysis.SeverityMild, expectedPct: 12.5},
		{name: "moderate at band edge", value: 120, low: 70, high: 110, expectedOK: true, expectedSeverity: analysis.SeverityModerate, expectedPct: 25},
		{name: "moderate excursion", value: 124, low: 70, high: 110, expectedOK: true, expectedSeverity: analysis.SeverityModerate, expectedPct: 35},
		{name: "severe at band edge", value: 130, low: 70, high: 110, expectedOK: true, expectedSeverity: analysis.SeveritySevere, expectedPct: 50},
		{name: "severe excursion", value: 135, low: 70, high: 110, expectedOK: true, expectedSeverity: analysis.SeveritySevere, expectedPct: 62.5},
		{name: "critical at band edge", value: 150, low: 70, high: 110, expectedOK: true, expectedSeverity: analysis.SeverityCritical, expectedPct: 100},
		{name: "critical excursion", value: 155, low: 70, high: 110, expectedOK: true, expectedSeverity: analysis.SeverityCritical, expectedPct: 112.5},
		{name: "below range", value: 3.1, low: 3.5, high: 5.1, expectedOK: true, expectedSeverity: analysis.SeverityModerate, expectedPct: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := labMeasurement(t, "glucose", tt.value, tt.low, tt.high)
			severity, pct, ok := classifyAnomaly(m, cfg)

			assert.Equal(t, tt.expectedOK, ok)
			if !tt.expectedOK {
				return
			}
			assert.Equal(t, tt.expectedSeverity, severity)
			assert.InDelta(t, tt.expectedPct, pct, 0.001)
		})
	}
}

func TestAnomalyImplication(t *testing.T) {
	tests := []struct {
		name     string
		testCode string
		value    float64
		low      float64
		high     float64
		severity analysis.AnomalySeverity
		expected string
	}{
		{
			name:     "known test above range",
			testCode: "glucose", value: 140, low: 70, high: 110,
			severity: analysis.SeverityModerate,
			expected: "hyperglycemia",
		},
		{
			name:     "known test below range",
			testCode: "potassium", value: 3.1, low: 3.5, high: 5.1,
			severity: analysis.SeverityModerate,
			expected: "hypokalemia, cardiac arrhythmia risk",
		},
		{
			name:     "severe excursions carry the severity word",
			testCode: "glucose", value: 140, low: 70, high: 110,
			severity: analysis.SeveritySevere,
			expected: "severe hyperglycemia",
		},
		{
			name:     "unknown test falls back to direction",
			testCode: "osmolality", value: 320, low: 275, high: 295,
			severity: analysis.SeverityMild,
			expected: "osmolality above reference range",
		},
		{
			name:     "one-sided implication falls back below range",
			testCode: "lactate", value: 0.05, low: 0.5, high: 2.2,
			severity: analysis.SeverityMild,
			expected: "lactate below reference range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := labMeasurement(t, tt.testCode, tt.value, tt.low, tt.high)
			assert.Equal(t, tt.expected, anomalyImplication(m, tt.severity))
		})
	}
}

func TestAnomalyAction(t *testing.T) {
	assert.Equal(t, "recheck at next scheduled draw", anomalyAction(analysis.SeverityMild))
	assert.Equal(t, "repeat test and notify ordering clinician", anomalyAction(analysis.SeverityModerate))
	assert.Equal(t, "prompt physician evaluation required", anomalyAction(analysis.SeveritySevere))
	assert.Equal(t, "immediate clinical intervention required", anomalyAction(analysis.SeverityCritical))
}
