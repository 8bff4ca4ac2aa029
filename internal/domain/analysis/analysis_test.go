package analysis_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
)

func TestNewTrendRecord(t *testing.T) {
	patientID := uuid.New()

	tests := []struct {
		name     string
		setup    func() (*analysis.TrendRecord, error)
		wantErr  string
		validate func(t *testing.T, tr *analysis.TrendRecord)
	}{
		{
			name: "creates increasing trend",
			setup: func() (*analysis.TrendRecord, error) {
				return analysis.NewTrendRecord(patientID, "glucose", analysis.TrendIncreasing, 23.5, 90, 8, 0.72, "rising glucose")
			},
			validate: func(t *testing.T, tr *analysis.TrendRecord) {
				assert.NotEqual(t, uuid.Nil, tr.ID)
				assert.Equal(t, analysis.TrendIncreasing, tr.Direction)
				assert.Equal(t, 23.5, tr.ChangePercentage)
				assert.Equal(t, 90, tr.WindowDays)
				assert.Equal(t, 8, tr.SampleCount)
				assert.Equal(t, 0.72, tr.Confidence)
				assert.True(t, tr.IsDirectional())
				assert.NotZero(t, tr.ComputedAt)
			},
		},
		{
			name: "creates stable trend with zero confidence",
			setup: func() (*analysis.TrendRecord, error) {
				return analysis.NewTrendRecord(patientID, "sodium", analysis.TrendStable, 0, 90, 1, 0, "")
			},
			validate: func(t *testing.T, tr *analysis.TrendRecord) {
				assert.Equal(t, analysis.TrendStable, tr.Direction)
				assert.False(t, tr.IsDirectional())
			},
		},
		{
			name: "rejects nil patient",
			setup: func() (*analysis.TrendRecord, error) {
				return analysis.NewTrendRecord(uuid.Nil, "glucose", analysis.TrendStable, 0, 90, 1, 0, "")
			},
			wantErr: "patient ID",
		},
		{
			name: "rejects confidence above one",
			setup: func() (*analysis.TrendRecord, error) {
				return analysis.NewTrendRecord(patientID, "glucose", analysis.TrendStable, 0, 90, 1, 1.2, "")
			},
			wantErr: "confidence",
		},
		{
			name: "rejects non-positive window",
			setup: func() (*analysis.TrendRecord, error) {
				return analysis.NewTrendRecord(patientID, "glucose", analysis.TrendStable, 0, 0, 1, 0, "")
			},
			wantErr: "window days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := tt.setup()

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			tt.validate(t, tr)
		})
	}
}

func TestNewAnomalyRecord(t *testing.T) {
	patientID := uuid.New()
	observedAt := time.Now()
	r := values.MustNewReferenceRange(3.5, 5.1)

	t.Run("creates severe anomaly", func(t *testing.T) {
		a, err := analysis.NewAnomalyRecord(patientID, "potassium", 6.5, "mEq/L", r, 87.5, analysis.SeveritySevere, "hyperkalemia risk", "repeat measurement and review medications", observedAt)
		require.NoError(t, err)
		assert.Equal(t, analysis.SeveritySevere, a.Severity)
		assert.Equal(t, 87.5, a.DeviationPercentage)
		assert.True(t, a.RequiresImmediateEvaluation())
	})

	t.Run("mild anomaly does not bypass batching", func(t *testing.T) {
		a, err := analysis.NewAnomalyRecord(patientID, "potassium", 5.3, "mEq/L", r, 12.5, analysis.SeverityMild, "", "", observedAt)
		require.NoError(t, err)
		assert.False(t, a.RequiresImmediateEvaluation())
	})

	t.Run("rejects zero deviation", func(t *testing.T) {
		_, err := analysis.NewAnomalyRecord(patientID, "potassium", 4.0, "mEq/L", r, 0, analysis.SeverityMild, "", "", observedAt)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deviation")
	})

	t.Run("rejects invalid severity", func(t *testing.T) {
		_, err := analysis.NewAnomalyRecord(patientID, "potassium", 6.5, "mEq/L", r, 50, analysis.AnomalySeverity(42), "", "", observedAt)
		require.Error(t, err)
	})
}

func TestDirectionAndSeverityParsing(t *testing.T) {
	for _, s := range []string{"stable", "increasing", "decreasing", "fluctuating"} {
		d, err := analysis.ParseTrendDirection(s)
		require.NoError(t, err)
		assert.Equal(t, s, d.String())
	}
	_, err := analysis.ParseTrendDirection("sideways")
	assert.Error(t, err)

	for _, s := range []string{"mild", "moderate", "severe", "critical"} {
		sev, err := analysis.ParseAnomalySeverity(s)
		require.NoError(t, err)
		assert.Equal(t, s, sev.String())
	}
	_, err = analysis.ParseAnomalySeverity("fatal")
	assert.Error(t, err)
}
