package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
)

func seriesMeasurement(t *testing.T, patientID uuid.UUID, value float64, observedAt time.Time) *measurement.Measurement {
	t.Helper()
	m, err := measurement.NewMeasurement(
		patientID, "glucose", "Serum Glucose", value, "mg/dL",
		values.MustNewReferenceRange(70, 110),
		observedAt, measurement.CategoryLab,
	)
	require.NoError(t, err)
	return m
}

func TestService_AnalyzeMeasurement(t *testing.T) {
	ctx := context.Background()
	patientID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	tests := []struct {
		name          string
		setupMocks    func(*testing.T, *MockMeasurementRepository, *MockAnalysisRepository, *measurement.Measurement)
		measurement   func(*testing.T) *measurement.Measurement
		expectedError string
		validate      func(*testing.T, *Result)
	}{
		{
			name: "first measurement gets a zero-confidence stable trend",
			measurement: func(t *testing.T) *measurement.Measurement {
				return seriesMeasurement(t, patientID, 95, now)
			},
			setupMocks: func(t *testing.T, mr *MockMeasurementRepository, ar *MockAnalysisRepository, m *measurement.Measurement) {
				mr.On("GetWindow", ctx, patientID, "glucose", mock.Anything, mock.Anything).
					Return([]*measurement.Measurement{}, nil)
				ar.On("StoreTrend", ctx, mock.Anything).Return(nil)
			},
			validate: func(t *testing.T, r *Result) {
				require.NotNil(t, r.Trend)
				assert.Equal(t, analysis.TrendStable, r.Trend.Direction)
				assert.Zero(t, r.Trend.Confidence)
				assert.Equal(t, 1, r.Trend.SampleCount)
				assert.Nil(t, r.Anomaly)
			},
		},
		{
			name: "rising series with critical value yields trend and anomaly",
			measurement: func(t *testing.T) *measurement.Measurement {
				return seriesMeasurement(t, patientID, 160, now)
			},
			setupMocks: func(t *testing.T, mr *MockMeasurementRepository, ar *MockAnalysisRepository, m *measurement.Measurement) {
				history := []*measurement.Measurement{
					seriesMeasurement(t, patientID, 100, now.Add(-72*time.Hour)),
					seriesMeasurement(t, patientID, 120, now.Add(-48*time.Hour)),
					seriesMeasurement(t, patientID, 140, now.Add(-24*time.Hour)),
					m,
				}
				mr.On("GetWindow", ctx, patientID, "glucose", mock.Anything, mock.Anything).
					Return(history, nil)
				ar.On("StoreTrend", ctx, mock.Anything).Return(nil)
				ar.On("StoreAnomaly", ctx, mock.Anything).Return(nil)
			},
			validate: func(t *testing.T, r *Result) {
				require.NotNil(t, r.Trend)
				assert.Equal(t, analysis.TrendIncreasing, r.Trend.Direction)
				assert.InDelta(t, 60.0, r.Trend.ChangePercentage, 0.001)
				assert.Equal(t, 4, r.Trend.SampleCount)

				require.NotNil(t, r.Anomaly)
				assert.Equal(t, analysis.SeverityCritical, r.Anomaly.Severity)
				assert.InDelta(t, 125.0, r.Anomaly.DeviationPercentage, 0.001)
				assert.Contains(t, r.Anomaly.ClinicalImplication, "hyperglycemia")
				assert.Equal(t, "immediate clinical intervention required", r.Anomaly.RecommendedAction)
			},
		},
		{
			name: "window missing the measurement still counts it",
			measurement: func(t *testing.T) *measurement.Measurement {
				return seriesMeasurement(t, patientID, 108, now)
			},
			setupMocks: func(t *testing.T, mr *MockMeasurementRepository, ar *MockAnalysisRepository, m *measurement.Measurement) {
				history := []*measurement.Measurement{
					seriesMeasurement(t, patientID, 100, now.Add(-48*time.Hour)),
					seriesMeasurement(t, patientID, 104, now.Add(-24*time.Hour)),
				}
				mr.On("GetWindow", ctx, patientID, "glucose", mock.Anything, mock.Anything).
					Return(history, nil)
				ar.On("StoreTrend", ctx, mock.Anything).Return(nil)
			},
			validate: func(t *testing.T, r *Result) {
				require.NotNil(t, r.Trend)
				assert.Equal(t, 3, r.Trend.SampleCount)
				assert.Equal(t, analysis.TrendStable, r.Trend.Direction)
				assert.InDelta(t, 8.0, r.Trend.ChangePercentage, 0.001)
			},
		},
		{
			name: "window load failure surfaces",
			measurement: func(t *testing.T) *measurement.Measurement {
				return seriesMeasurement(t, patientID, 95, now)
			},
			setupMocks: func(t *testing.T, mr *MockMeasurementRepository, ar *MockAnalysisRepository, m *measurement.Measurement) {
				mr.On("GetWindow", ctx, patientID, "glucose", mock.Anything, mock.Anything).
					Return(nil, assert.AnError)
			},
			expectedError: "failed to load measurement window",
		},
		{
			name: "trend store failure surfaces",
			measurement: func(t *testing.T) *measurement.Measurement {
				return seriesMeasurement(t, patientID, 95, now)
			},
			setupMocks: func(t *testing.T, mr *MockMeasurementRepository, ar *MockAnalysisRepository, m *measurement.Measurement) {
				mr.On("GetWindow", ctx, patientID, "glucose", mock.Anything, mock.Anything).
					Return([]*measurement.Measurement{m}, nil)
				ar.On("StoreTrend", ctx, mock.Anything).Return(assert.AnError)
			},
			expectedError: "failed to store trend record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			measurements := new(MockMeasurementRepository)
			records := new(MockAnalysisRepository)
			m := tt.measurement(t)
			tt.setupMocks(t, measurements, records, m)

			svc := NewService(measurements, records, nil, Config{})
			result, err := svc.AnalyzeMeasurement(ctx, m)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Same(t, m, result.Measurement)
			tt.validate(t, result)
			measurements.AssertExpectations(t)
			records.AssertExpectations(t)
		})
	}
}

func TestService_AnalyzeMeasurement_NilMeasurement(t *testing.T) {
	svc := NewService(new(MockMeasurementRepository), new(MockAnalysisRepository), nil, Config{})
	_, err := svc.AnalyzeMeasurement(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "measurement cannot be nil")
}

func TestService_BuildCompletedEvent(t *testing.T) {
	patientID := uuid.New()
	svc := NewService(new(MockMeasurementRepository), new(MockAnalysisRepository), nil, Config{})

	trend, err := analysis.NewTrendRecord(patientID, "glucose", analysis.TrendIncreasing, 25, 90, 6, 0.8, "glucose trending upward")
	require.NoError(t, err)
	anomaly, err := analysis.NewAnomalyRecord(
		patientID, "potassium", 6.9, "mEq/L",
		values.MustNewReferenceRange(3.5, 5.1),
		112.5, analysis.SeverityCritical,
		"critical hyperkalemia, cardiac arrhythmia risk",
		"immediate clinical intervention required",
		time.Now().Add(-time.Minute),
	)
	require.NoError(t, err)

	results := []*Result{
		{Trend: trend, Anomaly: anomaly},
		{Trend: mustStableTrend(t, patientID)},
		nil,
	}

	event := svc.BuildCompletedEvent(patientID, results)

	assert.Equal(t, patientID, event.PatientID)
	assert.Equal(t, 2, event.TrendsCount)
	assert.Equal(t, 1, event.AnomaliesCount)
	assert.Equal(t, 1, event.CriticalValuesCount)
	require.NotEmpty(t, event.RiskFactors)
	assert.Contains(t, event.RiskFactors[0], "hyperkalemia")
	require.NotEmpty(t, event.Recommendations)
	assert.Equal(t, "immediate clinical intervention required", event.Recommendations[0])
	assert.Contains(t, event.Recommendations, "continue monitoring glucose")
}

func mustStableTrend(t *testing.T, patientID uuid.UUID) *analysis.TrendRecord {
	t.Helper()
	tr, err := analysis.NewTrendRecord(patientID, "sodium", analysis.TrendStable, 1.2, 90, 4, 0.6, "sodium stable across window")
	require.NoError(t, err)
	return tr
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	patientID := uuid.New()

	t.Run("trend history passes through", func(t *testing.T) {
		records := new(MockAnalysisRepository)
		expected := []*analysis.TrendRecord{mustStableTrend(t, patientID)}
		records.On("GetTrendHistory", ctx, patientID, "sodium", 50).Return(expected, nil)

		svc := NewService(new(MockMeasurementRepository), records, nil, Config{})
		history, err := svc.GetTrendHistory(ctx, patientID, "sodium", 50)

		require.NoError(t, err)
		assert.Equal(t, expected, history)
		records.AssertExpectations(t)
	})

	t.Run("nil patient rejected", func(t *testing.T) {
		svc := NewService(new(MockMeasurementRepository), new(MockAnalysisRepository), nil, Config{})

		_, err := svc.GetTrendHistory(ctx, uuid.Nil, "sodium", 50)
		require.Error(t, err)

		_, err = svc.GetAnomalyHistory(ctx, uuid.Nil, "sodium", 50)
		require.Error(t, err)
	})
}
