package measurement_test

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
)

func TestNewMeasurement(t *testing.T) {
	patientID := uuid.New()
	observedAt := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	glucoseRange := values.MustNewReferenceRange(70, 110)

	tests := []struct {
		name     string
		setup    func() (*measurement.Measurement, error)
		wantErr  string
		validate func(t *testing.T, m *measurement.Measurement)
	}{
		{
			name: "creates lab measurement with valid data",
			setup: func() (*measurement.Measurement, error) {
				return measurement.NewMeasurement(patientID, "glucose", "Blood Glucose", 95, "mg/dL", glucoseRange, observedAt, measurement.CategoryLab)
			},
			validate: func(t *testing.T, m *measurement.Measurement) {
				assert.NotEqual(t, uuid.Nil, m.ID)
				assert.Equal(t, patientID, m.PatientID)
				assert.Equal(t, "glucose", m.TestCode)
				assert.Equal(t, "Blood Glucose", m.TestName)
				assert.Equal(t, 95.0, m.Value)
				assert.Equal(t, "mg/dL", m.Unit)
				assert.Equal(t, glucoseRange, m.ReferenceRange)
				assert.Equal(t, observedAt, m.ObservedAt)
				assert.Equal(t, measurement.CategoryLab, m.Category)
				assert.NotZero(t, m.CreatedAt)
				assert.False(t, m.IsOutOfRange())
			},
		},
		{
			name: "normalizes test code casing",
			setup: func() (*measurement.Measurement, error) {
				return measurement.NewMeasurement(patientID, "Glucose", "Blood Glucose", 95, "mg/dL", glucoseRange, observedAt, measurement.CategoryLab)
			},
			validate: func(t *testing.T, m *measurement.Measurement) {
				assert.Equal(t, "glucose", m.TestCode)
			},
		},
		{
			name: "creates vital measurement",
			setup: func() (*measurement.Measurement, error) {
				return measurement.NewMeasurement(patientID, "heart_rate", "Heart Rate", 72, "bpm", values.MustNewReferenceRange(60, 100), observedAt, measurement.CategoryVital)
			},
			validate: func(t *testing.T, m *measurement.Measurement) {
				assert.Equal(t, measurement.CategoryVital, m.Category)
			},
		},
		{
			name: "rejects nil patient ID",
			setup: func() (*measurement.Measurement, error) {
				return measurement.NewMeasurement(uuid.Nil, "glucose", "Blood Glucose", 95, "mg/dL", glucoseRange, observedAt, measurement.CategoryLab)
			},
			wantErr: "patient ID",
		},
		{
			name: "rejects empty test code",
			setup: func() (*measurement.Measurement, error) {
				return measurement.NewMeasurement(patientID, "", "Blood Glucose", 95, "mg/dL", glucoseRange, observedAt, measurement.CategoryLab)
			},
			wantErr: "test code",
		},
		{
			name: "rejects NaN value",
			setup: func() (*measurement.Measurement, error) {
				return measurement.NewMeasurement(patientID, "glucose", "Blood Glucose", math.NaN(), "mg/dL", glucoseRange, observedAt, measurement.CategoryLab)
			},
			wantErr: "invalid value",
		},
		{
			name: "rejects missing reference range",
			setup: func() (*measurement.Measurement, error) {
				return measurement.NewMeasurement(patientID, "glucose", "Blood Glucose", 95, "mg/dL", values.ReferenceRange{}, observedAt, measurement.CategoryLab)
			},
			wantErr: "reference range",
		},
		{
			name: "rejects zero observation time",
			setup: func() (*measurement.Measurement, error) {
				return measurement.NewMeasurement(patientID, "glucose", "Blood Glucose", 95, "mg/dL", glucoseRange, time.Time{}, measurement.CategoryLab)
			},
			wantErr: "observed_at",
		},
		{
			name: "rejects unknown category",
			setup: func() (*measurement.Measurement, error) {
				return measurement.NewMeasurement(patientID, "glucose", "Blood Glucose", 95, "mg/dL", glucoseRange, observedAt, measurement.Category(99))
			},
			wantErr: "category",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.setup()

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, m)
			tt.validate(t, m)
		})
	}
}

func TestMeasurement_IsOutOfRange(t *testing.T) {
	patientID := uuid.New()
	observedAt := time.Now()
	r := values.MustNewReferenceRange(3.5, 5.1)

	tests := []struct {
		name  string
		value float64
		want  bool
	}{
		{"inside range", 4.2, false},
		{"at low boundary", 3.5, false},
		{"at high boundary", 5.1, false},
		{"below range", 2.9, true},
		{"above range", 6.8, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := measurement.NewMeasurement(patientID, "potassium", "Serum Potassium", tt.value, "mEq/L", r, observedAt, measurement.CategoryLab)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.IsOutOfRange())
		})
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input   string
		want    measurement.Category
		wantErr bool
	}{
		{input: "lab", want: measurement.CategoryLab},
		{input: "vital", want: measurement.CategoryVital},
		{input: "clinical_note", want: measurement.CategoryClinicalNote},
		{input: "imaging_finding", want: measurement.CategoryImagingFinding},
		{input: "imaging", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c, err := measurement.ParseCategory(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, c)
			assert.Equal(t, tt.input, c.String())
		})
	}
}
