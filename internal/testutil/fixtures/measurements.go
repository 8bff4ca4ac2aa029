// Package fixtures provides builders for valid domain entities so tests
// state only what they care about.
package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
)

// MeasurementBuilder builds test Measurement entities.
type MeasurementBuilder struct {
	t          *testing.T
	id         uuid.UUID
	patientID  uuid.UUID
	testCode   string
	testName   string
	value      float64
	unit       string
	low, high  float64
	observedAt time.Time
	category   measurement.Category
}

// NewMeasurementBuilder creates a builder with an in-range glucose reading.
func NewMeasurementBuilder(t *testing.T) *MeasurementBuilder {
	t.Helper()
	return &MeasurementBuilder{
		t:          t,
		patientID:  uuid.New(),
		testCode:   "glucose",
		testName:   "Blood Glucose",
		value:      95,
		unit:       "mg/dL",
		low:        70,
		high:       110,
		observedAt: time.Now().UTC(),
		category:   measurement.CategoryLab,
	}
}

// WithID pins the measurement ID.
func (b *MeasurementBuilder) WithID(id uuid.UUID) *MeasurementBuilder {
	b.id = id
	return b
}

// WithPatientID sets the patient.
func (b *MeasurementBuilder) WithPatientID(patientID uuid.UUID) *MeasurementBuilder {
	b.patientID = patientID
	return b
}

// WithTest sets the test code and display name.
func (b *MeasurementBuilder) WithTest(code, name string) *MeasurementBuilder {
	b.testCode = code
	b.testName = name
	return b
}

// WithValue sets the observed value.
func (b *MeasurementBuilder) WithValue(value float64) *MeasurementBuilder {
	b.value = value
	return b
}

// WithUnit sets the unit.
func (b *MeasurementBuilder) WithUnit(unit string) *MeasurementBuilder {
	b.unit = unit
	return b
}

// WithRange sets the reference range.
func (b *MeasurementBuilder) WithRange(low, high float64) *MeasurementBuilder {
	b.low = low
	b.high = high
	return b
}

// WithObservedAt sets the observation time.
func (b *MeasurementBuilder) WithObservedAt(at time.Time) *MeasurementBuilder {
	b.observedAt = at
	return b
}

// WithCategory sets the measurement category.
func (b *MeasurementBuilder) WithCategory(category measurement.Category) *MeasurementBuilder {
	b.category = category
	return b
}

// Build creates the Measurement entity.
func (b *MeasurementBuilder) Build() *measurement.Measurement {
	b.t.Helper()

	refRange, err := values.NewReferenceRange(b.low, b.high)
	require.NoError(b.t, err)

	m, err := measurement.NewMeasurement(
		b.patientID, b.testCode, b.testName, b.value, b.unit, refRange, b.observedAt, b.category,
	)
	require.NoError(b.t, err)

	if b.id != uuid.Nil {
		m.ID = b.id
	}
	return m
}
