package ruleengine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

func testSignal(code string, value float64, at time.Time) signal {
	return signal{
		testCode:   code,
		fields:     map[string]interface{}{"value": value},
		observedAt: at,
	}
}

func TestCorrelator_LatestValueWins(t *testing.T) {
	c := newCorrelator(time.Hour, 16)
	patientID := uuid.New()
	base := time.Now().UTC()

	pair := activeRule(t, "Paired", rule.CategoryCombination, rule.SeverityHigh, []rule.Condition{
		{TestCode: "glucose", Field: "value", Operator: "greater_than", Value: 250.0},
		{TestCode: "ketones", Field: "value", Operator: "present"},
	})
	candidates := []*rule.AlertRule{pair}

	// a below-threshold glucose first, then an above-threshold repeat
	require.Empty(t, c.Record(patientID, testSignal("glucose", 180, base), candidates))
	require.Empty(t, c.Record(patientID, testSignal("ketones", 3.0, base.Add(5*time.Minute)), candidates))

	fired := c.Record(patientID, testSignal("glucose", 300, base.Add(10*time.Minute)), candidates)
	require.Len(t, fired, 1)
	assert.Equal(t, pair.ID, fired[0].Rule.ID)
	assert.Equal(t, 300.0, fired[0].Data["glucose.value"])
}

func TestCorrelator_CapDropsOldest(t *testing.T) {
	c := newCorrelator(time.Hour, 2)
	patientID := uuid.New()
	base := time.Now().UTC()

	c.Record(patientID, testSignal("a", 1, base), nil)
	c.Record(patientID, testSignal("b", 2, base.Add(time.Minute)), nil)
	c.Record(patientID, testSignal("c", 3, base.Add(2*time.Minute)), nil)

	c.mu.Lock()
	window := c.byPatient[patientID]
	c.mu.Unlock()

	require.Len(t, window, 2)
	assert.Equal(t, "b", window[0].testCode)
	assert.Equal(t, "c", window[1].testCode)
}

func TestCorrelator_IdlePatientsAgeOut(t *testing.T) {
	c := newCorrelator(time.Hour, 16)
	idle := uuid.New()
	active := uuid.New()
	base := time.Now().UTC()

	c.Record(idle, testSignal("glucose", 100, base), nil)
	c.Record(active, testSignal("glucose", 110, base), nil)
	assert.Equal(t, 2, c.PatientCount())

	// the active patient keeps producing; the idle one went quiet for more
	// than a window and its entry is swept on the next recording
	c.Record(active, testSignal("glucose", 120, base.Add(61*time.Minute)), nil)
	assert.Equal(t, 1, c.PatientCount())
}
