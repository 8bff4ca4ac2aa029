package alert_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

func validCreationRequest() alert.CreationRequest {
	return alert.CreationRequest{
		PatientID:               uuid.New(),
		RuleID:                  uuid.New(),
		Category:                rule.CategoryLabCritical,
		Severity:                rule.SeverityCritical,
		Title:                   "Critical Glucose",
		Description:             "Glucose 650 mg/dL exceeds critical threshold",
		RecommendedAction:       "Evaluate for hyperglycemic emergency",
		EscalationPath:          []string{"charge nurse", "attending physician", "icu team"},
		TimeToEscalationMinutes: 15,
		Trigger: alert.TriggerSnapshot{
			Source:   "measurement",
			TestCode: "glucose",
			Severity: rule.SeverityCritical,
			Data:     map[string]interface{}{"value": 650.0, "unit": "mg/dL"},
		},
	}
}

func TestNewCriticalAlert(t *testing.T) {
	mockClock := &alert.MockClock{CurrentTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	alert.SetClock(mockClock)
	defer alert.ResetClock()

	t.Run("creates active alert with escalation deadline", func(t *testing.T) {
		req := validCreationRequest()

		a, err := alert.NewCriticalAlert(req)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, a.ID)
		assert.Equal(t, req.PatientID, a.PatientID)
		assert.Equal(t, req.RuleID, a.RuleID)
		assert.Equal(t, alert.StatusActive, a.Status)
		assert.Equal(t, rule.SeverityCritical, a.Severity)
		assert.Equal(t, 0, a.EscalationLevel)
		assert.Equal(t, "charge nurse", a.CurrentEscalationRole())
		assert.Equal(t, mockClock.CurrentTime.Add(15*time.Minute), a.EscalationDeadline)
		assert.Len(t, a.TriggerData, 1)
		assert.Equal(t, mockClock.CurrentTime, a.TriggerData[0].RecordedAt)
		assert.Nil(t, a.ExpiresAt)
		assert.Nil(t, a.AcknowledgedBy)
		assert.False(t, a.IsTerminal())
	})

	t.Run("rejects nil patient", func(t *testing.T) {
		req := validCreationRequest()
		req.PatientID = uuid.Nil

		_, err := alert.NewCriticalAlert(req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "patient ID")
	})

	t.Run("rejects empty title", func(t *testing.T) {
		req := validCreationRequest()
		req.Title = ""

		_, err := alert.NewCriticalAlert(req)
		require.Error(t, err)
	})

	t.Run("rejects empty escalation path", func(t *testing.T) {
		req := validCreationRequest()
		req.EscalationPath = nil

		_, err := alert.NewCriticalAlert(req)
		require.Error(t, err)
	})
}

func TestCriticalAlert_Escalate(t *testing.T) {
	mockClock := &alert.MockClock{CurrentTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	alert.SetClock(mockClock)
	defer alert.ResetClock()

	t.Run("deadline drives escalation", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)

		assert.False(t, a.ShouldEscalate(mockClock.Now()), "fresh alert must not escalate")

		mockClock.Advance(14 * time.Minute)
		assert.False(t, a.ShouldEscalate(mockClock.Now()))

		mockClock.Advance(1 * time.Minute)
		assert.True(t, a.ShouldEscalate(mockClock.Now()), "deadline reached")

		require.NoError(t, a.Escalate())
		assert.Equal(t, alert.StatusEscalated, a.Status)
		assert.Equal(t, 1, a.EscalationLevel)
		assert.Equal(t, "attending physician", a.CurrentEscalationRole())

		// Deadline was pushed out; a second sweep right away must not double-escalate
		assert.False(t, a.ShouldEscalate(mockClock.Now()))
	})

	t.Run("walks full path then stops", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)

		mockClock.Advance(15 * time.Minute)
		require.NoError(t, a.Escalate())
		assert.Equal(t, "attending physician", a.CurrentEscalationRole())

		mockClock.Advance(15 * time.Minute)
		require.True(t, a.ShouldEscalate(mockClock.Now()))
		require.NoError(t, a.Escalate())
		assert.Equal(t, "icu team", a.CurrentEscalationRole())
		assert.Equal(t, 2, a.EscalationLevel)

		// Path exhausted: the deadline clears and the sweep leaves it alone
		assert.True(t, a.EscalationDeadline.IsZero())
		mockClock.Advance(24 * time.Hour)
		assert.False(t, a.ShouldEscalate(mockClock.Now()))
	})

	t.Run("acknowledged alert does not escalate", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)

		require.NoError(t, a.Acknowledge("dr.reyes"))

		mockClock.Advance(1 * time.Hour)
		assert.False(t, a.ShouldEscalate(mockClock.Now()))
		assert.Error(t, a.Escalate())
	})

	t.Run("single role path escalates once", func(t *testing.T) {
		req := validCreationRequest()
		req.EscalationPath = []string{"on-call physician"}

		a, err := alert.NewCriticalAlert(req)
		require.NoError(t, err)

		mockClock.Advance(15 * time.Minute)
		require.NoError(t, a.Escalate())
		assert.Equal(t, alert.StatusEscalated, a.Status)
		assert.Equal(t, 0, a.EscalationLevel)
		assert.True(t, a.EscalationDeadline.IsZero())
	})
}

func TestCriticalAlert_AcknowledgeResolve(t *testing.T) {
	mockClock := &alert.MockClock{CurrentTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	alert.SetClock(mockClock)
	defer alert.ResetClock()

	t.Run("acknowledge from active", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)

		require.NoError(t, a.Acknowledge("nurse.okafor"))
		assert.Equal(t, alert.StatusAcknowledged, a.Status)
		require.NotNil(t, a.AcknowledgedBy)
		assert.Equal(t, "nurse.okafor", *a.AcknowledgedBy)
		require.NotNil(t, a.AcknowledgedAt)
		assert.Equal(t, mockClock.CurrentTime, *a.AcknowledgedAt)
	})

	t.Run("acknowledge after escalation stays acknowledged", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)

		mockClock.Advance(15 * time.Minute)
		require.NoError(t, a.Escalate())

		require.NoError(t, a.Acknowledge("dr.reyes"))
		assert.Equal(t, alert.StatusAcknowledged, a.Status)

		// Escalated-then-acknowledged alerts remain resolvable
		require.NoError(t, a.Resolve("dr.reyes"))
		assert.Equal(t, alert.StatusResolved, a.Status)
		assert.True(t, a.IsTerminal())
	})

	t.Run("double acknowledge fails", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)

		require.NoError(t, a.Acknowledge("nurse.okafor"))
		assert.Error(t, a.Acknowledge("nurse.okafor"))
	})

	t.Run("resolve from active without acknowledgment", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)

		require.NoError(t, a.Resolve("dr.reyes"))
		assert.Equal(t, alert.StatusResolved, a.Status)
		require.NotNil(t, a.ResolvedBy)
		assert.Equal(t, "dr.reyes", *a.ResolvedBy)
	})

	t.Run("terminal alert rejects further transitions", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)
		require.NoError(t, a.Resolve("dr.reyes"))

		assert.Error(t, a.Acknowledge("nurse.okafor"))
		assert.Error(t, a.Resolve("dr.reyes"))
		assert.Error(t, a.Escalate())
		assert.Error(t, a.Expire())
	})

	t.Run("rejects empty actor", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)

		assert.Error(t, a.Acknowledge("  "))
		assert.Error(t, a.Resolve(""))
	})
}

func TestCriticalAlert_Expiry(t *testing.T) {
	mockClock := &alert.MockClock{CurrentTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	alert.SetClock(mockClock)
	defer alert.ResetClock()

	t.Run("expires after validity window", func(t *testing.T) {
		req := validCreationRequest()
		expires := mockClock.CurrentTime.Add(2 * time.Hour)
		req.ExpiresAt = &expires

		a, err := alert.NewCriticalAlert(req)
		require.NoError(t, err)

		assert.False(t, a.ShouldExpire(mockClock.Now()))

		mockClock.Advance(2 * time.Hour)
		assert.True(t, a.ShouldExpire(mockClock.Now()))

		require.NoError(t, a.Expire())
		assert.Equal(t, alert.StatusExpired, a.Status)
		assert.True(t, a.IsTerminal())
	})

	t.Run("acknowledged alert can still expire", func(t *testing.T) {
		req := validCreationRequest()
		expires := mockClock.CurrentTime.Add(time.Hour)
		req.ExpiresAt = &expires

		a, err := alert.NewCriticalAlert(req)
		require.NoError(t, err)
		require.NoError(t, a.Acknowledge("nurse.okafor"))

		mockClock.Advance(61 * time.Minute)
		assert.True(t, a.ShouldExpire(mockClock.Now()))
	})

	t.Run("no expiry without window", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)

		mockClock.Advance(1000 * time.Hour)
		assert.False(t, a.ShouldExpire(mockClock.Now()))
	})
}

func TestCriticalAlert_MergeTrigger(t *testing.T) {
	mockClock := &alert.MockClock{CurrentTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	alert.SetClock(mockClock)
	defer alert.ResetClock()

	t.Run("merge accumulates trigger data without touching countdown", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)
		originalDeadline := a.EscalationDeadline

		mockClock.Advance(10 * time.Minute)

		dup := validCreationRequest()
		dup.Severity = rule.SeverityCritical // same severity as recorded
		require.NoError(t, a.MergeTrigger(dup))

		assert.Len(t, a.TriggerData, 2)
		assert.Equal(t, originalDeadline, a.EscalationDeadline,
			"equal-severity re-trigger must not reset the countdown")
		assert.Equal(t, rule.SeverityCritical, a.Severity)
	})

	t.Run("more severe signal refreshes countdown and severity", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)

		mockClock.Advance(10 * time.Minute)

		dup := validCreationRequest()
		dup.Severity = rule.SeverityEmergency
		require.NoError(t, a.MergeTrigger(dup))

		assert.Equal(t, rule.SeverityEmergency, a.Severity)
		assert.Equal(t, mockClock.CurrentTime.Add(15*time.Minute), a.EscalationDeadline)
	})

	t.Run("less severe signal never downgrades", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)
		originalDeadline := a.EscalationDeadline

		dup := validCreationRequest()
		dup.Severity = rule.SeverityHigh
		require.NoError(t, a.MergeTrigger(dup))

		assert.Equal(t, rule.SeverityCritical, a.Severity)
		assert.Equal(t, originalDeadline, a.EscalationDeadline)
	})

	t.Run("merge into terminal alert fails", func(t *testing.T) {
		a, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)
		require.NoError(t, a.Resolve("dr.reyes"))

		assert.Error(t, a.MergeTrigger(validCreationRequest()))
	})
}

func TestCriticalAlert_SerializationRoundTrip(t *testing.T) {
	mockClock := &alert.MockClock{CurrentTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	alert.SetClock(mockClock)
	defer alert.ResetClock()

	req := validCreationRequest()
	expires := mockClock.CurrentTime.Add(4 * time.Hour)
	req.ExpiresAt = &expires

	a, err := alert.NewCriticalAlert(req)
	require.NoError(t, err)
	require.NoError(t, a.Acknowledge("nurse.okafor"))

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var decoded alert.CriticalAlert
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, a.ID, decoded.ID)
	assert.Equal(t, a.PatientID, decoded.PatientID)
	assert.Equal(t, a.RuleID, decoded.RuleID)
	assert.Equal(t, a.Status, decoded.Status)
	assert.Equal(t, a.Severity, decoded.Severity)
	assert.Equal(t, a.EscalationPath, decoded.EscalationPath)
	require.NotNil(t, decoded.ExpiresAt)
	assert.True(t, a.ExpiresAt.Equal(*decoded.ExpiresAt))
	require.NotNil(t, decoded.AcknowledgedBy)
	assert.Equal(t, "nurse.okafor", *decoded.AcknowledgedBy)
	assert.Equal(t, len(a.TriggerData), len(decoded.TriggerData))

	t.Run("nullable fields stay null", func(t *testing.T) {
		b, err := alert.NewCriticalAlert(validCreationRequest())
		require.NoError(t, err)

		data, err := json.Marshal(b)
		require.NoError(t, err)

		var decoded alert.CriticalAlert
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Nil(t, decoded.ExpiresAt)
		assert.Nil(t, decoded.AcknowledgedBy)
		assert.Nil(t, decoded.ResolvedBy)
	})
}

func TestAlertEvents(t *testing.T) {
	mockClock := &alert.MockClock{CurrentTime: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	alert.SetClock(mockClock)
	defer alert.ResetClock()

	a, err := alert.NewCriticalAlert(validCreationRequest())
	require.NoError(t, err)

	generated := alert.NewGeneratedEvent(a)
	assert.Equal(t, alert.EventGenerated, generated.Type)
	assert.Equal(t, a.PatientID, generated.PatientID)
	assert.Equal(t, "charge nurse", generated.NotifyRole)
	assert.Same(t, a, generated.Alert)

	mockClock.Advance(15 * time.Minute)
	require.NoError(t, a.Escalate())

	escalated := alert.NewEscalatedEvent(a)
	assert.Equal(t, alert.EventEscalated, escalated.Type)
	assert.Equal(t, "attending physician", escalated.NotifyRole)

	require.NoError(t, a.Resolve("dr.reyes"))
	resolved := alert.NewResolvedEvent(a)
	assert.Equal(t, alert.EventResolved, resolved.Type)
	assert.Empty(t, resolved.NotifyRole)
}
