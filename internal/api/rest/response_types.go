package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
	"github.com/vitalsense/clinical-signal-engine/internal/service/ingestion"
)

// Response DTOs. Domain enums cross the wire as their string forms, never as
// raw ints.

// MeasurementResponse mirrors an accepted measurement.
type MeasurementResponse struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	TestCode      string    `json:"test_code"`
	TestName      string    `json:"test_name"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit"`
	ReferenceLow  float64   `json:"reference_low"`
	ReferenceHigh float64   `json:"reference_high"`
	ObservedAt    time.Time `json:"observed_at"`
	Category      string    `json:"category"`
	CreatedAt     time.Time `json:"created_at"`
}

func newMeasurementResponse(m *measurement.Measurement) MeasurementResponse {
	return MeasurementResponse{
		ID:            m.ID,
		PatientID:     m.PatientID,
		TestCode:      m.TestCode,
		TestName:      m.TestName,
		Value:         m.Value,
		Unit:          m.Unit,
		ReferenceLow:  m.ReferenceRange.Low,
		ReferenceHigh: m.ReferenceRange.High,
		ObservedAt:    m.ObservedAt,
		Category:      m.Category.String(),
		CreatedAt:     m.CreatedAt,
	}
}

// RejectedItemResponse names one batch item that failed validation.
type RejectedItemResponse struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchIngestResponse reports per-item outcomes of a batch submission.
type BatchIngestResponse struct {
	Accepted      []MeasurementResponse  `json:"accepted"`
	Rejected      []RejectedItemResponse `json:"rejected"`
	AcceptedCount int                    `json:"accepted_count"`
	RejectedCount int                    `json:"rejected_count"`
}

func newBatchIngestResponse(result *ingestion.BatchResult) BatchIngestResponse {
	resp := BatchIngestResponse{
		Accepted: make([]MeasurementResponse, 0, len(result.Accepted)),
		Rejected: make([]RejectedItemResponse, 0, len(result.Rejected)),
	}
	for _, m := range result.Accepted {
		resp.Accepted = append(resp.Accepted, newMeasurementResponse(m))
	}
	for _, r := range result.Rejected {
		resp.Rejected = append(resp.Rejected, RejectedItemResponse{Index: r.Index, Error: r.Error})
	}
	resp.AcceptedCount = len(resp.Accepted)
	resp.RejectedCount = len(resp.Rejected)
	return resp
}

// TriggerSnapshotResponse is one captured trigger on an alert.
type TriggerSnapshotResponse struct {
	Source     string                 `json:"source"`
	TestCode   string                 `json:"test_code,omitempty"`
	Summary    string                 `json:"summary,omitempty"`
	Severity   string                 `json:"severity"`
	Data       map[string]interface{} `json:"data,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// AlertResponse mirrors a CriticalAlert.
type AlertResponse struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	RuleID      uuid.UUID `json:"rule_id"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
	Status      string    `json:"status"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`

	TriggerData       []TriggerSnapshotResponse `json:"trigger_data"`
	RecommendedAction string                    `json:"recommended_action,omitempty"`

	EscalationPath          []string  `json:"escalation_path"`
	EscalationLevel         int       `json:"escalation_level"`
	TimeToEscalationMinutes int       `json:"time_to_escalation_minutes"`
	EscalationDeadline      time.Time `json:"escalation_deadline"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     *string    `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

func newAlertResponse(a *alert.CriticalAlert) AlertResponse {
	triggers := make([]TriggerSnapshotResponse, 0, len(a.TriggerData))
	for _, t := range a.TriggerData {
		triggers = append(triggers, TriggerSnapshotResponse{
			Source:     t.Source,
			TestCode:   t.TestCode,
			Summary:    t.Summary,
			Severity:   t.Severity.String(),
			Data:       t.Data,
			RecordedAt: t.RecordedAt,
		})
	}

	return AlertResponse{
		ID:                      a.ID,
		PatientID:               a.PatientID,
		RuleID:                  a.RuleID,
		Category:                a.Category.String(),
		Severity:                a.Severity.String(),
		Status:                  a.Status.String(),
		Title:                   a.Title,
		Description:             a.Description,
		TriggerData:             triggers,
		RecommendedAction:       a.RecommendedAction,
		EscalationPath:          a.EscalationPath,
		EscalationLevel:         a.EscalationLevel,
		TimeToEscalationMinutes: a.TimeToEscalationMinutes,
		EscalationDeadline:      a.EscalationDeadline,
		CreatedAt:               a.CreatedAt,
		UpdatedAt:               a.UpdatedAt,
		ExpiresAt:               a.ExpiresAt,
		AcknowledgedBy:          a.AcknowledgedBy,
		AcknowledgedAt:          a.AcknowledgedAt,
		ResolvedBy:              a.ResolvedBy,
		ResolvedAt:              a.ResolvedAt,
	}
}

// AlertListResponse lists a patient's alerts.
type AlertListResponse struct {
	PatientID uuid.UUID       `json:"patient_id"`
	Alerts    []AlertResponse `json:"alerts"`
	Count     int             `json:"count"`
}

func newAlertListResponse(patientID uuid.UUID, alerts []*alert.CriticalAlert) AlertListResponse {
	resp := AlertListResponse{
		PatientID: patientID,
		Alerts:    make([]AlertResponse, 0, len(alerts)),
	}
	for _, a := range alerts {
		resp.Alerts = append(resp.Alerts, newAlertResponse(a))
	}
	resp.Count = len(resp.Alerts)
	return resp
}

// TrendResponse mirrors a TrendRecord.
type TrendResponse struct {
	ID                   uuid.UUID `json:"id"`
	PatientID            uuid.UUID `json:"patient_id"`
	TestCode             string    `json:"test_code"`
	Direction            string    `json:"direction"`
	ChangePercentage     float64   `json:"change_percentage"`
	WindowDays           int       `json:"window_days"`
	SampleCount          int       `json:"sample_count"`
	Confidence           float64   `json:"confidence"`
	ClinicalSignificance string    `json:"clinical_significance,omitempty"`
	ComputedAt           time.Time `json:"computed_at"`
}

func newTrendResponse(t *analysis.TrendRecord) TrendResponse {
	return TrendResponse{
		ID:                   t.ID,
		PatientID:            t.PatientID,
		TestCode:             t.TestCode,
		Direction:            t.Direction.String(),
		ChangePercentage:     t.ChangePercentage,
		WindowDays:           t.WindowDays,
		SampleCount:          t.SampleCount,
		Confidence:           t.Confidence,
		ClinicalSignificance: t.ClinicalSignificance,
		ComputedAt:           t.ComputedAt,
	}
}

// TrendHistoryResponse lists recorded trends for one patient and test.
type TrendHistoryResponse struct {
	PatientID uuid.UUID       `json:"patient_id"`
	TestCode  string          `json:"test_code"`
	Trends    []TrendResponse `json:"trends"`
	Count     int             `json:"count"`
}

func newTrendHistoryResponse(patientID uuid.UUID, testCode string, trends []*analysis.TrendRecord) TrendHistoryResponse {
	resp := TrendHistoryResponse{
		PatientID: patientID,
		TestCode:  testCode,
		Trends:    make([]TrendResponse, 0, len(trends)),
	}
	for _, t := range trends {
		resp.Trends = append(resp.Trends, newTrendResponse(t))
	}
	resp.Count = len(resp.Trends)
	return resp
}

// AnomalyResponse mirrors an AnomalyRecord.
type AnomalyResponse struct {
	ID                  uuid.UUID `json:"id"`
	PatientID           uuid.UUID `json:"patient_id"`
	TestCode            string    `json:"test_code"`
	CurrentValue        float64   `json:"current_value"`
	Unit                string    `json:"unit"`
	ReferenceLow        float64   `json:"reference_low"`
	ReferenceHigh       float64   `json:"reference_high"`
	DeviationPercentage float64   `json:"deviation_percentage"`
	Severity            string    `json:"severity"`
	ClinicalImplication string    `json:"clinical_implication,omitempty"`
	RecommendedAction   string    `json:"recommended_action,omitempty"`
	ObservedAt          time.Time `json:"observed_at"`
}

func newAnomalyResponse(a *analysis.AnomalyRecord) AnomalyResponse {
	return AnomalyResponse{
		ID:                  a.ID,
		PatientID:           a.PatientID,
		TestCode:            a.TestCode,
		CurrentValue:        a.CurrentValue,
		Unit:                a.Unit,
		ReferenceLow:        a.ReferenceRange.Low,
		ReferenceHigh:       a.ReferenceRange.High,
		DeviationPercentage: a.DeviationPercentage,
		Severity:            a.Severity.String(),
		ClinicalImplication: a.ClinicalImplication,
		RecommendedAction:   a.RecommendedAction,
		ObservedAt:          a.ObservedAt,
	}
}

// AnomalyHistoryResponse lists recorded anomalies for one patient and test.
type AnomalyHistoryResponse struct {
	PatientID uuid.UUID         `json:"patient_id"`
	TestCode  string            `json:"test_code"`
	Anomalies []AnomalyResponse `json:"anomalies"`
	Count     int               `json:"count"`
}

func newAnomalyHistoryResponse(patientID uuid.UUID, testCode string, anomalies []*analysis.AnomalyRecord) AnomalyHistoryResponse {
	resp := AnomalyHistoryResponse{
		PatientID: patientID,
		TestCode:  testCode,
		Anomalies: make([]AnomalyResponse, 0, len(anomalies)),
	}
	for _, a := range anomalies {
		resp.Anomalies = append(resp.Anomalies, newAnomalyResponse(a))
	}
	resp.Count = len(resp.Anomalies)
	return resp
}

// RuleConditionResponse is one predicate of a stored rule.
type RuleConditionResponse struct {
	TestCode string      `json:"test_code,omitempty"`
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// RuleResponse mirrors an AlertRule.
type RuleResponse struct {
	ID                      uuid.UUID               `json:"id"`
	Name                    string                  `json:"name"`
	Category                string                  `json:"category"`
	Severity                string                  `json:"severity"`
	Status                  string                  `json:"status"`
	Conditions              []RuleConditionResponse `json:"conditions"`
	EscalationPath          []string                `json:"escalation_path"`
	TimeToEscalationMinutes int                     `json:"time_to_escalation_minutes"`
	Description             string                  `json:"description,omitempty"`
	CreatedAt               time.Time               `json:"created_at"`
	UpdatedAt               time.Time               `json:"updated_at"`
}

func newRuleResponse(r *rule.AlertRule) RuleResponse {
	conditions := make([]RuleConditionResponse, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		conditions = append(conditions, RuleConditionResponse{
			TestCode: c.TestCode,
			Field:    c.Field,
			Operator: c.Operator,
			Value:    c.Value,
		})
	}

	return RuleResponse{
		ID:                      r.ID,
		Name:                    r.Name,
		Category:                r.Category.String(),
		Severity:                r.Severity.String(),
		Status:                  r.Status.String(),
		Conditions:              conditions,
		EscalationPath:          r.EscalationPath,
		TimeToEscalationMinutes: r.TimeToEscalationMinutes,
		Description:             r.Description,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}

// RuleListResponse lists the stored rule set.
type RuleListResponse struct {
	Rules []RuleResponse `json:"rules"`
	Count int            `json:"count"`
}

func newRuleListResponse(rules []*rule.AlertRule) RuleListResponse {
	resp := RuleListResponse{Rules: make([]RuleResponse, 0, len(rules))}
	for _, r := range rules {
		resp.Rules = append(resp.Rules, newRuleResponse(r))
	}
	resp.Count = len(resp.Rules)
	return resp
}

// PipelineStatsResponse is a snapshot of the ingestion pipeline counters.
type PipelineStatsResponse struct {
	Ingested      int64 `json:"ingested"`
	Analyzed      int64 `json:"analyzed"`
	Failed        int64 `json:"failed"`
	AlertsCreated int64 `json:"alerts_created"`
	QueuedTasks   int   `json:"queued_tasks"`
}

func newPipelineStatsResponse(stats ingestion.PipelineStats) PipelineStatsResponse {
	return PipelineStatsResponse{
		Ingested:      stats.Ingested,
		Analyzed:      stats.Analyzed,
		Failed:        stats.Failed,
		AlertsCreated: stats.AlertsCreated,
		QueuedTasks:   stats.QueuedTasks,
	}
}
