package analysis

import (
	"time"

	"github.com/google/uuid"
)

// EventTypeCompleted identifies an analysis batch completion on the wire
const EventTypeCompleted = "lab_analysis_completed"

// CompletedEvent summarizes one analysis pass over a patient's measurements
// for notification and UI consumers.
type CompletedEvent struct {
	ID                  uuid.UUID `json:"id"`
	PatientID           uuid.UUID `json:"patient_id"`
	AnalysisDate        time.Time `json:"analysis_date"`
	TrendsCount         int       `json:"trends_count"`
	AnomaliesCount      int       `json:"anomalies_count"`
	CriticalValuesCount int       `json:"critical_values_count"`
	RiskFactors         []string  `json:"risk_factors"`
	Recommendations     []string  `json:"recommendations"`
}

// NewCompletedEvent builds the completion summary from an analysis pass
func NewCompletedEvent(patientID uuid.UUID, trends []*TrendRecord, anomalies []*AnomalyRecord, riskFactors, recommendations []string) CompletedEvent {
	critical := 0
	for _, a := range anomalies {
		if a.Severity >= SeveritySevere {
			critical++
		}
	}

	return CompletedEvent{
		ID:                  uuid.New(),
		PatientID:           patientID,
		AnalysisDate:        time.Now().UTC(),
		TrendsCount:         len(trends),
		AnomaliesCount:      len(anomalies),
		CriticalValuesCount: critical,
		RiskFactors:         riskFactors,
		Recommendations:     recommendations,
	}
}
