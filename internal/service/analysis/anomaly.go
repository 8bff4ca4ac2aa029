package analysis

import (
	"fmt"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
)

// classifyAnomaly grades how far a value sits outside its reference range.
// Values inside the range, boundaries included, are not anomalies and return
// ok=false.
func classifyAnomaly(m *measurement.Measurement, cfg Config) (severity analysis.AnomalySeverity, deviationPct float64, ok bool) {
	if m.ReferenceRange.Contains(m.Value) {
		return 0, 0, false
	}
	deviationPct = m.ReferenceRange.DeviationPercent(m.Value)
	switch {
	case deviationPct < cfg.MildMaxPercent:
		severity = analysis.SeverityMild
	case deviationPct < cfg.ModerateMaxPercent:
		severity = analysis.SeverityModerate
	case deviationPct < cfg.SevereMaxPercent:
		severity = analysis.SeveritySevere
	default:
		severity = analysis.SeverityCritical
	}
	return severity, deviationPct, true
}

// implication pairs the clinical readings of a high and a low excursion for
// one test.
type implication struct {
	above string
	below string
}

var knownImplications = map[string]implication{
	"glucose":     {above: "hyperglycemia", below: "hypoglycemia"},
	"potassium":   {above: "hyperkalemia, cardiac arrhythmia risk", below: "hypokalemia, cardiac arrhythmia risk"},
	"sodium":      {above: "hypernatremia", below: "hyponatremia"},
	"calcium":     {above: "hypercalcemia", below: "hypocalcemia"},
	"magnesium":   {above: "hypermagnesemia", below: "hypomagnesemia"},
	"hemoglobin":  {above: "polycythemia", below: "anemia, possible blood loss"},
	"platelets":   {above: "thrombocytosis", below: "thrombocytopenia, bleeding risk"},
	"wbc":         {above: "leukocytosis, possible infection", below: "leukopenia, infection susceptibility"},
	"creatinine":  {above: "impaired renal function", below: "low muscle mass or dilution"},
	"lactate":     {above: "possible tissue hypoperfusion", below: ""},
	"inr":         {above: "over-anticoagulation, bleeding risk", below: "under-anticoagulation, clotting risk"},
	"ph_arterial": {above: "alkalemia", below: "acidemia"},
	"troponin":    {above: "possible myocardial injury", below: ""},
}

// anomalyImplication renders the clinical reading for an out-of-range value.
// Severe and critical excursions carry the severity word so the alert text
// reads correctly without further lookup.
func anomalyImplication(m *measurement.Measurement, severity analysis.AnomalySeverity) string {
	above := m.Value > m.ReferenceRange.High
	text := ""
	if imp, found := knownImplications[m.TestCode]; found {
		if above {
			text = imp.above
		} else {
			text = imp.below
		}
	}
	if text == "" {
		direction := "below"
		if above {
			direction = "above"
		}
		text = fmt.Sprintf("%s %s reference range", m.TestCode, direction)
	}
	if severity >= analysis.SeveritySevere {
		return fmt.Sprintf("%s %s", severity, text)
	}
	return text
}

func anomalyAction(severity analysis.AnomalySeverity) string {
	switch severity {
	case analysis.SeverityCritical:
		return "immediate clinical intervention required"
	case analysis.SeveritySevere:
		return "prompt physician evaluation required"
	case analysis.SeverityModerate:
		return "repeat test and notify ordering clinician"
	default:
		return "recheck at next scheduled draw"
	}
}
