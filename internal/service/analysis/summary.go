package analysis

import (
	"fmt"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
)

// deriveRiskFactors condenses one analysis pass into the short risk list
// carried on the completed event. Ordering is deterministic: anomaly-driven
// factors first, then trend-driven ones.
func deriveRiskFactors(trends []*analysis.TrendRecord, anomalies []*analysis.AnomalyRecord) []string {
	var factors []string
	seen := make(map[string]bool)
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			factors = append(factors, f)
		}
	}

	for _, a := range anomalies {
		if a.Severity >= analysis.SeveritySevere {
			add(fmt.Sprintf("critical value: %s", a.ClinicalImplication))
		} else {
			add(a.ClinicalImplication)
		}
	}
	for _, t := range trends {
		if t.Direction == analysis.TrendStable || t.Confidence < 0.5 {
			continue
		}
		switch t.Direction {
		case analysis.TrendIncreasing:
			add(fmt.Sprintf("rising %s (%.0f%% over %d days)", t.TestCode, t.ChangePercentage, t.WindowDays))
		case analysis.TrendDecreasing:
			add(fmt.Sprintf("falling %s (%.0f%% over %d days)", t.TestCode, -t.ChangePercentage, t.WindowDays))
		case analysis.TrendFluctuating:
			add(fmt.Sprintf("unstable %s values", t.TestCode))
		}
	}
	return factors
}

// deriveRecommendations mirrors deriveRiskFactors with next steps. The most
// urgent recommendation comes first.
func deriveRecommendations(trends []*analysis.TrendRecord, anomalies []*analysis.AnomalyRecord) []string {
	var recs []string
	seen := make(map[string]bool)
	add := func(r string) {
		if r != "" && !seen[r] {
			seen[r] = true
			recs = append(recs, r)
		}
	}

	worst := analysis.AnomalySeverity(-1)
	for _, a := range anomalies {
		if a.Severity > worst {
			worst = a.Severity
		}
	}
	if worst >= analysis.SeverityMild {
		add(anomalyAction(worst))
	}
	for _, t := range trends {
		if t.Direction == analysis.TrendStable || t.Confidence < 0.5 {
			continue
		}
		if t.Direction == analysis.TrendFluctuating {
			add(fmt.Sprintf("repeat %s testing to confirm stability", t.TestCode))
			continue
		}
		add(fmt.Sprintf("continue monitoring %s", t.TestCode))
	}
	return recs
}
