package analysis

import (
	"fmt"
	"math"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
)

// trendClassification is the raw classifier output before it is attached to
// a patient and persisted as a TrendRecord.
type trendClassification struct {
	Direction        analysis.TrendDirection
	ChangePercentage float64
	Confidence       float64
}

// classifyTrend classifies an ordered series of observed values. The series
// must be sorted by observation time ascending and include the measurement
// under analysis as its last applicable element.
//
// Series shorter than 3 samples never get a direction: one sample carries no
// change information at all, and two samples cannot distinguish a trend from
// noise, so the direction stays stable and confidence is capped low.
//
// refMidpoint is the midpoint of the test's reference range. It anchors the
// absolute-difference fallback when the series starts at zero, where a
// percentage change is undefined.
func classifyTrend(values []float64, refMidpoint float64, cfg Config) trendClassification {
	n := len(values)
	if n == 0 {
		return trendClassification{Direction: analysis.TrendStable}
	}
	if n == 1 {
		return trendClassification{Direction: analysis.TrendStable, Confidence: 0}
	}

	first, last := values[0], values[n-1]
	changePct, pctDefined := changePercent(first, last, refMidpoint)

	confidence := sampleConfidence(values, cfg.ConfidenceTargetSamples)
	if n < 3 {
		if confidence > 0.3 {
			confidence = 0.3
		}
		return trendClassification{
			Direction:        analysis.TrendStable,
			ChangePercentage: changePct,
			Confidence:       confidence,
		}
	}

	direction := analysis.TrendStable
	switch {
	case pctDefined && changePct >= cfg.TrendThresholdPercent:
		direction = analysis.TrendIncreasing
	case pctDefined && changePct <= -cfg.TrendThresholdPercent:
		direction = analysis.TrendDecreasing
	case isFluctuating(values, cfg):
		direction = analysis.TrendFluctuating
	}

	return trendClassification{
		Direction:        direction,
		ChangePercentage: changePct,
		Confidence:       confidence,
	}
}

// changePercent computes the relative change from first to last. When first
// is zero the percentage is undefined; the fallback measures the change
// against the reference midpoint instead, so the same threshold applies to
// the absolute difference. A zero midpoint leaves the change undefined
// entirely, which classifies as stable.
func changePercent(first, last, refMidpoint float64) (pct float64, defined bool) {
	if first != 0 {
		return (last - first) / math.Abs(first) * 100, true
	}
	if refMidpoint == 0 {
		return 0, false
	}
	return (last - first) / math.Abs(refMidpoint) * 100, true
}

// isFluctuating requires both repeated direction reversals and a spread wide
// enough to matter clinically. Reversals alone can be instrument noise.
func isFluctuating(values []float64, cfg Config) bool {
	if signChanges(values) < cfg.FluctuationMinSignChanges {
		return false
	}
	m := math.Abs(mean(values))
	return valueRange(values) > cfg.FluctuationRangePercent/100*m
}

// sampleConfidence scales confidence by sample count and penalizes scattered
// series: min(1, n/target) * (1 - CV), with the CV clamped to [0, 1].
func sampleConfidence(values []float64, targetSamples int) float64 {
	countFactor := float64(len(values)) / float64(targetSamples)
	if countFactor > 1 {
		countFactor = 1
	}
	return countFactor * (1 - clamp01(coefficientOfVariation(values)))
}

// trendSignificance renders the human-readable note stored alongside the
// classification. Clinicians see this string on the trend history view.
func trendSignificance(testCode string, c trendClassification) string {
	switch c.Direction {
	case analysis.TrendIncreasing:
		if c.ChangePercentage >= 50 {
			return fmt.Sprintf("%s rising rapidly (%.1f%% over window), clinician review advised", testCode, c.ChangePercentage)
		}
		return fmt.Sprintf("%s trending upward (%.1f%% over window)", testCode, c.ChangePercentage)
	case analysis.TrendDecreasing:
		if c.ChangePercentage <= -50 {
			return fmt.Sprintf("%s falling rapidly (%.1f%% over window), clinician review advised", testCode, c.ChangePercentage)
		}
		return fmt.Sprintf("%s trending downward (%.1f%% over window)", testCode, c.ChangePercentage)
	case analysis.TrendFluctuating:
		return fmt.Sprintf("%s unstable across window, consider repeat testing", testCode)
	default:
		return fmt.Sprintf("%s stable across window", testCode)
	}
}
