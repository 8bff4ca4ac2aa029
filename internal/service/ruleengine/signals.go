package ruleengine

import (
	"time"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

// signal is one measurement's contribution to the correlation window,
// flattened to the fields rule conditions can reference.
type signal struct {
	testCode   string
	fields     map[string]interface{}
	observedAt time.Time
}

// buildSignalFields flattens a measurement and its analysis results into the
// field map rule conditions evaluate against.
func buildSignalFields(m *measurement.Measurement, trend *analysis.TrendRecord, anomaly *analysis.AnomalyRecord) map[string]interface{} {
	fields := map[string]interface{}{
		"value":        m.Value,
		"unit":         m.Unit,
		"category":     m.Category.String(),
		"out_of_range": m.IsOutOfRange(),
	}
	if trend != nil {
		fields["trend_direction"] = trend.Direction.String()
		fields["change_percentage"] = trend.ChangePercentage
		fields["confidence"] = trend.Confidence
	}
	if anomaly != nil {
		fields["severity"] = anomaly.Severity.String()
		fields["deviation_percentage"] = anomaly.DeviationPercentage
	}
	return fields
}

// singleSignalData widens the field map with the test code itself so
// conditions like {field: test_code, operator: equals} resolve.
func singleSignalData(m *measurement.Measurement, fields map[string]interface{}) map[string]interface{} {
	data := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		data[k] = v
	}
	data["test_code"] = m.TestCode
	return data
}

// categoriesFor maps a measurement to the rule categories that evaluate
// against it. Trend rules only apply once a trend record exists.
func categoriesFor(m *measurement.Measurement, trend *analysis.TrendRecord) []rule.Category {
	var cats []rule.Category
	switch m.Category {
	case measurement.CategoryLab:
		cats = append(cats, rule.CategoryLabCritical)
	case measurement.CategoryImagingFinding:
		cats = append(cats, rule.CategoryImagingCritical)
	case measurement.CategoryVital, measurement.CategoryClinicalNote:
		cats = append(cats, rule.CategoryClinicalUrgent)
	}
	if trend != nil {
		cats = append(cats, rule.CategoryTrend)
	}
	return cats
}
