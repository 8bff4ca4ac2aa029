package ruleengine

import (
	"context"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

// Service turns analyzed measurements into alert creation requests.
//
// Evaluation runs three paths over each measurement: the built-in critical
// value table for lab results, the configured single-signal rules matching
// the measurement's category, and the combination rules fed by the
// per-patient correlation window.
type Service interface {
	// UpdateRules replaces the active rule set. Rules that fail
	// validation or are not active are skipped, not installed.
	UpdateRules(ctx context.Context, rules []*rule.AlertRule) error
	// Evaluate runs all matching rules over one analyzed measurement.
	// trend and anomaly may be nil when analysis produced none.
	Evaluate(ctx context.Context, m *measurement.Measurement, trend *analysis.TrendRecord, anomaly *analysis.AnomalyRecord) ([]*alert.CreationRequest, error)
	// ActiveRuleCount reports how many rules the installed set holds
	ActiveRuleCount() int
	// TrackedPatientCount reports how many patients currently hold
	// signals in the correlation window
	TrackedPatientCount() int
}
