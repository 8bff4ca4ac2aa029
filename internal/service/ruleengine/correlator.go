package ruleengine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
)

// correlator keeps the sliding window of recent signals per patient and
// decides when a combination rule's conditions complete.
//
// Firing is edge triggered: a rule fires on the transition from unsatisfied
// to satisfied, so the signal that lands the last missing condition produces
// exactly one firing no matter the arrival order, and further signals that
// keep the conditions satisfied stay quiet. Once enough signals age out of
// the window the rule re-arms.
type correlator struct {
	mu        sync.Mutex
	window    time.Duration
	maxPerPat int
	byPatient map[uuid.UUID][]signal
	lastSweep time.Time
}

// firing reports one combination rule whose conditions just completed.
type firing struct {
	Rule *rule.AlertRule
	// Data is the namespaced union of the window's signals at fire time
	Data map[string]interface{}
}

func newCorrelator(window time.Duration, maxPerPatient int) *correlator {
	return &correlator{
		window:    window,
		maxPerPat: maxPerPatient,
		byPatient: make(map[uuid.UUID][]signal),
	}
}

// Record adds a signal to the patient's window and evaluates the candidate
// combination rules against it.
func (c *correlator) Record(patientID uuid.UUID, sig signal, candidates []*rule.AlertRule) []firing {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.byPatient[patientID]
	beforeData := namespacedUnion(before)

	after := c.prune(append(before, sig))
	c.byPatient[patientID] = after
	afterData := namespacedUnion(after)

	var fired []firing
	for _, r := range candidates {
		if satisfied(r, beforeData) {
			continue
		}
		if satisfied(r, afterData) {
			fired = append(fired, firing{Rule: r, Data: afterData})
		}
	}

	if sig.observedAt.Sub(c.lastSweep) > c.window {
		c.sweepIdle(sig.observedAt)
		c.lastSweep = sig.observedAt
	}
	return fired
}

// sweepIdle drops patients whose whole window has aged out, so the map only
// holds patients with recent signals. Runs at most once per window length,
// amortized across Record calls.
func (c *correlator) sweepIdle(now time.Time) {
	cutoff := now.Add(-c.window)
	for patientID, signals := range c.byPatient {
		idle := true
		for _, s := range signals {
			if !s.observedAt.Before(cutoff) {
				idle = false
				break
			}
		}
		if idle {
			delete(c.byPatient, patientID)
		}
	}
}

// PatientCount reports how many patients currently hold signals. Memory is
// bounded by window aging and the per-patient cap; Record deletes a
// patient's entry once every signal has aged out.
func (c *correlator) PatientCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byPatient)
}

// prune drops signals observed more than one window before the newest
// signal, then enforces the per-patient cap oldest-first. The window slides
// on observation time, so delayed deliveries correlate the same way live
// ones do.
func (c *correlator) prune(signals []signal) []signal {
	var newest time.Time
	for _, s := range signals {
		if s.observedAt.After(newest) {
			newest = s.observedAt
		}
	}
	cutoff := newest.Add(-c.window)

	kept := signals[:0]
	for _, s := range signals {
		if !s.observedAt.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	if len(kept) > c.maxPerPat {
		kept = kept[len(kept)-c.maxPerPat:]
	}
	return kept
}

// namespacedUnion flattens a window into condition-addressable keys, test
// code dot field. When the window holds several signals for one test code
// the most recently observed value wins.
func namespacedUnion(signals []signal) map[string]interface{} {
	latest := make(map[string]signal, len(signals))
	for _, s := range signals {
		if cur, ok := latest[s.testCode]; !ok || s.observedAt.After(cur.observedAt) {
			latest[s.testCode] = s
		}
	}
	data := make(map[string]interface{}, len(latest)*4)
	for code, s := range latest {
		for field, v := range s.fields {
			data[code+"."+field] = v
		}
	}
	return data
}

// satisfied swallows evaluation errors as unsatisfied. Malformed rules never
// reach the correlator; a runtime type mismatch means the window's data
// cannot meet the condition.
func satisfied(r *rule.AlertRule, data map[string]interface{}) bool {
	ok, err := r.EvaluateConditions(data)
	return err == nil && ok
}
