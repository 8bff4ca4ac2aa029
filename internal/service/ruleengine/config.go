package ruleengine

import "time"

// Config tunes rule evaluation and signal correlation. Zero values pick up
// the clinical defaults through NewService.
type Config struct {
	// CorrelationWindow is how long a signal stays eligible for
	// combination rules, measured between observation times
	CorrelationWindow time.Duration
	// MaxSignalsPerPatient caps the correlation buffer per patient;
	// the oldest signals fall off first
	MaxSignalsPerPatient int
	// EmergencyMultiple widens the critical threshold bounds; values
	// beyond bound*multiple (or below bound/multiple) grade as emergency
	EmergencyMultiple float64
	// CriticalEscalationPath is the notification chain for built-in
	// critical value alerts, which have no configured rule to carry one
	CriticalEscalationPath []string
	// CriticalEscalationMinutes is the unacknowledged countdown for
	// built-in critical value alerts
	CriticalEscalationMinutes int
	// EmergencyEscalationMinutes shortens the countdown when a value
	// grades as emergency
	EmergencyEscalationMinutes int
}

func DefaultConfig() Config {
	return Config{
		CorrelationWindow:          60 * time.Minute,
		MaxSignalsPerPatient:       256,
		EmergencyMultiple:          1.5,
		CriticalEscalationPath:     []string{"charge nurse", "attending physician", "rapid response team"},
		CriticalEscalationMinutes:  15,
		EmergencyEscalationMinutes: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CorrelationWindow <= 0 {
		c.CorrelationWindow = d.CorrelationWindow
	}
	if c.MaxSignalsPerPatient <= 0 {
		c.MaxSignalsPerPatient = d.MaxSignalsPerPatient
	}
	if c.EmergencyMultiple <= 1 {
		c.EmergencyMultiple = d.EmergencyMultiple
	}
	if len(c.CriticalEscalationPath) == 0 {
		c.CriticalEscalationPath = d.CriticalEscalationPath
	}
	if c.CriticalEscalationMinutes <= 0 {
		c.CriticalEscalationMinutes = d.CriticalEscalationMinutes
	}
	if c.EmergencyEscalationMinutes <= 0 {
		c.EmergencyEscalationMinutes = d.EmergencyEscalationMinutes
	}
	return c
}
