package analysis

// Config carries the classifier tuning knobs. Zero values are replaced with
// the clinical defaults by NewService.
type Config struct {
	// TrendWindowDays bounds how far back the trend series reaches
	TrendWindowDays int
	// TrendThresholdPercent is the absolute change percentage at which a
	// series stops being stable
	TrendThresholdPercent float64
	// FluctuationMinSignChanges is the minimum number of direction
	// reversals before a series can be called fluctuating
	FluctuationMinSignChanges int
	// FluctuationRangePercent is the series range, relative to the mean,
	// that fluctuation additionally requires
	FluctuationRangePercent float64
	// ConfidenceTargetSamples is the series length at which sample count
	// stops limiting confidence
	ConfidenceTargetSamples int
	// Deviation band upper bounds, as percent of reference range width
	MildMaxPercent     float64
	ModerateMaxPercent float64
	SevereMaxPercent   float64
}

// maxTrendWindowDays caps how far back a trend series may reach; a year of
// history is already past the point of clinical relevance for trending.
const maxTrendWindowDays = 365

func DefaultConfig() Config {
	return Config{
		TrendWindowDays:           90,
		TrendThresholdPercent:     10.0,
		FluctuationMinSignChanges: 2,
		FluctuationRangePercent:   15.0,
		ConfidenceTargetSamples:   10,
		MildMaxPercent:            25.0,
		ModerateMaxPercent:        50.0,
		SevereMaxPercent:          100.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TrendWindowDays <= 0 {
		c.TrendWindowDays = d.TrendWindowDays
	}
	if c.TrendWindowDays > maxTrendWindowDays {
		c.TrendWindowDays = maxTrendWindowDays
	}
	if c.TrendThresholdPercent <= 0 {
		c.TrendThresholdPercent = d.TrendThresholdPercent
	}
	if c.FluctuationMinSignChanges <= 0 {
		c.FluctuationMinSignChanges = d.FluctuationMinSignChanges
	}
	if c.FluctuationRangePercent <= 0 {
		c.FluctuationRangePercent = d.FluctuationRangePercent
	}
	if c.ConfidenceTargetSamples <= 0 {
		c.ConfidenceTargetSamples = d.ConfidenceTargetSamples
	}
	if c.MildMaxPercent <= 0 {
		c.MildMaxPercent = d.MildMaxPercent
	}
	if c.ModerateMaxPercent <= c.MildMaxPercent {
		c.ModerateMaxPercent = d.ModerateMaxPercent
	}
	if c.SevereMaxPercent <= c.ModerateMaxPercent {
		c.SevereMaxPercent = d.SevereMaxPercent
	}
	return c
}
