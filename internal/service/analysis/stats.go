package analysis

import "math"

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// coefficientOfVariation returns stddev relative to the mean magnitude.
// A zero mean yields 0 so that confidence falls back to sample count alone.
func coefficientOfVariation(values []float64) float64 {
	m := mean(values)
	if m == 0 {
		return 0
	}
	return stdDev(values) / math.Abs(m)
}

// signChanges counts direction reversals in the first differences of the
// series. Zero differences carry the previous direction forward.
func signChanges(values []float64) int {
	changes := 0
	prev := 0
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		cur := 0
		switch {
		case d > 0:
			cur = 1
		case d < 0:
			cur = -1
		default:
			continue
		}
		if prev != 0 && cur != prev {
			changes++
		}
		prev = cur
	}
	return changes
}

func valueRange(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
