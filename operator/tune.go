package operator

import "math"

// DefaultTarget is the default target acceptance probability.
const DefaultTarget = 0.234

// tuner implements stochastic approximation of the acceptance
// probability. Every call moves a log scale proportionally to the
// difference between the observed and the target acceptance
// probability with a decreasing step.
type tuner struct {
	target float64
	count  int
	// disabled turns tuning off
	disabled bool
}

// delta returns the change of the log scale.
func (t *tuner) delta(logAlpha float64) float64 {
	if t.disabled {
		return 0
	}
	t.count++
	d := (math.Exp(math.Min(logAlpha, 0)) - t.target) / float64(t.count)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return d
}

// Target returns target acceptance probability.
func (t *tuner) Target() float64 {
	return t.target
}
