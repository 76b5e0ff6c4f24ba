// Package model provides the statistical model sampled by the chains:
// a compound log density built from components, with per-component
// caching following the store/restore protocol of the state.
package model

import (
	"fmt"
	"math"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/pmcmc/state"
)

// log is the global logging variable.
var log = logging.MustGetLogger("model")

// Density is a log density of the chain state.
type Density interface {
	// LogDensity returns the log density. Cached values are
	// used for the parts which did not change.
	LogDensity() (float64, error)
	// RobustLogDensity recomputes the log density from scratch.
	RobustLogDensity() (float64, error)
	// IsStochastic is true if some of the components are
	// stochastic.
	IsStochastic() bool
	// NonStochasticLogDensity returns the cached log density of
	// the non-stochastic components.
	NonStochasticLogDensity() float64
	// RobustNonStochasticLogDensity recomputes the log density
	// of the non-stochastic components.
	RobustNonStochasticLogDensity() (float64, error)
}

// Component is a term of the log density.
type Component interface {
	// Name identifies the component.
	Name() string
	// Nodes are all the nodes the value depends on.
	Nodes() []*state.Node
	// LogP computes the log density value from scratch.
	LogP() (float64, error)
	// Stochastic components are recomputed every time.
	Stochastic() bool
}

// Compound is a sum of components. It implements Density and
// state.CalcNode.
type Compound struct {
	comps []Component

	cached      []float64
	valid       []bool
	stored      []float64
	storedValid []bool
}

// NewCompound creates a new compound density.
func NewCompound(comps ...Component) *Compound {
	n := len(comps)
	return &Compound{
		comps:       comps,
		cached:      make([]float64, n),
		valid:       make([]bool, n),
		stored:      make([]float64, n),
		storedValid: make([]bool, n),
	}
}

// Components returns all the components.
func (c *Compound) Components() []Component {
	return c.comps
}

// dirty checks whether any of the component nodes changed.
func dirty(comp Component) bool {
	for _, n := range comp.Nodes() {
		if n.Dirty() {
			return true
		}
	}
	return false
}

// LogDensity computes the sum, recomputing only dirty, invalid and
// stochastic components.
func (c *Compound) LogDensity() (float64, error) {
	sum := 0.0
	for i, comp := range c.comps {
		if !c.valid[i] || comp.Stochastic() || dirty(comp) {
			v, err := comp.LogP()
			if err != nil {
				return math.NaN(), fmt.Errorf("%s: %w", comp.Name(), err)
			}
			c.cached[i] = v
			c.valid[i] = true
		}
		sum += c.cached[i]
	}
	return sum, nil
}

// robust sums fresh component values.
func (c *Compound) robust(stochastic bool) (float64, error) {
	sum := 0.0
	for _, comp := range c.comps {
		if !stochastic && comp.Stochastic() {
			continue
		}
		v, err := comp.LogP()
		if err != nil {
			return math.NaN(), fmt.Errorf("%s: %w", comp.Name(), err)
		}
		sum += v
	}
	return sum, nil
}

// RobustLogDensity recomputes all the components without touching
// the cache.
func (c *Compound) RobustLogDensity() (float64, error) {
	return c.robust(true)
}

// IsStochastic checks whether there are stochastic components.
func (c *Compound) IsStochastic() bool {
	for _, comp := range c.comps {
		if comp.Stochastic() {
			return true
		}
	}
	return false
}

// NonStochasticLogDensity returns sum of the cached non-stochastic
// components.
func (c *Compound) NonStochasticLogDensity() float64 {
	sum := 0.0
	for i, comp := range c.comps {
		if !comp.Stochastic() {
			sum += c.cached[i]
		}
	}
	return sum
}

// RobustNonStochasticLogDensity recomputes non-stochastic components.
func (c *Compound) RobustNonStochasticLogDensity() (float64, error) {
	return c.robust(false)
}

// StoreCalc saves the cache.
func (c *Compound) StoreCalc() {
	copy(c.stored, c.cached)
	copy(c.storedValid, c.valid)
}

// RestoreCalc restores the cache.
func (c *Compound) RestoreCalc() {
	copy(c.cached, c.stored)
	copy(c.valid, c.storedValid)
}

// AcceptCalc keeps the current cache.
func (c *Compound) AcceptCalc() {
}

// CheckDirtiness invalidates components depending on dirty nodes.
func (c *Compound) CheckDirtiness() {
	for i, comp := range c.comps {
		if dirty(comp) {
			c.valid[i] = false
		}
	}
}

// Invalidate drops all the cached values.
func (c *Compound) Invalidate() {
	for i := range c.valid {
		c.valid[i] = false
	}
	log.Debug("cache invalidated")
}
