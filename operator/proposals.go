package operator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"bitbucket.org/Davydov/pmcmc/state"
)

// RandomWalk adds a normally distributed value to a randomly chosen
// node value.
type RandomWalk struct {
	Base
	tuner
	size float64
}

// NewRandomWalk creates a new random walk operator. Size is the
// initial standard deviation.
func NewRandomWalk(name string, weight float64, nodes []*state.Node, size, target float64) *RandomWalk {
	if size <= 0 {
		panic("size should be > 0")
	}
	return &RandomWalk{
		Base:  NewBase(name, weight, nodes),
		tuner: tuner{target: target},
		size:  size,
	}
}

// Propose performs a symmetric proposal. Values outside of the node
// bounds fail.
func (r *RandomWalk) Propose(_ *state.State, rng *rand.Rand) (float64, error) {
	n, i := r.pickValue(rng)
	v := n.Get(i) + rng.NormFloat64()*r.size
	if !n.ValueInBounds(v) {
		return Failed(), nil
	}
	n.Set(i, v)
	return 0, nil
}

// Tune adapts the step size.
func (r *RandomWalk) Tune(logAlpha float64) {
	r.size = math.Exp(math.Log(r.size) + r.delta(logAlpha))
}

// Size returns the current step size.
func (r *RandomWalk) Size() float64 {
	return r.size
}

// Scale multiplies a randomly chosen node value by a factor between
// s and 1/s.
type Scale struct {
	Base
	tuner
	factor float64
}

// NewScale creates a new scale operator, factor should be in (0, 1).
func NewScale(name string, weight float64, nodes []*state.Node, factor, target float64) *Scale {
	if factor <= 0 || factor >= 1 {
		panic("scale factor should be in (0, 1)")
	}
	return &Scale{
		Base:   NewBase(name, weight, nodes),
		tuner:  tuner{target: target},
		factor: factor,
	}
}

// Propose scales a value. The Hastings ratio is 1/f.
func (s *Scale) Propose(_ *state.State, rng *rand.Rand) (float64, error) {
	n, i := s.pickValue(rng)
	f := s.factor + rng.Float64()*(1/s.factor-s.factor)
	v := n.Get(i) * f
	if !n.ValueInBounds(v) {
		return Failed(), nil
	}
	n.Set(i, v)
	return -math.Log(f), nil
}

// Tune adapts the scale factor.
func (s *Scale) Tune(logAlpha float64) {
	d := s.delta(logAlpha)
	s.factor = 1 / (math.Exp(d+math.Log(1/s.factor-1)) + 1)
}

// Factor returns the current scale factor.
func (s *Scale) Factor() float64 {
	return s.factor
}

// Uniform draws a new value uniformly between the node bounds.
type Uniform struct {
	Base
}

// NewUniform creates a new uniform operator. All nodes should have
// finite bounds.
func NewUniform(name string, weight float64, nodes []*state.Node) (*Uniform, error) {
	for _, n := range nodes {
		if math.IsInf(n.Lower, 0) || math.IsInf(n.Upper, 0) {
			return nil, fmt.Errorf("uniform operator %s: node %s has infinite bounds", name, n.ID)
		}
	}
	if len(nodes) == 0 {
		return nil, errors.New("uniform operator without nodes")
	}
	return &Uniform{Base: NewBase(name, weight, nodes)}, nil
}

// Propose draws a new value.
func (u *Uniform) Propose(_ *state.State, rng *rand.Rand) (float64, error) {
	n, i := u.pickValue(rng)
	n.Set(i, n.Lower+rng.Float64()*(n.Upper-n.Lower))
	return 0, nil
}
