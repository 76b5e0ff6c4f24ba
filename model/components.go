package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/gonum/mathext"
	"github.com/gonum/matrix/mat64"
	"gonum.org/v1/gonum/stat/distuv"

	"bitbucket.org/Davydov/pmcmc/state"
)

// base stores component name and nodes.
type base struct {
	name  string
	nodes []*state.Node
}

// Name returns the component name.
func (b *base) Name() string {
	return b.name
}

// Nodes returns the component nodes.
func (b *base) Nodes() []*state.Node {
	return b.nodes
}

// Stochastic returns false.
func (b *base) Stochastic() bool {
	return false
}

// Normal is an independent normal density for all the node values.
type Normal struct {
	base
	dist distuv.Normal
}

// NewNormal creates a new normal component.
func NewNormal(name string, node *state.Node, mu, sigma float64) *Normal {
	if sigma <= 0 {
		panic("sigma should be > 0")
	}
	return &Normal{
		base: base{name, []*state.Node{node}},
		dist: distuv.Normal{Mu: mu, Sigma: sigma},
	}
}

// LogP computes the log density.
func (n *Normal) LogP() (float64, error) {
	sum := 0.0
	for _, x := range n.nodes[0].Values {
		sum += n.dist.LogProb(x)
	}
	return sum, nil
}

// Gamma is an independent gamma density parametrized by shape and
// rate.
type Gamma struct {
	base
	dist distuv.Gamma
}

// NewGamma creates a new gamma component.
func NewGamma(name string, node *state.Node, shape, rate float64) *Gamma {
	if shape <= 0 || rate <= 0 {
		panic("shape and rate of gamma distribution must be > 0")
	}
	return &Gamma{
		base: base{name, []*state.Node{node}},
		dist: distuv.Gamma{Alpha: shape, Beta: rate},
	}
}

// LogP computes the log density.
func (g *Gamma) LogP() (float64, error) {
	sum := 0.0
	for _, x := range g.nodes[0].Values {
		if x <= 0 {
			return math.Inf(-1), nil
		}
		sum += g.dist.LogProb(x)
	}
	return sum, nil
}

// Beta is an independent beta density.
type Beta struct {
	base
	alpha, beta float64
	lbeta       float64
}

// NewBeta creates a new beta component.
func NewBeta(name string, node *state.Node, alpha, beta float64) *Beta {
	if alpha <= 0 || beta <= 0 {
		panic("alpha and beta must be > 0")
	}
	return &Beta{
		base:  base{name, []*state.Node{node}},
		alpha: alpha,
		beta:  beta,
		lbeta: mathext.Lbeta(alpha, beta),
	}
}

// LogP computes the log density.
func (b *Beta) LogP() (float64, error) {
	sum := 0.0
	for _, x := range b.nodes[0].Values {
		if x <= 0 || x >= 1 {
			return math.Inf(-1), nil
		}
		sum += (b.alpha-1)*math.Log(x) + (b.beta-1)*math.Log1p(-x) - b.lbeta
	}
	return sum, nil
}

// MVNormal is a multivariate normal density of concatenated node
// values given by a mean and a precision matrix.
type MVNormal struct {
	base
	mean      []float64
	precision *mat64.SymDense
	norm      float64
	// buffer
	x []float64
}

// NewMVNormal creates a multivariate normal component. precision is
// a row-major k*k symmetric positive definite matrix.
func NewMVNormal(name string, nodes []*state.Node, mean, precision []float64) (*MVNormal, error) {
	k := 0
	for _, n := range nodes {
		k += n.Dim()
	}
	if len(mean) != k {
		return nil, fmt.Errorf("%s: mean dimension %d != %d", name, len(mean), k)
	}
	if len(precision) != k*k {
		return nil, fmt.Errorf("%s: precision should have %d elements", name, k*k)
	}
	p := mat64.NewSymDense(k, append([]float64(nil), precision...))
	var chol mat64.Cholesky
	if ok := chol.Factorize(p); !ok {
		return nil, errors.New(name + ": precision matrix is not positive definite")
	}
	return &MVNormal{
		base:      base{name, nodes},
		mean:      append([]float64(nil), mean...),
		precision: p,
		norm:      0.5*chol.LogDet() - float64(k)/2*math.Log(2*math.Pi),
		x:         make([]float64, k),
	}, nil
}

// LogP computes the log density.
func (m *MVNormal) LogP() (float64, error) {
	i := 0
	for _, n := range m.nodes {
		for _, v := range n.Values {
			m.x[i] = v - m.mean[i]
			i++
		}
	}
	x := mat64.NewVector(len(m.x), m.x)
	return m.norm - 0.5*mat64.Inner(x, m.precision, x), nil
}

// Func is a component computed by a user function.
type Func struct {
	base
	f          func() (float64, error)
	stochastic bool
}

// NewFunc creates a new function component.
func NewFunc(name string, nodes []*state.Node, f func() (float64, error), stochastic bool) *Func {
	return &Func{
		base:       base{name, nodes},
		f:          f,
		stochastic: stochastic,
	}
}

// LogP calls the function.
func (f *Func) LogP() (float64, error) {
	return f.f()
}

// Stochastic returns true for stochastic functions.
func (f *Func) Stochastic() bool {
	return f.stochastic
}
