package model

import (
	"errors"
	"math"
	"testing"

	"bitbucket.org/Davydov/pmcmc/state"
)

const smallDiff = 1e-9

func TestNormal(tst *testing.T) {
	x := state.NewNode("x", []float64{0, 1}, math.Inf(-1), math.Inf(1))
	c := NewNormal("prior", x, 0, 1)
	v, _ := c.LogP()
	exp := -math.Log(2*math.Pi) - 0.5
	if math.Abs(v-exp) > smallDiff {
		tst.Errorf("Wrong normal log density: %v != %v", v, exp)
	}
}

func TestGammaBeta(tst *testing.T) {
	x := state.NewScalar("x", 1)
	g := NewGamma("g", x, 1, 2)
	v, _ := g.LogP()
	// exponential with rate 2 at 1
	if exp := math.Log(2) - 2; math.Abs(v-exp) > smallDiff {
		tst.Errorf("Wrong gamma log density: %v != %v", v, exp)
	}
	x.Set(0, -1)
	if v, _ := g.LogP(); !math.IsInf(v, -1) {
		tst.Error("Expected -Inf for negative value, got", v)
	}

	p := state.NewNode("p", []float64{0.5}, 0, 1)
	b := NewBeta("b", p, 2, 2)
	v, _ = b.LogP()
	// 6 x (1-x) at 0.5
	if exp := math.Log(1.5); math.Abs(v-exp) > smallDiff {
		tst.Errorf("Wrong beta log density: %v != %v", v, exp)
	}
}

func TestMVNormal(tst *testing.T) {
	a := state.NewScalar("a", 1)
	b := state.NewScalar("b", -1)
	mv, err := NewMVNormal("mv", []*state.Node{a, b}, []float64{0, 0}, []float64{1, 0, 0, 1})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	na := NewNormal("a", a, 0, 1)
	nb := NewNormal("b", b, 0, 1)
	v, _ := mv.LogP()
	va, _ := na.LogP()
	vb, _ := nb.LogP()
	if math.Abs(v-va-vb) > smallDiff {
		tst.Errorf("Identity precision should match independent normals: %v != %v", v, va+vb)
	}
	if _, err := NewMVNormal("bad", []*state.Node{a, b}, []float64{0, 0}, []float64{1, 2, 2, 1}); err == nil {
		tst.Error("Expected error for indefinite matrix")
	}
	if _, err := NewMVNormal("bad", []*state.Node{a, b}, []float64{0}, []float64{1, 0, 0, 1}); err == nil {
		tst.Error("Expected error for wrong mean dimension")
	}
}

func TestCompoundCache(tst *testing.T) {
	x := state.NewScalar("x", 0)
	y := state.NewScalar("y", 0)
	s, err := state.New(x, y)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	calls := map[string]int{}
	counted := func(name string, n *state.Node) Component {
		return NewFunc(name, []*state.Node{n}, func() (float64, error) {
			calls[name]++
			return -n.Get(0) * n.Get(0) / 2, nil
		}, false)
	}
	c := NewCompound(counted("x", x), counted("y", y))
	s.AddCalcNode(c)

	if _, err := c.LogDensity(); err != nil {
		tst.Fatal("Error: ", err)
	}
	s.SetEverythingDirty(false)

	// change x and reject
	s.Store(1)
	s.StoreCalculationNodes()
	x.Set(0, 2)
	s.CheckCalculationNodesDirtiness()
	v, _ := c.LogDensity()
	if v != -2 {
		tst.Errorf("Wrong density after proposal: %v", v)
	}
	if calls["x"] != 2 || calls["y"] != 1 {
		tst.Errorf("Only x should be recomputed: %v", calls)
	}
	s.Restore()
	s.RestoreCalculationNodes()
	s.SetEverythingDirty(false)
	v, _ = c.LogDensity()
	if v != 0 || calls["x"] != 2 {
		tst.Errorf("Restored cache should be used: %v %v", v, calls)
	}

	// robust path does not touch the cache
	r, _ := c.RobustLogDensity()
	if r != v || calls["x"] != 3 {
		tst.Errorf("Robust density mismatch: %v %v", r, calls)
	}
}

func TestCompoundStochastic(tst *testing.T) {
	x := state.NewScalar("x", 0)
	noise := 0.0
	c := NewCompound(
		NewNormal("n", x, 0, 1),
		NewFunc("noise", nil, func() (float64, error) {
			noise++
			return noise, nil
		}, true),
	)
	if !c.IsStochastic() {
		tst.Fatal("Compound should be stochastic")
	}
	v1, _ := c.LogDensity()
	v2, _ := c.LogDensity()
	if v1 == v2 {
		tst.Error("Stochastic component should be recomputed")
	}
	ns, _ := c.RobustNonStochasticLogDensity()
	if math.Abs(ns-c.NonStochasticLogDensity()) > smallDiff {
		tst.Errorf("Non stochastic density mismatch: %v != %v", ns, c.NonStochasticLogDensity())
	}
}

func TestCompoundError(tst *testing.T) {
	errBroken := errors.New("broken")
	c := NewCompound(NewFunc("broken", nil, func() (float64, error) {
		return 0, errBroken
	}, false))
	if _, err := c.LogDensity(); !errors.Is(err, errBroken) {
		tst.Error("Expected wrapped error, got", err)
	}
}
