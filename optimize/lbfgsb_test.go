package optimize

import (
	"context"
	"math"
	"testing"

	"bitbucket.org/Davydov/pmcmc/model"
	"bitbucket.org/Davydov/pmcmc/state"
)

func TestGradient(tst *testing.T) {
	x := state.NewScalar("x", 0)
	st, _ := state.New(x)
	d := model.NewCompound(model.NewNormal("x", x, 0, 1))
	l := NewLBFGSB(st, d)
	l.maxL = math.Inf(-1)
	g := l.EvaluateGradient([]float64{1.5})
	if math.Abs(g[0]-1.5) > 1e-4 {
		tst.Errorf("Wrong gradient: %v", g[0])
	}
	if f := l.EvaluateFunction([]float64{1}); math.Abs(f-(0.5+0.5*math.Log(2*math.Pi))) > 1e-9 {
		tst.Errorf("Wrong objective: %v", f)
	}
}

func TestOutOfBounds(tst *testing.T) {
	x := state.NewNode("x", []float64{1}, 0, 10)
	st, _ := state.New(x)
	d := model.NewCompound(model.NewGamma("x", x, 2, 1))
	l := NewLBFGSB(st, d)
	l.maxL = math.Inf(-1)
	if f := l.EvaluateFunction([]float64{-1}); !math.IsInf(f, 1) {
		tst.Errorf("Expected +Inf outside of bounds, got %v", f)
	}
	if l.Calls() != 0 {
		tst.Error("Density should not be computed outside of bounds")
	}
}

func TestRun(tst *testing.T) {
	x := state.NewScalar("x", 2)
	y := state.NewNode("y", []float64{3}, 0, 100)
	st, _ := state.New(x, y)
	d := model.NewCompound(
		model.NewNormal("x", x, -1, 1),
		model.NewGamma("y", y, 3, 1),
	)
	maxL, err := NewLBFGSB(st, d).Run(context.Background())
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if math.Abs(x.Get(0)+1) > 1e-3 {
		tst.Errorf("Wrong x: %v", x.Get(0))
	}
	// mode of gamma is (shape-1)/rate
	if math.Abs(y.Get(0)-2) > 1e-3 {
		tst.Errorf("Wrong y: %v", y.Get(0))
	}
	L, _ := d.RobustLogDensity()
	if math.Abs(L-maxL) > 1e-9 {
		tst.Errorf("State does not match the maximum: %v != %v", L, maxL)
	}
}
