// Package optimize finds the maximum a posteriori state used as a
// chain starting point.
package optimize

import (
	"context"
	"errors"
	"math"

	lbfgsb "github.com/idavydov/go-lbfgsb"
	"github.com/op/go-logging"

	"bitbucket.org/Davydov/pmcmc/model"
	"bitbucket.org/Davydov/pmcmc/state"
)

// log is the global logging variable.
var log = logging.MustGetLogger("optimize")

// ErrNotFinite is returned when no point with a finite density was
// found.
var ErrNotFinite = errors.New("no finite density found")

// LBFGSB maximizes the posterior density using L-BFGS-B with a
// numerical gradient.
type LBFGSB struct {
	st      *state.State
	density model.Density
	ctx     context.Context

	dH    float64
	grad  []float64
	x     []float64
	calls int // density calls
	iter  int
	err   error

	maxL    float64
	maxLPar []float64

	// ReportPeriod controls how often the progress is logged.
	ReportPeriod int
}

// NewLBFGSB creates a new optimizer for the state.
func NewLBFGSB(st *state.State, density model.Density) (l *LBFGSB) {
	l = &LBFGSB{
		st:           st,
		density:      density,
		dH:           1e-6,
		ReportPeriod: 10,
	}
	return
}

// Calls returns the number of the density evaluations.
func (l *LBFGSB) Calls() int {
	return l.calls
}

func (l *LBFGSB) inBounds(x []float64) bool {
	i := 0
	for _, n := range l.st.Nodes() {
		for range n.Values {
			if !n.ValueInBounds(x[i]) {
				return false
			}
			i++
		}
	}
	return true
}

// Logger reports the optimization progress.
func (l *LBFGSB) Logger(info *lbfgsb.OptimizationIterationInformation) {
	l.iter = info.Iteration
	if l.ReportPeriod > 0 && l.iter%l.ReportPeriod == 0 {
		log.Infof("%d: logP=%f (%d calls)", l.iter, -info.F, l.calls)
	}
}

func (l *LBFGSB) eval(x []float64) float64 {
	if l.ctx != nil && l.ctx.Err() != nil {
		// line search fails and the optimizer stops
		return math.Inf(+1)
	}
	if !l.inBounds(x) {
		return math.Inf(+1)
	}
	if err := l.st.SetValues(x); err != nil {
		l.err = err
		return math.Inf(+1)
	}
	L, err := l.density.RobustLogDensity()
	l.calls++
	if err != nil {
		if l.err == nil {
			l.err = err
		}
		return math.Inf(+1)
	}
	if L > l.maxL {
		l.maxL = L
		l.maxLPar = append(l.maxLPar[:0], x...)
	}
	return -L
}

// EvaluateFunction returns the negative log density at x.
func (l *LBFGSB) EvaluateFunction(x []float64) float64 {
	return l.eval(x)
}

// EvaluateGradient computes the gradient using central differences.
func (l *LBFGSB) EvaluateGradient(x []float64) (grad []float64) {
	if l.grad == nil {
		l.grad = make([]float64, len(x))
	}
	grad = l.grad
	l.x = append(l.x[:0], x...)
	for i, v := range x {
		l.x[i] = v - l.dH
		l1 := l.eval(l.x)
		l.x[i] = v + l.dH
		l2 := l.eval(l.x)
		l.x[i] = v
		grad[i] = (l2 - l1) / 2 / l.dH
	}
	return
}

// Run maximizes the density and leaves the state at the best point
// found. It returns the maximum log density.
func (l *LBFGSB) Run(ctx context.Context) (float64, error) {
	l.ctx = ctx
	l.maxL = math.Inf(-1)
	l.err = nil

	x0 := l.st.Values(nil)
	bounds := make([][2]float64, 0, len(x0))
	for _, n := range l.st.Nodes() {
		for range n.Values {
			bounds = append(bounds, [2]float64{n.Lower + 1e-5, n.Upper - 1e-5})
		}
	}

	// start point counts even if the optimizer never improves it
	l.eval(x0)

	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(1e-9)
	opt.SetGTolerance(1e-9)

	opt.SetBounds(bounds)
	opt.SetLogger(l.Logger)

	_, exitStatus := opt.Minimize(l, x0)
	log.Debugf("Exit status: %v", exitStatus)

	if ctx != nil && ctx.Err() != nil {
		return l.finish(ctx.Err())
	}
	if math.IsInf(l.maxL, -1) {
		if l.err != nil {
			return l.finish(l.err)
		}
		return l.finish(ErrNotFinite)
	}
	log.Noticef("Maximum log posterior: %v (%d calls)", l.maxL, l.calls)
	return l.finish(nil)
}

func (l *LBFGSB) finish(err error) (float64, error) {
	if l.maxLPar != nil {
		if serr := l.st.SetValues(l.maxLPar); serr != nil && err == nil {
			err = serr
		}
	}
	l.st.SetEverythingDirty(true)
	return l.maxL, err
}

// MaximizePosterior moves the state to the maximum a posteriori point.
func MaximizePosterior(ctx context.Context, st *state.State, density model.Density) (float64, error) {
	return NewLBFGSB(st, density).Run(ctx)
}
