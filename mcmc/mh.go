package mcmc

import (
	"fmt"
	"math"
	"math/rand"

	"bitbucket.org/Davydov/pmcmc/model"
	"bitbucket.org/Davydov/pmcmc/operator"
	"bitbucket.org/Davydov/pmcmc/schedule"
	"bitbucket.org/Davydov/pmcmc/state"
)

// stepper performs Metropolis-Hastings steps. It is shared by the
// main chain and the nested chains.
type stepper struct {
	st      *state.State
	density model.Density
	sch     *schedule.Schedule
	rng     *rand.Rand

	// logP is the current log posterior.
	logP float64
	// logAlpha is the log acceptance ratio of the last step.
	logAlpha float64
}

// initialize computes the posterior from scratch.
func (s *stepper) initialize() error {
	if inv, ok := s.density.(invalidator); ok {
		inv.Invalidate()
	}
	s.st.SetEverythingDirty(true)
	s.st.CheckCalculationNodesDirtiness()
	logP, err := s.density.LogDensity()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDensity, err)
	}
	s.st.SetEverythingDirty(false)
	s.logP = logP
	return nil
}

// propagate makes a proposal at sampleNr and either accepts or
// rejects it. Operator statistics are only collected for
// non-negative sample numbers.
func (s *stepper) propagate(sampleNr int64) (operator.Operator, error) {
	s.st.Store(sampleNr)
	s.st.StoreCalculationNodes()

	op, err := s.sch.Select(sampleNr, s.rng)
	if err != nil {
		return nil, err
	}

	logHR, err := op.Propose(s.st, s.rng)
	if err != nil {
		return op, fmt.Errorf("operator %s: %w", op.Name(), err)
	}

	reinit := operator.NeedsReinitialization(op)

	if operator.IsFailed(logHR) {
		s.logAlpha = math.Inf(-1)
		if sampleNr >= 0 {
			op.Reject(operator.RejectFailed)
		}
		s.st.Restore()
		if !reinit {
			s.st.SetEverythingDirty(false)
			s.st.RestoreCalculationNodes()
		}
		return op, nil
	}

	if reinit {
		s.st.SetEverythingDirty(true)
	}
	s.st.CheckCalculationNodesDirtiness()

	newLogP, err := s.density.LogDensity()
	if err != nil {
		return op, fmt.Errorf("%w: after %s: %s", ErrDensity, op.Name(), err)
	}

	// a Gibbs move into a zero density gives NaN and is rejected
	s.logAlpha = newLogP - s.logP + logHR
	if math.IsNaN(s.logAlpha) {
		s.logAlpha = math.Inf(-1)
	}

	if s.logAlpha >= 0 || s.rng.Float64() < math.Exp(s.logAlpha) {
		s.logP = newLogP
		s.st.Accept()
		s.st.AcceptCalculationNodes()
		if sampleNr >= 0 {
			op.Accept()
		}
	} else {
		if sampleNr >= 0 {
			if math.IsInf(newLogP, -1) {
				op.Reject(operator.RejectNegInf)
			} else {
				op.Reject(operator.RejectOrdinary)
			}
		}
		s.st.Restore()
		s.st.RestoreCalculationNodes()
	}
	s.st.SetEverythingDirty(false)
	return op, nil
}

// tune passes the last acceptance ratio to a tunable operator.
func (s *stepper) tune(op operator.Operator) {
	if t, ok := op.(operator.Tunable); ok {
		t.Tune(s.logAlpha)
	}
}

// invalidator is implemented by densities with a cache which can be
// dropped.
type invalidator interface {
	Invalidate()
}

// validateOperators checks that every operator works on the nodes of
// st.
func validateOperators(st *state.State, ops []operator.Operator) error {
	used := make(map[*state.Node]bool)
	for _, op := range ops {
		nodes := op.StateNodes()
		if len(nodes) == 0 {
			return fmt.Errorf("operator %s has no state nodes", op.Name())
		}
		for _, n := range nodes {
			if !st.Contains(n) {
				return fmt.Errorf("operator %s: %w: %s", op.Name(), state.ErrNotInState, n.ID)
			}
			used[n] = true
		}
	}
	for _, n := range st.Nodes() {
		if !used[n] {
			log.Warningf("State contains node %s without an operator", n.ID)
		}
	}
	return nil
}

// floorDiv is integer division rounding towards negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// crosses checks whether any multiple of every lies in (from, to].
func crosses(from, to, every int64) bool {
	return floorDiv(to, every) > floorDiv(from, every)
}
