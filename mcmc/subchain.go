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

// SubChain is a nested chain working on a partition of the state. It
// has no burn-in, no logging, no checkpoints and no consistency
// checks. Sample numbers continue between runs.
type SubChain struct {
	name    string
	part    *state.Partition
	density model.Density
	ops     []operator.Operator
	sch     *schedule.Schedule
	rng     *rand.Rand

	sampleNr int64
	logP     float64
}

// NewSubChain creates a nested chain. Every operator must work on
// the nodes of the partition. If density is a calculation node it is
// registered with the partition.
func NewSubChain(name string, part *state.Partition, density model.Density, ops []operator.Operator, rng *rand.Rand) (*SubChain, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("%s: at least one operator is required", name)
	}
	inside := make(map[*state.Node]bool)
	for _, n := range part.Nodes() {
		inside[n] = true
	}
	used := make(map[*state.Node]bool)
	for _, op := range ops {
		if len(op.StateNodes()) == 0 {
			return nil, fmt.Errorf("%s: operator %s has no state nodes", name, op.Name())
		}
		for _, n := range op.StateNodes() {
			if !inside[n] {
				return nil, fmt.Errorf("%s: operator %s: %w: %s", name, op.Name(), state.ErrNotInState, n.ID)
			}
			used[n] = true
		}
	}
	for _, n := range part.Nodes() {
		if !used[n] {
			log.Warningf("%s: node %s has no operator", name, n.ID)
		}
	}
	sch, err := schedule.New(ops, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if c, ok := density.(state.CalcNode); ok {
		part.AddCalcNode(c)
	}
	return &SubChain{
		name:    name,
		part:    part,
		density: density,
		ops:     ops,
		sch:     sch,
		rng:     rng,
	}, nil
}

// Name returns the chain name.
func (sc *SubChain) Name() string {
	return sc.name
}

// Nodes returns the partition nodes.
func (sc *SubChain) Nodes() []*state.Node {
	return sc.part.Nodes()
}

// Density returns the nested chain density.
func (sc *SubChain) Density() model.Density {
	return sc.density
}

// Operators returns the nested chain operators.
func (sc *SubChain) Operators() []operator.Operator {
	return sc.ops
}

// SampleNr returns the number of samples made by all the runs.
func (sc *SubChain) SampleNr() int64 {
	return sc.sampleNr
}

// LogPosterior returns the log posterior after the last run.
func (sc *SubChain) LogPosterior() float64 {
	return sc.logP
}

// Run makes length samples. The partition is owned by the chain for
// the duration of the call.
func (sc *SubChain) Run(length int64) error {
	return sc.part.With(func(local *state.State) error {
		s := stepper{
			st:      local,
			density: sc.density,
			sch:     sc.sch,
			rng:     sc.rng,
		}
		if err := s.initialize(); err != nil {
			return fmt.Errorf("%s: %w", sc.name, err)
		}
		end := sc.sampleNr + length
		for sc.sampleNr < end {
			op, err := s.propagate(sc.sampleNr)
			if err != nil {
				s.st.Restore()
				return fmt.Errorf("%s at sample %d: %w", sc.name, sc.sampleNr, err)
			}
			s.tune(op)
			if math.IsInf(s.logP, 1) {
				return fmt.Errorf("%s at sample %d: %w", sc.name, sc.sampleNr, ErrPositiveInfinity)
			}
			sc.sampleNr += int64(operator.Steps(op))
		}
		sc.logP = s.logP
		return nil
	})
}
