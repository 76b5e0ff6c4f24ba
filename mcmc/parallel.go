package mcmc

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"bitbucket.org/Davydov/pmcmc/model"
	"bitbucket.org/Davydov/pmcmc/operator"
	"bitbucket.org/Davydov/pmcmc/state"
)

// ParallelOperator runs nested chains on disjoint parts of the state
// and combines them in a single Gibbs move. One proposal counts for
// one step per nested chain.
type ParallelOperator struct {
	operator.Base
	chains []*SubChain
	// length is the total number of nested samples per proposal
	length  int64
	threads int
	pool    operator.Executor
	learner *Learner

	consumed int
	// learnBurnin is the learning window size
	learnBurnin int
}

// NewParallelOperator creates a new operator. length nested samples
// are split evenly between the chains, so it has to be a multiple of
// the number of chains. threads limits the number of
// chains running at the same time, and learnBurnin is the number of
// invocations used to learn the execution mode.
func NewParallelOperator(name string, weight float64, chains []*SubChain, length int64, threads, learnBurnin int) (*ParallelOperator, error) {
	if len(chains) == 0 {
		return nil, errors.New(name + ": at least one nested chain is required")
	}
	if length < int64(len(chains)) {
		return nil, fmt.Errorf("%s: chain length %d is smaller than the number of chains", name, length)
	}
	owner := make(map[*state.Node]int)
	var nodes []*state.Node
	for i, c := range chains {
		for _, n := range c.Nodes() {
			if j, ok := owner[n]; ok {
				return nil, fmt.Errorf("%s: %w: %s in %s and %s", name, state.ErrOverlap, n.ID, chains[j].Name(), c.Name())
			}
			owner[n] = i
		}
		nodes = append(nodes, c.Nodes()...)
	}
	// nested densities can read shared nodes, but not the nodes
	// changed by the other chains
	for i, c := range chains {
		cmp, ok := c.Density().(*model.Compound)
		if !ok {
			continue
		}
		for _, comp := range cmp.Components() {
			for _, n := range comp.Nodes() {
				if j, ok := owner[n]; ok && j != i {
					return nil, fmt.Errorf("%s: component %s of %s depends on node %s of %s",
						name, comp.Name(), c.Name(), n.ID, chains[j].Name())
				}
			}
		}
	}
	if length%int64(len(chains)) != 0 {
		return nil, fmt.Errorf("%s: chain length %d is not a multiple of the number of chains %d", name, length, len(chains))
	}
	if threads < 1 {
		threads = 1
	}
	if threads > len(chains) {
		threads = len(chains)
	}
	return &ParallelOperator{
		Base:        operator.NewBase(name, weight, nodes),
		chains:      chains,
		length:      length,
		threads:     threads,
		learnBurnin: learnBurnin,
	}, nil
}

// SetPool sets the worker pool. The number of threads is limited by
// the pool size, and with more than one thread the execution mode is
// learned.
func (p *ParallelOperator) SetPool(pool operator.Executor) {
	p.pool = pool
	if pool.Size() < p.threads {
		p.threads = pool.Size()
	}
	if p.threads > 1 {
		p.learner = NewLearner(p.Name(), p.learnBurnin, float64(p.length))
	} else {
		p.learner = nil
	}
	log.Infof("%s: %d nested chains, %d threads", p.Name(), len(p.chains), p.threads)
}

// Threads returns the maximum number of chains running at the same
// time.
func (p *ParallelOperator) Threads() int {
	return p.threads
}

// Learner returns the execution mode learner, or nil if the chains
// always run serially.
func (p *ParallelOperator) Learner() *Learner {
	return p.learner
}

// Chains returns the nested chains.
func (p *ParallelOperator) Chains() []*SubChain {
	return p.chains
}

// StepCount returns the number of nested chains.
func (p *ParallelOperator) StepCount() int {
	return len(p.chains)
}

// StepsConsumed returns the steps consumed by the last proposal.
func (p *ParallelOperator) StepsConsumed() int {
	return p.consumed
}

// NeedsReinitialization returns true: every node may be changed.
func (p *ParallelOperator) NeedsReinitialization() bool {
	return true
}

// Propose runs all the nested chains and returns +Inf.
func (p *ParallelOperator) Propose(s *state.State, rng *rand.Rand) (float64, error) {
	mode := Serial
	if p.pool != nil && p.threads > 1 {
		mode = Parallel
	}
	if p.learner != nil {
		mode = p.learner.Start(rng)
	}

	start := time.Now()
	var err error
	if mode == Parallel {
		err = p.runParallel()
	} else {
		err = p.runSerial()
	}
	if err != nil {
		return math.NaN(), err
	}
	if p.learner != nil {
		p.learner.Stop(time.Since(start))
	}

	if s != nil {
		s.SetEverythingDirty(true)
	}
	p.consumed = len(p.chains)
	return math.Inf(1), nil
}

// perChain is the number of samples of every nested chain.
func (p *ParallelOperator) perChain() int64 {
	return p.length / int64(len(p.chains))
}

// runSerial runs the chains one after another. Panics are converted
// into errors the same way the pool does.
func (p *ParallelOperator) runSerial() error {
	for _, c := range p.chains {
		c := c
		if err := call(func() error { return c.Run(p.perChain()) }); err != nil {
			return err
		}
	}
	return nil
}

// runParallel splits the chains into one task per thread.
func (p *ParallelOperator) runParallel() error {
	tasks := make([]func() error, p.threads)
	for t := range tasks {
		t := t
		tasks[t] = func() error {
			for i := t; i < len(p.chains); i += p.threads {
				if err := p.chains[i].Run(p.perChain()); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return p.pool.Run(tasks)
}

// LocalComponents selects the components depending on any of the
// nodes.
func LocalComponents(comps []model.Component, nodes []*state.Node) (local []model.Component) {
	inside := make(map[*state.Node]bool, len(nodes))
	for _, n := range nodes {
		inside[n] = true
	}
	for _, c := range comps {
		for _, n := range c.Nodes() {
			if inside[n] {
				local = append(local, c)
				break
			}
		}
	}
	return
}
