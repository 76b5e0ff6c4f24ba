package config

import (
	"fmt"
	"math/rand"

	"bitbucket.org/Davydov/pmcmc/mcmc"
	"bitbucket.org/Davydov/pmcmc/model"
	"bitbucket.org/Davydov/pmcmc/operator"
	"bitbucket.org/Davydov/pmcmc/state"
)

// Model is the state, the posterior density and the operators
// described by a run file.
type Model struct {
	State     *state.State
	Density   *model.Compound
	Operators []operator.Operator
}

// builder keeps the nodes by id while building.
type builder struct {
	reg   *operator.Registry
	nodes map[string]*state.Node
}

func (b *builder) lookup(ids []string) []*state.Node {
	nodes := make([]*state.Node, len(ids))
	for i, id := range ids {
		nodes[i] = b.nodes[id]
	}
	return nodes
}

func (b *builder) component(c Component) (model.Component, error) {
	nodes := b.lookup(c.Nodes)
	p := operator.Params(c.Params)
	single := func() error {
		if len(nodes) != 1 {
			return fmt.Errorf("component %s: %s requires exactly one node", c.Name, c.Kind)
		}
		return nil
	}
	switch c.Kind {
	case "normal":
		if err := single(); err != nil {
			return nil, err
		}
		sigma := p.Get("sigma", 1)
		if sigma <= 0 {
			return nil, fmt.Errorf("component %s: sigma should be > 0", c.Name)
		}
		return model.NewNormal(c.Name, nodes[0], p.Get("mu", 0), sigma), nil
	case "gamma":
		if err := single(); err != nil {
			return nil, err
		}
		shape, rate := p.Get("shape", 1), p.Get("rate", 1)
		if shape <= 0 || rate <= 0 {
			return nil, fmt.Errorf("component %s: shape and rate should be > 0", c.Name)
		}
		return model.NewGamma(c.Name, nodes[0], shape, rate), nil
	case "beta":
		if err := single(); err != nil {
			return nil, err
		}
		alpha, beta := p.Get("alpha", 1), p.Get("beta", 1)
		if alpha <= 0 || beta <= 0 {
			return nil, fmt.Errorf("component %s: alpha and beta should be > 0", c.Name)
		}
		return model.NewBeta(c.Name, nodes[0], alpha, beta), nil
	case "mvnormal":
		return model.NewMVNormal(c.Name, nodes, c.Mean, c.Precision)
	}
	return nil, fmt.Errorf("component %s: unknown kind %s", c.Name, c.Kind)
}

func (b *builder) operator(op Operator, group []string) (operator.Operator, error) {
	ids := op.Nodes
	if len(ids) == 0 {
		ids = group
	}
	name := op.Name
	if name == "" {
		name = op.Kind
	}
	weight := op.Weight
	if weight == 0 {
		weight = 1
	}
	return b.reg.New(op.Kind, name, weight, b.lookup(ids), op.Params)
}

// Build creates the model. Nested chains of the parallel operators
// get their own random generators seeded from rng. If pool is not
// nil it is used by the parallel operators.
func (c *Config) Build(reg *operator.Registry, pool operator.Executor, rng *rand.Rand) (*Model, error) {
	if err := c.Validate(reg); err != nil {
		return nil, err
	}
	b := &builder{reg: reg, nodes: make(map[string]*state.Node, len(c.Nodes))}
	all := make([]*state.Node, len(c.Nodes))
	for i, n := range c.Nodes {
		lower, upper := n.Bounds()
		all[i] = state.NewNode(n.ID, n.Values, lower, upper)
		if !all[i].InBounds() {
			return nil, fmt.Errorf("node %s: starting value out of bounds", n.ID)
		}
		b.nodes[n.ID] = all[i]
	}
	st, err := state.New(all...)
	if err != nil {
		return nil, err
	}

	comps := make([]model.Component, len(c.Components))
	for i, comp := range c.Components {
		if comps[i], err = b.component(comp); err != nil {
			return nil, err
		}
	}

	var ops []operator.Operator
	for _, op := range c.Operators {
		o, err := b.operator(op, nil)
		if err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}

	for _, p := range c.Parallel {
		po, err := b.parallel(st, p, comps, rng)
		if err != nil {
			return nil, err
		}
		if pool != nil {
			po.SetPool(pool)
		}
		ops = append(ops, po)
	}

	return &Model{
		State:     st,
		Density:   model.NewCompound(comps...),
		Operators: ops,
	}, nil
}

func (b *builder) parallel(st *state.State, p Parallel, comps []model.Component, rng *rand.Rand) (*mcmc.ParallelOperator, error) {
	groups := make([][]*state.Node, len(p.Groups))
	for i, g := range p.Groups {
		groups[i] = b.lookup(g.Nodes)
	}
	parts, err := st.Partition(groups)
	if err != nil {
		return nil, fmt.Errorf("parallel operator %s: %w", p.Name, err)
	}
	chains := make([]*mcmc.SubChain, len(parts))
	for i, g := range p.Groups {
		name := fmt.Sprintf("%s.%d", p.Name, i+1)
		local := mcmc.LocalComponents(comps, groups[i])
		if len(local) == 0 {
			return nil, fmt.Errorf("%s: no density component depends on the group", name)
		}
		ops := make([]operator.Operator, len(g.Operators))
		for j, op := range g.Operators {
			if ops[j], err = b.operator(op, g.Nodes); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
		sub := rand.New(rand.NewSource(rng.Int63()))
		if chains[i], err = mcmc.NewSubChain(name, parts[i], model.NewCompound(local...), ops, sub); err != nil {
			return nil, err
		}
	}
	threads := p.Threads
	if threads <= 0 {
		threads = len(chains)
	}
	weight := p.Weight
	if weight == 0 {
		weight = 1
	}
	length := p.Length
	if length == 0 {
		length = int64(len(chains))
	}
	return mcmc.NewParallelOperator(p.Name, weight, chains, length, threads, p.Learn)
}
