// Package config reads run files. A run file describes the
// parameters, the posterior density components, the operators and
// the chain settings.
package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"math"

	"github.com/op/go-logging"
	"gopkg.in/yaml.v3"

	"bitbucket.org/Davydov/pmcmc/mcmc"
	"bitbucket.org/Davydov/pmcmc/operator"
)

// log is the global logging variable.
var log = logging.MustGetLogger("config")

// Chain are the chain settings.
type Chain struct {
	Length int64 `yaml:"length"`
	BurnIn int64 `yaml:"burnin"`
	Store  int64 `yaml:"store"`
	Debug  bool  `yaml:"debug"`
	// Check is the consistency check period after the debug
	// window.
	Check int64 `yaml:"check"`
	// LogEvery are the logger intervals.
	LogEvery []int `yaml:"log_every"`
}

// Node is a parameter declaration. Missing bounds are infinite.
type Node struct {
	ID     string    `yaml:"id"`
	Values []float64 `yaml:"values"`
	Lower  *float64  `yaml:"lower"`
	Upper  *float64  `yaml:"upper"`
}

// Bounds returns the node bounds.
func (n *Node) Bounds() (lower, upper float64) {
	lower, upper = math.Inf(-1), math.Inf(+1)
	if n.Lower != nil {
		lower = *n.Lower
	}
	if n.Upper != nil {
		upper = *n.Upper
	}
	return
}

// Component is a density term.
type Component struct {
	Name string `yaml:"name"`
	// Kind is one of normal, gamma, beta and mvnormal.
	Kind   string             `yaml:"kind"`
	Nodes  []string           `yaml:"nodes"`
	Params map[string]float64 `yaml:"params"`
	// Mean and Precision are used by mvnormal.
	Mean      []float64 `yaml:"mean"`
	Precision []float64 `yaml:"precision"`
}

// Operator is an operator declaration.
type Operator struct {
	Name   string          `yaml:"name"`
	Kind   string          `yaml:"kind"`
	Weight float64         `yaml:"weight"`
	Nodes  []string        `yaml:"nodes"`
	Params operator.Params `yaml:"params"`
}

// Group is a part of the state sampled by one nested chain.
type Group struct {
	Nodes []string `yaml:"nodes"`
	// Operators default to the nodes of the group.
	Operators []Operator `yaml:"operators"`
}

// Parallel is a multi-step operator running nested chains.
type Parallel struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
	// Length is the total number of nested samples per proposal.
	Length  int64   `yaml:"length"`
	Threads int     `yaml:"threads"`
	Learn   int     `yaml:"learn"`
	Groups  []Group `yaml:"groups"`
}

// Config is a run file.
type Config struct {
	Chain      Chain       `yaml:"chain"`
	Nodes      []Node      `yaml:"nodes"`
	Components []Component `yaml:"components"`
	Operators  []Operator  `yaml:"operators"`
	Parallel   []Parallel  `yaml:"parallel"`
}

var componentKinds = map[string]bool{
	"normal":   true,
	"gamma":    true,
	"beta":     true,
	"mvnormal": true,
}

// Default returns the built-in posterior: two independent standard
// normals sampled by a random walk.
func Default() *Config {
	def := mcmc.DefaultConfig()
	return &Config{
		Chain: Chain{
			Length: def.ChainLength,
			Check:  def.CheckEvery,
		},
		Nodes: []Node{
			{ID: "x", Values: []float64{0}},
			{ID: "y", Values: []float64{0}},
		},
		Components: []Component{
			{Name: "prior.x", Kind: "normal", Nodes: []string{"x"}, Params: map[string]float64{"mu": 0, "sigma": 1}},
			{Name: "prior.y", Kind: "normal", Nodes: []string{"y"}, Params: map[string]float64{"mu": 0, "sigma": 1}},
		},
		Operators: []Operator{
			{Name: "rw", Kind: "randomwalk", Weight: 1, Nodes: []string{"x", "y"}},
		},
	}
}

// Parse reads a run file from data. Settings missing from the file
// keep their default values.
func Parse(data []byte) (*Config, error) {
	def := mcmc.DefaultConfig()
	cfg := &Config{
		Chain: Chain{
			Length: def.ChainLength,
			Check:  def.CheckEvery,
		},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a run file.
func Load(fn string) (*Config, error) {
	data, err := ioutil.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	log.Infof("Loaded %s: %d nodes, %d components, %d operators, %d parallel operators",
		fn, len(cfg.Nodes), len(cfg.Components), len(cfg.Operators), len(cfg.Parallel))
	return cfg, nil
}

// Validate checks the run file for the settings which can be checked
// without building the model.
func (c *Config) Validate(reg *operator.Registry) error {
	if c.Chain.Length < 0 || c.Chain.BurnIn < 0 || c.Chain.Store < 0 || c.Chain.Check < 0 {
		return errors.New("chain settings should not be negative")
	}
	for _, e := range c.Chain.LogEvery {
		if e <= 0 {
			return fmt.Errorf("log interval should be > 0, got %d", e)
		}
	}
	if len(c.Nodes) == 0 {
		return errors.New("no nodes")
	}
	nodes := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == "" {
			return errors.New("node without id")
		}
		if nodes[n.ID] {
			return fmt.Errorf("duplicate node %s", n.ID)
		}
		if len(n.Values) == 0 {
			return fmt.Errorf("node %s has no values", n.ID)
		}
		if lower, upper := n.Bounds(); lower >= upper {
			return fmt.Errorf("node %s: lower bound should be < upper bound", n.ID)
		}
		nodes[n.ID] = true
	}
	known := func(what string, ids []string) error {
		if len(ids) == 0 {
			return fmt.Errorf("%s has no nodes", what)
		}
		for _, id := range ids {
			if !nodes[id] {
				return fmt.Errorf("%s: unknown node %s", what, id)
			}
		}
		return nil
	}

	if len(c.Components) == 0 {
		return errors.New("no density components")
	}
	for _, comp := range c.Components {
		if !componentKinds[comp.Kind] {
			return fmt.Errorf("component %s: unknown kind %s", comp.Name, comp.Kind)
		}
		if err := known("component "+comp.Name, comp.Nodes); err != nil {
			return err
		}
	}

	checkOp := func(op Operator, group []string) error {
		if !reg.Has(op.Kind) {
			return fmt.Errorf("operator %s: %w: %s", op.Name, operator.ErrUnknownKind, op.Kind)
		}
		ids := op.Nodes
		if len(ids) == 0 {
			ids = group
		}
		return known("operator "+op.Name, ids)
	}
	if len(c.Operators)+len(c.Parallel) == 0 {
		return errors.New("no operators")
	}
	for _, op := range c.Operators {
		if err := checkOp(op, nil); err != nil {
			return err
		}
	}
	for _, p := range c.Parallel {
		if len(p.Groups) == 0 {
			return fmt.Errorf("parallel operator %s has no groups", p.Name)
		}
		for _, g := range p.Groups {
			if err := known("parallel operator "+p.Name, g.Nodes); err != nil {
				return err
			}
			if len(g.Operators) == 0 {
				return fmt.Errorf("parallel operator %s: group without operators", p.Name)
			}
			for _, op := range g.Operators {
				if err := checkOp(op, g.Nodes); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ChainConfig returns the chain settings.
func (c *Config) ChainConfig() mcmc.Config {
	cfg := mcmc.DefaultConfig()
	cfg.ChainLength = c.Chain.Length
	cfg.BurnIn = c.Chain.BurnIn
	cfg.StoreEvery = c.Chain.Store
	cfg.Debug = c.Chain.Debug
	cfg.CheckEvery = c.Chain.Check
	return cfg
}
