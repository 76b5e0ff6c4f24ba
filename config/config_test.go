package config

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"bitbucket.org/Davydov/pmcmc/mcmc"
	"bitbucket.org/Davydov/pmcmc/operator"
	"bitbucket.org/Davydov/pmcmc/state"
)

func TestDefault(tst *testing.T) {
	cfg := Default()
	m, err := cfg.Build(operator.NewRegistry(), nil, rand.New(rand.NewSource(1)))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if m.State.Len() != 2 || len(m.Operators) != 1 {
		tst.Fatalf("Wrong model: %d nodes, %d operators", m.State.Len(), len(m.Operators))
	}
	L, err := m.Density.RobustLogDensity()
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if math.Abs(L+math.Log(2*math.Pi)) > 1e-9 {
		tst.Errorf("Wrong log density at zero: %v", L)
	}
	if cfg.ChainConfig().ChainLength != mcmc.DefaultConfig().ChainLength {
		tst.Error("Wrong default chain length")
	}
}

func TestLoad(tst *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "hierarchical.yaml"))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if cfg.Chain.Length != 2000 || cfg.Chain.BurnIn != 100 || cfg.Chain.Check != mcmc.DefaultConfig().CheckEvery {
		tst.Errorf("Wrong chain settings: %+v", cfg.Chain)
	}
	if lower, upper := cfg.Nodes[1].Bounds(); lower != 0 || !math.IsInf(upper, 1) {
		tst.Errorf("Wrong bounds: %v %v", lower, upper)
	}

	pool := mcmc.NewPool(2)
	defer pool.Close()
	m, err := cfg.Build(operator.NewRegistry(), pool, rand.New(rand.NewSource(1)))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if len(m.Operators) != 2 {
		tst.Fatalf("Expected two operators, got %d", len(m.Operators))
	}
	po, ok := m.Operators[1].(*mcmc.ParallelOperator)
	if !ok {
		tst.Fatal("Second operator should be parallel")
	}
	if po.StepCount() != 2 || po.Threads() != 2 || po.Learner() == nil {
		tst.Errorf("Wrong parallel operator: steps=%d threads=%d", po.StepCount(), po.Threads())
	}
	if len(po.StateNodes()) != 2 {
		tst.Errorf("Parallel operator should cover both groups")
	}

	chainCfg := cfg.ChainConfig()
	chainCfg.ChainLength = 200
	ch, err := mcmc.NewChain(chainCfg, m.State, m.Density, m.Operators, nil, rand.New(rand.NewSource(2)))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	res, err := ch.Run(context.Background())
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	// a multi-step proposal can overshoot the chain length
	if res.LastSample < 200 || res.LastSample > 201 {
		tst.Errorf("Wrong last sample: %d", res.LastSample)
	}
	L, _ := m.Density.RobustLogDensity()
	if math.Abs(L-res.LogPosterior) > 1e-6 {
		tst.Errorf("Cached posterior %v differs from %v", res.LogPosterior, L)
	}
}

func TestValidate(tst *testing.T) {
	reg := operator.NewRegistry()
	cases := []struct {
		name string
		mod  func(*Config)
		msg  string
	}{
		{"negative length", func(c *Config) { c.Chain.Length = -1 }, "negative"},
		{"unknown node", func(c *Config) { c.Operators[0].Nodes = []string{"z"} }, "unknown node z"},
		{"unknown component node", func(c *Config) { c.Components[0].Nodes = []string{"z"} }, "unknown node z"},
		{"unknown component kind", func(c *Config) { c.Components[0].Kind = "cauchy" }, "unknown kind"},
		{"no operators", func(c *Config) { c.Operators = nil }, "no operators"},
		{"duplicate node", func(c *Config) { c.Nodes[1].ID = "x" }, "duplicate"},
		{"bad bounds", func(c *Config) {
			v := 1.0
			c.Nodes[0].Lower, c.Nodes[0].Upper = &v, &v
		}, "bound"},
	}
	for _, c := range cases {
		cfg := Default()
		c.mod(cfg)
		err := cfg.Validate(reg)
		if err == nil || !strings.Contains(err.Error(), c.msg) {
			tst.Errorf("%s: expected error containing %q, got %v", c.name, c.msg, err)
		}
	}

	cfg := Default()
	cfg.Operators[0].Kind = "slice"
	if err := cfg.Validate(reg); !errors.Is(err, operator.ErrUnknownKind) {
		tst.Errorf("Expected unknown kind error, got %v", err)
	}
}

func TestOverlappingGroups(tst *testing.T) {
	cfg, err := Parse([]byte(`
nodes:
  - {id: a, values: [0]}
  - {id: b, values: [0]}
components:
  - {name: pa, kind: normal, nodes: [a]}
  - {name: pb, kind: normal, nodes: [b]}
parallel:
  - name: nested
    groups:
      - nodes: [a, b]
        operators: [{kind: randomwalk}]
      - nodes: [b]
        operators: [{kind: randomwalk}]
`))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	_, err = cfg.Build(operator.NewRegistry(), nil, rand.New(rand.NewSource(1)))
	if !errors.Is(err, state.ErrOverlap) {
		tst.Errorf("Expected overlap error, got %v", err)
	}
}

func TestSharedComponent(tst *testing.T) {
	cfg, err := Parse([]byte(`
nodes:
  - {id: a, values: [0]}
  - {id: b, values: [0]}
components:
  - {name: joint, kind: mvnormal, nodes: [a, b], mean: [0, 0], precision: [1, 0, 0, 1]}
parallel:
  - name: nested
    groups:
      - nodes: [a]
        operators: [{kind: randomwalk}]
      - nodes: [b]
        operators: [{kind: randomwalk}]
`))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if _, err = cfg.Build(operator.NewRegistry(), nil, rand.New(rand.NewSource(1))); err == nil {
		tst.Error("Component depending on two groups should be rejected")
	}
}
