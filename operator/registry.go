package operator

import (
	"errors"
	"fmt"
	"sort"

	"bitbucket.org/Davydov/pmcmc/state"
)

// ErrUnknownKind is returned for an operator kind missing from the
// registry.
var ErrUnknownKind = errors.New("unknown operator kind")

// Params are numeric operator settings.
type Params map[string]float64

// Get returns a parameter or the default value.
func (p Params) Get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Factory creates an operator working on nodes.
type Factory func(name string, weight float64, nodes []*state.Node, params Params) (Operator, error)

// Registry maps operator kinds to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in operators:
// randomwalk (size, target), scale (factor, target) and uniform.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("randomwalk", func(name string, weight float64, nodes []*state.Node, p Params) (Operator, error) {
		size := p.Get("size", 1)
		if size <= 0 {
			return nil, fmt.Errorf("%s: size should be > 0", name)
		}
		op := NewRandomWalk(name, weight, nodes, size, p.Get("target", DefaultTarget))
		op.disabled = p.Get("optimize", 1) == 0
		return op, nil
	})
	r.Register("scale", func(name string, weight float64, nodes []*state.Node, p Params) (Operator, error) {
		factor := p.Get("factor", 0.75)
		if factor <= 0 || factor >= 1 {
			return nil, fmt.Errorf("%s: factor should be in (0, 1)", name)
		}
		op := NewScale(name, weight, nodes, factor, p.Get("target", 0.3))
		op.disabled = p.Get("optimize", 1) == 0
		return op, nil
	})
	r.Register("uniform", func(name string, weight float64, nodes []*state.Node, _ Params) (Operator, error) {
		return NewUniform(name, weight, nodes)
	})
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(kind string, f Factory) {
	if _, ok := r.factories[kind]; ok {
		log.Debugf("replacing operator kind %s", kind)
	}
	r.factories[kind] = f
}

// Has checks whether the kind is registered.
func (r *Registry) Has(kind string) bool {
	_, ok := r.factories[kind]
	return ok
}

// New creates an operator of the given kind.
func (r *Registry) New(kind, name string, weight float64, nodes []*state.Node, params Params) (Operator, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if weight <= 0 {
		return nil, fmt.Errorf("%s: weight should be > 0", name)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("operator %s has no state nodes", name)
	}
	return f(name, weight, nodes, params)
}

// Kinds returns sorted registered kinds.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
