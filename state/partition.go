package state

import "fmt"

// home is a node placement inside an owner state.
type home struct {
	owner  *State
	index  int
	stored []float64
}

// Partition is a subset of state nodes which can be handed over to a
// nested chain. While acquired the nodes are owned by a local state
// with local indices.
type Partition struct {
	parent *State
	local  *State
	homes  []home
	busy   bool
}

// Partition splits the state into disjoint partitions. Every node in
// groups must belong to the state, and no node can appear twice.
func (s *State) Partition(groups [][]*Node) ([]*Partition, error) {
	seen := make(map[*Node]int)
	parts := make([]*Partition, len(groups))
	for g, nodes := range groups {
		for _, n := range nodes {
			if !s.Contains(n) {
				return nil, fmt.Errorf("%w: %s", ErrNotInState, n.ID)
			}
			if prev, ok := seen[n]; ok {
				if prev == g {
					return nil, fmt.Errorf("%w: %s", ErrDuplicate, n.ID)
				}
				return nil, fmt.Errorf("%w: %s in groups %d and %d", ErrOverlap, n.ID, prev, g)
			}
			seen[n] = g
		}
		local := &State{nodes: append([]*Node(nil), nodes...)}
		parts[g] = &Partition{
			parent: s,
			local:  local,
			homes:  make([]home, len(nodes)),
		}
	}
	return parts, nil
}

// Nodes returns the nodes of the partition.
func (p *Partition) Nodes() []*Node {
	return p.local.nodes
}

// AddCalcNode registers a calculation node with the local state.
func (p *Partition) AddCalcNode(c CalcNode) {
	p.local.AddCalcNode(c)
}

// With re-homes the nodes into the local state, calls fn and puts
// the nodes back. The nodes are released even if fn panics. Values
// saved by the owner's save point survive save points made by fn.
func (p *Partition) With(fn func(local *State) error) error {
	if p.busy {
		panic("partition is already acquired")
	}
	p.acquire()
	defer p.release()
	return fn(p.local)
}

func (p *Partition) acquire() {
	p.busy = true
	for i, n := range p.local.nodes {
		h := &p.homes[i]
		h.owner = n.owner
		h.index = n.index
		h.stored = append(h.stored[:0], n.stored...)
		n.owner = p.local
		n.index = i
	}
}

func (p *Partition) release() {
	for i, n := range p.local.nodes {
		h := &p.homes[i]
		n.owner = h.owner
		n.index = h.index
		copy(n.stored, h.stored)
	}
	p.busy = false
}

// Union returns all the nodes of the partitions in order.
func Union(parts []*Partition) (nodes []*Node) {
	for _, p := range parts {
		nodes = append(nodes, p.Nodes()...)
	}
	return
}
