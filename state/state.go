// Package state implements the mutable collection of parameters
// sampled by a chain. It supports save points, dirtiness tracking and
// partitioning into disjoint sub-states owned by nested chains.
package state

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/op/go-logging"
)

// log is the global logging variable.
var log = logging.MustGetLogger("state")

var (
	// ErrNotInState is returned when a node does not belong to the state.
	ErrNotInState = errors.New("node is not part of the state")
	// ErrOverlap is returned when two partitions share a node.
	ErrOverlap = errors.New("partitions overlap")
	// ErrDuplicate is returned when a node is listed twice.
	ErrDuplicate = errors.New("duplicate node")
)

// CalcNode is a cached intermediate calculation which follows the
// store/restore protocol of the state.
type CalcNode interface {
	// StoreCalc saves the cached values.
	StoreCalc()
	// RestoreCalc brings back the values saved by StoreCalc.
	RestoreCalc()
	// AcceptCalc discards the saved values.
	AcceptCalc()
	// CheckDirtiness marks caches depending on dirty nodes for
	// recomputation.
	CheckDirtiness()
}

// Node is a vector valued parameter.
type Node struct {
	// ID is a unique node name.
	ID string
	// Values are the current values.
	Values []float64
	// Lower and Upper are the bounds for every value.
	Lower float64
	Upper float64

	stored []float64
	dirty  bool
	index  int
	owner  *State
}

// NewNode creates a new node. Bounds can be infinite.
func NewNode(id string, values []float64, lower, upper float64) *Node {
	if lower >= upper {
		panic("lower >= upper")
	}
	v := make([]float64, len(values))
	copy(v, values)
	return &Node{
		ID:     id,
		Values: v,
		Lower:  lower,
		Upper:  upper,
		stored: make([]float64, len(values)),
		index:  -1,
	}
}

// NewScalar creates a new unbounded one-dimensional node.
func NewScalar(id string, value float64) *Node {
	return NewNode(id, []float64{value}, math.Inf(-1), math.Inf(+1))
}

// Dim returns the node dimension.
func (n *Node) Dim() int {
	return len(n.Values)
}

// Get returns the i-th value.
func (n *Node) Get(i int) float64 {
	return n.Values[i]
}

// Set changes the i-th value and marks the node dirty.
func (n *Node) Set(i int, v float64) {
	if n.Values[i] == v {
		// do nothing if value has not changed
		return
	}
	n.Values[i] = v
	n.dirty = true
}

// Dirty returns true if the node was changed since the last clean.
func (n *Node) Dirty() bool {
	return n.dirty
}

// Index returns the position of the node inside its current owner.
func (n *Node) Index() int {
	return n.index
}

// ValueInBounds checks whether v is inside the node bounds.
func (n *Node) ValueInBounds(v float64) bool {
	return v >= n.Lower && v <= n.Upper
}

// InBounds checks whether all values are inside the bounds.
func (n *Node) InBounds() bool {
	for _, v := range n.Values {
		if !n.ValueInBounds(v) {
			return false
		}
	}
	return true
}

// String returns tab separated values.
func (n *Node) String() string {
	s := make([]string, len(n.Values))
	for i, v := range n.Values {
		s[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return strings.Join(s, "\t")
}

// Names returns a column name per value.
func (n *Node) Names() []string {
	if len(n.Values) == 1 {
		return []string{n.ID}
	}
	s := make([]string, len(n.Values))
	for i := range n.Values {
		s[i] = fmt.Sprintf("%s.%d", n.ID, i+1)
	}
	return s
}

// State is an ordered collection of nodes.
type State struct {
	nodes    []*Node
	calc     []CalcNode
	sampleNr int64
	stored   bool
}

// New creates a new state owning the nodes.
func New(nodes ...*Node) (*State, error) {
	s := &State{}
	seen := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		if seen[n.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, n.ID)
		}
		seen[n.ID] = true
		n.owner = s
		n.index = i
	}
	s.nodes = append(s.nodes, nodes...)
	return s, nil
}

// Nodes returns all the nodes.
func (s *State) Nodes() []*Node {
	return s.nodes
}

// Len returns the number of nodes.
func (s *State) Len() int {
	return len(s.nodes)
}

// Node returns node by its ID or nil.
func (s *State) Node(id string) *Node {
	for _, n := range s.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Contains checks whether the node is currently owned by the state.
func (s *State) Contains(n *Node) bool {
	return n.owner == s && n.index >= 0 && n.index < len(s.nodes) && s.nodes[n.index] == n
}

// SampleNr returns the sample number of the last save point.
func (s *State) SampleNr() int64 {
	return s.sampleNr
}

// Store creates a save point tagged with sampleNr.
func (s *State) Store(sampleNr int64) {
	for _, n := range s.nodes {
		if len(n.stored) != len(n.Values) {
			n.stored = make([]float64, len(n.Values))
		}
		copy(n.stored, n.Values)
	}
	s.sampleNr = sampleNr
	s.stored = true
}

// Restore rolls the values back to the last save point.
func (s *State) Restore() {
	if !s.stored {
		log.Warning("Restore called without a save point")
		return
	}
	for _, n := range s.nodes {
		for i, v := range n.stored {
			n.Set(i, v)
		}
	}
	s.stored = false
}

// Accept discards the save point.
func (s *State) Accept() {
	s.stored = false
}

// SetEverythingDirty marks all nodes as dirty or clean.
func (s *State) SetEverythingDirty(dirty bool) {
	for _, n := range s.nodes {
		n.dirty = dirty
	}
}

// AddCalcNode registers a calculation node.
func (s *State) AddCalcNode(c CalcNode) {
	s.calc = append(s.calc, c)
}

// StoreCalculationNodes saves all the calculation caches.
func (s *State) StoreCalculationNodes() {
	for _, c := range s.calc {
		c.StoreCalc()
	}
}

// RestoreCalculationNodes restores all the calculation caches.
func (s *State) RestoreCalculationNodes() {
	for _, c := range s.calc {
		c.RestoreCalc()
	}
}

// AcceptCalculationNodes commits all the calculation caches.
func (s *State) AcceptCalculationNodes() {
	for _, c := range s.calc {
		c.AcceptCalc()
	}
}

// CheckCalculationNodesDirtiness propagates node dirtiness to the
// calculation caches.
func (s *State) CheckCalculationNodesDirtiness() {
	for _, c := range s.calc {
		c.CheckDirtiness()
	}
}

// Snapshot returns a copy of all the values keyed by node ID.
func (s *State) Snapshot() map[string][]float64 {
	m := make(map[string][]float64, len(s.nodes))
	for _, n := range s.nodes {
		v := make([]float64, len(n.Values))
		copy(v, n.Values)
		m[n.ID] = v
	}
	return m
}

// Load sets the values from a snapshot. Nodes missing from the
// snapshot are left unchanged.
func (s *State) Load(m map[string][]float64) error {
	for id, v := range m {
		n := s.Node(id)
		if n == nil {
			return fmt.Errorf("%w: %s", ErrNotInState, id)
		}
		if len(v) != n.Dim() {
			return fmt.Errorf("node %s: dimension %d != %d", id, len(v), n.Dim())
		}
		for i, x := range v {
			n.Set(i, x)
		}
	}
	return nil
}

// Names returns column names for all values.
func (s *State) Names() (names []string) {
	for _, n := range s.nodes {
		names = append(names, n.Names()...)
	}
	return
}

// Values returns all values concatenated.
func (s *State) Values(iv []float64) (v []float64) {
	v = iv[:0]
	for _, n := range s.nodes {
		v = append(v, n.Values...)
	}
	return
}

// SetValues sets all values from a concatenated slice.
func (s *State) SetValues(v []float64) error {
	i := 0
	for _, n := range s.nodes {
		if i+n.Dim() > len(v) {
			return errors.New("incorrect number of values")
		}
		for j := range n.Values {
			n.Set(j, v[i])
			i++
		}
	}
	if i != len(v) {
		return errors.New("incorrect number of values")
	}
	return nil
}

// String returns tab separated values of all nodes.
func (s *State) String() string {
	p := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		p[i] = n.String()
	}
	return strings.Join(p, "\t")
}
