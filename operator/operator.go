// Package operator defines MCMC proposal operators as a set of small
// capability interfaces and provides the basic proposals.
package operator

import (
	"math"
	"math/rand"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/pmcmc/state"
)

// log is the global logging variable.
var log = logging.MustGetLogger("operator")

// RejectReason explains why a proposal was rejected.
type RejectReason int

// Reject reasons.
const (
	// RejectOrdinary is a probabilistic rejection.
	RejectOrdinary RejectReason = 0
	// RejectNegInf is a rejection of a state with zero density.
	RejectNegInf RejectReason = -1
	// RejectFailed is a structurally invalid proposal, no density
	// was computed.
	RejectFailed RejectReason = -2
)

// Failed is the log Hastings ratio reporting a failed proposal.
func Failed() float64 {
	return math.Inf(-1)
}

// IsFailed checks whether a log Hastings ratio reports a failed
// proposal.
func IsFailed(logHR float64) bool {
	return math.IsInf(logHR, -1)
}

// Operator proposes changes to the state.
type Operator interface {
	// Name is the operator name used in reports and checkpoints.
	Name() string
	// Weight is the relative selection weight.
	Weight() float64
	// StateNodes lists all the nodes the operator can change.
	StateNodes() []*state.Node
	// Propose changes the state and returns the log Hastings
	// ratio. Failed() means the proposal must be rejected without
	// density evaluation. An error is fatal.
	Propose(s *state.State, rng *rand.Rand) (float64, error)
	// Accept is called after an accepted proposal.
	Accept()
	// Reject is called after a rejected proposal.
	Reject(reason RejectReason)
	// Stats returns acceptance statistics.
	Stats() Stats
	// SetStats replaces acceptance statistics (used on resume).
	SetStats(Stats)
}

// Tunable operators adapt to the acceptance probability.
type Tunable interface {
	Tune(logAlpha float64)
}

// Reinitializer operators require every cached calculation to be
// recomputed after their proposal.
type Reinitializer interface {
	NeedsReinitialization() bool
}

// MultiStep operators count for more than one sample.
type MultiStep interface {
	// StepCount is the number of samples a proposal will consume.
	StepCount() int
	// StepsConsumed is the number of samples consumed by the last
	// proposal.
	StepsConsumed() int
}

// Executor runs independent tasks and waits for all of them.
type Executor interface {
	Run(tasks []func() error) error
	Size() int
}

// PoolUser operators receive the process-wide worker pool.
type PoolUser interface {
	SetPool(Executor)
}

// NeedsReinitialization checks the optional Reinitializer capability.
func NeedsReinitialization(op Operator) bool {
	r, ok := op.(Reinitializer)
	return ok && r.NeedsReinitialization()
}

// Steps returns the number of steps of the operator, 1 for ordinary
// operators.
func Steps(op Operator) int {
	if m, ok := op.(MultiStep); ok {
		return m.StepCount()
	}
	return 1
}

// Stats stores acceptance statistics.
type Stats struct {
	Accepted       int `json:"accepted"`
	Rejected       int `json:"rejected"`
	RejectedNegInf int `json:"rejectedNegInf"`
	Failed         int `json:"failed"`
}

// Total returns the total number of proposals.
func (s Stats) Total() int {
	return s.Accepted + s.Rejected + s.RejectedNegInf + s.Failed
}

// AcceptanceRate returns proportion of accepted proposals.
func (s Stats) AcceptanceRate() float64 {
	if s.Total() == 0 {
		return math.NaN()
	}
	return float64(s.Accepted) / float64(s.Total())
}

// Base implements naming, weights and acceptance statistics.
type Base struct {
	name   string
	weight float64
	nodes  []*state.Node
	stats  Stats
}

// NewBase creates a new Base.
func NewBase(name string, weight float64, nodes []*state.Node) Base {
	return Base{
		name:   name,
		weight: weight,
		nodes:  nodes,
	}
}

// Name returns the operator name.
func (b *Base) Name() string {
	return b.name
}

// Weight returns the operator weight.
func (b *Base) Weight() float64 {
	return b.weight
}

// SetWeight changes the operator weight.
func (b *Base) SetWeight(w float64) {
	b.weight = w
}

// StateNodes returns the nodes the operator works on.
func (b *Base) StateNodes() []*state.Node {
	return b.nodes
}

// Accept counts an accepted proposal.
func (b *Base) Accept() {
	b.stats.Accepted++
}

// Reject counts a rejected proposal.
func (b *Base) Reject(reason RejectReason) {
	switch reason {
	case RejectNegInf:
		b.stats.RejectedNegInf++
	case RejectFailed:
		b.stats.Failed++
	default:
		b.stats.Rejected++
	}
}

// Stats returns acceptance statistics.
func (b *Base) Stats() Stats {
	return b.stats
}

// SetStats replaces acceptance statistics.
func (b *Base) SetStats(s Stats) {
	b.stats = s
}

// pickValue selects a node value uniformly among all the values of
// all the nodes.
func (b *Base) pickValue(rng *rand.Rand) (*state.Node, int) {
	total := 0
	for _, n := range b.nodes {
		total += n.Dim()
	}
	i := rng.Intn(total)
	for _, n := range b.nodes {
		if i < n.Dim() {
			return n, i
		}
		i -= n.Dim()
	}
	panic("value index out of range")
}
