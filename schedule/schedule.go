// Package schedule implements weighted operator selection which
// takes multi-step operators into account, so that every periodic log
// point falls on an outer chain sample.
package schedule

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/pmcmc/operator"
)

// log is the global logging variable.
var log = logging.MustGetLogger("schedule")

// DefaultLogEvery is the logging interval used when no loggers are
// specified.
const DefaultLogEvery = 1000

// ErrNoOperator is returned when no operator fits before the next
// logging boundary.
var ErrNoOperator = errors.New("no operator fits before the logging boundary")

// OperatorState is a persisted operator state.
type OperatorState struct {
	Weight float64        `json:"weight"`
	Stats  operator.Stats `json:"stats"`
}

// Schedule selects operators.
type Schedule struct {
	ops      []operator.Operator
	logEvery []int
	// buffer for cumulative weights
	cum []float64
}

// New creates a new schedule. logEvery lists all logging intervals.
func New(ops []operator.Operator, logEvery []int) (*Schedule, error) {
	if len(ops) == 0 {
		return nil, errors.New("at least one operator is required")
	}
	names := make(map[string]bool, len(ops))
	for _, op := range ops {
		if op.Weight() <= 0 {
			return nil, fmt.Errorf("operator %s: weight should be > 0", op.Name())
		}
		if names[op.Name()] {
			return nil, fmt.Errorf("duplicate operator name %s", op.Name())
		}
		names[op.Name()] = true
	}
	every, err := normalize(logEvery)
	if err != nil {
		return nil, err
	}
	s := &Schedule{
		ops:      ops,
		logEvery: every,
		cum:      make([]float64, len(ops)),
	}
	for _, op := range ops {
		if steps := operator.Steps(op); steps > 1 {
			log.Infof("Operator %s counts for %d steps", op.Name(), steps)
		}
	}
	return s, nil
}

// normalize removes duplicate intervals and intervals which are
// multiples of other intervals: a boundary of a multiple is always a
// boundary of its divisor.
func normalize(logEvery []int) ([]int, error) {
	if len(logEvery) == 0 {
		return []int{DefaultLogEvery}, nil
	}
	every := append([]int(nil), logEvery...)
	sort.Ints(every)
	var res []int
Outer:
	for _, e := range every {
		if e <= 0 {
			return nil, fmt.Errorf("logging interval should be > 0, got %d", e)
		}
		for _, d := range res {
			if e%d == 0 {
				continue Outer
			}
		}
		res = append(res, e)
	}
	return res, nil
}

// Operators returns all the operators.
func (s *Schedule) Operators() []operator.Operator {
	return s.ops
}

// LogEvery returns the normalized logging intervals.
func (s *Schedule) LogEvery() []int {
	return s.logEvery
}

// Fits checks whether an operator taking steps samples at sampleNr
// stays clear of every logging boundary.
func (s *Schedule) Fits(sampleNr int64, steps int) bool {
	if steps <= 1 {
		return true
	}
	for _, e := range s.logEvery {
		if mod(sampleNr, e)+steps >= e {
			return false
		}
	}
	return true
}

// Select chooses an operator for sampleNr. Operators are chosen
// proportionally to their weights among the operators which fit.
func (s *Schedule) Select(sampleNr int64, rng *rand.Rand) (operator.Operator, error) {
	total := 0.0
	for i, op := range s.ops {
		if s.Fits(sampleNr, operator.Steps(op)) {
			total += op.Weight()
		}
		s.cum[i] = total
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: sample %d", ErrNoOperator, sampleNr)
	}
	u := rng.Float64() * total
	// operators which do not fit have zero width
	i := sort.Search(len(s.cum), func(j int) bool { return s.cum[j] > u })
	if i == len(s.ops) {
		// rounding
		i--
	}
	return s.ops[i], nil
}

// Snapshot returns operator states keyed by name.
func (s *Schedule) Snapshot() map[string]OperatorState {
	m := make(map[string]OperatorState, len(s.ops))
	for _, op := range s.ops {
		m[op.Name()] = OperatorState{
			Weight: op.Weight(),
			Stats:  op.Stats(),
		}
	}
	return m
}

// Load restores operator statistics. Unknown operators are ignored.
func (s *Schedule) Load(m map[string]OperatorState) {
	for _, op := range s.ops {
		if st, ok := m[op.Name()]; ok {
			op.SetStats(st.Stats)
		} else {
			log.Warningf("No stored state for operator %s", op.Name())
		}
	}
}

// Report logs acceptance statistics for every operator.
func (s *Schedule) Report() {
	for _, op := range s.ops {
		st := op.Stats()
		log.Noticef("%s: accepted=%d rejected=%d failed=%d rate=%.3f",
			op.Name(), st.Accepted, st.Rejected+st.RejectedNegInf, st.Failed, st.AcceptanceRate())
	}
}

// mod returns non-negative modulo.
func mod(a int64, b int) int {
	m := int(a % int64(b))
	if m < 0 {
		m += b
	}
	return m
}
