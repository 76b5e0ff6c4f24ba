package schedule

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"bitbucket.org/Davydov/pmcmc/operator"
	"bitbucket.org/Davydov/pmcmc/state"
)

// multiOp is an operator consuming a fixed number of steps.
type multiOp struct {
	operator.Base
	steps int
}

func newMultiOp(name string, weight float64, steps int) *multiOp {
	return &multiOp{
		Base:  operator.NewBase(name, weight, nil),
		steps: steps,
	}
}

func (m *multiOp) Propose(*state.State, *rand.Rand) (float64, error) {
	return math.Inf(+1), nil
}

func (m *multiOp) StepCount() int {
	return m.steps
}

func (m *multiOp) StepsConsumed() int {
	return m.steps
}

func TestNormalize(tst *testing.T) {
	tests := []struct {
		in  []int
		out []int
	}{
		{nil, []int{DefaultLogEvery}},
		{[]int{100, 10}, []int{10}},
		{[]int{10, 10, 15, 30}, []int{10, 15}},
		{[]int{7, 1000}, []int{7, 1000}},
	}
	for _, t := range tests {
		res, err := normalize(t.in)
		if err != nil {
			tst.Fatal("Error: ", err)
		}
		if len(res) != len(t.out) {
			tst.Errorf("normalize(%v)=%v, expected %v", t.in, res, t.out)
			continue
		}
		for i := range res {
			if res[i] != t.out[i] {
				tst.Errorf("normalize(%v)=%v, expected %v", t.in, res, t.out)
			}
		}
	}
	if _, err := normalize([]int{0}); err == nil {
		tst.Error("Expected error for zero interval")
	}
}

func TestLoggingBoundarySafety(tst *testing.T) {
	r := rand.New(rand.NewSource(1))
	for iter := 0; iter < 50; iter++ {
		intervals := []int{2 + r.Intn(50), 2 + r.Intn(200)}
		ops := []operator.Operator{newMultiOp("single", 1, 1)}
		for k := 0; k < 3; k++ {
			ops = append(ops, newMultiOp(string(rune('a'+k)), 1+r.Float64(), 1+r.Intn(40)))
		}
		s, err := New(ops, intervals)
		if err != nil {
			tst.Fatal("Error: ", err)
		}
		sampleNr := int64(-r.Intn(100))
		for sampleNr < 5000 {
			op, err := s.Select(sampleNr, r)
			if err != nil {
				tst.Fatal("Error: ", err)
			}
			steps := operator.Steps(op)
			// no boundary strictly inside (sampleNr, sampleNr+steps)
			for _, e := range intervals {
				for n := sampleNr + 1; n < sampleNr+int64(steps); n++ {
					if mod(n, e) == 0 {
						tst.Fatalf("Operator %s with %d steps at %d skips boundary %d (every %d)",
							op.Name(), steps, sampleNr, n, e)
					}
				}
			}
			sampleNr += int64(steps)
		}
	}
}

func TestSelectWeights(tst *testing.T) {
	r := rand.New(rand.NewSource(2))
	a := newMultiOp("a", 1, 1)
	b := newMultiOp("b", 3, 1)
	s, err := New([]operator.Operator{a, b}, nil)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	n := 20000
	nb := 0
	for i := 0; i < n; i++ {
		op, _ := s.Select(int64(i), r)
		if op == b {
			nb++
		}
	}
	p := float64(nb) / float64(n)
	if math.Abs(p-0.75) > 0.02 {
		tst.Errorf("Operator b selected with frequency %v, expected 0.75", p)
	}
}

func TestNoOperator(tst *testing.T) {
	s, err := New([]operator.Operator{newMultiOp("big", 1, 20)}, []int{10})
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	if _, err := s.Select(0, rand.New(rand.NewSource(1))); !errors.Is(err, ErrNoOperator) {
		tst.Errorf("Expected no operator error, got %v", err)
	}
}

func TestNewValidation(tst *testing.T) {
	if _, err := New(nil, nil); err == nil {
		tst.Error("Expected error without operators")
	}
	a := newMultiOp("a", 1, 1)
	if _, err := New([]operator.Operator{a, a}, nil); err == nil {
		tst.Error("Expected error for duplicate names")
	}
}

func TestSnapshotLoad(tst *testing.T) {
	a := newMultiOp("a", 2, 1)
	a.Accept()
	a.Reject(operator.RejectFailed)
	s, _ := New([]operator.Operator{a}, nil)
	snap := s.Snapshot()

	b := newMultiOp("a", 2, 1)
	s2, _ := New([]operator.Operator{b}, nil)
	s2.Load(snap)
	if b.Stats() != a.Stats() {
		tst.Errorf("Stats were not loaded: %+v != %+v", b.Stats(), a.Stats())
	}
	if snap["a"].Weight != 2 {
		tst.Errorf("Wrong weight: %v", snap["a"].Weight)
	}
}
