package trace

import (
	"bytes"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bitbucket.org/Davydov/pmcmc/state"
)

func TestLogger(tst *testing.T) {
	x := state.NewNode("x", []float64{1, 2}, -10, 10)
	y := state.NewScalar("y", 0.5)
	st, _ := state.New(x, y)
	var buf bytes.Buffer
	l := NewLogger(&buf, 10)
	if l.Every() != 10 {
		tst.Error("Wrong interval")
	}
	if err := l.Log(0, st, -1.5); err != nil {
		tst.Fatal("Error: ", err)
	}
	y.Set(0, 1)
	l.Log(10, st, -2)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		tst.Fatalf("Expected header and two lines, got %q", buf.String())
	}
	if lines[0] != "sample\tposterior\tx.1\tx.2\ty" {
		tst.Errorf("Wrong header: %q", lines[0])
	}
	if lines[2] != "10\t-2.000000\t1.000000\t2.000000\t1.000000" {
		tst.Errorf("Wrong line: %q", lines[2])
	}
	if l.Len() != 2 {
		tst.Errorf("Wrong number of samples: %d", l.Len())
	}
}

func TestSummary(tst *testing.T) {
	x := state.NewScalar("x", 0)
	st, _ := state.New(x)
	l := NewLogger(nil, 1)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		// the first samples are far away
		if i < 1000 {
			x.Set(0, 100)
		} else {
			x.Set(0, 3+2*rng.NormFloat64())
		}
		l.Log(int64(i), st, 0)
	}
	s := l.Summary(0.1)[0]
	if s.N != 9000 || s.Name != "x" {
		tst.Errorf("Wrong summary: %+v", s)
	}
	if math.Abs(s.Mean-3) > 0.1 || math.Abs(s.SD-2) > 0.1 {
		tst.Errorf("Wrong mean or sd: %+v", s)
	}
	if math.Abs(s.Lower-(3-1.96*2)) > 0.2 || math.Abs(s.Upper-(3+1.96*2)) > 0.2 {
		tst.Errorf("Wrong credible interval: %+v", s)
	}
	if s.SE <= 0 || s.SE > 0.05 || s.MeanLower >= s.Mean || s.MeanUpper <= s.Mean {
		tst.Errorf("Wrong standard error: %+v", s)
	}
}

func TestPlot(tst *testing.T) {
	x := state.NewScalar("x", 0)
	st, _ := state.New(x)
	l := NewLogger(nil, 1)
	path := filepath.Join(tst.TempDir(), "trace.png")
	if err := l.Plot(path); err == nil {
		tst.Error("Expected error without samples")
	}
	for i := 0; i < 50; i++ {
		x.Set(0, math.Sin(float64(i)))
		l.Log(int64(i), st, -float64(i))
	}
	if err := l.Plot(path); err != nil {
		tst.Fatal("Error: ", err)
	}
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		tst.Error("Plot was not written")
	}
}
