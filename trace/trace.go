// Package trace records the chain trajectory, summarizes the
// posterior sample and plots traces.
package trace

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/gonum/mathext"
	"github.com/op/go-logging"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"bitbucket.org/Davydov/pmcmc/state"
)

// log is the global logging variable.
var log = logging.MustGetLogger("trace")

// Logger writes every n-th sample and keeps the values.
type Logger struct {
	every int
	w     io.Writer
	// Quiet disables writing, the samples are still kept.
	Quiet bool

	names     []string
	sampleNrs []float64
	logPs     []float64
	// values by column
	values [][]float64
}

// NewLogger creates a new logger writing to w.
func NewLogger(w io.Writer, every int) *Logger {
	return &Logger{
		every: every,
		w:     w,
	}
}

// Every returns the logging interval.
func (l *Logger) Every() int {
	return l.every
}

// Names returns the parameter names.
func (l *Logger) Names() []string {
	return l.names
}

// Len returns the number of samples.
func (l *Logger) Len() int {
	return len(l.sampleNrs)
}

// Log records a sample.
func (l *Logger) Log(sampleNr int64, st *state.State, logP float64) error {
	if l.names == nil {
		l.names = st.Names()
		l.values = make([][]float64, len(l.names))
		if err := l.printHeader(); err != nil {
			return err
		}
	}
	i := 0
	for _, n := range st.Nodes() {
		for _, v := range n.Values {
			if i >= len(l.values) {
				return errors.New("number of values changed")
			}
			l.values[i] = append(l.values[i], v)
			i++
		}
	}
	l.sampleNrs = append(l.sampleNrs, float64(sampleNr))
	l.logPs = append(l.logPs, logP)
	return l.printLine(sampleNr, st, logP)
}

func (l *Logger) printHeader() error {
	if l.Quiet || l.w == nil {
		return nil
	}
	_, err := fmt.Fprintf(l.w, "sample\tposterior\t%s\n", strings.Join(l.names, "\t"))
	return err
}

func (l *Logger) printLine(sampleNr int64, st *state.State, logP float64) error {
	if l.Quiet || l.w == nil {
		return nil
	}
	_, err := fmt.Fprintf(l.w, "%d\t%s\t%s\n", sampleNr, strconv.FormatFloat(logP, 'f', 6, 64), st)
	return err
}

// Stat is a posterior summary of one parameter.
type Stat struct {
	Name string  `json:"name"`
	N    int     `json:"n"`
	Mean float64 `json:"mean"`
	SD   float64 `json:"sd"`
	// SE is the batch means standard error of the mean.
	SE float64 `json:"se"`
	// Lower and Upper is the 95% credible interval.
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	// MeanLower and MeanUpper is the 95% confidence interval of
	// the mean.
	MeanLower float64 `json:"meanLower"`
	MeanUpper float64 `json:"meanUpper"`
}

// Summary summarizes all the parameters discarding the first burnin
// fraction of the samples.
func (l *Logger) Summary(burnin float64) []Stat {
	skip := int(float64(l.Len()) * burnin)
	res := make([]Stat, len(l.names))
	z := mathext.NormalQuantile(0.975)
	for i, name := range l.names {
		x := l.values[i][skip:]
		s := Stat{Name: name, N: len(x)}
		if len(x) == 0 {
			s.Mean, s.SD, s.SE = math.NaN(), math.NaN(), math.NaN()
			res[i] = s
			continue
		}
		s.Mean, s.SD = stat.MeanStdDev(x, nil)
		s.SE = batchSE(x)
		sorted := append([]float64(nil), x...)
		sort.Float64s(sorted)
		s.Lower = stat.Quantile(0.025, stat.Empirical, sorted, nil)
		s.Upper = stat.Quantile(0.975, stat.Empirical, sorted, nil)
		s.MeanLower = s.Mean - z*s.SE
		s.MeanUpper = s.Mean + z*s.SE
		res[i] = s
	}
	return res
}

// batchSE computes standard error of the mean using sqrt(n) batches.
func batchSE(x []float64) float64 {
	size := int(math.Sqrt(float64(len(x))))
	if size < 2 {
		return math.NaN()
	}
	nb := len(x) / size
	means := make([]float64, nb)
	for b := range means {
		means[b] = stat.Mean(x[b*size:(b+1)*size], nil)
	}
	if nb < 2 {
		return math.NaN()
	}
	return stat.StdDev(means, nil) / math.Sqrt(float64(nb))
}

// Plot saves trace plots of the log posterior and all the parameters
// as an image. The format is defined by the file extension.
func (l *Logger) Plot(path string) error {
	if l.Len() == 0 {
		return errors.New("no samples to plot")
	}
	p := plot.New()
	p.Title.Text = "Trace"
	p.X.Label.Text = "sample"

	lines := make([]interface{}, 0, 2*(len(l.names)+1))
	lines = append(lines, "posterior", l.xys(l.logPs))
	for i, name := range l.names {
		lines = append(lines, name, l.xys(l.values[i]))
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return err
	}
	log.Infof("Trace plot saved to %s", path)
	return nil
}

func (l *Logger) xys(y []float64) plotter.XYs {
	pts := make(plotter.XYs, len(y))
	for i, v := range y {
		pts[i].X = l.sampleNrs[i]
		pts[i].Y = v
	}
	return pts
}
