package mcmc

import (
	"math/rand"
	"time"
)

// Mode is the execution mode of nested chains.
type Mode int

const (
	// Parallel runs nested chains on the pool.
	Parallel Mode = iota
	// Serial runs nested chains one after another on the calling
	// goroutine.
	Serial
)

func (m Mode) String() string {
	if m == Serial {
		return "serial"
	}
	return "parallel"
}

// Learner chooses between serial and parallel execution of the
// nested chains of one operator by measuring the throughput of both
// modes during a learning window.
type Learner struct {
	name   string
	burnin int
	// work is the number of nested samples per invocation
	work float64

	mean   [2]float64
	n      [2]int
	mode   Mode
	frozen bool
}

// NewLearner creates a learner which needs burnin/2 measurements of
// every mode. With burnin <= 0 the learner is frozen in parallel
// mode.
func NewLearner(name string, burnin int, work float64) *Learner {
	return &Learner{
		name:   name,
		burnin: burnin,
		work:   work,
		mode:   Parallel,
		frozen: burnin <= 0,
	}
}

// Start chooses the mode for the next invocation. While learning,
// the mode is sampled with a fair coin.
func (l *Learner) Start(rng *rand.Rand) Mode {
	if l.frozen {
		return l.mode
	}
	if rng.Intn(2) == 0 {
		l.mode = Serial
	} else {
		l.mode = Parallel
	}
	return l.mode
}

// Stop records the cost of the invocation started by Start. Once both
// modes were measured often enough the mode with the higher
// throughput is fixed.
func (l *Learner) Stop(elapsed time.Duration) {
	if l.frozen {
		return
	}
	m := l.mode
	x := elapsed.Seconds()
	l.mean[m] = (l.mean[m]*float64(l.n[m]) + x) / float64(l.n[m]+1)
	l.n[m]++

	half := float64(l.burnin) / 2
	if float64(l.n[Parallel]) < half || float64(l.n[Serial]) < half {
		return
	}
	par := l.Throughput(Parallel)
	ser := l.Throughput(Serial)
	if par > ser {
		l.mode = Parallel
		log.Warningf("%s will use threading (%.1f states/s > %.1f states/s)", l.name, par, ser)
	} else {
		l.mode = Serial
		log.Warningf("%s will NOT use threading (%.1f states/s >= %.1f states/s)", l.name, ser, par)
	}
	l.frozen = true
}

// Throughput returns nested samples per second of the mode.
func (l *Learner) Throughput(m Mode) float64 {
	return l.work / l.mean[m]
}

// Mode returns the last used or the fixed mode.
func (l *Learner) Mode() Mode {
	return l.mode
}

// Frozen is true once the decision is made.
func (l *Learner) Frozen() bool {
	return l.frozen
}

// Samples returns the number of measurements of the mode.
func (l *Learner) Samples(m Mode) int {
	return l.n[m]
}

// MeanCost returns the mean cost of the mode.
func (l *Learner) MeanCost(m Mode) time.Duration {
	return time.Duration(l.mean[m] * float64(time.Second))
}
