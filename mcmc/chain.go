// Package mcmc implements the Metropolis-Hastings engine: the main
// chain with consistency checks and checkpoints, nested chains on
// state partitions, a worker pool and a multi-step operator which
// learns whether to run its nested chains in parallel.
package mcmc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/pmcmc/model"
	"bitbucket.org/Davydov/pmcmc/operator"
	"bitbucket.org/Davydov/pmcmc/schedule"
	"bitbucket.org/Davydov/pmcmc/state"
)

// log is the global logging variable.
var log = logging.MustGetLogger("mcmc")

var (
	// ErrDebugMismatch is returned when the tracked posterior
	// differs from the recomputed one inside the debug window.
	ErrDebugMismatch = errors.New("posterior incorrectly calculated")
	// ErrTooManyCorrections is returned when the correction limit
	// is exhausted.
	ErrTooManyCorrections = errors.New("too many posterior corrections")
	// ErrPositiveInfinity is returned for a positive infinite
	// posterior.
	ErrPositiveInfinity = errors.New("positive infinite posterior, the model is numerically unstable")
	// ErrDensity wraps density evaluation errors.
	ErrDensity = errors.New("density evaluation failed")
	// ErrStepStraddle is returned when a multi-step operator crossed
	// a logging boundary.
	ErrStepStraddle = errors.New("multi-step operator crossed a logging boundary")
	// ErrPanic wraps panics inside nested chains.
	ErrPanic = errors.New("panic in a nested chain")
)

// Persister stores the chain.
type Persister interface {
	// Checkpoint saves the state after sample sampleNr.
	Checkpoint(st *state.State, sampleNr int64, logP float64) error
	// CheckpointSchedule saves the operator states.
	CheckpointSchedule(sch *schedule.Schedule) error
}

// Logger records samples at regular intervals.
type Logger interface {
	// Every is the logging interval.
	Every() int
	// Log records the state at sampleNr.
	Log(sampleNr int64, st *state.State, logP float64) error
}

// Config contains chain settings.
type Config struct {
	// ChainLength is the last sample number.
	ChainLength int64
	// BurnIn is the number of samples before sample 0. They are
	// not counted in operator statistics and do not tune.
	BurnIn int64
	// StoreEvery is the checkpoint interval, <= 0 only stores
	// the final sample.
	StoreEvery int64
	// Debug enables frequent consistency checks inside the debug
	// window.
	Debug bool
	// DebugWindow is the last sample of the debug window. Any
	// mismatch inside the window is fatal.
	DebugWindow int64
	// DebugEvery is the check interval inside the debug window.
	DebugEvery int64
	// CheckEvery is the check interval for the whole run, <= 0
	// disables it.
	CheckEvery int64
	// MaxCorrections is the number of repairs allowed after the
	// debug window.
	MaxCorrections int
	// Tolerance is the relative difference considered a mismatch.
	Tolerance float64
}

// DefaultConfig returns config with default values.
func DefaultConfig() Config {
	return Config{
		ChainLength:    10000,
		BurnIn:         0,
		StoreEvery:     0,
		DebugWindow:    6000,
		DebugEvery:     2,
		CheckEvery:     10000,
		MaxCorrections: 100,
		Tolerance:      1e-6,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.ChainLength < 0:
		return errors.New("chain length should be >= 0")
	case c.BurnIn < 0:
		return errors.New("burn-in should be >= 0")
	case c.Debug && c.DebugEvery <= 0:
		return errors.New("debug interval should be > 0")
	case c.MaxCorrections < 0:
		return errors.New("number of corrections should be >= 0")
	case c.Tolerance <= 0:
		return errors.New("tolerance should be > 0")
	}
	return nil
}

// Result summarizes a run.
type Result struct {
	// Iterations is the number of proposals made.
	Iterations int64 `json:"iterations"`
	// LastSample is the last sample produced.
	LastSample int64 `json:"lastSample"`
	// LogPosterior is the final log posterior.
	LogPosterior float64 `json:"logPosterior"`
	// Corrections is the number of repaired mismatches.
	Corrections int `json:"corrections"`
	// Elapsed is the wall clock run time.
	Elapsed time.Duration `json:"elapsed"`
}

// Chain is the main Metropolis-Hastings chain.
type Chain struct {
	stepper
	cfg       Config
	loggers   []Logger
	persister Persister
	start     int64

	corrections int
	iterations  int64
	last        int64
}

// NewChain creates a new chain. Logger intervals define the logging
// boundaries multi-step operators cannot cross. If density is a
// calculation node it is registered with st.
func NewChain(cfg Config, st *state.State, density model.Density, ops []operator.Operator, loggers []Logger, rng *rand.Rand) (*Chain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateOperators(st, ops); err != nil {
		return nil, err
	}
	every := make([]int, 0, len(loggers))
	for _, l := range loggers {
		if l.Every() <= 0 {
			return nil, fmt.Errorf("logging interval should be > 0, got %d", l.Every())
		}
		every = append(every, l.Every())
	}
	sch, err := schedule.New(ops, every)
	if err != nil {
		return nil, err
	}
	if c, ok := density.(state.CalcNode); ok {
		st.AddCalcNode(c)
	}
	return &Chain{
		stepper: stepper{
			st:      st,
			density: density,
			sch:     sch,
			rng:     rng,
		},
		cfg:     cfg,
		loggers: loggers,
		start:   -cfg.BurnIn,
		last:    -cfg.BurnIn - 1,
	}, nil
}

// SetPersister sets the checkpoint storage.
func (c *Chain) SetPersister(p Persister) {
	c.persister = p
}

// SetStart sets the first sample number, used when resuming.
func (c *Chain) SetStart(sampleNr int64) {
	c.start = sampleNr
	c.last = sampleNr - 1
}

// Schedule returns the operator schedule.
func (c *Chain) Schedule() *schedule.Schedule {
	return c.sch
}

// State returns the chain state.
func (c *Chain) State() *state.State {
	return c.st
}

// LogPosterior returns the current log posterior.
func (c *Chain) LogPosterior() float64 {
	return c.logP
}

// Run samples until the chain length is reached, an error occurs or
// ctx is cancelled. The state is persisted before any error is
// returned.
func (c *Chain) Run(ctx context.Context) (res Result, err error) {
	started := time.Now()
	defer func() {
		res = c.result(started)
	}()

	if err = c.initialize(); err != nil {
		return
	}
	if math.IsInf(c.logP, 1) {
		err = c.fatal(c.last, ErrPositiveInfinity)
		return
	}
	log.Infof("Start posterior: %f", c.logP)
	if c.start < 0 {
		log.Noticef("Please wait while taking %d pre-burnin samples", -c.start)
	}

	for n := c.start; n <= c.cfg.ChainLength; {
		select {
		case <-ctx.Done():
			log.Warningf("Interrupted at sample %d, saving the state.", n)
			if perr := c.persist(c.last); perr != nil {
				log.Error(perr)
			}
			err = ctx.Err()
			return
		default:
		}

		var op operator.Operator
		op, err = c.propagate(n)
		if err != nil {
			// back to the last consistent state
			c.st.Restore()
			err = c.fatal(n-1, err)
			return
		}
		c.iterations++

		steps := int64(1)
		if m, ok := op.(operator.MultiStep); ok {
			if k := m.StepsConsumed(); k > 1 {
				steps = int64(k)
			}
			if err = c.checkStraddle(n, steps, op); err != nil {
				err = c.fatal(n+steps-1, err)
				return
			}
		}
		c.last = n + steps - 1

		if c.shouldCheck(n) {
			if err = c.check(n, op); err != nil {
				err = c.fatal(c.last, err)
				return
			}
		}
		if n >= 0 {
			c.tune(op)
		}

		if err = c.record(n); err != nil {
			err = c.fatal(c.last, err)
			return
		}

		if (c.cfg.StoreEvery > 0 && crosses(n, n+steps, c.cfg.StoreEvery)) || n+steps > c.cfg.ChainLength {
			if err = c.persist(c.last); err != nil {
				return
			}
		}

		if math.IsInf(c.logP, 1) {
			err = c.fatal(c.last, ErrPositiveInfinity)
			return
		}

		n += steps
	}

	if c.corrections > 0 {
		log.Warningf("NB: %d posterior calculation corrections were required. This analysis may not be valid!", c.corrections)
	}
	c.sch.Report()
	return
}

// result creates the run summary.
func (c *Chain) result(started time.Time) Result {
	return Result{
		Iterations:   c.iterations,
		LastSample:   c.last,
		LogPosterior: c.logP,
		Corrections:  c.corrections,
		Elapsed:      time.Since(started),
	}
}

// checkStraddle verifies that a multi-step proposal at n did not
// cross a logging boundary.
func (c *Chain) checkStraddle(n, steps int64, op operator.Operator) error {
	for _, e := range c.sch.LogEvery() {
		if crosses(n, n+steps-1, int64(e)) {
			return fmt.Errorf("%w: %s at sample %d consumed %d steps, interval %d",
				ErrStepStraddle, op.Name(), n, steps, e)
		}
	}
	return nil
}

// shouldCheck implements both consistency check cadences: every
// DebugEvery sample inside the debug window when debugging and every
// CheckEvery sample always.
func (c *Chain) shouldCheck(n int64) bool {
	if c.cfg.Debug && n <= c.cfg.DebugWindow && n%c.cfg.DebugEvery == 0 {
		return true
	}
	return c.cfg.CheckEvery > 0 && n%c.cfg.CheckEvery == 0
}

// check compares the tracked posterior with the recomputed one.
func (c *Chain) check(n int64, op operator.Operator) error {
	var (
		orig, robust float64
		err          error
	)
	if c.density.IsStochastic() {
		orig = c.density.NonStochasticLogDensity()
		robust, err = c.density.RobustNonStochasticLogDensity()
	} else {
		orig = c.logP
		robust, err = c.density.RobustLogDensity()
	}
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDensity, err)
	}
	if !tooDifferent(robust, orig, c.cfg.Tolerance) {
		return nil
	}
	log.Warningf("At sample %d posterior incorrectly calculated: %f != %f (%g), operator: %s",
		n, orig, robust, orig-robust, op.Name())
	if n <= c.cfg.DebugWindow {
		return fmt.Errorf("%w at sample %d (%s)", ErrDebugMismatch, n, op.Name())
	}
	c.corrections++
	if c.corrections > c.cfg.MaxCorrections {
		log.Error("Too many corrections. There is something seriously wrong that cannot be corrected")
		return fmt.Errorf("%w: %d", ErrTooManyCorrections, c.corrections)
	}
	if inv, ok := c.density.(invalidator); ok {
		inv.Invalidate()
	}
	c.logP, err = c.density.RobustLogDensity()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDensity, err)
	}
	return nil
}

// tooDifferent compares values using relative difference, or
// absolute difference if orig is zero.
func tooDifferent(v, orig, tol float64) bool {
	if v == orig {
		return false
	}
	if math.IsInf(v, 0) || math.IsInf(orig, 0) || math.IsNaN(v) != math.IsNaN(orig) {
		return true
	}
	d := math.Abs(v - orig)
	if orig != 0 {
		d /= math.Abs(orig)
	}
	return d > tol
}

// record logs the sample for every logger with a matching interval.
func (c *Chain) record(n int64) error {
	if n < 0 {
		return nil
	}
	for _, l := range c.loggers {
		if n%int64(l.Every()) == 0 {
			if err := l.Log(n, c.st, c.logP); err != nil {
				return err
			}
		}
	}
	return nil
}

// persist checkpoints the state and the schedule.
func (c *Chain) persist(sampleNr int64) error {
	if c.persister == nil {
		return nil
	}
	if err := c.persister.Checkpoint(c.st, sampleNr, c.logP); err != nil {
		return err
	}
	return c.persister.CheckpointSchedule(c.sch)
}

// fatal persists the state and returns err.
func (c *Chain) fatal(sampleNr int64, err error) error {
	log.Errorf("Fatal error at sample %d: %v", sampleNr+1, err)
	if perr := c.persist(sampleNr); perr != nil {
		log.Errorf("Error saving the state: %v", perr)
	}
	return err
}
