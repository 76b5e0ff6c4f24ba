package main

import (
	"bitbucket.org/Davydov/pmcmc/mcmc"
	"bitbucket.org/Davydov/pmcmc/trace"
)

// RunSummary is storing pmcmc run summary information.
type RunSummary struct {
	// Version stores pmcmc version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// NThreads is the worker pool size.
	NThreads int `json:"nThreads"`
	// RunID identifies the chain, it is kept when resuming.
	RunID string `json:"runId"`
	// Time is the computations time in seconds.
	Time float64 `json:"time"`
	// Result is the chain outcome.
	Result mcmc.Result `json:"result"`
	// Parameters are the posterior summaries after discarding 10% of samples.
	Parameters []trace.Stat `json:"parameters,omitempty"`
	// Modes are the execution modes chosen for parallel operators.
	Modes []ModeSummary `json:"modes,omitempty"`
}

// ModeSummary is the learned execution mode of a parallel operator.
type ModeSummary struct {
	Operator string `json:"operator"`
	Mode     string `json:"mode"`
	Frozen   bool   `json:"frozen"`
}
