package main

import (
	"bufio"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	bolt "go.etcd.io/bbolt"

	"bitbucket.org/Davydov/pmcmc/checkpoint"
	"bitbucket.org/Davydov/pmcmc/state"
)

func parse(tst *testing.T, args ...string) {
	if _, err := app.Parse(args); err != nil {
		tst.Fatal("Error parsing command line: ", err)
	}
}

func countLines(tst *testing.T, fn string) (n int, last string) {
	f, err := os.Open(fn)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
		last = scanner.Text()
	}
	return
}

func TestRunResume(tst *testing.T) {
	dir := tst.TempDir()
	db := filepath.Join(dir, "checkpoint.db")
	out := filepath.Join(dir, "trace.tsv")

	parse(tst, "--chain", "1000", "--log-every", "100", "--store", "250",
		"--db", db, "--out", out, "--no-resume", "--no-map")
	summary := &RunSummary{}
	if err := run(context.Background(), summary, rand.New(rand.NewSource(1))); err != nil {
		tst.Fatal("Error: ", err)
	}
	if summary.Result.LastSample != 1000 || summary.RunID == "" {
		tst.Fatalf("Wrong summary: %+v", summary)
	}
	// header and samples 0, 100, ..., 1000
	if n, _ := countLines(tst, out); n != 12 {
		tst.Errorf("Expected 12 trace lines, got %d", n)
	}
	if len(summary.Parameters) != 2 {
		tst.Errorf("Expected two parameter summaries, got %d", len(summary.Parameters))
	}

	parse(tst, "--chain", "2000", "--log-every", "100", "--store", "250",
		"--db", db, "--out", out, "--resume", "--no-map")
	resumed := &RunSummary{}
	if err := run(context.Background(), resumed, rand.New(rand.NewSource(2))); err != nil {
		tst.Fatal("Error: ", err)
	}
	if resumed.RunID != summary.RunID {
		tst.Errorf("Run id changed: %s != %s", resumed.RunID, summary.RunID)
	}
	if resumed.Result.LastSample != 2000 {
		tst.Errorf("Wrong last sample: %d", resumed.Result.LastSample)
	}
	// the resumed chain starts at 1001 and appends 1100, ..., 2000
	n, last := countLines(tst, out)
	if n != 12+1+10 || !strings.HasPrefix(last, "2000\t") {
		tst.Errorf("Wrong trace after resume: %d lines, last %q", n, last)
	}
}

func TestResumeBurnIn(tst *testing.T) {
	db := filepath.Join(tst.TempDir(), "checkpoint.db")
	bdb, err := bolt.Open(db, 0600, nil)
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	st, _ := state.New(state.NewScalar("x", 0.5), state.NewScalar("y", -0.5))
	store := checkpoint.NewStore(bdb, "chain", 1000)
	if err := store.Checkpoint(st, -50, -2); err != nil {
		tst.Fatal("Error: ", err)
	}
	bdb.Close()

	parse(tst, "--chain", "1000", "--burnin", "100", "--store", "0", "--log-every", "100",
		"--db", db, "--out", "", "--resume", "--map")
	summary := &RunSummary{}
	if err := run(context.Background(), summary, rand.New(rand.NewSource(3))); err != nil {
		tst.Fatal("Error: ", err)
	}
	if summary.RunID != store.RunID() {
		tst.Errorf("Run id changed: %s != %s", summary.RunID, store.RunID())
	}
	// samples -49, ..., 1000
	if summary.Result.Iterations != 1050 || summary.Result.LastSample != 1000 {
		tst.Errorf("Burn-in was not resumed: %+v", summary.Result)
	}
}

func TestRunMAP(tst *testing.T) {
	parse(tst, "--chain", "0", "--burnin", "0", "--map", "--no-resume", "--db", "", "--out", "")
	summary := &RunSummary{}
	if err := run(context.Background(), summary, rand.New(rand.NewSource(1))); err != nil {
		tst.Fatal("Error: ", err)
	}
	if summary.Result.LastSample != 0 {
		tst.Errorf("Wrong last sample: %d", summary.Result.LastSample)
	}
}
