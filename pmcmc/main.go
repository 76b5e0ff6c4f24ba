/*

Pmcmc samples a posterior density with a Metropolis-Hastings chain.
Operators can run nested chains on disjoint parts of the state, and
whether the nested chains run in parallel is learned from the
measured throughput.

The basic usage looks like this:

	pmcmc -config run.yaml -out trace.tsv

Without a run file two independent standard normals are sampled.

To see all the options run:

	pmcmc -h

*/
package main

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/op/go-logging"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/pmcmc/checkpoint"
	"bitbucket.org/Davydov/pmcmc/config"
	"bitbucket.org/Davydov/pmcmc/mcmc"
	"bitbucket.org/Davydov/pmcmc/operator"
	"bitbucket.org/Davydov/pmcmc/optimize"
	"bitbucket.org/Davydov/pmcmc/trace"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = "branch: " + gitbranch + ", revision: " + githash + ", build time: " + buildstamp

// Logger settings.
var log = logging.MustGetLogger("pmcmc")
var formatter = logging.MustStringFormatter(`%{message}`)

// packages with loggers
var modules = []string{"pmcmc", "mcmc", "state", "model", "operator", "schedule",
	"checkpoint", "config", "optimize", "trace"}

// command-line options
var (
	// application
	app = kingpin.New("pmcmc", "multi-step self-tuning MCMC sampler").Version(version)

	// run file
	configF = app.Flag("config", "YAML run file, the toy posterior by default").ExistingFile()

	// chain parameters, override the run file
	chainLength = app.Flag("chain", "chain length").Default("-1").Int64()
	burnIn      = app.Flag("burnin", "number of pre-burnin samples").Default("-1").Int64()
	storeEvery  = app.Flag("store", "save a checkpoint every N samples").Default("-1").Int64()
	debug       = app.Flag("debug", "check the posterior consistency during the first samples").Bool()
	logEvery    = app.Flag("log-every", "logging interval").Default("0").Int()
	learn       = app.Flag("learn", "number of parallel operator proposals used to choose the execution mode").Default("-1").Int()

	// technical
	nThreads   = app.Flag("nt", "number of threads to use").Int()
	seed       = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()

	// checkpoints
	dbF    = app.Flag("db", "checkpoint database").String()
	resume = app.Flag("resume", "resume from the checkpoint").Bool()
	mapEst = app.Flag("map", "start from the maximum a posteriori point").Bool()

	// input/output
	outLogF  = app.Flag("log", "write log to a file").String()
	outF     = app.Flag("out", "write the trace to a file").String()
	plotF    = app.Flag("plot", "save the trace plot").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()
)

// loadConfig reads the run file and applies the command-line
// overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configF != "" {
		var err error
		if cfg, err = config.Load(*configF); err != nil {
			return nil, err
		}
	}
	if *chainLength >= 0 {
		cfg.Chain.Length = *chainLength
	}
	if *burnIn >= 0 {
		cfg.Chain.BurnIn = *burnIn
	}
	if *storeEvery >= 0 {
		cfg.Chain.Store = *storeEvery
	}
	if *debug {
		cfg.Chain.Debug = true
	}
	if *logEvery > 0 {
		cfg.Chain.LogEvery = []int{*logEvery}
	}
	if *learn >= 0 {
		for i := range cfg.Parallel {
			cfg.Parallel[i].Learn = *learn
		}
	}
	return cfg, nil
}

func run(ctx context.Context, summary *RunSummary, rng *rand.Rand) error {
	startTime := time.Now()
	defer func() {
		summary.Time = time.Since(startTime).Seconds()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pool := mcmc.NewPool(*nThreads)
	defer pool.Close()
	summary.NThreads = pool.Size()
	log.Infof("Using threads: %d.", pool.Size())

	m, err := cfg.Build(operator.NewRegistry(), pool, rng)
	if err != nil {
		return err
	}

	var db *bolt.DB
	if *dbF != "" {
		db, err = bolt.Open(*dbF, 0666, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return err
		}
		defer db.Close()
	}
	store := checkpoint.NewStore(db, "chain", cfg.Chain.Length)

	// resumed runs start right after the checkpoint, which can be
	// inside the burn-in
	var (
		start   int64
		resumed bool
	)
	if *resume {
		data, err := store.Load()
		if err != nil {
			return err
		}
		if data != nil {
			if data.Final {
				log.Warning("The chain has already finished")
			}
			if err := m.State.Load(data.Values); err != nil {
				return err
			}
			store.SetRunID(data.RunID)
			start = data.SampleNr + 1
			resumed = true
		}
	}
	summary.RunID = store.RunID()
	log.Infof("Run id: %s", store.RunID())

	if *mapEst && !resumed {
		maxL, err := optimize.MaximizePosterior(ctx, m.State, m.Density)
		if err != nil {
			return err
		}
		log.Noticef("Starting from the maximum a posteriori point, logP=%f", maxL)
	}

	var w io.Writer = ioutil.Discard
	if *outF != "" {
		f, err := os.OpenFile(*outF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	every := cfg.Chain.LogEvery
	if len(every) == 0 {
		every = []int{1000}
	}
	tls := make([]*trace.Logger, len(every))
	loggers := make([]mcmc.Logger, len(every))
	for i, e := range every {
		tls[i] = trace.NewLogger(w, e)
		// only the first logger writes
		tls[i].Quiet = i > 0
		loggers[i] = tls[i]
	}

	chain, err := mcmc.NewChain(cfg.ChainConfig(), m.State, m.Density, m.Operators, loggers, rng)
	if err != nil {
		return err
	}
	chain.SetPersister(store)
	if resumed {
		ops, err := store.LoadSchedule()
		if err != nil {
			return err
		}
		chain.Schedule().Load(ops)
		chain.SetStart(start)
	}

	res, err := chain.Run(ctx)
	summary.Result = res
	if err != nil {
		return err
	}

	summary.Parameters = tls[0].Summary(0.1)
	for _, s := range summary.Parameters {
		log.Noticef("%s: mean=%f sd=%f 95%% interval=[%f, %f]", s.Name, s.Mean, s.SD, s.Lower, s.Upper)
	}
	for _, op := range m.Operators {
		if po, ok := op.(*mcmc.ParallelOperator); ok && po.Learner() != nil {
			summary.Modes = append(summary.Modes, ModeSummary{
				Operator: po.Name(),
				Mode:     po.Learner().Mode().String(),
				Frozen:   po.Learner().Frozen(),
			})
		}
	}
	if *plotF != "" {
		if err := tls[0].Plot(*plotF); err != nil {
			log.Error("Error saving plot:", err)
		}
	}
	return nil
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)
	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)
	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, m := range modules {
		logging.SetLevel(level, m)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", *seed)
	rng := rand.New(rand.NewSource(*seed))

	if *nThreads > 0 {
		runtime.GOMAXPROCS(*nThreads)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := &RunSummary{
		Version:     version,
		CommandLine: os.Args,
		Seed:        *seed,
	}
	runErr := run(ctx, summary, rng)

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			if err := ioutil.WriteFile(*jsonF, j, 0666); err != nil {
				log.Error("Error creating json output file:", err)
			}
		}
	}

	if runErr != nil {
		if *cpuProfile != "" {
			pprof.StopCPUProfile()
		}
		log.Fatal(runErr)
	}
}
