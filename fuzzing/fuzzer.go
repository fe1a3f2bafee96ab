package fuzzing

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mantidfuzz/mantid/fuzzing/config"
	corpusTypes "github.com/mantidfuzz/mantid/fuzzing/corpus"
	"github.com/mantidfuzz/mantid/fuzzing/coverage"
	"github.com/mantidfuzz/mantid/fuzzing/mutation"
	"github.com/mantidfuzz/mantid/fuzzing/scheduler"
	"github.com/mantidfuzz/mantid/logging"
	"github.com/mantidfuzz/mantid/logging/colors"
	"github.com/mantidfuzz/mantid/utils"
	"github.com/pkg/errors"
)

// CampaignState describes the lifecycle state of a Fuzzer.
type CampaignState string

const (
	// CampaignStateIdle indicates the Fuzzer has been created but not yet started.
	CampaignStateIdle CampaignState = "idle"

	// CampaignStateRunning indicates the Fuzzer is executing its fuzzing loop.
	CampaignStateRunning CampaignState = "running"

	// CampaignStateStopped indicates the Fuzzer finished its fuzzing loop. A stopped Fuzzer is not restarted.
	CampaignStateStopped CampaignState = "stopped"
)

// Fuzzer represents a mutation-based, coverage-guided fuzzing provider.
type Fuzzer struct {
	// ctx describes the context for the fuzzing run, used to cancel running operations.
	ctx context.Context
	// ctxCancelFunc describes a function which can be used to cancel the fuzzing operations ctx tracks.
	ctxCancelFunc context.CancelFunc

	// config describes the project configuration which the fuzzing is targeting.
	config config.ProjectConfig
	// baseValueSet represents a mutation.ValueSet containing byte tokens for the mutators to splice into inputs.
	baseValueSet *mutation.ValueSet
	// seeds describes initial inputs supplied programmatically, loaded into the corpus when the campaign starts.
	seeds [][]byte

	// state describes the lifecycle state of the campaign.
	state CampaignState
	// stateLock provides thread-synchronization to avoid race conditions when accessing or updating state.
	stateLock sync.Mutex

	// workers represents the work threads created by this Fuzzer when Start invokes a fuzz operation.
	workers []*FuzzerWorker
	// metrics represents the metrics for the fuzzing campaign.
	metrics *FuzzerMetrics
	// executionCount tracks the total amount of test case executions performed, checked against the campaign's
	// iteration budget.
	executionCount atomic.Uint64
	// workerSpawnCount tracks the total amount of workers spawned, including respawns after resets. It derives each
	// worker's random seed so respawned workers do not repeat mutation sequences.
	workerSpawnCount atomic.Int64
	// corpus stores the retained test cases and the bug set for coverage-guided fuzzing.
	corpus *corpusTypes.Corpus
	// scheduler selects which retained test case each worker mutates next.
	scheduler *scheduler.Scheduler
	// coverageMaps describes the total coverage known to be achieved across the fuzzing campaign.
	coverageMaps *coverage.CoverageMaps

	// randomSeed describes the base seed for the campaign's random number generators. Worker providers derive from
	// it so a fixed seed with a single worker yields reproducible campaigns.
	randomSeed int64

	// logger describes the Fuzzer's log object that can be used to log important events
	logger *logging.Logger

	// Events describes the event system for the Fuzzer.
	Events FuzzerEvents

	// Hooks describes the replaceable functions used by the Fuzzer.
	Hooks FuzzerHooks
}

// NewFuzzer returns an instance of a new Fuzzer provided a project configuration, or an error if one is encountered
// while initializing the code.
func NewFuzzer(config config.ProjectConfig) (*Fuzzer, error) {
	// Validate our provided config
	err := config.Validate()
	if err != nil {
		return nil, &InvalidInputError{Reason: err.Error()}
	}

	// Determine our base random seed. A configured zero value seeds from the current time, making each campaign
	// unique.
	randomSeed := config.Fuzzing.RandomSeed
	if randomSeed == 0 {
		randomSeed = time.Now().UnixNano()
	}

	// Create and return our fuzzing instance.
	fuzzer := &Fuzzer{
		config:       config,
		baseValueSet: mutation.NewValueSet(),
		seeds:        make([][]byte, 0),
		state:        CampaignStateIdle,
		randomSeed:   randomSeed,
		logger:       logging.GlobalLogger.NewSubLogger("module", "fuzzer"),
		Hooks: FuzzerHooks{
			NewMutatorFunc:   defaultNewMutatorFunc,
			NewExecutorFunc:  defaultNewExecutorFunc,
			NewSchedulerFunc: defaultNewSchedulerFunc,
		},
	}

	// Load any configured dictionary tokens into our base value set for the mutators.
	if config.Fuzzing.DictionaryPath != "" {
		err = fuzzer.baseValueSet.AddTokensFromDictionaryFile(config.Fuzzing.DictionaryPath)
		if err != nil {
			return nil, err
		}
	}

	return fuzzer, nil
}

// Config returns the project configuration of the Fuzzer.
func (f *Fuzzer) Config() config.ProjectConfig {
	return f.config
}

// BaseValueSet returns the base mutation.ValueSet containing the byte tokens the fuzzer's mutators splice into
// inputs. This can be modified at will prior to a fuzzing campaign starting.
func (f *Fuzzer) BaseValueSet() *mutation.ValueSet {
	return f.baseValueSet
}

// State returns the lifecycle state of the fuzzing campaign.
func (f *Fuzzer) State() CampaignState {
	f.stateLock.Lock()
	defer f.stateLock.Unlock()
	return f.state
}

// Corpus returns the corpus of the Fuzzer, holding its retained test cases and its bug set. It is nil before the
// campaign starts.
func (f *Fuzzer) Corpus() *corpusTypes.Corpus {
	return f.corpus
}

// Metrics returns the metrics of the Fuzzer's current campaign. It is nil before the campaign starts.
func (f *Fuzzer) Metrics() *FuzzerMetrics {
	return f.metrics
}

// CoverageMaps returns the total coverage achieved across the fuzzing campaign. It is nil before the campaign
// starts.
func (f *Fuzzer) CoverageMaps() *coverage.CoverageMaps {
	return f.coverageMaps
}

// RandomSeed returns the base seed for the campaign's random number generators.
func (f *Fuzzer) RandomSeed() int64 {
	return f.randomSeed
}

// AddSeeds supplies initial inputs programmatically. They are loaded into the corpus when the campaign starts, in
// the order provided.
func (f *Fuzzer) AddSeeds(seeds ...[]byte) {
	f.seeds = append(f.seeds, seeds...)
}

// transitionState moves the campaign lifecycle from an expected state to a new one.
// Returns an error if the campaign is not in the expected state.
func (f *Fuzzer) transitionState(from CampaignState, to CampaignState) error {
	f.stateLock.Lock()
	defer f.stateLock.Unlock()
	if f.state != from {
		return errors.Errorf("cannot transition fuzzing campaign from state %q, it is %q", from, f.state)
	}
	f.state = to
	return nil
}

// loadSeeds populates the corpus with initial inputs: any test cases the corpus reloaded from a previous campaign,
// files from the configured seed directory, and seeds supplied programmatically.
// Returns an InvalidInputError if no initial inputs exist at all.
func (f *Fuzzer) loadSeeds() error {
	// Read seed files from our configured seed directory, in stable file name order.
	if f.config.Fuzzing.SeedDirectory != "" {
		seedPaths, err := filepath.Glob(filepath.Join(f.config.Fuzzing.SeedDirectory, "*"))
		if err != nil {
			return errors.WithStack(err)
		}
		for _, seedPath := range seedPaths {
			info, err := os.Stat(seedPath)
			if err != nil {
				return errors.WithStack(err)
			}
			if info.IsDir() {
				continue
			}
			data, err := os.ReadFile(seedPath)
			if err != nil {
				return errors.WithStack(err)
			}
			err = f.corpus.AddTestCase(corpusTypes.NewTestCase(data, ""))
			if err != nil {
				return err
			}
		}
	}

	// Add any seeds supplied programmatically.
	for _, seed := range f.seeds {
		err := f.corpus.AddTestCase(corpusTypes.NewTestCase(seed, ""))
		if err != nil {
			return err
		}
	}

	// A campaign cannot mutate its way out of an empty corpus.
	if f.corpus.TestCaseCount() == 0 {
		return &InvalidInputError{Reason: "no seed inputs were provided and the corpus is empty"}
	}
	return nil
}

// spawnWorkersLoop is a long-running method which spawns and respawns workers as they hit their reset limits, until
// the fuzzing campaign is cancelled or a worker reports a fatal error.
// Returns an error if one occurred.
func (f *Fuzzer) spawnWorkersLoop() error {
	// We create our fuzz workers in a loop, using a channel to block when we reach capacity.
	// If we encounter any errors, we stop.
	f.workers = make([]*FuzzerWorker, f.config.Fuzzing.Workers)
	threadReserveChannel := make(chan struct{}, f.config.Fuzzing.Workers)

	// Workers are "reset" when they hit some config-defined limit. They are destroyed and recreated at the same
	// index. For now, we create our available index queue before entering our main loop.
	availableWorkerIndexes := make([]int, f.config.Fuzzing.Workers)
	availableWorkerIndexedLock := sync.Mutex{}
	for i := 0; i < len(availableWorkerIndexes); i++ {
		availableWorkerIndexes[i] = i
	}

	// Define a flag that indicates whether we have not cancelled our context.
	working := !utils.CheckContextDone(f.ctx)

	// Log that we are about to create the workers and start fuzzing
	f.logger.Info("Creating ", colors.Bold, f.config.Fuzzing.Workers, colors.Reset, " workers...")
	var err error
	for err == nil && working {
		// Send an item into our channel to queue up a spot. This will block us if we hit capacity until a worker
		// slot is freed up.
		threadReserveChannel <- struct{}{}

		// Pop a worker index off of our queue
		availableWorkerIndexedLock.Lock()
		workerIndex := availableWorkerIndexes[0]
		availableWorkerIndexes = availableWorkerIndexes[1:]
		availableWorkerIndexedLock.Unlock()

		// Run our goroutine. This should take our queued struct out of the channel once it's done, keeping us at
		// our desired thread capacity. If we encounter an error, we store it and continue processing the cleanup
		// logic to exit gracefully.
		go func(workerIndex int) {
			// Create a new worker for this fuzzing campaign.
			worker, workerCreatedErr := newFuzzerWorker(f, workerIndex)
			f.workers[workerIndex] = worker
			if err == nil && workerCreatedErr != nil {
				err = workerCreatedErr
			}
			if err == nil {
				// Publish an event indicating we created a worker.
				f.Events.WorkerCreated.Publish(FuzzerWorkerCreatedEvent{Worker: worker})

				// Run the worker and check if we received a cancelled signal, or we encountered an error.
				ctxCancelled, workerErr := worker.run()
				if workerErr != nil {
					err = workerErr
				}

				// If we received a cancelled signal, signal our exit from the working loop.
				if working && ctxCancelled {
					working = false
				}
			}

			// Free our worker id before unblocking our channel, as a free one will be expected.
			availableWorkerIndexedLock.Lock()
			availableWorkerIndexes = append(availableWorkerIndexes, workerIndex)
			availableWorkerIndexedLock.Unlock()

			// Publish an event indicating we destroyed a worker.
			f.Events.WorkerDestroyed.Publish(FuzzerWorkerDestroyedEvent{Worker: worker})

			// Unblock our channel by freeing our capacity of another item, making way for another worker.
			<-threadReserveChannel
		}(workerIndex)
	}

	// Explicitly call cancel on our context to ensure all threads exit if we encountered an error.
	if f.ctxCancelFunc != nil {
		f.ctxCancelFunc()
	}

	// Wait for every worker to be freed, so we don't have a race condition when reporting the order of events to
	// any event subscribers.
	for {
		// Obtain the count of free workers.
		availableWorkerIndexedLock.Lock()
		freeWorkers := len(availableWorkerIndexes)
		availableWorkerIndexedLock.Unlock()

		// We keep waiting until every worker is free
		if freeWorkers == len(f.workers) {
			break
		} else {
			time.Sleep(50 * time.Millisecond)
		}
	}
	return err
}

// Start begins a fuzzing campaign per the Fuzzer's configuration, blocking until the campaign stops.
// Returns an error if one occurred.
func (f *Fuzzer) Start() error {
	// Define our variable to catch errors
	var err error

	// Only an idle campaign may be started. A stopped campaign is not restarted.
	if err = f.transitionState(CampaignStateIdle, CampaignStateRunning); err != nil {
		return err
	}

	// Create our running context (allows us to cancel across threads)
	f.ctx, f.ctxCancelFunc = context.WithCancel(context.Background())

	// If we set a timeout, create the timeout context now, as we're about to begin fuzzing.
	if f.config.Fuzzing.Timeout > 0 {
		f.logger.Info("Running with a timeout of ", colors.Bold, f.config.Fuzzing.Timeout, colors.Reset, " seconds")
		f.ctx, f.ctxCancelFunc = context.WithTimeout(f.ctx, time.Duration(f.config.Fuzzing.Timeout)*time.Second)
	}

	// A campaign that ends for any reason is stopped for good.
	defer func() {
		f.stateLock.Lock()
		f.state = CampaignStateStopped
		f.stateLock.Unlock()
	}()

	// Set up the corpus, reloading any test cases a prior campaign persisted.
	f.corpus, err = corpusTypes.NewCorpus(f.config.Fuzzing.CorpusDirectory)
	if err != nil {
		return err
	}

	// Load our initial inputs.
	err = f.loadSeeds()
	if err != nil {
		return err
	}
	f.logger.Info("Loaded ", colors.Bold, f.corpus.TestCaseCount(), colors.Reset, " initial test case(s)")

	// Initialize our metrics, campaign coverage, and execution count.
	f.metrics = newFuzzerMetrics(f.config.Fuzzing.Workers)
	f.coverageMaps = coverage.NewCoverageMaps()
	f.executionCount.Store(0)
	f.workerSpawnCount.Store(0)

	// Create the campaign scheduler, shared by all workers.
	f.scheduler, err = f.Hooks.NewSchedulerFunc(f, rand.New(rand.NewSource(f.randomSeed)))
	if err != nil {
		return err
	}

	// Start our printing loop now that we're about to begin fuzzing.
	go f.runMetricsPrintLoop()

	// Publish a fuzzer starting event.
	f.Events.FuzzerStarting.Publish(FuzzerStartingEvent{Fuzzer: f})

	// Run the main worker loop
	err = f.spawnWorkersLoop()

	// NOTE: After this point, we capture errors but do not return immediately, as we want to exit gracefully.

	// Flush and release the corpus. We do this even if we had a previous error, as we don't want to lose corpus
	// entries or bug artifacts.
	corpusCloseErr := f.corpus.Close()
	if err == nil {
		err = corpusCloseErr
	}

	// Publish a fuzzer stopping event.
	f.Events.FuzzerStopping.Publish(FuzzerStoppingEvent{Fuzzer: f, err: err})

	// Print our campaign results.
	f.printCampaignResults()

	// Return any encountered error.
	return err
}

// Stop stops a running campaign. Stopping is cooperative: workers observe the cancellation at their next iteration
// boundary, and an execution already in flight runs to its own completion or timeout first.
func (f *Fuzzer) Stop() {
	// Call the cancel function on our running context to stop all working goroutines
	if f.ctxCancelFunc != nil {
		f.ctxCancelFunc()
	}
}

// printCampaignResults logs a summary of the campaign's outcome, listing every recorded bug.
func (f *Fuzzer) printCampaignResults() {
	bugReports := f.corpus.BugReports()
	f.logger.Info("Fuzzer stopped, campaign results follow below ...")
	f.logger.Info(
		"Executions: ", colors.Bold, f.metrics.ExecutionsTested(), colors.Reset,
		", corpus size: ", colors.Bold, f.corpus.TestCaseCount(), colors.Reset,
		", unique edges: ", colors.Bold, f.coverageMaps.UniqueEdgeCount(), colors.Reset,
		", bugs: ", colors.Bold, len(bugReports), colors.Reset,
	)
	for _, bugReport := range bugReports {
		f.logger.Info(
			colors.RedBold, "[", bugReport.Metadata.CrashKind, "] ", colors.Reset,
			"input ", bugReport.TestCase.ID(),
			" (", bugReport.TestCase.Len(), " bytes, hash ", bugReport.TestCase.InputHash()[:16], ")",
		)
	}
}

// runMetricsPrintLoop prints a metrics update on a loop until the fuzzing campaign is cancelled.
func (f *Fuzzer) runMetricsPrintLoop() {
	// Define our start time
	startTime := time.Now()

	// Define cached variables for our metrics to calculate deltas.
	var lastExecutionsTested, lastWorkerStartupCount uint64
	lastPrintedTime := time.Time{}
	for !utils.CheckContextDone(f.ctx) {
		// Sleep some time between updates. Sleeping first avoids printing an update before any work happened.
		time.Sleep(time.Second * 3)
		if utils.CheckContextDone(f.ctx) {
			break
		}

		// Obtain our metrics
		executionsTested := f.metrics.ExecutionsTested()
		workerStartupCount := f.metrics.WorkerStartupCount()

		// Calculate time elapsed since the last update
		secondsSinceLastUpdate := time.Since(lastPrintedTime).Seconds()

		// Print a metrics update
		f.logger.Info(
			"fuzz: elapsed: ", colors.Bold, time.Since(startTime).Round(time.Second), colors.Reset,
			", execs: ", colors.Bold, executionsTested, colors.Reset,
			" (", colors.Bold, uint64(float64(executionsTested-lastExecutionsTested)/secondsSinceLastUpdate), colors.Reset, "/sec)",
			", corpus: ", colors.Bold, f.corpus.TestCaseCount(), colors.Reset,
			", edges: ", colors.Bold, f.coverageMaps.UniqueEdgeCount(), colors.Reset,
			", bugs: ", colors.Bold, f.metrics.BugsFound(), colors.Reset,
			", resets: ", colors.Bold, uint64(float64(workerStartupCount-lastWorkerStartupCount)/secondsSinceLastUpdate), colors.Reset, "/sec",
		)

		// Update our delta tracking metrics
		lastPrintedTime = time.Now()
		lastExecutionsTested = executionsTested
		lastWorkerStartupCount = workerStartupCount
	}
}
