package fuzzing

import (
	"math/rand"
	"time"

	corpusTypes "github.com/mantidfuzz/mantid/fuzzing/corpus"
	"github.com/mantidfuzz/mantid/fuzzing/executor"
	"github.com/mantidfuzz/mantid/fuzzing/mutation"
	"github.com/mantidfuzz/mantid/utils"
)

// FuzzerWorker describes a single thread worker utilized by the Fuzzer in a fuzzing campaign to derive test cases
// by mutation and execute them against the target.
type FuzzerWorker struct {
	// workerIndex describes the index of the worker spawned by the fuzzer.
	workerIndex int

	// fuzzer describes the Fuzzer instance which this worker belongs to.
	fuzzer *Fuzzer

	// mutator derives new test cases from retained ones.
	mutator *mutation.BytesMutator

	// executor executes derived test cases against the target behind a fault boundary.
	executor executor.Executor

	// randomProvider provides random data as inputs to decisions throughout the worker.
	randomProvider *rand.Rand
}

// newFuzzerWorker creates a new FuzzerWorker, assigning it the provided worker index and constructing its mutator
// and executor through the fuzzer's hooks.
// Returns the new FuzzerWorker, or an error if one occurred.
func newFuzzerWorker(fuzzer *Fuzzer, workerIndex int) (*FuzzerWorker, error) {
	// Derive the worker's random provider from the campaign's base seed and the spawn ordinal, so a fixed seed with
	// a single worker yields reproducible campaigns while respawned workers do not repeat mutation sequences.
	randomProvider := rand.New(rand.NewSource(fuzzer.randomSeed + fuzzer.workerSpawnCount.Add(1)))

	// Create a new worker with the data provided.
	worker := &FuzzerWorker{
		workerIndex:    workerIndex,
		fuzzer:         fuzzer,
		randomProvider: randomProvider,
	}

	// Construct the worker's mutator and executor through the fuzzer's hooks. Each worker clones the base value set
	// so token growth in one worker does not race another.
	var err error
	worker.mutator, err = fuzzer.Hooks.NewMutatorFunc(fuzzer, fuzzer.baseValueSet.Clone(), randomProvider)
	if err != nil {
		return nil, &InvalidInputError{Reason: err.Error()}
	}
	worker.executor, err = fuzzer.Hooks.NewExecutorFunc(fuzzer)
	if err != nil {
		return nil, err
	}

	return worker, nil
}

// WorkerIndex returns the index of this FuzzerWorker in relation to its parent Fuzzer.
func (fw *FuzzerWorker) WorkerIndex() int {
	return fw.workerIndex
}

// Fuzzer returns the parent Fuzzer which this worker belongs to.
func (fw *FuzzerWorker) Fuzzer() *Fuzzer {
	return fw.fuzzer
}

// workerMetrics returns the fuzzerWorkerMetrics for this specific worker.
func (fw *FuzzerWorker) workerMetrics() *fuzzerWorkerMetrics {
	return &fw.fuzzer.metrics.workerMetrics[fw.workerIndex]
}

// run executes the worker's fuzzing loop until the campaign is cancelled, the iteration budget is exhausted, or the
// worker hits its reset limit and exits gracefully so the fuzzer recreates it with fresh state.
// Returns a boolean indicating whether the campaign should stop spawning workers, and an error if one occurred.
func (fw *FuzzerWorker) run() (bool, error) {
	// Increase our generation metric as we successfully created the worker's providers.
	fw.workerMetrics().workerStartupCount++

	// Enter the main fuzzing loop, restricting our iterations per worker based on our config variable. When the
	// limit is reached, we exit this method gracefully, which will cause the fuzzing to recreate this worker with
	// fresh mutator and executor state.
	for iterationsSinceReset := 0; iterationsSinceReset < fw.fuzzer.config.Fuzzing.WorkerResetLimit; iterationsSinceReset++ {
		// If our context signalled to close the operation, exit our testing loop accordingly, otherwise continue.
		select {
		case <-fw.fuzzer.ctx.Done():
			return true, nil
		default:
		}

		// Select the next test case to mutate. A nil selection means the iteration budget is exhausted, so we halt
		// the whole campaign.
		parent, err := fw.fuzzer.scheduler.Next(fw.fuzzer.corpus, fw.fuzzer.executionCount.Load())
		if err != nil {
			return false, err
		}
		if parent == nil {
			fw.fuzzer.logger.Info("Test limit reached, halting now...")
			fw.fuzzer.Stop()
			return true, nil
		}

		// Derive a new test case and execute it.
		testCase := fw.mutator.Mutate(parent)
		observation, err := fw.executor.Execute(fw.fuzzer.ctx, testCase)
		if err != nil {
			// A cancellation mid-execution is a clean exit.
			if utils.CheckContextDone(fw.fuzzer.ctx) {
				return true, nil
			}

			// Executor errors mean the target could not be run at all. They are fatal to the campaign; retrying
			// would fail the same way.
			return false, err
		}
		fw.fuzzer.executionCount.Add(1)
		fw.workerMetrics().executionsTested++

		// A crashing execution is recorded in the bug set with the observation details which produced it.
		if observation.Crashed {
			err = fw.recordBug(testCase, observation)
			if err != nil {
				return false, err
			}
			if fw.fuzzer.config.Fuzzing.StopOnBug {
				fw.fuzzer.Stop()
				return true, nil
			}
			continue
		}

		// A clean execution which reached new coverage grows the corpus.
		if fw.fuzzer.config.Fuzzing.CoverageEnabled && observation.Coverage != nil {
			err = fw.processCoverage(testCase, observation)
			if err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// recordBug records a crash-producing test case in the bug set along with the observation which produced it.
// Returns an error if one occurred.
func (fw *FuzzerWorker) recordBug(testCase *corpusTypes.TestCase, observation *executor.Observation) error {
	edgeCount := 0
	if observation.Coverage != nil {
		edgeCount = observation.Coverage.UniqueEdgeCount()
	}
	report := &corpusTypes.BugReport{
		TestCase: testCase,
		Metadata: corpusTypes.BugMetadata{
			CrashKind:  string(observation.CrashKind),
			ExitSignal: observation.ExitSignal,
			Duration:   observation.Duration,
			EdgeCount:  edgeCount,
			RecordedAt: time.Now(),
		},
	}
	err := fw.fuzzer.corpus.AddBugReport(report)
	if err != nil {
		return err
	}
	fw.workerMetrics().bugsFound++
	fw.fuzzer.logger.Warn("Recorded a ", string(observation.CrashKind), " for input ", testCase.ID())
	fw.fuzzer.Events.BugFound.Publish(BugFoundEvent{Worker: fw, Report: report})
	return nil
}

// processCoverage merges an execution's coverage into the campaign's total and retains the test case if it achieved
// new coverage not yet seen by this or a previous campaign.
// Returns an error if one occurred.
func (fw *FuzzerWorker) processCoverage(testCase *corpusTypes.TestCase, observation *executor.Observation) error {
	// Merge the execution's coverage into the campaign's total. The test case is only interesting if it grew the
	// total covered edge set.
	coverageUpdated, err := fw.fuzzer.coverageMaps.Update(observation.Coverage)
	if err != nil {
		return err
	}
	if !coverageUpdated {
		return nil
	}

	// Skip signatures a previous campaign over the same corpus directory already explored.
	signature := observation.Coverage.Hash()
	seen, err := fw.fuzzer.corpus.CheckCoverageSeen(signature)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	// Retain the test case, record its signature, and boost its selection weight.
	err = fw.fuzzer.corpus.AddTestCase(testCase)
	if err != nil {
		return err
	}
	err = fw.fuzzer.corpus.RecordCoverageSeen(signature)
	if err != nil {
		return err
	}
	fw.fuzzer.scheduler.ReportNewCoverage(testCase)
	fw.workerMetrics().testCasesRetained++
	fw.fuzzer.Events.TestCaseRetained.Publish(TestCaseRetainedEvent{Worker: fw, TestCase: testCase})
	return nil
}
