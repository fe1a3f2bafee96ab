package fuzzing

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/mantidfuzz/mantid/fuzzing/config"
	"github.com/mantidfuzz/mantid/fuzzing/coverage"
	"github.com/mantidfuzz/mantid/fuzzing/executor"
	"github.com/mantidfuzz/mantid/fuzzing/mutation"
	"github.com/mantidfuzz/mantid/fuzzing/scheduler"
	"github.com/stretchr/testify/assert"
)

// newTestProjectConfig creates a project configuration suitable for fast campaigns in tests.
func newTestProjectConfig() config.ProjectConfig {
	projectConfig := *config.GetDefaultProjectConfig()
	projectConfig.Fuzzing.Workers = 2
	projectConfig.Fuzzing.WorkerResetLimit = 1000
	projectConfig.Fuzzing.MaxInputSize = 32
	projectConfig.Fuzzing.CorpusDirectory = ""
	projectConfig.Fuzzing.RandomSeed = 1234
	projectConfig.Fuzzing.Execution.TimeoutMilliseconds = 100
	return projectConfig
}

// newTestFuzzer creates a Fuzzer over an in-process harness with the provided configuration.
func newTestFuzzer(t *testing.T, projectConfig config.ProjectConfig, harness executor.HarnessFunc) *Fuzzer {
	fuzzer, err := NewFuzzer(projectConfig)
	assert.NoError(t, err)
	fuzzer.Hooks.NewExecutorFunc = func(f *Fuzzer) (executor.Executor, error) {
		return executor.NewInProcessExecutor(harness, time.Duration(f.Config().Fuzzing.Execution.TimeoutMilliseconds)*time.Millisecond)
	}
	return fuzzer
}

// stagedHarness records a coverage edge per matched prefix byte of "abc" and faults on a full match.
func stagedHarness(data []byte, tracer *coverage.Tracer) {
	tracer.RecordLocation(1)
	target := []byte("abc")
	for i := 0; i < len(target); i++ {
		if i >= len(data) || data[i] != target[i] {
			return
		}
		tracer.RecordLocation(uint64(i + 2))
	}
	panic("target state reached")
}

// TestFuzzerInvalidConfiguration ensures misconfigured campaigns surface an InvalidInputError, whether the project
// configuration fails validation up front or a worker's mutator rejects its configuration at spawn time.
func TestFuzzerInvalidConfiguration(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.MaxInputSize = 0
	_, err := NewFuzzer(projectConfig)
	assert.Error(t, err)
	invalidInputErr := &InvalidInputError{}
	assert.ErrorAs(t, err, &invalidInputErr)

	// A mutator hook rejecting its configuration during worker creation reports the same error type.
	fuzzer := newTestFuzzer(t, newTestProjectConfig(), stagedHarness)
	fuzzer.AddSeeds([]byte("seed"))
	fuzzer.Hooks.NewMutatorFunc = func(f *Fuzzer, valueSet *mutation.ValueSet, randomProvider *rand.Rand) (*mutation.BytesMutator, error) {
		return mutation.NewBytesMutator(&mutation.BytesMutatorConfig{
			MinMutationRounds: 0,
			MaxMutationRounds: 0,
			MaxInputSize:      32,
		}, valueSet, randomProvider)
	}
	err = fuzzer.Start()
	assert.Error(t, err)
	assert.ErrorAs(t, err, &invalidInputErr)
	assert.EqualValues(t, CampaignStateStopped, fuzzer.State())
}

// TestFuzzerFindsTargetByMutation ensures byte mutations alone carry a seed through staged coverage feedback to an
// exact crashing input, and that the recorded bug set contains that input.
func TestFuzzerFindsTargetByMutation(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.Workers = 1
	projectConfig.Fuzzing.TestLimit = 500000
	projectConfig.Fuzzing.StopOnBug = true
	projectConfig.Fuzzing.RandomSeed = 7

	// Unlike stagedHarness, this harness faults only on the exact target, so the recorded input can be checked
	// byte for byte.
	harness := func(data []byte, tracer *coverage.Tracer) {
		tracer.RecordLocation(1)
		target := []byte("abc")
		for i := 0; i < len(target); i++ {
			if i >= len(data) || data[i] != target[i] {
				return
			}
			tracer.RecordLocation(uint64(i + 2))
		}
		if len(data) == len(target) {
			panic("target state reached")
		}
	}
	fuzzer := newTestFuzzer(t, projectConfig, harness)
	fuzzer.AddSeeds([]byte("123"))

	assert.NoError(t, fuzzer.Start())
	reports := fuzzer.Corpus().BugReports()
	assert.NotEmpty(t, reports)
	assert.EqualValues(t, []byte("abc"), reports[0].TestCase.Data())
}

// TestFuzzerEmptyCorpus ensures a campaign with no seed inputs at all fails fast with an InvalidInputError.
func TestFuzzerEmptyCorpus(t *testing.T) {
	fuzzer := newTestFuzzer(t, newTestProjectConfig(), stagedHarness)

	err := fuzzer.Start()
	assert.Error(t, err)
	invalidInputErr := &InvalidInputError{}
	assert.ErrorAs(t, err, &invalidInputErr)
	assert.EqualValues(t, CampaignStateStopped, fuzzer.State())
}

// TestFuzzerZeroIterationBudget ensures a campaign bounded to zero iterations performs no executions at all.
func TestFuzzerZeroIterationBudget(t *testing.T) {
	fuzzer := newTestFuzzer(t, newTestProjectConfig(), stagedHarness)
	fuzzer.AddSeeds([]byte("seed"))
	fuzzer.Hooks.NewSchedulerFunc = func(f *Fuzzer, randomProvider *rand.Rand) (*scheduler.Scheduler, error) {
		return scheduler.NewScheduler(&scheduler.Config{
			Policy:          scheduler.PolicyRandom,
			IterationBudget: 0,
			LimitIterations: true,
		}, randomProvider)
	}

	assert.NoError(t, fuzzer.Start())
	assert.EqualValues(t, 0, fuzzer.Metrics().ExecutionsTested())
	assert.EqualValues(t, 0, fuzzer.Corpus().BugReportCount())
}

// TestFuzzerIterationBudget ensures a bounded campaign halts once its test limit is reached.
func TestFuzzerIterationBudget(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.Workers = 1
	projectConfig.Fuzzing.TestLimit = 25
	harness := func(data []byte, tracer *coverage.Tracer) {
		tracer.RecordLocation(1)
	}
	fuzzer := newTestFuzzer(t, projectConfig, harness)
	fuzzer.AddSeeds([]byte("seed"))

	assert.NoError(t, fuzzer.Start())
	assert.EqualValues(t, 25, fuzzer.Metrics().ExecutionsTested())
	assert.EqualValues(t, CampaignStateStopped, fuzzer.State())
}

// TestFuzzerCoverageGuidedRetention ensures derived test cases reaching new coverage are retained and grow the
// campaign's total covered edge set.
func TestFuzzerCoverageGuidedRetention(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.TestLimit = 50000
	fuzzer := newTestFuzzer(t, projectConfig, stagedHarness)
	fuzzer.AddSeeds([]byte("xxxx"))

	assert.NoError(t, fuzzer.Start())

	// The seed covers edge 1 on its first execution; reaching any prefix byte of the target retains a test case.
	assert.Greater(t, fuzzer.CoverageMaps().UniqueEdgeCount(), 1)
	assert.Greater(t, fuzzer.Metrics().TestCasesRetained(), uint64(0))
	assert.Greater(t, fuzzer.Corpus().TestCaseCount(), 1)
}

// TestFuzzerFindsBugWithValueSetToken ensures tokens added to the base value set are spliced into inputs, driving
// the campaign to a known crashing input.
func TestFuzzerFindsBugWithValueSetToken(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.TestLimit = 50000
	projectConfig.Fuzzing.StopOnBug = true
	fuzzer := newTestFuzzer(t, projectConfig, stagedHarness)
	fuzzer.AddSeeds([]byte("seed"))
	fuzzer.BaseValueSet().AddToken([]byte("abc"))

	assert.NoError(t, fuzzer.Start())
	assert.GreaterOrEqual(t, fuzzer.Corpus().BugReportCount(), 1)

	report := fuzzer.Corpus().BugReports()[0]
	assert.EqualValues(t, string(executor.CrashKindFault), report.Metadata.CrashKind)
	assert.NotEmpty(t, report.TestCase.ID())
}

// TestFuzzerHangsAreBugs ensures executions exceeding their timeout are recorded as hang bugs, and that the
// campaign keeps running afterwards rather than wedging.
func TestFuzzerHangsAreBugs(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.Workers = 1
	projectConfig.Fuzzing.TestLimit = 10
	projectConfig.Fuzzing.Execution.TimeoutMilliseconds = 10
	block := make(chan struct{})
	defer close(block)
	harness := func(data []byte, tracer *coverage.Tracer) {
		tracer.RecordLocation(1)
		<-block
	}
	fuzzer := newTestFuzzer(t, projectConfig, harness)
	fuzzer.AddSeeds([]byte("seed"))

	assert.NoError(t, fuzzer.Start())
	assert.EqualValues(t, 10, fuzzer.Metrics().ExecutionsTested())
	assert.EqualValues(t, 10, fuzzer.Corpus().BugReportCount())
	assert.EqualValues(t, 10, len(fuzzer.Corpus().BugReportsWithKind(string(executor.CrashKindHang))))
	assert.EqualValues(t, 0, len(fuzzer.Corpus().BugReportsWithKind(string(executor.CrashKindFault))))
}

// TestFuzzerStopOnBug ensures an unbounded campaign halts after its first recorded bug when configured to.
func TestFuzzerStopOnBug(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.Workers = 1
	projectConfig.Fuzzing.TestLimit = 0
	projectConfig.Fuzzing.StopOnBug = true
	harness := func(data []byte, tracer *coverage.Tracer) {
		panic("always crashes")
	}
	fuzzer := newTestFuzzer(t, projectConfig, harness)
	fuzzer.AddSeeds([]byte("seed"))

	assert.NoError(t, fuzzer.Start())
	assert.GreaterOrEqual(t, fuzzer.Corpus().BugReportCount(), 1)
	assert.EqualValues(t, CampaignStateStopped, fuzzer.State())
}

// TestFuzzerStop ensures an unbounded campaign can be stopped cooperatively from another goroutine.
func TestFuzzerStop(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.TestLimit = 0
	harness := func(data []byte, tracer *coverage.Tracer) {
		tracer.RecordLocation(1)
	}
	fuzzer := newTestFuzzer(t, projectConfig, harness)
	fuzzer.AddSeeds([]byte("seed"))

	go func() {
		time.Sleep(200 * time.Millisecond)
		fuzzer.Stop()
	}()
	assert.NoError(t, fuzzer.Start())
	assert.EqualValues(t, CampaignStateStopped, fuzzer.State())
	assert.Greater(t, fuzzer.Metrics().ExecutionsTested(), uint64(0))
}

// TestFuzzerDeterminism ensures two single-worker campaigns with the same fixed random seed retain identical
// corpora.
func TestFuzzerDeterminism(t *testing.T) {
	runCampaign := func() *Fuzzer {
		projectConfig := newTestProjectConfig()
		projectConfig.Fuzzing.Workers = 1
		projectConfig.Fuzzing.TestLimit = 2000
		projectConfig.Fuzzing.RandomSeed = 99
		fuzzer := newTestFuzzer(t, projectConfig, stagedHarness)
		fuzzer.AddSeeds([]byte("xxxx"))
		assert.NoError(t, fuzzer.Start())
		return fuzzer
	}

	first := runCampaign()
	second := runCampaign()
	assert.EqualValues(t, first.Metrics().ExecutionsTested(), second.Metrics().ExecutionsTested())
	assert.EqualValues(t, first.Corpus().BugReportCount(), second.Corpus().BugReportCount())

	// Compare the retained inputs by hash, independent of their generated identifiers.
	firstHashes := first.Corpus().TestCaseInputHashes()
	secondHashes := second.Corpus().TestCaseInputHashes()
	sort.Strings(firstHashes)
	sort.Strings(secondHashes)
	assert.EqualValues(t, firstHashes, secondHashes)
}

// TestFuzzerLifecycleStates ensures the campaign lifecycle runs idle to running to stopped, and that a stopped
// campaign is not restarted.
func TestFuzzerLifecycleStates(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.TestLimit = 5
	fuzzer := newTestFuzzer(t, projectConfig, stagedHarness)
	fuzzer.AddSeeds([]byte("seed"))
	assert.EqualValues(t, CampaignStateIdle, fuzzer.State())

	assert.NoError(t, fuzzer.Start())
	assert.EqualValues(t, CampaignStateStopped, fuzzer.State())
	assert.Error(t, fuzzer.Start())
}

// TestFuzzerSeedDirectory ensures seed files are loaded from the configured seed directory at campaign start.
func TestFuzzerSeedDirectory(t *testing.T) {
	seedDir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(seedDir, "one"), []byte("first seed"), 0644))
	assert.NoError(t, os.WriteFile(filepath.Join(seedDir, "two"), []byte("second seed"), 0644))

	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.TestLimit = 5
	projectConfig.Fuzzing.SeedDirectory = seedDir
	fuzzer := newTestFuzzer(t, projectConfig, stagedHarness)

	assert.NoError(t, fuzzer.Start())
	assert.GreaterOrEqual(t, fuzzer.Corpus().TestCaseCount(), 2)
}

// TestFuzzerCorpusPersistsAcrossCampaigns ensures a later campaign over the same corpus directory starts from the
// previous campaign's retained test cases.
func TestFuzzerCorpusPersistsAcrossCampaigns(t *testing.T) {
	corpusDir := filepath.Join(t.TempDir(), "corpus")

	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.TestLimit = 100
	projectConfig.Fuzzing.CorpusDirectory = corpusDir
	fuzzer := newTestFuzzer(t, projectConfig, stagedHarness)
	fuzzer.AddSeeds([]byte("persisted seed"))
	assert.NoError(t, fuzzer.Start())

	// A second campaign supplies no seeds at all, relying on the persisted corpus.
	resumed := newTestFuzzer(t, projectConfig, stagedHarness)
	assert.NoError(t, resumed.Start())
	assert.GreaterOrEqual(t, resumed.Corpus().TestCaseCount(), 1)
}

// TestFuzzerEvents ensures lifecycle and discovery events are published to subscribers.
func TestFuzzerEvents(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.Workers = 1
	projectConfig.Fuzzing.TestLimit = 50
	harness := func(data []byte, tracer *coverage.Tracer) {
		panic("always crashes")
	}
	fuzzer := newTestFuzzer(t, projectConfig, harness)
	fuzzer.AddSeeds([]byte("seed"))

	startingCount := 0
	stoppingCount := 0
	bugCount := 0
	fuzzer.Events.FuzzerStarting.Subscribe(func(event FuzzerStartingEvent) {
		startingCount++
	})
	var stoppingErr error
	fuzzer.Events.FuzzerStopping.Subscribe(func(event FuzzerStoppingEvent) {
		stoppingCount++
		stoppingErr = event.Err()
	})
	fuzzer.Events.BugFound.Subscribe(func(event BugFoundEvent) {
		bugCount++
	})

	assert.NoError(t, fuzzer.Start())
	assert.EqualValues(t, 1, startingCount)
	assert.EqualValues(t, 1, stoppingCount)
	assert.NoError(t, stoppingErr)
	assert.EqualValues(t, 50, bugCount)
}

// TestFuzzerWorkerResets ensures workers are destroyed and recreated when they hit their reset limit.
func TestFuzzerWorkerResets(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.Workers = 1
	projectConfig.Fuzzing.WorkerResetLimit = 10
	projectConfig.Fuzzing.TestLimit = 100
	harness := func(data []byte, tracer *coverage.Tracer) {
		tracer.RecordLocation(1)
	}
	fuzzer := newTestFuzzer(t, projectConfig, harness)
	fuzzer.AddSeeds([]byte("seed"))

	assert.NoError(t, fuzzer.Start())
	assert.GreaterOrEqual(t, fuzzer.Metrics().WorkerStartupCount(), uint64(10))
}

// TestFuzzerMissingTargetFails ensures a campaign against an unavailable subprocess target fails with an error
// rather than spinning.
func TestFuzzerMissingTargetFails(t *testing.T) {
	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.TestLimit = 10
	projectConfig.Fuzzing.Execution.TargetPath = filepath.Join(t.TempDir(), "no-such-binary")

	fuzzer, err := NewFuzzer(projectConfig)
	assert.NoError(t, err)
	fuzzer.AddSeeds([]byte("seed"))

	err = fuzzer.Start()
	assert.Error(t, err)
	unavailableErr := &executor.HarnessUnavailableError{}
	assert.ErrorAs(t, err, &unavailableErr)
}

// TestFuzzerDictionaryLoading ensures dictionary tokens are loaded into the base value set at construction.
func TestFuzzerDictionaryLoading(t *testing.T) {
	dictionaryPath := filepath.Join(t.TempDir(), "target.dict")
	dictionary := "# tokens of significance\nmagic=\"abc\"\nheader=\"\\x7fELF\"\n"
	assert.NoError(t, os.WriteFile(dictionaryPath, []byte(dictionary), 0644))

	projectConfig := newTestProjectConfig()
	projectConfig.Fuzzing.DictionaryPath = dictionaryPath
	fuzzer, err := NewFuzzer(projectConfig)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, fuzzer.BaseValueSet().TokenCount())
}
