package fuzzing

import (
	"math/rand"
	"time"

	"github.com/mantidfuzz/mantid/fuzzing/executor"
	"github.com/mantidfuzz/mantid/fuzzing/mutation"
	"github.com/mantidfuzz/mantid/fuzzing/scheduler"
	"github.com/pkg/errors"
)

// FuzzerHooks defines the hooks that can be used for the Fuzzer on an API level.
type FuzzerHooks struct {
	// NewMutatorFunc describes the function to use to set up a new FuzzerWorker's mutator.
	// The mutator provided must be either thread safe, or a new instance must be provided per invocation to avoid
	// concurrent access issues between workers.
	NewMutatorFunc NewMutatorFunc

	// NewExecutorFunc describes the function to use to set up a new FuzzerWorker's executor.
	// The executor provided must be either thread safe, or a new instance must be provided per invocation to avoid
	// concurrent access issues between workers.
	NewExecutorFunc NewExecutorFunc

	// NewSchedulerFunc describes the function to use to set up the campaign's scheduler, shared by all workers.
	NewSchedulerFunc NewSchedulerFunc
}

// NewMutatorFunc describes a function which sets up a mutator for a new FuzzerWorker to derive test cases with.
// Returns a new mutator, or an error if one occurred.
type NewMutatorFunc func(fuzzer *Fuzzer, valueSet *mutation.ValueSet, randomProvider *rand.Rand) (*mutation.BytesMutator, error)

// NewExecutorFunc describes a function which sets up an executor for a new FuzzerWorker to execute test cases with.
// Returns a new executor, or an error if one occurred.
type NewExecutorFunc func(fuzzer *Fuzzer) (executor.Executor, error)

// NewSchedulerFunc describes a function which sets up the scheduler a campaign selects test cases with.
// Returns a new scheduler, or an error if one occurred.
type NewSchedulerFunc func(fuzzer *Fuzzer, randomProvider *rand.Rand) (*scheduler.Scheduler, error)

// defaultNewMutatorFunc creates a mutator per the fuzzer's project configuration.
func defaultNewMutatorFunc(fuzzer *Fuzzer, valueSet *mutation.ValueSet, randomProvider *rand.Rand) (*mutation.BytesMutator, error) {
	return mutation.NewBytesMutator(&mutation.BytesMutatorConfig{
		MinMutationRounds: fuzzer.config.Fuzzing.MinMutationRounds,
		MaxMutationRounds: fuzzer.config.Fuzzing.MaxMutationRounds,
		MaxInputSize:      fuzzer.config.Fuzzing.MaxInputSize,
	}, valueSet, randomProvider)
}

// defaultNewExecutorFunc creates a subprocess executor for the target binary named by the fuzzer's project
// configuration. Campaigns against in-process harnesses replace this hook instead.
func defaultNewExecutorFunc(fuzzer *Fuzzer) (executor.Executor, error) {
	executionConfig := fuzzer.config.Fuzzing.Execution
	if executionConfig.TargetPath == "" {
		return nil, errors.New("no execution target path is configured and no executor hook was provided")
	}
	return executor.NewSubprocessExecutor(
		executionConfig.TargetPath,
		executionConfig.TargetArgs,
		time.Duration(executionConfig.TimeoutMilliseconds)*time.Millisecond,
	)
}

// defaultNewSchedulerFunc creates a scheduler per the fuzzer's project configuration. A non-zero test limit bounds
// the campaign's execution count; a zero test limit leaves it unbounded.
func defaultNewSchedulerFunc(fuzzer *Fuzzer, randomProvider *rand.Rand) (*scheduler.Scheduler, error) {
	return scheduler.NewScheduler(&scheduler.Config{
		Policy:          fuzzer.config.Fuzzing.SchedulerPolicy,
		IterationBudget: fuzzer.config.Fuzzing.TestLimit,
		LimitIterations: fuzzer.config.Fuzzing.TestLimit > 0,
	}, randomProvider)
}
