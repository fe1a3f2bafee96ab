package executor

import (
	"context"
	"time"

	"github.com/mantidfuzz/mantid/fuzzing/corpus"
	"github.com/mantidfuzz/mantid/fuzzing/coverage"
	"github.com/pkg/errors"
)

// HarnessFunc describes an in-process target entrypoint. It receives the test case input and a tracer to record
// coverage edges with. A panic within the harness is observed as a fault.
type HarnessFunc func(data []byte, tracer *coverage.Tracer)

// InProcessExecutor executes test cases by calling a harness function within the fuzzer process. The harness runs in
// its own goroutine so panics can be recovered and hangs abandoned without taking down the campaign.
type InProcessExecutor struct {
	// harness describes the target entrypoint to execute test cases against.
	harness HarnessFunc

	// timeout describes the wall-clock time limit per execution. Executions exceeding it are observed as hangs.
	timeout time.Duration
}

// NewInProcessExecutor creates an InProcessExecutor wrapping the provided harness function with the provided
// per-execution timeout.
// Returns an error if the harness or timeout is invalid.
func NewInProcessExecutor(harness HarnessFunc, timeout time.Duration) (*InProcessExecutor, error) {
	if harness == nil {
		return nil, errors.New("in-process executor requires a harness function")
	}
	if timeout <= 0 {
		return nil, errors.Errorf("in-process executor timeout must be positive, got %v", timeout)
	}
	return &InProcessExecutor{
		harness: harness,
		timeout: timeout,
	}, nil
}

// Execute runs the harness with the provided test case input and reports the observed outcome. Panics within the
// harness are recovered and observed as faults; executions exceeding the timeout are abandoned and observed as
// hangs.
// Returns an error only if execution was interrupted by context cancellation.
func (e *InProcessExecutor) Execute(ctx context.Context, testCase *corpus.TestCase) (*Observation, error) {
	// Each execution gets its own tracer, so a harness goroutine abandoned after a hang keeps writing into its own
	// coverage maps rather than a later execution's.
	tracer := coverage.NewTracer()
	input := testCase.Data()

	// Run the harness in its own goroutine behind a panic recovery boundary.
	panicked := make(chan bool, 1)
	go func() {
		defer func() {
			panicked <- recover() != nil
		}()
		e.harness(input, tracer)
	}()

	// Wait for the harness to return, the timeout to elapse, or the campaign to be cancelled.
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	startTime := time.Now()
	observation := &Observation{Coverage: tracer.CoverageMaps()}
	select {
	case didPanic := <-panicked:
		observation.Duration = time.Since(startTime)
		if didPanic {
			observation.Crashed = true
			observation.CrashKind = CrashKindFault
		}
		return observation, nil
	case <-timer.C:
		observation.Duration = time.Since(startTime)
		observation.Crashed = true
		observation.CrashKind = CrashKindHang
		return observation, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
