package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/mantidfuzz/mantid/fuzzing/corpus"
	"github.com/mantidfuzz/mantid/fuzzing/coverage"
)

// CrashKind describes how a crashing execution failed.
type CrashKind string

const (
	// CrashKindFault indicates the target faulted, e.g. a panic in an in-process harness or a fatal signal in a
	// subprocess harness.
	CrashKindFault CrashKind = "fault"

	// CrashKindHang indicates the target exceeded its execution timeout. Hangs are treated as crashes in their own
	// right, not as a separate outcome.
	CrashKindHang CrashKind = "hang"
)

// Observation describes the outcome of executing a single test case against the target.
type Observation struct {
	// Coverage describes the set of coverage edges the execution reached.
	Coverage *coverage.CoverageMaps

	// Crashed indicates whether the execution failed.
	Crashed bool

	// CrashKind describes how the execution failed, when Crashed is true.
	CrashKind CrashKind

	// ExitSignal describes the signal which terminated a subprocess target, or zero when not applicable.
	ExitSignal int

	// Duration describes the wall-clock time the execution took.
	Duration time.Duration
}

// Executor executes test cases against a target behind a fault boundary: a crashing target produces an Observation
// with Crashed set, never an error. Errors are reserved for the executor itself being unable to run the target at
// all.
type Executor interface {
	// Execute runs the target with the provided test case input and reports the observed outcome. A crash of the
	// target is reported through the Observation; an error indicates the target could not be executed.
	Execute(ctx context.Context, testCase *corpus.TestCase) (*Observation, error)
}

// HarnessUnavailableError indicates the target harness cannot be executed at all, e.g. a missing target binary.
// It is unrecoverable; a campaign encountering it should stop rather than retry.
type HarnessUnavailableError struct {
	// Target describes the harness which could not be executed.
	Target string

	// Err describes the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *HarnessUnavailableError) Error() string {
	return fmt.Sprintf("harness %q is unavailable: %v", e.Target, e.Err)
}

// Unwrap returns the underlying failure.
func (e *HarnessUnavailableError) Unwrap() error {
	return e.Err
}
