package fuzzing

import (
	"github.com/mantidfuzz/mantid/events"
	"github.com/mantidfuzz/mantid/fuzzing/corpus"
)

// FuzzerEvents defines event emitters for a Fuzzer.
type FuzzerEvents struct {
	// FuzzerStarting emits events when the Fuzzer initialized state and is about to begin the main execution loop
	// for the fuzzing campaign.
	FuzzerStarting events.EventEmitter[FuzzerStartingEvent]

	// FuzzerStopping emits events when the Fuzzer is exiting its main fuzzing loop.
	FuzzerStopping events.EventEmitter[FuzzerStoppingEvent]

	// WorkerCreated emits events when the Fuzzer creates a new FuzzerWorker during the fuzzing campaign.
	WorkerCreated events.EventEmitter[FuzzerWorkerCreatedEvent]

	// WorkerDestroyed emits events when the Fuzzer destroys an existing FuzzerWorker during the fuzzing campaign.
	// This can occur even if a fuzzing campaign is not stopping, if a worker has reached its reset limit.
	WorkerDestroyed events.EventEmitter[FuzzerWorkerDestroyedEvent]

	// TestCaseRetained emits events when a derived test case contributed new coverage and was retained in the
	// corpus.
	TestCaseRetained events.EventEmitter[TestCaseRetainedEvent]

	// BugFound emits events when a test case produced a crash and was recorded in the bug set.
	BugFound events.EventEmitter[BugFoundEvent]
}

// FuzzerStartingEvent describes an event where a fuzzing.Fuzzer has initialized all state variables and is about to
// begin spinning up instances of FuzzerWorker to start the fuzzing campaign.
type FuzzerStartingEvent struct {
	// Fuzzer represents the instance of the fuzzing.Fuzzer for which the event occurred.
	Fuzzer *Fuzzer
}

// FuzzerStoppingEvent describes an event where a fuzzing.Fuzzer is exiting the main fuzzing loop.
type FuzzerStoppingEvent struct {
	// Fuzzer represents the instance of the fuzzing.Fuzzer for which the event occurred.
	Fuzzer *Fuzzer

	// err describes a potential error returned by the fuzzer run.
	err error
}

// Err returns the error the fuzzer run is stopping with, or nil if the campaign is stopping cleanly.
func (e FuzzerStoppingEvent) Err() error {
	return e.err
}

// FuzzerWorkerCreatedEvent describes an event where a fuzzing.FuzzerWorker is created by a fuzzing.Fuzzer.
type FuzzerWorkerCreatedEvent struct {
	// Worker represents the instance of the fuzzing.FuzzerWorker for which the event occurred.
	Worker *FuzzerWorker
}

// FuzzerWorkerDestroyedEvent describes an event where a fuzzing.FuzzerWorker is destroyed by a fuzzing.Fuzzer.
type FuzzerWorkerDestroyedEvent struct {
	// Worker represents the instance of the fuzzing.FuzzerWorker for which the event occurred.
	Worker *FuzzerWorker
}

// TestCaseRetainedEvent describes an event where a derived test case contributed new coverage and was retained in
// the corpus.
type TestCaseRetainedEvent struct {
	// Worker represents the instance of the fuzzing.FuzzerWorker which retained the test case.
	Worker *FuzzerWorker

	// TestCase represents the retained test case.
	TestCase *corpus.TestCase
}

// BugFoundEvent describes an event where a test case produced a crash and was recorded in the bug set.
type BugFoundEvent struct {
	// Worker represents the instance of the fuzzing.FuzzerWorker which recorded the bug.
	Worker *FuzzerWorker

	// Report represents the recorded bug report.
	Report *corpus.BugReport
}
