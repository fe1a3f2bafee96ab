package fuzzing

// FuzzerMetrics represents a struct tracking metrics for a Fuzzer run.
type FuzzerMetrics struct {
	// workerMetrics describes the metrics for each individual worker. This expands as needed and some slots may be
	// nil while workers are initializing, as it corresponds to the indexes in Fuzzer.workers.
	workerMetrics []fuzzerWorkerMetrics
}

// newFuzzerMetrics obtains a new FuzzerMetrics struct for a given number of workers specified by workerCount.
// Returns the new FuzzerMetrics object.
func newFuzzerMetrics(workerCount int) *FuzzerMetrics {
	// Create a new metrics struct and return it with as many slots as required.
	metrics := FuzzerMetrics{
		workerMetrics: make([]fuzzerWorkerMetrics, workerCount),
	}
	return &metrics
}

// ExecutionsTested returns the amount of test case executions performed across all workers.
func (m *FuzzerMetrics) ExecutionsTested() uint64 {
	executionsTested := uint64(0)
	for _, workerMetrics := range m.workerMetrics {
		executionsTested += workerMetrics.executionsTested
	}
	return executionsTested
}

// TestCasesRetained returns the amount of derived test cases retained in the corpus for contributing new coverage,
// across all workers.
func (m *FuzzerMetrics) TestCasesRetained() uint64 {
	testCasesRetained := uint64(0)
	for _, workerMetrics := range m.workerMetrics {
		testCasesRetained += workerMetrics.testCasesRetained
	}
	return testCasesRetained
}

// BugsFound returns the amount of crash-producing test cases recorded across all workers.
func (m *FuzzerMetrics) BugsFound() uint64 {
	bugsFound := uint64(0)
	for _, workerMetrics := range m.workerMetrics {
		bugsFound += workerMetrics.bugsFound
	}
	return bugsFound
}

// WorkerStartupCount describes the amount of times the worker was generated, or re-generated for this index.
// This could happen due cases such as hitting iteration reset limits where re-generation frees resources.
func (m *FuzzerMetrics) WorkerStartupCount() uint64 {
	workerStartupCount := uint64(0)
	for _, workerMetrics := range m.workerMetrics {
		workerStartupCount += workerMetrics.workerStartupCount
	}
	return workerStartupCount
}

// fuzzerWorkerMetrics represents metrics for a single FuzzerWorker instance.
type fuzzerWorkerMetrics struct {
	// executionsTested describes the amount of test case executions the worker performed.
	executionsTested uint64

	// testCasesRetained describes the amount of derived test cases the worker retained in the corpus.
	testCasesRetained uint64

	// bugsFound describes the amount of crash-producing test cases the worker recorded.
	bugsFound uint64

	// workerStartupCount describes the amount of times the worker was generated, or re-generated for this index.
	workerStartupCount uint64
}
