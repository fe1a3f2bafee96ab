package coverage

// Tracer collects coverage reported by an instrumentation runtime during a single candidate execution. Harnesses
// running in-process record reached locations here; the executor queries the results immediately after invoking the
// harness and resets the Tracer before the next execution.
type Tracer struct {
	// coverageMaps describes the coverage achieved during the current execution.
	coverageMaps *CoverageMaps
}

// NewTracer returns a new Tracer with empty coverage state.
func NewTracer() *Tracer {
	return &Tracer{
		coverageMaps: NewCoverageMaps(),
	}
}

// RecordLocation records that the instrumented location identified by edgeID was reached during the current
// execution.
func (t *Tracer) RecordLocation(edgeID uint64) {
	t.coverageMaps.SetCoveredAt(edgeID)
}

// CoverageMaps returns the coverage collected since the Tracer was created or last reset.
func (t *Tracer) CoverageMaps() *CoverageMaps {
	return t.coverageMaps
}

// Reset discards the collected coverage, detaching it from the Tracer. The previously returned CoverageMaps remain
// valid, so results from an execution which overran its time budget can still be read safely.
func (t *Tracer) Reset() {
	t.coverageMaps = NewCoverageMaps()
}
