package executor

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mantidfuzz/mantid/fuzzing/corpus"
	"github.com/mantidfuzz/mantid/fuzzing/coverage"
	"github.com/stretchr/testify/assert"
)

// TestInProcessExecutorCoverage ensures a clean execution reports its recorded coverage edges without a crash.
func TestInProcessExecutorCoverage(t *testing.T) {
	harness := func(data []byte, tracer *coverage.Tracer) {
		tracer.RecordLocation(1)
		if len(data) > 0 {
			tracer.RecordLocation(2)
		}
	}
	executor, err := NewInProcessExecutor(harness, time.Second)
	assert.NoError(t, err)

	observation, err := executor.Execute(context.Background(), corpus.NewTestCase([]byte("x"), ""))
	assert.NoError(t, err)
	assert.False(t, observation.Crashed)
	assert.EqualValues(t, 2, observation.Coverage.UniqueEdgeCount())

	observation, err = executor.Execute(context.Background(), corpus.NewTestCase([]byte{}, ""))
	assert.NoError(t, err)
	assert.False(t, observation.Crashed)
	assert.EqualValues(t, 1, observation.Coverage.UniqueEdgeCount())
}

// TestInProcessExecutorFault ensures a panicking harness is observed as a fault rather than propagating.
func TestInProcessExecutorFault(t *testing.T) {
	harness := func(data []byte, tracer *coverage.Tracer) {
		tracer.RecordLocation(7)
		panic("boom")
	}
	executor, err := NewInProcessExecutor(harness, time.Second)
	assert.NoError(t, err)

	observation, err := executor.Execute(context.Background(), corpus.NewTestCase([]byte("x"), ""))
	assert.NoError(t, err)
	assert.True(t, observation.Crashed)
	assert.EqualValues(t, CrashKindFault, observation.CrashKind)

	// Coverage recorded before the panic is still observed.
	assert.EqualValues(t, 1, observation.Coverage.UniqueEdgeCount())
}

// TestInProcessExecutorHang ensures a harness exceeding its timeout is observed as a hang, and that the executor
// remains usable afterwards.
func TestInProcessExecutorHang(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	harness := func(data []byte, tracer *coverage.Tracer) {
		if len(data) > 0 && data[0] == 'h' {
			<-block
		}
	}
	executor, err := NewInProcessExecutor(harness, 25*time.Millisecond)
	assert.NoError(t, err)

	observation, err := executor.Execute(context.Background(), corpus.NewTestCase([]byte("hang"), ""))
	assert.NoError(t, err)
	assert.True(t, observation.Crashed)
	assert.EqualValues(t, CrashKindHang, observation.CrashKind)

	// A later execution is unaffected by the abandoned harness goroutine.
	observation, err = executor.Execute(context.Background(), corpus.NewTestCase([]byte("ok"), ""))
	assert.NoError(t, err)
	assert.False(t, observation.Crashed)
}

// TestInProcessExecutorCancellation ensures context cancellation interrupts an execution with an error rather than
// an observation.
func TestInProcessExecutorCancellation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	harness := func(data []byte, tracer *coverage.Tracer) {
		<-block
	}
	executor, err := NewInProcessExecutor(harness, time.Minute)
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	observation, err := executor.Execute(ctx, corpus.NewTestCase([]byte("x"), ""))
	assert.Error(t, err)
	assert.Nil(t, observation)
}

// TestSubprocessExecutorMissingTarget ensures a missing target binary is reported as a HarnessUnavailableError
// during construction.
func TestSubprocessExecutorMissingTarget(t *testing.T) {
	_, err := NewSubprocessExecutor(filepath.Join(t.TempDir(), "no-such-binary"), nil, time.Second)
	assert.Error(t, err)
	unavailableErr := &HarnessUnavailableError{}
	assert.ErrorAs(t, err, &unavailableErr)
}

// TestParseCoverageFile ensures target-written coverage files decode into edge sets, dropping any trailing partial
// record from a killed target.
func TestParseCoverageFile(t *testing.T) {
	coverageFilePath := filepath.Join(t.TempDir(), "coverage")

	// Encode two full edge records followed by a partial one.
	data := make([]byte, 0, 20)
	buf := make([]byte, 8)
	for _, edgeID := range []uint64{3, 9} {
		binary.LittleEndian.PutUint64(buf, edgeID)
		data = append(data, buf...)
	}
	data = append(data, 0xde, 0xad)
	assert.NoError(t, os.WriteFile(coverageFilePath, data, 0644))

	coverageMaps, err := parseCoverageFile(coverageFilePath)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, coverageMaps.UniqueEdgeCount())

	// A coverage file the target never wrote yields empty coverage.
	coverageMaps, err = parseCoverageFile(filepath.Join(t.TempDir(), "missing"))
	assert.NoError(t, err)
	assert.EqualValues(t, 0, coverageMaps.UniqueEdgeCount())
}
