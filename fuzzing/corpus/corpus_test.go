package corpus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestCorpusAddAndSnapshot ensures test cases are retained unconditionally in insertion order, including exact
// duplicates, and that snapshots are unaffected by later growth.
func TestCorpusAddAndSnapshot(t *testing.T) {
	corpus, err := NewCorpus("")
	assert.NoError(t, err)

	// Add two distinct inputs and a duplicate of the first.
	inputs := [][]byte{[]byte("alpha"), []byte("beta"), []byte("alpha")}
	for _, input := range inputs {
		err = corpus.AddTestCase(NewTestCase(input, ""))
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 3, corpus.TestCaseCount())

	// Take a snapshot, then grow the corpus and verify the snapshot is unchanged.
	snapshot := corpus.TestCases()
	err = corpus.AddTestCase(NewTestCase([]byte("gamma"), ""))
	assert.NoError(t, err)
	assert.EqualValues(t, 3, len(snapshot))
	assert.EqualValues(t, 4, corpus.TestCaseCount())
	for i := 0; i < len(inputs); i++ {
		assert.EqualValues(t, inputs[i], snapshot[i].Data())
	}

	// The duplicate keeps its own identity but shares the input hash.
	assert.NotEqual(t, snapshot[0].ID(), snapshot[2].ID())
	assert.EqualValues(t, snapshot[0].InputHash(), snapshot[2].InputHash())
}

// TestCorpusPersistenceRoundTrip ensures a persisted corpus can be flushed to disk and reloaded by a new Corpus with
// its test cases intact and in a stable order.
func TestCorpusPersistenceRoundTrip(t *testing.T) {
	corpusDir := t.TempDir()

	corpus, err := NewCorpus(corpusDir)
	assert.NoError(t, err)
	inputs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, input := range inputs {
		err = corpus.AddTestCase(NewTestCase(input, ""))
		assert.NoError(t, err)
	}
	assert.NoError(t, corpus.Close())

	// Reload from the same directory and verify every input survived.
	reloaded, err := NewCorpus(corpusDir)
	assert.NoError(t, err)
	defer reloaded.Close()
	assert.EqualValues(t, len(inputs), reloaded.TestCaseCount())

	reloadedHashes := make(map[string]struct{})
	for _, testCase := range reloaded.TestCases() {
		reloadedHashes[testCase.InputHash()] = struct{}{}
	}
	for _, input := range inputs {
		assert.Contains(t, reloadedHashes, NewTestCase(input, "").InputHash())
	}

	// Reload order follows file name order, so reloading twice yields the same sequence.
	reloadedAgain, err := NewCorpus(corpusDir)
	assert.NoError(t, err)
	defer reloadedAgain.Close()
	for i, testCase := range reloaded.TestCases() {
		assert.EqualValues(t, testCase.ID(), reloadedAgain.TestCases()[i].ID())
	}
}

// TestCorpusBugReports ensures bug reports are retained with their observation metadata and persisted alongside the
// corpus.
func TestCorpusBugReports(t *testing.T) {
	corpusDir := t.TempDir()

	corpus, err := NewCorpus(corpusDir)
	assert.NoError(t, err)

	crasher := NewTestCase([]byte("crash me"), "")
	err = corpus.AddBugReport(&BugReport{
		TestCase: crasher,
		Metadata: BugMetadata{
			CrashKind:  "hang",
			Duration:   50 * time.Millisecond,
			EdgeCount:  7,
			RecordedAt: time.Now(),
		},
	})
	assert.NoError(t, err)
	assert.EqualValues(t, 1, corpus.BugReportCount())

	reports := corpus.BugReports()
	assert.EqualValues(t, crasher.ID(), reports[0].TestCase.ID())
	assert.EqualValues(t, "hang", reports[0].Metadata.CrashKind)

	// Bug reports are not part of the mutation corpus.
	assert.EqualValues(t, 0, corpus.TestCaseCount())
	assert.NoError(t, corpus.Close())
}

// TestCorpusCoverageIndexPersists ensures coverage signatures recorded in one campaign are still reported as seen by
// a later campaign using the same corpus directory.
func TestCorpusCoverageIndexPersists(t *testing.T) {
	corpusDir := t.TempDir()
	signature := []byte{0x01, 0x02, 0x03, 0x04}

	corpus, err := NewCorpus(corpusDir)
	assert.NoError(t, err)
	seen, err := corpus.CheckCoverageSeen(signature)
	assert.NoError(t, err)
	assert.False(t, seen)

	assert.NoError(t, corpus.RecordCoverageSeen(signature))
	seen, err = corpus.CheckCoverageSeen(signature)
	assert.NoError(t, err)
	assert.True(t, seen)
	assert.NoError(t, corpus.Close())

	// Reopen the corpus and verify the signature survived.
	reopened, err := NewCorpus(corpusDir)
	assert.NoError(t, err)
	defer reopened.Close()
	seen, err = reopened.CheckCoverageSeen(signature)
	assert.NoError(t, err)
	assert.True(t, seen)
}

// TestCorpusInMemory ensures a corpus with no storage directory operates entirely in memory.
func TestCorpusInMemory(t *testing.T) {
	corpus, err := NewCorpus("")
	assert.NoError(t, err)
	assert.NoError(t, corpus.AddTestCase(NewTestCase([]byte("ephemeral"), "")))

	// No persistent coverage index exists, so signatures are never reported as seen.
	assert.NoError(t, corpus.RecordCoverageSeen([]byte{0xff}))
	seen, err := corpus.CheckCoverageSeen([]byte{0xff})
	assert.NoError(t, err)
	assert.False(t, seen)

	// Flushing and closing are no-ops which must not fail.
	assert.NoError(t, corpus.Close())
}
