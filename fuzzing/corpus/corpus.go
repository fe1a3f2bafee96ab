package corpus

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor"
	"github.com/mantidfuzz/mantid/logging"
	"github.com/mantidfuzz/mantid/utils"
	"golang.org/x/exp/slices"
)

// Corpus is the Test Case Store for a fuzzing campaign. It owns the insertion-ordered set of retained test cases and
// the bug set, optionally persisting both to a corpus directory on disk as one flat file per test case.
type Corpus struct {
	// storageDirectory describes the directory to save corpus and bug set state within. If empty, the corpus is kept
	// in memory only.
	storageDirectory string

	// testCases represents the retained test cases, in insertion order. The corpus grows monotonically; there is no
	// removal operation.
	testCases []*TestCase

	// testCasesLock provides thread-synchronization to avoid concurrent access issues across workers.
	testCasesLock sync.RWMutex

	// bugReports represents the bug set: crash-producing test cases in insertion order.
	bugReports []*BugReport

	// bugReportsLock provides thread-synchronization to avoid concurrent access issues across workers.
	bugReportsLock sync.RWMutex

	// testCaseFiles describes the directory provider persisting retained test case inputs.
	testCaseFiles *corpusDirectory[[]byte]

	// bugInputFiles describes the directory provider persisting bug set inputs.
	bugInputFiles *corpusDirectory[[]byte]

	// bugMetadataFiles describes the directory provider persisting bug observation metadata as CBOR sidecars.
	bugMetadataFiles *corpusDirectory[BugMetadata]

	// coverageIndex describes the persistent index of coverage signatures retained across campaigns. It is nil when
	// the corpus is not persisted.
	coverageIndex *coverageIndex

	// logger describes the Corpus's log object that can be used to log important events
	logger *logging.Logger
}

// rawBytesCodec passes stored input bytes through unchanged, so corpus entries on disk are opaque raw inputs.
func rawBytesMarshal(data []byte) ([]byte, error) { return data, nil }
func rawBytesUnmarshal(data []byte) ([]byte, error) { return data, nil }

// bugMetadataMarshal encodes bug observation metadata as CBOR.
func bugMetadataMarshal(metadata BugMetadata) ([]byte, error) {
	return cbor.Marshal(metadata, cbor.EncOptions{})
}

// bugMetadataUnmarshal decodes bug observation metadata from CBOR.
func bugMetadataUnmarshal(data []byte) (BugMetadata, error) {
	var metadata BugMetadata
	err := cbor.Unmarshal(data, &metadata)
	return metadata, err
}

// NewCorpus initializes a new Corpus object, reading any previously persisted test cases from the provided corpus
// directory. If corpusDirectory is an empty string, the corpus is kept in memory only.
func NewCorpus(corpusDirectory string) (*Corpus, error) {
	corpus := &Corpus{
		storageDirectory: corpusDirectory,
		testCases:        make([]*TestCase, 0),
		bugReports:       make([]*BugReport, 0),
		logger:           logging.GlobalLogger.NewSubLogger("module", "corpus"),
	}

	// Set up our directory providers. Empty paths disable disk persistence for each provider.
	testCaseDir := ""
	bugDir := ""
	if corpusDirectory != "" {
		testCaseDir = filepath.Join(corpusDirectory, "test_cases")
		bugDir = filepath.Join(corpusDirectory, "bugs")
	}
	corpus.testCaseFiles = newCorpusDirectory(testCaseDir, rawBytesMarshal, rawBytesUnmarshal)
	corpus.bugInputFiles = newCorpusDirectory(bugDir, rawBytesMarshal, rawBytesUnmarshal)
	corpus.bugMetadataFiles = newCorpusDirectory(bugDir, bugMetadataMarshal, bugMetadataUnmarshal)

	// Read any previously persisted test cases into our in-memory corpus, in stable file name order.
	err := corpus.testCaseFiles.readFiles("*.bin")
	if err != nil {
		return nil, err
	}
	for _, file := range corpus.testCaseFiles.files {
		id := utils.GetFileNameWithoutExtension(file.fileName)
		corpus.testCases = append(corpus.testCases, newTestCaseWithID(id, file.data, ""))
	}

	// Open the persistent coverage signature index alongside the corpus files.
	if corpusDirectory != "" {
		corpus.coverageIndex, err = openCoverageIndex(filepath.Join(corpusDirectory, "coverage.db"))
		if err != nil {
			return nil, fmt.Errorf("could not open coverage index: %v", err)
		}
	}

	return corpus, nil
}

// StorageDirectory returns the directory the corpus is persisted within, or an empty string for in-memory corpora.
func (c *Corpus) StorageDirectory() string {
	return c.storageDirectory
}

// TestCases returns a snapshot of the retained test cases in insertion order. The returned slice is a copy, so it
// remains stable while other workers grow the corpus concurrently.
func (c *Corpus) TestCases() []*TestCase {
	c.testCasesLock.RLock()
	defer c.testCasesLock.RUnlock()
	return slices.Clone(c.testCases)
}

// TestCaseCount returns the amount of test cases retained by the corpus.
func (c *Corpus) TestCaseCount() int {
	c.testCasesLock.RLock()
	defer c.testCasesLock.RUnlock()
	return len(c.testCases)
}

// AddTestCase appends the provided test case to the corpus unconditionally and queues it for persistence. Duplicates
// are allowed; the corpus never evicts entries.
func (c *Corpus) AddTestCase(testCase *TestCase) error {
	c.testCasesLock.Lock()
	c.testCases = append(c.testCases, testCase)
	c.testCasesLock.Unlock()

	// Queue the raw input for the next flush to disk.
	return c.testCaseFiles.addFile(testCase.ID()+".bin", testCase.data)
}

// AddBugReport appends the provided bug report to the bug set unconditionally and queues its input and observation
// metadata for persistence.
func (c *Corpus) AddBugReport(report *BugReport) error {
	c.bugReportsLock.Lock()
	c.bugReports = append(c.bugReports, report)
	c.bugReportsLock.Unlock()

	// Queue the raw input and its CBOR metadata sidecar for the next flush to disk.
	err := c.bugInputFiles.addFile(report.TestCase.ID()+".bin", report.TestCase.data)
	if err != nil {
		return err
	}
	return c.bugMetadataFiles.addFile(report.TestCase.ID()+".cbor", report.Metadata)
}

// BugReports returns a snapshot of the bug set in insertion order.
func (c *Corpus) BugReports() []*BugReport {
	c.bugReportsLock.RLock()
	defer c.bugReportsLock.RUnlock()
	return slices.Clone(c.bugReports)
}

// TestCaseInputHashes returns the input hashes of the retained test cases, in insertion order.
func (c *Corpus) TestCaseInputHashes() []string {
	c.testCasesLock.RLock()
	defer c.testCasesLock.RUnlock()
	return utils.SliceSelect(c.testCases, func(t *TestCase) string { return t.InputHash() })
}

// BugReportsWithKind returns a snapshot of the bug reports whose crash kind matches the provided one.
func (c *Corpus) BugReportsWithKind(crashKind string) []*BugReport {
	c.bugReportsLock.RLock()
	defer c.bugReportsLock.RUnlock()
	return utils.SliceWhere(c.bugReports, func(r *BugReport) bool { return r.Metadata.CrashKind == crashKind })
}

// BugReportCount returns the amount of bug reports in the bug set.
func (c *Corpus) BugReportCount() int {
	c.bugReportsLock.RLock()
	defer c.bugReportsLock.RUnlock()
	return len(c.bugReports)
}

// CheckCoverageSeen reports whether the provided coverage signature was recorded by this or a previous campaign
// using the same corpus directory. In-memory corpora have no persistent index and always report false.
func (c *Corpus) CheckCoverageSeen(signature []byte) (bool, error) {
	if c.coverageIndex == nil {
		return false, nil
	}
	return c.coverageIndex.Contains(signature)
}

// RecordCoverageSeen records the provided coverage signature in the persistent index, if one is open.
func (c *Corpus) RecordCoverageSeen(signature []byte) error {
	if c.coverageIndex == nil {
		return nil
	}
	return c.coverageIndex.Add(signature)
}

// Flush writes all un-persisted corpus and bug set state to disk. It does nothing for in-memory corpora.
// Returns an error if one occurs.
func (c *Corpus) Flush() error {
	err := c.testCaseFiles.writeFiles()
	if err != nil {
		return err
	}
	err = c.bugInputFiles.writeFiles()
	if err != nil {
		return err
	}
	err = c.bugMetadataFiles.writeFiles()
	if err != nil {
		return err
	}
	if c.coverageIndex != nil {
		return c.coverageIndex.Flush()
	}
	return nil
}

// Close flushes the corpus and releases the persistent coverage index, if one is open.
func (c *Corpus) Close() error {
	err := c.Flush()
	if err != nil {
		return err
	}
	if c.coverageIndex != nil {
		return c.coverageIndex.Close()
	}
	return nil
}
