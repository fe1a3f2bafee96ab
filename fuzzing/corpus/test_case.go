package corpus

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/slices"
)

// TestCase represents a single byte-sequence input retained by the Corpus. A TestCase is immutable once created;
// mutation-based derivation always produces a new TestCase referencing its parent.
type TestCase struct {
	// id describes a unique identifier for the test case, also used as its on-disk file name.
	id string

	// data describes the input bytes the test case carries.
	data []byte

	// inputHash describes a hash of data, used as an exact-input identity for the test case.
	inputHash string

	// parentID describes the identifier of the test case this one was derived from. It is empty for seed inputs.
	parentID string

	// createdAt describes the time at which the test case was created.
	createdAt time.Time
}

// NewTestCase creates a new TestCase wrapping a copy of the provided input bytes, derived from the parent test case
// identified by parentID (empty for seed inputs).
func NewTestCase(data []byte, parentID string) *TestCase {
	return newTestCaseWithID(uuid.New().String(), data, parentID)
}

// newTestCaseWithID creates a TestCase with an explicit identifier. This is used when reloading persisted test cases
// whose identifiers are derived from their file names.
func newTestCaseWithID(id string, data []byte, parentID string) *TestCase {
	hash := sha3.Sum256(data)
	return &TestCase{
		id:        id,
		data:      slices.Clone(data),
		inputHash: hex.EncodeToString(hash[:]),
		parentID:  parentID,
		createdAt: time.Now(),
	}
}

// ID returns the unique identifier of the test case.
func (t *TestCase) ID() string {
	return t.id
}

// Data returns a copy of the input bytes the test case carries, preserving the immutability of the original.
func (t *TestCase) Data() []byte {
	return slices.Clone(t.data)
}

// Len returns the length of the test case input in bytes.
func (t *TestCase) Len() int {
	return len(t.data)
}

// InputHash returns the hash of the test case input, usable as an exact-input identity.
func (t *TestCase) InputHash() string {
	return t.inputHash
}

// ParentID returns the identifier of the test case this one was derived from, or an empty string for seed inputs.
func (t *TestCase) ParentID() string {
	return t.parentID
}

// CreatedAt returns the time at which the test case was created.
func (t *TestCase) CreatedAt() time.Time {
	return t.createdAt
}
