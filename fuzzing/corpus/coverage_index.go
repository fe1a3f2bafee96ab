package corpus

import (
	"bytes"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// coverageIndexBucket is the bbolt bucket under which coverage signatures are stored.
var coverageIndexBucket = []byte("signatures")

// coverageIndex provides a thread-safe, disk-persisted index of coverage signatures belonging to test cases retained
// across fuzzing campaigns. It allows a resumed campaign to recognize inputs whose coverage was already accounted for
// in a previous run, so the corpus does not accumulate duplicate-coverage entries between runs.
type coverageIndex struct {
	db *bbolt.DB

	// pendingWrites buffers signatures not yet committed to the database. Writes are batched and flushed once
	// flushThreshold is reached, or when Flush is called.
	pendingWrites     [][]byte
	pendingWriteMutex sync.Mutex
	flushThreshold    int
}

// openCoverageIndex opens (or creates) a coverage index database at the provided file path.
func openCoverageIndex(path string) (*coverageIndex, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	// Create the default bucket if it doesn't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(coverageIndexBucket)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &coverageIndex{
		db:             db,
		pendingWrites:  make([][]byte, 0),
		flushThreshold: 25,
	}, nil
}

// Contains reports whether the provided coverage signature has been recorded, either in the database or in the
// pending write buffer.
func (ci *coverageIndex) Contains(signature []byte) (bool, error) {
	// Check our pending writes first, as they have not been committed yet.
	ci.pendingWriteMutex.Lock()
	for _, pending := range ci.pendingWrites {
		if bytes.Equal(pending, signature) {
			ci.pendingWriteMutex.Unlock()
			return true, nil
		}
	}
	ci.pendingWriteMutex.Unlock()

	// Otherwise query the database.
	found := false
	err := ci.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(coverageIndexBucket)
		found = bucket.Get(signature) != nil
		return nil
	})
	return found, err
}

// Add records the provided coverage signature. The write is buffered and committed once the flush threshold is
// reached, or when Flush is called.
func (ci *coverageIndex) Add(signature []byte) error {
	ci.pendingWriteMutex.Lock()
	defer ci.pendingWriteMutex.Unlock()

	ci.pendingWrites = append(ci.pendingWrites, signature)
	if len(ci.pendingWrites) >= ci.flushThreshold {
		return ci.flushWrites()
	}
	return nil
}

// Flush commits any buffered signatures to the database.
func (ci *coverageIndex) Flush() error {
	ci.pendingWriteMutex.Lock()
	defer ci.pendingWriteMutex.Unlock()
	return ci.flushWrites()
}

// flushWrites commits the pending write buffer. The caller must hold pendingWriteMutex.
func (ci *coverageIndex) flushWrites() error {
	if len(ci.pendingWrites) == 0 {
		return nil
	}
	err := ci.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(coverageIndexBucket)
		for _, signature := range ci.pendingWrites {
			if err := bucket.Put(signature, []byte{1}); err != nil {
				return err
			}
		}
		ci.pendingWrites = ci.pendingWrites[:0]
		return nil
	})
	return err
}

// Close flushes any buffered signatures and closes the underlying database.
func (ci *coverageIndex) Close() error {
	if err := ci.Flush(); err != nil {
		return err
	}
	return ci.db.Close()
}
