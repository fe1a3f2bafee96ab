package coverage

import (
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/slices"
)

// CoverageMaps represents a data structure used to identify code coverage achieved by candidate executions across a
// fuzzing campaign. Coverage locations are opaque edge identifiers reported by the instrumentation runtime.
type CoverageMaps struct {
	// edges represents the set of edge identifiers known to have been reached.
	edges map[uint64]struct{}

	// updateLock is a lock to offer concurrent thread safety for map accesses.
	updateLock sync.Mutex
}

// NewCoverageMaps initializes a new CoverageMaps object.
func NewCoverageMaps() *CoverageMaps {
	maps := &CoverageMaps{}
	maps.Reset()
	return maps
}

// Reset clears the coverage state for the CoverageMaps.
func (cm *CoverageMaps) Reset() {
	cm.updateLock.Lock()
	defer cm.updateLock.Unlock()
	cm.edges = make(map[uint64]struct{})
}

// SetCoveredAt sets the coverage state of a given edge identifier. It returns a boolean indicating whether the edge
// was newly covered.
func (cm *CoverageMaps) SetCoveredAt(edgeID uint64) bool {
	// Acquire our thread lock and defer our unlocking for when we exit this method
	cm.updateLock.Lock()
	defer cm.updateLock.Unlock()

	if _, covered := cm.edges[edgeID]; covered {
		return false
	}
	cm.edges[edgeID] = struct{}{}
	return true
}

// Update updates the current coverage maps with the provided ones. It returns a boolean indicating whether
// new coverage was achieved, or an error if one was encountered.
func (cm *CoverageMaps) Update(coverageMaps *CoverageMaps) (bool, error) {
	// If our maps provided are nil, do nothing
	if coverageMaps == nil {
		return false, nil
	}

	// Acquire both thread locks and defer our unlocking for when we exit this method. The locking order here is
	// fixed: the receiver first, the provided maps second.
	cm.updateLock.Lock()
	defer cm.updateLock.Unlock()
	coverageMaps.updateLock.Lock()
	defer coverageMaps.updateLock.Unlock()

	// Create a boolean indicating whether we achieved new coverage
	changed := false

	// Merge every newly covered edge into our maps.
	for edgeID := range coverageMaps.edges {
		if _, covered := cm.edges[edgeID]; !covered {
			cm.edges[edgeID] = struct{}{}
			changed = true
		}
	}

	// Return our results
	return changed, nil
}

// UniqueEdgeCount returns the amount of unique edges covered by the CoverageMaps.
func (cm *CoverageMaps) UniqueEdgeCount() int {
	cm.updateLock.Lock()
	defer cm.updateLock.Unlock()
	return len(cm.edges)
}

// Equals checks whether two coverage maps cover the same set of edges.
func (cm *CoverageMaps) Equals(other *CoverageMaps) bool {
	cm.updateLock.Lock()
	defer cm.updateLock.Unlock()
	other.updateLock.Lock()
	defer other.updateLock.Unlock()

	if len(cm.edges) != len(other.edges) {
		return false
	}
	for edgeID := range cm.edges {
		if _, covered := other.edges[edgeID]; !covered {
			return false
		}
	}
	return true
}

// Hash computes a stable signature of the covered edge set, for use as an opaque comparable coverage signature. Two
// coverage maps covering the same edges produce the same signature.
func (cm *CoverageMaps) Hash() []byte {
	// Snapshot and sort our edges so the hash is independent of map iteration order.
	cm.updateLock.Lock()
	edgeIDs := make([]uint64, 0, len(cm.edges))
	for edgeID := range cm.edges {
		edgeIDs = append(edgeIDs, edgeID)
	}
	cm.updateLock.Unlock()
	slices.Sort(edgeIDs)

	// Hash each edge identifier in its fixed-width encoding.
	hashProvider := sha3.New256()
	buf := make([]byte, 8)
	for _, edgeID := range edgeIDs {
		binary.LittleEndian.PutUint64(buf, edgeID)
		hashProvider.Write(buf)
	}
	return hashProvider.Sum(nil)
}
