package mutation

import (
	"math/rand"
	"testing"

	"github.com/mantidfuzz/mantid/fuzzing/corpus"
	"github.com/stretchr/testify/assert"
)

// TestBytesMutatorBounds ensures derived inputs never exceed the configured maximum size and that parents are never
// modified by mutation.
func TestBytesMutatorBounds(t *testing.T) {
	config := &BytesMutatorConfig{
		MinMutationRounds: 1,
		MaxMutationRounds: 8,
		MaxInputSize:      64,
	}
	mutator, err := NewBytesMutator(config, NewValueSet(), rand.New(rand.NewSource(1)))
	assert.NoError(t, err)

	parentData := []byte("the quick brown fox jumps over the lazy dog")
	parent := corpus.NewTestCase(parentData, "")
	for i := 0; i < 500; i++ {
		derived := mutator.Mutate(parent)
		assert.LessOrEqual(t, derived.Len(), config.MaxInputSize)
		assert.EqualValues(t, parent.ID(), derived.ParentID())
	}
	assert.EqualValues(t, parentData, parent.Data())
}

// TestBytesMutatorEmptyParent ensures mutation of an empty input still succeeds, since some strategies can only
// shrink or modify existing bytes.
func TestBytesMutatorEmptyParent(t *testing.T) {
	config := &BytesMutatorConfig{
		MinMutationRounds: 1,
		MaxMutationRounds: 4,
		MaxInputSize:      16,
	}
	mutator, err := NewBytesMutator(config, NewValueSet(), rand.New(rand.NewSource(2)))
	assert.NoError(t, err)

	parent := corpus.NewTestCase([]byte{}, "")
	for i := 0; i < 100; i++ {
		derived := mutator.Mutate(parent)
		assert.LessOrEqual(t, derived.Len(), config.MaxInputSize)
	}
}

// TestBytesMutatorDeterminism ensures two mutators with the same seed derive identical input sequences.
func TestBytesMutatorDeterminism(t *testing.T) {
	config := &BytesMutatorConfig{
		MinMutationRounds: 1,
		MaxMutationRounds: 8,
		MaxInputSize:      128,
	}
	first, err := NewBytesMutator(config, NewValueSet(), rand.New(rand.NewSource(42)))
	assert.NoError(t, err)
	second, err := NewBytesMutator(config, NewValueSet(), rand.New(rand.NewSource(42)))
	assert.NoError(t, err)

	parent := corpus.NewTestCase([]byte("deterministic"), "")
	for i := 0; i < 50; i++ {
		assert.EqualValues(t, first.Mutate(parent).Data(), second.Mutate(parent).Data())
	}
}

// TestBytesMutatorInvalidConfig ensures invalid operation parameters are rejected.
func TestBytesMutatorInvalidConfig(t *testing.T) {
	randomProvider := rand.New(rand.NewSource(3))
	_, err := NewBytesMutator(&BytesMutatorConfig{MinMutationRounds: 1, MaxMutationRounds: 2, MaxInputSize: 0}, NewValueSet(), randomProvider)
	assert.Error(t, err)
	_, err = NewBytesMutator(&BytesMutatorConfig{MinMutationRounds: 3, MaxMutationRounds: 2, MaxInputSize: 16}, NewValueSet(), randomProvider)
	assert.Error(t, err)
}

// TestValueSetDeduplication ensures tokens are deduplicated by content and empty tokens are ignored.
func TestValueSetDeduplication(t *testing.T) {
	valueSet := NewValueSet()
	valueSet.AddToken([]byte("GET"))
	valueSet.AddToken([]byte("GET"))
	valueSet.AddToken([]byte("POST"))
	valueSet.AddToken([]byte{})
	assert.EqualValues(t, 2, valueSet.TokenCount())

	// Clones carry the same tokens but do not share growth.
	clone := valueSet.Clone()
	clone.AddToken([]byte("PUT"))
	assert.EqualValues(t, 2, valueSet.TokenCount())
	assert.EqualValues(t, 3, clone.TokenCount())
}

// TestParseDictionaryToken ensures quoted dictionary tokens decode their escape sequences.
func TestParseDictionaryToken(t *testing.T) {
	token, err := parseDictionaryToken(`"plain"`)
	assert.NoError(t, err)
	assert.EqualValues(t, []byte("plain"), token)

	token, err = parseDictionaryToken(`"a\x00b\"c\\d"`)
	assert.NoError(t, err)
	assert.EqualValues(t, []byte{'a', 0x00, 'b', '"', 'c', '\\', 'd'}, token)

	_, err = parseDictionaryToken(`unquoted`)
	assert.Error(t, err)
	_, err = parseDictionaryToken(`"bad\q"`)
	assert.Error(t, err)
}
