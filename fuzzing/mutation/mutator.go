package mutation

import (
	"math/rand"
	"sync"

	"github.com/mantidfuzz/mantid/fuzzing/corpus"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// BytesMutatorConfig defines the operation parameters for a BytesMutator.
type BytesMutatorConfig struct {
	// MinMutationRounds describes the minimum amount of mutations which should occur when deriving an input.
	MinMutationRounds int

	// MaxMutationRounds describes the maximum amount of mutations which should occur when deriving an input.
	MaxMutationRounds int

	// MaxInputSize describes the maximum length in bytes a derived input may have. Mutations which would grow an
	// input past this bound are truncated to it.
	MaxInputSize int
}

// BytesMutator derives new byte-sequence inputs from retained test cases by applying a random number of randomly
// chosen mutation strategies.
type BytesMutator struct {
	// config describes the operation parameters for this mutator.
	config *BytesMutatorConfig

	// valueSet contains byte tokens of significance for the target, spliced into inputs by some strategies.
	valueSet *ValueSet

	// randomProvider offers a source of random data.
	randomProvider *rand.Rand

	// randomProviderLock is a lock to offer thread safety to the random number generator.
	randomProviderLock sync.Mutex
}

// bytesMutationMethods define methods which take an initial byte sequence and transform it. The transformed input is
// returned. One method is chosen at random per mutation round.
var bytesMutationMethods = []func(*BytesMutator, []byte) []byte{
	// Flip a single bit at a random offset.
	func(m *BytesMutator, b []byte) []byte {
		if len(b) == 0 {
			return b
		}
		b[m.randomProvider.Intn(len(b))] ^= 1 << m.randomProvider.Intn(8)
		return b
	},
	// Insert a random byte at a random offset.
	func(m *BytesMutator, b []byte) []byte {
		i := m.randomProvider.Intn(len(b) + 1)
		b = append(b, 0)
		copy(b[i+1:], b[i:])
		b[i] = byte(m.randomProvider.Intn(256))
		return b
	},
	// Truncate to a strictly shorter length.
	func(m *BytesMutator, b []byte) []byte {
		if len(b) == 0 {
			return b
		}
		return b[:m.randomProvider.Intn(len(b))]
	},
	// Overwrite a random byte with a random value.
	func(m *BytesMutator, b []byte) []byte {
		if len(b) == 0 {
			return b
		}
		b[m.randomProvider.Intn(len(b))] = byte(m.randomProvider.Intn(256))
		return b
	},
	// Duplicate a random block and insert it after itself.
	func(m *BytesMutator, b []byte) []byte {
		if len(b) == 0 {
			return b
		}
		start := m.randomProvider.Intn(len(b))
		end := start + m.randomProvider.Intn(len(b)-start) + 1
		block := slices.Clone(b[start:end])
		tail := slices.Clone(b[end:])
		return append(append(b[:end], block...), tail...)
	},
	// Splice a token from the value set into a random offset.
	func(m *BytesMutator, b []byte) []byte {
		tokens := m.valueSet.Tokens()
		if len(tokens) == 0 {
			return b
		}
		token := tokens[m.randomProvider.Intn(len(tokens))]
		i := m.randomProvider.Intn(len(b) + 1)
		tail := slices.Clone(b[i:])
		return append(append(b[:i], token...), tail...)
	},
}

// NewBytesMutator creates a BytesMutator with the provided config, value set, and random provider.
// Returns an error if the config is invalid.
func NewBytesMutator(config *BytesMutatorConfig, valueSet *ValueSet, randomProvider *rand.Rand) (*BytesMutator, error) {
	if config.MaxInputSize <= 0 {
		return nil, errors.Errorf("mutator max input size must be positive, got %d", config.MaxInputSize)
	}
	if config.MinMutationRounds <= 0 || config.MaxMutationRounds < config.MinMutationRounds {
		return nil, errors.Errorf("mutator mutation rounds are invalid: min %d, max %d", config.MinMutationRounds, config.MaxMutationRounds)
	}
	return &BytesMutator{
		config:         config,
		valueSet:       valueSet,
		randomProvider: randomProvider,
	}, nil
}

// ValueSet returns the value set this mutator splices tokens from.
func (m *BytesMutator) ValueSet() *ValueSet {
	return m.valueSet
}

// Mutate derives a new test case from the provided parent by applying a random number of mutation rounds to a copy
// of its input. The parent is never modified, and the derived input never exceeds the configured maximum size.
func (m *BytesMutator) Mutate(parent *corpus.TestCase) *corpus.TestCase {
	m.randomProviderLock.Lock()
	defer m.randomProviderLock.Unlock()

	// Determine how many mutation rounds to apply.
	rounds := m.config.MinMutationRounds + m.randomProvider.Intn(m.config.MaxMutationRounds-m.config.MinMutationRounds+1)

	// Mutate a copy of the parent input for the desired number of rounds, clamping the length after each round.
	input := parent.Data()
	for i := 0; i < rounds; i++ {
		input = bytesMutationMethods[m.randomProvider.Intn(len(bytesMutationMethods))](m, input)
		if len(input) > m.config.MaxInputSize {
			input = input[:m.config.MaxInputSize]
		}
	}

	return corpus.NewTestCase(input, parent.ID())
}
