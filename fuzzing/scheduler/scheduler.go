package scheduler

import (
	"math/rand"
	"sync"

	"github.com/mantidfuzz/mantid/fuzzing/corpus"
	"github.com/mantidfuzz/mantid/utils/randomutils"
	"github.com/pkg/errors"
)

// Policy describes a strategy for selecting the next test case to mutate from a corpus.
type Policy string

const (
	// PolicyRandom selects test cases at random, weighted towards test cases which recently contributed new
	// coverage.
	PolicyRandom Policy = "random"

	// PolicyRoundRobin cycles through the corpus in insertion order.
	PolicyRoundRobin Policy = "roundRobin"
)

// coverageBoostWeight is the selection weight assigned to a test case which contributed new coverage, relative to
// the base weight of 1 all retained test cases carry.
const coverageBoostWeight = 8

// Config defines the operation parameters for a Scheduler.
type Config struct {
	// Policy describes the test case selection strategy to use.
	Policy Policy

	// IterationBudget describes the amount of executions after which the campaign should stop, when LimitIterations
	// is set. A budget of zero with LimitIterations set stops the campaign before any execution occurs.
	IterationBudget uint64

	// LimitIterations indicates whether IterationBudget bounds the campaign at all.
	LimitIterations bool
}

// Scheduler selects which retained test case a fuzzing worker should mutate next, and decides when the campaign's
// iteration budget is exhausted.
type Scheduler struct {
	// config describes the operation parameters for this scheduler.
	config *Config

	// chooser performs the coverage-weighted random selection for PolicyRandom.
	chooser *randomutils.WeightedRandomChooser[*corpus.TestCase]

	// choicesByID maps test case identifiers to their chooser entries, so coverage reports can boost weights.
	choicesByID map[string]*randomutils.WeightedRandomChoice[*corpus.TestCase]

	// syncedTestCases tracks ordered corpus test cases already known to the scheduler.
	syncedTestCases []*corpus.TestCase

	// roundRobinIndex tracks the next selection position for PolicyRoundRobin.
	roundRobinIndex int

	// lock provides thread-synchronization to avoid concurrent access issues across workers.
	lock sync.Mutex
}

// NewScheduler creates a Scheduler with the provided config, using the provided random provider for weighted random
// selection.
// Returns an error if the config names an unknown policy.
func NewScheduler(config *Config, randomProvider *rand.Rand) (*Scheduler, error) {
	if config.Policy != PolicyRandom && config.Policy != PolicyRoundRobin {
		return nil, errors.Errorf("unknown scheduling policy %q", config.Policy)
	}
	return &Scheduler{
		config:          config,
		chooser:         randomutils.NewWeightedRandomChooser[*corpus.TestCase](randomProvider, &sync.Mutex{}),
		choicesByID:     make(map[string]*randomutils.WeightedRandomChoice[*corpus.TestCase]),
		syncedTestCases: make([]*corpus.TestCase, 0),
	}, nil
}

// ShouldStop reports whether the campaign's iteration budget is exhausted after the provided amount of executions.
func (s *Scheduler) ShouldStop(iterations uint64) bool {
	return s.config.LimitIterations && iterations >= s.config.IterationBudget
}

// Next selects the test case a worker should mutate next, after syncing any corpus growth since the last call.
// It returns nil when the iteration budget is exhausted after the provided amount of executions, signalling the
// campaign should stop.
// Returns an error if the corpus holds no test cases to select from.
func (s *Scheduler) Next(c *corpus.Corpus, iterations uint64) (*corpus.TestCase, error) {
	if s.ShouldStop(iterations) {
		return nil, nil
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	// Register any test cases the corpus gained since our last selection.
	snapshot := c.TestCases()
	for i := len(s.syncedTestCases); i < len(snapshot); i++ {
		choice := randomutils.NewWeightedRandomChoice(snapshot[i], 1)
		s.chooser.AddChoices(choice)
		s.choicesByID[snapshot[i].ID()] = choice
		s.syncedTestCases = append(s.syncedTestCases, snapshot[i])
	}
	if len(s.syncedTestCases) == 0 {
		return nil, errors.New("cannot schedule a test case from an empty corpus")
	}

	// Make our selection per the configured policy.
	if s.config.Policy == PolicyRoundRobin {
		testCase := s.syncedTestCases[s.roundRobinIndex%len(s.syncedTestCases)]
		s.roundRobinIndex++
		return testCase, nil
	}
	choice, err := s.chooser.Choose()
	if err != nil {
		return nil, err
	}
	return *choice, nil
}

// ReportNewCoverage informs the scheduler that the provided test case contributed new coverage, boosting its
// selection weight so recent discoveries are explored more often.
func (s *Scheduler) ReportNewCoverage(testCase *corpus.TestCase) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if choice, ok := s.choicesByID[testCase.ID()]; ok {
		s.chooser.SetChoiceWeight(choice, coverageBoostWeight)
	}
}
