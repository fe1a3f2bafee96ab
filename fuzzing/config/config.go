package config

import (
	"encoding/json"
	"os"

	"github.com/mantidfuzz/mantid/fuzzing/scheduler"
	"github.com/mantidfuzz/mantid/version"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ProjectConfig describes the configuration of a fuzzing project, typically stored in a mantid.json file at the
// project root.
type ProjectConfig struct {
	// Version describes the tool version the configuration was written for. Configurations written for a newer
	// major version are rejected when read.
	Version string `json:"version"`

	// Fuzzing describes the configuration used in fuzzing campaigns.
	Fuzzing FuzzingConfig `json:"fuzzing"`
}

// FuzzingConfig describes the configuration options used by the fuzzing.Fuzzer.
type FuzzingConfig struct {
	// Workers describes the amount of threads to use in fuzzing campaigns.
	Workers int `json:"workers"`

	// WorkerResetLimit describes how many iterations a worker should perform before it is destroyed and recreated
	// so that accumulated state from its mutator and executor is freed.
	WorkerResetLimit int `json:"workerResetLimit"`

	// Timeout describes a time in seconds for which the fuzzing operation should run. Providing negative or zero
	// value will result in no timeout.
	Timeout int `json:"timeout"`

	// TestLimit describes a threshold for the number of executions to perform, after which the campaign will exit.
	// This number must be non-negative. A zero value indicates the test limit should not be enforced.
	TestLimit uint64 `json:"testLimit"`

	// MaxInputSize describes the maximum length in bytes a mutated input may have.
	MaxInputSize int `json:"maxInputSize"`

	// MinMutationRounds describes the minimum amount of mutations applied when deriving an input.
	MinMutationRounds int `json:"minMutationRounds"`

	// MaxMutationRounds describes the maximum amount of mutations applied when deriving an input.
	MaxMutationRounds int `json:"maxMutationRounds"`

	// CorpusDirectory describes the name for the folder that will hold the corpus, bug artifacts, and the coverage
	// index. If empty, the in-memory corpus will be used, but not flush to disk.
	CorpusDirectory string `json:"corpusDirectory"`

	// SeedDirectory describes a folder of initial inputs loaded into the corpus at campaign start. If empty, seeds
	// must be supplied programmatically before the campaign starts.
	SeedDirectory string `json:"seedDirectory"`

	// DictionaryPath describes an optional dictionary file of byte tokens for the mutator to splice into inputs.
	DictionaryPath string `json:"dictionaryPath"`

	// CoverageEnabled describes whether to use coverage-guided fuzzing.
	CoverageEnabled bool `json:"coverageEnabled"`

	// RandomSeed describes the seed for the campaign's random number generators. A zero value seeds from the
	// current time, making each campaign unique.
	RandomSeed int64 `json:"randomSeed"`

	// SchedulerPolicy describes the test case selection strategy to use.
	SchedulerPolicy scheduler.Policy `json:"schedulerPolicy"`

	// StopOnBug describes whether the fuzzing.Fuzzer should stop after recording the first bug.
	StopOnBug bool `json:"stopOnBug"`

	// Execution describes the configuration used to execute test cases against the target.
	Execution ExecutionConfig `json:"execution"`

	// Logging describes the configuration used for logging
	Logging LoggingConfig `json:"loggingConfig"`
}

// ExecutionConfig describes the configuration options used to execute test cases against a target binary.
type ExecutionConfig struct {
	// TargetPath describes the path of the target binary to execute test cases against.
	TargetPath string `json:"targetPath"`

	// TargetArgs describes the arguments to launch the target binary with.
	TargetArgs []string `json:"targetArgs"`

	// TimeoutMilliseconds describes the wall-clock time limit per execution, in milliseconds. Executions exceeding
	// it are observed as hangs.
	TimeoutMilliseconds int `json:"timeoutMilliseconds"`
}

// LoggingConfig describes the configuration options used for logging
type LoggingConfig struct {
	// Level describes whether logs of certain severity levels (eg info, warning, etc.) will be emitted or discarded.
	// Increasing level values represent more severe logs
	Level zerolog.Level `json:"level"`

	// EnableConsoleLogging describes whether console logging is enabled
	EnableConsoleLogging bool `json:"enableConsoleLogging"`

	// LogDirectory describes the directory where structured log _files_ will be outputted. If the string is empty,
	// then no log files are kept
	LogDirectory string `json:"logDirectory"`
}

// ReadProjectConfigFromFile reads a JSON-serialized ProjectConfig from a provided file path.
// Returns the ProjectConfig if it succeeds, or an error if one occurs.
func ReadProjectConfigFromFile(path string) (*ProjectConfig, error) {
	// Read our project configuration file data
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Parse the project configuration on top of our defaults.
	projectConfig := GetDefaultProjectConfig()
	err = json.Unmarshal(b, projectConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Reject configurations written for an incompatible tool version.
	if projectConfig.Version != "" {
		if err = version.CheckCompatibility(projectConfig.Version); err != nil {
			return nil, err
		}
	}

	return projectConfig, nil
}

// WriteToFile writes the ProjectConfig to a provided file path in a JSON-serialized format.
// Returns an error if one occurs.
func (p *ProjectConfig) WriteToFile(path string) error {
	// Serialize the configuration
	b, err := json.MarshalIndent(p, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}

	// Save it to the provided output path and return the result
	err = os.WriteFile(path, b, 0644)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// Validate validates that the ProjectConfig meets certain requirements.
// Returns an error if one occurs.
func (p *ProjectConfig) Validate() error {
	// Verify the worker count is a positive number.
	if p.Fuzzing.Workers <= 0 {
		return errors.Errorf("fuzzer worker count must be positive number")
	}

	// Verify the worker reset limit is a positive number
	if p.Fuzzing.WorkerResetLimit <= 0 {
		return errors.Errorf("worker reset limit must be a positive number")
	}

	// Verify input sizing and mutation round bounds
	if p.Fuzzing.MaxInputSize <= 0 {
		return errors.Errorf("max input size must be a positive number")
	}
	if p.Fuzzing.MinMutationRounds <= 0 || p.Fuzzing.MaxMutationRounds < p.Fuzzing.MinMutationRounds {
		return errors.Errorf("mutation rounds must be positive and min cannot exceed max")
	}

	// Verify the scheduling policy is known
	if p.Fuzzing.SchedulerPolicy != scheduler.PolicyRandom && p.Fuzzing.SchedulerPolicy != scheduler.PolicyRoundRobin {
		return errors.Errorf("unknown scheduling policy %q", p.Fuzzing.SchedulerPolicy)
	}

	// Verify the per-execution timeout is a positive number
	if p.Fuzzing.Execution.TimeoutMilliseconds <= 0 {
		return errors.Errorf("execution timeout must be a positive number of milliseconds")
	}

	return nil
}
