package config

import (
	"github.com/mantidfuzz/mantid/fuzzing/scheduler"
	"github.com/mantidfuzz/mantid/version"
	"github.com/rs/zerolog"
)

// GetDefaultProjectConfig obtains a default configuration for a project.
func GetDefaultProjectConfig() *ProjectConfig {
	// Create a project configuration
	projectConfig := &ProjectConfig{
		Version: version.Version,
		Fuzzing: FuzzingConfig{
			Workers:           10,
			WorkerResetLimit:  50000,
			Timeout:           0,
			TestLimit:         0,
			MaxInputSize:      4096,
			MinMutationRounds: 1,
			MaxMutationRounds: 8,
			CorpusDirectory:   "corpus",
			SeedDirectory:     "",
			DictionaryPath:    "",
			CoverageEnabled:   true,
			RandomSeed:        0,
			SchedulerPolicy:   scheduler.PolicyRandom,
			StopOnBug:         false,
			Execution: ExecutionConfig{
				TargetPath:          "",
				TargetArgs:          []string{},
				TimeoutMilliseconds: 1000,
			},
			Logging: LoggingConfig{
				Level:                zerolog.InfoLevel,
				EnableConsoleLogging: true,
				LogDirectory:         "",
			},
		},
	}

	// Return the project configuration
	return projectConfig
}
