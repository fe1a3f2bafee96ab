package cmd

import (
	"fmt"

	"github.com/mantidfuzz/mantid/fuzzing/config"
	"github.com/mantidfuzz/mantid/fuzzing/scheduler"
	"github.com/spf13/cobra"
)

// addFuzzFlags adds the various flags for the fuzz command
func addFuzzFlags() {
	// Get the default project config for use in flag descriptions
	defaultConfig := config.GetDefaultProjectConfig()

	// Prevent alphabetical sorting of usage message
	fuzzCmd.Flags().SortFlags = false

	// Config file
	fuzzCmd.Flags().String("config", "", "path to config file")

	// Target
	fuzzCmd.Flags().String("target", "", "path of the target binary to execute test cases against")

	// Number of workers
	fuzzCmd.Flags().Int("workers", 0,
		fmt.Sprintf("number of fuzzer workers (unless a config file is provided, default is %d)", defaultConfig.Fuzzing.Workers))

	// Timeout
	fuzzCmd.Flags().Int("timeout", 0,
		fmt.Sprintf("number of seconds to run the fuzzer campaign for (unless a config file is provided, default is %d). 0 means that timeout is not enforced", defaultConfig.Fuzzing.Timeout))

	// Test limit
	fuzzCmd.Flags().Uint64("test-limit", 0,
		fmt.Sprintf("number of executions to perform before exiting (unless a config file is provided, default is %d). 0 means that test limit is not enforced", defaultConfig.Fuzzing.TestLimit))

	// Corpus directory
	fuzzCmd.Flags().String("corpus-dir", "",
		fmt.Sprintf("directory path for corpus items and bug artifacts (unless a config file is provided, default is %q)", defaultConfig.Fuzzing.CorpusDirectory))

	// Seed directory
	fuzzCmd.Flags().String("seed-dir", "",
		"directory path of initial inputs to load into the corpus")

	// Dictionary
	fuzzCmd.Flags().String("dictionary", "",
		"path of a dictionary file of byte tokens for the mutator")

	// Random seed
	fuzzCmd.Flags().Int64("random-seed", 0,
		"base seed for the campaign's random number generators. 0 seeds from the current time")

	// Scheduler policy
	fuzzCmd.Flags().String("scheduler-policy", "",
		fmt.Sprintf("test case selection policy, %q or %q (unless a config file is provided, default is %q)", scheduler.PolicyRandom, scheduler.PolicyRoundRobin, defaultConfig.Fuzzing.SchedulerPolicy))

	// Stop on bug
	fuzzCmd.Flags().Bool("stop-on-bug", false,
		fmt.Sprintf("stop the campaign after the first recorded bug (unless a config file is provided, default is %t)", defaultConfig.Fuzzing.StopOnBug))
}

// updateProjectConfigWithFuzzFlags will update the given projectConfig with any CLI arguments that were provided to
// the fuzz command
func updateProjectConfigWithFuzzFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error

	// Update the execution target
	if cmd.Flags().Changed("target") {
		projectConfig.Fuzzing.Execution.TargetPath, err = cmd.Flags().GetString("target")
		if err != nil {
			return err
		}
	}

	// Update number of workers
	if cmd.Flags().Changed("workers") {
		projectConfig.Fuzzing.Workers, err = cmd.Flags().GetInt("workers")
		if err != nil {
			return err
		}
	}

	// Update timeout
	if cmd.Flags().Changed("timeout") {
		projectConfig.Fuzzing.Timeout, err = cmd.Flags().GetInt("timeout")
		if err != nil {
			return err
		}
	}

	// Update test limit
	if cmd.Flags().Changed("test-limit") {
		projectConfig.Fuzzing.TestLimit, err = cmd.Flags().GetUint64("test-limit")
		if err != nil {
			return err
		}
	}

	// Update corpus directory
	if cmd.Flags().Changed("corpus-dir") {
		projectConfig.Fuzzing.CorpusDirectory, err = cmd.Flags().GetString("corpus-dir")
		if err != nil {
			return err
		}
	}

	// Update seed directory
	if cmd.Flags().Changed("seed-dir") {
		projectConfig.Fuzzing.SeedDirectory, err = cmd.Flags().GetString("seed-dir")
		if err != nil {
			return err
		}
	}

	// Update dictionary path
	if cmd.Flags().Changed("dictionary") {
		projectConfig.Fuzzing.DictionaryPath, err = cmd.Flags().GetString("dictionary")
		if err != nil {
			return err
		}
	}

	// Update random seed
	if cmd.Flags().Changed("random-seed") {
		projectConfig.Fuzzing.RandomSeed, err = cmd.Flags().GetInt64("random-seed")
		if err != nil {
			return err
		}
	}

	// Update scheduler policy
	if cmd.Flags().Changed("scheduler-policy") {
		policy, err := cmd.Flags().GetString("scheduler-policy")
		if err != nil {
			return err
		}
		projectConfig.Fuzzing.SchedulerPolicy = scheduler.Policy(policy)
	}

	// Update stop on bug
	if cmd.Flags().Changed("stop-on-bug") {
		projectConfig.Fuzzing.StopOnBug, err = cmd.Flags().GetBool("stop-on-bug")
		if err != nil {
			return err
		}
	}

	return nil
}
