package exitcodes

const (
	// ================================
	// Platform-universal exit codes
	// ================================

	// ExitCodeSuccess indicates no errors or failures had occurred.
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates some type of general error occurred.
	ExitCodeGeneralError = 1

	// ================================
	// Application-specific exit codes
	// ================================
	// Note: Despite not being standardized, exit codes 2-5 are often used for common use cases, so we avoid them.

	// ExitCodeHandledError indicates that the fuzzer encountered an error which was already logged to the user, so
	// the top-level error printing should be skipped.
	ExitCodeHandledError = 6

	// ExitCodeBugsFound indicates a fuzzing campaign completed and discovered one or more bugs.
	ExitCodeBugsFound = 7
)
