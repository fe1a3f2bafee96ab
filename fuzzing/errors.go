package fuzzing

import "fmt"

// InvalidInputError indicates a fuzzing campaign was started with unusable inputs, e.g. an empty seed corpus.
type InvalidInputError struct {
	// Reason describes why the campaign inputs were unusable.
	Reason string
}

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid fuzzing input: %s", e.Reason)
}
