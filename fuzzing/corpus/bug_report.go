package corpus

import "time"

// BugReport associates a crash-producing TestCase with the metadata from the execution observation which produced
// the crash.
type BugReport struct {
	// TestCase is the input which produced the crash.
	TestCase *TestCase

	// Metadata records the observed details of the crashing execution.
	Metadata BugMetadata
}

// BugMetadata records the observed details of a crashing execution, serialized as a CBOR sidecar file next to the
// raw input when the corpus is persisted.
type BugMetadata struct {
	// CrashKind describes how the execution failed, e.g. "fault" or "hang".
	CrashKind string `cbor:"crashKind"`

	// ExitSignal describes the signal which terminated a subprocess harness, or zero when not applicable.
	ExitSignal int `cbor:"exitSignal"`

	// Duration describes the wall-clock time the crashing execution took, in nanoseconds.
	Duration time.Duration `cbor:"duration"`

	// EdgeCount describes the amount of unique coverage edges the crashing execution reached.
	EdgeCount int `cbor:"edgeCount"`

	// RecordedAt describes the time the bug report was recorded.
	RecordedAt time.Time `cbor:"recordedAt"`
}
