package core

import "errors"

// Failure taxonomy for the generation lifecycle. Validation failures are
// reported before the engine exclusivity lock is acquired; engine, timeout and
// cancellation failures are reported after it is released. None of these are
// retried automatically: the caller must resubmit explicitly.
var (
	// ErrValidation indicates a malformed request: empty script text, an
	// out-of-range numeric parameter, or a speaker entry with no voice.
	ErrValidation = errors.New("invalid request")

	// ErrVoiceNotFound indicates that a requested voice matched neither an
	// alias nor a preset name. The wrapped message lists every valid name.
	ErrVoiceNotFound = errors.New("voice not found")

	// ErrSpeakerNotAssigned indicates that the script references a speaker
	// index with no voice assignment.
	ErrSpeakerNotAssigned = errors.New("speaker not assigned")

	// ErrEngine indicates an opaque synthesis backend failure. Generation is
	// not safely idempotent (seeds may be unset), so it is never auto-retried.
	ErrEngine = errors.New("synthesis engine failure")

	// ErrTimeout indicates the session exceeded its wall-clock budget.
	ErrTimeout = errors.New("generation timed out")

	// ErrCancelled indicates the caller cancelled the session. Chunks already
	// delivered remain valid.
	ErrCancelled = errors.New("generation cancelled")

	// ErrEncoding indicates an unsupported target format or a container
	// conversion failure. Only the encoding step needs to be retried.
	ErrEncoding = errors.New("audio encoding failed")
)
