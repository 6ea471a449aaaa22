// Package core defines the domain contracts shared across the speechd service:
// the synthesis engine interface, the blob store interface, and the parameter
// and waveform types that flow between the coordinator and its collaborators.
package core

import "context"

// InternalSampleRate is the fixed sample rate, in Hz, that every voice preset
// is resampled to and that the synthesis engine produces.
const InternalSampleRate = 24000

// SynthesisParams holds the numeric knobs for one engine call. Values are
// validated at the request boundary before any engine work happens. DoSample
// is a tri-state: nil means the caller left it unset and the configured
// default applies, so an explicit false survives defaulting.
type SynthesisParams struct {
	CFGScale          float64
	InferenceSteps    int
	DoSample          *bool
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
	Seed              int64
}

// Conditioning bundles the text and reference-voice input supplied to the
// synthesis engine for one generation step. VoiceSamples are mono float32
// waveforms at InternalSampleRate, ordered by speaker index.
type Conditioning struct {
	Text         string
	VoiceSamples [][]float32
	SampleRate   int
}

// SynthesisStream is a blocking sequence of raw waveform segments produced by
// one engine call. Next returns io.EOF after the last segment. Implementations
// must unblock Next when the context passed to Synthesize is cancelled.
type SynthesisStream interface {
	Next() ([]float32, error)
	Close() error
}

// SynthesisEngine is the contract for the stateful, GPU-resident synthesis
// backend. The engine is a singleton resource: callers must hold the
// coordinator's exclusivity lock for the duration of a Synthesize call.
type SynthesisEngine interface {
	Synthesize(ctx context.Context, cond Conditioning, params SynthesisParams) (SynthesisStream, error)
	Ready(ctx context.Context) error
}

// ObjectStore defines the interface for interacting with a key-value blob
// store, used by the NATS worker for script text and rendered audio.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
