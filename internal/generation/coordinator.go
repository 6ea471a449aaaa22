package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/book-expert/logger"

	"github.com/voicekit/speechd/internal/audio"
	"github.com/voicekit/speechd/internal/core"
	"github.com/voicekit/speechd/internal/script"
	"github.com/voicekit/speechd/internal/voice"
)

// Parameter bounds enforced before a request is accepted.
const (
	minCFGScale          = 0.5
	maxCFGScale          = 5.0
	minInferenceSteps    = 1
	maxInferenceSteps    = 100
	maxTemperature       = 2.0
	maxTopP              = 1.0
	maxTopK              = 200
	minRepetitionPenalty = 1.0
	maxRepetitionPenalty = 3.0
	minSpeed             = 0.25
	maxSpeed             = 4.0
)

// Fallbacks for unset coordinator options.
const (
	defaultChunkCapacity = 8
	defaultTimeout       = 10 * time.Minute
)

// Error messages.
const (
	errScriptEmpty       = "script is empty after sanitization"
	errFmtCFGScale       = "cfg_scale must be between %.1f and %.1f"
	errFmtInferenceSteps = "inference_steps must be between %d and %d"
	errFmtTemperature    = "temperature must be greater than 0 and at most %.1f"
	errFmtTopP           = "top_p must be greater than 0 and at most %.1f"
	errFmtTopK           = "top_k must be between 0 and %d"
	errFmtRepPenalty     = "repetition_penalty must be between %.1f and %.1f"
	errFmtSpeed          = "speed must be between %.2f and %.2f"
	errFmtSpeakerVoice   = "speaker %d has no assigned voice"
)

// Request describes one script to synthesize. Voices assigns a registry voice
// name to each speaker index appearing in the script; speed rescales the
// final waveform's duration.
type Request struct {
	Script string
	Voices []string
	Params core.SynthesisParams
	Speed  float64
}

// Options tunes the coordinator. Zero values select the documented defaults.
type Options struct {
	MaxWordsPerChunk int
	ChunkCapacity    int
	Timeout          time.Duration
	Defaults         core.SynthesisParams
}

// segmentPlan is one fully-resolved unit of work: a speaker's parts plus the
// decoded waveform conditioning that speaker's voice.
type segmentPlan struct {
	speaker  int
	waveform []float32
	parts    []script.Part
}

// Coordinator validates generation requests and runs them one at a time
// against the synthesis backend. The width-1 gate reflects the backend's
// capacity: a single model instance on a single accelerator.
type Coordinator struct {
	log      *logger.Logger
	registry *voice.Registry
	engine   core.SynthesisEngine
	gate     chan struct{}
	opts     Options
}

// New builds a coordinator around a voice registry and synthesis engine.
func New(
	registry *voice.Registry,
	eng core.SynthesisEngine,
	opts Options,
	log *logger.Logger,
) *Coordinator {
	if opts.MaxWordsPerChunk <= 0 {
		opts.MaxWordsPerChunk = script.DefaultMaxWordsPerChunk
	}

	if opts.ChunkCapacity <= 0 {
		opts.ChunkCapacity = defaultChunkCapacity
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	return &Coordinator{
		log:      log,
		registry: registry,
		engine:   eng,
		gate:     make(chan struct{}, 1),
		opts:     opts,
	}
}

// Submit validates a request and, if it is acceptable, returns a session
// whose chunks arrive as generation proceeds. All validation, including voice
// resolution, happens before the session is queued: a request that cannot
// possibly succeed never waits for the generation lock.
func (c *Coordinator) Submit(ctx context.Context, req Request) (*Session, error) {
	plans, params, speed, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	session := newSession(c.opts.ChunkCapacity, cancel)

	c.log.Info("Session %s accepted: %d segment(s), speed %.2f",
		session.ID, len(plans), speed)

	go c.run(genCtx, session, plans, params, speed)

	return session, nil
}

// Generate runs a request to completion and returns the concatenated
// waveform. It is the non-streaming path used by the job worker and the
// buffered HTTP responses.
func (c *Coordinator) Generate(ctx context.Context, req Request) ([]float32, int, error) {
	session, err := c.Submit(ctx, req)
	if err != nil {
		return nil, 0, err
	}

	var pcm [][]float32

	for chunk := range session.Chunks() {
		if chunk.Err != nil {
			return nil, 0, chunk.Err
		}

		if len(chunk.PCM) > 0 {
			pcm = append(pcm, chunk.PCM)
		}
	}

	return audio.Concat(pcm), core.InternalSampleRate, nil
}

// prepare sanitizes and parses the script, validates parameters, and resolves
// every speaker's voice to a decoded waveform.
func (c *Coordinator) prepare(req Request) ([]segmentPlan, core.SynthesisParams, float64, error) {
	cleaned := script.Sanitize(req.Script)
	if cleaned == "" {
		return nil, core.SynthesisParams{}, 0,
			fmt.Errorf("%w: %s", core.ErrValidation, errScriptEmpty)
	}

	segments := script.Parse(cleaned)
	if len(segments) == 0 {
		return nil, core.SynthesisParams{}, 0,
			fmt.Errorf("%w: %s", core.ErrValidation, errScriptEmpty)
	}

	params := c.applyDefaults(req.Params)

	speed := req.Speed
	if speed == 0 {
		speed = 1.0
	}

	validationErr := validateParams(params, speed)
	if validationErr != nil {
		return nil, core.SynthesisParams{}, 0, validationErr
	}

	waveforms, err := c.resolveVoices(segments, req.Voices)
	if err != nil {
		return nil, core.SynthesisParams{}, 0, err
	}

	plans := make([]segmentPlan, 0, len(segments))
	for _, segment := range segments {
		plans = append(plans, segmentPlan{
			speaker:  segment.Speaker,
			waveform: waveforms[segment.Speaker],
			parts:    segment.Parts,
		})
	}

	return plans, params, speed, nil
}

// resolveVoices maps every speaker index in the script to a decoded waveform.
func (c *Coordinator) resolveVoices(
	segments []script.Segment,
	voices []string,
) (map[int][]float32, error) {
	waveforms := make(map[int][]float32)

	for _, speaker := range script.Speakers(segments) {
		if speaker >= len(voices) || voices[speaker] == "" {
			return nil, fmt.Errorf("%w: "+errFmtSpeakerVoice,
				core.ErrSpeakerNotAssigned, speaker)
		}

		waveform, _, err := c.registry.Resolve(voices[speaker])
		if err != nil {
			return nil, err
		}

		waveforms[speaker] = waveform
	}

	return waveforms, nil
}

// applyDefaults fills zero-valued sampling parameters from the configured
// defaults. DoSample is only defaulted while nil, so an explicit false from
// the caller is preserved.
func (c *Coordinator) applyDefaults(params core.SynthesisParams) core.SynthesisParams {
	defaults := c.opts.Defaults

	if params.CFGScale == 0 {
		params.CFGScale = defaults.CFGScale
	}

	if params.InferenceSteps == 0 {
		params.InferenceSteps = defaults.InferenceSteps
	}

	if params.Temperature == 0 {
		params.Temperature = defaults.Temperature
	}

	if params.TopP == 0 {
		params.TopP = defaults.TopP
	}

	if params.TopK == 0 {
		params.TopK = defaults.TopK
	}

	if params.RepetitionPenalty == 0 {
		params.RepetitionPenalty = defaults.RepetitionPenalty
	}

	if params.DoSample == nil {
		params.DoSample = defaults.DoSample
	}

	return params
}

// validateParams rejects out-of-range sampling parameters with a
// core.ErrValidation the transport layer can map to a client error.
func validateParams(params core.SynthesisParams, speed float64) error {
	if params.CFGScale < minCFGScale || params.CFGScale > maxCFGScale {
		return fmt.Errorf("%w: "+errFmtCFGScale,
			core.ErrValidation, minCFGScale, maxCFGScale)
	}

	if params.InferenceSteps < minInferenceSteps || params.InferenceSteps > maxInferenceSteps {
		return fmt.Errorf("%w: "+errFmtInferenceSteps,
			core.ErrValidation, minInferenceSteps, maxInferenceSteps)
	}

	if params.Temperature <= 0 || params.Temperature > maxTemperature {
		return fmt.Errorf("%w: "+errFmtTemperature, core.ErrValidation, maxTemperature)
	}

	if params.TopP <= 0 || params.TopP > maxTopP {
		return fmt.Errorf("%w: "+errFmtTopP, core.ErrValidation, maxTopP)
	}

	if params.TopK < 0 || params.TopK > maxTopK {
		return fmt.Errorf("%w: "+errFmtTopK, core.ErrValidation, maxTopK)
	}

	if params.RepetitionPenalty < minRepetitionPenalty ||
		params.RepetitionPenalty > maxRepetitionPenalty {
		return fmt.Errorf("%w: "+errFmtRepPenalty,
			core.ErrValidation, minRepetitionPenalty, maxRepetitionPenalty)
	}

	if speed < minSpeed || speed > maxSpeed {
		return fmt.Errorf("%w: "+errFmtSpeed, core.ErrValidation, minSpeed, maxSpeed)
	}

	return nil
}

// run drives one session: acquire the generation lock, synthesize each
// segment, and deliver the terminal chunk. Always called on its own
// goroutine.
func (c *Coordinator) run(
	ctx context.Context,
	session *Session,
	plans []segmentPlan,
	params core.SynthesisParams,
	speed float64,
) {
	defer session.cancel()

	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		c.log.Warn("Session %s gave up waiting for the generation lock: %v",
			session.ID, ctx.Err())
		session.finish(ctx, 0, stateForContext(ctx), classifyContextError(ctx))

		return
	}

	defer func() { <-c.gate }()

	session.setState(StateRunning)

	started := time.Now()
	index := 0

	for _, plan := range plans {
		next, err := c.runSegment(ctx, session, plan, params, speed, index)
		if err != nil {
			state := StateFailed
			if errors.Is(err, core.ErrCancelled) || errors.Is(err, core.ErrTimeout) {
				state = stateForContext(ctx)
			}

			c.log.Error("Session %s failed at chunk %d: %v", session.ID, next, err)
			session.finish(ctx, next, state, err)

			return
		}

		index = next
	}

	c.log.Info("Session %s completed: %d chunk(s) in %.1fs",
		session.ID, index, time.Since(started).Seconds())
	session.finish(ctx, index, StateCompleted, nil)
}

// runSegment synthesizes one speaker's parts, emitting audio chunks and the
// silence covering any pause directives. Returns the next chunk index.
func (c *Coordinator) runSegment(
	ctx context.Context,
	session *Session,
	plan segmentPlan,
	params core.SynthesisParams,
	speed float64,
	index int,
) (int, error) {
	for _, part := range plan.parts {
		if part.Text != "" {
			next, err := c.synthesizeText(ctx, session, plan, part.Text, params, speed, index)
			if err != nil {
				return index, err
			}

			index = next
		}

		if part.PauseMS > 0 {
			silence := audio.AdjustSpeed(
				audio.Silence(core.InternalSampleRate, part.PauseMS), speed)

			if !c.emit(ctx, session, Chunk{
				Index:      index,
				PCM:        silence,
				SampleRate: core.InternalSampleRate,
			}) {
				return index, classifyContextError(ctx)
			}

			index++
		}
	}

	return index, nil
}

// synthesizeText runs a segment's text through the engine one text chunk at a
// time, forwarding PCM batches as they arrive.
func (c *Coordinator) synthesizeText(
	ctx context.Context,
	session *Session,
	plan segmentPlan,
	text string,
	params core.SynthesisParams,
	speed float64,
	index int,
) (int, error) {
	for _, textChunk := range script.ChunkText(text, c.opts.MaxWordsPerChunk) {
		conditioning := core.Conditioning{
			Text:         fmt.Sprintf("Speaker %d: %s", plan.speaker, textChunk),
			VoiceSamples: [][]float32{plan.waveform},
			SampleRate:   core.InternalSampleRate,
		}

		next, err := c.streamEngine(ctx, session, conditioning, params, speed, index)
		if err != nil {
			return index, err
		}

		index = next
	}

	return index, nil
}

// streamEngine performs one engine call and forwards its stream to the
// session until io.EOF.
func (c *Coordinator) streamEngine(
	ctx context.Context,
	session *Session,
	conditioning core.Conditioning,
	params core.SynthesisParams,
	speed float64,
	index int,
) (int, error) {
	stream, err := c.engine.Synthesize(ctx, conditioning, params)
	if err != nil {
		if ctx.Err() != nil {
			return index, classifyContextError(ctx)
		}

		return index, err
	}

	defer func() { _ = stream.Close() }()

	for {
		batch, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return index, nil
			}

			if ctx.Err() != nil {
				return index, classifyContextError(ctx)
			}

			return index, err
		}

		if len(batch) == 0 {
			continue
		}

		if !c.emit(ctx, session, Chunk{
			Index:      index,
			PCM:        audio.AdjustSpeed(batch, speed),
			SampleRate: core.InternalSampleRate,
		}) {
			return index, classifyContextError(ctx)
		}

		index++
	}
}

// emit delivers one chunk, honoring backpressure from the bounded channel.
// Returns false when the session's context ends before the consumer takes
// the chunk.
func (c *Coordinator) emit(ctx context.Context, session *Session, chunk Chunk) bool {
	select {
	case session.chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// classifyContextError maps a finished context to the matching taxonomy
// sentinel.
func classifyContextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: generation exceeded its deadline", core.ErrTimeout)
	}

	return fmt.Errorf("%w: generation was cancelled", core.ErrCancelled)
}

func stateForContext(ctx context.Context) State {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return StateFailed
	}

	return StateCancelled
}
