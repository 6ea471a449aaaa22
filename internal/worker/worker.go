// Package worker provides a NATS worker that renders generation jobs whose
// scripts and audio travel through JetStream object store buckets.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voicekit/speechd/internal/audio"
	"github.com/voicekit/speechd/internal/core"
	"github.com/voicekit/speechd/internal/generation"
)

const handleMessageTimeout = 15 * time.Minute

// GenerationJob is the message payload a requester publishes. The script text
// itself lives in the script bucket under ScriptKey.
type GenerationJob struct {
	JobID             string   `json:"job_id,omitempty"`
	ScriptKey         string   `json:"script_key"`
	Voices            []string `json:"voices"`
	Format            string   `json:"format,omitempty"`
	Speed             float64  `json:"speed,omitempty"`
	CFGScale          float64  `json:"cfg_scale,omitempty"`
	InferenceSteps    int      `json:"inference_steps,omitempty"`
	DoSample          *bool    `json:"do_sample,omitempty"`
	Temperature       float64  `json:"temperature,omitempty"`
	TopP              float64  `json:"top_p,omitempty"`
	TopK              int      `json:"top_k,omitempty"`
	RepetitionPenalty float64  `json:"repetition_penalty,omitempty"`
	Seed              int64    `json:"seed,omitempty"`
}

// GenerationResult is the reply payload. AudioKey names the rendered blob in
// the audio bucket; Error is set instead when the job failed.
type GenerationResult struct {
	JobID           string  `json:"job_id,omitempty"`
	AudioKey        string  `json:"audio_key,omitempty"`
	Format          string  `json:"format,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// NatsWorker listens for generation jobs on a NATS subject and renders them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	scripts        core.ObjectStore
	audioBlobs     core.ObjectStore
	coordinator    *generation.Coordinator
	defaultFormat  audio.Format
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	scripts core.ObjectStore,
	audioBlobs core.ObjectStore,
	coordinator *generation.Coordinator,
	defaultFormat audio.Format,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		scripts:        scripts,
		audioBlobs:     audioBlobs,
		coordinator:    coordinator,
		defaultFormat:  defaultFormat,
		log:            log,
	}
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Worker listening on subject %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var job GenerationJob

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.log.Error("Failed to unmarshal generation job: %v", err)

		return
	}

	result := w.processJob(ctx, &job)

	err = w.publishResult(msg, result)
	if err != nil {
		w.log.Error("Failed to publish result for job %s: %v", job.JobID, err)
	}
}

// processJob downloads the script, renders it, and uploads the encoded audio.
// Failures come back as an error result so the requester is never left
// waiting.
func (w *NatsWorker) processJob(ctx context.Context, job *GenerationJob) *GenerationResult {
	result := &GenerationResult{JobID: job.JobID}

	format, err := w.resolveFormat(job.Format)
	if err != nil {
		result.Error = err.Error()

		return result
	}

	scriptData, err := w.scripts.Download(ctx, job.ScriptKey)
	if err != nil {
		result.Error = fmt.Sprintf(
			"failed to download script for key '%s': %v", job.ScriptKey, err)

		return result
	}

	pcm, rate, err := w.coordinator.Generate(ctx, generation.Request{
		Script: string(scriptData),
		Voices: job.Voices,
		Speed:  job.Speed,
		Params: core.SynthesisParams{
			CFGScale:          job.CFGScale,
			InferenceSteps:    job.InferenceSteps,
			DoSample:          job.DoSample,
			Temperature:       job.Temperature,
			TopP:              job.TopP,
			TopK:              job.TopK,
			RepetitionPenalty: job.RepetitionPenalty,
			Seed:              job.Seed,
		},
	})
	if err != nil {
		result.Error = fmt.Sprintf("generation failed: %v", err)

		return result
	}

	encoded, err := audio.Encode(ctx, pcm, rate, format)
	if err != nil {
		result.Error = fmt.Sprintf("encoding failed: %v", err)

		return result
	}

	audioKey := uuid.NewString() + "." + string(format)

	err = w.audioBlobs.Upload(ctx, audioKey, encoded)
	if err != nil {
		result.Error = fmt.Sprintf(
			"failed to upload audio for key '%s': %v", audioKey, err)

		return result
	}

	result.AudioKey = audioKey
	result.Format = string(format)
	result.DurationSeconds = audio.Duration(pcm, rate)

	w.log.Info("Rendered job %s to %s (%.1fs of audio)",
		job.JobID, audioKey, result.DurationSeconds)

	return result
}

func (w *NatsWorker) resolveFormat(name string) (audio.Format, error) {
	if name == "" {
		return w.defaultFormat, nil
	}

	format, err := audio.ParseFormat(name)
	if err != nil {
		return "", fmt.Errorf("invalid job format: %w", err)
	}

	return format, nil
}

// publishResult marshals and responds with the GenerationResult.
func (w *NatsWorker) publishResult(msg *nats.Msg, result *GenerationResult) error {
	replyData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	return nil
}
