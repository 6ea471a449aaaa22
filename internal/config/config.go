// Package config provides the configuration structure for speechd.
//
// Configuration is read exactly once at startup through the central
// configurator and is never re-read; changing the voices directory or engine
// settings requires a restart.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"

	"github.com/voicekit/speechd/internal/core"
)

// Defaults applied to zero-valued generation settings.
const (
	DefaultCFGScale          = 1.3
	DefaultInferenceSteps    = 10
	DefaultTemperature       = 0.95
	DefaultTopP              = 0.95
	DefaultTopK              = 50
	DefaultRepetitionPenalty = 1.0
	DefaultMaxWordsPerChunk  = 250
	DefaultChunkCapacity     = 8
	DefaultTimeoutSeconds    = 600
	DefaultFormat            = "mp3"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// VoicesConfig holds the voice preset discovery settings. Aliases maps
// external voice names onto preset names; entries whose target preset does not
// exist on disk are ignored at registry build time.
type VoicesConfig struct {
	Dir     string            `toml:"dir"`
	Aliases map[string]string `toml:"aliases"`
}

// EngineConfig holds the settings for the synthesis backend sidecar.
type EngineConfig struct {
	URL            string `toml:"url"`
	Device         string `toml:"device"`
	Precision      string `toml:"precision"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// GenerationConfig holds the default numeric parameters applied to requests
// that leave them unset, plus the streaming channel capacity and the
// per-session wall-clock budget.
type GenerationConfig struct {
	CFGScale          float64 `toml:"cfg_scale"`
	InferenceSteps    int     `toml:"inference_steps"`
	DoSample          bool    `toml:"do_sample"`
	Temperature       float64 `toml:"temperature"`
	TopP              float64 `toml:"top_p"`
	TopK              int     `toml:"top_k"`
	RepetitionPenalty float64 `toml:"repetition_penalty"`
	MaxWordsPerChunk  int     `toml:"max_words_per_chunk"`
	ChunkCapacity     int     `toml:"chunk_capacity"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	DefaultFormat     string  `toml:"default_format"`
}

// Params returns the configured default sampling parameters.
func (g *GenerationConfig) Params() core.SynthesisParams {
	doSample := g.DoSample

	return core.SynthesisParams{
		CFGScale:          g.CFGScale,
		InferenceSteps:    g.InferenceSteps,
		DoSample:          &doSample,
		Temperature:       g.Temperature,
		TopP:              g.TopP,
		TopK:              g.TopK,
		RepetitionPenalty: g.RepetitionPenalty,
		Seed:              0,
	}
}

// NATSConfig holds the optional job worker transport settings. The worker is
// disabled when URL is empty.
type NATSConfig struct {
	URL          string `toml:"url"`
	JobsSubject  string `toml:"jobs_subject"`
	ScriptBucket string `toml:"script_bucket"`
	AudioBucket  string `toml:"audio_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Voices     VoicesConfig     `toml:"voices"`
	Engine     EngineConfig     `toml:"engine"`
	Generation GenerationConfig `toml:"generation"`
	NATS       NATSConfig       `toml:"nats"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads the configuration for speechd and fills in generation defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills zero values with the service defaults so that a minimal
// TOML tree still yields a runnable configuration.
func (c *Config) applyDefaults() {
	gen := &c.Generation
	if gen.CFGScale == 0 {
		gen.CFGScale = DefaultCFGScale
	}

	if gen.InferenceSteps == 0 {
		gen.InferenceSteps = DefaultInferenceSteps
	}

	if gen.Temperature == 0 {
		gen.Temperature = DefaultTemperature
	}

	if gen.TopP == 0 {
		gen.TopP = DefaultTopP
	}

	if gen.TopK == 0 {
		gen.TopK = DefaultTopK
	}

	if gen.RepetitionPenalty == 0 {
		gen.RepetitionPenalty = DefaultRepetitionPenalty
	}

	if gen.MaxWordsPerChunk == 0 {
		gen.MaxWordsPerChunk = DefaultMaxWordsPerChunk
	}

	if gen.ChunkCapacity == 0 {
		gen.ChunkCapacity = DefaultChunkCapacity
	}

	if gen.TimeoutSeconds == 0 {
		gen.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if gen.DefaultFormat == "" {
		gen.DefaultFormat = DefaultFormat
	}
}
