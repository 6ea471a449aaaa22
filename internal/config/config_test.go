// Package config_test tests the configuration loading for speechd.
package config_test

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicekit/speechd/internal/config"
)

func TestUnmarshalConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[server]
host = "0.0.0.0"
port = 8001

[voices]
dir = "/app/voices"

[voices.aliases]
alloy = "en-Alice_woman"
echo = "en-Carter_man"

[engine]
url = "http://127.0.0.1:9000"
device = "cuda"
precision = "bfloat16"
timeout_seconds = 120

[generation]
cfg_scale = 1.5
inference_steps = 20
temperature = 0.9
top_p = 0.9
top_k = 40
repetition_penalty = 1.1
chunk_capacity = 16
timeout_seconds = 900
default_format = "wav"

[nats]
url = "nats://127.0.0.1:4222"
jobs_subject = "speech.jobs"
script_bucket = "SCRIPTS"
audio_bucket = "RENDERED_AUDIO"

[paths]
base_logs_dir = "/var/log/speechd"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8001, cfg.Server.Port)
	assert.Equal(t, "/app/voices", cfg.Voices.Dir)
	assert.Equal(t, "en-Alice_woman", cfg.Voices.Aliases["alloy"])
	assert.Equal(t, "en-Carter_man", cfg.Voices.Aliases["echo"])
	assert.Equal(t, "http://127.0.0.1:9000", cfg.Engine.URL)
	assert.Equal(t, "cuda", cfg.Engine.Device)
	assert.Equal(t, "bfloat16", cfg.Engine.Precision)
	assert.Equal(t, 120, cfg.Engine.TimeoutSeconds)
	assert.InEpsilon(t, 1.5, cfg.Generation.CFGScale, 0.001)
	assert.Equal(t, 20, cfg.Generation.InferenceSteps)
	assert.Equal(t, 16, cfg.Generation.ChunkCapacity)
	assert.Equal(t, "wav", cfg.Generation.DefaultFormat)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "speech.jobs", cfg.NATS.JobsSubject)
	assert.Equal(t, "SCRIPTS", cfg.NATS.ScriptBucket)
	assert.Equal(t, "RENDERED_AUDIO", cfg.NATS.AudioBucket)
	assert.Equal(t, "/var/log/speechd", cfg.Paths.BaseLogsDir)
}
