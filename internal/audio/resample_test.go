package audio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicekit/speechd/internal/audio"
	"github.com/voicekit/speechd/internal/core"
)

func TestResample_SameRateIsIdentity(t *testing.T) {
	t.Parallel()

	pcm := []float32{0.1, 0.2, 0.3}
	assert.Equal(t, pcm, audio.Resample(pcm, 24000, 24000))
}

func TestResample_Doubles(t *testing.T) {
	t.Parallel()

	pcm := []float32{0, 1, 0, -1}

	resampled := audio.Resample(pcm, 12000, 24000)
	require.Len(t, resampled, 8)
	assert.InDelta(t, float64(pcm[0]), float64(resampled[0]), 1e-6)
	assert.InDelta(t, float64(pcm[len(pcm)-1]), float64(resampled[len(resampled)-1]), 1e-6)
}

func TestResample_Halves(t *testing.T) {
	t.Parallel()

	pcm := make([]float32, 48000)
	resampled := audio.Resample(pcm, 48000, 24000)
	assert.Len(t, resampled, 24000)
}

func TestAdjustSpeed_FactorTwoHalvesDuration(t *testing.T) {
	t.Parallel()

	pcm := make([]float32, 24000)

	faster := audio.AdjustSpeed(pcm, 2.0)
	assert.Len(t, faster, 12000)

	slower := audio.AdjustSpeed(pcm, 0.5)
	assert.Len(t, slower, 48000)
}

func TestAdjustSpeed_FactorOneIsIdentity(t *testing.T) {
	t.Parallel()

	pcm := []float32{0.1, 0.2}
	assert.Equal(t, pcm, audio.AdjustSpeed(pcm, 1.0))
}

func TestSilence_ExactSampleCount(t *testing.T) {
	t.Parallel()

	silence := audio.Silence(core.InternalSampleRate, 500)
	require.Len(t, silence, 12000)

	for _, sample := range silence {
		require.Zero(t, sample)
	}
}

func TestSilence_DefaultPauseSecond(t *testing.T) {
	t.Parallel()

	assert.Len(t, audio.Silence(core.InternalSampleRate, 1000), core.InternalSampleRate)
}

func TestDownmix_StereoAverages(t *testing.T) {
	t.Parallel()

	mono := audio.Downmix([]float32{1, 0, 0.5, 0.5, -1, 1}, 2)
	require.Len(t, mono, 3)
	assert.InDelta(t, 0.5, mono[0], 1e-6)
	assert.InDelta(t, 0.5, mono[1], 1e-6)
	assert.InDelta(t, 0.0, mono[2], 1e-6)
}

func TestDownmix_MonoUnchanged(t *testing.T) {
	t.Parallel()

	pcm := []float32{0.1, 0.2}
	assert.Equal(t, pcm, audio.Downmix(pcm, 1))
}

func TestConcat(t *testing.T) {
	t.Parallel()

	joined := audio.Concat([][]float32{{1, 2}, nil, {3}})
	assert.Equal(t, []float32{1, 2, 3}, joined)
}

func TestDuration(t *testing.T) {
	t.Parallel()

	pcm := make([]float32, core.InternalSampleRate*2)
	assert.InDelta(t, 2.0, audio.Duration(pcm, core.InternalSampleRate), 1e-9)
}
