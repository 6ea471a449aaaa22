package voice_test

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicekit/speechd/internal/audio"
	"github.com/voicekit/speechd/internal/core"
	"github.com/voicekit/speechd/internal/voice"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// writeSineWAV writes a mono 16-bit WAV preset containing a 440 Hz tone.
func writeSineWAV(t *testing.T, dir, filename string, sampleRate, samples int) {
	t.Helper()

	pcm := make([]float32, samples)
	for i := range pcm {
		pcm[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	wavData := audio.WrapPCMAsWAV(audio.FloatToPCM16Bytes(pcm), sampleRate, 1, 16)

	err := os.WriteFile(filepath.Join(dir, filename), wavData, 0o600)
	require.NoError(t, err)
}

func TestNew_MissingDirectoryYieldsEmptyRegistry(t *testing.T) {
	t.Parallel()

	registry, err := voice.New(
		filepath.Join(t.TempDir(), "no-such-dir"),
		voice.DefaultAliases(),
		newTestLogger(t),
	)
	require.NoError(t, err)
	assert.Empty(t, registry.List())
	assert.Empty(t, registry.DefaultVoice())
}

func TestResolve_PresetAndAliasReturnSameWaveform(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSineWAV(t, dir, "en-Alice_woman.wav", core.InternalSampleRate, 2400)

	registry, err := voice.New(dir, voice.DefaultAliases(), newTestLogger(t))
	require.NoError(t, err)

	byPreset, rate, err := registry.Resolve("en-Alice_woman")
	require.NoError(t, err)
	assert.Equal(t, core.InternalSampleRate, rate)
	assert.Len(t, byPreset, 2400)

	byAlias, _, err := registry.Resolve("alloy")
	require.NoError(t, err)
	assert.Equal(t, byPreset, byAlias)
}

func TestResolve_ResamplesToInternalRate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSineWAV(t, dir, "en-Carter_man.wav", 48000, 4800)

	registry, err := voice.New(dir, nil, newTestLogger(t))
	require.NoError(t, err)

	waveform, rate, err := registry.Resolve("en-Carter_man")
	require.NoError(t, err)
	assert.Equal(t, core.InternalSampleRate, rate)
	assert.Len(t, waveform, 2400)
}

func TestResolve_UnknownVoiceListsNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSineWAV(t, dir, "en-Alice_woman.wav", core.InternalSampleRate, 240)

	registry, err := voice.New(dir, voice.DefaultAliases(), newTestLogger(t))
	require.NoError(t, err)

	_, _, err = registry.Resolve("nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrVoiceNotFound)
	assert.Contains(t, err.Error(), "en-Alice_woman")
	assert.Contains(t, err.Error(), "alloy")
}

func TestResolve_ConcurrentAccessIsConsistent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSineWAV(t, dir, "en-Maya_woman.wav", core.InternalSampleRate, 2400)

	registry, err := voice.New(dir, nil, newTestLogger(t))
	require.NoError(t, err)

	const workers = 8

	waveforms := make([][]float32, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(slot int) {
			defer wg.Done()

			waveform, _, resolveErr := registry.Resolve("en-Maya_woman")
			assert.NoError(t, resolveErr)

			waveforms[slot] = waveform
		}(i)
	}

	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, waveforms[0], waveforms[i])
	}
}

func TestList_SortedWithAliasesAndAvailability(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSineWAV(t, dir, "en-Alice_woman.wav", core.InternalSampleRate, 240)
	writeSineWAV(t, dir, "zh-Bowen_man.wav", core.InternalSampleRate, 240)

	// Discovered but not decodable.
	err := os.WriteFile(filepath.Join(dir, "en-Ghost.ogg"), []byte("OggS"), 0o600)
	require.NoError(t, err)

	// Not a preset extension at all.
	err = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600)
	require.NoError(t, err)

	registry, err := voice.New(dir, voice.DefaultAliases(), newTestLogger(t))
	require.NoError(t, err)

	infos := registry.List()
	require.Len(t, infos, 3)

	assert.Equal(t, "en-Alice_woman", infos[0].Name)
	assert.Equal(t, []string{"alloy", "shimmer"}, infos[0].Aliases)
	assert.Equal(t, "English", infos[0].Language)
	assert.True(t, infos[0].Available)

	assert.Equal(t, "en-Ghost", infos[1].Name)
	assert.False(t, infos[1].Available)

	assert.Equal(t, "zh-Bowen_man", infos[2].Name)
	assert.Equal(t, "Chinese", infos[2].Language)
}

func TestDefaultVoice_PrefersEnglish(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSineWAV(t, dir, "zh-Anchen_man_bgm.wav", core.InternalSampleRate, 240)
	writeSineWAV(t, dir, "en-Frank_man.wav", core.InternalSampleRate, 240)

	registry, err := voice.New(dir, nil, newTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "en-Frank_man", registry.DefaultVoice())
}

func TestNew_DropsAliasesWithoutPreset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSineWAV(t, dir, "en-Alice_woman.wav", core.InternalSampleRate, 240)

	registry, err := voice.New(dir, voice.DefaultAliases(), newTestLogger(t))
	require.NoError(t, err)

	// echo targets en-Carter_man, which is not on disk.
	_, _, err = registry.Resolve("echo")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrVoiceNotFound)
}
