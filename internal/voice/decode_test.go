package voice_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicekit/speechd/internal/audio"
	"github.com/voicekit/speechd/internal/core"
	"github.com/voicekit/speechd/internal/voice"
)

func TestDecodeFile_MonoWAV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pcm := []float32{0, 0.25, -0.25, 0.5}
	wavData := audio.WrapPCMAsWAV(audio.FloatToPCM16Bytes(pcm), core.InternalSampleRate, 1, 16)

	path := filepath.Join(dir, "sample.wav")
	require.NoError(t, os.WriteFile(path, wavData, 0o600))

	decoded, err := voice.DecodeFile(path)
	require.NoError(t, err)
	require.Len(t, decoded, len(pcm))

	for i := range pcm {
		assert.InDelta(t, pcm[i], decoded[i], 1.0/32767.0)
	}
}

func TestDecodeFile_StereoWAVDownmixes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// Two frames of stereo: (1.0, 0.0) and (0.5, 0.5) downmix to 0.5 each.
	interleaved := []float32{1.0, 0.0, 0.5, 0.5}
	wavData := audio.WrapPCMAsWAV(
		audio.FloatToPCM16Bytes(interleaved), core.InternalSampleRate, 2, 16)

	path := filepath.Join(dir, "stereo.wav")
	require.NoError(t, os.WriteFile(path, wavData, 0o600))

	decoded, err := voice.DecodeFile(path)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.InDelta(t, 0.5, decoded[0], 1e-3)
	assert.InDelta(t, 0.5, decoded[1], 1e-3)
}

func TestDecodeFile_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sample.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS"), 0o600))

	_, err := voice.DecodeFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, voice.ErrUnsupportedCodec)
}

func TestDecodeFile_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := voice.DecodeFile(filepath.Join(t.TempDir(), "absent.wav"))
	require.Error(t, err)
}

func TestDecodeFile_EmptyWAV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	wavData := audio.WrapPCMAsWAV(nil, core.InternalSampleRate, 1, 16)

	path := filepath.Join(dir, "empty.wav")
	require.NoError(t, os.WriteFile(path, wavData, 0o600))

	_, err := voice.DecodeFile(path)
	require.Error(t, err)
}
