package voice

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/voicekit/speechd/internal/audio"
	"github.com/voicekit/speechd/internal/core"
)

// int16Scale converts 16-bit signed PCM to the [-1, 1] float range.
const int16Scale = 1 << 15

// mp3BytesPerFrame is go-mp3's fixed output framing: 16-bit stereo.
const mp3BytesPerFrame = 4

// Static decode errors.
var (
	ErrUnsupportedCodec = errors.New("unsupported preset codec")
	ErrEmptyAudio       = errors.New("decoded audio is empty")
)

// DecodeFile reads a preset file and returns its waveform as mono float32 at
// the internal sample rate. WAV, MP3 and FLAC are decoded natively; other
// discovered extensions fail with ErrUnsupportedCodec.
func DecodeFile(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}

	var (
		interleaved []float32
		sampleRate  int
		channels    int
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case extWAV:
		interleaved, sampleRate, channels, err = decodeWAV(data)
	case extMP3:
		interleaved, sampleRate, channels, err = decodeMP3(data)
	case extFLAC:
		interleaved, sampleRate, channels, err = decodeFLAC(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, filepath.Ext(path))
	}

	if err != nil {
		return nil, err
	}

	if len(interleaved) == 0 {
		return nil, ErrEmptyAudio
	}

	mono := audio.Downmix(interleaved, channels)

	return audio.Resample(mono, sampleRate, core.InternalSampleRate), nil
}

// isDecodable reports whether a preset file's extension has a native decoder.
func isDecodable(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case extWAV, extMP3, extFLAC:
		return true
	default:
		return false
	}
}

// decodeWAV decodes a RIFF/WAVE file into interleaved float32 samples.
func decodeWAV(data []byte) ([]float32, int, int, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, 0, 0, errors.New("not a valid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode WAV data: %w", err)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}

	scale := float32(int64(1) << (bitDepth - 1))
	samples := make([]float32, len(buf.Data))

	for i, sample := range buf.Data {
		samples[i] = float32(sample) / scale
	}

	return samples, buf.Format.SampleRate, buf.Format.NumChannels, nil
}

// decodeMP3 decodes an MP3 stream. go-mp3 always emits 16-bit stereo frames.
func decodeMP3(data []byte) ([]float32, int, int, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open MP3 stream: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode MP3 data: %w", err)
	}

	frames := len(raw) / mp3BytesPerFrame
	samples := make([]float32, frames*2)

	for frame := 0; frame < frames; frame++ {
		offset := frame * mp3BytesPerFrame
		left := int16(uint16(raw[offset]) | uint16(raw[offset+1])<<8)
		right := int16(uint16(raw[offset+2]) | uint16(raw[offset+3])<<8)

		samples[frame*2] = float32(left) / int16Scale
		samples[frame*2+1] = float32(right) / int16Scale
	}

	return samples, decoder.SampleRate(), 2, nil
}

// decodeFLAC decodes a FLAC stream frame by frame.
func decodeFLAC(data []byte) ([]float32, int, int, error) {
	stream, err := flac.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to parse FLAC stream: %w", err)
	}

	channels := int(stream.Info.NChannels)
	scale := float32(int64(1) << (stream.Info.BitsPerSample - 1))

	var samples []float32

	for {
		frame, parseErr := stream.ParseNext()
		if parseErr != nil {
			if errors.Is(parseErr, io.EOF) {
				break
			}

			return nil, 0, 0, fmt.Errorf("failed to decode FLAC frame: %w", parseErr)
		}

		frameSamples := len(frame.Subframes[0].Samples)

		for i := 0; i < frameSamples; i++ {
			for ch := 0; ch < channels; ch++ {
				samples = append(samples, float32(frame.Subframes[ch].Samples[i])/scale)
			}
		}
	}

	return samples, int(stream.Info.SampleRate), channels, nil
}
