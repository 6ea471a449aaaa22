// Package audio converts raw float32 waveforms into deliverable audio
// containers and provides the small DSP helpers (silence, resampling,
// downmixing) the generation pipeline needs.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/voicekit/speechd/internal/core"
)

// Format is an output audio container/codec.
type Format string

// Supported output formats.
const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatAAC  Format = "aac"
	FormatOpus Format = "opus"
	FormatPCM  Format = "pcm"
	FormatM4A  Format = "m4a"
)

// Encoding constants.
const (
	pcm16Max       = 32767
	wavHeaderSize  = 44
	defaultBitrate = "128k"
	ffmpegBinary   = "ffmpeg"
)

// ParseFormat validates a requested format string.
func ParseFormat(value string) (Format, error) {
	format := Format(value)
	switch format {
	case FormatWAV, FormatMP3, FormatFLAC, FormatAAC, FormatOpus, FormatPCM, FormatM4A:
		return format, nil
	default:
		return "", fmt.Errorf("%w: unsupported format '%s'", core.ErrEncoding, value)
	}
}

// ContentType returns the deterministic MIME type for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatOpus:
		return "audio/opus"
	case FormatAAC:
		return "audio/aac"
	case FormatFLAC:
		return "audio/flac"
	case FormatWAV:
		return "audio/wav"
	case FormatM4A:
		return "audio/mp4"
	case FormatPCM:
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

// Encode converts a float32 waveform in [-1, 1] to the requested container.
// Samples are scaled to 16-bit signed PCM first; the pcm format skips
// container framing, wav is written natively, and the remaining formats are
// produced by an ffmpeg subprocess. Encoding never requires regenerating
// audio: a failed conversion can be retried with a different format.
func Encode(ctx context.Context, pcm []float32, sampleRate int, format Format) ([]byte, error) {
	pcm16 := FloatToPCM16Bytes(pcm)

	switch format {
	case FormatPCM:
		return pcm16, nil
	case FormatWAV:
		return WrapPCMAsWAV(pcm16, sampleRate, 1, 16), nil
	case FormatMP3, FormatFLAC, FormatAAC, FormatOpus:
		return encodeWithFFmpeg(ctx, pcm16, sampleRate, format)
	case FormatM4A:
		return encodeM4A(ctx, pcm16, sampleRate)
	default:
		return nil, fmt.Errorf("%w: unsupported format '%s'", core.ErrEncoding, format)
	}
}

// FloatToPCM16Bytes scales samples in [-1, 1] to 16-bit signed little-endian
// PCM. Out-of-range waveforms are peak-normalized first rather than clipped.
func FloatToPCM16Bytes(pcm []float32) []byte {
	peak := float32(0)
	for _, sample := range pcm {
		if sample > peak {
			peak = sample
		} else if -sample > peak {
			peak = -sample
		}
	}

	scale := float32(pcm16Max)
	if peak > 1.0 {
		scale /= peak
	}

	out := make([]byte, len(pcm)*2)

	for i, sample := range pcm {
		value := int16(sample * scale)
		out[i*2] = byte(uint16(value))
		out[i*2+1] = byte(uint16(value) >> 8)
	}

	return out
}

// PCM16BytesToFloat converts 16-bit signed little-endian PCM back to float32
// samples. Used by tests and by the non-streaming worker path.
func PCM16BytesToFloat(raw []byte) []float32 {
	frames := len(raw) / 2
	samples := make([]float32, frames)

	for i := 0; i < frames; i++ {
		value := int16(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
		samples[i] = float32(value) / pcm16Max
	}

	return samples
}

// WrapPCMAsWAV wraps raw PCM bytes in a 44-byte RIFF/WAVE header.
func WrapPCMAsWAV(pcmData []byte, sampleRate, channels, bitsPerSample int) []byte {
	dataSize := len(pcmData)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	wavData := make([]byte, wavHeaderSize+dataSize)

	copy(wavData[0:4], "RIFF")
	putLE32(wavData[4:8], uint32(36+dataSize))
	copy(wavData[8:12], "WAVE")

	copy(wavData[12:16], "fmt ")
	putLE32(wavData[16:20], 16)
	putLE16(wavData[20:22], 1)
	putLE16(wavData[22:24], uint16(channels))
	putLE32(wavData[24:28], uint32(sampleRate))
	putLE32(wavData[28:32], uint32(byteRate))
	putLE16(wavData[32:34], uint16(blockAlign))
	putLE16(wavData[34:36], uint16(bitsPerSample))

	copy(wavData[36:40], "data")
	putLE32(wavData[40:44], uint32(dataSize))
	copy(wavData[44:], pcmData)

	return wavData
}

// encodeWithFFmpeg pipes s16le PCM through ffmpeg for stream-friendly
// containers.
func encodeWithFFmpeg(ctx context.Context, pcm16 []byte, sampleRate int, format Format) ([]byte, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	}

	switch format {
	case FormatMP3:
		args = append(args, "-f", "mp3", "-b:a", defaultBitrate)
	case FormatFLAC:
		args = append(args, "-f", "flac")
	case FormatAAC:
		args = append(args, "-f", "adts", "-c:a", "aac", "-b:a", defaultBitrate)
	case FormatOpus:
		args = append(args, "-f", "ogg", "-c:a", "libopus", "-b:a", defaultBitrate)
	}

	args = append(args, "pipe:1")

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)
	cmd.Stdin = bytes.NewReader(pcm16)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg %s conversion failed: %v - %s",
			core.ErrEncoding, format, err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// encodeM4A writes through a temporary file: the MP4 muxer needs seekable
// output and cannot stream to a pipe.
func encodeM4A(ctx context.Context, pcm16 []byte, sampleRate int) ([]byte, error) {
	tempFile, err := os.CreateTemp("", "speechd-*.m4a")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp file: %v", core.ErrEncoding, err)
	}

	tempPath := tempFile.Name()

	closeErr := tempFile.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("%w: failed to close temp file: %v", core.ErrEncoding, closeErr)
	}

	defer func() { _ = os.Remove(tempPath) }()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
		"-c:a", "aac",
		"-b:a", defaultBitrate,
		"-y", tempPath,
	}

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)
	cmd.Stdin = bytes.NewReader(pcm16)
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg m4a conversion failed: %v - %s",
			core.ErrEncoding, err, stderr.String())
	}

	encoded, err := os.ReadFile(tempPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read encoded m4a: %v", core.ErrEncoding, err)
	}

	return encoded, nil
}

// putLE16 writes a uint16 in little-endian format.
func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// putLE32 writes a uint32 in little-endian format.
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
