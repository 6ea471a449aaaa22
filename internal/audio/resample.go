package audio

// Resample converts a mono waveform from one sample rate to another by linear
// interpolation. Quality is adequate for reference-voice conditioning and for
// playback-speed adjustment; it is not a polyphase resampler.
func Resample(pcm []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(pcm) == 0 || fromRate <= 0 || toRate <= 0 {
		return pcm
	}

	targetLength := int(float64(len(pcm)) * float64(toRate) / float64(fromRate))
	if targetLength == 0 {
		targetLength = 1
	}

	resampled := make([]float32, targetLength)
	ratio := float64(len(pcm)-1) / float64(targetLength-1)

	if targetLength == 1 {
		resampled[0] = pcm[0]

		return resampled
	}

	for i := range resampled {
		position := float64(i) * ratio
		index := int(position)

		if index >= len(pcm)-1 {
			resampled[i] = pcm[len(pcm)-1]

			continue
		}

		fraction := float32(position - float64(index))
		resampled[i] = pcm[index]*(1-fraction) + pcm[index+1]*fraction
	}

	return resampled
}

// AdjustSpeed time-stretches a waveform by resampling: factor 2.0 halves the
// duration, 0.5 doubles it. Applied to the final waveform only, never inside
// an engine call.
func AdjustSpeed(pcm []float32, factor float64) []float32 {
	if factor == 0 || factor == 1.0 || len(pcm) == 0 {
		return pcm
	}

	targetLength := int(float64(len(pcm)) / factor)
	if targetLength < 1 {
		targetLength = 1
	}

	stretched := make([]float32, targetLength)

	if targetLength == 1 {
		stretched[0] = pcm[0]

		return stretched
	}

	ratio := float64(len(pcm)-1) / float64(targetLength-1)

	for i := range stretched {
		position := float64(i) * ratio
		index := int(position)

		if index >= len(pcm)-1 {
			stretched[i] = pcm[len(pcm)-1]

			continue
		}

		fraction := float32(position - float64(index))
		stretched[i] = pcm[index]*(1-fraction) + pcm[index+1]*fraction
	}

	return stretched
}

// Silence returns an exact zero-valued buffer covering durationMS at the
// given sample rate.
func Silence(sampleRate, durationMS int) []float32 {
	samples := sampleRate * durationMS / 1000

	return make([]float32, samples)
}

// Downmix averages interleaved multi-channel samples into mono. A mono input
// is returned unchanged.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 || len(interleaved) == 0 {
		return interleaved
	}

	frames := len(interleaved) / channels
	mono := make([]float32, frames)

	for frame := 0; frame < frames; frame++ {
		var sum float32

		for ch := 0; ch < channels; ch++ {
			sum += interleaved[frame*channels+ch]
		}

		mono[frame] = sum / float32(channels)
	}

	return mono
}

// Concat joins waveform chunks into one buffer.
func Concat(chunks [][]float32) []float32 {
	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}

	joined := make([]float32, 0, total)
	for _, chunk := range chunks {
		joined = append(joined, chunk...)
	}

	return joined
}

// Duration returns the playback length in seconds.
func Duration(pcm []float32, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}

	return float64(len(pcm)) / float64(sampleRate)
}
