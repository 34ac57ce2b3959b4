// Package audio converts a compressed call recording into the 16 kHz mono
// 16-bit PCM WAV file the transcription engine expects.
package audio

import "encoding/binary"

// TargetSampleRate is the sample rate of every WAV this package writes.
const TargetSampleRate = 16000

// Buffer holds interleaved signed 16-bit PCM samples.
type Buffer struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames returns the number of complete sample frames in the buffer.
func (b *Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// BytesToSamples reinterprets little-endian 16-bit PCM bytes as samples.
// A trailing odd byte is ignored.
func BytesToSamples(raw []byte) []int16 {
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples
}

// Mixdown averages interleaved channels into mono. Each output sample is the
// integer sum of one frame divided by the channel count, truncated toward
// zero. A trailing partial frame is dropped. Mono input is returned as is.
func Mixdown(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

// Resample converts mono samples from one rate to another by linear
// interpolation. Output sample i is taken at source position
// i*(from/to), blending the two neighbouring samples by the fractional
// part; a neighbour past the end of the input counts as zero.
// The output holds floor(len(samples)*to/from) samples.
func Resample(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}

	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)

	for i := range out {
		src := float64(i) * step
		idx := int(src)
		frac := src - float64(idx)

		s0 := float64(sampleAt(samples, idx))
		s1 := float64(sampleAt(samples, idx+1))
		out[i] = int16(s0 + (s1-s0)*frac)
	}
	return out
}

func sampleAt(samples []int16, i int) int16 {
	if i < 0 || i >= len(samples) {
		return 0
	}
	return samples[i]
}
