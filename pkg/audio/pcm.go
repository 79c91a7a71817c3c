package audio

import (
	"encoding/binary"
	"math"
)

// Samples converts little-endian PCM16 bytes to samples. A trailing odd
// byte is dropped.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// Bytes converts samples to little-endian PCM16 bytes.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// RMS returns the root-mean-square amplitude of little-endian PCM16 audio.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Duration returns the playback length of PCM16 mono audio at sampleRate.
func Duration(pcm []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(pcm)/2) / float64(sampleRate)
}

// Resample converts samples between two fixed rates.
//
// Upsampling and non-integer ratios use linear interpolation. Downsampling by
// an integer ratio r averages a centered window of 2*(r/2)+1 source samples
// around each picked sample, which keeps the phase and removes most content
// above the new Nyquist frequency.
func Resample(samples []int16, from, to int) []int16 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	n := len(samples) * to / from
	out := make([]int16, n)
	if from > to && from%to == 0 {
		ratio := from / to
		half := ratio / 2
		for i := range out {
			center := i * ratio
			lo, hi := center-half, center+half
			if lo < 0 {
				lo = 0
			}
			if hi > len(samples)-1 {
				hi = len(samples) - 1
			}
			var sum int32
			for j := lo; j <= hi; j++ {
				sum += int32(samples[j])
			}
			out[i] = int16(sum / int32(hi-lo+1))
		}
		return out
	}
	for i := range out {
		pos := i * from
		idx := pos / to
		frac := float64(pos%to) / float64(to)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		a, b := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(math.Round(a + (b-a)*frac))
	}
	return out
}
