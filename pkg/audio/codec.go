// Package audio converts between the carrier's telephony encoding and the
// linear PCM used by speech models.
package audio

import "fmt"

const (
	// CarrierRate is the sample rate of mu-law audio on the phone leg.
	CarrierRate = 8000
	// ModelRate is the sample rate transcription engines expect.
	ModelRate = 16000
	// DefaultChunkSize is the default outbound framing size in bytes.
	DefaultChunkSize = 640
	// FrameMillis is the nominal duration of one carrier media frame.
	FrameMillis = 20
)

// Decode converts a carrier frame (mu-law, 8 kHz) to little-endian PCM16 at
// ModelRate. Each input byte yields two output samples.
func Decode(frame []byte) []byte {
	if len(frame) == 0 {
		return nil
	}
	linear := make([]int16, len(frame))
	for i, b := range frame {
		linear[i] = MuLawToLinear(b)
	}
	return Bytes(Resample(linear, CarrierRate, ModelRate))
}

// Encode converts little-endian PCM16 audio at sampleRate to mu-law at
// CarrierRate.
func Encode(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	samples := Resample(Samples(pcm), sampleRate, CarrierRate)
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = LinearToMuLaw(s)
	}
	return out, nil
}

// Frame splits buf into chunks of size bytes. The final chunk may be shorter
// and is never padded. Chunks share buf's backing array.
func Frame(buf []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(buf) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(buf)+size-1)/size)
	for start := 0; start < len(buf); start += size {
		end := start + size
		if end > len(buf) {
			end = len(buf)
		}
		chunks = append(chunks, buf[start:end])
	}
	return chunks
}
