package audio

import (
	"bytes"
	"math"
	"testing"
)

func TestMuLawRoundTripWithinQuantizationError(t *testing.T) {
	for x := -32768; x <= 32767; x += 7 {
		got := int(MuLawToLinear(LinearToMuLaw(int16(x))))
		mag := x
		if mag < 0 {
			mag = -mag
		}
		limit := (mag+muLawBias)/32 + 1
		if mag > muLawClip {
			limit = mag - muLawClip + 1024
		}
		if diff := got - x; diff > limit || diff < -limit {
			t.Fatalf("sample %d decoded to %d (error %d > %d)", x, got, diff, limit)
		}
	}
}

func TestMuLawSilenceByte(t *testing.T) {
	if got := MuLawToLinear(0xFF); got != 0 {
		t.Fatalf("expected 0xFF to decode to 0, got %d", got)
	}
	if got := LinearToMuLaw(0); got != 0xFF {
		t.Fatalf("expected 0 to encode to 0xFF, got %#x", got)
	}
}

func TestDecodeDoublesSampleCount(t *testing.T) {
	frame := bytes.Repeat([]byte{0xFF}, 160)
	pcm := Decode(frame)
	if len(pcm) != 640 {
		t.Fatalf("expected 640 bytes of pcm, got %d", len(pcm))
	}
	if RMS(pcm) != 0 {
		t.Fatalf("expected silent output")
	}
	if Decode(nil) != nil {
		t.Fatalf("expected nil for empty frame")
	}
}

func TestEncodeFromSynthesizerRate(t *testing.T) {
	pcm := make([]byte, 480*2)
	out, err := Encode(pcm, 24000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(out) != 160 {
		t.Fatalf("expected 160 mu-law bytes, got %d", len(out))
	}
	if _, err := Encode(pcm, 0); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
}

func TestEncodeDropsTrailingOddByte(t *testing.T) {
	out, err := Encode(make([]byte, 33), CarrierRate)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(out) != 16 {
		t.Fatalf("expected 16 samples, got %d", len(out))
	}
}

func TestEncodeThenDecodeKeepsLowFrequencySignal(t *testing.T) {
	const n = 1600
	src := make([]int16, n)
	for i := range src {
		src[i] = int16(8000 * math.Sin(2*math.Pi*200*float64(i)/ModelRate))
	}
	mulaw, err := Encode(Bytes(src), ModelRate)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back := Samples(Decode(mulaw))
	if len(back) != n {
		t.Fatalf("expected %d samples back, got %d", n, len(back))
	}
	for i := 8; i < n-8; i++ {
		if diff := math.Abs(float64(back[i]) - float64(src[i])); diff > 400 {
			t.Fatalf("sample %d drifted by %.0f", i, diff)
		}
	}
}

func TestFrameLastChunkShort(t *testing.T) {
	buf := make([]byte, 1500)
	chunks := Frame(buf, 640)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 640 || len(chunks[1]) != 640 || len(chunks[2]) != 220 {
		t.Fatalf("unexpected chunk sizes %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if got := Frame(buf, 0); len(got[0]) != DefaultChunkSize {
		t.Fatalf("expected default chunk size, got %d", len(got[0]))
	}
	if Frame(nil, 10) != nil {
		t.Fatalf("expected no chunks for empty buffer")
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Fatalf("expected zero rms for empty input")
	}
	pcm := Bytes([]int16{1000, -1000, 1000, -1000})
	if got := RMS(pcm); math.Abs(got-1000) > 0.001 {
		t.Fatalf("expected rms 1000, got %f", got)
	}
}
