package audio

import (
	"encoding/binary"
	"testing"
)

func TestWrapWAVHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav := WrapWAV(pcm, ModelRate)
	if len(wav) != WAVHeaderSize+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", WAVHeaderSize+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids")
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != ModelRate {
		t.Fatalf("expected sample rate %d, got %d", ModelRate, got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:]); got != 1 {
		t.Fatalf("expected mono, got %d channels", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:]); got != 16 {
		t.Fatalf("expected 16-bit, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:]); got != 320 {
		t.Fatalf("expected data size 320, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[4:]); got != 356 {
		t.Fatalf("expected riff size 356, got %d", got)
	}
}
