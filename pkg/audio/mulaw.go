package audio

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// MuLawToLinear expands one G.711 mu-law byte to a 16-bit linear sample.
func MuLawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int32(mantissa) << 3) + muLawBias) << exponent
	sample -= muLawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// LinearToMuLaw compresses a 16-bit linear sample to one G.711 mu-law byte.
func LinearToMuLaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}
