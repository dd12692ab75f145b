package capture

const muLawBias = 0x84

// decodeMuLaw expands one G.711 µ-law byte to linear 16-bit PCM.
func decodeMuLaw(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := (int32(mantissa)<<3 + muLawBias) << exponent
	sample -= muLawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// decodePCMU converts a PCMU payload to samples in [-1, 1).
func decodePCMU(payload []byte, dst []float64) []float64 {
	dst = dst[:0]
	for _, b := range payload {
		dst = append(dst, float64(decodeMuLaw(b))/32768)
	}
	return dst
}
