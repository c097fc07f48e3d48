package audio

// G.711 μ-law companding. The encoder follows the ITU-T segmented
// approximation; the decoder is table-driven for the read-side hot path.

const (
	ulawBias = 0x84
	ulawClip = 32635
)

var ulawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		u := ^byte(i)
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		sample := int16(((int(mantissa) << 3) + ulawBias) << exponent)
		sample -= ulawBias
		if sign != 0 {
			sample = -sample
		}
		ulawDecodeTable[i] = sample
	}
}

// EncodeUlawSample compands one 16-bit linear PCM sample to μ-law.
func EncodeUlawSample(sample int16) byte {
	sign := byte(0)
	s := int(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exponent := byte(7)
	for mask := 0x4000; exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

// DecodeUlawSample expands one μ-law byte to a 16-bit linear PCM sample.
func DecodeUlawSample(u byte) int16 {
	return ulawDecodeTable[u]
}

// EncodeUlaw transcodes 16-bit little-endian mono PCM to μ-law, one
// output byte per input sample. A trailing odd byte is ignored.
func EncodeUlaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		sample := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = EncodeUlawSample(sample)
	}
	return out
}

// DecodeUlaw expands μ-law bytes to 16-bit little-endian mono PCM.
func DecodeUlaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		sample := ulawDecodeTable[u]
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}
