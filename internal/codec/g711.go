// Package codec converts between the G.711 mu-law encoding used on the
// Twilio media stream and the 16-bit linear PCM expected by the speech
// engines. All transforms are stateless.
package codec

const (
	// SampleRate is the telephony sample rate in Hz.
	SampleRate = 8000
	// FrameBytes is one 20ms mu-law frame at 8 kHz (1 byte per sample).
	FrameBytes = 160
	// FrameDurationMs is the duration of one frame in milliseconds.
	FrameDurationMs = 20

	muLawBias = 0x84
	muLawClip = 32635
	// Silence is the mu-law byte for a zero-amplitude sample.
	Silence = 0xFF
)

// decodeTable maps every mu-law byte to its linear PCM sample.
var decodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		u := ^uint8(i)
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		sample := (int32(mantissa)<<3 + muLawBias) << exponent
		sample -= muLawBias
		if u&0x80 != 0 {
			sample = -sample
		}
		decodeTable[i] = int16(sample)
	}
}

// EncodeSample converts one linear PCM sample to a mu-law byte.
func EncodeSample(sample int16) byte {
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias
	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeSample converts one mu-law byte to a linear PCM sample.
func DecodeSample(b byte) int16 { return decodeTable[b] }

// MuLawToPCM16 expands mu-law bytes to 16-bit little-endian PCM.
func MuLawToPCM16(mu []byte) []byte {
	out := make([]byte, len(mu)*2)
	for i, b := range mu {
		s := uint16(decodeTable[b])
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// PCM16ToMuLaw compands 16-bit little-endian PCM to mu-law bytes.
// A trailing odd byte, if any, is ignored.
func PCM16ToMuLaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = EncodeSample(s)
	}
	return out
}

// Chunk splits audio bytes into fixed-size chunks; the final chunk may be
// shorter.
func Chunk(b []byte, size int) [][]byte {
	if size <= 0 || len(b) == 0 {
		return nil
	}
	var out [][]byte
	for off := 0; off < len(b); off += size {
		end := off + size
		if end > len(b) {
			end = len(b)
		}
		out = append(out, b[off:end])
	}
	return out
}
