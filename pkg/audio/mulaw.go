// Package audio provides the telephony audio codec math used by the
// voice ordering pipeline.
//
// mulaw.go implements μ-law (ITU-T G.711) conversions between the 8kHz
// 8-bit line codec and 16-bit signed linear PCM. Telephone media streams
// carry μ-law; everything downstream (energy measurement, transcription)
// works on linear PCM.
package audio

import "math"

// μ-law codec constants.
const (
	MuLawBias = 0x84  // bias added to the magnitude before segmentation
	MuLawClip = 32635 // maximum linear magnitude representable in μ-law

	muLawSignBit   = 0x80
	muLawSegShift  = 4
	muLawSegMask   = 0x70
	muLawQuantMask = 0x0f
)

// muLawSegmentEnds holds the upper linear bound of each μ-law segment.
var muLawSegmentEnds = [8]int32{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}

// muLawDecodeTable caches the decode of every possible input byte.
// Built once at init; the media loop then pays one table lookup per sample.
var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = decodeMuLaw(byte(i))
	}
}

// decodeMuLaw inverts the logarithmic compression law for one byte:
// complement all bits, split off sign/exponent/mantissa, rebuild the
// biased magnitude and remove the bias again.
func decodeMuLaw(b byte) int16 {
	u := ^b
	exponent := (u & muLawSegMask) >> muLawSegShift
	mantissa := u & muLawQuantMask

	magnitude := ((int32(mantissa) << 3) + MuLawBias) << exponent
	sample := magnitude - MuLawBias
	if sample > math.MaxInt16 {
		sample = math.MaxInt16
	}
	if u&muLawSignBit != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// MuLawDecode converts a single μ-law byte to a 16-bit signed PCM sample.
func MuLawDecode(b byte) int16 {
	return muLawDecodeTable[b]
}

// MuLawEncode converts a 16-bit signed PCM sample to a μ-law byte.
func MuLawEncode(pcm int16) byte {
	sample := int32(pcm)
	sign := int32(0)
	if sample < 0 {
		sign = muLawSignBit
		sample = -sample
	}
	if sample > MuLawClip {
		sample = MuLawClip
	}
	sample += MuLawBias

	segment := int32(7)
	for i, end := range muLawSegmentEnds {
		if sample <= end {
			segment = int32(i)
			break
		}
	}

	quantized := (sample >> uint(segment+3)) & muLawQuantMask
	return byte(^(sign | (segment << muLawSegShift) | quantized))
}

// MuLawToPCM converts μ-law encoded audio to 16-bit little-endian PCM.
// The returned slice is twice the length of the input.
func MuLawToPCM(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := muLawDecodeTable[b]
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// PCMToMuLaw converts 16-bit little-endian PCM audio to μ-law.
// The returned slice is half the length of the input.
func PCMToMuLaw(pcm []byte) []byte {
	mulaw := make([]byte, len(pcm)/2)
	for i := range mulaw {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		mulaw[i] = MuLawEncode(s)
	}
	return mulaw
}
