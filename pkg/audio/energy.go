package audio

import "math"

// RMSEnergy computes the root-mean-square amplitude of a μ-law payload
// after decoding to linear PCM. This is the only signal the pipeline uses
// for voice/silence classification and barge-in detection.
func RMSEnergy(mulaw []byte) float64 {
	if len(mulaw) == 0 {
		return 0
	}
	var sum float64
	for _, b := range mulaw {
		s := float64(muLawDecodeTable[b])
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(mulaw)))
}

// RMSEnergyPCM computes the root-mean-square amplitude of 16-bit
// little-endian PCM audio.
func RMSEnergyPCM(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
