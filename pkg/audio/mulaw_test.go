package audio

import (
	"testing"
)

func TestMuLawRoundTrip(t *testing.T) {
	// μ-law is lossy; a decoded-then-reencoded byte must reproduce the
	// original exactly, and encode(decode) must stay within the segment's
	// quantization step.
	for i := 0; i < 256; i++ {
		b := byte(i)
		pcm := MuLawDecode(b)
		back := MuLawEncode(pcm)
		// 0x7F and 0xFF both decode to 0; accept either zero code.
		if back != b && pcm != 0 {
			t.Errorf("byte %#02x: decoded=%d, re-encoded=%#02x", b, pcm, back)
		}
	}
}

func TestMuLawEncodeDecodeError(t *testing.T) {
	samples := []int16{0, 100, 1000, 10000, 32000, -100, -1000, -10000, -32000}

	for _, original := range samples {
		decoded := MuLawDecode(MuLawEncode(original))

		diff := int32(original) - int32(decoded)
		if diff < 0 {
			diff = -diff
		}

		abs := int32(original)
		if abs < 0 {
			abs = -abs
		}
		// Quantization error grows with the segment; 5% or 200 absolute.
		maxErr := abs * 5 / 100
		if maxErr < 200 {
			maxErr = 200
		}
		if diff > maxErr {
			t.Errorf("round trip for %d: decoded=%d, diff=%d (max %d)", original, decoded, diff, maxErr)
		}
	}
}

func TestMuLawDecodeExtremes(t *testing.T) {
	if got := MuLawDecode(0x00); got != -32124 {
		t.Errorf("decode 0x00: expected -32124, got %d", got)
	}
	if got := MuLawDecode(0x80); got != 32124 {
		t.Errorf("decode 0x80: expected 32124, got %d", got)
	}
	if got := MuLawDecode(0xFF); got != 0 {
		t.Errorf("decode 0xFF: expected 0, got %d", got)
	}
}

func TestMuLawToPCM(t *testing.T) {
	mulaw := []byte{0x7F, 0xFF, 0x00, 0x80}
	pcm := MuLawToPCM(mulaw)

	if len(pcm) != len(mulaw)*2 {
		t.Fatalf("expected PCM length %d, got %d", len(mulaw)*2, len(pcm))
	}

	for i, b := range mulaw {
		expected := MuLawDecode(b)
		got := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		if got != expected {
			t.Errorf("sample %d: expected %d, got %d", i, expected, got)
		}
	}
}

func TestPCMToMuLaw(t *testing.T) {
	samples := []int16{0, 1000, -1000, 10000, -10000}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}

	mulaw := PCMToMuLaw(pcm)
	if len(mulaw) != len(samples) {
		t.Fatalf("expected μ-law length %d, got %d", len(samples), len(mulaw))
	}

	for i, s := range samples {
		if expected := MuLawEncode(s); mulaw[i] != expected {
			t.Errorf("sample %d (%d): expected %#02x, got %#02x", i, s, expected, mulaw[i])
		}
	}
}

func TestRMSEnergy(t *testing.T) {
	if e := RMSEnergy(nil); e != 0 {
		t.Errorf("empty payload: expected 0, got %f", e)
	}

	// A frame of μ-law silence (0xFF decodes to 0) has zero energy.
	silence := make([]byte, 160)
	for i := range silence {
		silence[i] = 0xFF
	}
	if e := RMSEnergy(silence); e != 0 {
		t.Errorf("silent frame: expected 0, got %f", e)
	}

	// A loud frame must measure well above any sensible voice threshold.
	loud := make([]byte, 160)
	for i := range loud {
		loud[i] = MuLawEncode(12000)
	}
	if e := RMSEnergy(loud); e < 10000 {
		t.Errorf("loud frame: energy %f unexpectedly low", e)
	}
}

func TestPCMToWAVHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav := PCMToWAV(pcm, 8000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("bad RIFF header: %q %q", wav[0:4], wav[8:12])
	}
	if string(wav[36:40]) != "data" {
		t.Errorf("bad data chunk marker: %q", wav[36:40])
	}
}
