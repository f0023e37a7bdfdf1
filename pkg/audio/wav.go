package audio

import (
	"bytes"
	"encoding/binary"
)

// PCMToWAV wraps raw 16-bit mono PCM in a minimal RIFF/WAVE container.
// The transcription API only accepts audio in a standard file format, so
// utterance buffers are wrapped just before upload.
func PCMToWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer

	const (
		channels      = 1
		bitsPerSample = 16
	)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM format
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
