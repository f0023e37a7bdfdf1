// Package vad provides energy-based voice activity segmentation for
// telephony audio.
//
// The segmenter consumes the 20ms μ-law frames coming off the media
// stream, classifies each frame as voiced or silent by RMS energy, and
// emits bounded utterance buffers when a voiced run is followed by a
// sufficient silence run. No spectral analysis is involved; energy is the
// sole classification signal.
package vad

import (
	"github.com/orderline-ai/orderline/pkg/audio"
)

// Defaults tuned for 8kHz μ-law 20ms frames from a phone line.
const (
	// DefaultVoiceThreshold is the RMS amplitude above which a frame
	// counts as voiced.
	DefaultVoiceThreshold = 500.0

	// DefaultSilenceFrames is the run of silent frames that closes an
	// utterance (25 frames ≈ 500ms of trailing silence).
	DefaultSilenceFrames = 25

	// DefaultMaxUtteranceBytes caps a single utterance at ~15s of 8kHz
	// μ-law audio, bounding worst-case latency and memory.
	DefaultMaxUtteranceBytes = 8000 * 15
)

// Config holds segmenter tuning parameters. Zero values select defaults.
type Config struct {
	VoiceThreshold    float64
	SilenceFrames     int
	MaxUtteranceBytes int

	// KeepCallAudio accumulates every frame of the call in addition to
	// per-utterance buffers, for whole-call recording or transcription.
	KeepCallAudio bool
}

// Segmenter splits a continuous frame stream into utterances.
//
// It is owned by a single call's audio consumer and is not safe for
// concurrent use; per-call single-writer ownership is the concurrency
// model of the whole pipeline.
type Segmenter struct {
	cfg Config

	silenceRun int
	voiceRun   int
	utterance  []byte
	callAudio  []byte
}

// NewSegmenter creates a segmenter, applying defaults for zero config values.
func NewSegmenter(cfg Config) *Segmenter {
	if cfg.VoiceThreshold <= 0 {
		cfg.VoiceThreshold = DefaultVoiceThreshold
	}
	if cfg.SilenceFrames <= 0 {
		cfg.SilenceFrames = DefaultSilenceFrames
	}
	if cfg.MaxUtteranceBytes <= 0 {
		cfg.MaxUtteranceBytes = DefaultMaxUtteranceBytes
	}
	return &Segmenter{cfg: cfg}
}

// Push classifies one μ-law frame and returns a completed utterance when
// the frame closes one. The returned slice is owned by the caller; the
// segmenter's internal buffer is reset on flush.
//
// Silence before the first voiced frame is discarded so dead air never
// accumulates. Once inside an utterance, silent frames are buffered too
// (they carry trailing pause prosody) until the silence run-length
// threshold is reached.
func (s *Segmenter) Push(frame []byte) ([]byte, bool) {
	energy := audio.RMSEnergy(frame)

	if s.cfg.KeepCallAudio {
		s.callAudio = append(s.callAudio, frame...)
	}

	if energy > s.cfg.VoiceThreshold {
		s.silenceRun = 0
		s.voiceRun++
		s.utterance = append(s.utterance, frame...)
	} else if s.voiceRun > 0 {
		s.silenceRun++
		s.utterance = append(s.utterance, frame...)
		if s.silenceRun >= s.cfg.SilenceFrames {
			return s.flush()
		}
	}
	// else: leading silence, dropped.

	if len(s.utterance) >= s.cfg.MaxUtteranceBytes {
		return s.flush()
	}
	return nil, false
}

// Flush force-completes the current utterance, e.g. at stream stop.
// A flush with nothing buffered is a no-op.
func (s *Segmenter) Flush() ([]byte, bool) {
	return s.flush()
}

func (s *Segmenter) flush() ([]byte, bool) {
	s.silenceRun = 0
	s.voiceRun = 0
	if len(s.utterance) == 0 {
		return nil, false
	}
	out := s.utterance
	s.utterance = nil
	return out, true
}

// Voiced reports whether the segmenter is currently inside an utterance.
func (s *Segmenter) Voiced() bool {
	return s.voiceRun > 0
}

// VoiceThreshold returns the configured RMS voice threshold. The playback
// controller shares it for barge-in detection.
func (s *Segmenter) VoiceThreshold() float64 {
	return s.cfg.VoiceThreshold
}

// CallAudio returns the whole-call μ-law buffer when KeepCallAudio is set.
func (s *Segmenter) CallAudio() []byte {
	return s.callAudio
}
