// Package tts provides speech synthesis for the telephony leg.
//
// Synthesizers return audio already in the 8kHz μ-law line codec so the
// playback path never resamples.
package tts

import "context"

// Synthesizer converts reply text into 8kHz μ-law audio.
type Synthesizer interface {
	// Name returns the provider name.
	Name() string

	// Synthesize renders text with the given voice. voiceID may be empty
	// to use the provider default. The returned bytes are μ-law at 8kHz.
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}
