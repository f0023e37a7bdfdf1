package tts

import "context"

// Noop is the silent synthesizer used when no provider is configured.
// Calls still flow; replies are just never audible.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Synthesize(_ context.Context, _, _ string) ([]byte, error) {
	return nil, nil
}

var _ Synthesizer = Noop{}
