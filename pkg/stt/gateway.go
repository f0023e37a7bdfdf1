// Package stt is the transcription gateway between utterance buffers and
// the speech-recognition capability.
//
// The gateway has deliberately soft failure semantics: every failure path
// returns an empty transcript, never an error. Upstream, an empty
// transcript means "no new information" and the dialog loop re-prompts;
// a provider outage must not take the call down.
package stt

import (
	"bytes"
	"context"
	"log"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/orderline-ai/orderline/pkg/audio"
	"github.com/orderline-ai/orderline/pkg/trace"
)

const (
	// LineSampleRate is the telephony sample rate of utterance audio.
	LineSampleRate = 8000

	// minUtteranceDuration gates out blips too short to transcribe.
	minUtteranceDuration = 250 * time.Millisecond

	requestTimeout = 15 * time.Second
)

// DefaultModels is the ordered endpoint-variant fallback list.
var DefaultModels = []string{openai.Whisper1}

// Config holds gateway configuration.
type Config struct {
	APIKey   string   // empty disables transcription entirely
	Models   []string // tried in order until one succeeds
	Language string   // BCP-47 language tag passed through to the provider
}

// Gateway transcribes utterance buffers.
type Gateway struct {
	cfg    Config
	client *openai.Client
}

// NewGateway creates a transcription gateway. A missing API key is not an
// error; the gateway just always returns empty transcripts.
func NewGateway(cfg Config) *Gateway {
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}

	g := &Gateway{cfg: cfg}
	if cfg.APIKey != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			clientConfig.BaseURL = baseURL
		}
		g.client = openai.NewClientWithConfig(clientConfig)
	}
	return g
}

// Transcribe converts one utterance of 16-bit 8kHz mono PCM to text.
// Returns "" (not an error) on missing credentials, a too-short payload,
// provider failure across every model variant, or timeout.
func (g *Gateway) Transcribe(ctx context.Context, callID string, pcm []byte) string {
	if g.client == nil {
		return ""
	}

	duration := time.Duration(len(pcm)/2) * time.Second / LineSampleRate
	if duration < minUtteranceDuration {
		log.Printf("[STT] call=%s utterance too short (%v), skipping", callID, duration)
		return ""
	}

	wav := audio.PCMToWAV(pcm, LineSampleRate)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	for _, model := range g.cfg.Models {
		req := openai.AudioRequest{
			Model:    model,
			FilePath: "utterance.wav", // filename hint only
			Reader:   bytes.NewReader(wav),
			Language: g.cfg.Language,
		}

		attemptCtx, span := trace.InstrumentSTT(ctx, model, len(pcm))
		resp, err := g.client.CreateTranscription(attemptCtx, req)
		span.End()
		if err != nil {
			log.Printf("[STT] call=%s model=%s transcription failed: %v", callID, model, err)
			if ctx.Err() != nil {
				return ""
			}
			continue
		}

		text := resp.Text
		log.Printf("[STT] call=%s model=%s transcript=%q (%v audio)", callID, model, text, duration)
		return text
	}
	return ""
}
