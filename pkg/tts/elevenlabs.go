// ElevenLabs HTTP synthesis provider.
//
// Requests ulaw_8000 output so the audio drops straight onto the phone
// line without conversion.
//
// Reference: https://elevenlabs.io/docs/api-reference/text-to-speech

package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	elevenLabsEndpoint        = "https://api.elevenlabs.io/v1/text-to-speech"
	elevenLabsDefaultModel    = "eleven_turbo_v2_5"
	elevenLabsDefaultVoice    = "21m00Tcm4TlvDq8ikWAM" // Rachel
	elevenLabsOutputFormat    = "ulaw_8000"
	elevenLabsLatencyOptimize = 3
)

// ElevenLabsConfig holds the configuration for the ElevenLabs provider.
type ElevenLabsConfig struct {
	APIKey          string  // required
	VoiceID         string  // default Rachel
	Model           string  // default eleven_turbo_v2_5
	Stability       float64 // 0-1, default 0.5
	SimilarityBoost float64 // 0-1, default 0.75
}

// ElevenLabsProvider implements Synthesizer over the ElevenLabs HTTP API.
type ElevenLabsProvider struct {
	cfg        ElevenLabsConfig
	endpoint   string
	httpClient *http.Client
}

// NewElevenLabsProvider creates an ElevenLabs synthesis provider.
func NewElevenLabsProvider(cfg ElevenLabsConfig) (*ElevenLabsProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ElevenLabs API key is required")
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = elevenLabsDefaultVoice
	}
	if cfg.Model == "" {
		cfg.Model = elevenLabsDefaultModel
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.SimilarityBoost == 0 {
		cfg.SimilarityBoost = 0.75
	}

	return &ElevenLabsProvider{
		cfg:        cfg,
		endpoint:   elevenLabsEndpoint,
		httpClient: &http.Client{},
	}, nil
}

// Name returns the provider name.
func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

type elevenLabsRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	VoiceSettings elevenLabsSettings `json:"voice_settings"`
}

type elevenLabsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize renders text to 8kHz μ-law audio.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text is empty")
	}
	if voiceID == "" {
		voiceID = p.cfg.VoiceID
	}

	payload, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: p.cfg.Model,
		VoiceSettings: elevenLabsSettings{
			Stability:       p.cfg.Stability,
			SimilarityBoost: p.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	query := url.Values{}
	query.Set("output_format", elevenLabsOutputFormat)
	query.Set("optimize_streaming_latency", fmt.Sprintf("%d", elevenLabsLatencyOptimize))
	endpoint := fmt.Sprintf("%s/%s?%s", p.endpoint, voiceID, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("synthesis returned %d: %s", resp.StatusCode, body)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return audio, nil
}

var _ Synthesizer = (*ElevenLabsProvider)(nil)
