package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/orderline-ai/orderline/pkg/menu"
	"github.com/orderline-ai/orderline/pkg/trace"
)

// Deterministic fallback replies. The engine always produces a spoken
// reply; a capability failure must never surface as a dropped call.
const (
	FallbackReply = "I'm sorry, I didn't catch that. Could you tell me what you'd like to order, " +
		"your name, and your pickup time?"
	DegradedReply = "I'm sorry, our ordering system is a little slow right now. " +
		"Please bear with me and repeat your last request."
)

// EngineConfig holds configuration for the turn engine.
type EngineConfig struct {
	APIKey      string  // empty disables the capability; fallback replies only
	Model       string  // default "gpt-4o-mini"
	Temperature float64 // default 0.2, extraction wants determinism
	Language    string  // BCP-47 language tag, passed through to the prompt
}

// Engine drives one dialog turn against the language model.
type Engine struct {
	cfg    EngineConfig
	client *openai.Client
}

// TurnRequest carries everything the model may see for one turn: the
// latest utterance plus the already-collected call state and the menu the
// extraction is constrained to.
type TurnRequest struct {
	RestaurantName string
	Stage          string
	Utterance      string
	CustomerName   string
	PickupTime     string
	Collected      []string // "2x Veggie Samosa" style summaries
	Menu           []menu.Item
}

// NewEngine creates a turn engine. An empty API key is allowed and leaves
// the engine in fallback-only mode.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}

	e := &Engine{cfg: cfg}
	if cfg.APIKey != "" {
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		client := openai.NewClient(opts...)
		e.client = &client
	}
	return e
}

// Enabled reports whether the language capability is configured.
func (e *Engine) Enabled() bool {
	return e.client != nil
}

// NextTurn runs one extraction turn. It never returns an error: capability
// failures map onto deterministic fallback Turns so the caller always has
// a reply to speak.
func (e *Engine) NextTurn(ctx context.Context, req TurnRequest) *Turn {
	if e.client == nil {
		return fallbackTurn(FallbackReply)
	}

	pp := buildPromptPayload(req)
	pp.Language = e.cfg.Language
	payload, err := json.Marshal(pp)
	if err != nil {
		log.Printf("[Dialog] Failed to build prompt payload: %v", err)
		return fallbackTurn(FallbackReply)
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(string(payload)),
		},
		Temperature: openai.Float(e.cfg.Temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "order_turn",
					Strict: openai.Bool(true),
					Schema: turnSchema,
				},
			},
		},
	}

	ctx, span := trace.InstrumentLLM(ctx, e.cfg.Model)
	resp, err := e.client.Chat.Completions.New(ctx, params)
	span.End()
	if err != nil {
		if isRateLimited(err) {
			log.Printf("[Dialog] Rate limited: %v", err)
			return fallbackTurn(DegradedReply)
		}
		log.Printf("[Dialog] Completion failed: %v", err)
		return fallbackTurn(FallbackReply)
	}

	if len(resp.Choices) == 0 {
		log.Printf("[Dialog] Empty completion response")
		return fallbackTurn(FallbackReply)
	}

	turn, err := parseTurn(resp.Choices[0].Message.Content)
	if err != nil {
		log.Printf("[Dialog] Malformed turn output: %v", err)
		return fallbackTurn(FallbackReply)
	}
	return turn
}

func fallbackTurn(reply string) *Turn {
	return &Turn{
		Items:          []TurnItem{},
		UnknownItems:   []string{},
		AssistantReply: reply,
	}
}

// isRateLimited detects rate-limit and quota failures from the API.
func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota")
}

const systemPrompt = `You are the phone ordering assistant for a restaurant.
You receive a JSON payload with the restaurant's menu, the conversation
stage, the details collected so far, and the caller's latest words.

Rules:
- Extract ordered items using ONLY item names from the provided menu.
  Anything the caller asks for that is not on the menu goes in
  unknown_items, verbatim.
- Extract the caller's name into customer_name and their pickup time into
  pickup_time when they say them; otherwise leave those fields null.
- quantity is a positive integer; assume 1 when unstated.
- assistant_reply is what will be spoken: one or two short sentences,
  friendly, no lists, no markdown.
- Set is_order_complete to true only when the caller clearly indicates
  they are done ordering.
- order_type is always "pickup".
Respond with JSON matching the schema exactly.`

// turnSchema is the strict output schema handed to the model.
var turnSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required": []string{
		"customer_name", "pickup_time", "items", "unknown_items",
		"estimated_total", "is_order_complete", "assistant_reply", "order_type",
	},
	"properties": map[string]any{
		"customer_name": map[string]any{"type": []string{"string", "null"}},
		"pickup_time":   map[string]any{"type": []string{"string", "null"}},
		"items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"name", "quantity", "options"},
				"properties": map[string]any{
					"name":     map[string]any{"type": "string"},
					"quantity": map[string]any{"type": "number"},
					"options": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":                 "object",
							"additionalProperties": false,
							"required":             []string{"name", "value"},
							"properties": map[string]any{
								"name":  map[string]any{"type": "string"},
								"value": map[string]any{"type": "string"},
							},
						},
					},
				},
			},
		},
		"unknown_items":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"estimated_total":   map[string]any{"type": []string{"number", "null"}},
		"is_order_complete": map[string]any{"type": "boolean"},
		"assistant_reply":   map[string]any{"type": "string"},
		"order_type":        map[string]any{"type": "string"},
	},
}

type promptPayload struct {
	Restaurant string       `json:"restaurant"`
	Stage      string       `json:"stage"`
	Language   string       `json:"language,omitempty"`
	Collected  collected    `json:"collected"`
	Menu       []menuEntry  `json:"menu"`
	Utterance  string       `json:"caller_said"`
}

type collected struct {
	CustomerName string   `json:"customer_name,omitempty"`
	PickupTime   string   `json:"pickup_time,omitempty"`
	Items        []string `json:"items,omitempty"`
}

type menuEntry struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

func buildPromptPayload(req TurnRequest) promptPayload {
	entries := make([]menuEntry, 0, len(req.Menu))
	for _, it := range req.Menu {
		entries = append(entries, menuEntry{
			Name:  it.Name,
			Price: fmt.Sprintf("%.2f", it.BasePrice),
		})
	}
	return promptPayload{
		Restaurant: req.RestaurantName,
		Stage:      req.Stage,
		Collected: collected{
			CustomerName: req.CustomerName,
			PickupTime:   req.PickupTime,
			Items:        req.Collected,
		},
		Menu:      entries,
		Utterance: req.Utterance,
	}
}
