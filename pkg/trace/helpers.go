package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys used throughout the application
const (
	AttrCallID       = "call.id"
	AttrRestaurantID = "restaurant.id"
	AttrCallStage    = "call.stage"
	AttrTurnNumber   = "turn.number"

	AttrSTTProvider = "stt.provider"
	AttrSTTModel    = "stt.model"
	AttrTTSProvider = "tts.provider"
	AttrTTSVoice    = "tts.voice"
	AttrLLMProvider = "llm.provider"
	AttrLLMModel    = "llm.model"
)

// CallAttrs creates attributes identifying one phone call.
func CallAttrs(callID, restaurantID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCallID, callID),
		attribute.String(AttrRestaurantID, restaurantID),
	}
}

// InstrumentTurn creates a span covering one full dialog turn.
func InstrumentTurn(ctx context.Context, callID, stage string, turn int) (context.Context, trace.Span) {
	return StartSpan(ctx, "call.turn",
		trace.WithAttributes(
			attribute.String(AttrCallID, callID),
			attribute.String(AttrCallStage, stage),
			attribute.Int(AttrTurnNumber, turn),
		),
	)
}

// InstrumentSTT creates a span for one transcription request.
func InstrumentSTT(ctx context.Context, model string, audioSize int) (context.Context, trace.Span) {
	return StartSpan(ctx, "stt.transcribe",
		trace.WithAttributes(
			attribute.String(AttrSTTProvider, "openai"),
			attribute.String(AttrSTTModel, model),
			attribute.Int("audio.size", audioSize),
		),
	)
}

// InstrumentLLM creates a span for one dialog extraction request.
func InstrumentLLM(ctx context.Context, model string) (context.Context, trace.Span) {
	return StartSpan(ctx, "llm.extract_turn",
		trace.WithAttributes(
			attribute.String(AttrLLMProvider, "openai"),
			attribute.String(AttrLLMModel, model),
		),
	)
}

// InstrumentTTS creates a span for one synthesis request.
func InstrumentTTS(ctx context.Context, provider, voice string, textLen int) (context.Context, trace.Span) {
	return StartSpan(ctx, "tts.synthesize",
		trace.WithAttributes(
			attribute.String(AttrTTSProvider, provider),
			attribute.String(AttrTTSVoice, voice),
			attribute.Int("text.length", textLen),
		),
	)
}
