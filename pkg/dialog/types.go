// Package dialog implements the language-understanding turn engine for
// the phone ordering agent.
//
// Each caller utterance is sent, together with the call's collected state
// and the restaurant's menu, to an OpenAI chat model constrained to a
// strict JSON schema. The raw model output is converted into a Turn via a
// single sanitize step with explicit per-field default rules. The engine
// never returns an error to its caller; capability failures degrade to
// deterministic fallback replies.
package dialog

import (
	"encoding/json"
	"strings"

	"github.com/orderline-ai/orderline/pkg/menu"
)

// TurnItem is one item as extracted from the utterance, not yet validated
// against the menu.
type TurnItem struct {
	Name     string            `json:"name"`
	Quantity int               `json:"quantity"`
	Options  []menu.ItemOption `json:"options,omitempty"`
}

// Turn is the structured result of one dialog turn. Ephemeral: consumed
// immediately to update call state, never persisted.
type Turn struct {
	CustomerName    string     `json:"customer_name"`
	PickupTime      string     `json:"pickup_time"`
	Items           []TurnItem `json:"items"`
	UnknownItems    []string   `json:"unknown_items"`
	EstimatedTotal  float64    `json:"estimated_total"`
	IsOrderComplete bool       `json:"is_order_complete"`
	AssistantReply  string     `json:"assistant_reply"`
	OrderType       string     `json:"order_type"`
}

// rawTurn mirrors Turn with pointer scalars and loose numerics so a
// partially malformed model response can still be salvaged field by field.
type rawTurn struct {
	CustomerName    *string   `json:"customer_name"`
	PickupTime      *string   `json:"pickup_time"`
	Items           []rawItem `json:"items"`
	UnknownItems    []string  `json:"unknown_items"`
	EstimatedTotal  *float64  `json:"estimated_total"`
	IsOrderComplete *bool     `json:"is_order_complete"`
	AssistantReply  *string   `json:"assistant_reply"`
	OrderType       *string   `json:"order_type"`
}

type rawItem struct {
	Name     string            `json:"name"`
	Quantity *float64          `json:"quantity"`
	Options  []menu.ItemOption `json:"options"`
}

// maxReplyLen bounds spoken replies to a single-breath length; telephony
// synthesis must never receive a paragraph.
const maxReplyLen = 300

// DefaultReply is substituted when the model proposes no usable reply text.
const DefaultReply = "Sorry, could you say that again?"

// parseTurn decodes model output and applies the default rules:
// missing optional scalars become zero values, missing collections become
// empty, quantities default to 1 and are floored to a positive integer,
// and items with empty names are dropped.
func parseTurn(content string) (*Turn, error) {
	content = strings.TrimSpace(content)
	// Models occasionally fence the JSON despite instructions.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw rawTurn
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, err
	}
	return sanitizeTurn(&raw), nil
}

func sanitizeTurn(raw *rawTurn) *Turn {
	t := &Turn{
		Items:        make([]TurnItem, 0, len(raw.Items)),
		UnknownItems: make([]string, 0, len(raw.UnknownItems)),
	}

	if raw.CustomerName != nil {
		t.CustomerName = strings.TrimSpace(*raw.CustomerName)
	}
	if raw.PickupTime != nil {
		t.PickupTime = strings.TrimSpace(*raw.PickupTime)
	}
	if raw.EstimatedTotal != nil && *raw.EstimatedTotal > 0 {
		t.EstimatedTotal = *raw.EstimatedTotal
	}
	if raw.IsOrderComplete != nil {
		t.IsOrderComplete = *raw.IsOrderComplete
	}
	if raw.OrderType != nil {
		t.OrderType = strings.TrimSpace(strings.ToLower(*raw.OrderType))
	}
	if raw.AssistantReply != nil {
		t.AssistantReply = *raw.AssistantReply
	}
	t.AssistantReply = SanitizeReply(t.AssistantReply)

	for _, it := range raw.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		qty := 1
		if it.Quantity != nil && *it.Quantity >= 1 {
			qty = int(*it.Quantity)
		}
		t.Items = append(t.Items, TurnItem{Name: name, Quantity: qty, Options: it.Options})
	}

	for _, u := range raw.UnknownItems {
		if u = strings.TrimSpace(u); u != "" {
			t.UnknownItems = append(t.UnknownItems, u)
		}
	}

	return t
}

// SanitizeReply collapses whitespace, truncates to a single-breath length
// and substitutes a default sentence for empty text.
func SanitizeReply(reply string) string {
	reply = strings.Join(strings.Fields(reply), " ")
	if reply == "" {
		return DefaultReply
	}
	if len(reply) > maxReplyLen {
		cut := reply[:maxReplyLen]
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
		reply = cut
	}
	return reply
}
