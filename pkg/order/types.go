// Package order owns the per-call dialog state machine: conversation
// stages, accumulated validated items, confirmation flow, turn budgets and
// the transition to a persisted order.
package order

import (
	"math"

	"github.com/orderline-ai/orderline/pkg/menu"
)

// Stage is the call's dialog stage.
type Stage string

const (
	StageGreeting          Stage = "GREETING"
	StageCollectItems      Stage = "COLLECT_ITEMS"
	StageCollectName       Stage = "COLLECT_NAME"
	StageCollectPickupTime Stage = "COLLECT_PICKUP_TIME"
	StageConfirmOrder      Stage = "CONFIRM_ORDER"
	StageComplete          Stage = "COMPLETE"
)

// ValidatedItem is an order line created only through menu matching; the
// name is always the canonical menu name.
type ValidatedItem struct {
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	UnitPrice float64           `json:"unit_price"`
	Options   []menu.ItemOption `json:"options,omitempty"`
}

// CallState is the central mutable record for one call. It has exactly
// one writer: the call's dialog loop, which loads and saves it around
// each turn.
type CallState struct {
	Stage                Stage           `json:"stage"`
	TurnCount            int             `json:"turn_count"`
	Transcript           []string        `json:"transcript"`
	CustomerName         string          `json:"customer_name"`
	CustomerPhone        string          `json:"customer_phone"`
	PickupTime           string          `json:"pickup_time"`
	Items                []ValidatedItem `json:"items"`
	UnknownItems         []string        `json:"unknown_items"`
	AwaitingConfirmation bool            `json:"awaiting_confirmation"`
	RestaurantID         string          `json:"restaurant_id"`
	RestaurantName       string          `json:"restaurant_name"`
	StrictMenuValidation bool            `json:"strict_menu_validation"`
	MenuItems            []menu.Item     `json:"menu_items"`
	RecordingURL         string          `json:"recording_url,omitempty"`
}

// NewCallState creates the state for a freshly started call.
func NewCallState(restaurantID, restaurantName, callerPhone string, items []menu.Item, strict bool) *CallState {
	return &CallState{
		Stage:                StageGreeting,
		RestaurantID:         restaurantID,
		RestaurantName:       restaurantName,
		CustomerPhone:        callerPhone,
		MenuItems:            items,
		StrictMenuValidation: strict,
	}
}

// Total is the sum of quantity times unit price over validated items,
// rounded to two decimals.
func (s *CallState) Total() float64 {
	var total float64
	for _, it := range s.Items {
		total += float64(it.Quantity) * it.UnitPrice
	}
	return math.Round(total*100) / 100
}

// ReadyToConfirm reports whether name, pickup time and at least one item
// are all present.
func (s *CallState) ReadyToConfirm() bool {
	return s.CustomerName != "" && s.PickupTime != "" && len(s.Items) > 0
}

// CallStatus is the lifecycle status of a call record.
type CallStatus string

const (
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
	CallFailed     CallStatus = "failed"
)

// Order is the persisted record of a completed order. Written exactly
// once per completed call.
type Order struct {
	ID            string          `json:"id"`
	RestaurantID  string          `json:"restaurant_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	Items         []ValidatedItem `json:"items"`
	Total         float64         `json:"total"`
	PickupTime    string          `json:"pickup_time"`
	Status        string          `json:"status"`
	Transcript    []string        `json:"transcript"`
	Confidence    float64         `json:"confidence"`
}

// CallRecord is the continuously upserted record of one phone call,
// keyed by the call identifier.
type CallRecord struct {
	CallID       string     `json:"call_id"`
	RestaurantID string     `json:"restaurant_id"`
	Transcript   []string   `json:"transcript"`
	Status       CallStatus `json:"status"`
	RecordingURL string     `json:"recording_url,omitempty"`
}
