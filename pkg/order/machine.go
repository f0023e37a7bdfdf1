package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/orderline-ai/orderline/pkg/dialog"
	"github.com/orderline-ai/orderline/pkg/menu"
)

// ErrStateNotFound is returned by a StateStore when a call's state has
// expired or was never created.
var ErrStateNotFound = errors.New("call state not found")

// TurnEngine extracts a structured turn from one utterance. dialog.Engine
// implements it; tests substitute scripted engines.
type TurnEngine interface {
	NextTurn(ctx context.Context, req dialog.TurnRequest) *dialog.Turn
}

// StateStore is the keyed, expiring store for per-call state. Each call's
// state is a single atomic value: whole-value replace, never field merge.
type StateStore interface {
	Get(ctx context.Context, callID string) (*CallState, error)
	Set(ctx context.Context, callID string, state *CallState) error
}

// RecordStore persists final orders and continuously upserted call records.
type RecordStore interface {
	InsertOrder(ctx context.Context, o *Order) error
	UpsertCall(ctx context.Context, c *CallRecord) error
}

// IDFunc mints order identifiers.
type IDFunc func() string

// MachineConfig tunes the per-call dialog loop.
type MachineConfig struct {
	// MaxTurns is the turn budget: a call that has not reached
	// confirmation by then is marked failed and ended.
	MaxTurns int
}

// DefaultMaxTurns bounds how long a confused conversation may run.
const DefaultMaxTurns = 10

// Spoken lines for the deterministic paths. Every user-visible failure
// ends with a spoken line, never a silent disconnect.
const (
	replyNoSpeech    = "Sorry, I didn't hear anything. What would you like to order?"
	replyChangeOrder = "No problem. What would you like to change?"
	replyExpired     = "I'm sorry, your session has expired. Please call again to place your order."
	replyGiveUp      = "I'm sorry, I'm having trouble taking your order today. Please call back in a few minutes. Goodbye."
)

// TurnResult is what one processed utterance produces for the session
// layer: the reply to speak and whether the call is over.
type TurnResult struct {
	Reply  string
	Stage  Stage
	Done   bool // order confirmed and persisted
	Failed bool // call abandoned; terminate after speaking Reply
}

// Machine drives the order dialog for all calls. It is stateless between
// turns; all per-call state lives in the StateStore.
type Machine struct {
	cfg     MachineConfig
	engine  TurnEngine
	states  StateStore
	records RecordStore
	newID   IDFunc
}

// NewMachine wires the state machine to its collaborators.
func NewMachine(cfg MachineConfig, engine TurnEngine, states StateStore, records RecordStore, newID IDFunc) *Machine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &Machine{cfg: cfg, engine: engine, states: states, records: records, newID: newID}
}

// ProcessTurn applies one caller utterance to a call. transcript may be
// empty, meaning no speech was captured for this turn.
//
// The whole method is one read-modify-write of the call state; per-call
// serialization is guaranteed by the session layer, which never runs two
// turns for the same call concurrently.
func (m *Machine) ProcessTurn(ctx context.Context, callID, transcript string) *TurnResult {
	state, err := m.states.Get(ctx, callID)
	if err != nil {
		if !errors.Is(err, ErrStateNotFound) {
			log.Printf("[Order] call=%s state load failed: %v", callID, err)
		}
		return &TurnResult{Reply: replyExpired, Failed: true}
	}

	state.TurnCount++
	transcript = strings.TrimSpace(transcript)

	// The greeting stage ends when the caller first speaks back.
	if state.Stage == StageGreeting {
		state.Stage = computeStage(state)
	}

	var result *TurnResult
	switch {
	case transcript == "":
		result = m.handleNoSpeech(ctx, callID, state)
	case state.AwaitingConfirmation:
		result = m.handleConfirmation(ctx, callID, state, transcript)
	default:
		result = m.handleUtterance(ctx, callID, state, transcript)
	}

	if !result.Done && !result.Failed && state.TurnCount >= m.cfg.MaxTurns {
		// Turn budget exhausted without reaching a confirmed order.
		result = m.failCall(ctx, callID, state)
	}

	state.Transcript = append(state.Transcript, "Agent: "+result.Reply)
	result.Stage = state.Stage

	if err := m.states.Set(ctx, callID, state); err != nil {
		log.Printf("[Order] call=%s state save failed: %v", callID, err)
	}
	m.upsertCall(ctx, callID, state, callStatus(result))

	return result
}

func callStatus(r *TurnResult) CallStatus {
	switch {
	case r.Failed:
		return CallFailed
	case r.Done:
		return CallCompleted
	default:
		return CallInProgress
	}
}

func (m *Machine) handleNoSpeech(ctx context.Context, callID string, state *CallState) *TurnResult {
	state.Transcript = append(state.Transcript, "Caller: <no speech>")
	return &TurnResult{Reply: replyNoSpeech}
}

// handleConfirmation classifies the caller's answer to the order summary.
// An unclear answer is treated as negative: re-asking is cheaper than a
// wrong committed order.
func (m *Machine) handleConfirmation(ctx context.Context, callID string, state *CallState, transcript string) *TurnResult {
	state.Transcript = append(state.Transcript, "Caller: "+transcript)

	if classifyConfirmation(transcript) == confirmYes {
		return m.completeOrder(ctx, callID, state)
	}

	state.AwaitingConfirmation = false
	state.UnknownItems = nil
	state.Stage = computeStage(state)
	return &TurnResult{Reply: replyChangeOrder}
}

func (m *Machine) handleUtterance(ctx context.Context, callID string, state *CallState, transcript string) *TurnResult {
	state.Transcript = append(state.Transcript, "Caller: "+transcript)

	turn := m.engine.NextTurn(ctx, dialog.TurnRequest{
		RestaurantName: state.RestaurantName,
		Stage:          string(state.Stage),
		Utterance:      transcript,
		CustomerName:   state.CustomerName,
		PickupTime:     state.PickupTime,
		Collected:      collectedSummaries(state.Items),
		Menu:           state.MenuItems,
	})

	if turn.CustomerName != "" {
		state.CustomerName = turn.CustomerName
	}
	if turn.PickupTime != "" {
		state.PickupTime = turn.PickupTime
	}

	validated, rejected := validateItems(turn, state.MenuItems)

	// Items are replaced in one batch only when the turn produced at
	// least one validated item; an empty turn preserves prior items.
	if len(validated) > 0 {
		state.Items = validated
		state.UnknownItems = nil
	}

	reply := turn.AssistantReply

	if len(rejected) > 0 && state.StrictMenuValidation {
		state.UnknownItems = rejected
		state.Stage = StageCollectItems
		reply = rejectionReply(rejected, state.MenuItems)
		return &TurnResult{Reply: reply}
	}

	if state.ReadyToConfirm() {
		state.Stage = StageConfirmOrder
		state.AwaitingConfirmation = true
		return &TurnResult{Reply: confirmationSummary(state)}
	}

	state.Stage = computeStage(state)
	return &TurnResult{Reply: reply}
}

// completeOrder persists the order and finishes the call. Persistence is
// best-effort per attempt: a store outage is logged and the caller still
// gets their confirmation, based on in-memory state.
func (m *Machine) completeOrder(ctx context.Context, callID string, state *CallState) *TurnResult {
	o := &Order{
		ID:            m.newID(),
		RestaurantID:  state.RestaurantID,
		CustomerName:  state.CustomerName,
		CustomerPhone: state.CustomerPhone,
		Items:         state.Items,
		Total:         state.Total(),
		PickupTime:    state.PickupTime,
		Status:        "confirmed",
		Transcript:    state.Transcript,
		Confidence:    confidence(state.TurnCount),
	}
	if err := m.records.InsertOrder(ctx, o); err != nil {
		log.Printf("[Order] call=%s order insert failed: %v", callID, err)
	}

	state.Stage = StageComplete
	state.AwaitingConfirmation = false

	reply := fmt.Sprintf("Perfect, your order is confirmed, %s. We'll see you at %s. Goodbye!",
		state.CustomerName, state.PickupTime)
	return &TurnResult{Reply: reply, Done: true}
}

func (m *Machine) failCall(ctx context.Context, callID string, state *CallState) *TurnResult {
	log.Printf("[Order] call=%s turn budget exhausted at %d turns, abandoning", callID, state.TurnCount)
	return &TurnResult{Reply: replyGiveUp, Failed: true}
}

func (m *Machine) upsertCall(ctx context.Context, callID string, state *CallState, status CallStatus) {
	err := m.records.UpsertCall(ctx, &CallRecord{
		CallID:       callID,
		RestaurantID: state.RestaurantID,
		Transcript:   state.Transcript,
		Status:       status,
		RecordingURL: state.RecordingURL,
	})
	if err != nil {
		// Best effort: the next turn's upsert is another chance.
		log.Printf("[Order] call=%s call record upsert failed: %v", callID, err)
	}
}

// validateItems resolves each extracted item against the menu. Matched
// items become ValidatedItems with canonical names and menu prices;
// everything else, including the engine's own unknown_items, is rejected.
func validateItems(turn *dialog.Turn, items []menu.Item) (validated []ValidatedItem, rejected []string) {
	rejected = append(rejected, turn.UnknownItems...)

	for _, ti := range turn.Items {
		matched, ok := menu.Match(ti.Name, items)
		if !ok {
			rejected = append(rejected, ti.Name)
			continue
		}
		validated = append(validated, ValidatedItem{
			Name:      matched.Name,
			Quantity:  ti.Quantity,
			UnitPrice: matched.BasePrice,
			Options:   ti.Options,
		})
	}
	return validated, rejected
}

// computeStage picks the collection stage from what is still missing.
func computeStage(s *CallState) Stage {
	switch {
	case len(s.Items) == 0:
		return StageCollectItems
	case s.CustomerName == "":
		return StageCollectName
	case s.PickupTime == "":
		return StageCollectPickupTime
	default:
		return StageConfirmOrder
	}
}

type confirmAnswer int

const (
	confirmNo confirmAnswer = iota
	confirmYes
)

var (
	negativeMarkers    = []string{"no", "wrong", "change", "nah"}
	negativePhrases    = []string{"not correct", "not right"}
	affirmativeMarkers = []string{"yes", "correct", "confirm", "right", "yep", "yeah"}
)

// classifyConfirmation maps a confirmation-stage utterance to yes or no.
// Negative markers win over affirmative ones ("no, that's not right"),
// and anything unclear counts as no.
func classifyConfirmation(transcript string) confirmAnswer {
	normalized := " " + menu.Normalize(transcript) + " "

	for _, p := range negativePhrases {
		if strings.Contains(normalized, " "+p+" ") {
			return confirmNo
		}
	}
	for _, w := range negativeMarkers {
		if strings.Contains(normalized, " "+w+" ") {
			return confirmNo
		}
	}
	for _, w := range affirmativeMarkers {
		if strings.Contains(normalized, " "+w+" ") {
			return confirmYes
		}
	}
	return confirmNo
}

// confirmationSummary builds the spoken order recap.
func confirmationSummary(s *CallState) string {
	var b strings.Builder
	b.WriteString("Let me confirm your order: ")
	for i, it := range s.Items {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d %s", it.Quantity, it.Name)
	}
	fmt.Fprintf(&b, ", for %s, pickup at %s. The total is $%.2f. Is that correct?",
		s.CustomerName, s.PickupTime, s.Total())
	return b.String()
}

// rejectionReply names the rejected items and up to five menu examples.
func rejectionReply(rejected []string, items []menu.Item) string {
	examples := menu.Examples(items, 5)
	return fmt.Sprintf("I'm sorry, we don't have %s. Some things we do have: %s. What would you like?",
		strings.Join(rejected, " or "), strings.Join(examples, ", "))
}

func collectedSummaries(items []ValidatedItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, fmt.Sprintf("%dx %s", it.Quantity, it.Name))
	}
	return out
}

// confidence is a coarse score for the persisted order: quick, clean
// conversations score higher than long corrective ones.
func confidence(turns int) float64 {
	switch {
	case turns <= 6:
		return 0.9
	case turns <= 8:
		return 0.8
	default:
		return 0.7
	}
}
