package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderline-ai/orderline/pkg/dialog"
	"github.com/orderline-ai/orderline/pkg/menu"
)

// scriptedEngine returns pre-built turns in order, then empty fallbacks.
type scriptedEngine struct {
	turns []*dialog.Turn
	calls int
}

func (e *scriptedEngine) NextTurn(_ context.Context, _ dialog.TurnRequest) *dialog.Turn {
	e.calls++
	if len(e.turns) == 0 {
		return &dialog.Turn{AssistantReply: dialog.DefaultReply}
	}
	t := e.turns[0]
	e.turns = e.turns[1:]
	return t
}

type memStateStore struct {
	states map[string]*CallState
	sets   int
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: map[string]*CallState{}}
}

func (s *memStateStore) Get(_ context.Context, callID string) (*CallState, error) {
	st, ok := s.states[callID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return st, nil
}

func (s *memStateStore) Set(_ context.Context, callID string, st *CallState) error {
	s.states[callID] = st
	s.sets++
	return nil
}

type memRecordStore struct {
	orders []*Order
	calls  map[string]*CallRecord
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{calls: map[string]*CallRecord{}}
}

func (s *memRecordStore) InsertOrder(_ context.Context, o *Order) error {
	s.orders = append(s.orders, o)
	return nil
}

func (s *memRecordStore) UpsertCall(_ context.Context, c *CallRecord) error {
	s.calls[c.CallID] = c
	return nil
}

func testMenu() []menu.Item {
	return []menu.Item{
		{Name: "Veggie Samosa", BasePrice: 4.25, Aliases: []string{"samosa", "samosas", "veggie samosas"}},
		{Name: "Chicken Tikka", BasePrice: 12.50, Aliases: []string{"tikka"}},
		{Name: "Mango Lassi", BasePrice: 3.75, Aliases: []string{"lassi"}},
	}
}

func newTestMachine(engine TurnEngine) (*Machine, *memStateStore, *memRecordStore) {
	states := newMemStateStore()
	records := newMemRecordStore()
	n := 0
	m := NewMachine(MachineConfig{}, engine, states, records, func() string {
		n++
		return "order-" + string(rune('0'+n))
	})
	return m, states, records
}

func startCall(states *memStateStore, callID string) *CallState {
	st := NewCallState("rest-1", "Spice Route", "+15550100", testMenu(), true)
	st.Stage = StageCollectItems
	states.states[callID] = st
	return st
}

func TestProcessTurnFullConversation(t *testing.T) {
	engine := &scriptedEngine{turns: []*dialog.Turn{
		{
			Items:          []dialog.TurnItem{{Name: "veggie samosas", Quantity: 2}},
			AssistantReply: "Two veggie samosas, got it. Can I get a name for the order?",
		},
		{
			CustomerName:   "Asha",
			AssistantReply: "Thanks Asha! When would you like to pick it up?",
		},
		{
			PickupTime:     "six thirty pm",
			AssistantReply: "Six thirty works.",
		},
	}}
	m, states, records := newTestMachine(engine)
	startCall(states, "call-1")
	ctx := context.Background()

	r := m.ProcessTurn(ctx, "call-1", "I'd like two veggie samosas please")
	require.False(t, r.Done)
	assert.Equal(t, StageCollectName, r.Stage)

	st := states.states["call-1"]
	require.Len(t, st.Items, 1)
	assert.Equal(t, "Veggie Samosa", st.Items[0].Name)
	assert.Equal(t, 2, st.Items[0].Quantity)
	assert.Equal(t, 4.25, st.Items[0].UnitPrice)

	r = m.ProcessTurn(ctx, "call-1", "it's for Asha")
	assert.Equal(t, StageCollectPickupTime, r.Stage)
	assert.Equal(t, "Asha", st.CustomerName)

	r = m.ProcessTurn(ctx, "call-1", "around six thirty pm")
	require.Equal(t, StageConfirmOrder, r.Stage)
	assert.True(t, st.AwaitingConfirmation)
	assert.Contains(t, r.Reply, "2 Veggie Samosa")
	assert.Contains(t, r.Reply, "Asha")
	assert.Contains(t, r.Reply, "six thirty pm")
	assert.Contains(t, r.Reply, "$8.50")

	r = m.ProcessTurn(ctx, "call-1", "yes that's right")
	assert.True(t, r.Done)
	assert.Equal(t, StageComplete, r.Stage)

	require.Len(t, records.orders, 1)
	o := records.orders[0]
	assert.Equal(t, "Asha", o.CustomerName)
	assert.Equal(t, 8.50, o.Total)
	assert.Equal(t, "confirmed", o.Status)
	assert.Equal(t, "six thirty pm", o.PickupTime)
	assert.NotEmpty(t, o.Transcript)

	rec := records.calls["call-1"]
	require.NotNil(t, rec)
	assert.Equal(t, CallCompleted, rec.Status)
}

func TestProcessTurnTurnBudgetExhausted(t *testing.T) {
	engine := &scriptedEngine{} // never extracts anything useful
	states := newMemStateStore()
	records := newMemRecordStore()
	m := NewMachine(MachineConfig{MaxTurns: 3}, engine, states, records, func() string { return "x" })
	startCall(states, "call-2")
	ctx := context.Background()

	r := m.ProcessTurn(ctx, "call-2", "um")
	assert.False(t, r.Failed)
	r = m.ProcessTurn(ctx, "call-2", "what")
	assert.False(t, r.Failed)
	r = m.ProcessTurn(ctx, "call-2", "hello?")
	assert.True(t, r.Failed)
	assert.NotEmpty(t, r.Reply)

	assert.Empty(t, records.orders)
	assert.Equal(t, CallFailed, records.calls["call-2"].Status)
}

func TestProcessTurnNoSpeechReprompts(t *testing.T) {
	engine := &scriptedEngine{}
	m, states, _ := newTestMachine(engine)
	startCall(states, "call-3")

	r := m.ProcessTurn(context.Background(), "call-3", "   ")
	assert.False(t, r.Done)
	assert.False(t, r.Failed)
	assert.Equal(t, replyNoSpeech, r.Reply)
	assert.Zero(t, engine.calls) // no utterance, no model call
}

func TestProcessTurnExpiredState(t *testing.T) {
	m, _, _ := newTestMachine(&scriptedEngine{})

	r := m.ProcessTurn(context.Background(), "no-such-call", "hello")
	assert.True(t, r.Failed)
	assert.Equal(t, replyExpired, r.Reply)
}

func TestProcessTurnRejectsUnknownItemsWhenStrict(t *testing.T) {
	engine := &scriptedEngine{turns: []*dialog.Turn{
		{
			Items:          []dialog.TurnItem{{Name: "pepperoni pizza", Quantity: 1}},
			AssistantReply: "One pepperoni pizza coming up.",
		},
	}}
	m, states, _ := newTestMachine(engine)
	startCall(states, "call-4")

	r := m.ProcessTurn(context.Background(), "call-4", "one pepperoni pizza")
	assert.Equal(t, StageCollectItems, r.Stage)
	assert.Contains(t, r.Reply, "don't have pepperoni pizza")
	assert.Contains(t, r.Reply, "Veggie Samosa")

	st := states.states["call-4"]
	assert.Empty(t, st.Items)
	assert.Equal(t, []string{"pepperoni pizza"}, st.UnknownItems)
}

func TestProcessTurnConfirmationNoReopensOrder(t *testing.T) {
	m, states, records := newTestMachine(&scriptedEngine{})
	st := startCall(states, "call-5")
	st.Items = []ValidatedItem{{Name: "Mango Lassi", Quantity: 1, UnitPrice: 3.75}}
	st.CustomerName = "Ben"
	st.PickupTime = "noon"
	st.Stage = StageConfirmOrder
	st.AwaitingConfirmation = true
	st.UnknownItems = []string{"stale leftover"}

	r := m.ProcessTurn(context.Background(), "call-5", "no, that's wrong")
	assert.False(t, r.Done)
	assert.Equal(t, replyChangeOrder, r.Reply)
	assert.False(t, st.AwaitingConfirmation)
	assert.Empty(t, st.UnknownItems)
	assert.Empty(t, records.orders)
}

func TestProcessTurnUnclearConfirmationTreatedAsNo(t *testing.T) {
	m, states, records := newTestMachine(&scriptedEngine{})
	st := startCall(states, "call-6")
	st.Items = []ValidatedItem{{Name: "Chicken Tikka", Quantity: 1, UnitPrice: 12.50}}
	st.CustomerName = "Ben"
	st.PickupTime = "noon"
	st.AwaitingConfirmation = true

	r := m.ProcessTurn(context.Background(), "call-6", "banana telescope")
	assert.False(t, r.Done)
	assert.Empty(t, records.orders)
	assert.False(t, st.AwaitingConfirmation)
}

func TestProcessTurnLeavesGreetingOnFirstUtterance(t *testing.T) {
	m, states, _ := newTestMachine(&scriptedEngine{})
	st := startCall(states, "call-7")
	st.Stage = StageGreeting

	r := m.ProcessTurn(context.Background(), "call-7", "hi there")
	assert.Equal(t, StageCollectItems, r.Stage)
	assert.Equal(t, StageCollectItems, st.Stage)
}

func TestProcessTurnCarriesRecordingURL(t *testing.T) {
	m, states, records := newTestMachine(&scriptedEngine{})
	st := startCall(states, "call-8")
	st.RecordingURL = "https://recordings.example.com/CA0123"

	m.ProcessTurn(context.Background(), "call-8", "hello")

	rec := records.calls["call-8"]
	require.NotNil(t, rec)
	assert.Equal(t, "https://recordings.example.com/CA0123", rec.RecordingURL)
}

func TestClassifyConfirmation(t *testing.T) {
	cases := []struct {
		in   string
		want confirmAnswer
	}{
		{"yes", confirmYes},
		{"Yep, sounds good", confirmYes},
		{"that's correct", confirmYes},
		{"no", confirmNo},
		{"no, that's not right", confirmNo},
		{"that's not correct", confirmNo},
		{"I want to change something", confirmNo},
		{"hmm", confirmNo},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyConfirmation(tc.in), "input %q", tc.in)
	}
}

func TestComputeStage(t *testing.T) {
	s := &CallState{}
	assert.Equal(t, StageCollectItems, computeStage(s))
	s.Items = []ValidatedItem{{Name: "Mango Lassi", Quantity: 1}}
	assert.Equal(t, StageCollectName, computeStage(s))
	s.CustomerName = "Asha"
	assert.Equal(t, StageCollectPickupTime, computeStage(s))
	s.PickupTime = "noon"
	assert.Equal(t, StageConfirmOrder, computeStage(s))
}

func TestCallStateTotalRounds(t *testing.T) {
	s := &CallState{Items: []ValidatedItem{
		{Quantity: 3, UnitPrice: 3.33},
		{Quantity: 1, UnitPrice: 0.001},
	}}
	assert.Equal(t, 9.99, s.Total())
}
