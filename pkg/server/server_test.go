package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderline-ai/orderline/pkg/menu"
	"github.com/orderline-ai/orderline/pkg/order"
	"github.com/orderline-ai/orderline/pkg/session"
	"github.com/orderline-ai/orderline/pkg/store"
)

type fakeTurns struct {
	mu      sync.Mutex
	results []*order.TurnResult
	seen    []string
}

func (f *fakeTurns) ProcessTurn(_ context.Context, callID, transcript string) *order.TurnResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, transcript)
	if len(f.results) == 0 {
		return &order.TurnResult{Reply: "ok", Stage: order.StageCollectItems}
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r
}

type fakeSTT struct{}

func (fakeSTT) Transcribe(_ context.Context, _ string, _ []byte) string { return "" }

type fakeTTS struct{}

func (fakeTTS) Name() string { return "fake" }

func (fakeTTS) Synthesize(_ context.Context, text string, _ string) ([]byte, error) {
	return make([]byte, 320), nil // two frames of μ-law silence
}

type fakeStates struct {
	mu     sync.Mutex
	states map[string]*order.CallState
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: map[string]*order.CallState{}}
}

func (f *fakeStates) Get(_ context.Context, callID string) (*order.CallState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[callID]
	if !ok {
		return nil, order.ErrStateNotFound
	}
	return st, nil
}

func (f *fakeStates) Set(_ context.Context, callID string, st *order.CallState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[callID] = st
	return nil
}

type fakeResolver struct{}

func (fakeResolver) GetRestaurantByPhone(_ context.Context, phone string) (*store.Restaurant, error) {
	if phone != "+15550100" {
		return nil, store.ErrRestaurantNotFound
	}
	return &store.Restaurant{
		ID:    "rest-1",
		Name:  "Spice Route",
		Phone: phone,
		Menu:  []menu.Item{{Name: "Veggie Samosa", BasePrice: 4.25}},
		Voice: menu.VoiceConfig{GreetingText: "Hi, Spice Route here."},
	}, nil
}

func newTestServer(turns *fakeTurns, states *fakeStates) *Server {
	return New(Config{StreamURL: "wss://example.com/media"}, session.Deps{
		Turns:       turns,
		STT:         fakeSTT{},
		TTS:         fakeTTS{},
		States:      states,
		Restaurants: fakeResolver{},
	})
}

func TestTwiMLWebhook(t *testing.T) {
	s := newTestServer(&fakeTurns{}, newFakeStates())

	form := url.Values{
		"CallSid": {"CA0123"},
		"From":    {"+15550123"},
		"To":      {"+15550100"},
	}
	req := httptest.NewRequest(http.MethodPost, "/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `<Stream url="wss://example.com/media">`)
	assert.Contains(t, body, `name="to" value="+15550100"`)
	assert.Contains(t, body, `name="from" value="+15550123"`)
}

func TestTurnEndpoint(t *testing.T) {
	turns := &fakeTurns{results: []*order.TurnResult{
		{Reply: "Got it, anything else?", Stage: order.StageCollectName},
	}}
	s := newTestServer(turns, newFakeStates())

	body := `{"call_id":"CA0123","transcript":"two samosas"}`
	req := httptest.NewRequest(http.MethodPost, "/turn", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Got it, anything else?", resp.Reply)
	assert.Equal(t, "COLLECT_NAME", resp.Stage)
	assert.False(t, resp.Done)
	assert.Equal(t, []string{"two samosas"}, turns.seen)
}

func TestTurnEndpointValidation(t *testing.T) {
	s := newTestServer(&fakeTurns{}, newFakeStates())

	req := httptest.NewRequest(http.MethodGet, "/turn", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/turn", strings.NewReader(`{"transcript":"hi"}`))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeTurns{}, newFakeStates())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, rec.Body.String())
}

// TestMediaStreamGreeting runs a fake call through the WebSocket: start
// event in, greeting audio and a mark back out.
func TestMediaStreamGreeting(t *testing.T) {
	states := newFakeStates()
	s := newTestServer(&fakeTurns{}, states)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	start := session.MediaMessage{
		Event:     "start",
		StreamSid: "MZ0123",
		Start: &session.StartPayload{
			StreamSid:        "MZ0123",
			CallSid:          "CA0123",
			MediaFormat:      session.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
			CustomParameters: map[string]string{"to": "+15550100", "from": "+15550123"},
		},
	}
	require.NoError(t, ws.WriteJSON(&start))

	var gotMedia, gotMark bool
	deadline := time.Now().Add(3 * time.Second)
	for !gotMark && time.Now().Before(deadline) {
		ws.SetReadDeadline(deadline)
		var msg session.MediaMessage
		if err := ws.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Event {
		case "media":
			gotMedia = true
			assert.Equal(t, "MZ0123", msg.StreamSid)
			require.NotNil(t, msg.Media)
			assert.NotEmpty(t, msg.Media.Payload)
		case "mark":
			gotMark = true
		}
	}

	assert.True(t, gotMedia, "expected greeting audio frames")
	assert.True(t, gotMark, "expected end-of-greeting mark")

	st, err := states.Get(context.Background(), "CA0123")
	require.NoError(t, err)
	// The greeting stage persists until the caller's first utterance.
	assert.Equal(t, order.StageGreeting, st.Stage)
	assert.Equal(t, "rest-1", st.RestaurantID)
	assert.False(t, st.StrictMenuValidation)
}
