package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"

	"github.com/orderline-ai/orderline/pkg/audio"
	"github.com/orderline-ai/orderline/pkg/order"
	"github.com/orderline-ai/orderline/pkg/store"
	"github.com/orderline-ai/orderline/pkg/trace"
	"github.com/orderline-ai/orderline/pkg/tts"
	"github.com/orderline-ai/orderline/pkg/vad"
)

// TurnProcessor applies one utterance to a call's dialog state.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, callID, transcript string) *order.TurnResult
}

// Transcriber turns one utterance of 8kHz PCM into text. An empty result
// means nothing usable was heard.
type Transcriber interface {
	Transcribe(ctx context.Context, callID string, pcm []byte) string
}

// RestaurantResolver maps a dialed number to its restaurant.
type RestaurantResolver interface {
	GetRestaurantByPhone(ctx context.Context, phone string) (*store.Restaurant, error)
}

// Deps are the collaborators a session needs. All of them are shared
// across sessions; the session itself holds only per-call state.
type Deps struct {
	Turns       TurnProcessor
	STT         Transcriber
	TTS         tts.Synthesizer
	States      order.StateStore
	Restaurants RestaurantResolver

	VAD     vad.Config
	VoiceID string
}

// Session is one live phone call. It adapts wire frames into events for
// the Core transition function and executes the effects it returns. A
// single worker serializes the call's turns: at most one
// transcribe-dialog-synthesize pipeline runs at a time, and at most one
// utterance waits behind it.
type Session struct {
	conn   *Conn
	deps   Deps
	seg    *vad.Segmenter
	player *Player

	core  Core
	state State

	utterances chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	hooks     Hooks
}

// Hooks let the server observe the session lifecycle. OnStart fires once
// the call SID is known; OnClose fires exactly once at teardown.
type Hooks struct {
	OnStart func(s *Session)
	OnClose func(callSid string)
}

// New creates a session over an accepted media-stream WebSocket.
func New(conn *Conn, deps Deps, hooks Hooks) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	seg := vad.NewSegmenter(deps.VAD)
	return &Session{
		conn:       conn,
		deps:       deps,
		seg:        seg,
		player:     NewPlayer(conn),
		core:       Core{VoiceThreshold: seg.VoiceThreshold()},
		utterances: make(chan []byte, 1),
		ctx:        ctx,
		cancel:     cancel,
		hooks:      hooks,
	}
}

func (s *Session) CallSid() string { return s.conn.CallSid() }

// Run drives the session until the stream ends. It blocks; the server
// calls it from the WebSocket handler goroutine.
func (s *Session) Run() {
	defer s.Close()

	var workerWg sync.WaitGroup
	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		s.turnWorker()
	}()
	defer workerWg.Wait()
	defer close(s.utterances)

	for {
		msg, err := s.conn.Read()
		if err != nil {
			log.Printf("[Session] call=%s stream read ended: %v", s.CallSid(), err)
			return
		}
		if stop := s.handleMessage(msg); stop {
			return
		}
	}
}

// handleMessage translates one wire frame into an event, runs the
// transition function, and executes its effects. Returns true when the
// read loop should stop.
func (s *Session) handleMessage(msg *MediaMessage) bool {
	switch msg.Event {
	case "connected":
		log.Printf("[Session] media stream connected (protocol %s, version %s)",
			msg.Protocol, msg.Version)
	case "start":
		if msg.Start == nil {
			log.Printf("[Session] start event missing payload")
			return false
		}
		s.conn.setStream(msg.Start.StreamSid, msg.Start.CallSid)
		s.dispatch(StreamStarted{
			StreamSid:    msg.Start.StreamSid,
			CallSid:      msg.Start.CallSid,
			Dialed:       msg.Start.CustomParameters["to"],
			Caller:       msg.Start.CustomParameters["from"],
			RecordingURL: msg.Start.CustomParameters["recordingUrl"],
		})
	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			return false
		}
		if msg.Media.Track != "" && msg.Media.Track != "inbound" {
			return false
		}
		frame, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			log.Printf("[Session] call=%s bad media payload: %v", s.CallSid(), err)
			return false
		}
		s.dispatch(MediaFrame{
			Frame:   frame,
			Energy:  audio.RMSEnergy(frame),
			Playing: s.player.Playing(),
		})
	case "stop":
		log.Printf("[Session] call=%s stream stopped", s.CallSid())
		s.dispatch(StreamStopped{})
		return true
	case "mark":
		if msg.Mark != nil {
			log.Printf("[Session] call=%s playback reached mark %s", s.CallSid(), msg.Mark.Name)
		}
	case "dtmf":
		if msg.DTMF != nil {
			log.Printf("[Session] call=%s dtmf digit %s", s.CallSid(), msg.DTMF.Digit)
		}
	default:
		log.Printf("[Session] unknown event: %s", msg.Event)
	}
	return false
}

// dispatch advances the core state and executes effects in order.
func (s *Session) dispatch(ev Event) {
	var effects []Effect
	s.state, effects = s.core.HandleEvent(s.state, ev)

	for _, eff := range effects {
		switch e := eff.(type) {
		case BeginCall:
			s.beginCall(e)
		case InterruptPlayback:
			log.Printf("[Session] call=%s barge-in, interrupting playback", s.CallSid())
			s.player.Interrupt()
		case ProcessFrame:
			s.processFrame(e.Frame)
		case EndCall:
			s.Close()
		}
	}
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close()
		if s.hooks.OnClose != nil {
			s.hooks.OnClose(s.CallSid())
		}
	})
}

// beginCall resolves the restaurant for the dialed number, creates the
// call state and speaks the greeting.
func (s *Session) beginCall(e BeginCall) {
	log.Printf("[Session] call=%s stream=%s started, dialed=%s",
		e.CallSid, s.state.StreamSid, e.Dialed)

	rest, err := s.deps.Restaurants.GetRestaurantByPhone(s.ctx, e.Dialed)
	if err != nil {
		log.Printf("[Session] call=%s restaurant lookup failed for %s: %v", e.CallSid, e.Dialed, err)
		s.speak(s.ctx, "Sorry, this number is not taking orders right now. Goodbye.")
		s.Close()
		return
	}

	state := order.NewCallState(rest.ID, rest.Name, e.Caller, rest.Menu, rest.Voice.StrictMenuValidation)
	state.RecordingURL = e.RecordingURL
	greeting := greetingText(rest)
	state.Transcript = append(state.Transcript, "Agent: "+greeting)

	if err := s.deps.States.Set(s.ctx, e.CallSid, state); err != nil {
		log.Printf("[Session] call=%s initial state save failed: %v", e.CallSid, err)
		s.speak(s.ctx, "Sorry, we're having technical trouble. Please call again. Goodbye.")
		s.Close()
		return
	}

	if s.hooks.OnStart != nil {
		s.hooks.OnStart(s)
	}
	go s.speak(s.ctx, greeting)
}

// processFrame runs one frame through the segmenter and hands a
// completed utterance to the turn worker.
func (s *Session) processFrame(frame []byte) {
	utterance, ok := s.seg.Push(frame)
	if !ok {
		return
	}

	select {
	case s.utterances <- utterance:
	default:
		// A turn is running and one utterance already waits. Dropping
		// the oldest would reorder speech, so drop the newest instead.
		log.Printf("[Session] call=%s turn pipeline busy, dropping utterance (%d bytes)",
			s.CallSid(), len(utterance))
	}
}

// turnWorker is the single consumer of segmented utterances. One
// utterance is one turn: transcribe, run the dialog machine, speak the
// reply.
func (s *Session) turnWorker() {
	for utterance := range s.utterances {
		s.runTurn(utterance)
	}
}

func (s *Session) runTurn(utterance []byte) {
	callSid := s.CallSid()
	ctx, span := trace.StartSpan(s.ctx, "call.turn")
	defer span.End()

	pcm := audio.MuLawToPCM(utterance)

	transcript := s.deps.STT.Transcribe(ctx, callSid, pcm)
	log.Printf("[Session] call=%s heard: %q", callSid, transcript)

	result := s.deps.Turns.ProcessTurn(ctx, callSid, transcript)
	log.Printf("[Session] call=%s stage=%s reply: %q", callSid, result.Stage, result.Reply)

	if result.Reply != "" {
		s.speak(ctx, result.Reply)
	}
	if result.Done || result.Failed {
		s.Close()
	}
}

// speak synthesizes text and plays it to the caller. Synthesis failures
// are logged and swallowed; a silent turn is better than a dead call.
func (s *Session) speak(ctx context.Context, text string) {
	ctx, span := trace.InstrumentTTS(ctx, s.deps.TTS.Name(), s.deps.VoiceID, len(text))
	defer span.End()

	mulaw, err := s.deps.TTS.Synthesize(ctx, text, s.deps.VoiceID)
	if err != nil {
		log.Printf("[Session] call=%s synthesis failed (%s): %v", s.CallSid(), s.deps.TTS.Name(), err)
		return
	}
	s.player.Play(ctx, mulaw)
}

func greetingText(rest *store.Restaurant) string {
	if rest.Voice.GreetingText != "" {
		g := rest.Voice.GreetingText
		if rest.Voice.GreetingFollowupText != "" {
			g += " " + rest.Voice.GreetingFollowupText
		}
		return g
	}
	name := rest.Voice.BrandName
	if name == "" {
		name = rest.Name
	}
	return fmt.Sprintf("Thanks for calling %s! What can I get started for you?", name)
}
