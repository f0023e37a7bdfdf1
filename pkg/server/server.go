// Package server exposes the HTTP surface of the ordering agent: the
// Media Streams WebSocket endpoint, the TwiML webhook that points calls
// at it, a text-based turn endpoint for driving the dialog without
// audio, and a health check.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orderline-ai/orderline/pkg/session"
)

// Config holds server configuration.
type Config struct {
	// Address is the listen address (e.g., ":8080").
	Address string

	// WebSocketPath is the path for media stream connections (default: "/media").
	WebSocketPath string

	// TwiMLPath is the path for the voice webhook (default: "/voice").
	TwiMLPath string

	// TurnPath is the path for text-based turns (default: "/turn").
	TurnPath string

	// StreamURL is the public URL for the media stream, used in the
	// TwiML response. Example: "wss://your-domain.com/media".
	StreamURL string

	ReadBufferSize  int
	WriteBufferSize int
}

// Server accepts calls and owns their sessions.
type Server struct {
	cfg  Config
	deps session.Deps

	registry *session.Registry
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. deps are shared by every session it accepts.
func New(cfg Config, deps session.Deps) *Server {
	if cfg.WebSocketPath == "" {
		cfg.WebSocketPath = "/media"
	}
	if cfg.TwiMLPath == "" {
		cfg.TwiMLPath = "/voice"
	}
	if cfg.TurnPath == "" {
		cfg.TurnPath = "/turn"
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = 1024
	}

	return &Server{
		cfg:      cfg,
		deps:     deps,
		registry: session.NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WebSocketPath, s.handleMediaStream)
	mux.HandleFunc(s.cfg.TwiMLPath, s.handleTwiML)
	mux.HandleFunc(s.cfg.TurnPath, s.handleTurn)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins listening. It does not block.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.httpSrv = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Handler(),
	}

	log.Printf("[Server] Starting on %s", s.cfg.Address)
	log.Printf("[Server] Media stream endpoint: %s", s.cfg.WebSocketPath)
	log.Printf("[Server] Voice webhook: %s", s.cfg.TwiMLPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Server] Serve error: %v", err)
		}
	}()
	return nil
}

// Stop drains every live session and shuts the listener down.
func (s *Server) Stop() error {
	log.Printf("[Server] Stopping...")

	if s.cancel != nil {
		s.cancel()
	}
	s.registry.CloseAll()

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(ctx)
	}

	s.wg.Wait()
	log.Printf("[Server] Stopped")
	return nil
}

// Sessions is the number of live calls.
func (s *Server) Sessions() int {
	return s.registry.Len()
}

// handleMediaStream accepts one media-stream WebSocket and runs its
// session until the call ends.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	log.Printf("[Server] Media stream connection from %s", r.RemoteAddr)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade failed: %v", err)
		return
	}

	sess := session.New(session.NewConn(ws), s.deps, session.Hooks{
		OnStart: func(sess *session.Session) {
			s.registry.Add(sess)
		},
		OnClose: func(callSid string) {
			if callSid != "" {
				s.registry.Remove(callSid)
			}
		},
	})
	sess.Run()
}

const twimlTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="{{.StreamURL}}">
            <Parameter name="to" value="{{.To}}" />
            <Parameter name="from" value="{{.From}}" />
        </Stream>
    </Connect>
</Response>`

var twiml = template.Must(template.New("twiml").Parse(twimlTemplate))

// handleTwiML answers the inbound-call webhook with TwiML that connects
// the call's audio to the media stream endpoint. The dialed and calling
// numbers ride along as stream parameters so the session can resolve the
// restaurant.
func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	callSid := r.FormValue("CallSid")
	from := r.FormValue("From")
	to := r.FormValue("To")
	log.Printf("[Server] Incoming call: CallSid=%s, From=%s, To=%s", callSid, from, to)

	data := struct {
		StreamURL, To, From string
	}{
		StreamURL: s.cfg.StreamURL,
		To:        to,
		From:      from,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := twiml.Execute(w, data); err != nil {
		log.Printf("[Server] TwiML render failed: %v", err)
	}
}

type turnRequest struct {
	CallID     string `json:"call_id"`
	Transcript string `json:"transcript"`
}

type turnResponse struct {
	Reply  string `json:"reply"`
	Stage  string `json:"stage"`
	Done   bool   `json:"done"`
	Failed bool   `json:"failed"`
}

// handleTurn drives one dialog turn from text, bypassing audio entirely.
// Useful for SMS-style channels and for poking at a live call's dialog
// state in development.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.CallID == "" {
		http.Error(w, "call_id is required", http.StatusBadRequest)
		return
	}

	result := s.deps.Turns.ProcessTurn(r.Context(), req.CallID, req.Transcript)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(turnResponse{
		Reply:  result.Reply,
		Stage:  string(result.Stage),
		Done:   result.Done,
		Failed: result.Failed,
	})
}

// handleHealth reports liveness and the live session count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.registry.Len())
}
