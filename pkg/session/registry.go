package session

import (
	"log"
	"sync"
)

// Registry tracks live sessions by call SID. The server uses it for the
// health endpoint and for draining on shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session once its call SID is known.
func (r *Registry) Add(s *Session) {
	callSid := s.CallSid()
	if callSid == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[callSid]; ok && old != s {
		log.Printf("[Registry] call=%s replacing stale session", callSid)
		go old.Close()
	}
	r.sessions[callSid] = s
}

// Remove drops a session. No-op if it was never added.
func (r *Registry) Remove(callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callSid)
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll tears down every live session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
