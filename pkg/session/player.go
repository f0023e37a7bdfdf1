package session

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// Playback framing: 160 μ-law bytes is 20ms at 8kHz.
const (
	playbackFrameBytes    = 160
	playbackFrameDuration = 20 * time.Millisecond
)

// Player paces synthesized audio out to the caller and cancels playback
// on barge-in.
//
// Cancellation is a monotonically increasing token: Play captures the
// token at start and checks it before every frame; Interrupt bumps the
// token, which invalidates every in-flight playback at once. A stale
// playback can never emit another frame after an interrupt, even if the
// goroutines race.
type Player struct {
	transport Transport
	token     atomic.Int64
	playing   atomic.Bool
	marks     atomic.Int64
}

func NewPlayer(transport Transport) *Player {
	return &Player{transport: transport}
}

// Playing reports whether a playback is currently in flight. The session
// uses it to gate barge-in detection.
func (p *Player) Playing() bool {
	return p.playing.Load()
}

// Interrupt cancels any in-flight playback and flushes the far-end
// buffer so already-queued audio stops too.
func (p *Player) Interrupt() {
	p.token.Add(1)
	if err := p.transport.Clear(); err != nil {
		log.Printf("[Player] clear failed: %v", err)
	}
}

// Play streams mulaw to the caller in paced 20ms frames. It returns
// false if playback was interrupted or the context ended before the
// last frame was sent.
func (p *Player) Play(ctx context.Context, mulaw []byte) bool {
	if len(mulaw) == 0 {
		return true
	}

	tok := p.token.Load()
	p.playing.Store(true)
	defer p.playing.Store(false)

	ticker := time.NewTicker(playbackFrameDuration)
	defer ticker.Stop()

	for offset := 0; offset < len(mulaw); offset += playbackFrameBytes {
		if p.token.Load() != tok {
			return false
		}

		end := offset + playbackFrameBytes
		if end > len(mulaw) {
			end = len(mulaw)
		}
		if err := p.transport.SendMedia(mulaw[offset:end]); err != nil {
			log.Printf("[Player] send failed: %v", err)
			return false
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}

	// Mark the end of this reply so playback completion is observable.
	name := fmt.Sprintf("reply-%d", p.marks.Add(1))
	if err := p.transport.SendMark(name); err != nil {
		log.Printf("[Player] mark failed: %v", err)
	}
	return true
}
