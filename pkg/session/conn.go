// Package session owns one live phone call end to end: the media-stream
// WebSocket, utterance segmentation, barge-in, the serialized turn
// pipeline and playback of synthesized replies.
//
// Audio format is μ-law, 8kHz, mono in both directions; no resampling
// happens anywhere in the process.
//
// Reference: https://www.twilio.com/docs/voice/media-streams
package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// MediaMessage is one Media Streams WebSocket frame, inbound or outbound.
type MediaMessage struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Protocol       string        `json:"protocol,omitempty"`
	Version        string        `json:"version,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

// StartPayload carries stream initialization data.
type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat describes the stream's audio encoding.
type MediaFormat struct {
	Encoding   string `json:"encoding"`   // "audio/x-mulaw"
	SampleRate int    `json:"sampleRate"` // 8000
	Channels   int    `json:"channels"`   // 1
}

// MediaPayload carries one base64-encoded μ-law audio chunk.
type MediaPayload struct {
	Track     string `json:"track,omitempty"` // "inbound" or "outbound"
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload carries stream termination data.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// MarkPayload names a playback synchronization point.
type MarkPayload struct {
	Name string `json:"name"`
}

// DTMFPayload carries one keypad digit.
type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// Transport is what playback needs from the media stream: send audio,
// mark a position, flush the far-end buffer.
type Transport interface {
	SendMedia(mulaw []byte) error
	SendMark(name string) error
	Clear() error
}

// Conn wraps the Media Streams WebSocket. gorilla/websocket requires
// synchronized writes, so every outbound frame goes through writeMu.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool

	streamSid string
	callSid   string
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read blocks for the next parsed media-stream message. Unparseable
// frames are skipped.
func (c *Conn) Read() (*MediaMessage, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		var msg MediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[Conn] unparseable frame skipped: %v", err)
			continue
		}
		return &msg, nil
	}
}

// setStream records the stream identity from the start event. Outbound
// frames are unaddressable until this has happened.
func (c *Conn) setStream(streamSid, callSid string) {
	c.streamSid = streamSid
	c.callSid = callSid
}

func (c *Conn) CallSid() string   { return c.callSid }
func (c *Conn) StreamSid() string { return c.streamSid }

func (c *Conn) writeJSON(msg *MediaMessage) error {
	if c.closed.Load() {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

// SendMedia sends one μ-law chunk to the caller.
func (c *Conn) SendMedia(mulaw []byte) error {
	if c.streamSid == "" {
		return fmt.Errorf("send media: stream not started")
	}
	return c.writeJSON(&MediaMessage{
		Event:     "media",
		StreamSid: c.streamSid,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	})
}

// SendMark asks the far end to echo a mark once the audio queued before
// it has played out.
func (c *Conn) SendMark(name string) error {
	if c.streamSid == "" {
		return nil
	}
	return c.writeJSON(&MediaMessage{
		Event:     "mark",
		StreamSid: c.streamSid,
		Mark:      &MarkPayload{Name: name},
	})
}

// Clear flushes the far-end audio buffer. Used on barge-in so the caller
// stops hearing a reply they have already talked over.
func (c *Conn) Clear() error {
	if c.streamSid == "" {
		return nil
	}
	return c.writeJSON(&MediaMessage{
		Event:     "clear",
		StreamSid: c.streamSid,
	})
}

func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.ws.Close()
}

var _ Transport = (*Conn)(nil)
