package session

// The call lifecycle is modeled as a synchronous transition function:
// HandleEvent takes the current state and one stream event and returns
// the next state plus the effects to execute, in order. The function
// performs no I/O; Session.Run is the adapter that builds events from
// wire frames and executes the effects.

// Phase is where a call is in its stream lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota // awaiting the start event
	PhaseActive
	PhaseEnded
)

// State is the stream-lifecycle state threaded through HandleEvent.
type State struct {
	Phase     Phase
	StreamSid string
	CallSid   string
	Dialed    string
	Caller    string
}

// Event is one input to the transition function.
type Event interface{ isEvent() }

// StreamStarted carries the identity fields of the start event.
type StreamStarted struct {
	StreamSid    string
	CallSid      string
	Dialed       string
	Caller       string
	RecordingURL string
}

// MediaFrame is one inbound audio frame. Energy is the frame's RMS
// energy; Playing samples whether a reply was being played back when the
// frame arrived.
type MediaFrame struct {
	Frame   []byte
	Energy  float64
	Playing bool
}

// StreamStopped is the far end ending the stream.
type StreamStopped struct{}

func (StreamStarted) isEvent() {}
func (MediaFrame) isEvent()    {}
func (StreamStopped) isEvent() {}

// Effect is one side effect the adapter must execute. Effects are
// ordered: an InterruptPlayback emitted before a ProcessFrame means the
// clear goes out before that frame is segmented.
type Effect interface{ isEffect() }

// BeginCall starts the call: resolve the restaurant, create call state,
// speak the greeting.
type BeginCall struct {
	CallSid      string
	Dialed       string
	Caller       string
	RecordingURL string
}

// InterruptPlayback cancels the in-flight reply and flushes the far-end
// buffer.
type InterruptPlayback struct{}

// ProcessFrame pushes one frame through the utterance segmenter.
type ProcessFrame struct {
	Frame []byte
}

// EndCall tears the session down.
type EndCall struct{}

func (BeginCall) isEffect()         {}
func (InterruptPlayback) isEffect() {}
func (ProcessFrame) isEffect()      {}
func (EndCall) isEffect()           {}

// Core holds the transition function's only parameter: the energy above
// which a frame counts as caller speech. Matches the segmenter's voiced
// classification.
type Core struct {
	VoiceThreshold float64
}

// HandleEvent applies one event. Out-of-order events degrade safely:
// media before start is dropped, a second start is ignored, and stop
// without start still ends the call.
func (c Core) HandleEvent(s State, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case StreamStarted:
		if s.Phase != PhaseIdle {
			return s, nil
		}
		s.Phase = PhaseActive
		s.StreamSid = e.StreamSid
		s.CallSid = e.CallSid
		s.Dialed = e.Dialed
		s.Caller = e.Caller
		return s, []Effect{BeginCall{
			CallSid:      e.CallSid,
			Dialed:       e.Dialed,
			Caller:       e.Caller,
			RecordingURL: e.RecordingURL,
		}}

	case MediaFrame:
		if s.Phase != PhaseActive {
			return s, nil
		}
		var effects []Effect
		if e.Playing && e.Energy > c.VoiceThreshold {
			// Barge-in: the clear must precede any further frame for
			// the stale playback.
			effects = append(effects, InterruptPlayback{})
		}
		effects = append(effects, ProcessFrame{Frame: e.Frame})
		return s, effects

	case StreamStopped:
		if s.Phase == PhaseEnded {
			return s, nil
		}
		s.Phase = PhaseEnded
		return s, []Effect{EndCall{}}
	}
	return s, nil
}
