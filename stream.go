package http2

// StreamState is one of the seven states a stream moves through over
// its lifetime.
//
// https://tools.ietf.org/html/rfc7540#section-5.1
type StreamState int8

const (
	StreamStateIdle StreamState = iota
	StreamStateReservedLocal
	StreamStateReservedRemote
	StreamStateOpen
	StreamStateHalfClosedLocal
	StreamStateHalfClosedRemote
	StreamStateClosed
)

func (ss StreamState) String() string {
	switch ss {
	case StreamStateIdle:
		return "idle"
	case StreamStateReservedLocal:
		return "reserved_local"
	case StreamStateReservedRemote:
		return "reserved_remote"
	case StreamStateOpen:
		return "open"
	case StreamStateHalfClosedLocal:
		return "half_closed_local"
	case StreamStateHalfClosedRemote:
		return "half_closed_remote"
	case StreamStateClosed:
		return "closed"
	}

	return "unknown"
}

// Stream tracks the state and flow-control window of a single HTTP/2
// stream as seen by this endpoint.
type Stream struct {
	id     uint32
	window int32
	state  StreamState
	data   interface{}
}

func NewStream(id uint32, win int32, data interface{}) *Stream {
	return &Stream{
		id:     id,
		window: win,
		state:  StreamStateIdle,
		data:   data,
	}
}

func (s *Stream) ID() uint32 {
	return s.id
}

func (s *Stream) SetID(id uint32) {
	s.id = id
}

func (s *Stream) State() StreamState {
	return s.state
}

func (s *Stream) SetState(state StreamState) {
	s.state = state
}

func (s *Stream) Window() int32 {
	return s.window
}

func (s *Stream) SetWindow(win int32) {
	s.window = win
}

func (s *Stream) IncrWindow(win int32) {
	s.window += win
}

func (s *Stream) Data() interface{} {
	return s.data
}

func (s *Stream) SetData(d interface{}) {
	s.data = d
}

// openLocal transitions a stream this endpoint is opening (idle ->
// open on HEADERS send without END_STREAM, or idle ->
// half_closed_local when the request had no body).
func (s *Stream) openLocal(endStream bool) {
	if endStream {
		s.state = StreamStateHalfClosedLocal
	} else {
		s.state = StreamStateOpen
	}
}

// reserveRemote transitions a stream the peer announced via
// PUSH_PROMISE into reserved_remote. No data may flow on it until the
// peer sends HEADERS.
func (s *Stream) reserveRemote() {
	s.state = StreamStateReservedRemote
}

// endStreamRemote applies the effect of receiving a frame with
// END_STREAM set from the peer.
func (s *Stream) endStreamRemote() {
	switch s.state {
	case StreamStateOpen:
		s.state = StreamStateHalfClosedRemote
	case StreamStateHalfClosedLocal, StreamStateReservedRemote:
		s.state = StreamStateClosed
	}
}

// reset forces the stream into the terminal state, as happens on
// RST_STREAM in either direction.
func (s *Stream) reset() {
	s.state = StreamStateClosed
}

// closed reports whether no further frames are expected for s.
func (s *Stream) closed() bool {
	return s.state == StreamStateClosed
}

// canReceiveFrame reports whether typ is a legal frame to receive
// while s is in its current state. It implements the state/frame
// matrix of RFC 7540 section 5.1; frames not mentioned there (PING,
// SETTINGS, GOAWAY, WINDOW_UPDATE at the connection level) never reach
// this check because they aren't dispatched to a specific stream.
//
// https://tools.ietf.org/html/rfc7540#section-5.1
func (s *Stream) canReceiveFrame(typ FrameType) bool {
	if typ == FramePriority {
		return true
	}

	switch s.state {
	case StreamStateClosed:
		return typ == FrameResetStream || typ == FrameWindowUpdate
	case StreamStateHalfClosedRemote:
		return typ == FrameWindowUpdate || typ == FrameResetStream ||
			typ == FramePushPromise || typ == FrameContinuation
	case StreamStateIdle:
		return typ == FrameHeaders || typ == FramePushPromise
	case StreamStateReservedRemote:
		return typ == FrameHeaders || typ == FrameResetStream
	default:
		return true
	}
}
