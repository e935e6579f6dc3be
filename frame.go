package http2

import (
	"fmt"
	"sync"
)

// FrameType identifies the kind of payload carried by a FrameHeader.
//
// https://tools.ietf.org/html/rfc7540#section-11.2
type FrameType uint8

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameResetStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return fmt.Sprintf("UNKNOWN_FRAME_TYPE_%#x", uint8(t))
	}
}

const (
	minFrameType FrameType = FrameData
	maxFrameType FrameType = FrameContinuation
)

// FrameFlags is the 8-bit flag field of a frame header. The meaning of
// each bit depends on the frame type carrying it.
type FrameFlags uint8

// Has reports whether f carries every bit set in flag.
func (f FrameFlags) Has(flag FrameFlags) bool {
	return f&flag == flag
}

// Add returns f with flag set.
func (f FrameFlags) Add(flag FrameFlags) FrameFlags {
	return f | flag
}

// Delete returns f with flag cleared.
func (f FrameFlags) Delete(flag FrameFlags) FrameFlags {
	return f &^ flag
}

// Frame is the payload carried by a FrameHeader. Every concrete frame
// type (Data, Headers, Settings, ...) implements it.
//
// A Frame instance MUST NOT be used from concurrently running
// goroutines.
type Frame interface {
	Type() FrameType
	Reset()
	Deserialize(fr *FrameHeader) error
	Serialize(fr *FrameHeader)
}

var framePools = [...]*sync.Pool{
	FrameData:         {New: func() interface{} { return &Data{} }},
	FrameHeaders:      {New: func() interface{} { return &Headers{} }},
	FramePriority:     {New: func() interface{} { return &Priority{} }},
	FrameResetStream:  {New: func() interface{} { return &RstStream{} }},
	FrameSettings:     {New: func() interface{} { return &Settings{} }},
	FramePushPromise:  {New: func() interface{} { return &PushPromise{} }},
	FramePing:         {New: func() interface{} { return &Ping{} }},
	FrameGoAway:       {New: func() interface{} { return &GoAway{} }},
	FrameWindowUpdate: {New: func() interface{} { return &WindowUpdate{} }},
	FrameContinuation: {New: func() interface{} { return &Continuation{} }},
}

// AcquireFrame returns a Frame of the given kind from its pool.
//
// Use ReleaseFrame to return it once it is no longer needed.
func AcquireFrame(kind FrameType) Frame {
	if kind < minFrameType || kind > maxFrameType {
		panic(fmt.Sprintf("http2: unknown frame type %s", kind))
	}
	fr := framePools[kind].Get().(Frame)
	fr.Reset()
	return fr
}

// ReleaseFrame resets fr and returns it to its pool.
func ReleaseFrame(fr Frame) {
	if fr == nil {
		return
	}
	fr.Reset()
	framePools[fr.Type()].Put(fr)
}
