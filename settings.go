package http2

import (
	"go.h2c.dev/engine/http2utils"
)

const FrameSettings FrameType = 0x4

var _ Frame = &Settings{}

const (
	// default Settings parameters (https://tools.ietf.org/html/rfc7540#section-6.5.2)
	defaultHeaderTableSize   uint32 = 4096
	defaultConcurrentStreams uint32 = 100
	defaultWindowSize        uint32 = 1<<16 - 1
	defaultMaxFrameSize      uint32 = 1 << 14

	maxWindowSize uint32 = 1<<31 - 1
	maxFrameSize  uint32 = 1<<24 - 1

	// Setting identifiers (https://httpwg.org/specs/rfc7540.html#SettingValues)
	settingHeaderTableSize      uint16 = 0x1
	settingEnablePush           uint16 = 0x2
	settingMaxConcurrentStreams uint16 = 0x3
	settingInitialWindowSize    uint16 = 0x4
	settingMaxFrameSize         uint16 = 0x5
	settingMaxHeaderListSize    uint16 = 0x6
)

// Settings carries the parameters endpoints exchange when a session
// starts, and any time either side wants to change them.
//
// https://tools.ietf.org/html/rfc7540#section-6.5
type Settings struct {
	ack bool

	headerTableSize      uint32
	disablePush          bool
	maxConcurrentStreams uint32
	windowSize           uint32
	maxFrameSize         uint32
	maxHeaderListSize    uint32
}

func (st *Settings) Type() FrameType {
	return FrameSettings
}

// Reset resets settings to their RFC 7540 defaults.
func (st *Settings) Reset() {
	st.ack = false
	st.headerTableSize = defaultHeaderTableSize
	st.disablePush = false
	st.maxConcurrentStreams = defaultConcurrentStreams
	st.windowSize = defaultWindowSize
	st.maxFrameSize = defaultMaxFrameSize
	st.maxHeaderListSize = 0
}

// CopyTo copies st values into s.
func (st *Settings) CopyTo(s *Settings) {
	s.ack = st.ack
	s.headerTableSize = st.headerTableSize
	s.disablePush = st.disablePush
	s.maxConcurrentStreams = st.maxConcurrentStreams
	s.windowSize = st.windowSize
	s.maxFrameSize = st.maxFrameSize
	s.maxHeaderListSize = st.maxHeaderListSize
}

func (st *Settings) IsAck() bool       { return st.ack }
func (st *Settings) SetAck(ack bool)   { st.ack = ack }

func (st *Settings) HeaderTableSize() uint32 { return st.headerTableSize }
func (st *Settings) SetHeaderTableSize(size uint32) {
	st.headerTableSize = size
}

func (st *Settings) Push() bool { return !st.disablePush }
func (st *Settings) SetPush(enable bool) {
	st.disablePush = !enable
}

func (st *Settings) MaxConcurrentStreams() uint32 { return st.maxConcurrentStreams }
func (st *Settings) SetMaxConcurrentStreams(n uint32) {
	st.maxConcurrentStreams = n
}

// MaxWindowSize returns the initial window size this Settings
// advertises for stream-level flow control.
func (st *Settings) MaxWindowSize() uint32 { return st.windowSize }
func (st *Settings) SetMaxWindowSize(size uint32) {
	if size > maxWindowSize {
		size = maxWindowSize
	}
	st.windowSize = size
}

func (st *Settings) MaxFrameSize() uint32 { return st.maxFrameSize }
func (st *Settings) SetMaxFrameSize(size uint32) {
	if size > maxFrameSize {
		size = maxFrameSize
	}
	st.maxFrameSize = size
}

func (st *Settings) MaxHeaderListSize() uint32 { return st.maxHeaderListSize }
func (st *Settings) SetMaxHeaderListSize(size uint32) {
	st.maxHeaderListSize = size
}

// Deserialize decodes a SETTINGS frame payload into st. An ACK frame
// carries no payload.
func (st *Settings) Deserialize(fr *FrameHeader) error {
	if fr.Flags().Has(FlagAck) {
		st.ack = true
		return nil
	}

	payload := fr.payload
	if len(payload)%6 != 0 {
		return NewConnectionError(FrameSizeError, "SETTINGS payload not a multiple of 6")
	}

	for len(payload) > 0 {
		key := uint16(payload[0])<<8 | uint16(payload[1])
		value := http2utils.BytesToUint32(payload[2:6])

		switch key {
		case settingHeaderTableSize:
			st.headerTableSize = value
		case settingEnablePush:
			st.disablePush = value == 0
		case settingMaxConcurrentStreams:
			st.maxConcurrentStreams = value
		case settingInitialWindowSize:
			if value > maxWindowSize {
				return NewConnectionError(FlowControlError, "initial window size exceeds maximum")
			}
			st.windowSize = value
		case settingMaxFrameSize:
			if value < defaultMaxFrameSize || value > maxFrameSize {
				return NewConnectionError(ProtocolError, "invalid max frame size")
			}
			st.maxFrameSize = value
		case settingMaxHeaderListSize:
			st.maxHeaderListSize = value
		}

		payload = payload[6:]
	}

	return nil
}

// Serialize encodes st as a SETTINGS frame payload. ACK settings carry
// no payload regardless of the field values.
func (st *Settings) Serialize(fr *FrameHeader) {
	if st.ack {
		fr.SetFlags(fr.Flags().Add(FlagAck))
		fr.setPayload(nil)
		return
	}

	fr.setPayload(st.payload(fr.payload[:0]))
}

// payload appends st's wire encoding to dst and returns the result. It
// is shared by Serialize and the HTTP2-Settings request header the
// h2c Upgrade handshake sends, since both need the identical settings
// encoding (four to six entries) without routing a live, non-pooled Settings
// through the FrameHeader/pool machinery.
func (st *Settings) payload(dst []byte) []byte {
	dst = appendSetting(dst, settingHeaderTableSize, st.headerTableSize)
	if st.disablePush {
		dst = appendSetting(dst, settingEnablePush, 0)
	}
	dst = appendSetting(dst, settingMaxConcurrentStreams, st.maxConcurrentStreams)
	dst = appendSetting(dst, settingInitialWindowSize, st.windowSize)
	dst = appendSetting(dst, settingMaxFrameSize, st.maxFrameSize)
	if st.maxHeaderListSize != 0 {
		dst = appendSetting(dst, settingMaxHeaderListSize, st.maxHeaderListSize)
	}
	return dst
}

func appendSetting(dst []byte, key uint16, value uint32) []byte {
	return append(dst,
		byte(key>>8), byte(key),
		byte(value>>24), byte(value>>16), byte(value>>8), byte(value),
	)
}
