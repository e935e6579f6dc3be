package http2

import (
	"errors"
	"fmt"
)

// ErrorCode is an HTTP/2 error code as defined by RFC 7540 section 7.
type ErrorCode uint32

const (
	NoError            ErrorCode = 0x0
	ProtocolError      ErrorCode = 0x1
	InternalError      ErrorCode = 0x2
	FlowControlError   ErrorCode = 0x3
	SettingsTimeout    ErrorCode = 0x4
	StreamClosedError  ErrorCode = 0x5
	FrameSizeError     ErrorCode = 0x6
	RefusedStreamError ErrorCode = 0x7
	CancelError        ErrorCode = 0x8
	CompressionError   ErrorCode = 0x9
	ConnectError       ErrorCode = 0xa
	EnhanceYourCalm    ErrorCode = 0xb
	InadequateSecurity ErrorCode = 0xc
	HTTP11Required     ErrorCode = 0xd
)

var errCodeName = map[ErrorCode]string{
	NoError:            "NO_ERROR",
	ProtocolError:      "PROTOCOL_ERROR",
	InternalError:      "INTERNAL_ERROR",
	FlowControlError:   "FLOW_CONTROL_ERROR",
	SettingsTimeout:    "SETTINGS_TIMEOUT",
	StreamClosedError:  "STREAM_CLOSED",
	FrameSizeError:     "FRAME_SIZE_ERROR",
	RefusedStreamError: "REFUSED_STREAM",
	CancelError:        "CANCEL",
	CompressionError:   "COMPRESSION_ERROR",
	ConnectError:       "CONNECT_ERROR",
	EnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	InadequateSecurity: "INADEQUATE_SECURITY",
	HTTP11Required:     "HTTP_1_1_REQUIRED",
}

func (c ErrorCode) String() string {
	if s, ok := errCodeName[c]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_ERROR_CODE_%#x", uint32(c))
}

// errKind distinguishes the two ways an Error is surfaced on the wire:
// a stream error travels in a RST_STREAM frame, a connection error
// travels in a GOAWAY frame and is fatal to the session. A local error
// never reaches the wire.
type errKind uint8

const (
	errKindLocal errKind = iota
	errKindStream
	errKindConnection
)

// Error represents a protocol-level failure. It carries enough
// information for the session to decide whether to reset a single
// stream or tear down the whole connection.
type Error struct {
	kind    errKind
	code    ErrorCode
	stream  uint32
	message string
}

func (e *Error) Error() string {
	if e.stream != 0 {
		return fmt.Sprintf("http2: stream %d: %s: %s", e.stream, e.code, e.message)
	}
	return fmt.Sprintf("http2: %s: %s", e.code, e.message)
}

// Code returns the wire error code associated with e.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Stream returns the stream id the error applies to, or 0 for
// connection-wide errors.
func (e *Error) Stream() uint32 {
	return e.stream
}

// IsConnectionError reports whether e must be promoted to a GOAWAY
// and terminate the session.
func (e *Error) IsConnectionError() bool {
	return e.kind == errKindConnection
}

// NewStreamError builds a stream error: it resets a single stream via
// RST_STREAM(code) and never touches the rest of the session.
func NewStreamError(stream uint32, code ErrorCode, message string) *Error {
	return &Error{kind: errKindStream, code: code, stream: stream, message: message}
}

// NewConnectionError builds a connection error: it is fatal to the
// session and must be reported via GOAWAY(code).
func NewConnectionError(code ErrorCode, message string) *Error {
	return &Error{kind: errKindConnection, code: code, message: message}
}

// NewLocalError builds an error that never reaches the wire: user
// cancellation, a transport failure before the preface, or a
// configuration violation.
func NewLocalError(message string) *Error {
	return &Error{kind: errKindLocal, code: InternalError, message: message}
}

// AsHTTP2Error unwraps err into an *Error, following the standard
// errors.As chain.
func AsHTTP2Error(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

var (
	ErrUnknownFrameType   = errors.New("http2: unknown frame type")
	ErrMissingBytes       = errors.New("http2: frame payload shorter than required")
	ErrPayloadExceeds     = errors.New("http2: frame payload exceeds the negotiated maximum size")
	ErrBadPreface         = errors.New("http2: invalid connection preface")
	ErrServerSupport      = errors.New("http2: server doesn't support HTTP/2")
	ErrNotAvailableStream = errors.New("http2: ran out of available stream ids")
	ErrConnClosed         = errors.New("http2: connection closed")
	ErrBitOverflow        = errors.New("http2: integer overflow while decoding")
)
