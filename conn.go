package http2

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/net/http2/hpack"
)

// ConnOpts defines the connection options.
type ConnOpts struct {
	// PingInterval defines the interval in which the client will ping the server.
	//
	// An interval of 0 will make the library to use DefaultPingInterval. Because ping intervals can't be disabled
	PingInterval time.Duration
	// DisablePingChecking ...
	DisablePingChecking bool
	// OnDisconnect is a callback that fires when the Conn disconnects.
	OnDisconnect func(c *Conn)
	// OnRTT, when set, is called with the measured round-trip time
	// every time a PING ACK is received.
	OnRTT func(time.Duration)

	// DisablePush advertises SETTINGS_ENABLE_PUSH=0, telling the
	// server this client will refuse every PUSH_PROMISE. Corresponds
	// to the push-enabled configuration knob: false disables push.
	DisablePush bool
	// OnPush, when set and push is enabled, is called with the
	// promised request and the stream id the server reserved for it
	// every time a PUSH_PROMISE is accepted. Returning true keeps the
	// promised stream open and decodes the pushed response into a
	// Response the Conn holds for that stream; the Conn does not pass
	// that Response to OnPush or to any other callback. Returning false
	// (or leaving OnPush nil) closes the promised stream locally; the
	// pushed response's headers are still decoded to keep HPACK state
	// correct, and are then discarded.
	OnPush func(pushedReq *fasthttp.Request, promisedStreamID uint32) bool

	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

// Handshake performs an HTTP/2 handshake. That means, it will send
// the preface if `preface` is true, send a settings frame and a
// window update frame (for the connection's window).
func Handshake(preface bool, bw *bufio.Writer, st *Settings, extraWindow int32) error {
	if preface {
		if err := WritePreface(bw); err != nil {
			return err
		}
	}

	fr := AcquireFrameHeader()
	defer ReleaseFrameHeader(fr)

	// write the settings
	st2 := &Settings{}
	st.CopyTo(st2)

	fr.SetBody(st2)

	_, err := fr.WriteTo(bw)
	if err == nil && extraWindow > 0 {
		// then send a window update bumping the connection window
		// past the default 64KiB every endpoint starts with.
		fr = AcquireFrameHeader()
		wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
		wu.SetIncrement(int(extraWindow))

		fr.SetBody(wu)

		_, err = fr.WriteTo(bw)
	}
	if err == nil {
		err = bw.Flush()
	}

	return err
}

// headerAssembly accumulates the header block fragments of a
// HEADERS/PUSH_PROMISE frame and any CONTINUATION frames that follow
// it, so the whole block is handed to the HPACK decoder in one call.
// RFC 7540 section 4.3 requires this: the decoder's dynamic table is
// connection-wide state, and decoding a partial block would desync it
// for every stream, not just the one being assembled.
//
// wireStream is the stream id every frame in the sequence is sent on
// (the id a CONTINUATION must match). target is the stream id the
// decoded headers logically belong to: equal to wireStream for
// HEADERS, but the promised stream id for PUSH_PROMISE.
type headerAssembly struct {
	pending    bool
	wireStream uint32
	target     uint32
	isPush     bool
	endStream  bool
	buf        []byte
}

// Conn represents a raw HTTP/2 connection over TCP, with or without TLS.
type Conn struct {
	c net.Conn

	br *bufio.Reader
	bw *bufio.Writer

	enc *HPACK
	dec *HPACK

	nextID uint32

	flow         *FlowController
	maxWindow    int32
	streamWindow int32

	openStreams int32

	current Settings
	serverS Settings

	streamsMu sync.Mutex
	streams   Streams

	hdrAsm headerAssembly

	in  chan *Ctx
	out chan *FrameHeader

	pingInterval time.Duration

	unacks      int
	disableAcks bool

	lastErr      error
	lastStreamID uint32
	goingAway    atomic.Bool

	onDisconnect     func(*Conn)
	onRTT            func(time.Duration)
	onPush           func(*fasthttp.Request, uint32) bool
	sendPushUpstream bool

	closed uint64
}

// NewConn returns a new HTTP/2 connection.
// To start using the connection you need to call Handshake.
func NewConn(c net.Conn, opts ConnOpts) *Conn {
	nc := &Conn{
		c:            c,
		br:           bufio.NewReaderSize(c, 4096),
		bw:           bufio.NewWriterSize(c, int(defaultMaxFrameSize)),
		enc:          AcquireHPACK(),
		dec:          AcquireHPACK(),
		nextID:       1,
		maxWindow:    1 << 20,
		streamWindow: int32(defaultWindowSize),
		in:           make(chan *Ctx, 128),
		out:          make(chan *FrameHeader, 128),
		pingInterval: opts.PingInterval,
		disableAcks:  opts.DisablePingChecking,
		onDisconnect: opts.OnDisconnect,
		onRTT:        opts.OnRTT,
		onPush:       opts.OnPush,
	}

	nc.current.Reset()
	nc.current.SetMaxWindowSize(uint32(nc.maxWindow))
	nc.current.SetPush(!opts.DisablePush)

	if opts.MaxConcurrentStreams > 0 {
		nc.current.SetMaxConcurrentStreams(opts.MaxConcurrentStreams)
	}
	if opts.InitialWindowSize > 0 {
		nc.current.SetMaxWindowSize(opts.InitialWindowSize)
		nc.maxWindow = int32(nc.current.MaxWindowSize())
	}
	if opts.MaxFrameSize > 0 {
		nc.current.SetMaxFrameSize(opts.MaxFrameSize)
	}
	if opts.MaxHeaderListSize > 0 {
		nc.current.SetMaxHeaderListSize(opts.MaxHeaderListSize)
		nc.dec.SetMaxHeaderListSize(opts.MaxHeaderListSize)
	}

	nc.streamWindow = int32(nc.current.MaxWindowSize())
	nc.flow = NewFlowController(uint32(nc.maxWindow), uint32(nc.streamWindow))
	nc.onPush = opts.OnPush
	nc.sendPushUpstream = nc.onPush != nil

	return nc
}

// Dialer allows to create HTTP/2 connections by specifying an address and tls configuration.
type Dialer struct {
	// Addr is the server's address in the form: `host:port`.
	Addr string

	// TLSConfig is the tls configuration.
	//
	// If TLSConfig is nil, a default one will be defined on the Dial call.
	TLSConfig *tls.Config

	// PingInterval defines the interval in which the client will ping the server.
	//
	// An interval of 0 will make the library to use DefaultPingInterval. Because ping intervals can't be disabled.
	PingInterval time.Duration

	// H2C dials Addr in plaintext and performs the HTTP/1.1 Upgrade
	// handshake (h2c) instead of TLS+ALPN.
	//
	// https://tools.ietf.org/html/rfc7540#section-3.2
	H2C bool

	// PriorKnowledge dials Addr in plaintext and skips straight to the
	// connection preface, assuming the operator already knows the
	// peer speaks HTTP/2. Takes priority over H2C if both are set.
	//
	// https://tools.ietf.org/html/rfc7540#section-3.5
	PriorKnowledge bool

	// NeverForceUpgrade disables Client's automatic fallback from a
	// failed ALPN dial to an h2c Upgrade attempt. It has no effect on
	// a Dialer used directly: only Client.conn consults it.
	NeverForceUpgrade bool
}

func (d *Dialer) dialTCP() (net.Conn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", d.Addr)
	if err != nil {
		return nil, err
	}
	return net.DialTCP("tcp", nil, tcpAddr)
}

// tryDial establishes the transport connection using whichever
// handshake strategy the Dialer is configured for: prior-knowledge and
// h2c both connect in plaintext, ALPN connects over TLS. The three
// strategies are mutually exclusive; PriorKnowledge wins if more than
// one is set.
func (d *Dialer) tryDial() (net.Conn, error) {
	if d.PriorKnowledge {
		// no transport-level negotiation: Conn.Handshake writes the
		// preface and SETTINGS directly over the bare TCP connection.
		return d.dialTCP()
	}

	if d.H2C {
		c, err := d.dialTCP()
		if err != nil {
			return nil, err
		}

		host, path := d.Addr, "/"
		st := &Settings{}
		st.Reset()

		if err := upgradeH2C(c, host, path, st); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	}

	return d.tryDialALPN()
}

func (d *Dialer) tryDialALPN() (net.Conn, error) {
	if d.TLSConfig == nil || !func() bool {
		for _, proto := range d.TLSConfig.NextProtos {
			if proto == "h2" {
				return true
			}
		}

		return false
	}() {
		configureDialer(d)
	}

	c, err := d.dialTCP()
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Client(c, d.TLSConfig)

	if err := negotiateALPN(tlsConn); err != nil {
		_ = c.Close()
		return nil, err
	}

	return tlsConn, nil
}

// Dial creates an HTTP/2 connection or returns an error.
//
// An expected error is ErrServerSupport.
func (d *Dialer) Dial(opts ConnOpts) (*Conn, error) {
	c, err := d.tryDial()
	if err != nil {
		return nil, err
	}

	if opts.PingInterval == 0 {
		opts.PingInterval = d.PingInterval
	}

	nc := NewConn(c, opts)

	err = nc.Handshake()
	return nc, err
}

// SetOnDisconnect sets the callback that will fire when the HTTP/2 connection is closed.
func (c *Conn) SetOnDisconnect(cb func(*Conn)) {
	c.onDisconnect = cb
}

// LastErr returns the last registered error in case the connection was closed by the server.
func (c *Conn) LastErr() error {
	return c.lastErr
}

// Handshake will perform the necessary handshake to establish the connection
// with the server. If an error is returned you can assume the TCP connection has been closed.
//
// The preface is written unconditionally here: both the h2c and
// prior-knowledge Dial paths hand Handshake an already-upgraded
// net.Conn, and the ALPN path has never written one, so there's
// exactly one place the client preface is emitted.
func (c *Conn) Handshake() error {
	var err error

	extraWindow := c.maxWindow - int32(defaultWindowSize)
	if err = Handshake(true, c.bw, &c.current, extraWindow); err != nil {
		_ = c.c.Close()
		return err
	}

	var fr *FrameHeader

	if fr, err = ReadFrameFromWithSize(c.br, c.current.MaxFrameSize()); err == nil && fr.Type() != FrameSettings {
		_ = c.c.Close()
		return fmt.Errorf("unexpected frame, expected settings, got %s", fr.Type())
	} else if err == nil {
		st := fr.Body().(*Settings)
		if !st.IsAck() {
			st.CopyTo(&c.serverS)

			c.flow.SetInitialStreamWindow(c.serverS.MaxWindowSize())
			if st.HeaderTableSize() <= defaultHeaderTableSize {
				c.enc.SetMaxTableSize(int(st.HeaderTableSize()))
			}

			// reply back
			fr = AcquireFrameHeader()

			stRes := AcquireFrame(FrameSettings).(*Settings)
			stRes.SetAck(true)

			fr.SetBody(stRes)

			if _, err = fr.WriteTo(c.bw); err == nil {
				err = c.bw.Flush()
			}

			ReleaseFrameHeader(fr)
		}
	}

	if err != nil {
		_ = c.Close()
	} else {
		ReleaseFrameHeader(fr)

		go c.writeLoop()
		go c.readLoop()
	}

	return err
}

// CanOpenStream returns whether the client will be able to open a new stream or not.
func (c *Conn) CanOpenStream() bool {
	if c.goingAway.Load() {
		return false
	}
	return atomic.LoadInt32(&c.openStreams) < int32(c.serverS.MaxConcurrentStreams())
}

// Closed indicates whether the connection is closed or not.
func (c *Conn) Closed() bool {
	return atomic.LoadUint64(&c.closed) == 1
}

// Close closes the connection gracefully, sending a GoAway message
// with NO_ERROR and then closing the underlying TCP connection. Use
// closeWithError to report an actual failure as the GOAWAY cause.
func (c *Conn) Close() error {
	return c.closeWithError(NoError, nil)
}

// closeWithError tears the connection down, reporting code to the
// peer via GOAWAY instead of always claiming NO_ERROR, and recording
// cause (when non-nil) as the Conn's LastErr. The cause itself is not
// sent to the peer.
func (c *Conn) closeWithError(code ErrorCode, cause error) error {
	if !atomic.CompareAndSwapUint64(&c.closed, 0, 1) {
		return io.EOF
	}

	c.goingAway.Store(true)
	c.flow.Abort()
	close(c.in)

	fr := AcquireFrameHeader()
	defer ReleaseFrameHeader(fr)

	ga := AcquireFrame(FrameGoAway).(*GoAway)
	ga.SetStream(atomic.LoadUint32(&c.lastStreamID))
	ga.SetCode(code)

	fr.SetBody(ga)

	_, err := fr.WriteTo(c.bw)
	if err == nil {
		err = c.bw.Flush()
	}

	_ = c.c.Close()

	if cause != nil {
		c.lastErr = cause
	}

	if c.onDisconnect != nil {
		c.onDisconnect(c)
	}

	return err
}

// Write queues the request to be sent to the server.
//
// Check if `c` has been previously closed before accessing this function.
func (c *Conn) Write(r *Ctx) {
	c.in <- r
}

type WriteError struct {
	err error
}

func (we WriteError) Error() string {
	return fmt.Sprintf("writing error: %s", we.err)
}

func (we WriteError) Unwrap() error {
	return we.err
}

func (we WriteError) Is(target error) bool {
	return errors.Is(we.err, target)
}

func (we WriteError) As(target interface{}) bool {
	return errors.As(we.err, target)
}

func (c *Conn) writeLoop() {
	defer func() { _ = c.Close() }()

	if c.pingInterval <= 0 {
		c.pingInterval = DefaultPingInterval
	}

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	var lastErr error

loop:
	for {
		select {
		case r, ok := <-c.in: // sending requests
			if !ok {
				break loop
			}

			err := c.writeRequest(r)
			if err != nil {
				select {
				case r.Err <- err:
				default:
				}

				if errors.Is(err, ErrNotAvailableStream) {
					continue
				}

				lastErr = WriteError{err}

				break loop
			}
		case fr := <-c.out: // generic output
			if _, err := fr.WriteTo(c.bw); err == nil {
				if err = c.bw.Flush(); err != nil {
					lastErr = WriteError{err}
					ReleaseFrameHeader(fr)
					break loop
				}
			} else {
				lastErr = WriteError{err}
				ReleaseFrameHeader(fr)
				break loop
			}

			ReleaseFrameHeader(fr)
		case <-ticker.C: // ping
			if err := c.writePing(); err != nil {
				lastErr = WriteError{err}
				break loop
			}
		}

		if !c.disableAcks && c.unacks >= 3 {
			lastErr = ErrTimeout
			break loop
		}
	}

	if lastErr == nil {
		lastErr = io.EOF
	}

	// best-effort delivery to every stream still waiting on a
	// response; closeStream (run from readLoop for streams that
	// finish normally) is the only path that closes r.Err, so this
	// never double-closes a channel it also delivers to.
	c.streamsMu.Lock()
	pending := append([]*Stream(nil), c.streams.list...)
	c.streamsMu.Unlock()

	for _, s := range pending {
		if ctx, ok := s.Data().(*Ctx); ok {
			select {
			case ctx.Err <- lastErr:
			default:
			}
		}
	}
}

// registerStream opens a new local stream, wiring it into both the
// stream table and the flow controller under one lock so a concurrent
// GOAWAY/RST_STREAM can never observe one without the other.
// endStream must match the END_STREAM flag the client's own HEADERS
// frame carried, so the stream's state reflects what RFC 7540 section
// 5.1 requires immediately after opening it (open, or
// half_closed_local for a request with no body).
func (c *Conn) registerStream(id uint32, ctx *Ctx, endStream bool) *Stream {
	s := NewStream(id, int32(c.current.MaxWindowSize()), ctx)
	s.openLocal(endStream)

	c.streamsMu.Lock()
	c.streams.Insert(s)
	c.flow.OpenStream(id)
	c.streamsMu.Unlock()

	atomic.AddInt32(&c.openStreams, 1)

	return s
}

func (c *Conn) lookupStream(id uint32) *Stream {
	c.streamsMu.Lock()
	s := c.streams.Get(id)
	c.streamsMu.Unlock()
	return s
}

// closeStream removes id from the stream table, releases its flow
// control bookkeeping and delivers err (nil on a clean END_STREAM) to
// its waiting Ctx exactly once.
func (c *Conn) closeStream(id uint32, err error) {
	c.streamsMu.Lock()
	s := c.streams.Del(id)
	c.streamsMu.Unlock()

	if s == nil {
		return
	}

	if !isPushStreamID(id) {
		atomic.AddInt32(&c.openStreams, -1)
	}
	c.flow.CloseStream(id)

	if ctx, ok := s.Data().(*Ctx); ok {
		ctx.Err <- err
		close(ctx.Err)
	}

	if c.goingAway.Load() {
		c.streamsMu.Lock()
		remaining := len(c.streams.list)
		c.streamsMu.Unlock()
		if remaining == 0 {
			_ = c.Close()
		}
	}
}

// bumpLastStreamID atomically raises c.lastStreamID to id if id is
// larger than the current value, so a concurrent Close (which may run
// on either the read or write goroutine, via their deferred calls)
// always reports the highest stream this endpoint has actually
// started processing.
func (c *Conn) bumpLastStreamID(id uint32) {
	for {
		old := atomic.LoadUint32(&c.lastStreamID)
		if id <= old {
			return
		}
		if atomic.CompareAndSwapUint32(&c.lastStreamID, old, id) {
			return
		}
	}
}

// isPushStreamID reports whether id is a server-initiated (even)
// stream id; those never count against MaxConcurrentStreams, which is
// a client-initiated-stream limit.
//
// https://tools.ietf.org/html/rfc7540#section-5.1.1
func isPushStreamID(id uint32) bool {
	return id != 0 && id%2 == 0
}

func (c *Conn) readLoop() {
	defer func() { _ = c.Close() }()

	for {
		fr, err := ReadFrameFromWithSize(c.br, c.current.MaxFrameSize())
		if err != nil {
			c.lastErr = err
			if e, ok := AsHTTP2Error(err); ok && e.IsConnectionError() {
				_ = c.closeWithError(e.Code(), err)
			}
			return
		}

		if err := c.demux(fr); err != nil {
			ReleaseFrameHeader(fr)
			c.lastErr = err

			if e, ok := AsHTTP2Error(err); ok {
				if e.IsConnectionError() {
					_ = c.closeWithError(e.Code(), err)
					return
				}
				c.sendRstStream(e.Stream(), e.Code())
				continue
			}

			return
		}

		ReleaseFrameHeader(fr)
	}
}

// demux routes one received frame to its connection- or stream-level
// handler, first enforcing the header-block contiguity invariant of
// RFC 7540 section 4.3: once a HEADERS/PUSH_PROMISE without
// END_HEADERS starts a block, only a CONTINUATION frame for that same
// stream may legally follow; anything else is a connection error,
// caught here before the frame type switch so it applies no matter
// which stream (or none) the intervening frame targets.
func (c *Conn) demux(fr *FrameHeader) error {
	if c.hdrAsm.pending {
		if fr.Type() != FrameContinuation || fr.Stream() != c.hdrAsm.wireStream {
			return NewConnectionError(ProtocolError, "expected CONTINUATION to complete header block")
		}
	}

	if fr.Stream() == 0 {
		return c.handleConnFrame(fr)
	}
	return c.handleStreamFrame(fr)
}

func (c *Conn) handleConnFrame(fr *FrameHeader) error {
	switch fr.Type() {
	case FrameSettings:
		st := fr.Body().(*Settings)
		if !st.IsAck() {
			c.handleSettings(st)
		}
	case FrameWindowUpdate:
		win := int32(fr.Body().(*WindowUpdate).Increment())
		c.flow.ReplenishSend(0, win)
	case FramePing:
		ping := fr.Body().(*Ping)
		if !ping.IsAck() {
			c.handlePing(ping)
		} else {
			c.unacks--
			if c.onRTT != nil {
				c.onRTT(time.Since(ping.DataAsTime()))
			}
		}
	case FrameGoAway:
		// keep reading: streams at or below the peer's last_stream_id
		// are still owed their response, and tearing the connection
		// down here would sever them before they can finish. The
		// connection closes itself once the drain completes, in
		// closeStream.
		c.handlePeerGoAway(fr.Body().(*GoAway))
	default:
		return NewConnectionError(ProtocolError, fmt.Sprintf("unexpected %s on stream 0", fr.Type()))
	}

	return nil
}

// handlePeerGoAway implements the drain policy of RFC 7540 section 6.8:
// a peer GOAWAY does not tear down the connection immediately. Streams
// already opened with an id at or below the peer's last_stream_id are
// left alone to finish; only local streams above it are refused,
// since the peer has stated it never saw them, and no further streams
// may be opened.
func (c *Conn) handlePeerGoAway(ga *GoAway) {
	c.goingAway.Store(true)

	c.streamsMu.Lock()
	var refused []*Stream
	for _, s := range c.streams.list {
		if s.ID() > ga.Stream() {
			refused = append(refused, s)
		}
	}
	c.streamsMu.Unlock()

	for _, s := range refused {
		c.closeStream(s.ID(), NewStreamError(s.ID(), RefusedStreamError, "refused by peer GOAWAY"))
	}

	if len(refused) == 0 {
		c.streamsMu.Lock()
		remaining := len(c.streams.list)
		c.streamsMu.Unlock()
		if remaining == 0 {
			_ = c.Close()
		}
	}
}

func (c *Conn) handleStreamFrame(fr *FrameHeader) error {
	id := fr.Stream()
	c.bumpLastStreamID(id)

	s := c.lookupStream(id)
	if s == nil {
		switch fr.Type() {
		case FrameHeaders, FramePushPromise:
			// still processed: a HEADERS block for a stream no longer
			// in the table is decoded (and discarded) to keep HPACK
			// state in sync; a PUSH_PROMISE's promised id is
			// registered by handlePushPromiseFrame itself.
		case FrameResetStream, FrameWindowUpdate, FramePriority:
			return nil
		default:
			return nil
		}
	} else if !s.canReceiveFrame(fr.Type()) {
		return NewStreamError(id, StreamClosedError, fmt.Sprintf("%s not allowed in state %s", fr.Type(), s.State()))
	}

	switch fr.Type() {
	case FrameHeaders:
		h := fr.Body().(*Headers)
		c.beginHeaderBlock(id, id, false, h.EndStream())
		return c.handleHeaderFragment(h.Headers(), h.EndHeaders())
	case FramePushPromise:
		return c.handlePushPromiseFrame(id, fr.Body().(*PushPromise))
	case FrameContinuation:
		cont := fr.Body().(*Continuation)
		return c.handleHeaderFragment(cont.Headers(), cont.EndHeaders())
	case FrameWindowUpdate:
		win := int32(fr.Body().(*WindowUpdate).Increment())
		c.flow.ReplenishSend(id, win)
	case FrameData:
		return c.handleData(s, fr)
	case FrameResetStream:
		rst := fr.Body().(*RstStream)
		c.closeStream(id, rst.Error())
	case FramePriority:
		// priority reprioritization isn't implemented; ignore.
	default:
		return NewConnectionError(ProtocolError, fmt.Sprintf("unexpected %s on a stream", fr.Type()))
	}

	return nil
}

func (c *Conn) beginHeaderBlock(wireStream, target uint32, isPush, endStream bool) {
	c.hdrAsm.pending = true
	c.hdrAsm.wireStream = wireStream
	c.hdrAsm.target = target
	c.hdrAsm.isPush = isPush
	c.hdrAsm.endStream = endStream
	c.hdrAsm.buf = c.hdrAsm.buf[:0]
}

// handleHeaderFragment appends one HEADERS/PUSH_PROMISE/CONTINUATION
// fragment to the in-flight block and, once endHeaders closes it,
// decodes the whole concatenation in a single HPACK call.
func (c *Conn) handleHeaderFragment(b []byte, endHeaders bool) error {
	c.hdrAsm.buf = append(c.hdrAsm.buf, b...)
	if !endHeaders {
		return nil
	}

	asm := c.hdrAsm
	c.hdrAsm = headerAssembly{}

	if asm.isPush {
		return c.finishPushPromise(asm)
	}
	return c.finishHeaders(asm)
}

func (c *Conn) finishHeaders(asm headerAssembly) error {
	s := c.lookupStream(asm.target)
	if s == nil {
		return c.readHeader(asm.buf, nil)
	}

	ctx, _ := s.Data().(*Ctx)

	var res *fasthttp.Response
	if ctx != nil {
		res = ctx.Response
	}

	if err := c.readHeader(asm.buf, res); err != nil {
		if e, ok := AsHTTP2Error(err); ok {
			return e
		}
		return NewStreamError(asm.target, CompressionError, err.Error())
	}

	if s.State() == StreamStateReservedRemote {
		s.SetState(StreamStateHalfClosedLocal)
	}

	if asm.endStream {
		s.endStreamRemote()
		c.closeStream(asm.target, nil)
	}

	return nil
}

// handlePushPromiseFrame validates and records the start of a pushed
// stream. Acceptance requires push to be enabled locally; refusal is
// signaled with RST_STREAM(REFUSED_STREAM) on the promised id, per
// RFC 7540 section 8.2.2, rather than silently dropping the frame.
func (c *Conn) handlePushPromiseFrame(parent uint32, pp *PushPromise) error {
	promised := pp.PromisedStreamID()

	if !c.current.Push() || c.goingAway.Load() {
		c.sendRstStream(promised, RefusedStreamError)
		c.beginHeaderBlock(parent, promised, true, false)
		return c.handleHeaderFragment(pp.Headers(), pp.EndHeaders())
	}

	ps := NewStream(promised, int32(c.current.MaxWindowSize()), nil)
	ps.reserveRemote()

	c.streamsMu.Lock()
	c.streams.Insert(ps)
	c.streamsMu.Unlock()
	c.flow.OpenStream(promised)

	c.beginHeaderBlock(parent, promised, true, false)
	return c.handleHeaderFragment(pp.Headers(), pp.EndHeaders())
}

func (c *Conn) finishPushPromise(asm headerAssembly) error {
	fields, err := c.dec.DecodeFields(asm.buf)
	if err != nil {
		return NewConnectionError(CompressionError, err.Error())
	}

	s := c.lookupStream(asm.target)
	if s == nil {
		return nil
	}

	req := fasthttp.AcquireRequest()
	applyPushRequestFields(fields, req)

	accept := c.sendPushUpstream && c.onPush != nil && c.onPush(req, asm.target)
	if !accept {
		fasthttp.ReleaseRequest(req)
		c.closeStream(asm.target, nil)
		return nil
	}

	pushCtx := AcquireCtx(req, fasthttp.AcquireResponse())
	pushCtx.SetStream(asm.target)
	s.SetData(pushCtx)
	return nil
}

// applyPushRequestFields copies the decoded pseudo/regular header
// fields of a PUSH_PROMISE into req, mirroring readHeader's handling
// of a HEADERS block but writing into a Request instead of a Response.
func applyPushRequestFields(fields []hpack.HeaderField, req *fasthttp.Request) {
	for _, f := range fields {
		if len(f.Name) > 0 && f.Name[0] == ':' {
			switch f.Name[1:] {
			case "method":
				req.Header.SetMethod(f.Value)
			case "path":
				req.URI().SetPath(f.Value)
			case "authority":
				req.URI().SetHost(f.Value)
			case "scheme":
				req.URI().SetScheme(f.Value)
			}
			continue
		}
		req.Header.Add(f.Name, f.Value)
	}
}

// handleData applies one DATA frame's payload to s's response and
// restores the receive windows it consumed, both connection- and
// stream-scoped, per RFC 7540 section 6.9.1's "restore below half"
// policy.
func (c *Conn) handleData(s *Stream, fr *FrameHeader) error {
	data := fr.Body().(*Data)

	connWin := c.flow.ConsumeRecv(int32(fr.Len()))
	streamWin := c.flow.ConsumeRecvStream(fr.Stream(), int32(fr.Len()))
	if connWin < 0 {
		return NewConnectionError(FlowControlError, "peer exceeded the connection receive window")
	}
	if streamWin < 0 {
		return NewStreamError(fr.Stream(), FlowControlError, "peer exceeded the stream receive window")
	}

	var ctx *Ctx
	if s != nil {
		ctx, _ = s.Data().(*Ctx)
	}

	if data.Len() != 0 && ctx != nil {
		ctx.Response.AppendBody(data.Data())
	}

	if connWin < c.maxWindow/2 {
		nValue := c.maxWindow - connWin
		c.flow.ReplenishRecv(nValue)
		c.updateWindow(0, int(nValue))
	}

	if streamWin < c.streamWindow/2 {
		nValue := c.streamWindow - streamWin
		c.flow.ReplenishRecvStream(fr.Stream(), nValue)
		c.updateWindow(fr.Stream(), int(nValue))
	}

	if data.EndStream() && s != nil {
		s.endStreamRemote()
		c.closeStream(fr.Stream(), nil)
	}

	return nil
}

// sendRstStream queues a RST_STREAM(code) for id. It is the client's
// only source of RST_STREAM: emitted when a stream-scoped protocol
// error is detected, or to refuse a PUSH_PROMISE received while push
// is disabled locally or the connection is going away. A push the
// application declines through OnPush is closed locally without one.
func (c *Conn) sendRstStream(id uint32, code ErrorCode) {
	fr := AcquireFrameHeader()
	fr.SetStream(id)

	rst := AcquireFrame(FrameResetStream).(*RstStream)
	rst.SetCode(code)

	fr.SetBody(rst)

	select {
	case c.out <- fr:
	default:
		ReleaseFrameHeader(fr)
	}
}

func (c *Conn) writeRequest(r *Ctx) error {
	if !c.CanOpenStream() {
		return ErrNotAvailableStream
	}

	req := r.Request
	hasBody := len(req.Body()) != 0

	enc := c.enc

	id := c.nextID
	c.nextID += 2

	// register before writing, so the stream's send window exists for
	// writeData and a fast response or WINDOW_UPDATE finds the stream.
	r.SetStream(id)
	c.registerStream(id, r, !hasBody)

	fr := AcquireFrameHeader()
	defer ReleaseFrameHeader(fr)

	fr.SetStream(id)

	h := AcquireFrame(FrameHeaders).(*Headers)
	fr.SetBody(h)

	hf := AcquireHeaderField()

	hf.SetBytes(StringAuthority, req.URI().Host())
	enc.AppendHeaderField(h, hf, true)

	hf.SetBytes(StringMethod, req.Header.Method())
	enc.AppendHeaderField(h, hf, true)

	hf.SetBytes(StringPath, req.URI().RequestURI())
	enc.AppendHeaderField(h, hf, true)

	hf.SetBytes(StringScheme, req.URI().Scheme())
	enc.AppendHeaderField(h, hf, true)

	hf.SetBytes(StringUserAgent, req.Header.UserAgent())
	enc.AppendHeaderField(h, hf, true)

	req.Header.VisitAll(func(k, v []byte) {
		if bytes.EqualFold(k, StringUserAgent) {
			return
		}

		hf.SetBytes(ToLower(k), v)
		enc.AppendHeaderField(h, hf, false)
	})

	h.SetPadding(false)
	h.SetEndStream(!hasBody)
	h.SetEndHeaders(true)

	_, err := fr.WriteTo(c.bw)
	if err == nil && hasBody {
		// release headers bc it's going to get replaced by the data frame
		ReleaseFrame(h)

		err = c.writeData(fr, req.Body())
	}

	if err == nil {
		err = c.bw.Flush()
	}

	ReleaseHeaderField(hf)

	if err != nil {
		c.lastErr = err
		return err
	}

	return nil
}

// writeData splits body into frame-sized DATA chunks and writes them
// to c.bw, blocking in FlowController.AcquireSend before each chunk
// until the connection and stream send windows have room for it. A
// body larger than the peer's advertised window no longer writes
// through a negative window; it waits for the WINDOW_UPDATE that
// replenishes it, and gives up if the connection is torn down first.
func (c *Conn) writeData(fh *FrameHeader, body []byte) (err error) {
	data := AcquireFrame(FrameData).(*Data)
	fh.SetBody(data)

	id := fh.Stream()
	maxStep := int32(c.current.MaxFrameSize())

	for len(body) > 0 && err == nil {
		want := int32(len(body))
		if want > maxStep {
			want = maxStep
		}

		granted := c.flow.AcquireSend(id, want)
		if granted <= 0 {
			return ErrConnClosed
		}

		chunk := body[:granted]
		body = body[granted:]

		data.SetEndStream(len(body) == 0)
		data.SetPadding(false)
		data.SetData(chunk)

		_, err = fh.WriteTo(c.bw)
	}

	return err
}

var ErrTimeout = errors.New("server is not replying to pings")

func (c *Conn) writePing() error {
	fr := AcquireFrameHeader()
	defer ReleaseFrameHeader(fr)

	ping := AcquireFrame(FramePing).(*Ping)
	ping.SetCurrentTime()

	fr.SetBody(ping)

	_, err := fr.WriteTo(c.bw)
	if err == nil {
		err = c.bw.Flush()
		if err == nil {
			c.unacks++
		}
	}

	return err
}

func (c *Conn) handleSettings(st *Settings) {
	st.CopyTo(&c.serverS)

	c.flow.SetInitialStreamWindow(c.serverS.MaxWindowSize())
	c.enc.SetMaxTableSize(int(st.HeaderTableSize()))

	// reply back
	fr := AcquireFrameHeader()

	stRes := AcquireFrame(FrameSettings).(*Settings)
	stRes.SetAck(true)

	fr.SetBody(stRes)

	c.out <- fr
}

func (c *Conn) handlePing(ping *Ping) {
	// reply back with a fresh Ping: the one passed in belongs to the
	// FrameHeader its caller is about to release.
	fr := AcquireFrameHeader()

	pong := AcquireFrame(FramePing).(*Ping)
	pong.SetData(ping.Data())
	pong.SetAck(true)

	fr.SetBody(pong)

	c.out <- fr
}

func (c *Conn) updateWindow(streamID uint32, size int) {
	if size <= 0 {
		return
	}

	fr := AcquireFrameHeader()

	fr.SetStream(streamID)

	wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	wu.SetIncrement(size)

	fr.SetBody(wu)

	c.out <- fr
}

// readHeader decodes a complete HEADERS block and, when res is
// non-nil, applies its fields to it. res is nil when the stream is no
// longer tracked, e.g. a pushed response the application declined:
// the HPACK decode still has to happen to keep the decoder's dynamic
// table in sync with the peer, but there's nowhere to deliver the
// result.
func (c *Conn) readHeader(b []byte, res *fasthttp.Response) error {
	fields, err := c.dec.DecodeFields(b)
	if err != nil {
		return err
	}

	if res == nil {
		return nil
	}

	for _, f := range fields {
		if len(f.Name) > 0 && f.Name[0] == ':' {
			if f.Name[1] == 's' { // :status
				n, err := strconv.ParseInt(f.Value, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid :status %q: %w", f.Value, err)
				}

				res.SetStatusCode(int(n))
			}
			continue
		}

		if f.Name == "content-length" {
			n, _ := strconv.Atoi(f.Value)
			res.Header.SetContentLength(n)
		} else {
			res.Header.Add(f.Name, f.Value)
		}
	}

	return nil
}
