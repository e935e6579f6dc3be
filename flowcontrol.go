package http2

import "sync"

// FlowController tracks HTTP/2 flow-control windows for one
// connection and its streams, in both directions: how much unacked
// DATA we are still allowed to send (send windows, replenished by
// WINDOW_UPDATE frames from the peer) and how much headroom we have
// promised the peer for data it sends us (receive windows, topped up
// by WINDOW_UPDATE frames we emit). Both directions are tracked at
// the connection level and per stream, the four windows RFC 7540
// section 6.9 requires.
//
// https://tools.ietf.org/html/rfc7540#section-6.9
type FlowController struct {
	mu   sync.Mutex
	cond *sync.Cond

	connSend int32
	connRecv int32

	initialStreamSend int32
	initialStreamRecv int32

	streamSend map[uint32]int32
	streamRecv map[uint32]int32

	aborted bool
}

// NewFlowController builds a FlowController. connInitial seeds both
// connection-level windows; streamInitial seeds the initial per-stream
// send window (overridden later by the peer's
// SETTINGS_INITIAL_WINDOW_SIZE via SetInitialStreamWindow) and the
// per-stream receive window we advertise for our own flow control.
func NewFlowController(connInitial, streamInitial uint32) *FlowController {
	fc := &FlowController{
		connSend:          int32(connInitial),
		connRecv:          int32(connInitial),
		initialStreamSend: int32(streamInitial),
		initialStreamRecv: int32(streamInitial),
		streamSend:        make(map[uint32]int32),
		streamRecv:        make(map[uint32]int32),
	}
	fc.cond = sync.NewCond(&fc.mu)
	return fc
}

// OpenStream registers id with the currently negotiated initial send
// and receive windows.
func (fc *FlowController) OpenStream(id uint32) {
	fc.mu.Lock()
	fc.streamSend[id] = fc.initialStreamSend
	fc.streamRecv[id] = fc.initialStreamRecv
	fc.mu.Unlock()
}

// CloseStream drops id's tracked windows; it no longer consumes
// connection-level bookkeeping once the stream is closed.
func (fc *FlowController) CloseStream(id uint32) {
	fc.mu.Lock()
	delete(fc.streamSend, id)
	delete(fc.streamRecv, id)
	fc.mu.Unlock()
	fc.cond.Broadcast()
}

// SetInitialStreamWindow applies a SETTINGS_INITIAL_WINDOW_SIZE
// change received from the peer: every currently open stream's send
// window shifts by the delta between the old and new value.
//
// https://tools.ietf.org/html/rfc7540#section-6.9.2
func (fc *FlowController) SetInitialStreamWindow(size uint32) {
	fc.mu.Lock()
	delta := int32(size) - fc.initialStreamSend
	fc.initialStreamSend = int32(size)
	for id, w := range fc.streamSend {
		fc.streamSend[id] = w + delta
	}
	fc.mu.Unlock()
	fc.cond.Broadcast()
}

// ReplenishSend applies a WINDOW_UPDATE received from the peer: id
// zero targets the connection window, any other value a stream's.
func (fc *FlowController) ReplenishSend(id uint32, increment int32) {
	fc.mu.Lock()
	if id == 0 {
		fc.connSend += increment
	} else {
		fc.streamSend[id] += increment
	}
	fc.mu.Unlock()
	fc.cond.Broadcast()
}

// AcquireSend blocks until at least one byte of send window is
// available to stream id (the minimum of the connection and stream
// windows), then atomically consumes up to want bytes of it and
// returns how much was granted. It returns 0 once Abort has been
// called, the signal that writeData should give up because the
// connection is closing.
func (fc *FlowController) AcquireSend(id uint32, want int32) int32 {
	fc.mu.Lock()
	for !fc.aborted && (fc.connSend <= 0 || fc.streamSend[id] <= 0) {
		fc.cond.Wait()
	}
	if fc.aborted {
		fc.mu.Unlock()
		return 0
	}

	avail := fc.connSend
	if sw := fc.streamSend[id]; sw < avail {
		avail = sw
	}
	if avail > want {
		avail = want
	}

	fc.connSend -= avail
	fc.streamSend[id] -= avail
	fc.mu.Unlock()
	return avail
}

// Abort wakes every goroutine blocked in AcquireSend so it can give up
// instead of waiting forever for a WINDOW_UPDATE that will never
// arrive once the connection is closing.
func (fc *FlowController) Abort() {
	fc.mu.Lock()
	fc.aborted = true
	fc.mu.Unlock()
	fc.cond.Broadcast()
}

// ConsumeRecv deducts n from the connection receive window as DATA
// arrives and reports the window remaining afterward. A negative
// result means the peer sent more than the connection window
// allowed, a connection-level FLOW_CONTROL_ERROR.
func (fc *FlowController) ConsumeRecv(n int32) int32 {
	fc.mu.Lock()
	fc.connRecv -= n
	remaining := fc.connRecv
	fc.mu.Unlock()
	return remaining
}

// ReplenishRecv credits the connection receive window after emitting
// a WINDOW_UPDATE to the peer.
func (fc *FlowController) ReplenishRecv(n int32) {
	fc.mu.Lock()
	fc.connRecv += n
	fc.mu.Unlock()
}

// ConnRecv returns the current connection receive window. It exists
// for tests and diagnostics; production code should prefer the
// return value of ConsumeRecv to avoid a second lock round trip.
func (fc *FlowController) ConnRecv() int32 {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.connRecv
}

// ConsumeRecvStream deducts n from stream id's receive window as DATA
// for that stream arrives and reports the window remaining
// afterward. A negative result means the peer violated the
// stream-level window, a stream-scoped FLOW_CONTROL_ERROR.
func (fc *FlowController) ConsumeRecvStream(id uint32, n int32) int32 {
	fc.mu.Lock()
	w := fc.streamRecv[id] - n
	fc.streamRecv[id] = w
	fc.mu.Unlock()
	return w
}

// ReplenishRecvStream credits stream id's receive window after
// emitting a stream-level WINDOW_UPDATE to the peer.
func (fc *FlowController) ReplenishRecvStream(id uint32, n int32) {
	fc.mu.Lock()
	fc.streamRecv[id] += n
	fc.mu.Unlock()
}
