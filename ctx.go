package http2

import (
	"github.com/valyala/fasthttp"
)

// Ctx pairs one fasthttp request/response with the channel the
// session uses to hand back the terminal error (nil on a clean
// END_STREAM). A Conn only ever reads Request and writes Response
// and Err; Request and Response must outlive the call to Conn.Write
// until Err is received.
//
// A Ctx's place in the HTTP/2 stream state machine is tracked by the
// *Stream registered for its stream id in Conn.streams, not by Ctx
// itself: Ctx is just the request/response pair plus the completion
// channel, and is attached to its Stream via Stream.SetData.
type Ctx struct {
	streamID uint32

	Request  *fasthttp.Request
	Response *fasthttp.Response
	Err      chan error
}

// AcquireCtx returns a Ctx ready to be queued on a Conn.
func AcquireCtx(req *fasthttp.Request, res *fasthttp.Response) *Ctx {
	return &Ctx{
		Request:  req,
		Response: res,
		Err:      make(chan error, 1),
	}
}

func (ctx *Ctx) Stream() uint32 {
	return ctx.streamID
}

func (ctx *Ctx) SetStream(sid uint32) {
	ctx.streamID = sid
}
