package http2

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newTestConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	c := NewConn(client, ConnOpts{})

	c.serverS.Reset()
	c.serverS.SetMaxConcurrentStreams(100)

	return c, server
}

func encodeFields(t *testing.T, c *Conn, fields [][2]string) []byte {
	t.Helper()

	h := AcquireFrame(FrameHeaders).(*Headers)
	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	for _, f := range fields {
		hf.SetBytes([]byte(f[0]), []byte(f[1]))
		c.enc.AppendHeaderField(h, hf, true)
	}

	return append([]byte(nil), h.Headers()...)
}

func buildHeadersFrame(streamID uint32, payload []byte, endHeaders, endStream bool) *FrameHeader {
	fr := AcquireFrameHeader()
	fr.SetStream(streamID)

	var flags FrameFlags
	if endHeaders {
		flags = flags.Add(FlagEndHeaders)
	}
	if endStream {
		flags = flags.Add(FlagEndStream)
	}
	fr.SetFlags(flags)
	fr.setPayload(payload)

	h := AcquireFrame(FrameHeaders).(*Headers)
	if err := h.Deserialize(fr); err != nil {
		panic(err)
	}
	fr.SetBody(h)

	return fr
}

func buildContinuationFrame(streamID uint32, payload []byte, endHeaders bool) *FrameHeader {
	fr := AcquireFrameHeader()
	fr.SetStream(streamID)

	var flags FrameFlags
	if endHeaders {
		flags = flags.Add(FlagEndHeaders)
	}
	fr.SetFlags(flags)
	fr.setPayload(payload)

	cont := AcquireFrame(FrameContinuation).(*Continuation)
	if err := cont.Deserialize(fr); err != nil {
		panic(err)
	}
	fr.SetBody(cont)

	return fr
}

func buildPushPromiseFrame(parentID, promisedID uint32, headerBlock []byte, endHeaders bool) *FrameHeader {
	fr := AcquireFrameHeader()
	fr.SetStream(parentID)

	var flags FrameFlags
	if endHeaders {
		flags = flags.Add(FlagEndHeaders)
	}
	fr.SetFlags(flags)

	payload := make([]byte, 4, 4+len(headerBlock))
	binary.BigEndian.PutUint32(payload, promisedID)
	payload = append(payload, headerBlock...)
	fr.setPayload(payload)

	pp := AcquireFrame(FramePushPromise).(*PushPromise)
	if err := pp.Deserialize(fr); err != nil {
		panic(err)
	}
	fr.SetBody(pp)

	return fr
}

func buildWindowUpdateFrame(streamID uint32, increment int) *FrameHeader {
	fr := AcquireFrameHeader()
	fr.SetStream(streamID)

	wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	wu.SetIncrement(increment)
	fr.SetBody(wu)

	return fr
}

func TestConnAssemblesHeaderBlockAcrossContinuation(t *testing.T) {
	c, _ := newTestConn(t)

	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	ctx := AcquireCtx(req, res)

	c.registerStream(1, ctx, true)

	block := encodeFields(t, c, [][2]string{
		{":status", "200"},
		{"content-type", "text/plain"},
	})
	split := len(block) / 2

	fr1 := buildHeadersFrame(1, block[:split], false, true)
	require.NoError(t, c.demux(fr1))
	require.True(t, c.hdrAsm.pending, "header block must stay pending until END_HEADERS")

	fr2 := buildContinuationFrame(1, block[split:], true)
	require.NoError(t, c.demux(fr2))
	require.False(t, c.hdrAsm.pending)

	require.Equal(t, 200, res.StatusCode())
	require.Equal(t, "text/plain", string(res.Header.Peek("content-type")))

	select {
	case err := <-ctx.Err:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ctx.Err never received a value after END_STREAM")
	}

	require.Nil(t, c.lookupStream(1), "stream must be removed once closed")
}

func TestConnRejectsOtherFrameDuringPendingHeaderBlock(t *testing.T) {
	c, _ := newTestConn(t)

	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	ctx := AcquireCtx(req, res)
	c.registerStream(1, ctx, true)

	block := encodeFields(t, c, [][2]string{{":status", "200"}})
	fr1 := buildHeadersFrame(1, block, false, false)
	require.NoError(t, c.demux(fr1))

	intruder := buildWindowUpdateFrame(1, 100)
	err := c.demux(intruder)
	require.Error(t, err)

	e, ok := AsHTTP2Error(err)
	require.True(t, ok)
	require.True(t, e.IsConnectionError())
	require.Equal(t, ProtocolError, e.Code())
}

func TestConnPushPromiseAcceptedDeliversToOnPush(t *testing.T) {
	c, _ := newTestConn(t)
	c.current.SetPush(true)

	var gotPath string
	c.onPush = func(req *fasthttp.Request, promisedID uint32) bool {
		gotPath = string(req.URI().Path())
		return true
	}
	c.sendPushUpstream = true

	parentReq := fasthttp.AcquireRequest()
	parentRes := fasthttp.AcquireResponse()
	c.registerStream(1, AcquireCtx(parentReq, parentRes), true)

	reqBlock := encodeFields(t, c, [][2]string{
		{":method", "GET"},
		{":path", "/style.css"},
		{":authority", "example.com"},
		{":scheme", "https"},
	})

	ppFr := buildPushPromiseFrame(1, 2, reqBlock, true)
	require.NoError(t, c.demux(ppFr))
	require.Equal(t, "/style.css", gotPath)

	pushed := c.lookupStream(2)
	require.NotNil(t, pushed)
	pushCtx, ok := pushed.Data().(*Ctx)
	require.True(t, ok)

	respBlock := encodeFields(t, c, [][2]string{{":status", "200"}})
	respFr := buildHeadersFrame(2, respBlock, true, true)
	require.NoError(t, c.demux(respFr))

	select {
	case err := <-pushCtx.Err:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pushed ctx.Err never received a value")
	}
}

func TestConnPushPromiseRefusedWhenPushDisabled(t *testing.T) {
	c, _ := newTestConn(t)
	c.current.SetPush(false)

	parentReq := fasthttp.AcquireRequest()
	parentRes := fasthttp.AcquireResponse()
	c.registerStream(1, AcquireCtx(parentReq, parentRes), true)

	reqBlock := encodeFields(t, c, [][2]string{
		{":method", "GET"},
		{":path", "/style.css"},
	})

	ppFr := buildPushPromiseFrame(1, 2, reqBlock, true)
	require.NoError(t, c.demux(ppFr))

	select {
	case fr := <-c.out:
		require.Equal(t, FrameResetStream, fr.Type())
		require.EqualValues(t, 2, fr.Stream())
		rst := fr.Body().(*RstStream)
		require.Equal(t, RefusedStreamError, rst.Code())
	case <-time.After(time.Second):
		t.Fatal("expected an RST_STREAM to be queued refusing the push")
	}

	require.Nil(t, c.lookupStream(2), "a refused push must not register a stream")
}

func TestConnHandlePeerGoAwayDrainsOnlyRefusesAboveLastStreamID(t *testing.T) {
	c, _ := newTestConn(t)

	keepCtx := AcquireCtx(fasthttp.AcquireRequest(), fasthttp.AcquireResponse())
	c.registerStream(1, keepCtx, true)

	refuseCtx := AcquireCtx(fasthttp.AcquireRequest(), fasthttp.AcquireResponse())
	c.registerStream(3, refuseCtx, true)

	ga := AcquireFrame(FrameGoAway).(*GoAway)
	ga.SetStream(1)
	ga.SetCode(NoError)

	c.handlePeerGoAway(ga)

	require.NotNil(t, c.lookupStream(1), "stream below last_stream_id must be left alone to finish")
	require.Nil(t, c.lookupStream(3), "stream above last_stream_id must be refused")

	select {
	case err := <-refuseCtx.Err:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("refused stream never got an error delivered")
	}

	require.True(t, c.goingAway.Load())
	require.False(t, c.CanOpenStream(), "no new streams once going away")
}

func TestConnSendRstStreamQueuesFrame(t *testing.T) {
	c, _ := newTestConn(t)

	c.sendRstStream(5, CancelError)

	select {
	case fr := <-c.out:
		require.Equal(t, FrameResetStream, fr.Type())
		require.EqualValues(t, 5, fr.Stream())
		require.Equal(t, CancelError, fr.Body().(*RstStream).Code())
	case <-time.After(time.Second):
		t.Fatal("sendRstStream never queued a frame")
	}
}

func TestConnDataAppliesFlowControlAndEndStream(t *testing.T) {
	c, _ := newTestConn(t)
	c.maxWindow = 1 << 20
	c.streamWindow = 1 << 16

	res := fasthttp.AcquireResponse()
	ctx := AcquireCtx(fasthttp.AcquireRequest(), res)
	s := c.registerStream(1, ctx, true)
	s.SetState(StreamStateOpen)

	fr := AcquireFrameHeader()
	fr.SetStream(1)
	fr.SetFlags(FlagEndStream)
	fr.setPayload([]byte("hello"))
	fr.length = len(fr.payload)

	data := AcquireFrame(FrameData).(*Data)
	require.NoError(t, data.Deserialize(fr))
	fr.SetBody(data)

	require.NoError(t, c.handleData(s, fr))
	require.Equal(t, "hello", string(res.Body()))
	require.EqualValues(t, 1<<20-5, c.flow.ConnRecv())

	select {
	case err := <-ctx.Err:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ctx.Err never received a value after DATA with END_STREAM")
	}
}
