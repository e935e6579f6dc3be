package http2

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestNewClientDoesNotDialEagerly(t *testing.T) {
	cl := NewClient(&Dialer{Addr: "127.0.0.1:0"})
	require.Nil(t, cl.c, "NewClient must not dial before the first Do")
}

func TestDecodeContentEncodingGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	res.Header.Set("Content-Encoding", "gzip")
	res.SetBody(buf.Bytes())

	decodeContentEncoding(res)

	require.Equal(t, "hello world", string(res.Body()))
}

func TestDecodeContentEncodingNoop(t *testing.T) {
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	res.SetBody([]byte("plain"))
	decodeContentEncoding(res)

	require.Equal(t, "plain", string(res.Body()))
}
