package http2

import (
	"errors"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

// Options toggle optional client behavior.
type Options int8

const (
	// OptionEnableCompression makes the client advertise
	// Accept-Encoding and transparently decode gzip/deflate/br
	// response bodies.
	OptionEnableCompression Options = iota
)

// Client is a pooled HTTP/2 transport suitable for assigning to
// fasthttp.HostClient.Transport. It keeps a single underlying Conn
// alive and transparently redials after a disconnect.
type Client struct {
	d *Dialer

	onRTT func(time.Duration)

	enableCompression bool

	mu sync.Mutex
	c  *Conn
}

// NewClient returns a Client that dials through d lazily, on the
// first call to Do.
func NewClient(d *Dialer) *Client {
	return &Client{d: d}
}

// ConfigureClient configures hc to run over HTTP/2: it negotiates
// ALPN on hc.Addr and, on success, assigns a *Client's Do method as
// hc.Transport. When the server does not select h2 (ErrServerSupport),
// it removes the "h2" entry from hc.TLSConfig.NextProtos and clears a
// ServerName that was empty before the call, so callers can fall back
// to HTTP/1.1; other errors leave hc.TLSConfig as the dial left it.
func ConfigureClient(hc *fasthttp.HostClient, opts ...Options) error {
	emptyServerName := hc.TLSConfig != nil && len(hc.TLSConfig.ServerName) == 0

	d := &Dialer{Addr: hc.Addr, TLSConfig: hc.TLSConfig}

	c, err := d.Dial(ConnOpts{})
	if err != nil {
		if err == ErrServerSupport && hc.TLSConfig != nil { // undo configureDialer's mutations
			for i := range hc.TLSConfig.NextProtos {
				if hc.TLSConfig.NextProtos[i] == "h2" {
					hc.TLSConfig.NextProtos = append(hc.TLSConfig.NextProtos[:i], hc.TLSConfig.NextProtos[i+1:]...)
					break
				}
			}
			if emptyServerName {
				hc.TLSConfig.ServerName = ""
			}
		}
		return err
	}
	_ = c.Close()

	hc.IsTLS = true
	hc.TLSConfig = d.TLSConfig

	cl := NewClient(d)
	for _, opt := range opts {
		if opt == OptionEnableCompression {
			cl.enableCompression = true
		}
	}

	hc.Transport = cl.Do

	return nil
}

func (cl *Client) conn() (*Conn, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.c != nil && !cl.c.Closed() {
		return cl.c, nil
	}

	opts := ConnOpts{
		OnRTT: cl.onRTT,
	}
	opts.OnDisconnect = func(c *Conn) {
		cl.mu.Lock()
		if cl.c == c {
			cl.c = nil
		}
		cl.mu.Unlock()
	}

	c, err := cl.d.Dial(opts)
	if err != nil {
		if errors.Is(err, ErrServerSupport) && !cl.d.NeverForceUpgrade && !cl.d.H2C && !cl.d.PriorKnowledge {
			// the peer didn't select h2 over ALPN; fall back to asking
			// for h2c over plaintext in case it speaks HTTP/2 without
			// TLS support, instead of giving up on HTTP/2 entirely.
			fallback := *cl.d
			fallback.H2C = true

			c, err = fallback.Dial(opts)
			if err != nil {
				return nil, err
			}
			cl.c = c
			return c, nil
		}
		return nil, err
	}

	cl.c = c
	return c, nil
}

// Do sends req over the underlying HTTP/2 connection into res,
// (re)dialing as needed. Do matches fasthttp's RoundTripper func
// signature so it can be assigned to HostClient.Transport directly.
func (cl *Client) Do(req *fasthttp.Request, res *fasthttp.Response) error {
	c, err := cl.conn()
	if err != nil {
		return err
	}

	if cl.enableCompression && len(req.Header.Peek("Accept-Encoding")) == 0 {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}

	ctx := AcquireCtx(req, res)

	c.Write(ctx)

	if err = <-ctx.Err; err != nil {
		return err
	}

	if cl.enableCompression {
		decodeContentEncoding(res)
	}

	return nil
}

func decodeContentEncoding(res *fasthttp.Response) {
	encoding := res.Header.Peek("Content-Encoding")
	if len(encoding) == 0 {
		return
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	var (
		n   int
		err error
	)
	switch encoding[0] {
	case 'b':
		n, err = fasthttp.WriteUnbrotli(bb, res.Body())
	case 'd':
		n, err = fasthttp.WriteInflate(bb, res.Body())
	case 'g':
		n, err = fasthttp.WriteGunzip(bb, res.Body())
	}
	if err == nil && n > 0 {
		res.SetBody(bb.B)
	}
}
