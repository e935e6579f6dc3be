package http2

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// http2Preface is the connection preface every HTTP/2 client must
// send before the first SETTINGS frame.
//
// https://tools.ietf.org/html/rfc7540#section-3.5
var http2Preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// DefaultPingInterval is used when ConnOpts.PingInterval is zero.
const DefaultPingInterval = 8 * time.Second

// ErrUpgradeDeclined is returned by the h2c Upgrade handshake when the
// server answers the Upgrade request with anything other than
// 101 Switching Protocols, meaning it doesn't support HTTP/2 over
// plaintext.
var ErrUpgradeDeclined = errors.New("http2: server declined h2c upgrade")

// WritePreface writes the client connection preface to bw. The
// caller is responsible for flushing.
func WritePreface(bw *bufio.Writer) error {
	_, err := bw.Write(http2Preface)
	return err
}

// ReadPreface reads and validates the connection preface from r,
// returning ErrBadPreface if the bytes read don't match.
func ReadPreface(r io.Reader) error {
	b := make([]byte, len(http2Preface))
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	for i := range b {
		if b[i] != http2Preface[i] {
			return ErrBadPreface
		}
	}
	return nil
}

// negotiateALPN runs the TLS handshake on conn and confirms the peer
// selected h2 during it, returning ErrServerSupport otherwise. It
// is the entry point for the ALPN-based handshake path; h2c upgrade
// and prior-knowledge plaintext connections skip it and go straight
// to Handshake on an already-established net.Conn.
func negotiateALPN(conn *tls.Conn) error {
	if err := conn.Handshake(); err != nil {
		return err
	}
	if p := conn.ConnectionState().NegotiatedProtocol; p != H2TLSProto {
		return ErrServerSupport
	}
	return nil
}

// upgradeRequest builds the HTTP/1.1 request that asks the server to
// switch to h2c, per RFC 7540 section 3.2: an Upgrade: h2c request
// carrying the client's initial SETTINGS, base64url-encoded without
// padding, in the HTTP2-Settings header.
//
// https://tools.ietf.org/html/rfc7540#section-3.2
func upgradeRequest(host, path string, st *Settings) []byte {
	settingsPayload := st.payload(nil)
	enc := base64.RawURLEncoding.EncodeToString(settingsPayload)

	var b bytes.Buffer
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	b.WriteString("Connection: Upgrade, HTTP2-Settings\r\n")
	b.WriteString("Upgrade: h2c\r\n")
	fmt.Fprintf(&b, "HTTP2-Settings: %s\r\n", enc)
	b.WriteString("\r\n")

	return b.Bytes()
}

// readHTTP1Line reads a single CRLF-terminated line directly off c,
// one byte at a time. It deliberately avoids a bufio.Reader: buffering
// ahead here would risk swallowing bytes that belong to the HTTP/2
// preface/SETTINGS frame the server starts writing immediately after
// its 101 response, which Conn's own bufio.Reader must see untouched.
func readHTTP1Line(c net.Conn) (string, error) {
	var line []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(c, b[:]); err != nil {
			return "", err
		}
		if b[0] == '\n' {
			break
		}
		if b[0] != '\r' {
			line = append(line, b[0])
		}
	}
	return string(line), nil
}

// upgradeH2C performs the client side of the HTTP/1.1 Upgrade
// handshake (h2c) on c, an already-connected plaintext net.Conn, for
// the given request authority/path. On success the caller still owes
// the HTTP/2 connection preface and initial SETTINGS frame (the
// Upgrade request only carries SETTINGS via the HTTP2-Settings
// header, as a preview of what the preface-following SETTINGS frame
// will repeat); a non-101 response returns ErrUpgradeDeclined with the
// status line preserved.
//
// https://tools.ietf.org/html/rfc7540#section-3.2
func upgradeH2C(c net.Conn, host, path string, st *Settings) error {
	if _, err := c.Write(upgradeRequest(host, path, st)); err != nil {
		return err
	}

	status, err := readHTTP1Line(c)
	if err != nil {
		return err
	}
	if !bytes.Contains([]byte(status), []byte(" 101 ")) {
		return fmt.Errorf("%w: %s", ErrUpgradeDeclined, status)
	}

	// drain the remaining 101 response header lines (none are required
	// beyond the status line, but a compliant proxy may add its own).
	for {
		line, err := readHTTP1Line(c)
		if err != nil {
			return err
		}
		if line == "" {
			break
		}
	}

	return nil
}
