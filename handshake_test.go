package http2

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpgradeH2CSendsRequestAndAcceptsSwitchingProtocols(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	st := &Settings{}
	st.Reset()

	done := make(chan error, 1)
	go func() {
		done <- upgradeH2C(client, "example.com", "/", st)
	}()

	br := bufio.NewReader(server)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "GET / HTTP/1.1\r\n", line)

	var sawUpgrade, sawSettings bool
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
		if line == "Upgrade: h2c\r\n" {
			sawUpgrade = true
		}
		if len(line) > len("HTTP2-Settings: ") && line[:len("HTTP2-Settings: ")] == "HTTP2-Settings: " {
			sawSettings = true
		}
	}
	require.True(t, sawUpgrade)
	require.True(t, sawSettings)

	_, err = server.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: h2c\r\n\r\n"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("upgradeH2C never returned")
	}
}

func TestUpgradeH2CReturnsErrUpgradeDeclinedOnNon101(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	st := &Settings{}
	st.Reset()

	done := make(chan error, 1)
	go func() {
		done <- upgradeH2C(client, "example.com", "/", st)
	}()

	br := bufio.NewReader(server)
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	_, err := server.Write([]byte("HTTP/1.1 426 Upgrade Required\r\n\r\n"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrUpgradeDeclined)
	case <-time.After(time.Second):
		t.Fatal("upgradeH2C never returned")
	}
}

func TestUpgradeRequestEncodesSettingsAsBase64URL(t *testing.T) {
	st := &Settings{}
	st.Reset()

	req := upgradeRequest("example.com", "/foo", st)
	s := string(req)

	require.Contains(t, s, "GET /foo HTTP/1.1\r\n")
	require.Contains(t, s, "Host: example.com\r\n")
	require.Contains(t, s, "Connection: Upgrade, HTTP2-Settings\r\n")
	require.Contains(t, s, "Upgrade: h2c\r\n")
	require.Contains(t, s, "HTTP2-Settings: ")
	require.NotContains(t, s, "+")
	require.NotContains(t, s, "=")
}
