package http2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHPACKRoundTrip(t *testing.T) {
	enc := AcquireHPACK()
	defer ReleaseHPACK(enc)
	dec := AcquireHPACK()
	defer ReleaseHPACK(dec)

	h := AcquireFrame(FrameHeaders).(*Headers)
	defer ReleaseFrame(h)

	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	hf.SetBytes([]byte(":method"), []byte("GET"))
	enc.AppendHeaderField(h, hf, true)

	hf.SetBytes([]byte(":path"), []byte("/"))
	enc.AppendHeaderField(h, hf, true)

	hf.SetBytes([]byte("authorization"), []byte("secret"))
	enc.AppendHeaderField(h, hf, false)

	fields, err := dec.DecodeFields(h.Headers())
	require.NoError(t, err)
	require.Len(t, fields, 3)

	require.Equal(t, ":method", fields[0].Name)
	require.Equal(t, "GET", fields[0].Value)

	require.Equal(t, ":path", fields[1].Name)
	require.Equal(t, "/", fields[1].Value)

	require.Equal(t, "authorization", fields[2].Name)
	require.Equal(t, "secret", fields[2].Value)
	require.True(t, fields[2].Sensitive, "authorization field must be marked sensitive")
}

func TestHPACKMaxHeaderListSize(t *testing.T) {
	enc := AcquireHPACK()
	defer ReleaseHPACK(enc)
	dec := AcquireHPACK()
	defer ReleaseHPACK(dec)
	dec.SetMaxHeaderListSize(40)

	h := AcquireFrame(FrameHeaders).(*Headers)
	defer ReleaseFrame(h)

	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)
	hf.SetBytes([]byte(":path"), []byte("/some/long/enough/path/to/exceed"))
	enc.AppendHeaderField(h, hf, true)

	_, err := dec.DecodeFields(h.Headers())
	require.Error(t, err, "expected header list size error")
}

func TestHPACKSetMaxTableSize(t *testing.T) {
	hp := AcquireHPACK()
	defer ReleaseHPACK(hp)
	hp.SetMaxTableSize(0)

	h := AcquireFrame(FrameHeaders).(*Headers)
	defer ReleaseFrame(h)

	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)
	hf.SetBytes([]byte(":method"), []byte("GET"))
	hp.AppendHeaderField(h, hf, true)

	require.NotEmpty(t, h.Headers(), "expected encoded bytes even with a zero-size dynamic table")
}
