package http2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamOpenLocalTransitions(t *testing.T) {
	s := NewStream(1, 65535, nil)
	require.Equal(t, StreamStateIdle, s.State())

	s.openLocal(false)
	require.Equal(t, StreamStateOpen, s.State())

	s2 := NewStream(3, 65535, nil)
	s2.openLocal(true)
	require.Equal(t, StreamStateHalfClosedLocal, s2.State())
}

func TestStreamReserveRemoteThenEndStream(t *testing.T) {
	s := NewStream(2, 65535, nil)
	s.reserveRemote()
	require.Equal(t, StreamStateReservedRemote, s.State())

	// the promised stream's own HEADERS carries END_STREAM only for a
	// trailers-less, bodyless pushed response.
	s.endStreamRemote()
	require.Equal(t, StreamStateClosed, s.State())
}

func TestStreamEndStreamRemoteFromOpen(t *testing.T) {
	s := NewStream(1, 65535, nil)
	s.openLocal(false)
	require.Equal(t, StreamStateOpen, s.State())

	s.endStreamRemote()
	require.Equal(t, StreamStateHalfClosedRemote, s.State())
}

func TestStreamCanReceiveFrameMatchesRFCMatrix(t *testing.T) {
	idle := NewStream(1, 65535, nil)
	require.True(t, idle.canReceiveFrame(FrameHeaders))
	require.True(t, idle.canReceiveFrame(FramePushPromise))
	require.False(t, idle.canReceiveFrame(FrameData))

	reserved := NewStream(2, 65535, nil)
	reserved.reserveRemote()
	require.True(t, reserved.canReceiveFrame(FrameHeaders))
	require.True(t, reserved.canReceiveFrame(FrameResetStream))
	require.False(t, reserved.canReceiveFrame(FrameData))

	halfClosedRemote := NewStream(1, 65535, nil)
	halfClosedRemote.openLocal(false)
	halfClosedRemote.endStreamRemote()
	require.True(t, halfClosedRemote.canReceiveFrame(FrameWindowUpdate))
	require.True(t, halfClosedRemote.canReceiveFrame(FrameResetStream))
	require.False(t, halfClosedRemote.canReceiveFrame(FrameData))

	closed := NewStream(1, 65535, nil)
	closed.reset()
	require.True(t, closed.canReceiveFrame(FrameResetStream))
	require.True(t, closed.canReceiveFrame(FrameWindowUpdate))
	require.False(t, closed.canReceiveFrame(FrameHeaders))

	open := NewStream(1, 65535, nil)
	open.openLocal(false)
	require.True(t, open.canReceiveFrame(FrameData))
	require.True(t, open.canReceiveFrame(FrameHeaders))
}
