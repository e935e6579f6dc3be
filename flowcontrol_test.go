package http2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlowControllerAcquireSendGrantsImmediatelyWhenAvailable(t *testing.T) {
	fc := NewFlowController(1<<16, 1<<16)
	fc.OpenStream(1)

	got := fc.AcquireSend(1, 1000)
	require.EqualValues(t, 1000, got)
}

func TestFlowControllerAcquireSendCapsAtWindow(t *testing.T) {
	fc := NewFlowController(500, 1<<16)
	fc.OpenStream(1)

	got := fc.AcquireSend(1, 1000)
	require.EqualValues(t, 500, got, "grant must not exceed the smaller of the two windows")
}

func TestFlowControllerAcquireSendBlocksUntilReplenished(t *testing.T) {
	fc := NewFlowController(0, 0)
	fc.OpenStream(1)

	done := make(chan int32, 1)
	go func() {
		done <- fc.AcquireSend(1, 100)
	}()

	select {
	case <-done:
		t.Fatal("AcquireSend returned before any window was available")
	case <-time.After(30 * time.Millisecond):
	}

	fc.ReplenishSend(1, 50)
	fc.ReplenishSend(0, 50)

	select {
	case got := <-done:
		require.EqualValues(t, 50, got)
	case <-time.After(time.Second):
		t.Fatal("AcquireSend never woke up after ReplenishSend")
	}
}

func TestFlowControllerAbortUnblocksWaiters(t *testing.T) {
	fc := NewFlowController(0, 0)
	fc.OpenStream(1)

	done := make(chan int32, 1)
	go func() {
		done <- fc.AcquireSend(1, 100)
	}()

	time.Sleep(20 * time.Millisecond)
	fc.Abort()

	select {
	case got := <-done:
		require.EqualValues(t, 0, got)
	case <-time.After(time.Second):
		t.Fatal("AcquireSend never woke up after Abort")
	}
}

func TestFlowControllerSetInitialStreamWindowShiftsOpenStreams(t *testing.T) {
	fc := NewFlowController(1<<20, 65535)
	fc.OpenStream(1)

	fc.SetInitialStreamWindow(100)

	got := fc.AcquireSend(1, 1000)
	require.EqualValues(t, 100, got)
}

func TestFlowControllerRecvWindowTracksDeficit(t *testing.T) {
	fc := NewFlowController(1000, 1000)
	fc.OpenStream(1)

	remaining := fc.ConsumeRecv(600)
	require.EqualValues(t, 400, remaining)

	streamRemaining := fc.ConsumeRecvStream(1, 600)
	require.EqualValues(t, 400, streamRemaining)

	fc.ReplenishRecv(600)
	require.EqualValues(t, 1000, fc.ConnRecv())

	fc.ReplenishRecvStream(1, 600)
}
