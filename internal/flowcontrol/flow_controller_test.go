package flowcontrol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quivy/quic/internal/protocol"
)

func TestSendWindow(t *testing.T) {
	fc := NewConnectionFlowController(1000, 500)
	require.Equal(t, protocol.ByteCount(500), fc.SendWindowSize())

	fc.AddBytesSent(200)
	require.Equal(t, protocol.ByteCount(300), fc.SendWindowSize())

	// window updates only ever move forward
	fc.UpdateSendWindow(800)
	require.Equal(t, protocol.ByteCount(600), fc.SendWindowSize())
	fc.UpdateSendWindow(700)
	require.Equal(t, protocol.ByteCount(600), fc.SendWindowSize())
}

func TestSendWindowNeverNegative(t *testing.T) {
	// data sent before the peer's transport parameters arrive
	fc := NewConnectionFlowController(1000, 0)
	fc.AddBytesSent(100)
	require.Zero(t, fc.SendWindowSize())
}

func TestConnectionReceiveWindowEnforcement(t *testing.T) {
	fc := NewConnectionFlowController(1000, 0)
	require.NoError(t, fc.IncrementHighestReceived(600))
	require.NoError(t, fc.IncrementHighestReceived(400))
	require.Error(t, fc.IncrementHighestReceived(1))
}

func TestStreamReceiveWindowEnforcement(t *testing.T) {
	fc := NewStreamFlowController(4, 1000, 0)
	increment, err := fc.UpdateHighestReceived(600)
	require.NoError(t, err)
	require.Equal(t, protocol.ByteCount(600), increment)

	// retransmissions don't count twice
	increment, err = fc.UpdateHighestReceived(500)
	require.NoError(t, err)
	require.Zero(t, increment)

	increment, err = fc.UpdateHighestReceived(1000)
	require.NoError(t, err)
	require.Equal(t, protocol.ByteCount(400), increment)

	_, err = fc.UpdateHighestReceived(1001)
	require.Error(t, err)
}

func TestWindowUpdate(t *testing.T) {
	fc := NewStreamFlowController(4, 1000, 0)
	_, err := fc.UpdateHighestReceived(400)
	require.NoError(t, err)
	fc.AddBytesRead(400)

	// more than half the window left, no update yet
	offset := fc.GetWindowUpdate()
	require.Zero(t, offset)

	_, err = fc.UpdateHighestReceived(600)
	require.NoError(t, err)
	fc.AddBytesRead(200)
	offset = fc.GetWindowUpdate()
	require.Equal(t, protocol.ByteCount(1600), offset)

	// no new data read, no new update
	require.Zero(t, fc.GetWindowUpdate())
}
