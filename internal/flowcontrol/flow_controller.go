package flowcontrol

import (
	"fmt"
	"sync"

	"github.com/quivy/quic/internal/protocol"
)

type baseFlowController struct {
	mutex sync.Mutex

	bytesSent  protocol.ByteCount
	sendWindow protocol.ByteCount

	bytesRead         protocol.ByteCount
	highestReceived   protocol.ByteCount
	receiveWindow     protocol.ByteCount
	receiveWindowSize protocol.ByteCount
}

// AddBytesSent records bytes put on the wire
func (c *baseFlowController) AddBytesSent(n protocol.ByteCount) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.bytesSent += n
}

// UpdateSendWindow is called after receiving a MAX_DATA / MAX_STREAM_DATA frame.
func (c *baseFlowController) UpdateSendWindow(offset protocol.ByteCount) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if offset > c.sendWindow {
		c.sendWindow = offset
	}
}

// SendWindowSize is the number of bytes that can still be sent
func (c *baseFlowController) SendWindowSize() protocol.ByteCount {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	// data may be sent before the peer's transport parameters arrive
	if c.bytesSent > c.sendWindow {
		return 0
	}
	return c.sendWindow - c.bytesSent
}

// AddBytesRead records bytes delivered to the application
func (c *baseFlowController) AddBytesRead(n protocol.ByteCount) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.bytesRead += n
}

// GetWindowUpdate returns the new receive window offset if an update should
// be sent, and 0 otherwise. Less than half the window remaining triggers one.
func (c *baseFlowController) GetWindowUpdate() protocol.ByteCount {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.receiveWindow-c.bytesRead >= c.receiveWindowSize/2 {
		return 0
	}
	c.receiveWindow = c.bytesRead + c.receiveWindowSize
	return c.receiveWindow
}

// A ConnectionFlowController does connection-level byte accounting.
type ConnectionFlowController struct {
	baseFlowController
}

// NewConnectionFlowController creates a connection-level flow controller.
// receiveWindow is what we advertise, sendWindow what the peer advertised.
func NewConnectionFlowController(receiveWindow, sendWindow protocol.ByteCount) *ConnectionFlowController {
	return &ConnectionFlowController{baseFlowController{
		receiveWindow:     receiveWindow,
		receiveWindowSize: receiveWindow,
		sendWindow:        sendWindow,
	}}
}

// IncrementHighestReceived adds to the sum of the highest received offsets of
// all streams. It errors if the connection-level window is exceeded.
func (c *ConnectionFlowController) IncrementHighestReceived(n protocol.ByteCount) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.highestReceived += n
	if c.highestReceived > c.receiveWindow {
		return fmt.Errorf("peer exceeded connection flow control window (received %d bytes, allowed %d)", c.highestReceived, c.receiveWindow)
	}
	return nil
}

// A StreamFlowController does stream-level byte accounting.
type StreamFlowController struct {
	baseFlowController
	streamID protocol.StreamID
}

// NewStreamFlowController creates a stream-level flow controller
func NewStreamFlowController(streamID protocol.StreamID, receiveWindow, sendWindow protocol.ByteCount) *StreamFlowController {
	return &StreamFlowController{
		baseFlowController: baseFlowController{
			receiveWindow:     receiveWindow,
			receiveWindowSize: receiveWindow,
			sendWindow:        sendWindow,
		},
		streamID: streamID,
	}
}

// UpdateHighestReceived records the highest received offset on the stream.
// It returns the number of newly received bytes, for connection-level
// accounting, and errors if the stream-level window is exceeded.
func (c *StreamFlowController) UpdateHighestReceived(offset protocol.ByteCount) (protocol.ByteCount, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if offset <= c.highestReceived {
		return 0, nil
	}
	increment := offset - c.highestReceived
	c.highestReceived = offset
	if c.highestReceived > c.receiveWindow {
		return 0, fmt.Errorf("peer exceeded flow control window of stream %d (received %d bytes, allowed %d)", c.streamID, c.highestReceived, c.receiveWindow)
	}
	return increment, nil
}
