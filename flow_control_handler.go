package quic

import (
	"sync"

	"github.com/quivy/quic/internal/flowcontrol"
	"github.com/quivy/quic/internal/handshake"
	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/qerr"
	"github.com/quivy/quic/internal/utils"
	"github.com/quivy/quic/internal/wire"
)

// flowControlHandler does connection and stream level credit accounting.
// It emits MAX_DATA / MAX_STREAM_DATA frames when the windows run low, and
// closes the connection when the peer oversteps its credit.
type flowControlHandler struct {
	mutex sync.Mutex

	perspective protocol.Perspective
	config      *Config

	connection *flowcontrol.ConnectionFlowController
	streams    map[protocol.StreamID]*flowcontrol.StreamFlowController

	peerParams *handshake.TransportParameters
}

var _ FlowControlHandler = &flowControlHandler{}

// NewFlowControlHandler creates the default flow control handler
func NewFlowControlHandler(perspective protocol.Perspective, config *Config) FlowControlHandler {
	return &flowControlHandler{
		perspective: perspective,
		config:      config,
		connection:  flowcontrol.NewConnectionFlowController(config.InitialMaxData, 0),
		streams:     make(map[protocol.StreamID]*flowcontrol.StreamFlowController),
	}
}

// UpdatePeerLimits installs the peer's advertised windows
func (h *flowControlHandler) UpdatePeerLimits(tp *handshake.TransportParameters) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.peerParams = tp
	h.connection.UpdateSendWindow(tp.InitialMaxData)
	for id, fc := range h.streams {
		fc.UpdateSendWindow(h.peerSendWindow(id))
	}
}

// OnReceivePacket updates the receive counters and emits window updates
func (h *flowControlHandler) OnReceivePacket(p FullPacket, fs FrameSender) {
	var updates []wire.Frame
	for _, f := range p.Frames() {
		switch frame := f.(type) {
		case *wire.StreamFrame:
			fc := h.streamController(frame.StreamID)
			increment, err := fc.UpdateHighestReceived(frame.Offset + frame.DataLen())
			if err != nil {
				utils.Errorf("%s", err)
				fs.CloseConnection(qerr.FlowControlError, 0, err.Error())
				return
			}
			// bytes are delivered to the listener right away
			fc.AddBytesRead(increment)
			if err := h.connection.IncrementHighestReceived(increment); err != nil {
				utils.Errorf("%s", err)
				fs.CloseConnection(qerr.FlowControlError, 0, err.Error())
				return
			}
			h.connection.AddBytesRead(increment)

			if offset := fc.GetWindowUpdate(); offset != 0 {
				updates = append(updates, &wire.MaxStreamDataFrame{StreamID: frame.StreamID, MaximumStreamData: offset})
			}
			if offset := h.connection.GetWindowUpdate(); offset != 0 {
				updates = append(updates, &wire.MaxDataFrame{MaximumData: offset})
			}
		case *wire.MaxDataFrame:
			h.connection.UpdateSendWindow(frame.MaximumData)
		case *wire.MaxStreamDataFrame:
			h.streamController(frame.StreamID).UpdateSendWindow(frame.MaximumStreamData)
		}
	}
	if len(updates) > 0 {
		if _, err := fs.Send(updates...); err != nil {
			utils.Errorf("sending window updates failed: %s", err)
		}
	}
}

// BeforeSendPacket accounts the stream bytes about to leave
func (h *flowControlHandler) BeforeSendPacket(p Packet, _ FrameSender) {
	fp, ok := p.(FullPacket)
	if !ok {
		return
	}
	for _, f := range fp.Frames() {
		if frame, ok := f.(*wire.StreamFrame); ok {
			h.streamController(frame.StreamID).AddBytesSent(frame.DataLen())
			h.connection.AddBytesSent(frame.DataLen())
		}
	}
}

func (h *flowControlHandler) streamController(id protocol.StreamID) *flowcontrol.StreamFlowController {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	fc, ok := h.streams[id]
	if !ok {
		fc = flowcontrol.NewStreamFlowController(id, h.receiveWindow(id), h.peerSendWindow(id))
		h.streams[id] = fc
	}
	return fc
}

// receiveWindow is the window we advertise for this stream
func (h *flowControlHandler) receiveWindow(id protocol.StreamID) protocol.ByteCount {
	if id.Type() == protocol.StreamTypeUni {
		return h.config.InitialMaxStreamDataUni
	}
	if id.InitiatedBy() == h.perspective {
		return h.config.InitialMaxStreamDataBidiLocal
	}
	return h.config.InitialMaxStreamDataBidiRemote
}

// peerSendWindow is the window the peer advertised for this stream
func (h *flowControlHandler) peerSendWindow(id protocol.StreamID) protocol.ByteCount {
	if h.peerParams == nil {
		return 0
	}
	if id.Type() == protocol.StreamTypeUni {
		return h.peerParams.InitialMaxStreamDataUni
	}
	// the peer's "local" is our "remote"
	if id.InitiatedBy() == h.perspective {
		return h.peerParams.InitialMaxStreamDataBidiRemote
	}
	return h.peerParams.InitialMaxStreamDataBidiLocal
}

// MockFlowControlHandler is a no-op flow control handler. For testing.
type MockFlowControlHandler struct{}

var _ FlowControlHandler = &MockFlowControlHandler{}

// OnReceivePacket does nothing
func (MockFlowControlHandler) OnReceivePacket(FullPacket, FrameSender) {}

// BeforeSendPacket does nothing
func (MockFlowControlHandler) BeforeSendPacket(Packet, FrameSender) {}

// UpdatePeerLimits does nothing
func (MockFlowControlHandler) UpdatePeerLimits(*handshake.TransportParameters) {}
