// Package quic implements a QUIC (draft-18) transport endpoint.
package quic

import (
	"errors"

	"github.com/quivy/quic/internal/handshake"
	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/qerr"
	"github.com/quivy/quic/internal/wire"
)

// ErrInvalidState is returned when an operation is not allowed in the
// connection's current state.
var ErrInvalidState = errors.New("invalid connection state")

// ErrIdleTimeout is the handshake failure reason when the connection expired
// without any peer activity.
var ErrIdleTimeout = errors.New("idle timeout")

// State is the state of a connection.
// Client connections move BeforeInitial → BeforeHello → BeforeHandshake →
// Ready, server connections Started → BeforeReady → Ready. Both end up in
// Closing → Closed.
type State uint8

const (
	// StateBeforeInitial is a client connection before the handshake was started
	StateBeforeInitial State = iota
	// StateBeforeHello is a client that sent its Initial and waits for the ServerHello
	StateBeforeHello
	// StateBeforeHandshake is a client that installed the Handshake keys and waits for the server handshake
	StateBeforeHandshake
	// StateStarted is a server connection that hasn't received a valid Initial yet
	StateStarted
	// StateBeforeReady is a server that sent its handshake and waits for the client Finished
	StateBeforeReady
	// StateReady is an established connection
	StateReady
	// StateClosing is a connection that is being torn down
	StateClosing
	// StateClosed is a dead connection
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBeforeInitial:
		return "BeforeInitial"
	case StateBeforeHello:
		return "BeforeHello"
	case StateBeforeHandshake:
		return "BeforeHandshake"
	case StateStarted:
		return "Started"
	case StateBeforeReady:
		return "BeforeReady"
	case StateReady:
		return "Ready"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "unknown"
	}
}

// A PacketSender puts packets on the wire.
// It may be shared between connections and must be safe for concurrent use.
type PacketSender interface {
	// Send serializes and sends a packet, sealed with the given AEAD.
	// The AEAD is nil for Retry and Version Negotiation packets.
	Send(p Packet, aead *handshake.AEAD) error
	// Destroy releases the underlying transport
	Destroy() error
}

// A StreamListener is called with ordered stream data.
type StreamListener interface {
	// OnData delivers the next chunk of contiguous stream bytes.
	// fin is true when this chunk ends the stream.
	OnData(s *Stream, data []byte, fin bool)
	// OnReset is called when the peer abruptly terminated the stream
	OnReset(s *Stream, errorCode uint16)
}

// A FrameSender lets pipeline handlers and streams emit frames on the
// connection, and close it.
type FrameSender interface {
	// Send wraps the frames in a packet at the highest available encryption
	// level and sends it
	Send(frames ...wire.Frame) (FullPacket, error)
	// CloseConnection sends a CONNECTION_CLOSE and tears the connection down
	CloseConnection(code qerr.ErrorCode, frameType uint64, reason string) error
}

// A FlowControlHandler is invoked before each send and after each receive to
// do credit accounting. It may emit MAX_DATA / MAX_STREAM_DATA frames via the
// FrameSender.
type FlowControlHandler interface {
	OnReceivePacket(p FullPacket, fs FrameSender)
	BeforeSendPacket(p Packet, fs FrameSender)
	// UpdatePeerLimits installs the peer's transport parameters once known
	UpdatePeerLimits(tp *handshake.TransportParameters)
}

// An InboundHandler is a stage of the inbound pipeline
type InboundHandler interface {
	// OnReceivePacket processes a packet. Calling ctx.Next passes the packet
	// on to the following stage; not calling it drops the packet.
	OnReceivePacket(p Packet, ctx PipelineContext)
}

// PipelineContext is handed to pipeline stages.
type PipelineContext interface {
	FrameSender
	// Next passes the packet to the next inbound stage
	Next(p Packet)
	// State returns the connection state
	State() State
	// SetState transitions the connection
	SetState(s State)
	// Version is the connection's QUIC version
	Version() protocol.Version
}
