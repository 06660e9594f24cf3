// Package logging defines a logging interface for quivy.
// This package should not be considered stable.
package logging

import (
	"github.com/quivy/quic/internal/protocol"
)

type (
	// A ByteCount is used to count bytes.
	ByteCount = protocol.ByteCount
	// A ConnectionID is a QUIC Connection ID.
	ConnectionID = protocol.ConnectionID
	// An EncryptionLevel is the encryption level of a packet.
	EncryptionLevel = protocol.EncryptionLevel
	// A PacketNumber is the packet number of a packet.
	PacketNumber = protocol.PacketNumber
	// A PacketType is the type of a QUIC packet.
	PacketType = protocol.PacketType
	// A Perspective is the role of a QUIC endpoint (client or server).
	Perspective = protocol.Perspective
	// A Version is a QUIC version.
	Version = protocol.Version
)

// PacketDropReason is the reason a packet is dropped
type PacketDropReason uint8

const (
	// PacketDropDecryptionFailed is used when a packet could not be decrypted
	PacketDropDecryptionFailed PacketDropReason = iota
	// PacketDropUnexpectedState is used when a packet arrives in a state that can't process it
	PacketDropUnexpectedState
	// PacketDropInvalidToken is used by the server when the address validation token is missing or invalid
	PacketDropInvalidToken
	// PacketDropParseError is used when a packet or its payload could not be parsed
	PacketDropParseError
)

func (r PacketDropReason) String() string {
	switch r {
	case PacketDropDecryptionFailed:
		return "decryption_failed"
	case PacketDropUnexpectedState:
		return "unexpected_state"
	case PacketDropInvalidToken:
		return "invalid_token"
	case PacketDropParseError:
		return "parse_error"
	default:
		return "unknown"
	}
}

// A Tracer traces events at endpoint scope and hands out per-connection tracers.
type Tracer interface {
	// TracerForConnection requests a new tracer for a connection.
	// odcid is the original destination connection ID chosen by the client.
	// It may return nil if the connection should not be traced.
	TracerForConnection(p Perspective, odcid ConnectionID) ConnectionTracer
}

// A ConnectionTracer records events happening on one QUIC connection.
type ConnectionTracer interface {
	StartedConnection(local, remote ConnectionID)
	SentPacket(t PacketType, pn PacketNumber, size ByteCount)
	ReceivedPacket(t PacketType, pn PacketNumber, size ByteCount)
	DroppedPacket(t PacketType, reason PacketDropReason)
	UpdatedKey(encLevel EncryptionLevel)
	UpdatedConnectionState(state string)
	ClosedConnection(err error)
	Close()
}

// The NullTracer is a Tracer that does nothing.
type NullTracer struct{}

// TracerForConnection returns a NullConnectionTracer
func (n NullTracer) TracerForConnection(Perspective, ConnectionID) ConnectionTracer {
	return NullConnectionTracer{}
}

// The NullConnectionTracer is a ConnectionTracer that does nothing.
type NullConnectionTracer struct{}

// StartedConnection does nothing
func (n NullConnectionTracer) StartedConnection(local, remote ConnectionID) {}

// SentPacket does nothing
func (n NullConnectionTracer) SentPacket(PacketType, PacketNumber, ByteCount) {}

// ReceivedPacket does nothing
func (n NullConnectionTracer) ReceivedPacket(PacketType, PacketNumber, ByteCount) {}

// DroppedPacket does nothing
func (n NullConnectionTracer) DroppedPacket(PacketType, PacketDropReason) {}

// UpdatedKey does nothing
func (n NullConnectionTracer) UpdatedKey(EncryptionLevel) {}

// UpdatedConnectionState does nothing
func (n NullConnectionTracer) UpdatedConnectionState(string) {}

// ClosedConnection does nothing
func (n NullConnectionTracer) ClosedConnection(error) {}

// Close does nothing
func (n NullConnectionTracer) Close() {}
