package quic

import (
	"bytes"
	"fmt"

	"github.com/quivy/quic/internal/handshake"
	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/wire"
)

// A Packet is a parsed or to-be-sent QUIC packet.
type Packet interface {
	Type() protocol.PacketType
	DestinationConnectionID() protocol.ConnectionID
	SourceConnectionID() protocol.ConnectionID
	// Write serializes the packet, sealing the payload with the given AEAD.
	// Retry and Version Negotiation packets are written without an AEAD.
	Write(b *bytes.Buffer, aead *handshake.AEAD) error
}

// A FullPacket is a packet carrying a numbered payload of frames.
type FullPacket interface {
	Packet
	PacketNumber() protocol.PacketNumber
	Frames() []wire.Frame
	EncryptionLevel() protocol.EncryptionLevel
}

// An InitialPacket carries the token and the first CRYPTO frames
type InitialPacket struct {
	Version    protocol.Version
	DestConnID protocol.ConnectionID
	SrcConnID  protocol.ConnectionID
	Token      []byte
	PacketNum  protocol.PacketNumber
	Payload    []wire.Frame
}

var _ FullPacket = &InitialPacket{}

// Type returns the packet type
func (p *InitialPacket) Type() protocol.PacketType { return protocol.PacketTypeInitial }

// DestinationConnectionID returns the destination connection ID
func (p *InitialPacket) DestinationConnectionID() protocol.ConnectionID { return p.DestConnID }

// SourceConnectionID returns the source connection ID
func (p *InitialPacket) SourceConnectionID() protocol.ConnectionID { return p.SrcConnID }

// PacketNumber returns the packet number
func (p *InitialPacket) PacketNumber() protocol.PacketNumber { return p.PacketNum }

// Frames returns the payload frames
func (p *InitialPacket) Frames() []wire.Frame { return p.Payload }

// EncryptionLevel returns the encryption level of the packet
func (p *InitialPacket) EncryptionLevel() protocol.EncryptionLevel { return protocol.EncryptionInitial }

// Write seals and serializes the packet
func (p *InitialPacket) Write(b *bytes.Buffer, aead *handshake.AEAD) error {
	hdr := &wire.Header{
		IsLongHeader:     true,
		Type:             protocol.PacketTypeInitial,
		Version:          p.Version,
		DestConnectionID: p.DestConnID,
		SrcConnectionID:  p.SrcConnID,
		Token:            p.Token,
		PacketNumber:     p.PacketNum,
	}
	return writeNumberedPacket(b, hdr, p.Payload, p.PacketNum, aead, p.Version)
}

func (p *InitialPacket) String() string {
	return fmt.Sprintf("Initial{dest: %s, src: %s, pn: %d, token: %d bytes}", p.DestConnID, p.SrcConnID, p.PacketNum, len(p.Token))
}

// A HandshakePacket carries CRYPTO frames at the Handshake level
type HandshakePacket struct {
	Version    protocol.Version
	DestConnID protocol.ConnectionID
	SrcConnID  protocol.ConnectionID
	PacketNum  protocol.PacketNumber
	Payload    []wire.Frame
}

var _ FullPacket = &HandshakePacket{}

// Type returns the packet type
func (p *HandshakePacket) Type() protocol.PacketType { return protocol.PacketTypeHandshake }

// DestinationConnectionID returns the destination connection ID
func (p *HandshakePacket) DestinationConnectionID() protocol.ConnectionID { return p.DestConnID }

// SourceConnectionID returns the source connection ID
func (p *HandshakePacket) SourceConnectionID() protocol.ConnectionID { return p.SrcConnID }

// PacketNumber returns the packet number
func (p *HandshakePacket) PacketNumber() protocol.PacketNumber { return p.PacketNum }

// Frames returns the payload frames
func (p *HandshakePacket) Frames() []wire.Frame { return p.Payload }

// EncryptionLevel returns the encryption level of the packet
func (p *HandshakePacket) EncryptionLevel() protocol.EncryptionLevel {
	return protocol.EncryptionHandshake
}

// Write seals and serializes the packet
func (p *HandshakePacket) Write(b *bytes.Buffer, aead *handshake.AEAD) error {
	hdr := &wire.Header{
		IsLongHeader:     true,
		Type:             protocol.PacketTypeHandshake,
		Version:          p.Version,
		DestConnectionID: p.DestConnID,
		SrcConnectionID:  p.SrcConnID,
		PacketNumber:     p.PacketNum,
	}
	return writeNumberedPacket(b, hdr, p.Payload, p.PacketNum, aead, p.Version)
}

func (p *HandshakePacket) String() string {
	return fmt.Sprintf("Handshake{dest: %s, src: %s, pn: %d}", p.DestConnID, p.SrcConnID, p.PacketNum)
}

// A ShortPacket is a 1-RTT packet carrying application frames
type ShortPacket struct {
	DestConnID protocol.ConnectionID
	PacketNum  protocol.PacketNumber
	Payload    []wire.Frame
}

var _ FullPacket = &ShortPacket{}

// Type returns the packet type
func (p *ShortPacket) Type() protocol.PacketType { return protocol.PacketType1RTT }

// DestinationConnectionID returns the destination connection ID
func (p *ShortPacket) DestinationConnectionID() protocol.ConnectionID { return p.DestConnID }

// SourceConnectionID returns nil: short headers don't carry a source connection ID
func (p *ShortPacket) SourceConnectionID() protocol.ConnectionID { return nil }

// PacketNumber returns the packet number
func (p *ShortPacket) PacketNumber() protocol.PacketNumber { return p.PacketNum }

// Frames returns the payload frames
func (p *ShortPacket) Frames() []wire.Frame { return p.Payload }

// EncryptionLevel returns the encryption level of the packet
func (p *ShortPacket) EncryptionLevel() protocol.EncryptionLevel { return protocol.Encryption1RTT }

// Write seals and serializes the packet
func (p *ShortPacket) Write(b *bytes.Buffer, aead *handshake.AEAD) error {
	hdr := &wire.Header{
		DestConnectionID: p.DestConnID,
		PacketNumber:     p.PacketNum,
	}
	return writeNumberedPacket(b, hdr, p.Payload, p.PacketNum, aead, protocol.VersionUnknown)
}

func (p *ShortPacket) String() string {
	return fmt.Sprintf("Short{dest: %s, pn: %d}", p.DestConnID, p.PacketNum)
}

// A RetryPacket carries an address validation token. It is not encrypted.
type RetryPacket struct {
	Version        protocol.Version
	DestConnID     protocol.ConnectionID
	SrcConnID      protocol.ConnectionID
	OrigDestConnID protocol.ConnectionID
	Token          []byte
}

var _ Packet = &RetryPacket{}

// Type returns the packet type
func (p *RetryPacket) Type() protocol.PacketType { return protocol.PacketTypeRetry }

// DestinationConnectionID returns the destination connection ID
func (p *RetryPacket) DestinationConnectionID() protocol.ConnectionID { return p.DestConnID }

// SourceConnectionID returns the source connection ID
func (p *RetryPacket) SourceConnectionID() protocol.ConnectionID { return p.SrcConnID }

// Write serializes the packet
func (p *RetryPacket) Write(b *bytes.Buffer, _ *handshake.AEAD) error {
	hdr := &wire.Header{
		IsLongHeader:         true,
		Type:                 protocol.PacketTypeRetry,
		Version:              p.Version,
		DestConnectionID:     p.DestConnID,
		SrcConnectionID:      p.SrcConnID,
		OrigDestConnectionID: p.OrigDestConnID,
		Token:                p.Token,
	}
	_, err := hdr.Write(b)
	return err
}

func (p *RetryPacket) String() string {
	return fmt.Sprintf("Retry{dest: %s, src: %s, token: %d bytes}", p.DestConnID, p.SrcConnID, len(p.Token))
}

// A VersionNegotiationPacket lists the versions the peer supports. It is not encrypted.
type VersionNegotiationPacket struct {
	DestConnID        protocol.ConnectionID
	SrcConnID         protocol.ConnectionID
	SupportedVersions []protocol.Version
}

var _ Packet = &VersionNegotiationPacket{}

// Type returns the packet type
func (p *VersionNegotiationPacket) Type() protocol.PacketType {
	return protocol.PacketTypeVersionNegotiation
}

// DestinationConnectionID returns the destination connection ID
func (p *VersionNegotiationPacket) DestinationConnectionID() protocol.ConnectionID {
	return p.DestConnID
}

// SourceConnectionID returns the source connection ID
func (p *VersionNegotiationPacket) SourceConnectionID() protocol.ConnectionID { return p.SrcConnID }

// Write serializes the packet
func (p *VersionNegotiationPacket) Write(b *bytes.Buffer, _ *handshake.AEAD) error {
	data, err := wire.WriteVersionNegotiation(p.DestConnID, p.SrcConnID, p.SupportedVersions)
	if err != nil {
		return err
	}
	b.Write(data)
	return nil
}

func (p *VersionNegotiationPacket) String() string {
	return fmt.Sprintf("VersionNegotiation{dest: %s, src: %s, versions: %v}", p.DestConnID, p.SrcConnID, p.SupportedVersions)
}

// writeNumberedPacket writes the header, seals the payload and applies header
// protection.
func writeNumberedPacket(b *bytes.Buffer, hdr *wire.Header, frames []wire.Frame, pn protocol.PacketNumber, aead *handshake.AEAD, v protocol.Version) error {
	if aead == nil {
		return fmt.Errorf("no AEAD for %s packet", hdr.Type)
	}
	payload := &bytes.Buffer{}
	for _, f := range frames {
		if err := f.Write(payload, v); err != nil {
			return err
		}
	}
	hdr.Length = protocol.ByteCount(int(protocol.PacketNumberLen4) + payload.Len() + aead.Overhead())

	start := b.Len()
	pnOffset, err := hdr.Write(b)
	if err != nil {
		return err
	}
	header := b.Bytes()[start:]
	b.Write(aead.Seal(nil, payload.Bytes(), pn, header))

	data := b.Bytes()[start:]
	sampleOffset := pnOffset - start + int(protocol.PacketNumberLen4)
	sample := data[sampleOffset : sampleOffset+handshake.HeaderProtectionSampleSize]
	aead.EncryptHeader(sample, &data[0], data[pnOffset-start:sampleOffset])
	return nil
}

// isAckEliciting reports whether the payload contains anything other than
// ACK and PADDING frames
func isAckEliciting(frames []wire.Frame) bool {
	for _, f := range frames {
		switch f.(type) {
		case *wire.AckFrame, *wire.PaddingFrame:
		default:
			return true
		}
	}
	return false
}

// payloadLength is the summed wire length of the frames
func payloadLength(frames []wire.Frame, v protocol.Version) protocol.ByteCount {
	var length protocol.ByteCount
	for _, f := range frames {
		length += f.Length(v)
	}
	return length
}
