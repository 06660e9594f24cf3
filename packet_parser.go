package quic

import (
	"fmt"

	"github.com/quivy/quic/internal/handshake"
	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/wire"
)

// ParsePacket parses a single QUIC packet from a datagram.
// shortHeaderConnIDLen is the length of connection IDs this endpoint hands
// out, needed to delimit the connection ID of short header packets.
// aeads provides the AEAD for an encryption level, returning nil if no keys
// are installed yet.
func ParsePacket(data []byte, shortHeaderConnIDLen int, aeads func(protocol.EncryptionLevel) *handshake.AEAD) (Packet, error) {
	hdr, pnOffset, err := wire.ParseHeader(data, shortHeaderConnIDLen)
	if err != nil {
		return nil, err
	}

	switch hdr.Type {
	case protocol.PacketTypeVersionNegotiation:
		return &VersionNegotiationPacket{
			DestConnID:        hdr.DestConnectionID,
			SrcConnID:         hdr.SrcConnectionID,
			SupportedVersions: hdr.SupportedVersions,
		}, nil
	case protocol.PacketTypeRetry:
		return &RetryPacket{
			Version:        hdr.Version,
			DestConnID:     hdr.DestConnectionID,
			SrcConnID:      hdr.SrcConnectionID,
			OrigDestConnID: hdr.OrigDestConnectionID,
			Token:          hdr.Token,
		}, nil
	}

	var encLevel protocol.EncryptionLevel
	switch hdr.Type {
	case protocol.PacketTypeInitial:
		encLevel = protocol.EncryptionInitial
	case protocol.PacketTypeHandshake:
		encLevel = protocol.EncryptionHandshake
	case protocol.PacketType1RTT:
		encLevel = protocol.Encryption1RTT
	}
	aead := aeads(encLevel)
	if aead == nil {
		return nil, fmt.Errorf("no AEAD for %s installed", encLevel)
	}

	sampleOffset := pnOffset + int(protocol.PacketNumberLen4)
	if sampleOffset+handshake.HeaderProtectionSampleSize > len(data) {
		return nil, fmt.Errorf("packet too short for header protection sample")
	}

	// remove header protection on a copy, the datagram stays untouched
	firstByte := data[0]
	pnBytes := make([]byte, protocol.PacketNumberLen4)
	copy(pnBytes, data[pnOffset:sampleOffset])
	aead.DecryptHeader(data[sampleOffset:sampleOffset+handshake.HeaderProtectionSampleSize], &firstByte, pnBytes)

	pnLen := protocol.PacketNumberLen(firstByte&0x3) + 1
	pn := wire.ReadPacketNumber(pnBytes, pnLen)

	end := len(data)
	if hdr.IsLongHeader {
		end = pnOffset + int(hdr.Length)
		if end > len(data) {
			return nil, fmt.Errorf("packet length field exceeds datagram")
		}
	}

	// reassemble the unprotected header as additional data
	ad := make([]byte, pnOffset+int(pnLen))
	copy(ad, data[:pnOffset])
	ad[0] = firstByte
	copy(ad[pnOffset:], pnBytes[:pnLen])

	plaintext, err := aead.Open(nil, data[pnOffset+int(pnLen):end], pn, ad)
	if err != nil {
		return nil, err
	}
	frames, err := wire.ParseAll(plaintext, hdr.Version)
	if err != nil {
		return nil, err
	}

	switch hdr.Type {
	case protocol.PacketTypeInitial:
		return &InitialPacket{
			Version:    hdr.Version,
			DestConnID: hdr.DestConnectionID,
			SrcConnID:  hdr.SrcConnectionID,
			Token:      hdr.Token,
			PacketNum:  pn,
			Payload:    frames,
		}, nil
	case protocol.PacketTypeHandshake:
		return &HandshakePacket{
			Version:    hdr.Version,
			DestConnID: hdr.DestConnectionID,
			SrcConnID:  hdr.SrcConnectionID,
			PacketNum:  pn,
			Payload:    frames,
		}, nil
	default:
		return &ShortPacket{
			DestConnID: hdr.DestConnectionID,
			PacketNum:  pn,
			Payload:    frames,
		}, nil
	}
}
