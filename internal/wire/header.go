package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/quicvarint"
)

var (
	// ErrUnsupportedVersion is returned when the long header carries a version this endpoint doesn't speak
	ErrUnsupportedVersion = errors.New("unsupported version")

	errInvalidConnIDLen = errors.New("invalid connection ID length")
)

// The Header is the header of a QUIC packet.
// For packets with a long header it contains all fields up to, but not
// including, the packet number. Retry and Version Negotiation packets are
// parsed completely.
type Header struct {
	IsLongHeader bool
	Type         protocol.PacketType
	Version      protocol.Version

	DestConnectionID protocol.ConnectionID
	SrcConnectionID  protocol.ConnectionID

	// Token is the address validation token of an Initial packet,
	// or the retry token of a Retry packet.
	Token []byte

	// Length is the length of packet number plus payload, in bytes (long headers)
	Length protocol.ByteCount

	// OrigDestConnectionID is only set on Retry packets
	OrigDestConnectionID protocol.ConnectionID

	// SupportedVersions is only set on Version Negotiation packets
	SupportedVersions []protocol.Version

	PacketNumber    protocol.PacketNumber
	PacketNumberLen protocol.PacketNumberLen
}

func encodeSingleConnIDLen(id protocol.ConnectionID) (byte, error) {
	l := id.Len()
	if l == 0 {
		return 0, nil
	}
	if l < protocol.MinConnectionIDLen || l > protocol.MaxConnectionIDLen {
		return 0, errInvalidConnIDLen
	}
	return byte(l - 3), nil
}

func decodeSingleConnIDLen(enc uint8) int {
	if enc == 0 {
		return 0
	}
	return int(enc) + 3
}

func encodeConnIDLengths(dest, src protocol.ConnectionID) (byte, error) {
	d, err := encodeSingleConnIDLen(dest)
	if err != nil {
		return 0, err
	}
	s, err := encodeSingleConnIDLen(src)
	if err != nil {
		return 0, err
	}
	return d<<4 | s, nil
}

// ParseHeader parses the header of a packet.
// For numbered packets it stops before the (header protected) packet number
// and returns the offset at which the packet number starts.
// Retry and Version Negotiation packets are parsed to completion.
func ParseHeader(data []byte, shortHeaderConnIDLen int) (*Header, int, error) {
	r := bytes.NewReader(data)
	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, 0, err
	}

	h := &Header{IsLongHeader: typeByte&0x80 > 0}
	if !h.IsLongHeader {
		if typeByte&0x40 == 0 {
			return nil, 0, errors.New("not a QUIC packet")
		}
		h.Type = protocol.PacketType1RTT
		connID, err := protocol.ReadConnectionID(r, shortHeaderConnIDLen)
		if err != nil {
			return nil, 0, err
		}
		h.DestConnectionID = connID
		return h, len(data) - r.Len(), nil
	}

	var v uint32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return nil, 0, err
	}
	h.Version = protocol.Version(v)

	if h.Version == 0 {
		h.Type = protocol.PacketTypeVersionNegotiation
	} else {
		switch (typeByte & 0x30) >> 4 {
		case 0x0:
			h.Type = protocol.PacketTypeInitial
		case 0x2:
			h.Type = protocol.PacketTypeHandshake
		case 0x3:
			h.Type = protocol.PacketTypeRetry
		default:
			return nil, 0, fmt.Errorf("unsupported long header packet type: %#x", (typeByte&0x30)>>4)
		}
	}

	connIDLens, err := r.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	h.DestConnectionID, err = protocol.ReadConnectionID(r, decodeSingleConnIDLen(connIDLens>>4))
	if err != nil {
		return nil, 0, err
	}
	h.SrcConnectionID, err = protocol.ReadConnectionID(r, decodeSingleConnIDLen(connIDLens&0xf))
	if err != nil {
		return nil, 0, err
	}

	switch h.Type {
	case protocol.PacketTypeVersionNegotiation:
		for r.Len() >= 4 {
			var v uint32
			if err := binary.Read(r, binary.BigEndian, &v); err != nil {
				return nil, 0, err
			}
			h.SupportedVersions = append(h.SupportedVersions, protocol.Version(v))
		}
		return h, len(data) - r.Len(), nil
	case protocol.PacketTypeRetry:
		h.OrigDestConnectionID, err = protocol.ReadConnectionID(r, decodeSingleConnIDLen(typeByte&0xf))
		if err != nil {
			return nil, 0, err
		}
		h.Token = make([]byte, r.Len())
		if _, err := io.ReadFull(r, h.Token); err != nil {
			return nil, 0, err
		}
		return h, len(data), nil
	case protocol.PacketTypeInitial:
		tokenLen, err := quicvarint.Read(r)
		if err != nil {
			return nil, 0, err
		}
		if tokenLen > uint64(r.Len()) {
			return nil, 0, io.EOF
		}
		if tokenLen > 0 {
			h.Token = make([]byte, tokenLen)
			if _, err := io.ReadFull(r, h.Token); err != nil {
				return nil, 0, err
			}
		}
	}

	pl, err := quicvarint.Read(r)
	if err != nil {
		return nil, 0, err
	}
	h.Length = protocol.ByteCount(pl)
	return h, len(data) - r.Len(), nil
}

// Write writes the header. The packet number is written as a 4 byte field,
// the returned offset points at its first byte, so that header protection
// can be applied afterwards.
func (h *Header) Write(b *bytes.Buffer) (pnOffset int, err error) {
	if !h.IsLongHeader {
		// short header: fixed bit, key phase 0, 4 byte packet number
		b.WriteByte(0x40 | uint8(protocol.PacketNumberLen4-1))
		b.Write(h.DestConnectionID.Bytes())
		pnOffset = b.Len()
		writePacketNumber(b, h.PacketNumber)
		return pnOffset, nil
	}

	var typeBits byte
	switch h.Type {
	case protocol.PacketTypeInitial:
		typeBits = 0x0
	case protocol.PacketTypeHandshake:
		typeBits = 0x2
	case protocol.PacketTypeRetry:
		typeBits = 0x3
	default:
		return 0, fmt.Errorf("cannot write packet type: %s", h.Type)
	}

	firstByte := 0xc0 | typeBits<<4
	if h.Type == protocol.PacketTypeRetry {
		odcil, err := encodeSingleConnIDLen(h.OrigDestConnectionID)
		if err != nil {
			return 0, err
		}
		firstByte |= odcil
	} else {
		firstByte |= uint8(protocol.PacketNumberLen4 - 1)
	}
	b.WriteByte(firstByte)
	binary.Write(b, binary.BigEndian, uint32(h.Version))
	connIDLens, err := encodeConnIDLengths(h.DestConnectionID, h.SrcConnectionID)
	if err != nil {
		return 0, err
	}
	b.WriteByte(connIDLens)
	b.Write(h.DestConnectionID.Bytes())
	b.Write(h.SrcConnectionID.Bytes())

	switch h.Type {
	case protocol.PacketTypeRetry:
		b.Write(h.OrigDestConnectionID.Bytes())
		b.Write(h.Token)
		return b.Len(), nil
	case protocol.PacketTypeInitial:
		quicvarint.Write(b, uint64(len(h.Token)))
		b.Write(h.Token)
	}

	quicvarint.Write(b, uint64(h.Length))
	pnOffset = b.Len()
	writePacketNumber(b, h.PacketNumber)
	return pnOffset, nil
}

// WriteVersionNegotiation composes a Version Negotiation packet
func WriteVersionNegotiation(destConnID, srcConnID protocol.ConnectionID, versions []protocol.Version) ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteByte(0x80)
	binary.Write(b, binary.BigEndian, uint32(0))
	connIDLens, err := encodeConnIDLengths(destConnID, srcConnID)
	if err != nil {
		return nil, err
	}
	b.WriteByte(connIDLens)
	b.Write(destConnID.Bytes())
	b.Write(srcConnID.Bytes())
	for _, v := range versions {
		binary.Write(b, binary.BigEndian, uint32(v))
	}
	return b.Bytes(), nil
}

func writePacketNumber(b *bytes.Buffer, pn protocol.PacketNumber) {
	binary.Write(b, binary.BigEndian, uint32(pn))
}

// ReadPacketNumber decodes the (header protection removed) packet number field
func ReadPacketNumber(data []byte, pnLen protocol.PacketNumberLen) protocol.PacketNumber {
	var pn protocol.PacketNumber
	for i := 0; i < int(pnLen); i++ {
		pn = pn<<8 | protocol.PacketNumber(data[i])
	}
	return pn
}
