package wire

import (
	"bytes"
	"errors"
	"io"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/quicvarint"
)

// A StreamFrame of QUIC
type StreamFrame struct {
	StreamID protocol.StreamID
	Offset   protocol.ByteCount
	Fin      bool
	Data     []byte
}

func parseStreamFrame(r *bytes.Reader, _ protocol.Version) (*StreamFrame, error) {
	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	hasOffset := typeByte&0x4 > 0
	hasDataLen := typeByte&0x2 > 0
	fin := typeByte&0x1 > 0

	streamID, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	var offset uint64
	if hasOffset {
		offset, err = quicvarint.Read(r)
		if err != nil {
			return nil, err
		}
	}

	var dataLen uint64
	if hasDataLen {
		dataLen, err = quicvarint.Read(r)
		if err != nil {
			return nil, err
		}
	} else {
		// the rest of the packet is data
		dataLen = uint64(r.Len())
	}

	frame := &StreamFrame{
		StreamID: protocol.StreamID(streamID),
		Offset:   protocol.ByteCount(offset),
		Fin:      fin,
	}
	if dataLen != 0 {
		if dataLen > uint64(r.Len()) {
			return nil, io.EOF
		}
		frame.Data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, frame.Data); err != nil {
			// this should never happen, since we already checked the dataLen earlier
			return nil, err
		}
	}
	if frame.Offset+frame.DataLen() > protocol.MaxByteCount {
		return nil, errors.New("stream data overflows maximum offset")
	}
	return frame, nil
}

// Write writes a STREAM frame.
// The data length is always written, so frames can be packed back to back.
func (f *StreamFrame) Write(b *bytes.Buffer, _ protocol.Version) error {
	typeByte := byte(streamFrameTypeBase) | 0x2 // LEN
	if f.Offset != 0 {
		typeByte |= 0x4 // OFF
	}
	if f.Fin {
		typeByte |= 0x1 // FIN
	}
	b.WriteByte(typeByte)
	quicvarint.Write(b, uint64(f.StreamID))
	if f.Offset != 0 {
		quicvarint.Write(b, uint64(f.Offset))
	}
	quicvarint.Write(b, uint64(len(f.Data)))
	b.Write(f.Data)
	return nil
}

// Length of a written frame
func (f *StreamFrame) Length(_ protocol.Version) protocol.ByteCount {
	length := 1 + quicvarint.Len(uint64(f.StreamID))
	if f.Offset != 0 {
		length += quicvarint.Len(uint64(f.Offset))
	}
	length += quicvarint.Len(uint64(len(f.Data))) + len(f.Data)
	return protocol.ByteCount(length)
}

// DataLen gives the length of data in bytes
func (f *StreamFrame) DataLen() protocol.ByteCount {
	return protocol.ByteCount(len(f.Data))
}
