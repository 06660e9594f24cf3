package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/quicvarint"
)

// A ResetStreamFrame is a RESET_STREAM frame
type ResetStreamFrame struct {
	StreamID  protocol.StreamID
	ErrorCode uint16
	FinalSize protocol.ByteCount
}

func parseResetStreamFrame(r *bytes.Reader, _ protocol.Version) (*ResetStreamFrame, error) {
	if _, err := r.ReadByte(); err != nil {
		return nil, err
	}
	streamID, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	var errorCode uint16
	if err := binary.Read(r, binary.BigEndian, &errorCode); err != nil {
		return nil, err
	}
	finalSize, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	return &ResetStreamFrame{
		StreamID:  protocol.StreamID(streamID),
		ErrorCode: errorCode,
		FinalSize: protocol.ByteCount(finalSize),
	}, nil
}

// Write writes a RESET_STREAM frame
func (f *ResetStreamFrame) Write(b *bytes.Buffer, _ protocol.Version) error {
	b.WriteByte(resetStreamFrameType)
	quicvarint.Write(b, uint64(f.StreamID))
	binary.Write(b, binary.BigEndian, f.ErrorCode)
	quicvarint.Write(b, uint64(f.FinalSize))
	return nil
}

// Length of a written frame
func (f *ResetStreamFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(uint64(f.StreamID))+2+quicvarint.Len(uint64(f.FinalSize)))
}
