package wire

import (
	"bytes"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/quicvarint"
)

// A MaxDataFrame carries connection-level flow control information
type MaxDataFrame struct {
	MaximumData protocol.ByteCount
}

func parseMaxDataFrame(r *bytes.Reader, _ protocol.Version) (*MaxDataFrame, error) {
	if _, err := r.ReadByte(); err != nil {
		return nil, err
	}
	byteOffset, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	return &MaxDataFrame{MaximumData: protocol.ByteCount(byteOffset)}, nil
}

// Write writes a MAX_DATA frame
func (f *MaxDataFrame) Write(b *bytes.Buffer, _ protocol.Version) error {
	b.WriteByte(maxDataFrameType)
	quicvarint.Write(b, uint64(f.MaximumData))
	return nil
}

// Length of a written frame
func (f *MaxDataFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(uint64(f.MaximumData)))
}
