package wire

import (
	"bytes"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/quicvarint"
)

// A MaxStreamsFrame is a MAX_STREAMS frame
type MaxStreamsFrame struct {
	Type       protocol.StreamType
	MaxStreams uint64
}

func parseMaxStreamsFrame(r *bytes.Reader, _ protocol.Version) (*MaxStreamsFrame, error) {
	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	f := &MaxStreamsFrame{}
	switch typeByte {
	case bidiMaxStreamsFrameType:
		f.Type = protocol.StreamTypeBidi
	case uniMaxStreamsFrameType:
		f.Type = protocol.StreamTypeUni
	}
	maxStreams, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	f.MaxStreams = maxStreams
	return f, nil
}

// Write writes a MAX_STREAMS frame
func (f *MaxStreamsFrame) Write(b *bytes.Buffer, _ protocol.Version) error {
	switch f.Type {
	case protocol.StreamTypeBidi:
		b.WriteByte(bidiMaxStreamsFrameType)
	case protocol.StreamTypeUni:
		b.WriteByte(uniMaxStreamsFrameType)
	}
	quicvarint.Write(b, f.MaxStreams)
	return nil
}

// Length of a written frame
func (f *MaxStreamsFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1 + protocol.ByteCount(quicvarint.Len(f.MaxStreams))
}
