package wire

import (
	"bytes"

	"github.com/quivy/quic/internal/protocol"
)

// A PingFrame is a PING frame
type PingFrame struct{}

func parsePingFrame(r *bytes.Reader, _ protocol.Version) (*PingFrame, error) {
	if _, err := r.ReadByte(); err != nil {
		return nil, err
	}
	return &PingFrame{}, nil
}

// Write writes a PING frame
func (f *PingFrame) Write(b *bytes.Buffer, _ protocol.Version) error {
	return b.WriteByte(pingFrameType)
}

// Length of a written frame
func (f *PingFrame) Length(_ protocol.Version) protocol.ByteCount {
	return 1
}
