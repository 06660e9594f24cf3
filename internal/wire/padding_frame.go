package wire

import (
	"bytes"

	"github.com/quivy/quic/internal/protocol"
)

// A PaddingFrame is one or more consecutive PADDING frames.
// It pads the packet it is contained in to the desired size.
type PaddingFrame struct {
	NumBytes protocol.ByteCount
}

// Write writes the padding
func (f *PaddingFrame) Write(b *bytes.Buffer, _ protocol.Version) error {
	b.Write(make([]byte, f.NumBytes))
	return nil
}

// Length of a written frame
func (f *PaddingFrame) Length(_ protocol.Version) protocol.ByteCount {
	return f.NumBytes
}
