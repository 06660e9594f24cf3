package wire

import (
	"bytes"

	"github.com/quivy/quic/internal/protocol"
)

// A Frame in QUIC
type Frame interface {
	Write(b *bytes.Buffer, version protocol.Version) error
	Length(version protocol.Version) protocol.ByteCount
}
