package wire

import (
	"bytes"
	"errors"

	"github.com/quivy/quic/internal/protocol"
)

// ErrUnknownFrameType is returned when the parser encounters a frame type it doesn't know.
// The caller is expected to skip the rest of the payload.
var ErrUnknownFrameType = errors.New("unknown frame type")

// frame type byte values of draft-18
const (
	paddingFrameType          = 0x00
	pingFrameType             = 0x01
	ackFrameType              = 0x02
	ackECNFrameType           = 0x03
	resetStreamFrameType      = 0x04
	cryptoFrameType           = 0x06
	streamFrameTypeBase       = 0x08 // 0x08 - 0x0f, low bits are OFF / LEN / FIN
	maxDataFrameType          = 0x10
	maxStreamDataFrameType    = 0x11
	bidiMaxStreamsFrameType   = 0x12
	uniMaxStreamsFrameType    = 0x13
	connectionCloseFrameType  = 0x1c
	applicationCloseFrameType = 0x1d
)

// ParseNextFrame parses the next frame.
// It skips PADDING and returns nil when the reader is empty.
func ParseNextFrame(r *bytes.Reader, v protocol.Version) (Frame, error) {
	for r.Len() != 0 {
		typeByte, _ := r.ReadByte()
		if typeByte == paddingFrameType {
			continue
		}
		r.UnreadByte()

		switch {
		case typeByte == pingFrameType:
			return parsePingFrame(r, v)
		case typeByte == ackFrameType || typeByte == ackECNFrameType:
			return parseAckFrame(r, v)
		case typeByte == resetStreamFrameType:
			return parseResetStreamFrame(r, v)
		case typeByte == cryptoFrameType:
			return parseCryptoFrame(r, v)
		case typeByte&0xf8 == streamFrameTypeBase:
			return parseStreamFrame(r, v)
		case typeByte == maxDataFrameType:
			return parseMaxDataFrame(r, v)
		case typeByte == maxStreamDataFrameType:
			return parseMaxStreamDataFrame(r, v)
		case typeByte == bidiMaxStreamsFrameType || typeByte == uniMaxStreamsFrameType:
			return parseMaxStreamsFrame(r, v)
		case typeByte == connectionCloseFrameType || typeByte == applicationCloseFrameType:
			return parseConnectionCloseFrame(r, v)
		default:
			return nil, ErrUnknownFrameType
		}
	}
	return nil, nil
}

// ParseAll parses all frames of a decrypted payload.
// Unknown frame types end the parse: the frames read so far are returned,
// the remainder of the payload is skipped.
func ParseAll(data []byte, v protocol.Version) ([]Frame, error) {
	r := bytes.NewReader(data)
	var frames []Frame
	for {
		f, err := ParseNextFrame(r, v)
		if err != nil {
			if err == ErrUnknownFrameType {
				return frames, nil
			}
			return nil, err
		}
		if f == nil {
			return frames, nil
		}
		frames = append(frames, f)
	}
}
