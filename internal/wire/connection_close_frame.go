package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/qerr"
	"github.com/quivy/quic/quicvarint"
)

// A ConnectionCloseFrame is a CONNECTION_CLOSE frame
type ConnectionCloseFrame struct {
	IsApplicationError bool
	ErrorCode          qerr.ErrorCode
	FrameType          uint64
	ReasonPhrase       string
}

func parseConnectionCloseFrame(r *bytes.Reader, _ protocol.Version) (*ConnectionCloseFrame, error) {
	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	f := &ConnectionCloseFrame{IsApplicationError: typeByte == applicationCloseFrameType}
	var ec uint16
	if err := binary.Read(r, binary.BigEndian, &ec); err != nil {
		return nil, err
	}
	f.ErrorCode = qerr.ErrorCode(ec)
	// read the frame type, if this is not an application error
	if !f.IsApplicationError {
		ft, err := quicvarint.Read(r)
		if err != nil {
			return nil, err
		}
		f.FrameType = ft
	}
	var reasonPhraseLen uint64
	reasonPhraseLen, err = quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	if int(reasonPhraseLen) > r.Len() {
		return nil, io.EOF
	}
	reasonPhrase := make([]byte, reasonPhraseLen)
	if _, err := io.ReadFull(r, reasonPhrase); err != nil {
		// this should never happen, since we already checked the reasonPhraseLen earlier
		return nil, err
	}
	f.ReasonPhrase = string(reasonPhrase)
	return f, nil
}

// Write writes a CONNECTION_CLOSE frame.
func (f *ConnectionCloseFrame) Write(b *bytes.Buffer, _ protocol.Version) error {
	if f.IsApplicationError {
		b.WriteByte(applicationCloseFrameType)
	} else {
		b.WriteByte(connectionCloseFrameType)
	}
	binary.Write(b, binary.BigEndian, uint16(f.ErrorCode))
	if !f.IsApplicationError {
		quicvarint.Write(b, f.FrameType)
	}
	quicvarint.Write(b, uint64(len(f.ReasonPhrase)))
	b.WriteString(f.ReasonPhrase)
	return nil
}

// Length of a written frame
func (f *ConnectionCloseFrame) Length(_ protocol.Version) protocol.ByteCount {
	length := 1 + 2 + protocol.ByteCount(quicvarint.Len(uint64(len(f.ReasonPhrase)))+len(f.ReasonPhrase))
	if !f.IsApplicationError {
		length += protocol.ByteCount(quicvarint.Len(f.FrameType))
	}
	return length
}
