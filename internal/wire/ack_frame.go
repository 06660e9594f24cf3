package wire

import (
	"bytes"
	"errors"
	"time"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/quicvarint"
)

// An AckBlock is an inclusive range of acknowledged packet numbers.
type AckBlock struct {
	Smallest protocol.PacketNumber
	Largest  protocol.PacketNumber
}

// An AckFrame is an ACK frame
type AckFrame struct {
	// Blocks are ordered by descending packet number.
	// The first block contains the largest acknowledged packet number.
	Blocks    []AckBlock
	DelayTime time.Duration
}

var errInvalidAckBlocks = errors.New("invalid ACK blocks")

func parseAckFrame(r *bytes.Reader, _ protocol.Version) (*AckFrame, error) {
	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	ecn := typeByte == ackECNFrameType

	frame := &AckFrame{}

	la, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	largest := protocol.PacketNumber(la)

	delay, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	frame.DelayTime = time.Duration(delay*1<<protocol.AckDelayExponent) * time.Microsecond

	numBlocks, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}

	// read the first ACK block
	ab, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	ackBlock := protocol.PacketNumber(ab)
	if ackBlock > largest {
		return nil, errInvalidAckBlocks
	}
	smallest := largest - ackBlock
	frame.Blocks = append(frame.Blocks, AckBlock{Smallest: smallest, Largest: largest})

	for i := uint64(0); i < numBlocks; i++ {
		g, err := quicvarint.Read(r)
		if err != nil {
			return nil, err
		}
		gap := protocol.PacketNumber(g)
		if smallest < gap+2 {
			return nil, errInvalidAckBlocks
		}
		largest = smallest - gap - 2

		ab, err := quicvarint.Read(r)
		if err != nil {
			return nil, err
		}
		ackBlock := protocol.PacketNumber(ab)
		if ackBlock > largest {
			return nil, errInvalidAckBlocks
		}
		smallest = largest - ackBlock
		frame.Blocks = append(frame.Blocks, AckBlock{Smallest: smallest, Largest: largest})
	}

	if ecn {
		// we don't process ECN counts, but we have to consume them
		for i := 0; i < 3; i++ {
			if _, err := quicvarint.Read(r); err != nil {
				return nil, err
			}
		}
	}
	return frame, nil
}

// Write writes an ACK frame.
func (f *AckFrame) Write(b *bytes.Buffer, _ protocol.Version) error {
	b.WriteByte(ackFrameType)
	quicvarint.Write(b, uint64(f.LargestAcked()))
	quicvarint.Write(b, encodeAckDelay(f.DelayTime))
	quicvarint.Write(b, uint64(len(f.Blocks)-1))
	quicvarint.Write(b, uint64(f.Blocks[0].Largest-f.Blocks[0].Smallest))
	lowest := f.Blocks[0].Smallest
	for _, block := range f.Blocks[1:] {
		quicvarint.Write(b, uint64(lowest-block.Largest-2))
		quicvarint.Write(b, uint64(block.Largest-block.Smallest))
		lowest = block.Smallest
	}
	return nil
}

// Length of a written frame
func (f *AckFrame) Length(_ protocol.Version) protocol.ByteCount {
	length := 1 + quicvarint.Len(uint64(f.LargestAcked())) + quicvarint.Len(encodeAckDelay(f.DelayTime))
	length += quicvarint.Len(uint64(len(f.Blocks) - 1))
	length += quicvarint.Len(uint64(f.Blocks[0].Largest - f.Blocks[0].Smallest))
	lowest := f.Blocks[0].Smallest
	for _, block := range f.Blocks[1:] {
		length += quicvarint.Len(uint64(lowest - block.Largest - 2))
		length += quicvarint.Len(uint64(block.Largest - block.Smallest))
		lowest = block.Smallest
	}
	return protocol.ByteCount(length)
}

// LargestAcked is the largest acked packet number
func (f *AckFrame) LargestAcked() protocol.PacketNumber {
	return f.Blocks[0].Largest
}

// LowestAcked is the lowest acked packet number
func (f *AckFrame) LowestAcked() protocol.PacketNumber {
	return f.Blocks[len(f.Blocks)-1].Smallest
}

// AcksPacket determines if this ACK frame acks a certain packet number
func (f *AckFrame) AcksPacket(p protocol.PacketNumber) bool {
	for _, b := range f.Blocks {
		if p >= b.Smallest && p <= b.Largest {
			return true
		}
	}
	return false
}

func encodeAckDelay(delay time.Duration) uint64 {
	return uint64(delay.Microseconds() / (1 << protocol.AckDelayExponent))
}
