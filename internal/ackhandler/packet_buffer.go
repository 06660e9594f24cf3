package ackhandler

import (
	"sort"
	"sync"
	"time"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/wire"
)

// A SentPacket is a packet that was sent but not yet acknowledged.
type SentPacket struct {
	PacketNumber    protocol.PacketNumber
	EncryptionLevel protocol.EncryptionLevel
	Frames          []wire.Frame
	SendTime        time.Time
}

// The PacketBuffer retains sent packets until they are acknowledged and
// tracks received packet numbers so ACK frames can be generated.
//
// The send packet number space is shared between encryption levels (one
// counter per connection), so sent packets are keyed by packet number alone.
// Received packets are tracked per level: an ACK sent at one level must not
// cover packets received at another.
type PacketBuffer struct {
	mutex sync.Mutex

	sent map[protocol.PacketNumber]*SentPacket

	// all packet numbers ever seen, for duplicate detection
	received map[protocol.EncryptionLevel]map[protocol.PacketNumber]struct{}
	// packet numbers not yet covered by a sent ACK
	toAck map[protocol.EncryptionLevel]map[protocol.PacketNumber]struct{}

	largestAcked protocol.PacketNumber
}

// NewPacketBuffer creates a new packet buffer
func NewPacketBuffer() *PacketBuffer {
	return &PacketBuffer{
		sent:         make(map[protocol.PacketNumber]*SentPacket),
		received:     make(map[protocol.EncryptionLevel]map[protocol.PacketNumber]struct{}),
		toAck:        make(map[protocol.EncryptionLevel]map[protocol.PacketNumber]struct{}),
		largestAcked: protocol.InvalidPacketNumber,
	}
}

// SentPacket records an outgoing packet
func (b *PacketBuffer) SentPacket(pn protocol.PacketNumber, encLevel protocol.EncryptionLevel, frames []wire.Frame, now time.Time) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.sent[pn] = &SentPacket{
		PacketNumber:    pn,
		EncryptionLevel: encLevel,
		Frames:          frames,
		SendTime:        now,
	}
}

// ReceivedPacket records an incoming packet number.
// Receiving the same packet number again is a no-op (set semantics).
// It reports whether the packet number was new.
func (b *PacketBuffer) ReceivedPacket(pn protocol.PacketNumber, encLevel protocol.EncryptionLevel) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	received, ok := b.received[encLevel]
	if !ok {
		received = make(map[protocol.PacketNumber]struct{})
		b.received[encLevel] = received
	}
	if _, ok := received[pn]; ok {
		return false
	}
	received[pn] = struct{}{}

	toAck, ok := b.toAck[encLevel]
	if !ok {
		toAck = make(map[protocol.PacketNumber]struct{})
		b.toAck[encLevel] = toAck
	}
	toAck[pn] = struct{}{}
	return true
}

// HasPendingAcks says if packets received at this level still await an ACK
func (b *PacketBuffer) HasPendingAcks(encLevel protocol.EncryptionLevel) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.toAck[encLevel]) > 0
}

// BuildAck generates an ACK frame covering all packets received at this level
// since the last ACK, and marks them acked. It returns nil if there is
// nothing to acknowledge.
func (b *PacketBuffer) BuildAck(encLevel protocol.EncryptionLevel) *wire.AckFrame {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	toAck := b.toAck[encLevel]
	if len(toAck) == 0 {
		return nil
	}
	pns := make([]protocol.PacketNumber, 0, len(toAck))
	for pn := range toAck {
		pns = append(pns, pn)
	}
	delete(b.toAck, encLevel)

	// coalesce into blocks, ordered by descending packet number
	sort.Slice(pns, func(i, j int) bool { return pns[i] > pns[j] })
	var blocks []wire.AckBlock
	for _, pn := range pns {
		if len(blocks) > 0 && blocks[len(blocks)-1].Smallest == pn+1 {
			blocks[len(blocks)-1].Smallest = pn
			continue
		}
		blocks = append(blocks, wire.AckBlock{Smallest: pn, Largest: pn})
	}
	return &wire.AckFrame{Blocks: blocks}
}

// OnAck processes an ACK frame received from the peer.
// Acknowledged packets are dropped from the buffer, as is everything up to
// the largest acknowledged packet number.
func (b *PacketBuffer) OnAck(f *wire.AckFrame) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if f.LargestAcked() > b.largestAcked {
		b.largestAcked = f.LargestAcked()
	}
	for pn := range b.sent {
		if pn <= b.largestAcked {
			delete(b.sent, pn)
		}
	}
}

// LargestAcked is the largest packet number the peer has acknowledged
func (b *PacketBuffer) LargestAcked() protocol.PacketNumber {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.largestAcked
}

// OutstandingPacketCount is the number of sent packets awaiting acknowledgement
func (b *PacketBuffer) OutstandingPacketCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.sent)
}

// FramesForRetransmission drains the frames of all packets sent before the
// given time. The caller re-sends them at the current encryption level.
// ACK and PADDING frames are not retransmitted.
func (b *PacketBuffer) FramesForRetransmission(olderThan time.Time) []wire.Frame {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var pns []protocol.PacketNumber
	for pn, p := range b.sent {
		if p.SendTime.Before(olderThan) {
			pns = append(pns, pn)
		}
	}
	// re-emit in original send order
	sort.Slice(pns, func(i, j int) bool { return pns[i] < pns[j] })
	var frames []wire.Frame
	for _, pn := range pns {
		for _, f := range b.sent[pn].Frames {
			switch f.(type) {
			case *wire.AckFrame, *wire.PaddingFrame:
			default:
				frames = append(frames, f)
			}
		}
		delete(b.sent, pn)
	}
	return frames
}
