package quic

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/wire"
)

type segment struct {
	data []byte
	fin  bool
}

// A Stream is one QUIC stream: a reassembly buffer for received bytes and an
// offset counter for sent ones.
type Stream struct {
	id     protocol.StreamID
	sender FrameSender

	mutex sync.Mutex

	// receive side
	segments           map[protocol.ByteCount]segment
	nextDeliveryOffset protocol.ByteCount
	finOffset          protocol.ByteCount
	hasFin             bool
	finDelivered       bool
	aborted            bool

	// send side
	sendOffset protocol.ByteCount
	finSent    bool
}

func newStream(id protocol.StreamID, sender FrameSender) *Stream {
	return &Stream{
		id:       id,
		sender:   sender,
		segments: make(map[protocol.ByteCount]segment),
	}
}

// StreamID returns the stream's ID
func (s *Stream) StreamID() protocol.StreamID {
	return s.id
}

// Write sends data on the stream. Setting fin seals the send side.
func (s *Stream) Write(data []byte, fin bool) error {
	s.mutex.Lock()
	if s.aborted {
		s.mutex.Unlock()
		return fmt.Errorf("stream %d was reset", s.id)
	}
	if s.finSent {
		s.mutex.Unlock()
		return fmt.Errorf("stream %d: send side already sealed", s.id)
	}
	offset := s.sendOffset
	s.sendOffset += protocol.ByteCount(len(data))
	if fin {
		s.finSent = true
	}
	s.mutex.Unlock()

	_, err := s.sender.Send(&wire.StreamFrame{
		StreamID: s.id,
		Offset:   offset,
		Fin:      fin,
		Data:     data,
	})
	return err
}

// Reset abruptly terminates the send side of the stream
func (s *Stream) Reset(errorCode uint16) error {
	s.mutex.Lock()
	finalSize := s.sendOffset
	s.finSent = true
	s.mutex.Unlock()

	_, err := s.sender.Send(&wire.ResetStreamFrame{
		StreamID:  s.id,
		ErrorCode: errorCode,
		FinalSize: finalSize,
	})
	return err
}

// handleStreamFrame inserts received data into the reassembly buffer and
// drains everything that became contiguous. The returned chunks are delivered
// to the listener in order; the bool of the last chunk carries the FIN.
func (s *Stream) handleStreamFrame(f *wire.StreamFrame) ([]segment, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.aborted {
		return nil, nil
	}

	if f.Fin {
		finOffset := f.Offset + f.DataLen()
		if s.hasFin && s.finOffset != finOffset {
			return nil, fmt.Errorf("stream %d: conflicting FIN offsets (%d and %d)", s.id, s.finOffset, finOffset)
		}
		s.hasFin = true
		s.finOffset = finOffset
	}

	if f.DataLen() > 0 && f.Offset+f.DataLen() > s.nextDeliveryOffset {
		if existing, ok := s.segments[f.Offset]; ok {
			if bytes.Equal(existing.data, f.Data) {
				return nil, nil // exact duplicate
			}
			return nil, fmt.Errorf("stream %d: conflicting data at offset %d", s.id, f.Offset)
		}
		for off, seg := range s.segments {
			if err := checkOverlap(off, seg.data, f.Offset, f.Data); err != nil {
				return nil, fmt.Errorf("stream %d: %w", s.id, err)
			}
		}
		s.segments[f.Offset] = segment{data: f.Data, fin: f.Fin}
	}

	return s.drain(), nil
}

// drain collects the contiguous chunks starting at nextDeliveryOffset
func (s *Stream) drain() []segment {
	var out []segment
	for {
		found := false
		for off, seg := range s.segments {
			end := off + protocol.ByteCount(len(seg.data))
			if off <= s.nextDeliveryOffset && end > s.nextDeliveryOffset {
				chunk := seg.data[s.nextDeliveryOffset-off:]
				s.nextDeliveryOffset = end
				delete(s.segments, off)
				out = append(out, segment{data: chunk})
				found = true
				break
			}
			if end <= s.nextDeliveryOffset {
				// already delivered
				delete(s.segments, off)
			}
		}
		if !found {
			break
		}
	}
	if len(out) > 0 && s.hasFin && !s.finDelivered && s.nextDeliveryOffset == s.finOffset {
		out[len(out)-1].fin = true
		s.finDelivered = true
	}
	// a FIN without data still has to be signalled
	if len(out) == 0 && s.hasFin && !s.finDelivered && s.nextDeliveryOffset == s.finOffset {
		s.finDelivered = true
		out = append(out, segment{fin: true})
	}
	return out
}

// handleReset drops the reassembly buffer and marks the stream aborted.
// The stream stays addressable for outbound accounting.
func (s *Stream) handleReset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.segments = make(map[protocol.ByteCount]segment)
	s.aborted = true
}

// checkOverlap errors if two segments overlap with different content
func checkOverlap(offA protocol.ByteCount, dataA []byte, offB protocol.ByteCount, dataB []byte) error {
	endA := offA + protocol.ByteCount(len(dataA))
	endB := offB + protocol.ByteCount(len(dataB))
	start := max(offA, offB)
	end := min(endA, endB)
	if start >= end {
		return nil
	}
	if !bytes.Equal(dataA[start-offA:end-offA], dataB[start-offB:end-offB]) {
		return fmt.Errorf("conflicting data in overlapping range [%d, %d)", start, end)
	}
	return nil
}
