package quic

import (
	"sync"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/qerr"
	"github.com/quivy/quic/internal/utils"
	"github.com/quivy/quic/internal/wire"
)

// The streamManager owns all streams of one connection. It creates streams on
// first reference, reassembles STREAM frames and delivers ordered bytes to
// the listener.
type streamManager struct {
	mutex sync.Mutex

	perspective protocol.Perspective
	listener    StreamListener
	sender      FrameSender

	streams map[protocol.StreamID]*Stream

	nextStreamNum map[protocol.StreamType]int64
}

func newStreamManager(perspective protocol.Perspective, listener StreamListener, sender FrameSender) *streamManager {
	return &streamManager{
		perspective:   perspective,
		listener:      listener,
		sender:        sender,
		streams:       make(map[protocol.StreamID]*Stream),
		nextStreamNum: make(map[protocol.StreamType]int64),
	}
}

// GetOrCreateStream looks a stream up, creating it on first reference
func (m *streamManager) GetOrCreateStream(id protocol.StreamID) *Stream {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.streams[id]
	if !ok {
		s = newStream(id, m.sender)
		m.streams[id] = s
	}
	return s
}

// OpenStream creates a new locally initiated stream of the given type
func (m *streamManager) OpenStream(stype protocol.StreamType) *Stream {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	num := m.nextStreamNum[stype]
	m.nextStreamNum[stype]++
	id := protocol.StreamIDForNum(stype, m.perspective, num)
	s := newStream(id, m.sender)
	m.streams[id] = s
	return s
}

// HandleFrames dispatches the stream-related frames of a received packet
func (m *streamManager) HandleFrames(frames []wire.Frame, ctx PipelineContext) {
	for _, f := range frames {
		switch frame := f.(type) {
		case *wire.StreamFrame:
			m.handleStreamFrame(frame, ctx)
		case *wire.ResetStreamFrame:
			m.handleResetStreamFrame(frame)
		}
	}
}

func (m *streamManager) handleStreamFrame(f *wire.StreamFrame, ctx PipelineContext) {
	s := m.GetOrCreateStream(f.StreamID)
	chunks, err := s.handleStreamFrame(f)
	if err != nil {
		utils.Errorf("stream reassembly failed: %s", err)
		ctx.CloseConnection(qerr.ProtocolViolation, 0, err.Error())
		return
	}
	for _, chunk := range chunks {
		m.listener.OnData(s, chunk.data, chunk.fin)
	}
}

func (m *streamManager) handleResetStreamFrame(f *wire.ResetStreamFrame) {
	s := m.GetOrCreateStream(f.StreamID)
	s.handleReset()
	m.listener.OnReset(s, f.ErrorCode)
}
