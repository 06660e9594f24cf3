package quic

import (
	"net"
	"sync"
	"time"

	"github.com/quivy/quic/internal/ackhandler"
	"github.com/quivy/quic/internal/handshake"
	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/qerr"
	"github.com/quivy/quic/internal/utils"
	"github.com/quivy/quic/internal/wire"
	"github.com/quivy/quic/logging"
)

// connection is the part shared between the client and the server role:
// identifiers, the AEAD set, the packet number counter, the packet buffer,
// the stream manager and the pipeline plumbing.
type connection struct {
	perspective protocol.Perspective
	version     protocol.Version
	config      *Config

	packetSender PacketSender
	remoteAddr   net.Addr
	tracer       logging.ConnectionTracer

	mutex            sync.Mutex
	state            State
	localConnID      protocol.ConnectionID
	remoteConnID     protocol.ConnectionID
	sendPacketNumber protocol.PacketNumber
	token            []byte
	destroyed        bool

	initialAEAD   *handshake.AEAD
	handshakeAEAD *handshake.AEAD
	oneRTTAEAD    *handshake.AEAD

	packetBuffer *ackhandler.PacketBuffer
	streams      *streamManager
	flowControl  FlowControlHandler
	inbound      []InboundHandler

	idleTimer *time.Timer

	// onClosed is called exactly once when the connection dies
	onClosed func(err error)
}

func (c *connection) init(initialState State) {
	c.state = initialState
	c.packetBuffer = ackhandler.NewPacketBuffer()
	c.idleTimer = time.AfterFunc(c.config.MaxIdleTimeout, c.onIdleTimeout)
}

// State returns the connection state
func (c *connection) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

func (c *connection) setState(s State) {
	c.mutex.Lock()
	c.state = s
	c.mutex.Unlock()
	if c.tracer != nil {
		c.tracer.UpdatedConnectionState(s.String())
	}
	utils.Debugf("%s connection %s now in state %s", c.perspective, c.localConnID, s)
}

// LocalConnectionID is the connection ID peers address us by
func (c *connection) LocalConnectionID() protocol.ConnectionID {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.localConnID
}

// RemoteConnectionID is the connection ID we address the peer by.
// It is nil until the peer made itself known.
func (c *connection) RemoteConnectionID() protocol.ConnectionID {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.remoteConnID
}

// Token is the address validation token to put on Initial packets
func (c *connection) Token() []byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.token
}

func (c *connection) nextSendPacketNumber() protocol.PacketNumber {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sendPacketNumber++
	return c.sendPacketNumber
}

func (c *connection) resetSendPacketNumber() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sendPacketNumber = 0
}

func (c *connection) setHandshakeAEAD(aead *handshake.AEAD) {
	c.mutex.Lock()
	c.handshakeAEAD = aead
	c.mutex.Unlock()
	if c.tracer != nil {
		c.tracer.UpdatedKey(protocol.EncryptionHandshake)
	}
}

func (c *connection) setOneRTTAEAD(aead *handshake.AEAD) {
	c.mutex.Lock()
	c.oneRTTAEAD = aead
	c.mutex.Unlock()
	if c.tracer != nil {
		c.tracer.UpdatedKey(protocol.Encryption1RTT)
	}
}

// aeadFor returns the AEAD of an encryption level, nil if not installed
func (c *connection) aeadFor(encLevel protocol.EncryptionLevel) *handshake.AEAD {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	switch encLevel {
	case protocol.EncryptionInitial:
		return c.initialAEAD
	case protocol.EncryptionHandshake:
		return c.handshakeAEAD
	case protocol.Encryption1RTT:
		return c.oneRTTAEAD
	}
	return nil
}

// highestEncryptionLevel is the highest level with an installed AEAD
func (c *connection) highestEncryptionLevel() protocol.EncryptionLevel {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.oneRTTAEAD != nil {
		return protocol.Encryption1RTT
	}
	if c.handshakeAEAD != nil {
		return protocol.EncryptionHandshake
	}
	return protocol.EncryptionInitial
}

// Send wraps the frames in a packet at the highest available encryption level
// and sends it.
func (c *connection) Send(frames ...wire.Frame) (FullPacket, error) {
	switch c.State() {
	case StateClosing, StateClosed:
		return nil, ErrInvalidState
	}

	var p FullPacket
	switch c.highestEncryptionLevel() {
	case protocol.Encryption1RTT:
		p = &ShortPacket{
			DestConnID: c.RemoteConnectionID(),
			PacketNum:  c.nextSendPacketNumber(),
			Payload:    frames,
		}
	case protocol.EncryptionHandshake:
		p = &HandshakePacket{
			Version:    c.version,
			DestConnID: c.RemoteConnectionID(),
			SrcConnID:  c.LocalConnectionID(),
			PacketNum:  c.nextSendPacketNumber(),
			Payload:    frames,
		}
	default:
		p = &InitialPacket{
			Version:    c.version,
			DestConnID: c.RemoteConnectionID(),
			SrcConnID:  c.LocalConnectionID(),
			Token:      c.Token(),
			PacketNum:  c.nextSendPacketNumber(),
			Payload:    frames,
		}
	}
	if err := c.sendPacket(p); err != nil {
		return nil, err
	}
	return p, nil
}

// sendPacket runs a packet through the outbound pipeline:
// flow control first, then the packet buffer.
func (c *connection) sendPacket(p Packet) error {
	c.flowControl.BeforeSendPacket(p, c)

	if fp, ok := p.(FullPacket); ok && isAckEliciting(fp.Frames()) {
		// acks for this level ride along
		if ack := c.packetBuffer.BuildAck(fp.EncryptionLevel()); ack != nil {
			prependFrame(fp, ack)
		}
		c.packetBuffer.SentPacket(fp.PacketNumber(), fp.EncryptionLevel(), fp.Frames(), time.Now())
	}
	return c.sendPacketUnbuffered(p)
}

func (c *connection) sendPacketUnbuffered(p Packet) error {
	var aead *handshake.AEAD
	if fp, ok := p.(FullPacket); ok {
		aead = c.aeadFor(fp.EncryptionLevel())
	}
	if err := c.packetSender.Send(p, aead); err != nil {
		utils.Errorf("%s failed to send %s: %s", c.perspective, p, err)
		return err
	}
	if c.tracer != nil {
		var pn protocol.PacketNumber
		var size protocol.ByteCount
		if fp, ok := p.(FullPacket); ok {
			pn = fp.PacketNumber()
			size = payloadLength(fp.Frames(), c.version)
		}
		c.tracer.SentPacket(p.Type(), pn, size)
	}
	utils.Debugf("%s sent %s", c.perspective, p)
	return nil
}

// sendAck sends a packet containing only an ACK frame for the packets
// received at the given level
func (c *connection) sendAck(encLevel protocol.EncryptionLevel) {
	ack := c.packetBuffer.BuildAck(encLevel)
	if ack == nil {
		return
	}
	if _, err := c.Send(ack); err != nil {
		utils.Errorf("%s failed to send ACK: %s", c.perspective, err)
	}
}

// OnPacket is the inbound entry point of the connection.
// It never fails; undecryptable or unexpected packets are dropped.
func (c *connection) OnPacket(p Packet) {
	utils.Debugf("%s got %s", c.perspective, p)
	c.resetIdleTimer()
	if c.tracer != nil {
		var pn protocol.PacketNumber
		var size protocol.ByteCount
		if fp, ok := p.(FullPacket); ok {
			pn = fp.PacketNumber()
			size = payloadLength(fp.Frames(), c.version)
		}
		c.tracer.ReceivedPacket(p.Type(), pn, size)
	}
	ctx := &pipelineContext{conn: c, handlers: c.inbound}
	ctx.Next(p)
}

// HandleDatagram parses a raw packet and feeds it to the pipeline.
// Decryption failures are logged and dropped, never fatal.
func (c *connection) HandleDatagram(data []byte) {
	p, err := ParsePacket(data, c.LocalConnectionID().Len(), c.aeadFor)
	if err != nil {
		utils.Debugf("%s dropping undecryptable packet: %s", c.perspective, err)
		if c.tracer != nil {
			c.tracer.DroppedPacket(protocol.PacketType1RTT, logging.PacketDropDecryptionFailed)
		}
		return
	}
	c.OnPacket(p)
}

// CloseConnection sends a CONNECTION_CLOSE with the given error and tears the
// connection down.
func (c *connection) CloseConnection(code qerr.ErrorCode, frameType uint64, reason string) error {
	if c.State() == StateClosed {
		return ErrInvalidState
	}
	ccf := &wire.ConnectionCloseFrame{
		ErrorCode:    code,
		FrameType:    frameType,
		ReasonPhrase: reason,
	}
	p, pkterr := c.buildPacket([]wire.Frame{ccf})
	c.setState(StateClosing)
	if pkterr == nil {
		c.sendPacketUnbuffered(p)
	}
	c.setState(StateClosed)
	var closeErr error
	if code != qerr.NoError {
		closeErr = code
	}
	return c.destroy(closeErr)
}

// Close closes the connection with NO_ERROR
func (c *connection) Close() error {
	return c.CloseConnection(qerr.NoError, 0, "Closing connection")
}

// closeByPeer tears the connection down after the peer sent a CONNECTION_CLOSE
func (c *connection) closeByPeer(ccf *wire.ConnectionCloseFrame) {
	c.setState(StateClosing)
	c.setState(StateClosed)
	c.destroy(&peerCloseError{frame: ccf})
}

// closeSilently kills the connection without a closing packet
func (c *connection) closeSilently(reason error) {
	c.setState(StateClosing)
	c.setState(StateClosed)
	c.destroy(reason)
}

// buildPacket assembles a packet at the current highest encryption level
// without touching the packet buffer
func (c *connection) buildPacket(frames []wire.Frame) (FullPacket, error) {
	switch c.highestEncryptionLevel() {
	case protocol.Encryption1RTT:
		return &ShortPacket{DestConnID: c.RemoteConnectionID(), PacketNum: c.nextSendPacketNumber(), Payload: frames}, nil
	case protocol.EncryptionHandshake:
		return &HandshakePacket{Version: c.version, DestConnID: c.RemoteConnectionID(), SrcConnID: c.LocalConnectionID(), PacketNum: c.nextSendPacketNumber(), Payload: frames}, nil
	default:
		return &InitialPacket{Version: c.version, DestConnID: c.RemoteConnectionID(), SrcConnID: c.LocalConnectionID(), Token: c.Token(), PacketNum: c.nextSendPacketNumber(), Payload: frames}, nil
	}
}

func (c *connection) destroy(err error) error {
	c.mutex.Lock()
	if c.destroyed {
		c.mutex.Unlock()
		return nil
	}
	c.destroyed = true
	c.mutex.Unlock()

	c.idleTimer.Stop()
	if c.tracer != nil {
		c.tracer.ClosedConnection(err)
		c.tracer.Close()
	}
	if c.onClosed != nil {
		c.onClosed(err)
	}
	return c.packetSender.Destroy()
}

func (c *connection) resetIdleTimer() {
	c.idleTimer.Reset(c.config.MaxIdleTimeout)
}

func (c *connection) onIdleTimeout() {
	if c.State() == StateClosed {
		return
	}
	utils.Infof("%s connection %s idle timeout, closing", c.perspective, c.localConnID)
	c.closeSilently(ErrIdleTimeout)
}

// RetransmitUnacked re-sends the frames of packets that were sent before
// olderThan and never acknowledged, at the current encryption level.
// Driving this from a loss recovery timer is the caller's business.
func (c *connection) RetransmitUnacked(olderThan time.Time) error {
	frames := c.packetBuffer.FramesForRetransmission(olderThan)
	if len(frames) == 0 {
		return nil
	}
	_, err := c.Send(frames...)
	return err
}

// OpenStream opens a new locally initiated stream
func (c *connection) OpenStream(stype protocol.StreamType) (*Stream, error) {
	switch c.State() {
	case StateClosing, StateClosed:
		return nil, ErrInvalidState
	}
	return c.streams.OpenStream(stype), nil
}

// prependFrame puts a frame in front of the packet's payload
func prependFrame(p FullPacket, f wire.Frame) {
	switch pkt := p.(type) {
	case *InitialPacket:
		pkt.Payload = append([]wire.Frame{f}, pkt.Payload...)
	case *HandshakePacket:
		pkt.Payload = append([]wire.Frame{f}, pkt.Payload...)
	case *ShortPacket:
		pkt.Payload = append([]wire.Frame{f}, pkt.Payload...)
	}
}

// peerCloseError is the handshake failure reason when the peer closed the
// connection
type peerCloseError struct {
	frame *wire.ConnectionCloseFrame
}

func (e *peerCloseError) Error() string {
	return "connection closed by peer: " + e.frame.ErrorCode.String() + ": " + e.frame.ReasonPhrase
}

// pipeline stages shared between client and server

// packetBufferStage records received packet numbers, processes ACK frames and
// triggers immediate ACKs for established connections.
type packetBufferStage struct {
	conn *connection
}

func (h *packetBufferStage) OnReceivePacket(p Packet, ctx PipelineContext) {
	if fp, ok := p.(FullPacket); ok {
		isNew := h.conn.packetBuffer.ReceivedPacket(fp.PacketNumber(), fp.EncryptionLevel())
		for _, f := range fp.Frames() {
			if ack, ok := f.(*wire.AckFrame); ok {
				h.conn.packetBuffer.OnAck(ack)
			}
		}
		if isNew && ctx.State() == StateReady && isAckEliciting(fp.Frames()) {
			h.conn.sendAck(fp.EncryptionLevel())
		}
	}
	ctx.Next(p)
}

// streamManagerStage feeds STREAM and RESET_STREAM frames to the stream manager
type streamManagerStage struct {
	conn *connection
}

func (h *streamManagerStage) OnReceivePacket(p Packet, ctx PipelineContext) {
	if fp, ok := p.(FullPacket); ok {
		h.conn.streams.HandleFrames(fp.Frames(), ctx)
	}
	ctx.Next(p)
}

// flowControlStage invokes the flow control handler for received packets
type flowControlStage struct {
	conn *connection
}

func (h *flowControlStage) OnReceivePacket(p Packet, ctx PipelineContext) {
	if fp, ok := p.(FullPacket); ok {
		h.conn.flowControl.OnReceivePacket(fp, ctx)
	}
	ctx.Next(p)
}

// connectionFrameStage handles the frames addressed at the connection itself.
// PING needs no action beyond the ACK the packet buffer generates.
type connectionFrameStage struct {
	conn *connection
}

func (h *connectionFrameStage) OnReceivePacket(p Packet, ctx PipelineContext) {
	fp, ok := p.(FullPacket)
	if !ok {
		ctx.Next(p)
		return
	}
	for _, f := range fp.Frames() {
		if ccf, ok := f.(*wire.ConnectionCloseFrame); ok {
			utils.Infof("%s peer closed connection: %s (%s)", h.conn.perspective, ccf.ErrorCode, ccf.ReasonPhrase)
			h.conn.closeByPeer(ccf)
			return
		}
	}
	ctx.Next(p)
}
