package quic

import (
	"fmt"
	"net"
	"sync"

	"github.com/quivy/quic/internal/handshake"
	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/qerr"
	"github.com/quivy/quic/internal/utils"
	"github.com/quivy/quic/internal/wire"
)

// tlsAlertHandshakeFailure is the TLS alert carried in the low byte of
// CRYPTO_ERROR when the handshake fails
const tlsAlertHandshakeFailure = 40

// A ClientConnection is the client end of a QUIC connection.
type ClientConnection struct {
	connection

	tlsSession *handshake.ClientSession

	handshakeOnce sync.Once
	handshakeChan chan error

	// a client accepts exactly one Retry
	retried bool
}

// NewClientConnection creates a new connection to a server.
// destConnID is the connection ID to address the first Initial packet to;
// the Initial encryption keys are derived from it.
// Passing a nil flowControl installs the default handler.
func NewClientConnection(
	config *Config,
	destConnID protocol.ConnectionID,
	streamListener StreamListener,
	packetSender PacketSender,
	flowControl FlowControlHandler,
	remoteAddr net.Addr,
) (*ClientConnection, error) {
	config = populateConfig(config)
	localConnID, err := protocol.GenerateConnectionID(protocol.DefaultConnectionIDLen)
	if err != nil {
		return nil, err
	}
	if flowControl == nil {
		flowControl = NewFlowControlHandler(protocol.PerspectiveClient, config)
	}

	c := &ClientConnection{
		handshakeChan: make(chan error, 1),
	}
	c.perspective = protocol.PerspectiveClient
	c.version = config.Version
	c.config = config
	c.packetSender = packetSender
	c.remoteAddr = remoteAddr
	c.localConnID = localConnID
	c.remoteConnID = destConnID
	c.initialAEAD = handshake.NewInitialAEAD(destConnID, protocol.PerspectiveClient)
	c.flowControl = flowControl
	c.tracer = config.Tracer.TracerForConnection(protocol.PerspectiveClient, destConnID)

	c.tlsSession = handshake.NewClientSession(config.transportParameters(), config.Version, config.ServerName, config.CertificateValidator)
	c.streams = newStreamManager(protocol.PerspectiveClient, streamListener, &c.connection)
	c.inbound = []InboundHandler{
		&clientStateHandler{conn: c},
		&packetBufferStage{conn: &c.connection},
		&streamManagerStage{conn: &c.connection},
		&flowControlStage{conn: &c.connection},
		&connectionFrameStage{conn: &c.connection},
	}
	c.onClosed = func(err error) {
		if err == nil {
			err = fmt.Errorf("connection closed before handshake completed")
		}
		c.completeHandshake(err)
	}
	c.init(StateBeforeInitial)
	if c.tracer != nil {
		c.tracer.StartedConnection(localConnID, destConnID)
	}
	return c, nil
}

// Handshake starts the handshake. The returned channel completes when the
// connection reaches Ready, or carries the failure reason if it dies first.
// Calling Handshake in any state but BeforeInitial fails with ErrInvalidState.
func (c *ClientConnection) Handshake() (<-chan error, error) {
	if c.State() != StateBeforeInitial {
		return nil, ErrInvalidState
	}
	if err := c.sendInitialPacket(); err != nil {
		return nil, err
	}
	c.setState(StateBeforeHello)
	utils.Infof("client connection %s sent Initial", c.localConnID)
	return c.handshakeChan, nil
}

// sendInitialPacket sends CRYPTO(ClientHello), padded to the minimum Initial size
func (c *ClientConnection) sendInitialPacket() error {
	clientHello, err := c.tlsSession.StartHandshake()
	if err != nil {
		return err
	}
	chf := &wire.CryptoFrame{Offset: 0, Data: clientHello}
	padding := &wire.PaddingFrame{NumBytes: protocol.MinInitialPacketSize - chf.Length(c.version)}

	return c.sendPacket(&InitialPacket{
		Version:    c.version,
		DestConnID: c.RemoteConnectionID(),
		SrcConnID:  c.LocalConnectionID(),
		Token:      c.Token(),
		PacketNum:  c.nextSendPacketNumber(),
		Payload:    []wire.Frame{chf, padding},
	})
}

func (c *ClientConnection) completeHandshake(err error) {
	c.handshakeOnce.Do(func() {
		if err != nil {
			c.handshakeChan <- err
		}
		close(c.handshakeChan)
	})
}

// clientStateHandler is the TLS stage of the client's inbound pipeline.
// It drives the state machine through the handshake and passes packets on
// once the connection is established.
type clientStateHandler struct {
	conn *ClientConnection
}

func (h *clientStateHandler) OnReceivePacket(p Packet, ctx PipelineContext) {
	c := h.conn
	switch ctx.State() {
	case StateBeforeHello:
		switch packet := p.(type) {
		case *InitialPacket:
			h.handleServerHello(packet, ctx)
		case *RetryPacket:
			h.handleRetry(packet)
		case *VersionNegotiationPacket:
			// we only support a single version, so nothing more to do
			utils.Infof("incompatible versions (offered: %v), closing connection", packet.SupportedVersions)
			c.closeSilently(fmt.Errorf("no compatible version: peer offered %v", packet.SupportedVersions))
		default:
			utils.Infof("client got %s in unexpected state %s, dropping", p, ctx.State())
		}

	case StateBeforeHandshake:
		if packet, ok := p.(*HandshakePacket); ok {
			h.handleHandshake(packet, ctx)
		} else {
			utils.Infof("client got %s in unexpected state %s, dropping", p, ctx.State())
		}

	case StateReady, StateClosing, StateClosed:
		if _, ok := p.(FullPacket); ok {
			ctx.Next(p)
		} else {
			utils.Infof("client got %s in unexpected state %s, dropping", p, ctx.State())
		}

	default:
		utils.Infof("client got %s in unexpected state %s, dropping", p, ctx.State())
	}
}

func (h *clientStateHandler) handleServerHello(p *InitialPacket, ctx PipelineContext) {
	c := h.conn
	// the server's source connection ID is adopted permanently
	c.mutex.Lock()
	c.remoteConnID = p.SrcConnID
	c.mutex.Unlock()

	for _, f := range p.Frames() {
		cf, ok := f.(*wire.CryptoFrame)
		if !ok {
			continue
		}
		aead, err := c.tlsSession.HandleServerHello(cf.Data)
		if err != nil {
			utils.Errorf("TLS handshake failed: %s", err)
			ctx.CloseConnection(qerr.CryptoError(tlsAlertHandshakeFailure), 0, err.Error())
			return
		}
		c.setHandshakeAEAD(aead)
		ctx.SetState(StateBeforeHandshake)
	}
	ctx.Next(p)
}

func (h *clientStateHandler) handleRetry(p *RetryPacket) {
	c := h.conn
	if c.retried {
		// a second Retry is ignored
		utils.Infof("client ignoring repeated Retry")
		return
	}
	c.retried = true

	c.mutex.Lock()
	c.remoteConnID = p.SrcConnID
	c.token = p.Token
	// the new destination connection ID changes the Initial keys
	c.initialAEAD = handshake.NewInitialAEAD(p.SrcConnID, protocol.PerspectiveClient)
	c.mutex.Unlock()

	c.resetSendPacketNumber()
	c.tlsSession.Reset()
	if err := c.sendInitialPacket(); err != nil {
		utils.Errorf("resending Initial after Retry failed: %s", err)
	}
}

func (h *clientStateHandler) handleHandshake(p *HandshakePacket, ctx PipelineContext) {
	c := h.conn
	var result *handshake.HandshakeResult
	for _, f := range p.Frames() {
		cf, ok := f.(*wire.CryptoFrame)
		if !ok {
			continue
		}
		res, err := c.tlsSession.HandleHandshake(cf.Data)
		if err != nil {
			utils.Errorf("TLS handshake failed: %s", err)
			ctx.CloseConnection(qerr.CryptoError(tlsAlertHandshakeFailure), 0, err.Error())
			return
		}
		if res != nil {
			result = res
		}
	}

	// let the packet buffer record this packet before the Finished goes out,
	// so the ACK rides along
	ctx.Next(p)

	if result == nil {
		return
	}
	c.setOneRTTAEAD(result.OneRTT)
	if tp := c.tlsSession.PeerTransportParameters(); tp != nil {
		c.flowControl.UpdatePeerLimits(tp)
	}

	if err := c.sendPacket(&HandshakePacket{
		Version:    c.version,
		DestConnID: c.RemoteConnectionID(),
		SrcConnID:  c.LocalConnectionID(),
		PacketNum:  c.nextSendPacketNumber(),
		Payload:    []wire.Frame{&wire.CryptoFrame{Offset: 0, Data: result.FinishedBytes}},
	}); err != nil {
		utils.Errorf("sending Finished failed: %s", err)
		return
	}
	ctx.SetState(StateReady)
	utils.Infof("client connection %s ready", c.localConnID)
	c.completeHandshake(nil)
}
