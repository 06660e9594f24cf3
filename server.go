package quic

import (
	"errors"
	"net"
	"time"

	"github.com/quivy/quic/internal/handshake"
	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/qerr"
	"github.com/quivy/quic/internal/utils"
	"github.com/quivy/quic/internal/wire"
)

// A ServerConnection is the server end of a QUIC connection.
type ServerConnection struct {
	connection

	tlsSession     *handshake.ServerSession
	tokenGenerator *handshake.TokenGenerator
}

// NewServerConnection creates a connection for an incoming client.
// localConnID is the destination connection ID of the client's first packet;
// the Initial encryption keys are derived from it.
// Passing a nil flowControl installs the default handler.
func NewServerConnection(
	config *Config,
	localConnID protocol.ConnectionID,
	streamListener StreamListener,
	packetSender PacketSender,
	flowControl FlowControlHandler,
	remoteAddr net.Addr,
) (*ServerConnection, error) {
	config = populateConfig(config)
	if len(config.Certificates) == 0 || config.PrivateKey == nil {
		return nil, errors.New("server requires a certificate chain and a private key")
	}
	if flowControl == nil {
		flowControl = NewFlowControlHandler(protocol.PerspectiveServer, config)
	}

	c := &ServerConnection{}
	c.perspective = protocol.PerspectiveServer
	c.version = config.Version
	c.config = config
	c.packetSender = packetSender
	c.remoteAddr = remoteAddr
	c.localConnID = localConnID
	c.initialAEAD = handshake.NewInitialAEAD(localConnID, protocol.PerspectiveServer)
	c.flowControl = flowControl
	c.tracer = config.Tracer.TracerForConnection(protocol.PerspectiveServer, localConnID)

	c.tlsSession = handshake.NewServerSession(config.transportParameters(), config.Version, config.Certificates, config.PrivateKey)
	c.tokenGenerator = handshake.NewTokenGenerator(config.PrivateKey, config.RetryTokenTTL)
	c.streams = newStreamManager(protocol.PerspectiveServer, streamListener, &c.connection)
	c.inbound = []InboundHandler{
		&retryStage{conn: c},
		&serverStateHandler{conn: c},
		&packetBufferStage{conn: &c.connection},
		&streamManagerStage{conn: &c.connection},
		&flowControlStage{conn: &c.connection},
		&connectionFrameStage{conn: &c.connection},
	}
	c.init(StateStarted)
	if c.tracer != nil {
		c.tracer.StartedConnection(localConnID, nil)
	}
	return c, nil
}

// setLocalConnectionID updates the connection ID peers address us by.
// The Initial keys are re-derived from it.
func (c *ServerConnection) setLocalConnectionID(id protocol.ConnectionID) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.localConnID = id
	c.initialAEAD = handshake.NewInitialAEAD(id, protocol.PerspectiveServer)
}

// retryStage performs address validation. An Initial without a valid token
// is answered with a Retry and dropped.
type retryStage struct {
	conn *ServerConnection
}

func (h *retryStage) OnReceivePacket(p Packet, ctx PipelineContext) {
	c := h.conn
	ip, ok := p.(*InitialPacket)
	if ok && ctx.State() == StateStarted && c.config.RequireAddressValidation {
		if !c.tokenGenerator.Validate(ip.Token, c.remoteAddr, time.Now()) {
			h.sendRetry(ip)
			return
		}
	}
	ctx.Next(p)
}

func (h *retryStage) sendRetry(ip *InitialPacket) {
	c := h.conn
	newConnID, err := protocol.GenerateConnectionID(protocol.DefaultConnectionIDLen)
	if err != nil {
		utils.Errorf("generating connection ID for Retry failed: %s", err)
		return
	}
	c.setLocalConnectionID(newConnID)
	token := c.tokenGenerator.NewToken(c.remoteAddr, time.Now())
	utils.Infof("server sending Retry to %s", c.remoteAddr)
	c.sendPacketUnbuffered(&RetryPacket{
		Version:        c.version,
		DestConnID:     ip.SrcConnID,
		SrcConnID:      newConnID,
		OrigDestConnID: ip.DestConnID,
		Token:          token,
	})
}

// serverStateHandler is the TLS stage of the server's inbound pipeline.
type serverStateHandler struct {
	conn *ServerConnection
}

func (h *serverStateHandler) OnReceivePacket(p Packet, ctx PipelineContext) {
	switch ctx.State() {
	case StateStarted:
		if packet, ok := p.(*InitialPacket); ok {
			h.handleClientHello(packet, ctx)
		} else {
			utils.Infof("server got %s in unexpected state %s, dropping", p, ctx.State())
		}

	case StateBeforeReady:
		if packet, ok := p.(FullPacket); ok {
			h.handleClientFinished(packet, ctx)
		} else {
			utils.Infof("server got %s in unexpected state %s, dropping", p, ctx.State())
		}

	case StateReady, StateClosing, StateClosed:
		if _, ok := p.(FullPacket); ok {
			ctx.Next(p)
		} else {
			utils.Infof("server got %s in unexpected state %s, dropping", p, ctx.State())
		}

	default:
		utils.Infof("server got %s in unexpected state %s, dropping", p, ctx.State())
	}
}

func (h *serverStateHandler) handleClientHello(p *InitialPacket, ctx PipelineContext) {
	c := h.conn
	// the client's source connection ID is adopted once and never changes
	c.mutex.Lock()
	if c.remoteConnID == nil {
		c.remoteConnID = p.SrcConnID
	}
	c.mutex.Unlock()

	for _, f := range p.Frames() {
		cf, ok := f.(*wire.CryptoFrame)
		if !ok {
			continue
		}
		shah, err := c.tlsSession.HandleClientHello(cf.Data)
		if err != nil {
			utils.Errorf("TLS handshake failed: %s", err)
			ctx.CloseConnection(qerr.CryptoError(tlsAlertHandshakeFailure), 0, err.Error())
			return
		}

		// ServerHello goes out at the Initial level
		if err := c.sendPacket(&InitialPacket{
			Version:    c.version,
			DestConnID: c.RemoteConnectionID(),
			SrcConnID:  c.LocalConnectionID(),
			PacketNum:  c.nextSendPacketNumber(),
			Payload:    []wire.Frame{&wire.CryptoFrame{Offset: 0, Data: shah.ServerHello}},
		}); err != nil {
			utils.Errorf("sending ServerHello failed: %s", err)
			return
		}
		c.setHandshakeAEAD(shah.HandshakeAEAD)

		// the rest of the server's handshake at the Handshake level
		if err := c.sendPacket(&HandshakePacket{
			Version:    c.version,
			DestConnID: c.RemoteConnectionID(),
			SrcConnID:  c.LocalConnectionID(),
			PacketNum:  c.nextSendPacketNumber(),
			Payload:    []wire.Frame{&wire.CryptoFrame{Offset: 0, Data: shah.ServerHandshake}},
		}); err != nil {
			utils.Errorf("sending server handshake failed: %s", err)
			return
		}
		c.setOneRTTAEAD(shah.OneRTT)
		if tp := c.tlsSession.PeerTransportParameters(); tp != nil {
			c.flowControl.UpdatePeerLimits(tp)
		}
		ctx.SetState(StateBeforeReady)
	}
	ctx.Next(p)
}

func (h *serverStateHandler) handleClientFinished(p FullPacket, ctx PipelineContext) {
	c := h.conn
	for _, f := range p.Frames() {
		cf, ok := f.(*wire.CryptoFrame)
		if !ok {
			continue
		}
		if err := c.tlsSession.HandleClientFinished(cf.Data); err != nil {
			utils.Errorf("verifying client Finished failed: %s", err)
			ctx.CloseConnection(qerr.CryptoError(tlsAlertHandshakeFailure), 0, err.Error())
			return
		}
		ctx.SetState(StateReady)
		utils.Infof("server connection %s ready", c.localConnID)
	}
	ctx.Next(p)
}
