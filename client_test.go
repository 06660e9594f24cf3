package quic

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/quivy/quic/internal/handshake"
	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/qerr"
	"github.com/quivy/quic/internal/wire"
)

var (
	testData  = []byte("Hello")
	testData2 = []byte("world")
)

type clientTestEnv struct {
	t *testing.T

	conn     *ClientConnection
	sender   *MockPacketSender
	listener *MockStreamListener

	serverTLS *handshake.ServerSession

	destConnID   protocol.ConnectionID // what the client dials
	serverConnID protocol.ConnectionID // what the server advertises

	sent      []Packet
	destroyed int

	packetNumber protocol.PacketNumber // server side send counter
	streamID     protocol.StreamID
}

func newClientTestEnv(t *testing.T) *clientTestEnv {
	ctrl := gomock.NewController(t)
	env := &clientTestEnv{t: t, streamID: protocol.StreamIDForNum(protocol.StreamTypeBidi, protocol.PerspectiveServer, 3)}

	var err error
	env.destConnID, err = protocol.GenerateConnectionID(protocol.DefaultConnectionIDLen)
	require.NoError(t, err)
	env.serverConnID, err = protocol.GenerateConnectionID(protocol.DefaultConnectionIDLen)
	require.NoError(t, err)

	env.sender = NewMockPacketSender(ctrl)
	env.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(p Packet, _ *handshake.AEAD) error {
		env.sent = append(env.sent, p)
		return nil
	}).AnyTimes()
	env.sender.EXPECT().Destroy().DoAndReturn(func() error {
		env.destroyed++
		return nil
	}).AnyTimes()

	env.listener = NewMockStreamListener(ctrl)

	conf := &Config{CertificateValidator: handshake.NoopCertificateValidator{}}
	env.conn, err = NewClientConnection(conf, env.destConnID, env.listener, env.sender, MockFlowControlHandler{}, testAddr())
	require.NoError(t, err)

	certs, key := generateTestCertChain(t)
	env.serverTLS = handshake.NewServerSession(conf.transportParameters(), protocol.VersionDraft18, certs, key)
	return env
}

func testAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(192, 168, 1, 42), Port: 4433}
}

func (e *clientTestEnv) nextPacketNumber() protocol.PacketNumber {
	e.packetNumber++
	return e.packetNumber
}

// shortPacket builds a server-to-client 1-RTT packet
func (e *clientTestEnv) shortPacket(frames ...wire.Frame) *ShortPacket {
	return &ShortPacket{
		DestConnID: e.conn.LocalConnectionID(),
		PacketNum:  e.nextPacketNumber(),
		Payload:    frames,
	}
}

func (e *clientTestEnv) sentPacket(number int) Packet {
	require.GreaterOrEqual(e.t, len(e.sent), number)
	return e.sent[number-1]
}

func (e *clientTestEnv) assertAck(number int, pn, smallest, largest protocol.PacketNumber) {
	p, ok := e.sentPacket(number).(*ShortPacket)
	require.True(e.t, ok, "packet %d is not a short packet", number)
	require.Equal(e.t, pn, p.PacketNumber())
	require.Equal(e.t, e.serverConnID, p.DestinationConnectionID())
	ack, ok := p.Frames()[0].(*wire.AckFrame)
	require.True(e.t, ok, "first frame is not an ACK")
	require.Equal(e.t, []wire.AckBlock{{Smallest: smallest, Largest: largest}}, ack.Blocks)
}

// handshake drives the client through a complete handshake, including a Retry.
func (e *clientTestEnv) handshake() <-chan error {
	t := e.t

	handshakeChan, err := e.conn.Handshake()
	require.NoError(t, err)

	// the first Initial: no token, padded to 1200 bytes
	initial, ok := e.sentPacket(1).(*InitialPacket)
	require.True(t, ok)
	require.Equal(t, protocol.PacketNumber(1), initial.PacketNumber())
	require.Equal(t, e.destConnID, initial.DestinationConnectionID())
	require.NotEmpty(t, initial.SourceConnectionID())
	require.Empty(t, initial.Token)
	require.Equal(t, protocol.VersionDraft18, initial.Version)
	require.IsType(t, &wire.CryptoFrame{}, initial.Frames()[0])
	require.GreaterOrEqual(t, int(payloadLength(initial.Frames(), protocol.VersionDraft18)), protocol.MinInitialPacketSize)

	srcConnID := initial.SourceConnectionID()

	require.False(t, isHandshakeDone(handshakeChan))
	require.Equal(t, StateBeforeHello, e.conn.State())

	// the Initial carried no token, the server asks for address validation
	retryToken := []byte("address validation token")
	e.conn.OnPacket(&RetryPacket{
		Version:        protocol.VersionDraft18,
		DestConnID:     srcConnID,
		SrcConnID:      e.serverConnID,
		OrigDestConnID: e.destConnID,
		Token:          retryToken,
	})

	// the Initial is resent: packet number reset, token attached, new destination
	initial2, ok := e.sentPacket(2).(*InitialPacket)
	require.True(t, ok)
	require.Equal(t, protocol.PacketNumber(1), initial2.PacketNumber())
	require.Equal(t, e.serverConnID, initial2.DestinationConnectionID())
	require.Equal(t, srcConnID, initial2.SourceConnectionID())
	require.Equal(t, retryToken, initial2.Token)
	require.GreaterOrEqual(t, int(payloadLength(initial2.Frames(), protocol.VersionDraft18)), protocol.MinInitialPacketSize)

	chf, ok := initial2.Frames()[0].(*wire.CryptoFrame)
	require.True(t, ok)

	require.False(t, isHandshakeDone(handshakeChan))
	require.Equal(t, StateBeforeHello, e.conn.State())

	shah, err := e.serverTLS.HandleClientHello(chf.Data)
	require.NoError(t, err)

	// ServerHello arrives
	e.conn.OnPacket(&InitialPacket{
		Version:    protocol.VersionDraft18,
		DestConnID: srcConnID,
		SrcConnID:  e.serverConnID,
		PacketNum:  e.nextPacketNumber(),
		Payload:    []wire.Frame{&wire.CryptoFrame{Offset: 0, Data: shah.ServerHello}},
	})

	// no packet goes out yet
	require.Len(t, e.sent, 2)
	require.False(t, isHandshakeDone(handshakeChan))
	require.Equal(t, StateBeforeHandshake, e.conn.State())

	// the server handshake flight arrives
	e.conn.OnPacket(&HandshakePacket{
		Version:    protocol.VersionDraft18,
		DestConnID: srcConnID,
		SrcConnID:  e.serverConnID,
		PacketNum:  e.nextPacketNumber(),
		Payload:    []wire.Frame{&wire.CryptoFrame{Offset: 0, Data: shah.ServerHandshake}},
	})

	// the client Finished, with the ACK of the handshake packet riding along
	hp, ok := e.sentPacket(3).(*HandshakePacket)
	require.True(t, ok)
	require.Equal(t, protocol.PacketNumber(2), hp.PacketNumber())
	require.Equal(t, e.serverConnID, hp.DestinationConnectionID())
	ack, ok := hp.Frames()[0].(*wire.AckFrame)
	require.True(t, ok)
	require.Equal(t, []wire.AckBlock{{Smallest: 2, Largest: 2}}, ack.Blocks)
	fin, ok := hp.Frames()[1].(*wire.CryptoFrame)
	require.True(t, ok)

	// the server accepts the Finished
	require.NoError(t, e.serverTLS.HandleClientFinished(fin.Data))

	require.True(t, isHandshakeDone(handshakeChan))
	require.Equal(t, StateReady, e.conn.State())
	return handshakeChan
}

func isHandshakeDone(c <-chan error) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

func TestClientHandshake(t *testing.T) {
	env := newClientTestEnv(t)
	handshakeChan := env.handshake()
	require.NoError(t, <-handshakeChan)
}

func TestClientHandshakeInvalidState(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()
	_, err := env.conn.Handshake()
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestClientIgnoresSecondRetry(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()

	numSent := len(env.sent)
	env.conn.OnPacket(&RetryPacket{
		Version:    protocol.VersionDraft18,
		DestConnID: env.conn.LocalConnectionID(),
		SrcConnID:  env.serverConnID,
		Token:      []byte("another token"),
	})
	require.Len(t, env.sent, numSent)
}

func TestClientStreamFrame(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()

	env.listener.EXPECT().OnData(gomock.Any(), testData, true)
	env.conn.OnPacket(env.shortPacket(&wire.StreamFrame{StreamID: env.streamID, Offset: 0, Fin: true, Data: testData}))

	env.assertAck(4, 3, 3, 3)
}

func TestClientStreamFrameInOrder(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()

	gomock.InOrder(
		env.listener.EXPECT().OnData(gomock.Any(), testData, false),
		env.listener.EXPECT().OnData(gomock.Any(), testData2, true),
	)

	env.conn.OnPacket(env.shortPacket(&wire.StreamFrame{StreamID: env.streamID, Offset: 0, Data: testData}))
	env.conn.OnPacket(env.shortPacket(&wire.StreamFrame{StreamID: env.streamID, Offset: protocol.ByteCount(len(testData)), Fin: true, Data: testData2}))

	env.assertAck(4, 3, 3, 3)
	env.assertAck(5, 4, 4, 4)
}

func TestClientStreamFrameOutOfOrder(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()

	gomock.InOrder(
		env.listener.EXPECT().OnData(gomock.Any(), testData, false),
		env.listener.EXPECT().OnData(gomock.Any(), testData2, true),
	)

	env.conn.OnPacket(env.shortPacket(&wire.StreamFrame{StreamID: env.streamID, Offset: protocol.ByteCount(len(testData)), Fin: true, Data: testData2}))
	env.conn.OnPacket(env.shortPacket(&wire.StreamFrame{StreamID: env.streamID, Offset: 0, Data: testData}))

	env.assertAck(4, 3, 3, 3)
	env.assertAck(5, 4, 4, 4)
}

func TestClientDuplicatePacketAckedOnce(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()

	env.listener.EXPECT().OnData(gomock.Any(), testData, true)
	p := env.shortPacket(&wire.StreamFrame{StreamID: env.streamID, Offset: 0, Fin: true, Data: testData})
	env.conn.OnPacket(p)
	env.conn.OnPacket(p)

	env.assertAck(4, 3, 3, 3)
	// the duplicate didn't produce a second ACK
	require.Len(t, env.sent, 4)
}

func TestClientResetStreamFrame(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()

	env.listener.EXPECT().OnReset(gomock.Any(), uint16(123))
	env.conn.OnPacket(env.shortPacket(&wire.ResetStreamFrame{StreamID: env.streamID, ErrorCode: 123, FinalSize: 0}))

	env.assertAck(4, 3, 3, 3)
}

func TestClientPing(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()

	env.conn.OnPacket(env.shortPacket(&wire.PingFrame{}))

	// no application callback, just an ACK
	env.assertAck(4, 3, 3, 3)
}

func TestClientPeerClosesConnection(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()

	env.conn.OnPacket(env.shortPacket(&wire.ConnectionCloseFrame{
		ErrorCode:    qerr.ErrorCode(123),
		FrameType:    0x8, // STREAM
		ReasonPhrase: "Closed",
	}))

	// the closing packet is acked before the connection dies
	env.assertAck(4, 3, 3, 3)
	require.Equal(t, StateClosed, env.conn.State())
	require.Equal(t, 1, env.destroyed)

	_, err := env.conn.Send(&wire.PingFrame{})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestClientImmediateClose(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()

	require.NoError(t, env.conn.Close())
	require.Equal(t, StateClosed, env.conn.State())
	require.Equal(t, 1, env.destroyed)

	// the CONNECTION_CLOSE went out
	last, ok := env.sent[len(env.sent)-1].(*ShortPacket)
	require.True(t, ok)
	ccf, ok := last.Frames()[0].(*wire.ConnectionCloseFrame)
	require.True(t, ok)
	require.Equal(t, qerr.NoError, ccf.ErrorCode)

	_, err := env.conn.Send(&wire.PingFrame{})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestClientVersionNegotiation(t *testing.T) {
	env := newClientTestEnv(t)

	handshakeChan, err := env.conn.Handshake()
	require.NoError(t, err)
	require.Len(t, env.sent, 1)

	env.conn.OnPacket(&VersionNegotiationPacket{
		DestConnID:        env.conn.LocalConnectionID(),
		SrcConnID:         env.serverConnID,
		SupportedVersions: []protocol.Version{0x1},
	})

	// no more packets, the sender is destroyed
	require.Len(t, env.sent, 1)
	require.Equal(t, 1, env.destroyed)
	require.Equal(t, StateClosed, env.conn.State())
	require.Error(t, <-handshakeChan)
}

func TestClientFrameBeforeHandshake(t *testing.T) {
	env := newClientTestEnv(t)

	// not handshaking: the packet is dropped, nothing happens
	env.conn.OnPacket(env.shortPacket(&wire.PingFrame{}))
	require.Empty(t, env.sent)
}

func TestClientOpenStreamAndWrite(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()

	s, err := env.conn.OpenStream(protocol.StreamTypeBidi)
	require.NoError(t, err)
	require.Equal(t, protocol.StreamID(0), s.StreamID())
	require.NoError(t, s.Write(testData, false))
	require.NoError(t, s.Write(testData2, true))

	p1, ok := env.sentPacket(4).(*ShortPacket)
	require.True(t, ok)
	f1 := p1.Frames()[0].(*wire.StreamFrame)
	require.Equal(t, protocol.ByteCount(0), f1.Offset)
	require.Equal(t, testData, f1.Data)
	require.False(t, f1.Fin)

	p2, ok := env.sentPacket(5).(*ShortPacket)
	require.True(t, ok)
	f2 := p2.Frames()[0].(*wire.StreamFrame)
	require.Equal(t, protocol.ByteCount(len(testData)), f2.Offset)
	require.Equal(t, testData2, f2.Data)
	require.True(t, f2.Fin)

	// the send side is sealed
	require.Error(t, s.Write([]byte("more"), false))
}

func TestClientFlowControlWindowUpdate(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := &clientTestEnv{t: t, streamID: protocol.StreamIDForNum(protocol.StreamTypeBidi, protocol.PerspectiveServer, 3)}

	var err error
	env.destConnID, err = protocol.GenerateConnectionID(protocol.DefaultConnectionIDLen)
	require.NoError(t, err)
	env.serverConnID, err = protocol.GenerateConnectionID(protocol.DefaultConnectionIDLen)
	require.NoError(t, err)

	env.sender = NewMockPacketSender(ctrl)
	env.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(p Packet, _ *handshake.AEAD) error {
		env.sent = append(env.sent, p)
		return nil
	}).AnyTimes()
	env.sender.EXPECT().Destroy().Return(nil).AnyTimes()
	env.listener = NewMockStreamListener(ctrl)

	conf := &Config{
		// a window small enough that a single frame crosses the update threshold
		InitialMaxStreamDataBidiRemote: 8,
		CertificateValidator:           handshake.NoopCertificateValidator{},
	}
	env.conn, err = NewClientConnection(conf, env.destConnID, env.listener, env.sender, nil, testAddr())
	require.NoError(t, err)

	certs, key := generateTestCertChain(t)
	env.serverTLS = handshake.NewServerSession(conf.transportParameters(), protocol.VersionDraft18, certs, key)

	env.handshake()

	env.listener.EXPECT().OnData(gomock.Any(), testData, false)
	env.conn.OnPacket(env.shortPacket(&wire.StreamFrame{StreamID: env.streamID, Offset: 0, Data: testData}))

	// packet #4 is the ACK, packet #5 announces the new stream window
	env.assertAck(4, 3, 3, 3)
	update, ok := env.sentPacket(5).(*ShortPacket)
	require.True(t, ok)
	msd, ok := update.Frames()[0].(*wire.MaxStreamDataFrame)
	require.True(t, ok)
	require.Equal(t, env.streamID, msd.StreamID)
	require.Equal(t, protocol.ByteCount(len(testData))+8, msd.MaximumStreamData)
}

func TestClientIdleTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := NewMockPacketSender(ctrl)
	destroyed := make(chan struct{})
	sender.EXPECT().Destroy().DoAndReturn(func() error {
		close(destroyed)
		return nil
	})

	destConnID, err := protocol.GenerateConnectionID(protocol.DefaultConnectionIDLen)
	require.NoError(t, err)
	conf := &Config{
		MaxIdleTimeout:       10 * time.Millisecond,
		CertificateValidator: handshake.NoopCertificateValidator{},
	}
	conn, err := NewClientConnection(conf, destConnID, NewMockStreamListener(ctrl), sender, MockFlowControlHandler{}, testAddr())
	require.NoError(t, err)

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("idle timeout did not fire")
	}
	// closed silently: the sender saw no CONNECTION_CLOSE
	require.Equal(t, StateClosed, conn.State())
}

func TestClientRetransmission(t *testing.T) {
	env := newClientTestEnv(t)
	env.handshake()

	// nothing was acked yet, so the handshake frames are still buffered
	require.NoError(t, env.conn.RetransmitUnacked(time.Now().Add(time.Second)))

	p, ok := env.sentPacket(4).(*ShortPacket)
	require.True(t, ok)
	require.NotEmpty(t, p.Frames())
	for _, f := range p.Frames() {
		require.IsType(t, &wire.CryptoFrame{}, f)
	}

	// nothing has been sitting long enough
	require.NoError(t, env.conn.RetransmitUnacked(time.Now().Add(-time.Hour)))
	require.Len(t, env.sent, 4)
}
