package quic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quivy/quic/internal/handshake"
	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/wire"
)

func initialAEADPair(t *testing.T) (client, server *handshake.AEAD, connID protocol.ConnectionID) {
	t.Helper()
	connID, err := protocol.GenerateConnectionID(protocol.DefaultConnectionIDLen)
	require.NoError(t, err)
	return handshake.NewInitialAEAD(connID, protocol.PerspectiveClient),
		handshake.NewInitialAEAD(connID, protocol.PerspectiveServer),
		connID
}

func aeadProvider(aead *handshake.AEAD) func(protocol.EncryptionLevel) *handshake.AEAD {
	return func(protocol.EncryptionLevel) *handshake.AEAD { return aead }
}

func TestInitialPacketRoundtrip(t *testing.T) {
	clientAEAD, serverAEAD, connID := initialAEADPair(t)
	srcConnID, err := protocol.GenerateConnectionID(protocol.DefaultConnectionIDLen)
	require.NoError(t, err)

	p := &InitialPacket{
		Version:    protocol.VersionDraft18,
		DestConnID: connID,
		SrcConnID:  srcConnID,
		Token:      []byte("address validation token"),
		PacketNum:  7,
		Payload: []wire.Frame{
			&wire.CryptoFrame{Offset: 0, Data: []byte("client hello bytes")},
			&wire.PaddingFrame{NumBytes: 100},
		},
	}

	b := &bytes.Buffer{}
	require.NoError(t, p.Write(b, clientAEAD))

	parsed, err := ParsePacket(b.Bytes(), 0, aeadProvider(serverAEAD))
	require.NoError(t, err)
	initial, ok := parsed.(*InitialPacket)
	require.True(t, ok)
	require.Equal(t, connID, initial.DestinationConnectionID())
	require.Equal(t, srcConnID, initial.SourceConnectionID())
	require.Equal(t, p.Token, initial.Token)
	require.Equal(t, protocol.PacketNumber(7), initial.PacketNumber())
	require.Equal(t, protocol.VersionDraft18, initial.Version)
	// padding is skipped during parsing
	require.Len(t, initial.Frames(), 1)
	cf, ok := initial.Frames()[0].(*wire.CryptoFrame)
	require.True(t, ok)
	require.Equal(t, []byte("client hello bytes"), cf.Data)
}

func TestHandshakePacketRoundtrip(t *testing.T) {
	clientAEAD, serverAEAD, connID := initialAEADPair(t)
	srcConnID, err := protocol.GenerateConnectionID(protocol.DefaultConnectionIDLen)
	require.NoError(t, err)

	p := &HandshakePacket{
		Version:    protocol.VersionDraft18,
		DestConnID: connID,
		SrcConnID:  srcConnID,
		PacketNum:  2,
		Payload:    []wire.Frame{&wire.CryptoFrame{Offset: 123, Data: []byte("finished")}},
	}
	b := &bytes.Buffer{}
	require.NoError(t, p.Write(b, serverAEAD))

	parsed, err := ParsePacket(b.Bytes(), 0, aeadProvider(clientAEAD))
	require.NoError(t, err)
	hp, ok := parsed.(*HandshakePacket)
	require.True(t, ok)
	require.Equal(t, protocol.PacketNumber(2), hp.PacketNumber())
	cf, ok := hp.Frames()[0].(*wire.CryptoFrame)
	require.True(t, ok)
	require.Equal(t, protocol.ByteCount(123), cf.Offset)
	require.Equal(t, []byte("finished"), cf.Data)
}

func TestShortPacketRoundtrip(t *testing.T) {
	clientAEAD, serverAEAD, connID := initialAEADPair(t)

	p := &ShortPacket{
		DestConnID: connID,
		PacketNum:  42,
		Payload: []wire.Frame{
			&wire.StreamFrame{StreamID: 4, Offset: 10, Fin: true, Data: []byte("stream data")},
			&wire.PingFrame{},
		},
	}
	b := &bytes.Buffer{}
	require.NoError(t, p.Write(b, clientAEAD))

	parsed, err := ParsePacket(b.Bytes(), connID.Len(), aeadProvider(serverAEAD))
	require.NoError(t, err)
	sp, ok := parsed.(*ShortPacket)
	require.True(t, ok)
	require.Equal(t, connID, sp.DestinationConnectionID())
	require.Equal(t, protocol.PacketNumber(42), sp.PacketNumber())
	require.Len(t, sp.Frames(), 2)
	sf, ok := sp.Frames()[0].(*wire.StreamFrame)
	require.True(t, ok)
	require.Equal(t, []byte("stream data"), sf.Data)
	require.True(t, sf.Fin)
}

func TestPacketDecryptionFailure(t *testing.T) {
	clientAEAD, _, connID := initialAEADPair(t)
	otherAEAD := handshake.NewInitialAEAD(protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}, protocol.PerspectiveServer)

	p := &InitialPacket{
		Version:    protocol.VersionDraft18,
		DestConnID: connID,
		PacketNum:  1,
		Payload:    []wire.Frame{&wire.CryptoFrame{Data: []byte("hello")}},
	}
	b := &bytes.Buffer{}
	require.NoError(t, p.Write(b, clientAEAD))

	// decrypting with the wrong keys must fail, not panic
	_, err := ParsePacket(b.Bytes(), 0, aeadProvider(otherAEAD))
	require.Error(t, err)
}

func TestRetryPacketRoundtrip(t *testing.T) {
	destConnID := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	srcConnID := protocol.ConnectionID{8, 7, 6, 5, 4, 3, 2, 1}
	origConnID := protocol.ConnectionID{9, 9, 9, 9}

	p := &RetryPacket{
		Version:        protocol.VersionDraft18,
		DestConnID:     destConnID,
		SrcConnID:      srcConnID,
		OrigDestConnID: origConnID,
		Token:          []byte("retry token"),
	}
	b := &bytes.Buffer{}
	require.NoError(t, p.Write(b, nil))

	parsed, err := ParsePacket(b.Bytes(), 0, aeadProvider(nil))
	require.NoError(t, err)
	retry, ok := parsed.(*RetryPacket)
	require.True(t, ok)
	require.Equal(t, destConnID, retry.DestinationConnectionID())
	require.Equal(t, srcConnID, retry.SourceConnectionID())
	require.Equal(t, origConnID, retry.OrigDestConnID)
	require.Equal(t, []byte("retry token"), retry.Token)
}

func TestVersionNegotiationPacketRoundtrip(t *testing.T) {
	destConnID := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	srcConnID := protocol.ConnectionID{8, 7, 6, 5}

	p := &VersionNegotiationPacket{
		DestConnID:        destConnID,
		SrcConnID:         srcConnID,
		SupportedVersions: []protocol.Version{protocol.VersionDraft18, 0x1},
	}
	b := &bytes.Buffer{}
	require.NoError(t, p.Write(b, nil))

	parsed, err := ParsePacket(b.Bytes(), 0, aeadProvider(nil))
	require.NoError(t, err)
	vn, ok := parsed.(*VersionNegotiationPacket)
	require.True(t, ok)
	require.Equal(t, destConnID, vn.DestinationConnectionID())
	require.Equal(t, srcConnID, vn.SourceConnectionID())
	require.Equal(t, []protocol.Version{protocol.VersionDraft18, 0x1}, vn.SupportedVersions)
}
