package handshake

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quivy/quic/internal/protocol"
)

func testTransportParameters() *TransportParameters {
	return &TransportParameters{
		InitialMaxData:                 1 << 20,
		InitialMaxStreamDataBidiLocal:  1 << 19,
		InitialMaxStreamDataBidiRemote: 1 << 18,
		InitialMaxStreamDataUni:        1 << 17,
		InitialMaxStreamsBidi:          100,
		InitialMaxStreamsUni:           10,
		IdleTimeout:                    30 * time.Second,
		AckDelayExponent:               3,
		MaxAckDelay:                    25 * time.Millisecond,
	}
}

func generateCertChain(t *testing.T, key crypto.Signer) [][]byte {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test server"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	return [][]byte{der}
}

// runHandshake drives a client and a server session against each other
func runHandshake(t *testing.T, key crypto.Signer, validator CertificateValidator) (*ClientSession, *ServerSession, *HandshakeResult, *ServerHelloAndHandshake) {
	t.Helper()
	certs := generateCertChain(t, key)

	client := NewClientSession(testTransportParameters(), protocol.VersionDraft18, "localhost", validator)
	server := NewServerSession(testTransportParameters(), protocol.VersionDraft18, certs, key)

	clientHello, err := client.StartHandshake()
	require.NoError(t, err)

	shah, err := server.HandleClientHello(clientHello)
	require.NoError(t, err)
	require.NotNil(t, shah.HandshakeAEAD)
	require.NotNil(t, shah.OneRTT)

	handshakeAEAD, err := client.HandleServerHello(shah.ServerHello)
	require.NoError(t, err)
	require.NotNil(t, handshakeAEAD)

	result, err := client.HandleHandshake(shah.ServerHandshake)
	require.NoError(t, err)
	require.NotNil(t, result)

	require.NoError(t, server.HandleClientFinished(result.FinishedBytes))
	return client, server, result, shah
}

func TestHandshakeWithECDSAKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	client, server, result, shah := runHandshake(t, key, NoopCertificateValidator{})

	// the 1-RTT AEADs must interoperate
	sealed := result.OneRTT.Seal(nil, []byte("application data"), 1, nil)
	opened, err := shah.OneRTT.Open(nil, sealed, 1, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("application data"), opened)

	sealed = shah.OneRTT.Seal(nil, []byte("response"), 1, nil)
	opened, err = result.OneRTT.Open(nil, sealed, 1, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("response"), opened)

	// transport parameters were exchanged in both directions
	require.NotNil(t, client.PeerTransportParameters())
	require.Equal(t, protocol.ByteCount(1<<20), client.PeerTransportParameters().InitialMaxData)
	require.NotNil(t, server.PeerTransportParameters())
	require.Equal(t, protocol.ByteCount(1<<20), server.PeerTransportParameters().InitialMaxData)
}

func TestHandshakeWithRSAKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	runHandshake(t, key, NoopCertificateValidator{})
}

func TestHandshakeDataArrivingInPieces(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	certs := generateCertChain(t, key)

	client := NewClientSession(testTransportParameters(), protocol.VersionDraft18, "", NoopCertificateValidator{})
	server := NewServerSession(testTransportParameters(), protocol.VersionDraft18, certs, key)

	clientHello, err := client.StartHandshake()
	require.NoError(t, err)
	shah, err := server.HandleClientHello(clientHello)
	require.NoError(t, err)
	_, err = client.HandleServerHello(shah.ServerHello)
	require.NoError(t, err)

	// feed the server flight byte by byte; the result appears only at the end
	var result *HandshakeResult
	for i := range shah.ServerHandshake {
		res, err := client.HandleHandshake(shah.ServerHandshake[i : i+1])
		require.NoError(t, err)
		if res != nil {
			require.Equal(t, len(shah.ServerHandshake)-1, i)
			result = res
		}
	}
	require.NotNil(t, result)
}

func TestHandshakeCertificateValidationFailure(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	certs := generateCertChain(t, key)

	// an empty root pool rejects the self-signed chain
	client := NewClientSession(testTransportParameters(), protocol.VersionDraft18, "localhost", &X509CertificateValidator{Roots: x509.NewCertPool(), ServerName: "localhost"})
	server := NewServerSession(testTransportParameters(), protocol.VersionDraft18, certs, key)

	clientHello, err := client.StartHandshake()
	require.NoError(t, err)
	shah, err := server.HandleClientHello(clientHello)
	require.NoError(t, err)
	_, err = client.HandleServerHello(shah.ServerHello)
	require.NoError(t, err)

	_, err = client.HandleHandshake(shah.ServerHandshake)
	require.ErrorContains(t, err, "certificate validation failed")
}

func TestHandshakeReset(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	certs := generateCertChain(t, key)

	client := NewClientSession(testTransportParameters(), protocol.VersionDraft18, "", NoopCertificateValidator{})
	firstHello, err := client.StartHandshake()
	require.NoError(t, err)

	// a Retry resets the session, the handshake starts over
	client.Reset()
	secondHello, err := client.StartHandshake()
	require.NoError(t, err)
	require.NotEqual(t, firstHello, secondHello) // fresh random and key share

	server := NewServerSession(testTransportParameters(), protocol.VersionDraft18, certs, key)
	shah, err := server.HandleClientHello(secondHello)
	require.NoError(t, err)
	_, err = client.HandleServerHello(shah.ServerHello)
	require.NoError(t, err)
	result, err := client.HandleHandshake(shah.ServerHandshake)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NoError(t, server.HandleClientFinished(result.FinishedBytes))
}

func TestServerRejectsBadClientFinished(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	certs := generateCertChain(t, key)

	client := NewClientSession(testTransportParameters(), protocol.VersionDraft18, "", NoopCertificateValidator{})
	server := NewServerSession(testTransportParameters(), protocol.VersionDraft18, certs, key)

	clientHello, err := client.StartHandshake()
	require.NoError(t, err)
	shah, err := server.HandleClientHello(clientHello)
	require.NoError(t, err)
	_, err = client.HandleServerHello(shah.ServerHello)
	require.NoError(t, err)
	result, err := client.HandleHandshake(shah.ServerHandshake)
	require.NoError(t, err)

	bad := append([]byte{}, result.FinishedBytes...)
	bad[len(bad)-1] ^= 0xff
	require.Error(t, server.HandleClientFinished(bad))
}

func TestClientHelloRoundtrip(t *testing.T) {
	tp := testTransportParameters().Marshal(protocol.PerspectiveClient, protocol.VersionDraft18)
	random := make([]byte, 32)
	rand.Read(random)
	keyShare := make([]byte, 32)
	rand.Read(keyShare)

	ch := &clientHello{
		random:          random,
		cipherSuites:    supportedCipherSuites,
		keyShare:        keyShare,
		serverName:      "example.org",
		transportParams: tp,
	}
	parsed, err := parseClientHello(ch.marshal())
	require.NoError(t, err)
	require.Equal(t, random, parsed.random)
	require.Equal(t, supportedCipherSuites, parsed.cipherSuites)
	require.Equal(t, keyShare, parsed.keyShare)
	require.Equal(t, "example.org", parsed.serverName)
	require.Equal(t, tp, parsed.transportParams)
}
