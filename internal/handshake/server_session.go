package handshake

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/quivy/quic/internal/protocol"
	"golang.org/x/crypto/curve25519"
)

// A ServerHelloAndHandshake is everything the server derives from a ClientHello.
type ServerHelloAndHandshake struct {
	// ServerHello is sent in a CRYPTO frame at the Initial level
	ServerHello []byte
	// HandshakeAEAD protects the Handshake level
	HandshakeAEAD *AEAD
	// ServerHandshake is EncryptedExtensions..Finished, sent in a CRYPTO frame
	// at the Handshake level
	ServerHandshake []byte
	// OneRTT protects the 1-RTT level
	OneRTT *AEAD
}

// A ServerSession is the server side of a TLS 1.3 handshake carried in CRYPTO frames.
type ServerSession struct {
	params       *TransportParameters
	version      protocol.Version
	certificates [][]byte
	privateKey   crypto.Signer

	suite *cipherSuite
	ks    *keySchedule

	peerParams *TransportParameters

	// the verify data the client Finished must carry
	expectedClientFinished []byte
	finishedDone           bool
}

// NewServerSession creates a TLS session for an incoming connection.
// certificates is the DER encoded chain, leaf first.
func NewServerSession(params *TransportParameters, version protocol.Version, certificates [][]byte, privateKey crypto.Signer) *ServerSession {
	return &ServerSession{
		params:       params,
		version:      version,
		certificates: certificates,
		privateKey:   privateKey,
	}
}

// HandleClientHello processes the ClientHello and produces everything needed
// to complete the server's side of the handshake.
func (s *ServerSession) HandleClientHello(data []byte) (*ServerHelloAndHandshake, error) {
	if s.ks != nil {
		return nil, errors.New("already received a ClientHello")
	}
	ch, err := parseClientHello(data)
	if err != nil {
		return nil, err
	}
	if ch.keyShare == nil {
		return nil, errors.New("client did not offer an X25519 key share")
	}
	suiteID, err := chooseCipherSuite(ch.cipherSuites)
	if err != nil {
		return nil, err
	}
	s.suite = getCipherSuite(suiteID)
	if ch.transportParams != nil {
		params, err := ParseTransportParameters(ch.transportParams, protocol.PerspectiveClient)
		if err != nil {
			return nil, err
		}
		s.peerParams = params
	}

	s.ks = newKeySchedule(s.suite)
	s.ks.addToTranscript(data)

	var privateKey [32]byte
	if _, err := rand.Read(privateKey[:]); err != nil {
		return nil, err
	}
	publicKey, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	sharedSecret, err := curve25519.X25519(privateKey[:], ch.keyShare)
	if err != nil {
		return nil, err
	}

	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return nil, err
	}
	shBytes := (&serverHello{
		random:      random,
		cipherSuite: suiteID,
		keyShare:    publicKey,
	}).marshal()
	s.ks.addToTranscript(shBytes)
	s.ks.setSharedSecret(sharedSecret)

	handshakeAEAD := newAEAD(s.suite, s.ks.serverHandshakeTrafficSecret, s.ks.clientHandshakeTrafficSecret)

	eeBytes := (&encryptedExtensions{
		transportParams: s.params.Marshal(protocol.PerspectiveServer, s.version),
	}).marshal()
	s.ks.addToTranscript(eeBytes)

	certBytes := (&certificateMsg{certificates: s.certificates}).marshal()
	s.ks.addToTranscript(certBytes)

	cvBytes, err := s.signCertificateVerify()
	if err != nil {
		return nil, err
	}
	s.ks.addToTranscript(cvBytes)

	finBytes := (&finishedMsg{
		verifyData: s.ks.finishedVerifyData(s.ks.serverHandshakeTrafficSecret),
	}).marshal()
	s.ks.addToTranscript(finBytes)

	// the client computes its Finished over the transcript up to and
	// including the server Finished
	s.expectedClientFinished = s.ks.finishedVerifyData(s.ks.clientHandshakeTrafficSecret)

	clientAppSecret, serverAppSecret := s.ks.applicationTrafficSecrets()
	oneRTT := newAEAD(s.suite, serverAppSecret, clientAppSecret)

	serverHandshake := make([]byte, 0, len(eeBytes)+len(certBytes)+len(cvBytes)+len(finBytes))
	serverHandshake = append(serverHandshake, eeBytes...)
	serverHandshake = append(serverHandshake, certBytes...)
	serverHandshake = append(serverHandshake, cvBytes...)
	serverHandshake = append(serverHandshake, finBytes...)

	return &ServerHelloAndHandshake{
		ServerHello:     shBytes,
		HandshakeAEAD:   handshakeAEAD,
		ServerHandshake: serverHandshake,
		OneRTT:          oneRTT,
	}, nil
}

// HandleClientFinished verifies the client Finished
func (s *ServerSession) HandleClientFinished(data []byte) error {
	if s.expectedClientFinished == nil {
		return errors.New("no ClientHello processed yet")
	}
	if s.finishedDone {
		return errors.New("already received the client Finished")
	}
	fin, err := parseFinished(data)
	if err != nil {
		return err
	}
	if !hmac.Equal(fin.verifyData, s.expectedClientFinished) {
		return errors.New("bad client Finished")
	}
	s.finishedDone = true
	return nil
}

// PeerTransportParameters returns the transport parameters the client sent,
// or nil before the ClientHello was processed.
func (s *ServerSession) PeerTransportParameters() *TransportParameters {
	return s.peerParams
}

func (s *ServerSession) signCertificateVerify() ([]byte, error) {
	signed := certificateVerifyContent(s.ks.transcriptHash())
	digest := sha256.Sum256(signed)
	switch key := s.privateKey.(type) {
	case *rsa.PrivateKey:
		sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
		if err != nil {
			return nil, err
		}
		return (&certificateVerify{algorithm: signatureRSAPSSWithSHA256, signature: sig}).marshal(), nil
	case *ecdsa.PrivateKey:
		sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
		if err != nil {
			return nil, err
		}
		return (&certificateVerify{algorithm: signatureECDSAWithP256SHA256, signature: sig}).marshal(), nil
	default:
		return nil, fmt.Errorf("unsupported private key type: %T", s.privateKey)
	}
}

func chooseCipherSuite(offered []uint16) (uint16, error) {
	for _, ours := range supportedCipherSuites {
		for _, theirs := range offered {
			if ours == theirs {
				return ours, nil
			}
		}
	}
	return 0, errors.New("no common cipher suite")
}
