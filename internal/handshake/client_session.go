package handshake

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/quivy/quic/internal/protocol"
	"golang.org/x/crypto/curve25519"
)

// client handshake phases
type clientSessionState uint8

const (
	clientStateInitial clientSessionState = iota
	clientStateHelloSent
	clientStateWaitEncryptedExtensions
	clientStateWaitCertificate
	clientStateWaitCertificateVerify
	clientStateWaitFinished
	clientStateDone
)

// A HandshakeResult is produced once the server Finished has been consumed.
type HandshakeResult struct {
	// FinishedBytes is the client Finished message, to be sent in a CRYPTO frame
	FinishedBytes []byte
	// OneRTT is the 1-RTT AEAD
	OneRTT *AEAD
}

// A ClientSession is the client side of a TLS 1.3 handshake carried in CRYPTO frames.
type ClientSession struct {
	params     *TransportParameters
	version    protocol.Version
	serverName string
	validator  CertificateValidator

	state clientSessionState
	suite *cipherSuite
	ks    *keySchedule

	privateKey [32]byte
	publicKey  []byte

	peerCert   *x509.Certificate
	peerParams *TransportParameters

	// reassembled handshake-level crypto stream
	buf []byte
}

// NewClientSession creates a TLS session for a new connection attempt
func NewClientSession(params *TransportParameters, version protocol.Version, serverName string, validator CertificateValidator) *ClientSession {
	return &ClientSession{
		params:     params,
		version:    version,
		serverName: serverName,
		validator:  validator,
	}
}

// StartHandshake generates the key share and returns the ClientHello
func (s *ClientSession) StartHandshake() ([]byte, error) {
	if s.state != clientStateInitial {
		return nil, errors.New("handshake already started")
	}
	if _, err := rand.Read(s.privateKey[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(s.privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	s.publicKey = pub

	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return nil, err
	}
	ch := (&clientHello{
		random:          random,
		cipherSuites:    supportedCipherSuites,
		keyShare:        s.publicKey,
		serverName:      s.serverName,
		transportParams: s.params.Marshal(protocol.PerspectiveClient, s.version),
	}).marshal()

	// both supported suites hash with SHA-256, so the transcript can start
	// before the server picks one
	s.ks = newKeySchedule(getCipherSuite(TLSAES128GCMSHA256))
	s.ks.addToTranscript(ch)
	s.state = clientStateHelloSent
	return ch, nil
}

// HandleServerHello processes the ServerHello and derives the Handshake AEAD
func (s *ClientSession) HandleServerHello(data []byte) (*AEAD, error) {
	if s.state != clientStateHelloSent {
		return nil, errors.New("unexpected ServerHello")
	}
	sh, err := parseServerHello(data)
	if err != nil {
		return nil, err
	}
	if !isSupportedCipherSuite(sh.cipherSuite) {
		return nil, fmt.Errorf("server picked unsupported cipher suite: %#x", sh.cipherSuite)
	}
	s.suite = getCipherSuite(sh.cipherSuite)
	s.ks.suite = s.suite
	s.ks.addToTranscript(data)

	sharedSecret, err := curve25519.X25519(s.privateKey[:], sh.keyShare)
	if err != nil {
		return nil, err
	}
	s.ks.setSharedSecret(sharedSecret)
	s.state = clientStateWaitEncryptedExtensions
	return newAEAD(s.suite, s.ks.clientHandshakeTrafficSecret, s.ks.serverHandshakeTrafficSecret), nil
}

// HandleHandshake consumes handshake-level crypto data.
// It returns a HandshakeResult once the server Finished has been verified,
// nil before that.
func (s *ClientSession) HandleHandshake(data []byte) (*HandshakeResult, error) {
	s.buf = append(s.buf, data...)
	for {
		msg, rest := nextMessage(s.buf)
		if msg == nil {
			return nil, nil
		}
		s.buf = rest

		result, err := s.handleMessage(msg)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
}

func (s *ClientSession) handleMessage(msg []byte) (*HandshakeResult, error) {
	switch s.state {
	case clientStateWaitEncryptedExtensions:
		ee, err := parseEncryptedExtensions(msg)
		if err != nil {
			return nil, err
		}
		if ee.transportParams != nil {
			params, err := ParseTransportParameters(ee.transportParams, protocol.PerspectiveServer)
			if err != nil {
				return nil, err
			}
			s.peerParams = params
		}
		s.ks.addToTranscript(msg)
		s.state = clientStateWaitCertificate
		return nil, nil

	case clientStateWaitCertificate:
		certMsg, err := parseCertificate(msg)
		if err != nil {
			return nil, err
		}
		if len(certMsg.certificates) == 0 {
			return nil, errors.New("server sent no certificate")
		}
		if err := s.validator.Validate(certMsg.certificates); err != nil {
			return nil, fmt.Errorf("certificate validation failed: %w", err)
		}
		cert, err := x509.ParseCertificate(certMsg.certificates[0])
		if err != nil {
			return nil, err
		}
		s.peerCert = cert
		s.ks.addToTranscript(msg)
		s.state = clientStateWaitCertificateVerify
		return nil, nil

	case clientStateWaitCertificateVerify:
		cv, err := parseCertificateVerify(msg)
		if err != nil {
			return nil, err
		}
		if err := s.verifyCertificateVerify(cv); err != nil {
			return nil, err
		}
		s.ks.addToTranscript(msg)
		s.state = clientStateWaitFinished
		return nil, nil

	case clientStateWaitFinished:
		fin, err := parseFinished(msg)
		if err != nil {
			return nil, err
		}
		expected := s.ks.finishedVerifyData(s.ks.serverHandshakeTrafficSecret)
		if !hmac.Equal(fin.verifyData, expected) {
			return nil, errors.New("bad server Finished")
		}
		s.ks.addToTranscript(msg)

		clientAppSecret, serverAppSecret := s.ks.applicationTrafficSecrets()
		oneRTT := newAEAD(s.suite, clientAppSecret, serverAppSecret)

		clientFin := (&finishedMsg{
			verifyData: s.ks.finishedVerifyData(s.ks.clientHandshakeTrafficSecret),
		}).marshal()
		s.ks.addToTranscript(clientFin)
		s.state = clientStateDone
		return &HandshakeResult{FinishedBytes: clientFin, OneRTT: oneRTT}, nil

	default:
		return nil, fmt.Errorf("unexpected handshake message in state %d", s.state)
	}
}

func (s *ClientSession) verifyCertificateVerify(cv *certificateVerify) error {
	signed := certificateVerifyContent(s.ks.transcriptHash())
	digest := sha256.Sum256(signed)
	switch pub := s.peerCert.PublicKey.(type) {
	case *rsa.PublicKey:
		if cv.algorithm != signatureRSAPSSWithSHA256 {
			return fmt.Errorf("unexpected signature scheme: %#x", cv.algorithm)
		}
		return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], cv.signature, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	case *ecdsa.PublicKey:
		if cv.algorithm != signatureECDSAWithP256SHA256 {
			return fmt.Errorf("unexpected signature scheme: %#x", cv.algorithm)
		}
		if !ecdsa.VerifyASN1(pub, digest[:], cv.signature) {
			return errors.New("invalid ECDSA signature")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type: %T", pub)
	}
}

// PeerTransportParameters returns the transport parameters the server sent,
// or nil before the EncryptedExtensions were processed.
func (s *ClientSession) PeerTransportParameters() *TransportParameters {
	return s.peerParams
}

// Reset discards all handshake state. Used when a Retry is received.
func (s *ClientSession) Reset() {
	*s = *NewClientSession(s.params, s.version, s.serverName, s.validator)
}

// certificateVerifyContent builds the to-be-signed blob of a TLS 1.3
// server CertificateVerify (RFC 8446, section 4.4.3)
func certificateVerifyContent(transcriptHash []byte) []byte {
	const context = "TLS 1.3, server CertificateVerify"
	b := make([]byte, 0, 64+len(context)+1+len(transcriptHash))
	for i := 0; i < 64; i++ {
		b = append(b, 0x20)
	}
	b = append(b, context...)
	b = append(b, 0)
	b = append(b, transcriptHash...)
	return b
}
