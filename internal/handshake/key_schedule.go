package handshake

import (
	"crypto/hmac"
	"hash"
)

// keySchedule implements the TLS 1.3 key schedule (RFC 8446, section 7.1)
// for one handshake, tracking the transcript hash along the way.
type keySchedule struct {
	suite      *cipherSuite
	transcript hash.Hash

	handshakeSecret []byte
	masterSecret    []byte

	clientHandshakeTrafficSecret []byte
	serverHandshakeTrafficSecret []byte
}

func newKeySchedule(suite *cipherSuite) *keySchedule {
	return &keySchedule{
		suite:      suite,
		transcript: suite.Hash.New(),
	}
}

func (s *keySchedule) addToTranscript(msg []byte) {
	s.transcript.Write(msg)
}

func (s *keySchedule) transcriptHash() []byte {
	return s.transcript.Sum(nil)
}

func (s *keySchedule) deriveSecret(secret []byte, label string, transcript []byte) []byte {
	return hkdfExpandLabel(s.suite.Hash, secret, transcript, label, s.suite.Hash.Size())
}

// setSharedSecret feeds the ECDHE shared secret into the schedule and derives
// the handshake traffic secrets. The transcript must cover ClientHello..ServerHello.
func (s *keySchedule) setSharedSecret(sharedSecret []byte) {
	zeros := make([]byte, s.suite.Hash.Size())
	earlySecret := hkdfExtract(s.suite.Hash, zeros, nil)
	derived := s.deriveSecret(earlySecret, "derived", s.emptyTranscriptHash())
	s.handshakeSecret = hkdfExtract(s.suite.Hash, sharedSecret, derived)

	transcript := s.transcriptHash()
	s.clientHandshakeTrafficSecret = s.deriveSecret(s.handshakeSecret, "c hs traffic", transcript)
	s.serverHandshakeTrafficSecret = s.deriveSecret(s.handshakeSecret, "s hs traffic", transcript)

	derived = s.deriveSecret(s.handshakeSecret, "derived", s.emptyTranscriptHash())
	s.masterSecret = hkdfExtract(s.suite.Hash, zeros, derived)
}

// applicationTrafficSecrets derives the 1-RTT secrets.
// The transcript must cover ClientHello..server Finished.
func (s *keySchedule) applicationTrafficSecrets() (clientSecret, serverSecret []byte) {
	transcript := s.transcriptHash()
	clientSecret = s.deriveSecret(s.masterSecret, "c ap traffic", transcript)
	serverSecret = s.deriveSecret(s.masterSecret, "s ap traffic", transcript)
	return
}

// finishedVerifyData computes the verify_data of a Finished message
// for the given handshake traffic secret, over the current transcript.
func (s *keySchedule) finishedVerifyData(trafficSecret []byte) []byte {
	finishedKey := hkdfExpandLabel(s.suite.Hash, trafficSecret, []byte{}, "finished", s.suite.Hash.Size())
	mac := hmac.New(s.suite.Hash.New, finishedKey)
	mac.Write(s.transcriptHash())
	return mac.Sum(nil)
}

func (s *keySchedule) emptyTranscriptHash() []byte {
	h := s.suite.Hash.New()
	return h.Sum(nil)
}
