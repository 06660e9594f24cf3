package handshake

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"github.com/quivy/quic/internal/protocol"
)

// ErrDecryptionFailed is returned when the AEAD fails to authenticate the packet
var ErrDecryptionFailed = errors.New("decryption failed")

// HeaderProtectionSampleSize is the number of ciphertext bytes sampled for header protection
const HeaderProtectionSampleSize = 16

// An AEAD encrypts and decrypts the packets of one encryption level.
// It holds the send direction keys as well as the receive direction keys,
// including the header protection ciphers for both.
type AEAD struct {
	sealAEAD cipher.AEAD
	openAEAD cipher.AEAD

	hpSealer cipher.Block
	hpOpener cipher.Block

	// reused between calls to avoid allocations
	nonceBuf [8]byte
	hpMask   [16]byte
}

func newAEAD(suite *cipherSuite, mySecret, otherSecret []byte) *AEAD {
	myKey, myIV, myHP := computeKeyAndIV(suite, mySecret)
	otherKey, otherIV, otherHP := computeKeyAndIV(suite, otherSecret)

	hpSealer, err := aes.NewCipher(myHP)
	if err != nil {
		panic(err)
	}
	hpOpener, err := aes.NewCipher(otherHP)
	if err != nil {
		panic(err)
	}
	return &AEAD{
		sealAEAD: suite.AEAD(myKey, myIV),
		openAEAD: suite.AEAD(otherKey, otherIV),
		hpSealer: hpSealer,
		hpOpener: hpOpener,
	}
}

func computeKeyAndIV(suite *cipherSuite, secret []byte) (key, iv, hp []byte) {
	key = hkdfExpandLabel(suite.Hash, secret, []byte{}, "quic key", suite.KeyLen)
	iv = hkdfExpandLabel(suite.Hash, secret, []byte{}, "quic iv", suite.IVLen())
	hp = hkdfExpandLabel(suite.Hash, secret, []byte{}, "quic hp", suite.KeyLen)
	return
}

// Seal encrypts a payload. The packet number is the nonce seed,
// the serialized header is the additional data.
func (a *AEAD) Seal(dst, src []byte, pn protocol.PacketNumber, ad []byte) []byte {
	binary.BigEndian.PutUint64(a.nonceBuf[:], uint64(pn))
	return a.sealAEAD.Seal(dst, a.nonceBuf[:], src, ad)
}

// Open decrypts a payload.
func (a *AEAD) Open(dst, src []byte, pn protocol.PacketNumber, ad []byte) ([]byte, error) {
	binary.BigEndian.PutUint64(a.nonceBuf[:], uint64(pn))
	dec, err := a.openAEAD.Open(dst, a.nonceBuf[:], src, ad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return dec, nil
}

// Overhead is the size of the authentication tag
func (a *AEAD) Overhead() int {
	return a.sealAEAD.Overhead()
}

// EncryptHeader applies header protection to the first byte and the packet number bytes.
func (a *AEAD) EncryptHeader(sample []byte, firstByte *byte, pnBytes []byte) {
	a.applyHeaderProtection(a.hpSealer, sample, firstByte, pnBytes)
}

// DecryptHeader removes header protection from the first byte and the packet number bytes.
func (a *AEAD) DecryptHeader(sample []byte, firstByte *byte, pnBytes []byte) {
	a.applyHeaderProtection(a.hpOpener, sample, firstByte, pnBytes)
}

func (a *AEAD) applyHeaderProtection(hp cipher.Block, sample []byte, firstByte *byte, pnBytes []byte) {
	if len(sample) != HeaderProtectionSampleSize {
		panic("invalid sample size")
	}
	hp.Encrypt(a.hpMask[:], sample)
	if *firstByte&0x80 == 0x80 {
		*firstByte ^= a.hpMask[0] & 0xf
	} else {
		*firstByte ^= a.hpMask[0] & 0x1f
	}
	for i := range pnBytes {
		pnBytes[i] ^= a.hpMask[i+1]
	}
}
