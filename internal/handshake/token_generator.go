package handshake

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"net"
	"time"
)

const tokenMACSize = sha256.Size

// A TokenGenerator issues and validates Retry tokens.
// A token binds the peer's address to the time it was issued:
//
//	HMAC(key, ip || port || issuedAt) || issuedAt
type TokenGenerator struct {
	key      []byte
	validity time.Duration
}

// NewTokenGenerator creates a token generator.
// The HMAC key is derived from the server's private key, so that tokens stay
// valid across server restarts. If the key cannot be marshaled a random key
// is used instead.
func NewTokenGenerator(privateKey crypto.Signer, validity time.Duration) *TokenGenerator {
	var key []byte
	if der, err := x509.MarshalPKCS8PrivateKey(privateKey); err == nil {
		sum := sha256.Sum256(der)
		key = sum[:]
	} else {
		key = make([]byte, 32)
		rand.Read(key)
	}
	return &TokenGenerator{key: key, validity: validity}
}

// NewToken issues a token for the given peer address
func (g *TokenGenerator) NewToken(addr net.Addr, now time.Time) []byte {
	issuedAt := make([]byte, 8)
	binary.BigEndian.PutUint64(issuedAt, uint64(now.Unix()))
	return append(g.computeMAC(addr, issuedAt), issuedAt...)
}

// Validate checks that the token was issued for this peer address and has not
// expired. Invalid tokens are indistinguishable from missing ones.
func (g *TokenGenerator) Validate(token []byte, addr net.Addr, now time.Time) bool {
	if len(token) != tokenMACSize+8 {
		return false
	}
	issuedAt := token[tokenMACSize:]
	if !hmac.Equal(token[:tokenMACSize], g.computeMAC(addr, issuedAt)) {
		return false
	}
	issued := time.Unix(int64(binary.BigEndian.Uint64(issuedAt)), 0)
	return !now.After(issued.Add(g.validity)) && !issued.After(now)
}

func (g *TokenGenerator) computeMAC(addr net.Addr, issuedAt []byte) []byte {
	mac := hmac.New(sha256.New, g.key)
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		mac.Write(udpAddr.IP)
		port := make([]byte, 2)
		binary.BigEndian.PutUint16(port, uint16(udpAddr.Port))
		mac.Write(port)
	} else {
		mac.Write([]byte(addr.String()))
	}
	mac.Write(issuedAt)
	return mac.Sum(nil)
}
