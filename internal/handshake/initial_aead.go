package handshake

import (
	"crypto"

	"github.com/quivy/quic/internal/protocol"
)

// the salt for the draft-18 era versions
var quicInitialSalt = []byte{0xef, 0x4f, 0xb0, 0xab, 0xb4, 0x74, 0x70, 0xc4, 0x1b, 0xef, 0xcf, 0x80, 0x31, 0x33, 0x4f, 0xae, 0x48, 0x5e, 0x09, 0xa0}

// NewInitialAEAD creates the AEAD for Initial encryption / decryption.
// It is fully determined by the client's destination connection ID.
func NewInitialAEAD(connID protocol.ConnectionID, pers protocol.Perspective) *AEAD {
	clientSecret, serverSecret := computeInitialSecrets(connID)
	var mySecret, otherSecret []byte
	if pers == protocol.PerspectiveClient {
		mySecret = clientSecret
		otherSecret = serverSecret
	} else {
		mySecret = serverSecret
		otherSecret = clientSecret
	}
	return newAEAD(getCipherSuite(TLSAES128GCMSHA256), mySecret, otherSecret)
}

func computeInitialSecrets(connID protocol.ConnectionID) (clientSecret, serverSecret []byte) {
	initialSecret := hkdfExtract(crypto.SHA256, connID, quicInitialSalt)
	clientSecret = hkdfExpandLabel(crypto.SHA256, initialSecret, []byte{}, "client in", crypto.SHA256.Size())
	serverSecret = hkdfExpandLabel(crypto.SHA256, initialSecret, []byte{}, "server in", crypto.SHA256.Size())
	return
}
