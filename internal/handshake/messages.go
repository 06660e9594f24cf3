package handshake

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// TLS 1.3 handshake message types
const (
	typeClientHello         uint8 = 1
	typeServerHello         uint8 = 2
	typeEncryptedExtensions uint8 = 8
	typeCertificate         uint8 = 11
	typeCertificateVerify   uint8 = 15
	typeFinished            uint8 = 20
)

// TLS extension IDs
const (
	extensionServerName          uint16 = 0
	extensionSupportedGroups     uint16 = 10
	extensionSignatureAlgorithms uint16 = 13
	extensionSupportedVersions   uint16 = 43
	extensionKeyShare            uint16 = 51
	extensionTransportParameters uint16 = 0xffa5
)

// signature schemes
const (
	signatureRSAPSSWithSHA256   uint16 = 0x0804
	signatureECDSAWithP256SHA256 uint16 = 0x0403
)

const (
	tlsVersion12 uint16 = 0x0303
	tlsVersion13 uint16 = 0x0304
)

// groupX25519 is the only key exchange group this endpoint supports
const groupX25519 uint16 = 0x001d

var errMalformedMessage = errors.New("malformed handshake message")

// appendMessage frames a handshake message with its one byte type and 24-bit length.
func appendMessage(msgType uint8, body func(b *cryptobyte.Builder)) []byte {
	var b cryptobyte.Builder
	b.AddUint8(msgType)
	b.AddUint24LengthPrefixed(body)
	out, err := b.Bytes()
	if err != nil {
		panic(fmt.Sprintf("marshaling handshake message failed: %s", err))
	}
	return out
}

// nextMessage splits the next complete handshake message off data.
// It returns nil if data doesn't yet hold a complete message.
func nextMessage(data []byte) (msg, rest []byte) {
	if len(data) < 4 {
		return nil, data
	}
	length := int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if len(data) < 4+length {
		return nil, data
	}
	return data[:4+length], data[4+length:]
}

type clientHello struct {
	random          []byte
	cipherSuites    []uint16
	keyShare        []byte // X25519 public key
	serverName      string
	transportParams []byte
}

func (m *clientHello) marshal() []byte {
	return appendMessage(typeClientHello, func(b *cryptobyte.Builder) {
		b.AddUint16(tlsVersion12)
		b.AddBytes(m.random)
		b.AddUint8LengthPrefixed(func(*cryptobyte.Builder) {}) // empty legacy_session_id
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, suite := range m.cipherSuites {
				b.AddUint16(suite)
			}
		})
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint8(0) // no compression
		})
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			if m.serverName != "" {
				addExtension(b, extensionServerName, func(b *cryptobyte.Builder) {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint8(0) // name_type: host_name
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
							b.AddBytes([]byte(m.serverName))
						})
					})
				})
			}
			addExtension(b, extensionSupportedVersions, func(b *cryptobyte.Builder) {
				b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16(tlsVersion13)
				})
			})
			addExtension(b, extensionSupportedGroups, func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16(groupX25519)
				})
			})
			addExtension(b, extensionSignatureAlgorithms, func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16(signatureRSAPSSWithSHA256)
					b.AddUint16(signatureECDSAWithP256SHA256)
				})
			})
			addExtension(b, extensionKeyShare, func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16(groupX25519)
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddBytes(m.keyShare)
					})
				})
			})
			addExtension(b, extensionTransportParameters, func(b *cryptobyte.Builder) {
				b.AddBytes(m.transportParams)
			})
		})
	})
}

func parseClientHello(data []byte) (*clientHello, error) {
	body, err := messageBody(data, typeClientHello)
	if err != nil {
		return nil, err
	}
	m := &clientHello{}
	s := cryptobyte.String(body)
	var legacyVersion uint16
	var sessionID cryptobyte.String
	if !s.ReadUint16(&legacyVersion) ||
		!s.ReadBytes(&m.random, 32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) {
		return nil, errMalformedMessage
	}
	var cipherSuites cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&cipherSuites) {
		return nil, errMalformedMessage
	}
	for !cipherSuites.Empty() {
		var suite uint16
		if !cipherSuites.ReadUint16(&suite) {
			return nil, errMalformedMessage
		}
		m.cipherSuites = append(m.cipherSuites, suite)
	}
	var compression cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&compression) {
		return nil, errMalformedMessage
	}
	exts, err := parseExtensions(&s)
	if err != nil {
		return nil, err
	}
	for id, ext := range exts {
		switch id {
		case extensionKeyShare:
			e := cryptobyte.String(ext)
			var shares cryptobyte.String
			if !e.ReadUint16LengthPrefixed(&shares) {
				return nil, errMalformedMessage
			}
			for !shares.Empty() {
				var group uint16
				var key cryptobyte.String
				if !shares.ReadUint16(&group) || !shares.ReadUint16LengthPrefixed(&key) {
					return nil, errMalformedMessage
				}
				if group == groupX25519 {
					m.keyShare = []byte(key)
				}
			}
		case extensionServerName:
			e := cryptobyte.String(ext)
			var names cryptobyte.String
			if !e.ReadUint16LengthPrefixed(&names) {
				return nil, errMalformedMessage
			}
			var nameType uint8
			var name cryptobyte.String
			if !names.ReadUint8(&nameType) || !names.ReadUint16LengthPrefixed(&name) {
				return nil, errMalformedMessage
			}
			m.serverName = string(name)
		case extensionTransportParameters:
			m.transportParams = ext
		}
	}
	return m, nil
}

type serverHello struct {
	random      []byte
	cipherSuite uint16
	keyShare    []byte // X25519 public key
}

func (m *serverHello) marshal() []byte {
	return appendMessage(typeServerHello, func(b *cryptobyte.Builder) {
		b.AddUint16(tlsVersion12)
		b.AddBytes(m.random)
		b.AddUint8LengthPrefixed(func(*cryptobyte.Builder) {}) // empty legacy_session_id
		b.AddUint16(m.cipherSuite)
		b.AddUint8(0) // no compression
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			addExtension(b, extensionSupportedVersions, func(b *cryptobyte.Builder) {
				b.AddUint16(tlsVersion13)
			})
			addExtension(b, extensionKeyShare, func(b *cryptobyte.Builder) {
				b.AddUint16(groupX25519)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddBytes(m.keyShare)
				})
			})
		})
	})
}

func parseServerHello(data []byte) (*serverHello, error) {
	body, err := messageBody(data, typeServerHello)
	if err != nil {
		return nil, err
	}
	m := &serverHello{}
	s := cryptobyte.String(body)
	var legacyVersion uint16
	var sessionID cryptobyte.String
	var compression uint8
	if !s.ReadUint16(&legacyVersion) ||
		!s.ReadBytes(&m.random, 32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) ||
		!s.ReadUint16(&m.cipherSuite) ||
		!s.ReadUint8(&compression) {
		return nil, errMalformedMessage
	}
	exts, err := parseExtensions(&s)
	if err != nil {
		return nil, err
	}
	ks, ok := exts[extensionKeyShare]
	if !ok {
		return nil, errors.New("server hello without key share")
	}
	e := cryptobyte.String(ks)
	var group uint16
	var key cryptobyte.String
	if !e.ReadUint16(&group) || !e.ReadUint16LengthPrefixed(&key) {
		return nil, errMalformedMessage
	}
	if group != groupX25519 {
		return nil, fmt.Errorf("unsupported key exchange group: %#x", group)
	}
	m.keyShare = []byte(key)
	return m, nil
}

type encryptedExtensions struct {
	transportParams []byte
}

func (m *encryptedExtensions) marshal() []byte {
	return appendMessage(typeEncryptedExtensions, func(b *cryptobyte.Builder) {
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			addExtension(b, extensionTransportParameters, func(b *cryptobyte.Builder) {
				b.AddBytes(m.transportParams)
			})
		})
	})
}

func parseEncryptedExtensions(data []byte) (*encryptedExtensions, error) {
	body, err := messageBody(data, typeEncryptedExtensions)
	if err != nil {
		return nil, err
	}
	s := cryptobyte.String(body)
	exts, err := parseExtensions(&s)
	if err != nil {
		return nil, err
	}
	return &encryptedExtensions{transportParams: exts[extensionTransportParameters]}, nil
}

type certificateMsg struct {
	certificates [][]byte // DER encoded, leaf first
}

func (m *certificateMsg) marshal() []byte {
	return appendMessage(typeCertificate, func(b *cryptobyte.Builder) {
		b.AddUint8LengthPrefixed(func(*cryptobyte.Builder) {}) // empty certificate_request_context
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, cert := range m.certificates {
				b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddBytes(cert)
				})
				b.AddUint16LengthPrefixed(func(*cryptobyte.Builder) {}) // no extensions
			}
		})
	})
}

func parseCertificate(data []byte) (*certificateMsg, error) {
	body, err := messageBody(data, typeCertificate)
	if err != nil {
		return nil, err
	}
	s := cryptobyte.String(body)
	var context, list cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&context) || !s.ReadUint24LengthPrefixed(&list) {
		return nil, errMalformedMessage
	}
	m := &certificateMsg{}
	for !list.Empty() {
		var cert, exts cryptobyte.String
		if !list.ReadUint24LengthPrefixed(&cert) || !list.ReadUint16LengthPrefixed(&exts) {
			return nil, errMalformedMessage
		}
		m.certificates = append(m.certificates, []byte(cert))
	}
	return m, nil
}

type certificateVerify struct {
	algorithm uint16
	signature []byte
}

func (m *certificateVerify) marshal() []byte {
	return appendMessage(typeCertificateVerify, func(b *cryptobyte.Builder) {
		b.AddUint16(m.algorithm)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(m.signature)
		})
	})
}

func parseCertificateVerify(data []byte) (*certificateVerify, error) {
	body, err := messageBody(data, typeCertificateVerify)
	if err != nil {
		return nil, err
	}
	s := cryptobyte.String(body)
	m := &certificateVerify{}
	var sig cryptobyte.String
	if !s.ReadUint16(&m.algorithm) || !s.ReadUint16LengthPrefixed(&sig) {
		return nil, errMalformedMessage
	}
	m.signature = []byte(sig)
	return m, nil
}

type finishedMsg struct {
	verifyData []byte
}

func (m *finishedMsg) marshal() []byte {
	return appendMessage(typeFinished, func(b *cryptobyte.Builder) {
		b.AddBytes(m.verifyData)
	})
}

func parseFinished(data []byte) (*finishedMsg, error) {
	body, err := messageBody(data, typeFinished)
	if err != nil {
		return nil, err
	}
	return &finishedMsg{verifyData: body}, nil
}

func messageBody(data []byte, expectedType uint8) ([]byte, error) {
	if len(data) < 4 {
		return nil, errMalformedMessage
	}
	if data[0] != expectedType {
		return nil, fmt.Errorf("unexpected handshake message: got type %d, expected %d", data[0], expectedType)
	}
	length := int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if len(data) != 4+length {
		return nil, errMalformedMessage
	}
	return data[4:], nil
}

func addExtension(b *cryptobyte.Builder, id uint16, body func(b *cryptobyte.Builder)) {
	b.AddUint16(id)
	b.AddUint16LengthPrefixed(body)
}

func parseExtensions(s *cryptobyte.String) (map[uint16][]byte, error) {
	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) {
		return nil, errMalformedMessage
	}
	m := make(map[uint16][]byte)
	for !exts.Empty() {
		var id uint16
		var data cryptobyte.String
		if !exts.ReadUint16(&id) || !exts.ReadUint16LengthPrefixed(&data) {
			return nil, errMalformedMessage
		}
		m[id] = []byte(data)
	}
	return m, nil
}
