package handshake

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/quicvarint"
	"golang.org/x/crypto/cryptobyte"
)

// transport parameter IDs of draft-18
const (
	paramIdleTimeout                    uint16 = 0x1
	paramInitialMaxData                 uint16 = 0x4
	paramInitialMaxStreamDataBidiLocal  uint16 = 0x5
	paramInitialMaxStreamDataBidiRemote uint16 = 0x6
	paramInitialMaxStreamDataUni        uint16 = 0x7
	paramInitialMaxStreamsBidi          uint16 = 0x8
	paramInitialMaxStreamsUni           uint16 = 0x9
	paramAckDelayExponent               uint16 = 0xa
	paramMaxAckDelay                    uint16 = 0xb
)

// TransportParameters are the QUIC transport parameters exchanged inside
// the TLS handshake.
type TransportParameters struct {
	InitialMaxData                 protocol.ByteCount
	InitialMaxStreamDataBidiLocal  protocol.ByteCount
	InitialMaxStreamDataBidiRemote protocol.ByteCount
	InitialMaxStreamDataUni        protocol.ByteCount
	InitialMaxStreamsBidi          uint64
	InitialMaxStreamsUni           uint64
	IdleTimeout                    time.Duration
	AckDelayExponent               uint8
	MaxAckDelay                    time.Duration
}

// Marshal encodes the transport parameters for inclusion in the TLS extension.
// Clients prepend their initial version, servers the negotiated version and
// the list of versions they support.
func (p *TransportParameters) Marshal(pers protocol.Perspective, version protocol.Version) []byte {
	var b cryptobyte.Builder
	if pers == protocol.PerspectiveClient {
		b.AddUint32(uint32(version))
	} else {
		b.AddUint32(uint32(version))
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, v := range protocol.SupportedVersions {
				b.AddUint32(uint32(v))
			}
		})
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		addParam(b, paramIdleTimeout, uint64(p.IdleTimeout/time.Second))
		addParam(b, paramInitialMaxData, uint64(p.InitialMaxData))
		addParam(b, paramInitialMaxStreamDataBidiLocal, uint64(p.InitialMaxStreamDataBidiLocal))
		addParam(b, paramInitialMaxStreamDataBidiRemote, uint64(p.InitialMaxStreamDataBidiRemote))
		addParam(b, paramInitialMaxStreamDataUni, uint64(p.InitialMaxStreamDataUni))
		addParam(b, paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
		addParam(b, paramInitialMaxStreamsUni, p.InitialMaxStreamsUni)
		addParam(b, paramAckDelayExponent, uint64(p.AckDelayExponent))
		addParam(b, paramMaxAckDelay, uint64(p.MaxAckDelay/time.Millisecond))
	})
	data, err := b.Bytes()
	if err != nil {
		panic(fmt.Sprintf("marshaling transport parameters failed: %s", err))
	}
	return data
}

func addParam(b *cryptobyte.Builder, id uint16, val uint64) {
	b.AddUint16(id)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(quicvarint.Append(nil, val))
	})
}

// ParseTransportParameters parses the transport parameters sent by the peer.
func ParseTransportParameters(data []byte, sentBy protocol.Perspective) (*TransportParameters, error) {
	s := cryptobyte.String(data)
	var version uint32
	if !s.ReadUint32(&version) {
		return nil, errors.New("malformed transport parameters")
	}
	if sentBy == protocol.PerspectiveServer {
		var versions cryptobyte.String
		if !s.ReadUint8LengthPrefixed(&versions) {
			return nil, errors.New("malformed transport parameters")
		}
	}
	var params cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&params) {
		return nil, errors.New("malformed transport parameters")
	}

	p := &TransportParameters{
		AckDelayExponent: protocol.AckDelayExponent,
		MaxAckDelay:      protocol.DefaultMaxAckDelay,
	}
	for !params.Empty() {
		var id uint16
		var value cryptobyte.String
		if !params.ReadUint16(&id) || !params.ReadUint16LengthPrefixed(&value) {
			return nil, errors.New("malformed transport parameters")
		}
		val, err := quicvarint.Read(bytes.NewReader(value))
		if err != nil && isVarIntParam(id) {
			return nil, fmt.Errorf("malformed transport parameter %#x", id)
		}
		switch id {
		case paramIdleTimeout:
			p.IdleTimeout = time.Duration(val) * time.Second
		case paramInitialMaxData:
			p.InitialMaxData = protocol.ByteCount(val)
		case paramInitialMaxStreamDataBidiLocal:
			p.InitialMaxStreamDataBidiLocal = protocol.ByteCount(val)
		case paramInitialMaxStreamDataBidiRemote:
			p.InitialMaxStreamDataBidiRemote = protocol.ByteCount(val)
		case paramInitialMaxStreamDataUni:
			p.InitialMaxStreamDataUni = protocol.ByteCount(val)
		case paramInitialMaxStreamsBidi:
			p.InitialMaxStreamsBidi = val
		case paramInitialMaxStreamsUni:
			p.InitialMaxStreamsUni = val
		case paramAckDelayExponent:
			p.AckDelayExponent = uint8(val)
		case paramMaxAckDelay:
			p.MaxAckDelay = time.Duration(val) * time.Millisecond
		default:
			// unknown transport parameters are ignored
		}
	}
	return p, nil
}

func isVarIntParam(id uint16) bool {
	switch id {
	case paramIdleTimeout, paramInitialMaxData,
		paramInitialMaxStreamDataBidiLocal, paramInitialMaxStreamDataBidiRemote,
		paramInitialMaxStreamDataUni, paramInitialMaxStreamsBidi,
		paramInitialMaxStreamsUni, paramAckDelayExponent, paramMaxAckDelay:
		return true
	}
	return false
}

func (p *TransportParameters) String() string {
	return fmt.Sprintf("&TransportParameters{InitialMaxData: %d, InitialMaxStreamDataBidiLocal: %d, InitialMaxStreamDataBidiRemote: %d, InitialMaxStreamDataUni: %d, InitialMaxStreamsBidi: %d, InitialMaxStreamsUni: %d, IdleTimeout: %s}",
		p.InitialMaxData, p.InitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataUni, p.InitialMaxStreamsBidi, p.InitialMaxStreamsUni, p.IdleTimeout)
}
