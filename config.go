package quic

import (
	"crypto"
	"time"

	"github.com/quivy/quic/internal/handshake"
	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/logging"
)

// Config contains all configuration data for a QUIC endpoint.
type Config struct {
	// Version is the QUIC version to use.
	// This endpoint speaks exactly one version; the zero value is draft-18.
	Version protocol.Version
	// InitialMaxData is the connection-level flow control window to advertise
	InitialMaxData protocol.ByteCount
	// InitialMaxStreamDataBidiLocal is the window for locally initiated bidirectional streams
	InitialMaxStreamDataBidiLocal protocol.ByteCount
	// InitialMaxStreamDataBidiRemote is the window for peer-initiated bidirectional streams
	InitialMaxStreamDataBidiRemote protocol.ByteCount
	// InitialMaxStreamDataUni is the window for unidirectional streams
	InitialMaxStreamDataUni protocol.ByteCount
	// InitialMaxStreamsBidi is the number of bidirectional streams the peer may open
	InitialMaxStreamsBidi uint64
	// InitialMaxStreamsUni is the number of unidirectional streams the peer may open
	InitialMaxStreamsUni uint64
	// MaxIdleTimeout closes the connection silently when no packet arrives for this long
	MaxIdleTimeout time.Duration
	// AckDelayExponent to advertise
	AckDelayExponent uint8
	// MaxAckDelay to advertise
	MaxAckDelay time.Duration
	// ActiveConnectionIDLimit to advertise
	ActiveConnectionIDLimit uint64

	// RequireAddressValidation makes the server validate client addresses with Retry packets
	RequireAddressValidation bool
	// RetryTokenTTL is how long a Retry token stays valid
	RetryTokenTTL time.Duration

	// Certificates is the server's certificate chain, DER encoded, leaf first
	Certificates [][]byte
	// PrivateKey is the server's private key (RSA or ECDSA P-256)
	PrivateKey crypto.Signer

	// CertificateValidator validates the server's certificate chain on the client
	CertificateValidator handshake.CertificateValidator
	// ServerName is the SNI value the client sends
	ServerName string

	// Tracer traces connection events
	Tracer logging.Tracer
}

// Clone clones the Config
func (c *Config) Clone() *Config {
	copy := *c
	return &copy
}

// populateConfig fills in the default values
func populateConfig(config *Config) *Config {
	if config == nil {
		config = &Config{}
	} else {
		config = config.Clone()
	}
	if config.Version == 0 {
		config.Version = protocol.VersionDraft18
	}
	if config.InitialMaxData == 0 {
		config.InitialMaxData = protocol.DefaultInitialMaxData
	}
	if config.InitialMaxStreamDataBidiLocal == 0 {
		config.InitialMaxStreamDataBidiLocal = protocol.DefaultInitialMaxStreamData
	}
	if config.InitialMaxStreamDataBidiRemote == 0 {
		config.InitialMaxStreamDataBidiRemote = protocol.DefaultInitialMaxStreamData
	}
	if config.InitialMaxStreamDataUni == 0 {
		config.InitialMaxStreamDataUni = protocol.DefaultInitialMaxStreamData
	}
	if config.InitialMaxStreamsBidi == 0 {
		config.InitialMaxStreamsBidi = protocol.DefaultMaxIncomingStreams
	}
	if config.InitialMaxStreamsUni == 0 {
		config.InitialMaxStreamsUni = protocol.DefaultMaxIncomingUniStreams
	}
	if config.MaxIdleTimeout == 0 {
		config.MaxIdleTimeout = protocol.DefaultIdleTimeout
	}
	if config.AckDelayExponent == 0 {
		config.AckDelayExponent = protocol.AckDelayExponent
	}
	if config.MaxAckDelay == 0 {
		config.MaxAckDelay = protocol.DefaultMaxAckDelay
	}
	if config.ActiveConnectionIDLimit == 0 {
		config.ActiveConnectionIDLimit = protocol.DefaultActiveConnectionIDLimit
	}
	if config.RetryTokenTTL == 0 {
		config.RetryTokenTTL = protocol.DefaultRetryTokenValidity
	}
	if config.CertificateValidator == nil {
		config.CertificateValidator = &handshake.X509CertificateValidator{ServerName: config.ServerName}
	}
	if config.Tracer == nil {
		config.Tracer = logging.NullTracer{}
	}
	return config
}

// transportParameters derives the handshake transport parameters from the config
func (c *Config) transportParameters() *handshake.TransportParameters {
	return &handshake.TransportParameters{
		InitialMaxData:                 c.InitialMaxData,
		InitialMaxStreamDataBidiLocal:  c.InitialMaxStreamDataBidiLocal,
		InitialMaxStreamDataBidiRemote: c.InitialMaxStreamDataBidiRemote,
		InitialMaxStreamDataUni:        c.InitialMaxStreamDataUni,
		InitialMaxStreamsBidi:          c.InitialMaxStreamsBidi,
		InitialMaxStreamsUni:           c.InitialMaxStreamsUni,
		IdleTimeout:                    c.MaxIdleTimeout,
		AckDelayExponent:               c.AckDelayExponent,
		MaxAckDelay:                    c.MaxAckDelay,
	}
}
