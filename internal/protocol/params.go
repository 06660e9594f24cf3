package protocol

import "time"

// MinInitialPacketSize is the minimum size of the UDP datagram carrying a client Initial, in bytes
const MinInitialPacketSize = 1200

// MinConnectionIDLenInitial is the minimum length of the destination connection ID on an Initial packet
const MinConnectionIDLenInitial = 8

// DefaultConnectionIDLen is the length of connection IDs this endpoint generates for itself
const DefaultConnectionIDLen = 8

// AckDelayExponent is the ack delay exponent used when sending ACKs.
const AckDelayExponent = 3

// DefaultMaxAckDelay is the default max_ack_delay
const DefaultMaxAckDelay = 25 * time.Millisecond

// DefaultIdleTimeout is the default idle timeout
const DefaultIdleTimeout = 30 * time.Second

// DefaultActiveConnectionIDLimit is the default active_connection_id_limit
const DefaultActiveConnectionIDLimit = 2

// DefaultRetryTokenValidity is how long a Retry token is accepted after it was issued
const DefaultRetryTokenValidity = 30 * time.Minute

// DefaultInitialMaxData is the connection-level flow control window advertised by default
const DefaultInitialMaxData ByteCount = 1 << 20

// DefaultInitialMaxStreamData is the stream-level flow control window advertised by default
const DefaultInitialMaxStreamData ByteCount = 1 << 19

// DefaultMaxIncomingStreams is the maximum number of bidirectional streams the peer may open
const DefaultMaxIncomingStreams = 100

// DefaultMaxIncomingUniStreams is the maximum number of unidirectional streams the peer may open
const DefaultMaxIncomingUniStreams = 100
