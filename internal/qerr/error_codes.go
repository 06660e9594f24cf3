package qerr

import "fmt"

// ErrorCode can be used as a normal error without reason.
type ErrorCode uint64

// The error codes defined by QUIC
const (
	NoError                 ErrorCode = 0x0
	InternalError           ErrorCode = 0x1
	ConnectionRefused       ErrorCode = 0x2
	FlowControlError        ErrorCode = 0x3
	StreamLimitError        ErrorCode = 0x4
	StreamStateError        ErrorCode = 0x5
	FinalSizeError          ErrorCode = 0x6
	FrameEncodingError      ErrorCode = 0x7
	TransportParameterError ErrorCode = 0x8
	ProtocolViolation       ErrorCode = 0xa
)

// CryptoError constructs a CRYPTO_ERROR with the TLS alert in the low byte.
func CryptoError(alert uint8) ErrorCode {
	return 0x100 + ErrorCode(alert)
}

func (e ErrorCode) isCryptoError() bool {
	return e >= 0x100 && e < 0x200
}

func (e ErrorCode) Error() string {
	return e.String()
}

func (e ErrorCode) String() string {
	switch e {
	case NoError:
		return "NO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case FlowControlError:
		return "FLOW_CONTROL_ERROR"
	case StreamLimitError:
		return "STREAM_LIMIT_ERROR"
	case StreamStateError:
		return "STREAM_STATE_ERROR"
	case FinalSizeError:
		return "FINAL_SIZE_ERROR"
	case FrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case TransportParameterError:
		return "TRANSPORT_PARAMETER_ERROR"
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	default:
		if e.isCryptoError() {
			return fmt.Sprintf("CRYPTO_ERROR (TLS alert %d)", uint8(e-0x100))
		}
		return fmt.Sprintf("unknown error code: %#x", uint64(e))
	}
}
