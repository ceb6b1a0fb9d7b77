package transport

import (
	"github.com/cockroachdb/errors"
	"github.com/openclaw/gatelink/wire"
)

// Sentinel error kinds. Timeout and Unavailable are retryable with the same
// idempotency key; the rest are terminal for the call and must be surfaced.
var (
	// ErrTimeout means no response arrived within the caller's deadline.
	// The effect of the call at the gateway is unknown.
	ErrTimeout = errors.New("timeout waiting for gateway")

	// ErrUnavailable means the connection was down and no attempt was made.
	ErrUnavailable = errors.New("gateway unavailable")

	// ErrUnsupported means this deployment does not implement the operation.
	ErrUnsupported = errors.New("operation not supported by gateway")

	// ErrInvalidArgument means the request was malformed and never sent.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed means the transport was torn down.
	ErrClosed = errors.New("transport closed")
)

// GatewayError is a definitive rejection answered by the gateway.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return "gateway rejected request (" + e.Code + "): " + e.Message
	}
	return "gateway rejected request: " + e.Message
}

// IsTimeout reports whether err is a Timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnavailable reports whether err is an Unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsUnsupported reports whether err is an Unsupported.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// IsInvalidArgument reports whether err is an InvalidArgument.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsGatewayRejected reports whether err is a definitive gateway rejection.
func IsGatewayRejected(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}

// IsRetryable reports whether the caller may retry with the same idempotency
// key. Only Timeout and Unavailable qualify; everything else is terminal.
func IsRetryable(err error) bool {
	return IsTimeout(err) || IsUnavailable(err)
}

// frameError maps an error-bearing response frame onto the taxonomy.
func frameError(frame *wire.Frame) error {
	switch frame.ErrorCode {
	case wire.ErrorCodeUnsupported:
		return errors.Mark(errors.Newf("gateway: %s", frame.Error), ErrUnsupported)
	case wire.ErrorCodeInvalidArgument:
		return errors.Mark(errors.Newf("gateway: %s", frame.Error), ErrInvalidArgument)
	}
	return &GatewayError{Code: frame.ErrorCode, Message: frame.Error}
}
