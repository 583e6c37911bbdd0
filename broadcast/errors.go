package broadcast

import "errors"

var (
	ErrInvalidPort         = errors.New("port must be between 1 and 65535")
	ErrPayloadTooLarge     = errors.New("payload exceeds maximum datagram size")
	ErrEndpointUnavailable = errors.New("endpoint has no socket")
	ErrClosed              = errors.New("endpoint closed")
)
