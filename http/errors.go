package http

import (
	"errors"
	"net"
)

var (
	ErrMalformedRequest  = errors.New("http: malformed request")
	ErrUnsupportedMethod = errors.New("http: unsupported method")
	ErrInvalidEncoding   = errors.New("http: invalid encoding")
	ErrRequestTooLarge   = errors.New("http: request too large")
	ErrSocketFailure     = errors.New("http: socket failure")
	ErrServerClosed      = errors.New("http: server closed")
)

// statusForError maps a request read/parse failure to the response sent
// before the connection is closed. ok is false when no response should be
// attempted.
func statusForError(err error) (status uint16, ok bool) {
	var netErr net.Error

	switch {
	case errors.Is(err, ErrRequestTooLarge):
		return StatusRequestEntityTooLarge, true
	case errors.Is(err, ErrMalformedRequest),
		errors.Is(err, ErrUnsupportedMethod),
		errors.Is(err, ErrInvalidEncoding):
		return StatusBadRequest, true
	case errors.As(err, &netErr) && netErr.Timeout():
		return StatusRequestTimeout, true
	}

	return 0, false
}
