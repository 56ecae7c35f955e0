package socks5

import (
	"errors"
	"fmt"
	"io"
)

// Handshake failures. Every one of them is fatal to the connection.
var (
	ErrProtocolVersion        = errors.New("socks5: unsupported protocol version")
	ErrUnsupportedAuthMethod  = errors.New(`socks5: unsupported authentication method, only "no authentication" is supported`)
	ErrUnsupportedAddressType = errors.New(`socks5: unsupported address type, only IPv4 is supported`)
	ErrUnsupportedCommand     = errors.New("socks5: unsupported command, only CONNECT is supported")
	ErrMalformedRequest       = errors.New("socks5: malformed request")
)

// closedError marks a failure after which the negotiator has already closed
// the client connection.
type closedError struct {
	err error
}

func (e *closedError) Error() string { return e.err.Error() }

func (e *closedError) Unwrap() error { return e.err }

// Closed reports whether err came from a handshake that closed the client
// connection itself. That is the case for ErrUnsupportedAuthMethod and
// ErrUnsupportedAddressType. For every other failure the connection is left
// open and closing it is up to the caller.
func Closed(err error) bool {
	var ce *closedError
	return errors.As(err, &ce)
}

// headerReadError wraps an error from reading the first bytes of a message.
// A clean EOF there is a peer disconnect, not a malformed message.
func headerReadError(what string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s truncated: %w", ErrMalformedRequest, what, err)
	}
	return fmt.Errorf("read %s: %w", what, err)
}

// bodyReadError wraps an error from reading the rest of a message whose
// header already arrived; any EOF means the message was cut short.
func bodyReadError(what string, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s truncated: %w", ErrMalformedRequest, what, err)
	}
	return fmt.Errorf("read %s: %w", what, err)
}
