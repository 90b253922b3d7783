package peerchat

import (
	"fmt"

	"github.com/pkg/errors"
)

// Framing errors. ErrMalformedFrame and ErrPayloadTooLarge are fatal to a
// session because the stream cannot be resynchronized.
var (
	// ErrIncomplete is returned by Decode when more bytes are needed.
	// It is a signal, not a failure.
	ErrIncomplete = errors.New("incomplete frame")
	// ErrMalformedFrame is returned when a frame header is inconsistent.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrPayloadTooLarge is returned when a declared payload exceeds the configured maximum.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrFilenameTooLong is returned by Encode for filenames over 255 bytes.
	ErrFilenameTooLong = errors.New("filename too long")
)

// Session errors.
var (
	// ErrInvalidCrypto is returned when no crypto backend is provided.
	ErrInvalidCrypto = errors.New("invalid crypto backend")
	// ErrInvalidRecipient is returned when the recipient handle is empty.
	ErrInvalidRecipient = errors.New("invalid recipient handle")
	// ErrSessionStarted is returned when Run is called more than once.
	ErrSessionStarted = errors.New("session already started")
	// ErrConnectionClosed is returned when operating on a closed session,
	// and wraps io.ErrUnexpectedEOF when the peer disconnects mid-frame.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrPeerClosed is returned by Run when the peer closed the stream on a frame boundary.
	ErrPeerClosed = errors.New("connection closed by peer")
)

// closedError is ErrConnectionClosed with the stream error that caused it.
type closedError struct {
	cause error
}

func connectionClosed(cause error) error {
	return &closedError{cause: cause}
}

func (e *closedError) Error() string {
	return ErrConnectionClosed.Error() + ": " + e.cause.Error()
}

func (e *closedError) Is(target error) bool { return target == ErrConnectionClosed }

func (e *closedError) Unwrap() error { return e.cause }

// CryptoError reports a failed seal or open of a single frame payload.
// It never carries plaintext.
type CryptoError struct {
	Op    string // "encrypt" or "decrypt"
	Cause string
	Err   error
}

func (e *CryptoError) Error() string {
	if e.Cause == "" {
		return e.Op + " error"
	}
	return e.Op + " error: " + e.Cause
}

func (e *CryptoError) Unwrap() error { return e.Err }

// ConnectionError reports a bind, accept or connect failure.
type ConnectionError struct {
	Op   string // "listen", "accept" or "dial"
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IOError reports a local file read or write failure.
type IOError struct {
	Op   string // "read" or "write"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("file %s error: %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
