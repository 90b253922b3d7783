package peerchat

import (
	"time"
)

// ErrorAction defines the action to take when a recoverable error occurs.
type ErrorAction int

const (
	// Continue reports the error and keeps the session running.
	Continue ErrorAction = iota
	// Disconnect closes the session.
	Disconnect
)

// options holds the configuration for a session.
type options struct {
	crypto    Crypto
	logger    Logger
	downloads Downloads

	onText func(text string)
	onFile func(path string, size int)
	// onError is called for recoverable errors (crypto and file errors).
	// Framing and stream errors always close the session.
	onError func(error) ErrorAction

	bufferSize  int           // size of the outbound request queue
	readSize    int           // bytes requested per stream read
	maxPayload  uint32        // largest accepted frame payload
	idleTimeout time.Duration // zero disables read deadlines
}

// Option is a function that configures session options.
type Option func(*options)

// CryptoOption sets the encryption backend. It is required.
func CryptoOption(crypto Crypto) Option {
	return func(o *options) {
		o.crypto = crypto
	}
}

// BufferSizeOption sets how many outbound requests may queue before
// SendText and SendFile block.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// ReadSizeOption sets the number of bytes requested per read from the stream.
func ReadSizeOption(size int) Option {
	return func(o *options) {
		o.readSize = size
	}
}

// MaxPayloadOption sets the largest frame payload accepted or sent.
func MaxPayloadOption(size uint32) Option {
	return func(o *options) {
		o.maxPayload = size
	}
}

// IdleTimeoutOption closes the session when the peer sends nothing for d.
// The default of zero waits forever.
func IdleTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// DownloadDirOption sets the directory received files are written to.
func DownloadDirOption(dir string) Option {
	return func(o *options) {
		o.downloads = Downloads{Dir: dir}
	}
}

// OnTextOption sets the callback for decrypted text messages.
func OnTextOption(cb func(text string)) Option {
	return func(o *options) {
		o.onText = cb
	}
}

// OnFileOption sets the callback invoked after a received file is saved.
func OnFileOption(cb func(path string, size int)) Option {
	return func(o *options) {
		o.onFile = cb
	}
}

// OnErrorOption sets the callback for recoverable receive errors.
// Return Continue to keep the session, or Disconnect to close it.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
