// Package peerchat implements an encrypted two-party chat and file transfer
// channel over a single TCP connection.
//
// Text messages and files travel as self-delimiting frames (see Codec). Each
// frame payload is sealed by a pluggable Crypto backend before it is framed,
// and opened after the receiving side has reassembled the complete frame
// from the byte stream, however the stream happened to chunk it.
package peerchat

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle stage of a Session.
type State int32

const (
	// StateEstablishing holds a connected stream that is not running yet.
	StateEstablishing State = iota
	// StateActive runs the receive and send paths.
	StateActive
	// StateClosing stops both paths; no new reads or writes are issued.
	StateClosing
	// StateClosed is terminal; the stream is released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEstablishing:
		return "establishing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Default configuration values.
const (
	// defaultBufferSize is the default size of the outbound request queue.
	defaultBufferSize = 1
	// defaultReadSize is the default number of bytes requested per read.
	defaultReadSize = 32 * 1024
)

// outbound is one request for the send path. The frame payload holds
// plaintext until the send path seals it.
type outbound struct {
	ctx    context.Context
	frame  Frame
	result chan error
}

// Session is a live chat connection with one peer.
//
// Run drives two paths over the same stream: the receive path, the only
// reader of the stream and the only user of the receive buffer, and the send
// path, the only writer. SendText and SendFile hand requests to the send path
// and may be called from any goroutine.
type Session struct {
	rawConn   net.Conn
	role      Role
	recipient string
	logger    Logger
	crypto    cryptoBoundary
	codec     Codec

	opts options

	sendReq chan outbound
	state   atomic.Int32
	done    chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// NewSession wraps an established connection. recipient is the peer's
// handle for the Crypto backend. Returns an error if the crypto option is
// missing or recipient is empty.
func NewSession(conn net.Conn, role Role, recipient string, opt ...Option) (*Session, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}
	if recipient == "" {
		return nil, ErrInvalidRecipient
	}

	return &Session{
		rawConn:   conn,
		role:      role,
		recipient: recipient,
		logger:    opts.logger,
		crypto:    cryptoBoundary{crypto: opts.crypto},
		codec:     Codec{MaxPayload: opts.maxPayload},
		opts:      opts,
		sendReq:   make(chan outbound, opts.bufferSize),
		done:      make(chan struct{}),
	}, nil
}

// checkOptions validates and sets default values for session options.
func checkOptions(opts *options) error {
	if opts.crypto == nil {
		return ErrInvalidCrypto
	}

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.readSize <= 0 {
		opts.readSize = defaultReadSize
	}

	if opts.maxPayload == 0 {
		opts.maxPayload = DefaultMaxPayload
	}

	if opts.idleTimeout < 0 {
		opts.idleTimeout = 0
	}

	if opts.onText == nil {
		opts.onText = func(string) {}
	}

	if opts.onFile == nil {
		opts.onFile = func(string, int) {}
	}

	if opts.onError == nil {
		opts.onError = func(error) ErrorAction { return Continue }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// Run starts the receive and send paths and blocks until the session ends:
// Close was called, ctx was canceled, the peer closed the stream, or a
// fatal framing or stream error occurred. The connection is closed and both
// paths have exited when Run returns.
//
// Run returns context.Canceled after a local close, ErrPeerClosed when the
// peer hung up between frames, and the fatal error otherwise.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.CompareAndSwap(int32(StateEstablishing), int32(StateActive)) {
		s.mu.Unlock()
		if s.State() == StateClosed {
			return ErrConnectionClosed
		}
		return ErrSessionStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	defer s.cancel()

	s.logger.Info("session established", "addr", s.Addr(), "role", s.role)
	s.logger.Debug("session options", "addr", s.Addr(),
		"buffer_size", s.opts.bufferSize,
		"read_size", s.opts.readSize,
		"max_payload", s.opts.maxPayload,
		"idle_timeout", s.opts.idleTimeout)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.readLoop(child)
	})

	group.Go(func() error {
		return s.writeLoop(child)
	})

	// The receive path may be blocked in Read; closing the stream is what
	// releases it.
	group.Go(func() error {
		<-child.Done()
		s.state.CompareAndSwap(int32(StateActive), int32(StateClosing))
		s.closeConn()
		return nil
	})

	err := group.Wait()
	s.finish()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Info("session closed with error", "addr", s.Addr(), "error", err)
	} else {
		s.logger.Info("session closed", "addr", s.Addr())
	}

	return err
}

// Close ends the session. It is the local quit request: the send path stops,
// the stream is closed and Run returns. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateEstablishing:
		s.closeConn()
		s.finish()
		return s.closeErr
	case StateActive:
		s.state.Store(int32(StateClosing))
		s.cancel()
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Addr returns the remote address of the connection.
func (s *Session) Addr() net.Addr {
	return s.rawConn.RemoteAddr()
}

// Role returns whether the local side listened or initiated.
func (s *Session) Role() Role {
	return s.role
}

// Recipient returns the peer's crypto recipient handle.
func (s *Session) Recipient() string {
	return s.recipient
}

// SendText encrypts text for the peer and writes it as one frame. It blocks
// until the frame is written or fails. An encryption failure is returned as
// a *CryptoError and leaves the session running. If ctx is done before the
// send path picks the frame up, the frame is dropped and ctx.Err() returned;
// once sealing has started the frame may still be written.
func (s *Session) SendText(ctx context.Context, text string) error {
	return s.enqueue(ctx, Frame{Kind: KindText, Payload: []byte(text)})
}

// SendFile reads the file at path, encrypts it for the peer and writes it as
// one frame named after the file's base name. Local read failures are
// returned as *IOError and leave the session running. Cancellation behaves
// as for SendText.
func (s *Session) SendFile(ctx context.Context, path string) error {
	data, err := ReadFile(path, int64(s.codec.maxPayload()))
	if err != nil {
		return err
	}
	return s.enqueue(ctx, Frame{Kind: KindFile, Name: filepath.Base(path), Payload: data})
}

func (s *Session) enqueue(ctx context.Context, f Frame) error {
	if s.State() >= StateClosing {
		return ErrConnectionClosed
	}

	req := outbound{ctx: ctx, frame: f, result: make(chan error, 1)}
	select {
	case s.sendReq <- req:
	case <-s.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-s.done:
		// The send path may have answered right before exiting.
		select {
		case err := <-req.result:
			return err
		default:
			return ErrConnectionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop reads the stream into the receive buffer and dispatches every
// complete frame, in stream order.
func (s *Session) readLoop(ctx context.Context) error {
	buf := &receiveBuffer{codec: s.codec}
	chunk := make([]byte, s.opts.readSize)

	for {
		if s.opts.idleTimeout > 0 {
			_ = s.rawConn.SetReadDeadline(time.Now().Add(s.opts.idleTimeout))
		}

		n, err := s.rawConn.Read(chunk)
		if n > 0 {
			_, _ = buf.Write(chunk[:n])
			if derr := s.drain(ctx, buf); derr != nil {
				return derr
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug("read error", "addr", s.Addr(), "error", err, "buffered", buf.Len())
			if errors.Is(err, io.EOF) {
				if buf.Len() > 0 {
					return errors.Wrapf(connectionClosed(io.ErrUnexpectedEOF), "%d bytes of an unfinished frame", buf.Len())
				}
				return ErrPeerClosed
			}
			return connectionClosed(err)
		}
	}
}

// drain decodes and dispatches buffered frames until the buffer holds only
// part of a frame. Frame N+1 is not decoded before frame N is handled.
func (s *Session) drain(ctx context.Context, buf *receiveBuffer) error {
	for ctx.Err() == nil {
		f, err := buf.Next()
		if errors.Is(err, ErrIncomplete) {
			return nil
		}
		if err != nil {
			s.logger.Error("framing error", "addr", s.Addr(), "error", err)
			return err
		}

		if err = s.dispatch(ctx, f); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Session) dispatch(ctx context.Context, f Frame) error {
	s.logger.Debug("frame received", "addr", s.Addr(), "kind", f.Kind, "size", len(f.Payload))

	plaintext, err := s.crypto.open(ctx, f.Payload)
	if err != nil {
		return s.handleRecoverable(err)
	}

	switch f.Kind {
	case KindText:
		s.opts.onText(string(plaintext))
	case KindFile:
		path, err := s.opts.downloads.Save(f.Name, plaintext)
		if err != nil {
			return s.handleRecoverable(err)
		}
		s.logger.Info("file saved", "addr", s.Addr(), "path", path, "size", len(plaintext))
		s.opts.onFile(path, len(plaintext))
	}
	return nil
}

func (s *Session) handleRecoverable(err error) error {
	s.logger.Warn("frame dropped", "addr", s.Addr(), "error", err)
	if s.opts.onError(err) == Disconnect {
		return err
	}
	return nil
}

// writeLoop seals, encodes and writes outbound requests one at a time.
// Encryption and encoding failures are answered to the caller only; a write
// failure ends the session.
func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.sendReq:
			if err := req.ctx.Err(); err != nil {
				s.logger.Debug("send abandoned", "addr", s.Addr(), "kind", req.frame.Kind)
				req.result <- err
				continue
			}

			data, err := s.sealFrame(ctx, req.frame)
			if err != nil {
				s.logger.Warn("frame not sent", "addr", s.Addr(), "kind", req.frame.Kind, "error", err)
				req.result <- err
				continue
			}

			err = s.write(data)
			req.result <- err
			if err != nil {
				return err
			}
		}
	}
}

func (s *Session) sealFrame(ctx context.Context, f Frame) ([]byte, error) {
	ciphertext, err := s.crypto.seal(ctx, f.Payload, s.recipient)
	if err != nil {
		return nil, err
	}
	f.Payload = ciphertext
	return s.codec.Encode(f)
}

// write sends one encoded frame.
func (s *Session) write(data []byte) error {
	if _, err := s.rawConn.Write(data); err != nil {
		s.logger.Debug("write error", "addr", s.Addr(), "error", err)
		return connectionClosed(err)
	}
	s.logger.Debug("frame sent", "addr", s.Addr(), "size", len(data))
	return nil
}

// closeConn closes the underlying connection once.
func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		s.closeErr = s.rawConn.Close()
	})
}

// finish marks the session closed and releases waiting senders.
func (s *Session) finish() {
	if State(s.state.Swap(int32(StateClosed))) != StateClosed {
		close(s.done)
	}
}
