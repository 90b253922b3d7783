package peerchat

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Role is the side a party plays when the connection is set up.
type Role int

const (
	// Listener binds a port and waits for the peer.
	Listener Role = iota
	// Initiator connects to a listening peer.
	Initiator
)

func (r Role) String() string {
	switch r {
	case Listener:
		return "listener"
	case Initiator:
		return "initiator"
	default:
		return "unknown"
	}
}

// Endpoint describes how to reach the peer.
type Endpoint struct {
	Role Role
	// Address is the peer's host. Required for Initiator; for Listener it
	// only selects the address family.
	Address string
	Port    int
}

// Network returns "tcp6" when address contains a colon and "tcp4" otherwise.
// This is a deliberate simplification: there is no dual-stack negotiation,
// and a host name always resolves over IPv4.
func Network(address string) string {
	if strings.Contains(address, ":") {
		return "tcp6"
	}
	return "tcp4"
}

func wildcard(network string) net.IP {
	if network == "tcp6" {
		return net.IPv6unspecified
	}
	return net.IPv4zero
}

// Establish returns a connected stream to the peer: a Listener accepts
// exactly one inbound connection, an Initiator dials out. Failures are
// reported as *ConnectionError. A nil logger uses the default slog logger.
func Establish(ctx context.Context, ep Endpoint, logger Logger) (*net.TCPConn, error) {
	if logger == nil {
		logger = defaultLogger()
	}
	network := Network(ep.Address)

	switch ep.Role {
	case Listener:
		server, err := Listen(network, ep.Port, ServerLoggerOption(logger))
		if err != nil {
			return nil, err
		}
		return server.Accept(ctx)
	case Initiator:
		if ep.Address == "" {
			return nil, &ConnectionError{Op: "dial", Err: errors.New("peer address required")}
		}
		logger.Info("connecting to peer", "network", network, "addr", ep.Address, "port", ep.Port)
		conn, err := Dial(ctx, network, ep.Address, ep.Port)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to peer", "addr", conn.RemoteAddr())
		return conn, nil
	default:
		return nil, &ConnectionError{Op: "establish", Err: errors.Errorf("unknown role %d", ep.Role)}
	}
}

// Dial opens an outbound connection to address:port.
func Dial(ctx context.Context, network, address string, port int) (*net.TCPConn, error) {
	target := net.JoinHostPort(strings.Trim(address, "[]"), strconv.Itoa(port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, target)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: target, Err: err}
	}

	tcpConn := conn.(*net.TCPConn)
	_ = tcpConn.SetNoDelay(true)
	return tcpConn, nil
}

// Server listens for the single inbound peer connection.
type Server struct {
	listener *net.TCPListener
	logger   Logger

	closeOnce sync.Once
	closeErr  error
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// Listen binds the wildcard address of network ("tcp4" or "tcp6") on port.
// Port 0 picks a free port; see Addr.
func Listen(network string, port int, opts ...ServerOption) (*Server, error) {
	addr := &net.TCPAddr{IP: wildcard(network), Port: port}
	listener, err := net.ListenTCP(network, addr)
	if err != nil {
		return nil, &ConnectionError{Op: "listen", Addr: addr.String(), Err: err}
	}

	s := &Server{
		listener: listener,
		logger:   defaultLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("listening for peer", "addr", s.listener.Addr())
	return s, nil
}

// Accept waits for one inbound connection and then closes the listener, so
// later connection attempts are refused. It returns early with a
// *ConnectionError when ctx is canceled.
func (s *Server) Accept(ctx context.Context) (*net.TCPConn, error) {
	defer s.Close()

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			// Unblock AcceptTCP.
			_ = s.listener.SetDeadline(time.Now())
		case <-stop:
		}
	}()

	conn, err := s.listener.AcceptTCP()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		s.logger.Error("accept error", "error", err)
		return nil, &ConnectionError{Op: "accept", Addr: s.listener.Addr().String(), Err: err}
	}

	s.logger.Info("peer connected", "remote_addr", conn.RemoteAddr())
	_ = conn.SetNoDelay(true)
	return conn, nil
}

// Close stops listening. Any blocked Accept returns with an error.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.listener.Close()
	})
	return s.closeErr
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
