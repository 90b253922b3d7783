package main

import (
	"flag"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/Zereker/peerchat"
)

const (
	defaultPort = 9000

	cryptoGPG = "gpg"
	cryptoBox = "box"
)

// Environment variables consulted when -peer-key is not given, in order.
var peerKeyEnv = []string{"PEERCHAT_PEER_KEY", "PEER_GPG_ID"}

var errUsage = errors.New("either -listen or -connect <address> is required")

type config struct {
	listen      bool
	connect     string
	port        int
	peerKey     string
	crypto      string
	gpgBinary   string
	gpgHome     string
	keyFile     string
	keygen      string
	downloadDir string
	maxPayload  uint64
	verbose     bool
}

func newFlagSet(cfg *config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("peerchat", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.BoolVar(&cfg.listen, "listen", false, "Wait for the peer to connect")
	fs.StringVar(&cfg.connect, "connect", "", "Peer address to connect to (with -listen: only selects IPv4/IPv6)")
	fs.IntVar(&cfg.port, "port", defaultPort, "TCP port")
	fs.StringVar(&cfg.peerKey, "peer-key", "", "Peer recipient: GPG key ID/email, or hex public key for -crypto box")
	fs.StringVar(&cfg.crypto, "crypto", cryptoGPG, "Encryption backend: gpg or box")
	fs.StringVar(&cfg.gpgBinary, "gpg", "gpg", "Path to the gpg binary")
	fs.StringVar(&cfg.gpgHome, "gpg-homedir", "", "GnuPG home directory")
	fs.StringVar(&cfg.keyFile, "key", "", "Private key file for -crypto box")
	fs.StringVar(&cfg.keygen, "keygen", "", "Write a new box private key to this file, print its public key and exit")
	fs.StringVar(&cfg.downloadDir, "download-dir", ".", "Directory for received files")
	fs.Uint64Var(&cfg.maxPayload, "max-payload", peerchat.DefaultMaxPayload, "Largest frame payload in bytes")
	fs.BoolVar(&cfg.verbose, "v", false, "Debug logging")

	fs.BoolVar(&cfg.listen, "l", false, "Shorthand for -listen")
	fs.StringVar(&cfg.connect, "c", "", "Shorthand for -connect")
	fs.IntVar(&cfg.port, "p", defaultPort, "Shorthand for -port")
	fs.StringVar(&cfg.peerKey, "r", "", "Shorthand for -peer-key")
	return fs
}

// parseConfig parses command line arguments, falling back to the
// environment for the peer key.
func parseConfig(args []string, getenv func(string) string, output io.Writer) (*config, error) {
	cfg := new(config)
	fs := newFlagSet(cfg, output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errors.Errorf("unexpected argument %q", fs.Arg(0))
	}

	for _, name := range peerKeyEnv {
		if cfg.peerKey != "" {
			break
		}
		cfg.peerKey = getenv(name)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	if c.keygen != "" {
		return nil
	}
	if !c.listen && c.connect == "" {
		return errUsage
	}
	if c.port < 1 || c.port > math.MaxUint16 {
		return errors.Errorf("invalid port %d", c.port)
	}
	if c.peerKey == "" {
		return errors.New("peer key not specified: use -peer-key or set PEERCHAT_PEER_KEY")
	}
	if c.maxPayload == 0 || c.maxPayload > math.MaxUint32 {
		return errors.Errorf("invalid max payload %d", c.maxPayload)
	}

	switch c.crypto {
	case cryptoGPG:
	case cryptoBox:
		if c.keyFile == "" {
			return errors.New("-crypto box requires -key")
		}
	default:
		return errors.Errorf("unknown crypto backend %q", c.crypto)
	}
	return nil
}

func (c *config) endpoint() peerchat.Endpoint {
	ep := peerchat.Endpoint{Role: peerchat.Initiator, Address: c.connect, Port: c.port}
	if c.listen {
		ep.Role = peerchat.Listener
	}
	return ep
}

func (c *config) newCrypto() (peerchat.Crypto, error) {
	if c.crypto == cryptoBox {
		return peerchat.LoadBox(c.keyFile)
	}
	return peerchat.GPG{Binary: c.gpgBinary, Homedir: c.gpgHome}, nil
}
