package peerchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the size of Box public and private keys.
const KeySize = 32

// Box is a Crypto built on anonymous NaCl sealed boxes (X25519,
// XSalsa20-Poly1305). A recipient handle is either a name registered with
// AddPeer or a hex-encoded public key.
type Box struct {
	publicKey  *[KeySize]byte
	privateKey *[KeySize]byte
	rand       io.Reader

	mu    sync.RWMutex
	peers map[string]*[KeySize]byte
}

// NewBox returns a Box that opens messages sealed to publicKey.
func NewBox(publicKey, privateKey *[KeySize]byte) *Box {
	return &Box{
		publicKey:  publicKey,
		privateKey: privateKey,
		rand:       rand.Reader,
		peers:      make(map[string]*[KeySize]byte),
	}
}

// GenerateBox creates a Box with a fresh key pair read from r.
func GenerateBox(r io.Reader) (*Box, error) {
	publicKey, privateKey, err := box.GenerateKey(r)
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return NewBox(publicKey, privateKey), nil
}

// LoadBox reads a hex-encoded private key from path and derives its public key.
func LoadBox(path string) (*Box, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read key")
	}
	privateKey, err := ParseKey(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "parse key %s", path)
	}

	pub, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "derive public key")
	}
	publicKey := new([KeySize]byte)
	copy(publicKey[:], pub)
	return NewBox(publicKey, privateKey), nil
}

// Save writes the hex-encoded private key to path with owner-only permissions.
func (b *Box) Save(path string) error {
	data := hex.EncodeToString(b.privateKey[:]) + "\n"
	return errors.Wrap(os.WriteFile(path, []byte(data), 0o600), "write key")
}

// ParseKey decodes a hex-encoded 32-byte key, ignoring surrounding space.
func ParseKey(s string) (*[KeySize]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex key")
	}
	if len(raw) != KeySize {
		return nil, errors.Errorf("invalid key length %d", len(raw))
	}
	key := new([KeySize]byte)
	copy(key[:], raw)
	return key, nil
}

// PublicKey returns the hex-encoded public key, usable as a recipient handle.
func (b *Box) PublicKey() string {
	return hex.EncodeToString(b.publicKey[:])
}

// AddPeer registers a named recipient.
func (b *Box) AddPeer(name string, publicKey *[KeySize]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[name] = publicKey
}

func (b *Box) resolve(recipient string) (*[KeySize]byte, error) {
	b.mu.RLock()
	key, ok := b.peers[recipient]
	b.mu.RUnlock()
	if ok {
		return key, nil
	}

	key, err := ParseKey(recipient)
	if err != nil {
		return nil, errors.Errorf("no public key for recipient %q", recipient)
	}
	return key, nil
}

// Seal encrypts plaintext to recipient's public key.
func (b *Box) Seal(_ context.Context, plaintext []byte, recipient string) ([]byte, error) {
	key, err := b.resolve(recipient)
	if err != nil {
		return nil, err
	}
	out, err := box.SealAnonymous(nil, plaintext, key, b.rand)
	if err != nil {
		return nil, errors.Wrap(err, "seal")
	}
	return out, nil
}

// Open decrypts a sealed box addressed to this key pair.
func (b *Box) Open(_ context.Context, ciphertext []byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, ciphertext, b.publicKey, b.privateKey)
	if !ok {
		return nil, errors.New("message authentication failed")
	}
	return out, nil
}
