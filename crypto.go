package peerchat

import (
	"context"

	"github.com/pkg/errors"
)

// Crypto is the public-key encryption primitive a session delegates to.
// Implementations may block, for example on an external process, and must
// honour ctx cancellation where they can.
type Crypto interface {
	// Seal encrypts plaintext so that only recipient can open it.
	Seal(ctx context.Context, plaintext []byte, recipient string) ([]byte, error)
	// Open decrypts ciphertext addressed to the local party.
	Open(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// cryptoBoundary invokes a Crypto once per frame payload and reports every
// failure as a *CryptoError. It does not retry and does not inspect
// ciphertext.
type cryptoBoundary struct {
	crypto Crypto
}

func (b cryptoBoundary) seal(ctx context.Context, plaintext []byte, recipient string) ([]byte, error) {
	ciphertext, err := b.crypto.Seal(ctx, plaintext, recipient)
	if err != nil {
		return nil, asCryptoError("encrypt", err)
	}
	return ciphertext, nil
}

func (b cryptoBoundary) open(ctx context.Context, ciphertext []byte) ([]byte, error) {
	plaintext, err := b.crypto.Open(ctx, ciphertext)
	if err != nil {
		return nil, asCryptoError("decrypt", err)
	}
	return plaintext, nil
}

func asCryptoError(op string, err error) *CryptoError {
	var cryptoErr *CryptoError
	if errors.As(err, &cryptoErr) {
		return &CryptoError{Op: op, Cause: cryptoErr.Cause, Err: cryptoErr.Err}
	}
	return &CryptoError{Op: op, Cause: err.Error(), Err: err}
}
