package peerchat

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

const defaultGPGBinary = "gpg"

// GPG is a Crypto backed by the gpg command line tool. The recipient handle
// is anything gpg accepts for --recipient: a key ID, fingerprint or email.
type GPG struct {
	// Binary is the gpg executable, "gpg" if empty.
	Binary string
	// Homedir is passed as --homedir when set.
	Homedir string
	// Args are inserted before the operation, e.g. "--trust-model", "always".
	Args []string
}

// Seal runs gpg --encrypt --armor for recipient.
func (g GPG) Seal(ctx context.Context, plaintext []byte, recipient string) ([]byte, error) {
	return g.run(ctx, plaintext, "--encrypt", "--armor", "--recipient", recipient)
}

// Open runs gpg --decrypt.
func (g GPG) Open(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return g.run(ctx, ciphertext, "--decrypt")
}

func (g GPG) args(op ...string) []string {
	args := []string{"--batch", "--quiet"}
	if g.Homedir != "" {
		args = append(args, "--homedir", g.Homedir)
	}
	args = append(args, g.Args...)
	return append(args, op...)
}

func (g GPG) run(ctx context.Context, input []byte, op ...string) ([]byte, error) {
	binary := g.Binary
	if binary == "" {
		binary = defaultGPGBinary
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, g.args(op...)...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		cause := strings.TrimSpace(stderr.String())
		if cause == "" {
			cause = err.Error()
		}
		return nil, &CryptoError{Cause: cause, Err: err}
	}
	return stdout.Bytes(), nil
}
