package main

import (
	"flag"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/peerchat"
)

func envOf(vars map[string]string) func(string) string {
	return func(name string) string { return vars[name] }
}

func TestParseConfig_Listen(t *testing.T) {
	cfg, err := parseConfig([]string{"-listen", "-port", "9100", "-peer-key", "partner@example.com"}, envOf(nil), io.Discard)
	require.NoError(t, err)

	assert.Equal(t, peerchat.Endpoint{Role: peerchat.Listener, Port: 9100}, cfg.endpoint())
	assert.Equal(t, "partner@example.com", cfg.peerKey)
	assert.Equal(t, cryptoGPG, cfg.crypto)
	assert.Equal(t, uint64(peerchat.DefaultMaxPayload), cfg.maxPayload)
}

func TestParseConfig_ShortFlags(t *testing.T) {
	cfg, err := parseConfig([]string{"-l", "-p", "9200", "-r", "partner@example.com"}, envOf(nil), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, peerchat.Endpoint{Role: peerchat.Listener, Port: 9200}, cfg.endpoint())
	assert.Equal(t, "partner@example.com", cfg.peerKey)

	cfg, err = parseConfig([]string{"-c", "10.0.0.2", "-r", "ABCD1234"}, envOf(nil), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, peerchat.Endpoint{Role: peerchat.Initiator, Address: "10.0.0.2", Port: defaultPort}, cfg.endpoint())
}

func TestParseConfig_Connect(t *testing.T) {
	cfg, err := parseConfig([]string{"-connect", "::1", "-peer-key", "ABCD1234"}, envOf(nil), io.Discard)
	require.NoError(t, err)

	ep := cfg.endpoint()
	assert.Equal(t, peerchat.Initiator, ep.Role)
	assert.Equal(t, "::1", ep.Address)
	assert.Equal(t, defaultPort, ep.Port)
	assert.Equal(t, "tcp6", peerchat.Network(ep.Address))
}

func TestParseConfig_PeerKeyFromEnvironment(t *testing.T) {
	cfg, err := parseConfig([]string{"-listen"}, envOf(map[string]string{"PEER_GPG_ID": "legacy"}), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.peerKey)

	cfg, err = parseConfig([]string{"-listen"}, envOf(map[string]string{
		"PEER_GPG_ID":       "legacy",
		"PEERCHAT_PEER_KEY": "preferred",
	}), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "preferred", cfg.peerKey)

	cfg, err = parseConfig([]string{"-listen", "-peer-key", "flag"}, envOf(map[string]string{"PEERCHAT_PEER_KEY": "env"}), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "flag", cfg.peerKey)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no role", []string{"-peer-key", "x"}, errUsage.Error()},
		{"no peer key", []string{"-listen"}, "peer key not specified"},
		{"bad port", []string{"-listen", "-peer-key", "x", "-port", "70000"}, "invalid port 70000"},
		{"zero max payload", []string{"-listen", "-peer-key", "x", "-max-payload", "0"}, "invalid max payload"},
		{"unknown backend", []string{"-listen", "-peer-key", "x", "-crypto", "rot13"}, `unknown crypto backend "rot13"`},
		{"box without key", []string{"-listen", "-peer-key", "x", "-crypto", "box"}, "-crypto box requires -key"},
		{"extra argument", []string{"-listen", "-peer-key", "x", "extra"}, `unexpected argument "extra"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args, envOf(nil), io.Discard)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseConfig_Help(t *testing.T) {
	_, err := parseConfig([]string{"-h"}, envOf(nil), io.Discard)
	require.ErrorIs(t, err, flag.ErrHelp)
}

func TestParseConfig_KeygenSkipsValidation(t *testing.T) {
	cfg, err := parseConfig([]string{"-keygen", "me.key"}, envOf(nil), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "me.key", cfg.keygen)
}

func TestConfig_NewCrypto(t *testing.T) {
	cfg := &config{crypto: cryptoGPG, gpgBinary: "/usr/bin/gpg", gpgHome: "/tmp/gnupg"}
	crypto, err := cfg.newCrypto()
	require.NoError(t, err)
	assert.Equal(t, peerchat.GPG{Binary: "/usr/bin/gpg", Homedir: "/tmp/gnupg"}, crypto)

	keyFile := filepath.Join(t.TempDir(), "me.key")
	require.Equal(t, 0, keygen(keyFile, io.Discard, io.Discard))

	cfg = &config{crypto: cryptoBox, keyFile: keyFile}
	crypto, err = cfg.newCrypto()
	require.NoError(t, err)
	assert.IsType(t, &peerchat.Box{}, crypto)

	cfg.keyFile = filepath.Join(t.TempDir(), "missing.key")
	_, err = cfg.newCrypto()
	require.Error(t, err)
}
