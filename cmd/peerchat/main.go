// Command peerchat is an encrypted chat and file transfer tool for two peers.
//
//	peerchat -listen -port 9000 -peer-key partner@example.com
//	peerchat -connect 192.168.1.5 -port 9000 -peer-key partner@example.com
//
// Type a line to send it, "/send <path>" to send a file and "/quit" to leave.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/Zereker/peerchat"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(args, os.Getenv, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 2
	}

	logger := peerchat.NewTextLogger(stderr, cfg.verbose)
	slog.SetDefault(logger)

	if cfg.keygen != "" {
		return keygen(cfg.keygen, stdout, stderr)
	}

	crypto, err := cfg.newCrypto()
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ep := cfg.endpoint()
	conn, err := peerchat.Establish(ctx, ep, logger)
	if err != nil {
		fmt.Fprintln(stderr, describe(err))
		return 1
	}

	out := &syncWriter{w: stdout}
	session, err := peerchat.NewSession(conn, ep.Role, cfg.peerKey,
		peerchat.CryptoOption(crypto),
		peerchat.LoggerOption(logger),
		peerchat.DownloadDirOption(cfg.downloadDir),
		peerchat.MaxPayloadOption(uint32(cfg.maxPayload)),
		peerchat.OnTextOption(func(text string) {
			fmt.Fprintf(out, "\nPeer: %s\n", text)
		}),
		peerchat.OnFileOption(func(path string, size int) {
			fmt.Fprintf(out, "\n[File received and saved as %s (%d bytes)]\n", path, size)
		}),
		peerchat.OnErrorOption(func(err error) peerchat.ErrorAction {
			fmt.Fprintln(out, describe(err))
			return peerchat.Continue
		}),
	)
	if err != nil {
		conn.Close()
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	fmt.Fprintf(out, "Connected to %s. Type /send <path> to send a file, /quit to exit.\n", session.Addr())

	// The console goroutine may stay blocked reading stdin after the peer
	// hangs up; it ends with the process.
	go runConsole(ctx, stdin, out, session)

	err = session.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, peerchat.ErrPeerClosed):
		fmt.Fprintln(out, "\n"+describe(err))
		return 0
	default:
		fmt.Fprintln(out, "\n"+describe(err))
		return 1
	}
}

func keygen(path string, stdout, stderr io.Writer) int {
	box, err := peerchat.GenerateBox(rand.Reader)
	if err == nil {
		err = box.Save(path)
	}
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	fmt.Fprintln(stdout, box.PublicKey())
	return 0
}
