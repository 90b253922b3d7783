package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/Zereker/peerchat"
)

type commandKind int

const (
	commandNone commandKind = iota
	commandText
	commandSend
	commandQuit
	commandUsage
)

type command struct {
	kind commandKind
	arg  string
}

// parseCommand maps one console line to an action. Lines that are only
// whitespace are ignored; other lines that are not a command are sent as-is.
func parseCommand(line string) command {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return command{kind: commandNone}
	case strings.EqualFold(trimmed, "/quit"):
		return command{kind: commandQuit}
	case trimmed == "/send":
		return command{kind: commandUsage, arg: "Usage: /send <filepath>"}
	case strings.HasPrefix(trimmed, "/send "):
		return command{kind: commandSend, arg: strings.TrimSpace(strings.TrimPrefix(trimmed, "/send "))}
	default:
		return command{kind: commandText, arg: line}
	}
}

// syncWriter serializes writes from the console and the receive path.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// sender is the part of *peerchat.Session the console drives.
type sender interface {
	SendText(ctx context.Context, text string) error
	SendFile(ctx context.Context, path string) error
	Close() error
}

// maxLineLength bounds one console line. Longer lines are reported and
// skipped.
const maxLineLength = 1 << 20

var errLineTooLong = errors.Errorf("input line longer than %d bytes, not sent", maxLineLength)

// readLine returns the next line of r without its line ending. An overlong
// line is consumed up to its newline and reported as errLineTooLong.
func readLine(r *bufio.Reader) (string, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		frag, err := r.ReadSlice('\n')
		if !tooLong {
			line = append(line, frag...)
			if len(line) > maxLineLength+1 {
				tooLong, line = true, nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !(err == io.EOF && (len(line) > 0 || tooLong)) {
			return "", err
		}
		break
	}

	if tooLong {
		return "", errLineTooLong
	}
	text := strings.TrimSuffix(string(line), "\n")
	return strings.TrimSuffix(text, "\r"), nil
}

// runConsole reads commands from in until /quit, end of input or ctx is
// done, then closes the session.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, session sender) {
	defer session.Close()

	reader := bufio.NewReaderSize(in, 64*1024)
	for ctx.Err() == nil {
		line, err := readLine(reader)
		if errors.Is(err, errLineTooLong) {
			fmt.Fprintln(out, describe(err))
			continue
		}
		if err != nil {
			if err != io.EOF {
				fmt.Fprintln(out, "Input error: "+err.Error())
			}
			return
		}

		cmd := parseCommand(line)
		switch cmd.kind {
		case commandNone:
		case commandUsage:
			fmt.Fprintln(out, cmd.arg)
		case commandQuit:
			fmt.Fprintln(out, "Closing connection...")
			return
		case commandSend:
			if err := session.SendFile(ctx, cmd.arg); err != nil {
				fmt.Fprintln(out, describe(err))
				if errors.Is(err, peerchat.ErrConnectionClosed) {
					return
				}
				continue
			}
			fmt.Fprintf(out, "[Sent file: %s]\n", cmd.arg)
		case commandText:
			if err := session.SendText(ctx, cmd.arg); err != nil {
				fmt.Fprintln(out, describe(err))
				if errors.Is(err, peerchat.ErrConnectionClosed) {
					return
				}
			}
		}
	}
}

// describe renders err as one line naming its cause.
func describe(err error) string {
	var (
		cryptoErr *peerchat.CryptoError
		ioErr     *peerchat.IOError
		connErr   *peerchat.ConnectionError
	)
	switch {
	case errors.As(err, &cryptoErr) && cryptoErr.Op == "encrypt":
		return "Encryption error: " + cryptoErr.Cause
	case errors.As(err, &cryptoErr):
		return "Decryption error: " + cryptoErr.Cause
	case errors.As(err, &ioErr):
		return "File error: " + ioErr.Error()
	case errors.As(err, &connErr):
		return "Connection error: " + connErr.Error()
	case errors.Is(err, peerchat.ErrMalformedFrame),
		errors.Is(err, peerchat.ErrPayloadTooLarge),
		errors.Is(err, peerchat.ErrFilenameTooLong):
		return "Framing error: " + err.Error()
	case errors.Is(err, peerchat.ErrPeerClosed):
		return "[Connection closed by peer]"
	case errors.Is(err, peerchat.ErrConnectionClosed):
		return "Connection closed: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}
