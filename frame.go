package peerchat

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Kind identifies what a frame carries.
type Kind byte

// Frame kind tags as they appear on the wire. Zero is never valid so that a
// zero-filled stream is rejected immediately.
const (
	KindText Kind = 0x01
	KindFile Kind = 0x02
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

const (
	// DefaultMaxPayload is the default upper bound of a frame payload (64 MiB).
	DefaultMaxPayload = 64 << 20

	maxFilenameLength = 255
	lengthPrefixSize  = 4
)

// Frame is the unit of transport: one text message or one file.
// Payload is ciphertext; Name is only meaningful for KindFile and is the raw
// name declared by the sender, not yet safe to use as a path.
type Frame struct {
	Kind    Kind
	Name    string
	Payload []byte
}

// Codec encodes and decodes frames in the following layout:
//
//	kind      1 byte
//	name len  1 byte       (KindFile only)
//	name      L bytes UTF-8 (KindFile only)
//	length    4 bytes big-endian
//	payload   length bytes
//
// The zero value uses DefaultMaxPayload.
type Codec struct {
	MaxPayload uint32
}

func (c Codec) maxPayload() uint32 {
	if c.MaxPayload == 0 {
		return DefaultMaxPayload
	}
	return c.MaxPayload
}

// Encode serializes f into a self-delimiting byte sequence.
func (c Codec) Encode(f Frame) ([]byte, error) {
	if uint64(len(f.Payload)) > uint64(c.maxPayload()) {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes exceeds limit of %d", len(f.Payload), c.maxPayload())
	}

	size := 1 + lengthPrefixSize + len(f.Payload)
	switch f.Kind {
	case KindText:
	case KindFile:
		if len(f.Name) > maxFilenameLength {
			return nil, errors.Wrapf(ErrFilenameTooLong, "%d bytes", len(f.Name))
		}
		if !utf8.ValidString(f.Name) {
			return nil, errors.Wrap(ErrMalformedFrame, "filename is not valid UTF-8")
		}
		size += 1 + len(f.Name)
	default:
		return nil, errors.Wrapf(ErrMalformedFrame, "unknown kind %#x", byte(f.Kind))
	}

	buf := make([]byte, 0, size)
	buf = append(buf, byte(f.Kind))
	if f.Kind == KindFile {
		buf = append(buf, byte(len(f.Name)))
		buf = append(buf, f.Name...)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	return buf, nil
}

// Decode parses one frame from the head of b and reports how many bytes it
// used. It returns ErrIncomplete when b holds only a prefix of a frame; the
// caller must keep b and retry once more bytes have arrived.
//
// The payload length is checked against the limit as soon as the length
// prefix is available, so an oversized frame is rejected without buffering
// or allocating its payload. The returned payload does not alias b.
func (c Codec) Decode(b []byte) (Frame, int, error) {
	if len(b) == 0 {
		return Frame{}, 0, ErrIncomplete
	}

	f := Frame{Kind: Kind(b[0])}
	off := 1

	switch f.Kind {
	case KindText:
	case KindFile:
		if len(b) < off+1 {
			return Frame{}, 0, ErrIncomplete
		}
		n := int(b[off])
		off++
		if len(b) < off+n {
			return Frame{}, 0, ErrIncomplete
		}
		name := b[off : off+n]
		if !utf8.Valid(name) {
			return Frame{}, 0, errors.Wrap(ErrMalformedFrame, "filename is not valid UTF-8")
		}
		f.Name = string(name)
		off += n
	default:
		return Frame{}, 0, errors.Wrapf(ErrMalformedFrame, "unknown kind %#x", b[0])
	}

	if len(b) < off+lengthPrefixSize {
		return Frame{}, 0, ErrIncomplete
	}
	length := binary.BigEndian.Uint32(b[off:])
	off += lengthPrefixSize
	if length > c.maxPayload() {
		return Frame{}, 0, errors.Wrapf(ErrPayloadTooLarge, "declared %d bytes, limit %d", length, c.maxPayload())
	}
	if uint64(len(b)-off) < uint64(length) {
		return Frame{}, 0, ErrIncomplete
	}

	f.Payload = make([]byte, length)
	copy(f.Payload, b[off:])
	off += int(length)
	return f, off, nil
}

// receiveBuffer accumulates stream bytes that do not yet form a complete
// frame. It grows only through Write and shrinks only by the exact size of a
// frame returned from Next.
type receiveBuffer struct {
	codec Codec
	buf   []byte
}

func (r *receiveBuffer) Write(p []byte) (int, error) {
	r.buf = append(r.buf, p...)
	return len(p), nil
}

// Next decodes the frame at the head of the buffer and removes its bytes.
// On ErrIncomplete the buffer is left untouched.
func (r *receiveBuffer) Next() (Frame, error) {
	f, n, err := r.codec.Decode(r.buf)
	if err != nil {
		return Frame{}, err
	}
	r.buf = append(r.buf[:0], r.buf[n:]...)
	return f, nil
}

// Len returns the number of buffered, not yet decoded bytes.
func (r *receiveBuffer) Len() int {
	return len(r.buf)
}
