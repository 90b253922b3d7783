package peerchat

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrames() []Frame {
	return []Frame{
		{Kind: KindText, Payload: []byte("hello")},
		{Kind: KindText, Payload: []byte{}},
		{Kind: KindFile, Name: "report.txt", Payload: bytes.Repeat([]byte{0xAB}, 4096)},
		{Kind: KindFile, Name: "", Payload: []byte("x")},
		{Kind: KindFile, Name: "日本語.pdf", Payload: []byte{0, 1, 2, 3}},
		{Kind: KindFile, Name: strings.Repeat("n", 255), Payload: []byte("long name")},
		{Kind: KindFile, Name: "../../etc/passwd", Payload: []byte("raw name is kept")},
	}
}

func requireFrame(t *testing.T, want, got Frame) {
	t.Helper()
	require.Equal(t, want.Kind, got.Kind)
	require.Equal(t, want.Name, got.Name)
	require.True(t, bytes.Equal(want.Payload, got.Payload), "payload mismatch")
}

func TestCodec_RoundTrip(t *testing.T) {
	var codec Codec
	for _, f := range testFrames() {
		data, err := codec.Encode(f)
		require.NoError(t, err)

		got, n, err := codec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		requireFrame(t, f, got)
	}
}

func TestCodec_WireLayout(t *testing.T) {
	var codec Codec

	data, err := codec.Encode(Frame{Kind: KindText, Payload: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0, 0, 0, 2, 'h', 'i'}, data)

	data, err = codec.Encode(Frame{Kind: KindFile, Name: "a.b", Payload: []byte{0xFF}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 3, 'a', '.', 'b', 0, 0, 0, 1, 0xFF}, data)
}

func TestCodec_IncompleteAtEverySplit(t *testing.T) {
	var codec Codec
	for _, f := range testFrames() {
		data, err := codec.Encode(f)
		require.NoError(t, err)

		for split := 0; split < len(data); split++ {
			buf := &receiveBuffer{codec: codec}
			_, _ = buf.Write(data[:split])

			_, err := buf.Next()
			require.ErrorIs(t, err, ErrIncomplete, "split at %d", split)
			require.Equal(t, split, buf.Len(), "incomplete decode must not consume bytes")

			_, _ = buf.Write(data[split:])
			got, err := buf.Next()
			require.NoError(t, err, "split at %d", split)
			requireFrame(t, f, got)
			require.Zero(t, buf.Len())
		}
	}
}

func TestReceiveBuffer_OrderUnderRandomChunking(t *testing.T) {
	var codec Codec
	frames := testFrames()

	var stream []byte
	for _, f := range frames {
		data, err := codec.Encode(f)
		require.NoError(t, err)
		stream = append(stream, data...)
	}

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		buf := &receiveBuffer{codec: codec}
		var got []Frame

		for rest := stream; len(rest) > 0; {
			n := 1 + rng.Intn(97)
			if n > len(rest) {
				n = len(rest)
			}
			_, _ = buf.Write(rest[:n])
			rest = rest[n:]

			for {
				f, err := buf.Next()
				if err == ErrIncomplete {
					break
				}
				require.NoError(t, err)
				got = append(got, f)
			}
		}

		require.Len(t, got, len(frames))
		for i := range frames {
			requireFrame(t, frames[i], got[i])
		}
		require.Zero(t, buf.Len())
	}
}

func TestCodec_PayloadTooLarge(t *testing.T) {
	codec := Codec{MaxPayload: 16}

	// Only the header is present: the declared size alone must be rejected.
	header := []byte{byte(KindText)}
	header = binary.BigEndian.AppendUint32(header, 1<<31)
	_, _, err := codec.Decode(header)
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	header = []byte{byte(KindFile), 1, 'f'}
	header = binary.BigEndian.AppendUint32(header, 17)
	_, _, err = codec.Decode(header)
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = codec.Encode(Frame{Kind: KindText, Payload: make([]byte, 17)})
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	data, err := codec.Encode(Frame{Kind: KindText, Payload: make([]byte, 16)})
	require.NoError(t, err)
	_, n, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
}

func TestCodec_OversizeDoesNotAllocate(t *testing.T) {
	codec := Codec{MaxPayload: 1024}
	header := binary.BigEndian.AppendUint32([]byte{byte(KindText)}, 0xFFFFFFFF)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	for i := 0; i < 100; i++ {
		_, _, err := codec.Decode(header)
		require.ErrorIs(t, err, ErrPayloadTooLarge)
	}
	runtime.ReadMemStats(&after)

	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestCodec_Malformed(t *testing.T) {
	var codec Codec

	for _, tag := range []byte{0x00, 0x03, 0xFF} {
		_, _, err := codec.Decode([]byte{tag, 0, 0, 0, 0})
		require.ErrorIs(t, err, ErrMalformedFrame, "tag %#x", tag)
	}

	bad := []byte{byte(KindFile), 2, 0xC3, 0x28, 0, 0, 0, 0}
	_, _, err := codec.Decode(bad)
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = codec.Encode(Frame{Kind: Kind(9)})
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = codec.Encode(Frame{Kind: KindFile, Name: "\xC3\x28"})
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = codec.Encode(Frame{Kind: KindFile, Name: strings.Repeat("n", 256)})
	require.ErrorIs(t, err, ErrFilenameTooLong)
}

func TestCodec_EmptyBuffer(t *testing.T) {
	var codec Codec
	_, n, err := codec.Decode(nil)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Zero(t, n)
}

func TestCodec_DecodedPayloadDoesNotAlias(t *testing.T) {
	var codec Codec
	data, err := codec.Encode(Frame{Kind: KindText, Payload: []byte("abc")})
	require.NoError(t, err)

	f, _, err := codec.Decode(data)
	require.NoError(t, err)
	data[len(data)-1] = 'z'
	assert.Equal(t, "abc", string(f.Payload))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "text", KindText.String())
	assert.Equal(t, "file", KindFile.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
