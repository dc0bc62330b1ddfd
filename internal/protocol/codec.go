package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zlib"
)

const (
	// HeaderSize is the fixed width of the frame header: the decimal
	// ASCII length of the compressed payload, left-justified and
	// right-padded with spaces.
	HeaderSize = 64

	// ChunkSize bounds individual writes to the connection.
	ChunkSize = 8192

	// MaxFrameSize bounds both the declared compressed length and the
	// decompressed payload. Frames beyond it are a protocol error.
	MaxFrameSize = 64 << 20
)

// Sentinel errors for the two failure classes of the codec. ErrProtocol
// is fatal to the connection; ErrConnectionClosed means the peer went
// away (including read/write deadline expiry) and terminates the
// session, not the server.
var (
	ErrProtocol         = errors.New("protocol error")
	ErrConnectionClosed = errors.New("connection closed")
)

// encMode uses deterministic encoding so the same message always
// produces identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
}

// Encode serializes msg, compresses it, and writes a single frame to w:
// a 64-byte length header followed by the compressed payload in chunks
// of at most ChunkSize bytes.
func Encode(w io.Writer, msg *Message) error {
	raw, err := encMode.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}

	payload := compressed.Bytes()
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrProtocol, len(payload))
	}

	header := make([]byte, HeaderSize)
	for i := range header {
		header[i] = ' '
	}
	copy(header, strconv.Itoa(len(payload)))

	if err := writeFull(w, header); err != nil {
		return err
	}
	for len(payload) > 0 {
		n := len(payload)
		if n > ChunkSize {
			n = ChunkSize
		}
		if err := writeFull(w, payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

// Decode reads exactly one frame from r and returns the decoded
// message. It blocks until the full header and the declared number of
// payload bytes have been read.
func Decode(r io.Reader) (*Message, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, closedErr("read header", err)
	}

	length, err := strconv.Atoi(strings.TrimRight(string(header), " "))
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: malformed length header %q", ErrProtocol, strings.TrimRight(string(header), " "))
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared frame of %d bytes exceeds limit", ErrProtocol, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, closedErr("read payload", err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not zlib data: %v", ErrProtocol, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, MaxFrameSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: decompress payload: %v", ErrProtocol, err)
	}
	if len(raw) > MaxFrameSize {
		return nil, fmt.Errorf("%w: decompressed payload exceeds limit", ErrProtocol)
	}

	var msg Message
	if err := cbor.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode message: %v", ErrProtocol, err)
	}
	return &msg, nil
}

func writeFull(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return closedErr("write frame", err)
	}
	return nil
}

// closedErr folds the assorted ways a peer can go away (EOF, reset,
// deadline expiry) into ErrConnectionClosed. A short read before the
// declared length is not retryable.
func closedErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrConnectionClosed, op, err)
}
