package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize caps a single encoded message. A 4K RGBA frame is ~33 MiB;
// anything past this is a protocol error, not a legitimate payload.
const MaxFrameSize = 64 << 20

// Writer writes length-prefixed messages to a byte stream. Not safe for
// concurrent use; callers serialize writes.
type Writer struct {
	w     io.Writer
	codec Codec
}

// NewWriter creates a Writer using the given codec.
func NewWriter(w io.Writer, codec Codec) *Writer {
	return &Writer{w: w, codec: codec}
}

// Write encodes m and writes it with a 4-byte big-endian length prefix.
func (w *Writer) Write(m *Message) error {
	data, err := w.codec.Encode(m)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds limit %d", len(data), MaxFrameSize)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("wire: write prefix: %w", err)
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// Reader reads length-prefixed messages from a byte stream. Not safe for
// concurrent use; a single goroutine owns the read side.
type Reader struct {
	r     io.Reader
	codec Codec
}

// NewReader creates a Reader using the given codec.
func NewReader(r io.Reader, codec Codec) *Reader {
	return &Reader{r: r, codec: codec}
}

// Read reads and decodes the next message. It returns io.EOF when the
// stream ends cleanly between frames.
func (r *Reader) Read() (*Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: read prefix: %w", err)
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds limit %d", size, MaxFrameSize)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("wire: read frame: %w", err)
	}
	m, err := r.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	return m, nil
}
