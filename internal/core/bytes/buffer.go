// Package bytes contains the byte buffer used to build and parse wire messages.
// All multi-byte integers are big-endian.
package bytes

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrShortBuffer is returned when a read requests more bytes than remain
	// after the cursor.
	ErrShortBuffer = errors.New("not enough bytes remaining in buffer")
	// ErrTooLong is returned when a length-prefixed value does not fit in a uint16.
	ErrTooLong = errors.New("value too long for a 16 bit length prefix")
)

// Buffer is a growable byte slice with an explicit read cursor. Writes always
// append to the end, reads consume from the cursor.
type Buffer struct {
	data []byte
	pos  int
}

func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the full contents of the buffer regardless of the cursor.
func (b *Buffer) Bytes() []byte { return b.data }

// Len is the total number of bytes held.
func (b *Buffer) Len() int { return len(b.data) }

// Remaining is the number of unread bytes after the cursor.
func (b *Buffer) Remaining() int { return len(b.data) - b.pos }

// Position returns the cursor offset.
func (b *Buffer) Position() int { return b.pos }

// Seek moves the cursor to an absolute offset.
func (b *Buffer) Seek(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return fmt.Errorf("seek to %d outside buffer of %d bytes", pos, len(b.data))
	}
	b.pos = pos
	return nil
}

// Reset empties the buffer and rewinds the cursor, keeping the allocation.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}

func (b *Buffer) PutUint16(v uint16) {
	b.data = binary.BigEndian.AppendUint16(b.data, v)
}

func (b *Buffer) PutUint64(v uint64) {
	b.data = binary.BigEndian.AppendUint64(b.data, v)
}

func (b *Buffer) PutBytes(p []byte) {
	b.data = append(b.data, p...)
}

// PutPrefixed writes p preceded by its length as a uint16.
func (b *Buffer) PutPrefixed(p []byte) error {
	if len(p) > math.MaxUint16 {
		return ErrTooLong
	}
	b.PutUint16(uint16(len(p)))
	b.PutBytes(p)
	return nil
}

func (b *Buffer) PutString(s string) error {
	return b.PutPrefixed([]byte(s))
}

// Read implements io.Reader over the unread bytes.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.Remaining() == 0 {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

// Next returns the next n bytes and advances the cursor. The returned slice
// aliases the buffer.
func (b *Buffer) Next(n int) ([]byte, error) {
	if n < 0 || b.Remaining() < n {
		return nil, ErrShortBuffer
	}
	p := b.data[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.Next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.Next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}

// ReadPrefixed reads a uint16 length followed by that many bytes.
func (b *Buffer) ReadPrefixed() ([]byte, error) {
	n, err := b.ReadUint16()
	if err != nil {
		return nil, err
	}
	return b.Next(int(n))
}

func (b *Buffer) ReadString() (string, error) {
	p, err := b.ReadPrefixed()
	if err != nil {
		return "", err
	}
	return string(p), nil
}
