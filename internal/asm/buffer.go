package asm

import (
	"encoding/binary"
	"fmt"
)

// Buffer is a growable byte buffer where encoded instructions are written.
//
// The zero value is an empty buffer ready to use. All accesses at explicit
// offsets are bounds-checked and panic on misuse, since they can only be
// caused by a bug in the encoder.
type Buffer struct {
	code []byte
}

// Len returns the number of bytes written so far.
func (buf *Buffer) Len() int {
	return len(buf.code)
}

// Bytes returns the written bytes. The slice is valid until the next write.
func (buf *Buffer) Bytes() []byte {
	return buf.code
}

// Reset empties the buffer while retaining the underlying storage.
func (buf *Buffer) Reset() {
	buf.code = buf.code[:0]
}

// Truncate discards all but the first n bytes.
func (buf *Buffer) Truncate(n int) {
	if n < 0 || n > len(buf.code) {
		panic(fmt.Sprintf("BUG: truncate to %d out of range [0, %d]", n, len(buf.code)))
	}
	buf.code = buf.code[:n]
}

// Append extends the buffer by n bytes and returns the new region.
func (buf *Buffer) Append(n int) []byte {
	i := len(buf.code)
	j := i + n
	if j > cap(buf.code) {
		buf.grow(n)
	}
	buf.code = buf.code[:j]
	return buf.code[i:j:j]
}

func (buf *Buffer) grow(n int) {
	size := cap(buf.code)
	want := len(buf.code) + n
	if size == 0 {
		size = 256
	}
	for size < want {
		size *= 2
	}
	b := make([]byte, len(buf.code), size)
	copy(b, buf.code)
	buf.code = b
}

// WriteByte implements io.ByteWriter.
func (buf *Buffer) WriteByte(b byte) error {
	buf.Append(1)[0] = b
	return nil
}

// EmitByte writes a single byte.
func (buf *Buffer) EmitByte(b byte) {
	buf.Append(1)[0] = b
}

// EmitUint32 writes u in little endian.
func (buf *Buffer) EmitUint32(u uint32) {
	binary.LittleEndian.PutUint32(buf.Append(4), u)
}

// EmitUint64 writes u in little endian.
func (buf *Buffer) EmitUint64(u uint64) {
	binary.LittleEndian.PutUint64(buf.Append(8), u)
}

// Write implements io.Writer.
func (buf *Buffer) Write(b []byte) (int, error) {
	copy(buf.Append(len(b)), b)
	return len(b), nil
}

// PatchUint32 overwrites the four bytes at offset with u in little endian.
func (buf *Buffer) PatchUint32(offset int, u uint32) {
	if offset < 0 || offset+4 > len(buf.code) {
		panic(fmt.Sprintf("BUG: patch at %d out of range [0, %d)", offset, len(buf.code)))
	}
	binary.LittleEndian.PutUint32(buf.code[offset:offset+4], u)
}
