// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package wire provides the value codec used by trpc messages.
//
// A message is a flat sequence of values written by a [Builder] and read back
// by a [Scanner]. Fixed-width scalars are big-endian. Text, byte strings,
// sequences and maps carry a [Vint30] length prefix. The encoding carries no
// type information: both sides must agree on the order and types of the
// values, which is what the typed codecs in this package are for.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/creachadair/mds/value"
)

var order = binary.BigEndian

// A Builder accumulates the encoding of a message.
// The zero value is an empty builder ready for use.
type Builder struct {
	buf []byte
}

// Len reports the number of bytes written to b so far.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes returns the encoded contents of b. The slice is owned by b, and is
// valid only until the next write or [Builder.Reset].
func (b *Builder) Bytes() []byte { return b.buf }

// Reset empties b, retaining its storage.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// Put appends raw bytes to b.
func (b *Builder) Put(vs ...byte) { b.buf = append(b.buf, vs...) }

// PutString appends the bytes of s to b with no length prefix.
func (b *Builder) PutString(s string) { b.buf = append(b.buf, s...) }

// VPut appends vs to b, preceded by its length as a [Vint30].
func (b *Builder) VPut(vs []byte) { b.buf = appendPrefixed(b.buf, vs) }

// VPutString appends s to b, preceded by its length as a [Vint30].
func (b *Builder) VPutString(s string) { b.buf = appendPrefixed(b.buf, s) }

func appendPrefixed[Str ~string | ~[]byte](buf []byte, s Str) []byte {
	buf = Vint30(len(s)).Append(buf)
	return append(buf, s...)
}

// Vint30 appends v to b as a [Vint30]. It panics if v > [MaxVint30].
func (b *Builder) Vint30(v uint32) { b.buf = Vint30(v).Append(b.buf) }

// Bool appends a single byte, 1 for true and 0 for false.
func (b *Builder) Bool(ok bool) { b.Uint8(value.Cond[byte](ok, 1, 0)) }

func (b *Builder) Uint8(v uint8)   { b.buf = append(b.buf, v) }
func (b *Builder) Uint16(v uint16) { b.buf = order.AppendUint16(b.buf, v) }
func (b *Builder) Uint32(v uint32) { b.buf = order.AppendUint32(b.buf, v) }
func (b *Builder) Uint64(v uint64) { b.buf = order.AppendUint64(b.buf, v) }

// Signed values are written in two's complement.

func (b *Builder) Int8(v int8)   { b.Uint8(uint8(v)) }
func (b *Builder) Int16(v int16) { b.Uint16(uint16(v)) }
func (b *Builder) Int32(v int32) { b.Uint32(uint32(v)) }
func (b *Builder) Int64(v int64) { b.Uint64(uint64(v)) }

// Floats are written as their IEEE 754 bits.

func (b *Builder) Float32(v float32) { b.Uint32(math.Float32bits(v)) }
func (b *Builder) Float64(v float64) { b.Uint64(math.Float64bits(v)) }

// A Scanner decodes values from the front of a message.
//
// A read that finds no input at all reports [io.EOF]. A read that finds some
// input, but not enough for a whole value, reports an error wrapping
// [io.ErrUnexpectedEOF].
type Scanner struct {
	rest []byte
}

// NewScanner returns a [Scanner] reading from input. Values of slice type
// returned by the scanner may alias input.
func NewScanner[Str ~string | ~[]byte](input Str) *Scanner {
	return &Scanner{rest: []byte(input)}
}

// Len reports the number of unread bytes remaining in s.
func (s *Scanner) Len() int { return len(s.rest) }

// take consumes exactly n bytes from s.
func (s *Scanner) take(n int) ([]byte, error) {
	if len(s.rest) < n {
		if len(s.rest) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("value truncated (%d < %d bytes): %w", len(s.rest), n, io.ErrUnexpectedEOF)
	}
	out := s.rest[:n:n]
	s.rest = s.rest[n:]
	return out, nil
}

func (s *Scanner) Byte() (byte, error) {
	v, err := s.take(1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// Bool reads one byte. Any non-zero value is true.
func (s *Scanner) Bool() (bool, error) {
	v, err := s.Byte()
	return v != 0, err
}

func (s *Scanner) Uint16() (uint16, error) {
	v, err := s.take(2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(v), nil
}

func (s *Scanner) Uint32() (uint32, error) {
	v, err := s.take(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(v), nil
}

func (s *Scanner) Uint64() (uint64, error) {
	v, err := s.take(8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(v), nil
}

func (s *Scanner) Float32() (float32, error) {
	v, err := s.Uint32()
	return math.Float32frombits(v), err
}

func (s *Scanner) Float64() (float64, error) {
	v, err := s.Uint64()
	return math.Float64frombits(v), err
}

// Vint30 reads a [Vint30] from s.
func (s *Scanner) Vint30() (int, error) {
	if len(s.rest) == 0 {
		return 0, io.EOF
	}
	v, err := s.take(int(s.rest[0]&3) + 1)
	if err != nil {
		return 0, err
	}
	var w [4]byte
	copy(w[:], v)
	return int(binary.LittleEndian.Uint32(w[:]) >> 2), nil
}

// VGet reads a string prefixed by its length as a [Vint30].
// A slice result aliases the input of s.
func VGet[Str ~string | ~[]byte](s *Scanner) (Str, error) {
	n, err := s.Vint30()
	if err != nil {
		return Str(""), err
	}
	if n == 0 {
		return Str(""), nil
	}
	v, err := s.take(n)
	if err == io.EOF {
		err = fmt.Errorf("missing %d-byte value: %w", n, io.ErrUnexpectedEOF)
	}
	return Str(v), err
}

// VLen reports the size of the length-prefixed encoding of an n-byte string.
func VLen(n int) int { return Vint30(n).Size() + n }

// Vint30 is an unsigned integer of at most 30 bits, encoded in 1 to 4 bytes.
//
// The encoding is the value shifted left by 2 bits, with the number of bytes
// after the first stored in the low 2 bits, written in little-endian order
// and truncated to its size:
//
//	v < 2^6     1 byte
//	v < 2^14    2 bytes
//	v < 2^22    3 bytes
//	v < 2^30    4 bytes
//
// A decoder learns the size from the first byte, so the encoding is
// self-delimiting.
type Vint30 uint32

// MaxVint30 is the largest value a [Vint30] can hold.
const MaxVint30 = 1<<30 - 1

// Size reports the encoded size of v in bytes, or -1 if v > [MaxVint30].
func (v Vint30) Size() int {
	if v > MaxVint30 {
		return -1
	}
	n := 1
	for lim := Vint30(1 << 6); v >= lim; lim <<= 8 {
		n++
	}
	return n
}

// Append appends the encoding of v to buf. It panics if v > [MaxVint30].
func (v Vint30) Append(buf []byte) []byte {
	n := v.Size()
	if n < 0 {
		panic(fmt.Sprintf("vint30 value %d out of range", v))
	}
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], uint32(v)<<2|uint32(n-1))
	return append(buf, w[:n]...)
}
