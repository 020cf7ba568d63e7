// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wire

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// A Codec encodes and decodes values of one wire type without static type
// information. Registrations use lists of codecs to declare the parameters
// and results of a function.
type Codec interface {
	// String returns a human-readable name for the wire type.
	String() string

	// EncodeAny appends v to b. It reports an error without modifying b if
	// v does not have the Go type expected by the codec.
	EncodeAny(b *Builder, v any) error

	// DecodeAny decodes one value from the head of s.
	DecodeAny(s *Scanner) (any, error)
}

// Type is a [Codec] for values of Go type T.
type Type[T any] struct {
	name string
	enc  func(*Builder, T)
	dec  func(*Scanner) (T, error)
}

// NewType constructs a Type with the given name and encoding functions.
// The decoder should report [io.ErrUnexpectedEOF] for incomplete input.
func NewType[T any](name string, enc func(*Builder, T), dec func(*Scanner) (T, error)) Type[T] {
	return Type[T]{name: name, enc: enc, dec: dec}
}

// String implements a method of the [Codec] interface.
func (t Type[T]) String() string { return t.name }

// Append appends v to b.
func (t Type[T]) Append(b *Builder, v T) { t.enc(b, v) }

// Scan decodes one value from the head of s. Running out of input is
// reported as [io.ErrUnexpectedEOF], since every declared value is required.
func (t Type[T]) Scan(s *Scanner) (T, error) {
	v, err := t.dec(s)
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("missing %s: %w", t.name, io.ErrUnexpectedEOF)
	}
	return v, err
}

// EncodeAny implements a method of the [Codec] interface.
func (t Type[T]) EncodeAny(b *Builder, v any) error {
	x, ok := v.(T)
	if !ok {
		return fmt.Errorf("value %v of type %T is not %s", v, v, t.name)
	}
	t.enc(b, x)
	return nil
}

// DecodeAny implements a method of the [Codec] interface.
func (t Type[T]) DecodeAny(s *Scanner) (any, error) { return t.Scan(s) }

var (
	Bool = NewType("bool", (*Builder).Bool, (*Scanner).Bool)

	Int8 = NewType("int8", (*Builder).Int8, func(s *Scanner) (int8, error) {
		v, err := s.Byte()
		return int8(v), err
	})
	Int16 = NewType("int16", (*Builder).Int16, func(s *Scanner) (int16, error) {
		v, err := s.Uint16()
		return int16(v), err
	})
	Int32 = NewType("int32", (*Builder).Int32, func(s *Scanner) (int32, error) {
		v, err := s.Uint32()
		return int32(v), err
	})
	Int64 = NewType("int64", (*Builder).Int64, func(s *Scanner) (int64, error) {
		v, err := s.Uint64()
		return int64(v), err
	})

	// Int encodes a Go int as a 64-bit value.
	Int = NewType("int", func(b *Builder, v int) { b.Int64(int64(v)) }, func(s *Scanner) (int, error) {
		v, err := s.Uint64()
		return int(int64(v)), err
	})

	Uint8  = NewType("uint8", (*Builder).Uint8, (*Scanner).Byte)
	Uint16 = NewType("uint16", (*Builder).Uint16, (*Scanner).Uint16)
	Uint32 = NewType("uint32", (*Builder).Uint32, (*Scanner).Uint32)
	Uint64 = NewType("uint64", (*Builder).Uint64, (*Scanner).Uint64)

	Float32 = NewType("float32", (*Builder).Float32, (*Scanner).Float32)
	Float64 = NewType("float64", (*Builder).Float64, (*Scanner).Float64)

	// String encodes text with a Vint30 length prefix.
	String = NewType("string", (*Builder).VPutString, VGet[string])

	// Bytes encodes a byte string with a Vint30 length prefix. Decoded
	// values are copied out of the input.
	Bytes = NewType("bytes", (*Builder).VPut, func(s *Scanner) ([]byte, error) {
		v, err := VGet[[]byte](s)
		if err != nil {
			return nil, err
		}
		return slices.Clone(v), nil
	})
)

// scanCount decodes a Vint30 element count. Every element occupies at least
// one byte, so a count larger than the remaining input cannot be valid.
func scanCount(s *Scanner) (int, error) {
	n, err := s.Vint30()
	if err != nil {
		return 0, err
	} else if n > s.Len() {
		return 0, fmt.Errorf("count %d exceeds remaining input (%d bytes): %w", n, s.Len(), io.ErrUnexpectedEOF)
	}
	return n, nil
}

// Seq returns a Type for slices whose elements are encoded by elem.
// The encoding is a Vint30 count followed by the elements in order.
// A nil slice and an empty slice have the same encoding and decode as nil.
func Seq[T any](elem Type[T]) Type[[]T] {
	return Type[[]T]{
		name: "[]" + elem.name,
		enc: func(b *Builder, vs []T) {
			b.Vint30(uint32(len(vs)))
			for _, v := range vs {
				elem.enc(b, v)
			}
		},
		dec: func(s *Scanner) ([]T, error) {
			n, err := scanCount(s)
			if err != nil || n == 0 {
				return nil, err
			}
			out := make([]T, n)
			for i := range out {
				out[i], err = elem.Scan(s)
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
			}
			return out, nil
		},
	}
}

// Map returns a Type for maps whose keys and values are encoded by key and
// val. The encoding is a Vint30 count followed by key/value pairs in
// ascending key order, so that equal maps have identical encodings.
//
// A nil map and an empty map have the same encoding, and decode as an empty
// non-nil map. Floating-point NaN keys are preserved, ordered before all
// other keys; the relative order of several NaN entries is unspecified.
func Map[K cmp.Ordered, V any](key Type[K], val Type[V]) Type[map[K]V] {
	type entry struct {
		k K
		v V
	}
	return Type[map[K]V]{
		name: "map[" + key.name + "]" + val.name,
		enc: func(b *Builder, m map[K]V) {
			b.Vint30(uint32(len(m)))

			// Iterate entries rather than looking keys up, since m[k] cannot
			// find a NaN key.
			es := make([]entry, 0, len(m))
			for k, v := range m {
				es = append(es, entry{k, v})
			}
			slices.SortFunc(es, func(a, b entry) int { return cmp.Compare(a.k, b.k) })
			for _, e := range es {
				key.enc(b, e.k)
				val.enc(b, e.v)
			}
		},
		dec: func(s *Scanner) (map[K]V, error) {
			n, err := scanCount(s)
			if err != nil {
				return nil, err
			}
			out := make(map[K]V, n)
			for i := range n {
				k, err := key.Scan(s)
				if err != nil {
					return nil, fmt.Errorf("key %d: %w", i, err)
				}
				v, err := val.Scan(s)
				if err != nil {
					return nil, fmt.Errorf("value %d: %w", i, err)
				}
				if _, dup := out[k]; dup {
					return nil, fmt.Errorf("duplicate key %v", k)
				}
				out[k] = v
			}
			return out, nil
		},
	}
}

// Codecs returns its arguments as a slice. It is a convenience for declaring
// parameter and result lists.
func Codecs(cs ...Codec) []Codec { return cs }

// EncodeAll appends vs to b using the corresponding codecs. The number of
// values must match the number of codecs. If an error is reported, b may
// contain a partial encoding and the caller should discard it.
func EncodeAll(b *Builder, cs []Codec, vs []any) error {
	if len(vs) != len(cs) {
		return fmt.Errorf("got %d values, want %d (%s)", len(vs), len(cs), Signature(cs))
	}
	for i, c := range cs {
		if err := c.EncodeAny(b, vs[i]); err != nil {
			return fmt.Errorf("value %d: %w", i+1, err)
		}
	}
	return nil
}

// DecodeAll decodes one value per codec from the head of s.
func DecodeAll(s *Scanner, cs []Codec) ([]any, error) {
	out := make([]any, len(cs))
	for i, c := range cs {
		v, err := c.DecodeAny(s)
		if err != nil {
			return nil, fmt.Errorf("value %d (%s): %w", i+1, c, err)
		}
		out[i] = v
	}
	return out, nil
}

// Signature renders a codec list as a parenthesized type list, for example
// "(string, int32)".
func Signature(cs []Codec) string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.String()
	}
	return "(" + strings.Join(names, ", ") + ")"
}
