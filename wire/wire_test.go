// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wire_test

import (
	"errors"
	"io"
	"math"
	"testing"

	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/trpc/wire"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestVint30(t *testing.T) {
	tests := []struct {
		input wire.Vint30
		want  string
	}{
		// Single-byte encodings.
		{0, "\x00"},
		{1, "\x04"},
		{63, "\xfc"},

		// Two-byte encodings.
		{64, "\x01\x01"},
		{100, "\x91\x01"},
		{500, "\xd1\x07"},
		{16383, "\xfd\xff"},

		// Three-byte encodings.
		{16384, "\x02\x00\x01"},
		{65000, "\xa2\xf7\x03"},
		{1048576, "\x02\x00\x40"},

		// Four-byte encodings.
		{62830181, "\x97\xd9\xfa\x0e"},
		{536896023, "\x5f\x88\x01\x80"},
		{1073741823, "\xff\xff\xff\xff"}, // maximum supported value
	}

	var packed []byte
	for _, tc := range tests {
		got := tc.input.Append(nil)
		if string(got) != tc.want {
			t.Errorf("Encode %d: got %v, want %v", tc.input, got, []byte(tc.want))
		}
		packed = tc.input.Append(packed) // see below

		s := wire.NewScanner(got)
		v, err := s.Vint30()
		if err != nil {
			t.Errorf("Scan: unexpected error: %v", err)
		} else if wire.Vint30(v) != tc.input {
			t.Errorf("Scan: got %v, want %v", v, tc.input)
		}
	}

	// Decode the accumulated results to verify self-framing.
	s := wire.NewScanner(packed)
	var i int
	for s.Len() != 0 {
		got, err := s.Vint30()
		if err != nil {
			t.Fatalf("Index %d: invalid encoding (%d bytes left): %v", i, s.Len(), err)
		} else if i >= len(tests) {
			t.Errorf("Index %d: got extra value %d", i, got)
		} else if wire.Vint30(got) != tests[i].input {
			t.Errorf("Index %d: got %v, want %v", i, got, tests[i].input)
		}
		i++
	}

	t.Run("OutOfRange", func(t *testing.T) {
		mtest.MustPanic(t, func() { wire.Vint30(wire.MaxVint30 + 1).Append(nil) })
	})
}

func TestBuilder(t *testing.T) {
	var b wire.Builder
	b.Bool(true)
	b.Put(5, 9, 100)
	b.Uint16(5000)
	b.Uint32(0xfc009a01)
	b.Vint30(999)
	b.VPutString("apple")
	b.VPut([]byte("pear"))
	b.PutString("xyzzy")
	b.Int16(-2)
	b.Uint64(0x0102030405060708)

	const want = "\x01\x05\x09\x64\x13\x88\xfc\x00\x9a\x01\x9d\x0f\x14apple\x10pearxyzzy\xff\xfe\x01\x02\x03\x04\x05\x06\x07\x08"
	//             ^   ^---^---^-- ^-----  ^-------------- ^-----  ^------- ^------^---- ^-----  ^-------------------------------
	//          bool  byte*3        uint16  uint32          vint30  string   bytes literal int16   uint64

	if n := b.Len(); n != len(want) {
		t.Errorf("Len = %d, want %d", n, len(want))
	}
	if string(b.Bytes()) != want {
		t.Errorf("Bytes = %q, want %q", b.Bytes(), want)
	}

	s := wire.NewScanner(b.Bytes())
	check(t, "Bool", s.Bool, true)
	check(t, "Byte 1", s.Byte, 5)
	check(t, "Byte 2", s.Byte, 9)
	check(t, "Byte 3", s.Byte, 100)
	check(t, "Uint16", s.Uint16, 5000)
	check(t, "Uint32", s.Uint32, 0xfc009a01)
	check(t, "Vint30", s.Vint30, 999)
	check(t, "VString", func() (string, error) { return wire.VGet[string](s) }, "apple")
	check(t, "VBytes", func() ([]byte, error) { return wire.VGet[[]byte](s) }, []byte("pear"))
	check(t, "Literal", func() (string, error) {
		var lit []byte
		for range 5 {
			c, err := s.Byte()
			if err != nil {
				return "", err
			}
			lit = append(lit, c)
		}
		return string(lit), nil
	}, "xyzzy")
	check(t, "Int16", func() (int16, error) { return wire.Int16.Scan(s) }, -2)
	check(t, "Uint64", s.Uint64, 0x0102030405060708)

	if s.Len() != 0 {
		t.Errorf("Extra data at EOF: %d bytes", s.Len())
	}
	if _, err := s.Byte(); err != io.EOF {
		t.Errorf("Byte at EOF: got %v, want %v", err, io.EOF)
	}

	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", b.Len())
	}
}

func check[T any](t *testing.T, label string, f func() (T, error), want T) {
	t.Helper()

	got, err := f()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", label, err)
	} else if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("%s result (-got, +want):\n%s", label, diff)
	}
}

func roundTrip[T any](t *testing.T, typ wire.Type[T], v T) {
	t.Helper()

	var b wire.Builder
	typ.Append(&b, v)
	s := wire.NewScanner(b.Bytes())
	got, err := typ.Scan(s)
	if err != nil {
		t.Errorf("Scan %s %v: unexpected error: %v", typ, v, err)
		return
	}
	if diff := cmp.Diff(got, v, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Round trip %s (-got, +want):\n%s", typ, diff)
	}
	if s.Len() != 0 {
		t.Errorf("Round trip %s: %d bytes left over", typ, s.Len())
	}
}

func TestRoundTrip(t *testing.T) {
	roundTrip(t, wire.Bool, false)
	roundTrip(t, wire.Bool, true)
	roundTrip(t, wire.Int8, -128)
	roundTrip(t, wire.Int16, math.MinInt16)
	roundTrip(t, wire.Int32, -42)
	roundTrip(t, wire.Int32, math.MaxInt32)
	roundTrip(t, wire.Int64, math.MinInt64)
	roundTrip(t, wire.Int, -1)
	roundTrip(t, wire.Uint8, 255)
	roundTrip(t, wire.Uint16, 65535)
	roundTrip(t, wire.Uint32, 4)
	roundTrip(t, wire.Uint64, math.MaxUint64)
	roundTrip(t, wire.Float32, 22.22)
	roundTrip(t, wire.Float64, -math.Pi)
	roundTrip(t, wire.Float64, math.Inf(1))
	roundTrip(t, wire.String, "")
	roundTrip(t, wire.String, "msgFromServer")
	roundTrip(t, wire.String, "⌘ unicode")
	roundTrip(t, wire.Bytes, nil)
	roundTrip(t, wire.Bytes, []byte{0, 1, 2, 255})
	roundTrip(t, wire.Seq(wire.Int32), nil)
	roundTrip(t, wire.Seq(wire.Int32), []int32{1, -2, 3})
	roundTrip(t, wire.Seq(wire.String), []string{"a", "", "ccc"})
	roundTrip(t, wire.Seq(wire.Seq(wire.Bool)), [][]bool{{true}, nil, {false, true}})
	roundTrip(t, wire.Map(wire.String, wire.Int64), map[string]int64{})
	roundTrip(t, wire.Map(wire.String, wire.Int64), map[string]int64{"x": 1, "y": -2, "z": 3})
	roundTrip(t, wire.Map(wire.Int32, wire.Seq(wire.String)), map[int32][]string{
		1: {"one"}, 2: {"two", "deux"}, 3: nil,
	})
}

func TestMapDeterministic(t *testing.T) {
	typ := wire.Map(wire.String, wire.Uint8)
	m := map[string]uint8{"c": 3, "a": 1, "b": 2}

	var b wire.Builder
	typ.Append(&b, m)
	const want = "\x0c\x04a\x01\x04b\x02\x04c\x03"
	if got := string(b.Bytes()); got != want {
		t.Errorf("Encode map: got %q, want %q", got, want)
	}

	// A duplicate key is not a valid encoding.
	s := wire.NewScanner("\x08\x04a\x01\x04a\x02")
	if got, err := typ.Scan(s); err == nil {
		t.Errorf("Scan duplicate keys: got %v, want error", got)
	}
}

func TestMapEdges(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		typ := wire.Map(wire.String, wire.Int32)
		var b wire.Builder
		typ.Append(&b, nil)
		got, err := typ.Scan(wire.NewScanner(b.Bytes()))
		if err != nil {
			t.Fatalf("Scan: unexpected error: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("Scan nil map: got %#v, want empty non-nil", got)
		}
	})

	t.Run("NaN", func(t *testing.T) {
		typ := wire.Map(wire.Float64, wire.String)
		in := map[float64]string{math.NaN(): "nan", 1.5: "x", -2: "y"}

		var b wire.Builder
		typ.Append(&b, in)
		s := wire.NewScanner(b.Bytes())
		got, err := typ.Scan(s)
		if err != nil {
			t.Fatalf("Scan: unexpected error: %v", err)
		}
		if s.Len() != 0 {
			t.Errorf("Scan: %d bytes left over", s.Len())
		}
		if len(got) != 3 {
			t.Fatalf("Scan: got %d entries, want 3", len(got))
		}
		for k, v := range got {
			want := in[k]
			if math.IsNaN(k) {
				want = "nan"
			}
			if v != want {
				t.Errorf("Key %v: got %q, want %q", k, v, want)
			}
		}

		// The NaN key sorts first.
		s = wire.NewScanner(b.Bytes())
		if _, err := s.Vint30(); err != nil {
			t.Fatalf("Count: unexpected error: %v", err)
		}
		if k, err := wire.Float64.Scan(s); err != nil || !math.IsNaN(k) {
			t.Errorf("First key: got (%v, %v), want NaN", k, err)
		}
	})
}

func TestTruncated(t *testing.T) {
	tests := []struct {
		name  string
		codec wire.Codec
		input string
	}{
		{"Empty", wire.Int32, ""},
		{"ShortInt", wire.Int32, "\x00\x01"},
		{"ShortFloat", wire.Float64, "\x00\x01\x02"},
		{"ShortString", wire.String, "\x14app"},
		{"MissingString", wire.String, ""},
		{"ShortSeq", wire.Seq(wire.Uint16), "\x08\x00\x01\x00"},
		{"HugeCount", wire.Seq(wire.Bool), "\xfd\xff\x01"},
		{"ShortMapValue", wire.Map(wire.String, wire.Int32), "\x04\x04k\x00"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.codec.DecodeAny(wire.NewScanner(tc.input))
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("DecodeAny %q: got (%v, %v), want %v", tc.input, got, err, io.ErrUnexpectedEOF)
			}
		})
	}
}

func TestCodecs(t *testing.T) {
	cs := wire.Codecs(wire.String, wire.Int32, wire.Seq(wire.Float32))
	if got, want := wire.Signature(cs), "(string, int32, []float32)"; got != want {
		t.Errorf("Signature: got %q, want %q", got, want)
	}

	var b wire.Builder
	in := []any{"OK", int32(33), []float32{1.5, -2}}
	if err := wire.EncodeAll(&b, cs, in); err != nil {
		t.Fatalf("EncodeAll: unexpected error: %v", err)
	}
	out, err := wire.DecodeAll(wire.NewScanner(b.Bytes()), cs)
	if err != nil {
		t.Fatalf("DecodeAll: unexpected error: %v", err)
	}
	if diff := cmp.Diff(out, in); diff != "" {
		t.Errorf("DecodeAll (-got, +want):\n%s", diff)
	}

	t.Run("WrongType", func(t *testing.T) {
		var b wire.Builder
		if err := wire.EncodeAll(&b, cs, []any{"OK", 33, []float32{}}); err == nil {
			t.Error("EncodeAll with int for int32: got nil, want error")
		}
	})
	t.Run("WrongCount", func(t *testing.T) {
		var b wire.Builder
		if err := wire.EncodeAll(&b, cs, []any{"OK"}); err == nil {
			t.Error("EncodeAll with too few values: got nil, want error")
		}
	})
}
