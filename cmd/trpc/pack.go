// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/creachadair/command"
	"github.com/creachadair/trpc/wire"
)

const packHelp = `Pack arguments into a binary message.

The pattern specifies the sequence of values to concatenate into the message.
Whitespace in the pattern is ignored; otherwise the pattern specifies how the
corresponding argument is processed:

  p  : a Pascal style string with a 1-byte length prefix
  q  : a quoted literal string (Go style) without framing
  r  : a raw literal string encoded without framing
  s  : a string encoded with a vint30 length prefix
  %  : a Boolean constant (true or false)
  v  : a vint30 value (unsigned)
  1  : a uint8 value (1 byte)
  2  : a uint16 value (2 bytes)
  4  : a uint32 value (4 bytes), also used for tags and request IDs
  8  : a uint64 value (8 bytes)
  f  : a float32 value (4 bytes)

By default, fixed-width values are packed in big-endian order, which is the
order used on the wire, but the following symbols modify the byte order for
future values:

  <  : encode as little-endian
  >  : encode as big-endian (this is the default)

In addition, a "(" begins a subpattern, which goes until a matching ")".
Each subpattern is encoded according to its contents, with a length prefix
prepended. By default, the length prefix is a uint32, but the following
symbols modify the length encoding for future subpatterns:

  ?  : encode length as a vint30
  @  : encode length as a uint16 (2 bytes)
  $  : encode length as a uint32 (4 bytes, the default)
  *  : encode length as a uint64 (8 bytes)

Subpatterns may be nested.

For example, a call to Calc.Add(3, 4) with request ID 4 is:

  trpc pack '4 s s 4 4' 4 Calc Add 3 4
`

func runPack(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("Missing format argument")
	}
	var b wire.Builder
	rest, err := packData(&b, env.Args[0], env.Args[1:])
	if err != nil {
		return err
	} else if len(rest) != 0 {
		return fmt.Errorf("extra arguments: %q", rest)
	}
	_, err = os.Stdout.Write(b.Bytes())
	return err
}

// packData appends the values of args to b according to pat, and returns
// any arguments left unused.
func packData(b *wire.Builder, pat string, args []string) ([]string, error) {
	size := byte('$')
	var byteOrder binary.AppendByteOrder = binary.BigEndian
	packSize := func(n int) {
		switch size {
		case '?':
			b.Vint30(uint32(n))
		case '@':
			b.Put(byteOrder.AppendUint16(nil, uint16(n))...)
		case '$':
			b.Put(byteOrder.AppendUint32(nil, uint32(n))...)
		case '*':
			b.Put(byteOrder.AppendUint64(nil, uint64(n))...)
		default:
			panic("invalid size type: " + string(size))
		}
	}
	for i := 0; i < len(pat); i++ {
		c := pat[i]
		switch c {
		case 'p', 'q', 'r', 's', '%', 'v', '1', '2', '4', '8', 'f':
			// OK, these need an argument (see below)
		case ' ', '\t', '\n':
			continue
		case '@', '$', '*', '?':
			size = c
			continue
		case '<':
			byteOrder = binary.LittleEndian
			continue
		case '>':
			byteOrder = binary.BigEndian
			continue
		case '(':
			sub, ok := cutParen(pat[i+1:], '(', ')')
			if !ok {
				return nil, errors.New("missing close parenthesis")
			}
			var sb wire.Builder
			sa, err := packData(&sb, sub, args)
			if err != nil {
				return nil, fmt.Errorf("invalid subpattern: %w", err)
			}
			packSize(sb.Len())
			b.Put(sb.Bytes()...)
			args = sa
			i += len(sub) + 1
			continue
		default:
			return nil, fmt.Errorf("invalid pattern word %c", c)
		}

		if len(args) == 0 {
			return nil, fmt.Errorf("missing argument for %c", c)
		}
		arg := args[0]
		switch c {
		case 'p':
			if len(arg) > 255 {
				return nil, fmt.Errorf("length %d > 255 too long for p", len(arg))
			}
			b.Uint8(byte(len(arg)))
			b.PutString(arg)
		case 'q':
			dec, err := strconv.Unquote(`"` + arg + `"`)
			if err != nil {
				return nil, fmt.Errorf("invalid string: %w", err)
			}
			b.PutString(dec)
		case 'r':
			b.PutString(arg)
		case 's':
			b.VPutString(arg)
		case '%':
			v, err := strconv.ParseBool(arg)
			if err != nil {
				return nil, fmt.Errorf("invalid bool: %w", err)
			}
			b.Bool(v)
		case 'v':
			v, err := strconv.ParseUint(arg, 10, 30)
			if err != nil {
				return nil, fmt.Errorf("invalid vint30: %w", err)
			}
			b.Vint30(uint32(v))
		case '1':
			v, err := strconv.ParseUint(arg, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid byte: %w", err)
			}
			b.Uint8(byte(v))
		case '2':
			v, err := strconv.ParseUint(arg, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("invalid uint16: %w", err)
			}
			b.Put(byteOrder.AppendUint16(nil, uint16(v))...)
		case '4':
			v, err := strconv.ParseUint(arg, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid uint32: %w", err)
			}
			b.Put(byteOrder.AppendUint32(nil, uint32(v))...)
		case '8':
			v, err := strconv.ParseUint(arg, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid uint64: %w", err)
			}
			b.Put(byteOrder.AppendUint64(nil, v)...)
		case 'f':
			v, err := strconv.ParseFloat(arg, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid float32: %w", err)
			}
			b.Put(byteOrder.AppendUint32(nil, math.Float32bits(float32(v)))...)
		default:
			panic("invalid code: " + string(c))
		}
		args = args[1:]
	}
	return args, nil
}

func cutParen(s string, l, r rune) (string, bool) {
	d := 1
	for i, c := range s {
		if c == l {
			d++
		} else if c == r {
			d--
			if d == 0 {
				return s[:i], true
			}
		}
	}
	return s, false
}
