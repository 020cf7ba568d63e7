// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package trpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize is the largest message payload accepted in a Frame.
const MaxFrameSize = 16 << 20

// frameVersion is the only framing version currently defined.
const frameVersion = 0

// A Frame is one message payload framed for transmission on a byte stream.
//
// The binary format is an 8-byte header followed by the payload:
//
//	'T' 'R' <version> <reserved> <length:uint32 big-endian>
//
// The version and reserved bytes must be zero.
type Frame []byte

// WriteTo writes the frame to w in binary format. It satisfies io.WriterTo.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	if len(f) > MaxFrameSize {
		return 0, fmt.Errorf("frame too large (%d > %d bytes)", len(f), MaxFrameSize)
	}
	buf := [8]byte{'T', 'R', frameVersion, 0}
	binary.BigEndian.PutUint32(buf[4:], uint32(len(f)))
	nw, err := w.Write(buf[:])
	if err == nil && len(f) != 0 {
		var np int
		np, err = w.Write(f)
		nw += np
	}
	return int64(nw), err
}

// ReadFrom reads a frame from r in binary format, replacing the contents of
// *f. It satisfies io.ReaderFrom.
func (f *Frame) ReadFrom(r io.Reader) (int64, error) {
	var buf [8]byte
	nr, err := io.ReadFull(r, buf[:])
	if err == io.EOF {
		return 0, err // clean end of stream
	} else if err != nil {
		return int64(nr), fmt.Errorf("short frame header: %w", err)
	}
	if m := string(buf[:4]); m != "TR\x00\x00" {
		return int64(nr), fmt.Errorf("%w: invalid frame header %q", ErrMalformed, m)
	}

	psize := binary.BigEndian.Uint32(buf[4:])
	if psize > MaxFrameSize {
		return int64(nr), fmt.Errorf("%w: frame too large (%d > %d bytes)", ErrMalformed, psize, MaxFrameSize)
	}
	*f = make(Frame, int(psize))
	np, err := io.ReadFull(r, *f)
	nr += np
	if err != nil {
		err = fmt.Errorf("short frame payload: %w", err)
	}
	return int64(nr), err
}
