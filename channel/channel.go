// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the trpc.Channel interface.
package channel

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/creachadair/trpc"
)

// Direct constructs a connected pair of in-memory channels that pass
// messages directly without framing. Messages sent to A are received by B and
// vice versa. Closing either end terminates pending and future operations on
// both ends.
func Direct() (A, B trpc.Channel) {
	a2b := make(chan []byte)
	b2a := make(chan []byte)
	aDone := make(chan struct{})
	bDone := make(chan struct{})
	A = &direct{send: a2b, recv: b2a, done: aDone, peer: bDone}
	B = &direct{send: b2a, recv: a2b, done: bDone, peer: aDone}
	return
}

type direct struct {
	send chan<- []byte
	recv <-chan []byte
	once sync.Once
	done chan struct{} // closed when this end is closed
	peer chan struct{} // closed when the other end is closed
}

func (d *direct) isClosed() bool {
	select {
	case <-d.done:
		return true
	case <-d.peer:
		return true
	default:
		return false
	}
}

// Send implements a method of the [trpc.Channel] interface.
func (d *direct) Send(msg []byte) error {
	if d.isClosed() {
		return net.ErrClosed
	}
	select {
	case d.send <- msg:
		return nil
	case <-d.done:
	case <-d.peer:
	}
	return net.ErrClosed
}

// Recv implements a method of the [trpc.Channel] interface.
func (d *direct) Recv() ([]byte, error) {
	if d.isClosed() {
		return nil, net.ErrClosed
	}
	select {
	case msg := <-d.recv:
		return msg, nil
	case <-d.done:
	case <-d.peer:
	}
	return nil, net.ErrClosed
}

// Close implements a method of the [trpc.Channel] interface.
func (d *direct) Close() error {
	d.once.Do(func() { close(d.done) })
	return nil
}

// IO constructs a channel that receives from r and sends to wc. Each message
// is written as a single [trpc.Frame].
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	return IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives framed messages on a reader and a writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [trpc.Channel] interface.
func (c IOChannel) Send(msg []byte) error {
	if _, err := trpc.Frame(msg).WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [trpc.Channel] interface.
func (c IOChannel) Recv() ([]byte, error) {
	var f trpc.Frame
	if _, err := f.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return f, nil
}

// Close implements a method of the [trpc.Channel] interface.
func (c IOChannel) Close() error { return c.c.Close() }
