// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package trpc

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/creachadair/trpc/wire"
	"github.com/eapache/queue"
)

// A Channel is a reliable ordered stream of messages shared by two peers.
// Each message is one complete, self-contained value sequence; the channel
// is responsible for framing.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the message to the receiver.
	Send([]byte) error

	// Receive the next available message from the channel.
	Recv() ([]byte, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A MessageLogger logs a message exchanged with a remote peer.
type MessageLogger func(MessageInfo)

// A MessageInfo describes a message sent or received by a server or client.
type MessageInfo struct {
	Session SessionID // the session, or 0 for a client
	Data    []byte    // the encoded message; do not modify
	Sent    bool      // whether the message was sent (true) or received (false)
	Server  bool      // whether the message was logged by a server
}

func (m MessageInfo) dir() string {
	if m.Sent {
		return "send"
	}
	return "recv"
}

// String renders the header of the message in human-readable form.
func (m MessageInfo) String() string {
	var who string
	if m.Session != 0 {
		who = fmt.Sprintf(" [session %d]", m.Session)
	}
	return fmt.Sprintf("%s%s %s (%d bytes)", m.dir(), who, m.describe(), len(m.Data))
}

func (m MessageInfo) describe() string {
	s := wire.NewScanner(m.Data)
	tag, err := scanTag(s)
	if err != nil {
		return "<invalid>"
	}
	name := func() string { v, _ := wire.String.Scan(s); return v }
	toClient := m.Server == m.Sent
	switch {
	case toClient && tag == TagNotify:
		return fmt.Sprintf("NOTIFY %q", name())
	case toClient && tag == TagCall:
		fn := name()
		id, _ := scanTag(s)
		return fmt.Sprintf("CALL %q id=%d", fn, id)
	case toClient:
		return fmt.Sprintf("RESPONSE id=%d", tag)
	case tag == TagCallResponse:
		id, _ := scanTag(s)
		return fmt.Sprintf("CALL_RESPONSE id=%d", id)
	default:
		h := name()
		return fmt.Sprintf("REQUEST %q id=%d", h+"."+name(), tag)
	}
}

// An outbox buffers encoded messages for one peer and feeds them in order to
// a single writer goroutine.
//
// Messages are first staged, then flushed to the writer queue. While an
// inbound message is being dispatched the outbox is held, and staged
// messages are not flushed until dispatch completes.
type outbox struct {
	μ      sync.Mutex
	buf    wire.Builder // reset for each message
	staged [][]byte
	q      *queue.Queue // flushed messages, drained by run
	held   int
	closed bool

	ready chan struct{} // signals run that q is non-empty
	done  chan struct{} // closed when the outbox closes
}

func newOutbox() *outbox {
	return &outbox{
		q:     queue.New(),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// send encodes a single message with enc and stages it for delivery. If the
// outbox is not held, the message is flushed immediately.
func (o *outbox) send(enc func(*wire.Builder) error) error {
	o.μ.Lock()
	defer o.μ.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.buf.Reset()
	if err := enc(&o.buf); err != nil {
		return err
	}
	o.staged = append(o.staged, bytes.Clone(o.buf.Bytes()))
	o.flushLocked()
	return nil
}

func (o *outbox) flushLocked() {
	if o.held > 0 || len(o.staged) == 0 {
		return
	}
	for _, msg := range o.staged {
		o.q.Add(msg)
	}
	clear(o.staged)
	o.staged = o.staged[:0]
	select {
	case o.ready <- struct{}{}:
	default:
		// the writer already has a wakeup pending
	}
}

// hold defers flushing until a matching call to release.
func (o *outbox) hold() {
	o.μ.Lock()
	defer o.μ.Unlock()
	o.held++
}

// release undoes one hold, and flushes any staged messages if that was the
// last one.
func (o *outbox) release() {
	o.μ.Lock()
	defer o.μ.Unlock()
	o.held--
	o.flushLocked()
}

// pop removes and returns the oldest flushed message, if any.
func (o *outbox) pop() ([]byte, bool) {
	o.μ.Lock()
	defer o.μ.Unlock()
	if o.closed || o.q.Length() == 0 {
		return nil, false
	}
	return o.q.Remove().([]byte), true
}

// close discards all undelivered messages and stops the writer.
func (o *outbox) close() {
	o.μ.Lock()
	defer o.μ.Unlock()
	if !o.closed {
		o.closed = true
		o.staged = nil
		close(o.done)
	}
}

// run delivers flushed messages in order by calling send, until the outbox
// is closed or send reports an error.
func (o *outbox) run(send func([]byte) error) error {
	for {
		for {
			msg, ok := o.pop()
			if !ok {
				break
			}
			if err := send(msg); err != nil {
				return err
			}
		}
		select {
		case <-o.ready:
		case <-o.done:
			return nil
		}
	}
}

// A continuation decodes the response to a pending call and delivers it.
type continuation func(*wire.Scanner) error

// An endpoint holds the correlation state of one connection: its outbox,
// the request ID counter, and the table of pending outbound calls.
// Sessions and clients each own one.
type endpoint struct {
	out *outbox

	μ     sync.Mutex
	next  RequestID
	calls map[RequestID]continuation // nil once the endpoint is closed
}

func newEndpoint() *endpoint {
	return &endpoint{
		out:   newOutbox(),
		next:  FirstRequestID,
		calls: make(map[RequestID]continuation),
	}
}

// call allocates a request ID not held by a pending call, records k as its
// continuation, and sends the message produced by enc for that ID. The
// continuation is recorded before the message is sent, so the response
// cannot outrun it.
func (e *endpoint) call(enc func(*wire.Builder, RequestID) error, k continuation) (RequestID, error) {
	e.μ.Lock()
	if e.calls == nil {
		e.μ.Unlock()
		return 0, ErrClosed
	}
	id := e.next
	for {
		e.next++
		if e.next < FirstRequestID {
			e.next = FirstRequestID // wrapped around
		}
		if _, busy := e.calls[id]; !busy {
			break
		}
		id = e.next // still pending from a previous cycle
	}
	e.calls[id] = k
	e.μ.Unlock()
	rootMetrics.callPending.Add(1)

	if err := e.out.send(func(b *wire.Builder) error { return enc(b, id) }); err != nil {
		e.take(id)
		return 0, err
	}
	return id, nil
}

// take removes and returns the continuation for id, if there is one.
func (e *endpoint) take(id RequestID) (continuation, bool) {
	e.μ.Lock()
	defer e.μ.Unlock()
	k, ok := e.calls[id]
	if ok {
		delete(e.calls, id)
		rootMetrics.callPending.Add(-1)
	}
	return k, ok
}

// complete delivers the response to request id from s.
func (e *endpoint) complete(id RequestID, s *wire.Scanner) error {
	k, ok := e.take(id)
	if !ok {
		rootMetrics.rspUnmatched.Add(1)
		return ErrUnmatchedResponse
	}
	return k(s)
}

// close discards all pending calls without invoking them, stops the outbox,
// and reports how many calls were abandoned.
func (e *endpoint) close() int {
	e.out.close()

	e.μ.Lock()
	defer e.μ.Unlock()
	n := len(e.calls)
	e.calls = nil
	rootMetrics.callPending.Add(int64(-n))
	rootMetrics.callAbandoned.Add(int64(n))
	return n
}

// pending reports the number of outstanding outbound calls.
func (e *endpoint) pending() int {
	e.μ.Lock()
	defer e.μ.Unlock()
	return len(e.calls)
}
