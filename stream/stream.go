// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package stream provides helpers for implementing streaming calls, where a
// single call from a client yields a sequence of values from the server.
//
// The client generates a random event name and passes it as the first
// argument of the call. The server sends each value as a notification for
// that event as soon as it is produced, then replies with an error string,
// empty on success. Since a session delivers messages in order, every value
// arrives before the reply.
package stream

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"iter"
	"sync"

	"github.com/creachadair/trpc"
	"github.com/creachadair/trpc/wire"
	"github.com/eapache/queue"
)

// A 24-byte random value acts as a capability naming the event. The value is
// not brute-forceable in reasonable time, and has negligible probability of
// collision with another stream on the same client.
const capabilityLen = 24

// mkCapability returns a random event name.
func mkCapability() string {
	var buf [capabilityLen]byte
	rand.Read(buf[:])
	return "stream:" + hex.EncodeToString(buf[:])
}

// A HandlerFunc yields a stream of values in response to a request. The
// returned iterator is expected to only yield a non-nil error as its final
// element, following zero or more error-free values.
type HandlerFunc[T any] func(context.Context, *trpc.Request) iter.Seq2[T, error]

// Func adapts fn to a trpc.Func with the given name and parameters, whose
// values are encoded by item. The resulting function must be invoked with
// [Call].
func Func[T any](name string, params []wire.Codec, item wire.Type[T], fn HandlerFunc[T]) trpc.Func {
	return trpc.Func{
		Method: trpc.Method{
			Name:    name,
			Params:  append(wire.Codecs(wire.String), params...),
			Results: wire.Codecs(wire.String),
		},
		Run: func(ctx context.Context, req *trpc.Request, reply trpc.Reply) {
			srv := trpc.ContextServer(ctx)
			sub := *req
			sub.Args = req.Args[1:]
			m := trpc.Method{Name: req.Args[0].(string), Params: wire.Codecs(item)}

			// The dispatch holds the session's outbox until Run returns, so
			// produce values elsewhere for each to be sent as it is yielded.
			go func() { reply(produce(ctx, srv, &sub, m, fn)) }()
		},
	}
}

// produce sends the values of fn as notifications of m to the session of req,
// and returns the error text for the final reply.
func produce[T any](ctx context.Context, srv *trpc.Server, req *trpc.Request, m trpc.Method, fn HandlerFunc[T]) (msg string) {
	defer func() {
		if x := recover(); x != nil {
			msg = fmt.Sprintf("handler panicked: %v", x)
		}
	}()
	for v, err := range fn(ctx, req) {
		if err == nil {
			if !srv.HasSession(req.Session) {
				return trpc.ErrClosed.Error()
			}
			err = srv.Notify(req.Session, m, v)
		}
		if err != nil {
			return err.Error()
		}
	}
	return ""
}

// ServiceError is the error reported by Call when the server handler ends
// its stream with an error.
type ServiceError string

func (s ServiceError) Error() string { return "service error: " + string(s) }

// Call calls the streaming function m on the server connected to c, and
// yields the values it sends. The params of m must not include the event
// name, which Call supplies. The stream ends at the server's discretion, or
// when ctx ends.
//
// The returned iterator yields zero or more (v, nil) values. If the call
// ends unsuccessfully, the iterator ends the stream with a final (zero, err)
// pair.
func Call[T any](ctx context.Context, c *trpc.Client, m trpc.Method, item wire.Type[T], args ...any) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		event := mkCapability()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// Notifications run on the client's receive loop, which must not
		// block waiting for the consumer, so buffer them.
		buf := newBuffer()
		c.OnNotify(trpc.Notifier{
			Method: trpc.Method{Name: event, Params: wire.Codecs(item)},
			Run:    func(_ context.Context, args []any) { buf.push(args[0]) },
		})
		defer c.OnNotify(trpc.Notifier{Method: trpc.Method{Name: event}})

		call := m
		call.Params = append(wire.Codecs(wire.String), m.Params...)
		call.Results = wire.Codecs(wire.String)
		go func() {
			rs, err := c.CallWait(ctx, call, append([]any{event}, args...)...)
			if err == nil {
				if msg := rs[0].(string); msg != "" {
					err = ServiceError(msg)
				}
			}
			buf.finish(err)
		}()

		for {
			v, ok, err := buf.next(ctx)
			if !ok {
				if err != nil {
					yield(zero, err)
				}
				return
			}
			if !yield(v.(T), nil) {
				// Returning cancels the call, which is abandoned.
				return
			}
		}
	}
}

// A buffer is an unbounded queue of stream values ending with an error.
type buffer struct {
	μ     sync.Mutex
	q     *queue.Queue
	done  bool
	err   error
	ready chan struct{}
}

func newBuffer() *buffer {
	return &buffer{q: queue.New(), ready: make(chan struct{}, 1)}
}

func (b *buffer) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *buffer) push(v any) {
	b.μ.Lock()
	defer b.μ.Unlock()
	b.q.Add(v)
	b.signal()
}

func (b *buffer) finish(err error) {
	b.μ.Lock()
	defer b.μ.Unlock()
	b.done, b.err = true, err
	b.signal()
}

// next blocks until a value is available, the stream ends, or ctx ends.
// It reports ok == false at the end of the stream.
func (b *buffer) next(ctx context.Context) (_ any, ok bool, _ error) {
	for {
		b.μ.Lock()
		if b.q.Length() != 0 {
			v := b.q.Remove()
			b.μ.Unlock()
			return v, true, nil
		} else if b.done {
			err := b.err
			b.μ.Unlock()
			return nil, false, err
		}
		b.μ.Unlock()

		select {
		case <-b.ready:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}
