// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package trpc

import (
	"context"
	"expvar"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/creachadair/taskgroup"
	"github.com/creachadair/trpc/wire"
	"go.uber.org/zap"
)

// A Client calls the handler groups of a single server, and serves the
// notifications and calls that server sends back. A zero-valued Client is
// ready for use, but must not be copied after any method has been called.
//
// Call Start with a channel to start the service routines for the client.
// Once started, a client runs until Stop is called, the channel closes, or
// the server sends a malformed message. Use Wait to wait for the client to
// exit and report its status.
//
// Use OnNotify and OnCall to register the events and functions the server
// may invoke. These methods are safe to call while the client is running.
type Client struct {
	μ sync.Mutex

	ep    *endpoint
	ch    Channel
	tasks *taskgroup.Group
	stop  chan struct{} // closed when the client fails or stops
	err   error         // the reason the client stopped

	notify map[string]Notifier
	funcs  map[string]Func
	before func(handler, function string, first any) bool
	log    *zap.Logger
	plog   MessageLogger
	base   func() context.Context

	onExit func(error)
}

// NewClient constructs a new unstarted client.
func NewClient() *Client { return new(Client) }

// Start starts the client running on the given channel. The client runs
// until the channel closes or a fatal error occurs. Start does not block;
// call Wait to wait for the client to exit and report its status.
//
// Start panics if the client is already running.
func (c *Client) Start(ch Channel) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.ep != nil {
		panic("client is already started")
	}

	ep := newEndpoint()
	g := taskgroup.New(nil)
	c.ep = ep
	c.ch = ch
	c.tasks = g
	c.stop = make(chan struct{})
	c.err = nil

	g.Go(func() error {
		err := ep.out.run(func(msg []byte) error {
			rootMetrics.msgSent.Add(1)
			c.logMessage(MessageInfo{Data: msg, Sent: true})
			return ch.Send(msg)
		})
		if err != nil {
			c.fail(fmt.Errorf("send: %w", err))
		}
		return nil
	})
	g.Go(func() error {
		for {
			msg, err := ch.Recv()
			if err != nil {
				c.fail(err)
				return nil
			}
			if err := c.Receive(msg); IsFatal(err) {
				c.fail(err)
				return nil
			}
		}
	})
	return c
}

// Metrics returns a metrics map for the client. It is safe for the caller to
// add additional metrics to the map while the client is active.
func (c *Client) Metrics() *expvar.Map { return rootMetrics.emap }

// Stop closes the channel and terminates the client. It blocks until the
// client has exited and returns its status. Pending calls are discarded
// without invoking their callbacks. After Stop completes it is safe to
// restart the client with a new channel.
func (c *Client) Stop() error { c.fail(net.ErrClosed); return c.Wait() }

// Wait blocks until c terminates and reports the error that caused it to
// stop. After Wait completes it is safe to restart the client with a new
// channel.
//
// If c is not running, or has stopped because of a closed channel, Wait
// returns nil; otherwise it returns the error that triggered the failure.
func (c *Client) Wait() error {
	c.μ.Lock()
	t := c.tasks
	c.μ.Unlock()
	if t == nil {
		return nil // the client is not running
	}
	t.Wait()

	c.μ.Lock()
	defer c.μ.Unlock()
	c.ep = nil
	c.ch = nil
	c.tasks = nil
	if treatErrorAsSuccess(c.err) {
		return nil
	}
	return c.err
}

// fail terminates the client with err, unless it has already stopped.
func (c *Client) fail(err error) {
	c.μ.Lock()
	if c.ep == nil || c.err != nil {
		c.μ.Unlock()
		return
	}
	c.err = err
	close(c.stop)
	c.ch.Close()
	n := c.ep.close()
	lg, onExit := c.logger(), c.onExit
	c.μ.Unlock()

	if treatErrorAsSuccess(err) {
		err = nil
		lg.Debug("client stopped", zap.Int("abandoned", n))
	} else {
		lg.Error("client failed", zap.Error(err), zap.Int("abandoned", n))
	}
	if onExit != nil {
		onExit(err)
	}
}

// OnExit registers a callback to be invoked when the client terminates. The
// callback is executed synchronously during shutdown, with the same error
// value that would be reported by the Wait method.
//
// Only one exit callback can be registered at a time; if f == nil the
// callback is removed.
func (c *Client) OnExit(f func(error)) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.onExit = f
	return c
}

// OnNotify registers n to handle notifications for the event n.Name. If
// n.Run == nil, any handler for that event is removed. It returns c to permit
// chaining.
func (c *Client) OnNotify(n Notifier) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	if n.Run == nil {
		delete(c.notify, n.Name)
		return c
	}
	if c.notify == nil {
		c.notify = make(map[string]Notifier)
	}
	c.notify[n.Name] = n
	return c
}

// OnCall registers f to handle calls from the server for the function
// f.Name. If f.Run == nil, any handler for that function is removed. It
// returns c to permit chaining.
func (c *Client) OnCall(f Func) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	if f.Run == nil {
		delete(c.funcs, f.Name)
		return c
	}
	if c.funcs == nil {
		c.funcs = make(map[string]Func)
	}
	c.funcs[f.Name] = f
	return c
}

// BeforeResponse registers a hook that is called with the handler and
// function names and the first result value (or nil) of each response to a
// call, before its callback is invoked. If the hook returns false, the
// callback is not invoked. The pending call is completed either way.
// Passing nil removes the hook.
func (c *Client) BeforeResponse(f func(handler, function string, first any) bool) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.before = f
	return c
}

// UseLogger sets the logger used to record lifecycle events and message
// errors. If lg == nil, logging is disabled.
func (c *Client) UseLogger(lg *zap.Logger) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.log = lg
	return c
}

// LogMessages registers a callback that will be invoked for each message
// exchanged with the server. Passing nil disables message logging.
func (c *Client) LogMessages(log MessageLogger) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.plog = log
	return c
}

// NewContext registers a function that will be called to create a new base
// context for notification and call handlers. If it is not set a background
// context is used.
func (c *Client) NewContext(base func() context.Context) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.base = base
	return c
}

// logger returns the current logger. The caller must hold c.μ.
func (c *Client) logger() *zap.Logger {
	if c.log == nil {
		return zap.NewNop()
	}
	return c.log
}

func (c *Client) logMessage(m MessageInfo) {
	c.μ.Lock()
	plog := c.plog
	c.μ.Unlock()
	if plog != nil {
		plog(m)
	}
}

func (c *Client) newContext() context.Context {
	c.μ.Lock()
	base := c.base
	c.μ.Unlock()
	if base == nil {
		base = context.Background
	}
	return context.WithValue(base(), clientContextKey{}, c)
}

// Pending reports the number of calls awaiting a response.
func (c *Client) Pending() int {
	c.μ.Lock()
	ep := c.ep
	c.μ.Unlock()
	if ep == nil {
		return 0
	}
	return ep.pending()
}

// Call calls the server function named by m, which must have the form
// "Handler.Function", and arranges for cb to receive the results when the
// response arrives. Call does not wait for the response. If cb == nil the
// results are discarded.
//
// If args do not match m.Params, Call reports an error and sends nothing. If
// the client stops before the response arrives, cb is never called.
func (c *Client) Call(m Method, args []any, cb Callback) error {
	_, _, err := c.issue(m, args, cb, nil)
	return err
}

// CallWait calls the server function named by m and blocks until its results
// arrive or ctx ends. If ctx ends first, the call is abandoned locally and a
// late response will be reported as unmatched. It reports ErrClosed if the
// client stops before the response arrives.
//
// CallWait must not be called from a handler running on the client's own
// dispatcher, since the response could never be delivered.
func (c *Client) CallWait(ctx context.Context, m Method, args ...any) ([]any, error) {
	done := make(chan []any, 1)
	veto := make(chan struct{}, 1)
	ep, id, err := c.issue(m, args,
		func(rs []any) { done <- rs },
		func() { veto <- struct{}{} },
	)
	if err != nil {
		return nil, err
	}
	c.μ.Lock()
	stop := c.stop
	c.μ.Unlock()

	select {
	case rs := <-done:
		return rs, nil
	case <-veto:
		return nil, fmt.Errorf("call %q: %w", m.Name, ErrSuppressed)
	case <-stop:
		// Check whether the response won the race with the shutdown.
		select {
		case rs := <-done:
			return rs, nil
		default:
			return nil, fmt.Errorf("call %q: %w", m.Name, ErrClosed)
		}
	case <-ctx.Done():
		if _, ok := ep.take(id); ok {
			rootMetrics.callAbandoned.Add(1)
		}
		return nil, ctx.Err()
	}
}

// issue sends a call for m and records its continuation. If the
// BeforeResponse hook declines the response, onVeto is called if set.
func (c *Client) issue(m Method, args []any, cb Callback, onVeto func()) (*endpoint, RequestID, error) {
	hname, fname, ok := strings.Cut(m.Name, ".")
	if !ok || hname == "" || fname == "" {
		return nil, 0, fmt.Errorf("call %q: %w", m.Name, ErrBadName)
	}
	c.μ.Lock()
	ep := c.ep
	c.μ.Unlock()
	if ep == nil {
		return nil, 0, ErrNotStarted
	}

	id, err := ep.call(func(b *wire.Builder, id RequestID) error {
		tagCodec.Append(b, uint32(id))
		wire.String.Append(b, hname)
		wire.String.Append(b, fname)
		return wire.EncodeAll(b, m.Params, args)
	}, func(sc *wire.Scanner) error {
		rs, err := decodeArgs(sc, m.Results)
		if err != nil {
			return fmt.Errorf("results of %q: %w", m.Name, err)
		}
		c.μ.Lock()
		before := c.before
		c.μ.Unlock()
		if before != nil {
			var first any
			if len(rs) != 0 {
				first = rs[0]
			}
			if !before(hname, fname, first) {
				if onVeto != nil {
					onVeto()
				}
				return nil
			}
		}
		if cb != nil {
			cb(rs)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	rootMetrics.callOut.Add(1)
	return ep, id, nil
}

// Receive dispatches one message from the server. The client's service loop
// calls Receive for each message it reads; it is exported so that a caller
// can deliver messages from a custom transport.
//
// Any error reported by Receive has concrete type *MessageError, except that
// it reports ErrNotStarted if the client is not running. Errors for which
// IsFatal is true mean the message stream cannot be trusted, and the client
// should be stopped.
func (c *Client) Receive(msg []byte) error {
	c.μ.Lock()
	ep := c.ep
	c.μ.Unlock()
	if ep == nil {
		return ErrNotStarted
	}
	rootMetrics.msgRecv.Add(1)
	c.logMessage(MessageInfo{Data: msg})

	ep.out.hold()
	defer ep.out.release()

	err := c.dispatch(ep, msg)
	if err != nil {
		rootMetrics.callInErr.Add(1)
		c.μ.Lock()
		lg := c.logger()
		c.μ.Unlock()
		if IsFatal(err) {
			lg.Error("malformed message", zap.Error(err))
		} else {
			lg.Warn("message dropped", zap.Error(err))
		}
	}
	return err
}

func (c *Client) dispatch(ep *endpoint, msg []byte) error {
	sc := wire.NewScanner(msg)
	tag, err := scanTag(sc)
	if err != nil {
		return &MessageError{Err: malformed(err)}
	}
	merr := func(name string, err error) error {
		return &MessageError{Tag: tag, Name: name, Err: err}
	}

	switch tag {
	case TagNotify:
		name, err := wire.String.Scan(sc)
		if err != nil {
			return merr("", malformed(err))
		}
		rootMetrics.notifyIn.Add(1)
		c.μ.Lock()
		n, ok := c.notify[name]
		c.μ.Unlock()
		if !ok {
			return merr(name, ErrUnknownFunc)
		}
		args, err := decodeArgs(sc, n.Params)
		if err != nil {
			return merr(name, err)
		}
		ctx := c.newContext()
		if err := runSafe(func() { n.Run(ctx, args) }); err != nil {
			return merr(name, err)
		}
		return nil

	case TagCall:
		name, err := wire.String.Scan(sc)
		if err != nil {
			return merr("", malformed(err))
		}
		rid, err := scanTag(sc)
		if err != nil {
			return merr(name, malformed(err))
		}
		rootMetrics.callIn.Add(1)
		c.μ.Lock()
		f, ok := c.funcs[name]
		c.μ.Unlock()
		if !ok {
			return merr(name, ErrUnknownFunc)
		}
		args, err := decodeArgs(sc, f.Params)
		if err != nil {
			return merr(name, err)
		}
		ctx := c.newContext()
		req := &Request{ID: rid, Function: name, Args: args}
		reply := newReply(ep.out, f.Results, func(b *wire.Builder) {
			tagCodec.Append(b, uint32(TagCallResponse))
			tagCodec.Append(b, uint32(rid))
		})
		if err := runSafe(func() { f.Run(ctx, req, reply) }); err != nil {
			return merr(name, err)
		}
		return nil

	case 0, TagCallResponse:
		return merr("", ErrReservedTag)
	}

	// Reaching here, tag is the ID of one of our calls.
	if err := ep.complete(tag, sc); err != nil {
		return merr("", err)
	}
	return nil
}

type clientContextKey struct{}

// ContextClient returns the Client associated with the given context, or nil
// if none is defined. The context passed to notification and call handlers
// registered on a client has this value.
func ContextClient(ctx context.Context) *Client {
	if v := ctx.Value(clientContextKey{}); v != nil {
		return v.(*Client)
	}
	return nil
}
