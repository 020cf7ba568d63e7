// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package trpc

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"

	"github.com/creachadair/taskgroup"
	"github.com/creachadair/trpc/wire"
	"go.uber.org/zap"
)

// A Server accepts sessions from many clients and dispatches their calls to
// the functions of a registry. It can also call and notify the functions
// registered by each connected client.
//
// Each session runs a reader and a writer goroutine. Inbound messages on a
// session are dispatched one at a time, in arrival order, and messages sent
// to the session while a dispatch is in progress are delivered when the
// dispatch completes, in the order they were sent.
//
// The methods of a Server are safe for concurrent use by multiple goroutines.
type Server struct {
	reg    *Registry
	groups []*group
	tasks  *taskgroup.Group

	μ        sync.Mutex
	nextID   SessionID
	sessions map[SessionID]*session
	log      *zap.Logger
	plog     MessageLogger
	base     func() context.Context
	onDisc   func(SessionID)
}

type session struct {
	id SessionID
	ch Channel
	*endpoint
}

// NewServer constructs a server that dispatches calls to the functions of
// reg. After NewServer returns, no further groups can be registered in reg.
// The Init hooks of the registered groups are invoked before NewServer
// returns, in registration order.
func NewServer(reg *Registry) *Server {
	s := &Server{
		reg:      reg,
		groups:   reg.freeze(),
		tasks:    taskgroup.New(nil),
		nextID:   FirstSessionID,
		sessions: make(map[SessionID]*session),
		log:      zap.NewNop(),
		base:     context.Background,
	}
	for _, g := range s.groups {
		if g.Init != nil {
			g.Init(s)
		}
	}
	return s
}

// Registry returns the registry served by s.
func (s *Server) Registry() *Registry { return s.reg }

// Metrics returns a metrics map for the server. It is safe for the caller to
// add additional metrics to the map while the server is active.
func (s *Server) Metrics() *expvar.Map { return rootMetrics.emap }

// UseLogger sets the logger used to record session lifecycle and message
// errors. If lg == nil, logging is disabled. It returns s to permit chaining.
func (s *Server) UseLogger(lg *zap.Logger) *Server {
	if lg == nil {
		lg = zap.NewNop()
	}
	s.μ.Lock()
	defer s.μ.Unlock()
	s.log = lg
	return s
}

// LogMessages registers a callback that will be invoked for each message
// exchanged with any session. Passing nil disables message logging.
//
// Inbound messages are logged before dispatch. Outbound messages are logged
// by the writer just before they are sent on the channel.
func (s *Server) LogMessages(log MessageLogger) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.plog = log
	return s
}

// NewContext registers a function that will be called to create a new base
// context for function handlers. If it is not set a background context is
// used.
func (s *Server) NewContext(base func() context.Context) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	if base == nil {
		s.base = context.Background
	} else {
		s.base = base
	}
	return s
}

// OnDisconnect registers a callback that will be invoked when a session is
// removed, after the OnDisconnect hooks of the registered groups. Only one
// callback can be registered at a time; if f == nil the callback is removed.
func (s *Server) OnDisconnect(f func(SessionID)) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.onDisc = f
	return s
}

func (s *Server) logger() *zap.Logger {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.log
}

func (s *Server) logMessage(m MessageInfo) {
	s.μ.Lock()
	plog := s.plog
	s.μ.Unlock()
	if plog != nil {
		plog(m)
	}
}

// AddSession adds a new session communicating over ch and returns its ID.
// The server takes ownership of ch, and closes it when the session is
// removed. The session remains active until it is removed, ch reports an
// error, or the peer sends a malformed message.
func (s *Server) AddSession(ch Channel) SessionID {
	s.μ.Lock()
	sess := &session{id: s.nextID, ch: ch, endpoint: newEndpoint()}
	s.sessions[sess.id] = sess
	s.nextID++
	lg := s.log
	s.μ.Unlock()

	rootMetrics.sessionActive.Add(1)
	lg.Info("session added", zap.Int("session", int(sess.id)))

	s.tasks.Go(func() error {
		err := sess.out.run(func(msg []byte) error {
			rootMetrics.msgSent.Add(1)
			s.logMessage(MessageInfo{Session: sess.id, Data: msg, Sent: true, Server: true})
			return ch.Send(msg)
		})
		if err != nil {
			s.drop(sess.id, fmt.Errorf("send: %w", err))
		}
		return nil
	})
	s.tasks.Go(func() error {
		for {
			msg, err := ch.Recv()
			if err != nil {
				s.drop(sess.id, err)
				return nil
			}
			if err := s.Receive(sess.id, msg); IsFatal(err) {
				s.drop(sess.id, err)
				return nil
			}
		}
	})
	return sess.id
}

// drop removes session id because of err.
func (s *Server) drop(id SessionID, err error) {
	if !s.HasSession(id) {
		return
	}
	lg := s.logger().With(zap.Int("session", int(id)))
	if treatErrorAsSuccess(err) {
		lg.Debug("session closed by peer", zap.Error(err))
	} else {
		lg.Error("session failed", zap.Error(err))
	}
	s.RemoveSession(id)
}

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrClosed)
}

// RemoveSession removes the specified session and reports whether it was
// present. The OnDisconnect hooks of the registry run first, then the
// callback registered with OnDisconnect. Any calls still pending on the
// session are then discarded without invoking their callbacks, and the
// channel is closed. RemoveSession does not wait for the session's
// goroutines to exit; use Close for that.
func (s *Server) RemoveSession(id SessionID) bool {
	s.μ.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	onDisc, lg := s.onDisc, s.log
	s.μ.Unlock()
	if !ok {
		return false
	}

	for _, g := range s.groups {
		if g.OnDisconnect != nil {
			g.OnDisconnect(id)
		}
	}
	if onDisc != nil {
		onDisc(id)
	}
	n := sess.close()
	sess.ch.Close()
	rootMetrics.sessionActive.Add(-1)
	lg.Info("session removed", zap.Int("session", int(id)), zap.Int("abandoned", n))
	return true
}

// Close removes all active sessions and waits for their goroutines to exit.
// The server remains usable, and new sessions may be added afterward.
func (s *Server) Close() error {
	for _, id := range s.Sessions() {
		s.RemoveSession(id)
	}
	return s.tasks.Wait()
}

// HasSession reports whether id is an active session.
func (s *Server) HasSession(id SessionID) bool { return s.session(id) != nil }

// Sessions returns the IDs of all active sessions in increasing order.
func (s *Server) Sessions() []SessionID {
	s.μ.Lock()
	defer s.μ.Unlock()
	out := make([]SessionID, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Pending reports the number of calls to session id awaiting a response.
// It returns 0 if id is not an active session.
func (s *Server) Pending(id SessionID) int {
	if sess := s.session(id); sess != nil {
		return sess.pending()
	}
	return 0
}

func (s *Server) session(id SessionID) *session {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.sessions[id]
}

// Call calls the function m.Name registered by the client of session id, and
// arranges for cb to receive the results when the response arrives. Call does
// not wait for the response. If cb == nil the results are discarded.
//
// If id is not an active session, Call does nothing and returns nil. If args
// do not match m.Params, Call reports an error and sends nothing. If the
// session ends before the response arrives, cb is never called.
func (s *Server) Call(id SessionID, m Method, args []any, cb Callback) error {
	sess := s.session(id)
	if sess == nil {
		return nil
	}
	if _, err := sess.call(func(b *wire.Builder, rid RequestID) error {
		tagCodec.Append(b, uint32(TagCall))
		wire.String.Append(b, m.Name)
		tagCodec.Append(b, uint32(rid))
		return wire.EncodeAll(b, m.Params, args)
	}, func(sc *wire.Scanner) error {
		rs, err := decodeArgs(sc, m.Results)
		if err != nil {
			return fmt.Errorf("results of %q: %w", m.Name, err)
		}
		if cb != nil {
			cb(rs)
		}
		return nil
	}); err != nil {
		return err
	}
	rootMetrics.callOut.Add(1)
	return nil
}

// Notify sends a notification for the event m.Name with the given arguments
// to session id. No response is expected. If id is not an active session,
// Notify does nothing and returns nil.
func (s *Server) Notify(id SessionID, m Method, args ...any) error {
	sess := s.session(id)
	if sess == nil {
		return nil
	}
	if err := sess.out.send(func(b *wire.Builder) error {
		tagCodec.Append(b, uint32(TagNotify))
		wire.String.Append(b, m.Name)
		return wire.EncodeAll(b, m.Params, args)
	}); err != nil {
		return err
	}
	rootMetrics.notifyOut.Add(1)
	return nil
}

// Receive dispatches one message from session id. The session's service
// loop calls Receive for each message it reads; it is exported so that a
// caller can deliver messages from a custom transport.
//
// Any error reported by Receive has concrete type *MessageError. Errors for
// which IsFatal is true mean the message stream cannot be trusted, and the
// session should be removed.
func (s *Server) Receive(id SessionID, msg []byte) error {
	sess := s.session(id)
	if sess == nil {
		return &MessageError{Session: id, Err: ErrClosed}
	}
	rootMetrics.msgRecv.Add(1)
	s.logMessage(MessageInfo{Session: id, Data: msg, Server: true})

	sess.out.hold()
	defer sess.out.release()

	err := s.dispatch(sess, msg)
	if err != nil {
		rootMetrics.callInErr.Add(1)
		lg := s.logger()
		if IsFatal(err) {
			lg.Error("malformed message", zap.Int("session", int(id)), zap.Error(err))
		} else {
			lg.Warn("message dropped", zap.Int("session", int(id)), zap.Error(err))
		}
	}
	return err
}

func (s *Server) dispatch(sess *session, msg []byte) error {
	sc := wire.NewScanner(msg)
	tag, err := scanTag(sc)
	if err != nil {
		return &MessageError{Session: sess.id, Err: malformed(err)}
	}
	merr := func(name string, err error) error {
		return &MessageError{Session: sess.id, Tag: tag, Name: name, Err: err}
	}

	switch {
	case tag == TagCallResponse:
		rid, err := scanTag(sc)
		if err != nil {
			return merr("", malformed(err))
		}
		if err := sess.complete(rid, sc); err != nil {
			return merr("", fmt.Errorf("request %v: %w", rid, err))
		}
		return nil

	case tag.IsReserved():
		return merr("", ErrReservedTag)
	}

	// Reaching here, tag is the caller's request ID.
	rootMetrics.callIn.Add(1)
	hname, err := wire.String.Scan(sc)
	if err != nil {
		return merr("", malformed(err))
	}
	fname, err := wire.String.Scan(sc)
	if err != nil {
		return merr(hname, malformed(err))
	}
	name := hname + "." + fname
	f, err := s.reg.lookup(hname, fname)
	if err != nil {
		return merr(name, err)
	}
	args, err := decodeArgs(sc, f.Params)
	if err != nil {
		return merr(name, err)
	}

	s.μ.Lock()
	base := s.base
	s.μ.Unlock()
	ctx := context.WithValue(base(), serverContextKey{}, s)
	req := &Request{Session: sess.id, ID: tag, Handler: hname, Function: fname, Args: args}
	reply := newReply(sess.out, f.Results, func(b *wire.Builder) { tagCodec.Append(b, uint32(tag)) })
	if err := runSafe(func() { f.Run(ctx, req, reply) }); err != nil {
		return merr(name, err)
	}
	return nil
}

type serverContextKey struct{}

// ContextServer returns the Server associated with the given context, or nil
// if none is defined. The context passed to the Run function of a handler
// group has this value.
func ContextServer(ctx context.Context) *Server {
	if v := ctx.Value(serverContextKey{}); v != nil {
		return v.(*Server)
	}
	return nil
}
