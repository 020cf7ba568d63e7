// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package trpc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/creachadair/trpc/wire"
)

// A Func is a named function that can be invoked by a remote peer. The Name
// of its Method is the bare function name, without a handler prefix.
//
// Run is called synchronously by the dispatcher of the connection that
// delivered the request. It may call reply before returning, or retain it and
// call it later from another goroutine. A Func that never calls reply leaves
// the caller waiting until the connection ends.
type Func struct {
	Method
	Run func(ctx context.Context, req *Request, reply Reply)
}

// A Notifier handles a one-way notification from the server. The Name of its
// Method is the event name, and its Results are ignored.
type Notifier struct {
	Method
	Run func(ctx context.Context, args []any)
}

// A Request carries the decoded arguments of an inbound call.
type Request struct {
	Session  SessionID // the calling session; 0 on a client
	ID       RequestID // the caller's request ID
	Handler  string    // the handler group name; "" for a server-initiated call
	Function string    // the function name
	Args     []any     // decoded according to the declared Params
}

// A HandlerGroup is a named collection of functions callable by clients as
// "Name.Function".
type HandlerGroup struct {
	Name  string
	Funcs []Func

	// If set, Init is called once for each server constructed from a
	// registry containing the group, after all groups are attached. Init
	// hooks run in registration order.
	Init func(*Server)

	// If set, OnDisconnect is called synchronously when a session is
	// removed from a server, before its pending calls are discarded.
	OnDisconnect func(SessionID)
}

type group struct {
	*HandlerGroup
	funcs map[string]*Func
}

// A Registry maps handler group and function names to their registrations.
// A zero Registry is ready for use. Once a server has been constructed from
// a registry, no further groups may be registered.
type Registry struct {
	μ      sync.Mutex
	frozen bool
	groups []*group
	index  map[string]*group
}

// NewRegistry constructs a new empty registry.
func NewRegistry() *Registry { return new(Registry) }

// Register adds g to the registry. It reports an error if the group or any of
// its functions has an empty name, if the group name contains ".", if the
// group name or one of its function names is already registered, if any
// function has no Run, or if the registry is frozen.
func (r *Registry) Register(g HandlerGroup) error {
	if g.Name == "" {
		return errors.New("empty handler name")
	} else if strings.Contains(g.Name, ".") {
		return fmt.Errorf("invalid handler name %q", g.Name)
	}
	g.Funcs = slices.Clone(g.Funcs)
	ng := &group{HandlerGroup: &g, funcs: make(map[string]*Func)}
	for i, f := range g.Funcs {
		if f.Name == "" {
			return fmt.Errorf("handler %q: empty function name at %d", g.Name, i)
		} else if f.Run == nil {
			return fmt.Errorf("handler %q: function %q has no Run", g.Name, f.Name)
		} else if _, ok := ng.funcs[f.Name]; ok {
			return fmt.Errorf("handler %q: duplicate function %q", g.Name, f.Name)
		}
		ng.funcs[f.Name] = &g.Funcs[i]
	}

	r.μ.Lock()
	defer r.μ.Unlock()
	if r.frozen {
		return fmt.Errorf("handler %q: registry is frozen", g.Name)
	} else if _, ok := r.index[g.Name]; ok {
		return fmt.Errorf("duplicate handler %q", g.Name)
	}
	if r.index == nil {
		r.index = make(map[string]*group)
	}
	r.groups = append(r.groups, ng)
	r.index[g.Name] = ng
	return nil
}

// MustRegister calls Register and panics if it reports an error.
func (r *Registry) MustRegister(g HandlerGroup) *Registry {
	if err := r.Register(g); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the registration for the named handler and function.
// It reports ErrUnknownFunc if either name is not registered.
func (r *Registry) Lookup(handler, function string) (*Func, error) {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.lookup(handler, function)
}

// lookup is Lookup without locking, for use once the registry is frozen.
func (r *Registry) lookup(handler, function string) (*Func, error) {
	g, ok := r.index[handler]
	if !ok {
		return nil, fmt.Errorf("handler %q: %w", handler, ErrUnknownFunc)
	}
	f, ok := g.funcs[function]
	if !ok {
		return nil, fmt.Errorf("function %q: %w", handler+"."+function, ErrUnknownFunc)
	}
	return f, nil
}

// Groups returns the names of the registered handler groups in registration
// order.
func (r *Registry) Groups() []string {
	r.μ.Lock()
	defer r.μ.Unlock()
	out := make([]string, len(r.groups))
	for i, g := range r.groups {
		out[i] = g.Name
	}
	return out
}

// Funcs returns the registered functions of the named group in declaration
// order, or nil if no such group exists.
func (r *Registry) Funcs(group string) []Method {
	r.μ.Lock()
	defer r.μ.Unlock()
	g, ok := r.index[group]
	if !ok {
		return nil
	}
	out := make([]Method, len(g.Funcs))
	for i, f := range g.Funcs {
		out[i] = f.Method
	}
	return out
}

// freeze marks r as frozen and returns its groups.
func (r *Registry) freeze() []*group {
	r.μ.Lock()
	defer r.μ.Unlock()
	r.frozen = true
	return r.groups
}

// newReply returns a one-shot Reply that encodes its results with cs after
// the header written by head, and sends the message on out.
//
// A reply whose results fail to encode sends nothing and may be retried.
func newReply(out *outbox, cs []wire.Codec, head func(*wire.Builder)) Reply {
	var μ sync.Mutex
	var sent bool
	return func(results ...any) error {
		μ.Lock()
		defer μ.Unlock()
		if sent {
			return ErrReplied
		}
		if err := out.send(func(b *wire.Builder) error {
			head(b)
			return wire.EncodeAll(b, cs, results)
		}); err != nil {
			return err
		}
		sent = true
		return nil
	}
}

// runSafe calls f and converts a panic into an error.
func runSafe(f func()) (err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("handler panicked (recovered): %v", x)
		}
	}()
	f()
	return nil
}

// decodeArgs decodes the arguments of a message with cs, and reports a
// malformed message if any input is left over.
func decodeArgs(s *wire.Scanner, cs []wire.Codec) ([]any, error) {
	args, err := wire.DecodeAll(s, cs)
	if err != nil {
		return nil, malformed(err)
	}
	if err := checkDone(s); err != nil {
		return nil, err
	}
	return args, nil
}
