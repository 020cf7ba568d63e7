// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters from plain Go functions to the
// trpc.Func and trpc.Notifier types, using typed codecs from the wire
// package to declare their signatures.
//
// A function adapted by this package replies synchronously with its return
// values. Use a trpc.Func directly for a handler that must reply later.
package handler

import (
	"context"

	"github.com/creachadair/trpc"
	"github.com/creachadair/trpc/wire"
)

// reqContextKey is a context key for the request value to a handler.
type reqContextKey struct{}

// ContextRequest returns the original request passed to the handler, or nil
// if ctx has no associated request. The context passed to a function adapted
// by this package has this value.
func ContextRequest(ctx context.Context) *trpc.Request {
	if v := ctx.Value(reqContextKey{}); v != nil {
		return v.(*trpc.Request)
	}
	return nil
}

func newFunc(name string, ps, rs []wire.Codec, run func(context.Context, []any) []any) trpc.Func {
	return trpc.Func{
		Method: trpc.Method{Name: name, Params: ps, Results: rs},
		Run: func(ctx context.Context, req *trpc.Request, reply trpc.Reply) {
			hctx := context.WithValue(ctx, reqContextKey{}, req)
			// The result types are fixed by the signature, so the only
			// possible failure is a closed connection.
			reply(run(hctx, req.Args)...)
		},
	}
}

// Func0 adapts a function f with no parameters and one result to a
// trpc.Func with the given name.
func Func0[R any](name string, r wire.Type[R], f func(context.Context) R) trpc.Func {
	return newFunc(name, nil, wire.Codecs(r), func(ctx context.Context, _ []any) []any {
		return []any{f(ctx)}
	})
}

// Func1 adapts a function f with one parameter and one result to a
// trpc.Func with the given name.
func Func1[A, R any](name string, a wire.Type[A], r wire.Type[R], f func(context.Context, A) R) trpc.Func {
	return newFunc(name, wire.Codecs(a), wire.Codecs(r), func(ctx context.Context, args []any) []any {
		return []any{f(ctx, args[0].(A))}
	})
}

// Func2 adapts a function f with two parameters and one result to a
// trpc.Func with the given name.
func Func2[A, B, R any](name string, a wire.Type[A], b wire.Type[B], r wire.Type[R], f func(context.Context, A, B) R) trpc.Func {
	return newFunc(name, wire.Codecs(a, b), wire.Codecs(r), func(ctx context.Context, args []any) []any {
		return []any{f(ctx, args[0].(A), args[1].(B))}
	})
}

// Func3 adapts a function f with three parameters and one result to a
// trpc.Func with the given name.
func Func3[A, B, C, R any](name string, a wire.Type[A], b wire.Type[B], c wire.Type[C], r wire.Type[R], f func(context.Context, A, B, C) R) trpc.Func {
	return newFunc(name, wire.Codecs(a, b, c), wire.Codecs(r), func(ctx context.Context, args []any) []any {
		return []any{f(ctx, args[0].(A), args[1].(B), args[2].(C))}
	})
}

// Func1R2 adapts a function f with one parameter and two results to a
// trpc.Func with the given name.
func Func1R2[A, R1, R2 any](name string, a wire.Type[A], r1 wire.Type[R1], r2 wire.Type[R2], f func(context.Context, A) (R1, R2)) trpc.Func {
	return newFunc(name, wire.Codecs(a), wire.Codecs(r1, r2), func(ctx context.Context, args []any) []any {
		x, y := f(ctx, args[0].(A))
		return []any{x, y}
	})
}

// Proc1 adapts a function f with one parameter and no results to a
// trpc.Func with the given name. The caller receives an empty response once
// f returns.
func Proc1[A any](name string, a wire.Type[A], f func(context.Context, A)) trpc.Func {
	return newFunc(name, wire.Codecs(a), nil, func(ctx context.Context, args []any) []any {
		f(ctx, args[0].(A))
		return nil
	})
}

// Notify0 adapts a function f with no parameters to a trpc.Notifier for the
// named event.
func Notify0(name string, f func(context.Context)) trpc.Notifier {
	return trpc.Notifier{
		Method: trpc.Method{Name: name},
		Run:    func(ctx context.Context, _ []any) { f(ctx) },
	}
}

// Notify1 adapts a function f with one parameter to a trpc.Notifier for the
// named event.
func Notify1[A any](name string, a wire.Type[A], f func(context.Context, A)) trpc.Notifier {
	return trpc.Notifier{
		Method: trpc.Method{Name: name, Params: wire.Codecs(a)},
		Run:    func(ctx context.Context, args []any) { f(ctx, args[0].(A)) },
	}
}

// Notify2 adapts a function f with two parameters to a trpc.Notifier for
// the named event.
func Notify2[A, B any](name string, a wire.Type[A], b wire.Type[B], f func(context.Context, A, B)) trpc.Notifier {
	return trpc.Notifier{
		Method: trpc.Method{Name: name, Params: wire.Codecs(a, b)},
		Run:    func(ctx context.Context, args []any) { f(ctx, args[0].(A), args[1].(B)) },
	}
}

// Call1 calls the server function name on c with one argument, and waits for
// its single result or for ctx to end.
func Call1[A, R any](ctx context.Context, c *trpc.Client, name string, a wire.Type[A], r wire.Type[R], arg A) (R, error) {
	var zero R
	rs, err := c.CallWait(ctx, trpc.Method{Name: name, Params: wire.Codecs(a), Results: wire.Codecs(r)}, arg)
	if err != nil {
		return zero, err
	}
	return rs[0].(R), nil
}

// Call2 calls the server function name on c with two arguments, and waits
// for its single result or for ctx to end.
func Call2[A, B, R any](ctx context.Context, c *trpc.Client, name string, a wire.Type[A], b wire.Type[B], r wire.Type[R], x A, y B) (R, error) {
	var zero R
	rs, err := c.CallWait(ctx, trpc.Method{Name: name, Params: wire.Codecs(a, b), Results: wire.Codecs(r)}, x, y)
	if err != nil {
		return zero, err
	}
	return rs[0].(R), nil
}
