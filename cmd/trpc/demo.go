// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/creachadair/trpc"
	"github.com/creachadair/trpc/wire"
	"go.uber.org/zap"
)

// Methods of the demo service. Calc runs on the server; clientFunc, onAdd
// and onSub run on the client.
var (
	addMethod = trpc.Method{
		Name:    "Calc.Add",
		Params:  wire.Codecs(wire.Int32, wire.Int32),
		Results: wire.Codecs(wire.String, wire.Int32),
	}
	subMethod = trpc.Method{
		Name:    "Calc.Sub",
		Params:  wire.Codecs(wire.Float32, wire.Float32),
		Results: wire.Codecs(wire.String, wire.Float32),
	}
	clientFunc = trpc.Method{
		Name:    "clientFunc",
		Params:  wire.Codecs(wire.Int32, wire.Int32),
		Results: wire.Codecs(wire.String, wire.Int32),
	}
	onAdd = trpc.Method{Name: "onAdd", Params: wire.Codecs(wire.String, wire.Int32, wire.Int32)}
	onSub = trpc.Method{Name: "onSub", Params: wire.Codecs(wire.String, wire.Float32, wire.Float32)}
)

// calcGroup returns the demo handler group. Add calls back into the client
// and sends a notification before it replies; Sub only notifies.
func calcGroup(log *zap.Logger) trpc.HandlerGroup {
	return trpc.HandlerGroup{
		Name: "Calc",
		Funcs: []trpc.Func{{
			Method: trpc.Method{Name: "Add", Params: addMethod.Params, Results: addMethod.Results},
			Run: func(ctx context.Context, req *trpc.Request, reply trpc.Reply) {
				srv := trpc.ContextServer(ctx)
				a, b := req.Args[0].(int32), req.Args[1].(int32)
				if err := srv.Call(req.Session, clientFunc, []any{a, b}, func(rs []any) {
					log.Info("client replied", zap.Int("session", int(req.Session)),
						zap.String("msg", rs[0].(string)), zap.Int32("result", rs[1].(int32)))
				}); err != nil {
					log.Warn("call client failed", zap.Error(err))
				}
				srv.Notify(req.Session, onAdd, "msgFromServer", a, b)
				reply("OK", a+b)
			},
		}, {
			Method: trpc.Method{Name: "Sub", Params: subMethod.Params, Results: subMethod.Results},
			Run: func(ctx context.Context, req *trpc.Request, reply trpc.Reply) {
				a, b := req.Args[0].(float32), req.Args[1].(float32)
				trpc.ContextServer(ctx).Notify(req.Session, onSub, "msgFromServer", a, b)
				reply("OK", a-b)
			},
		}},
		OnDisconnect: func(id trpc.SessionID) {
			log.Debug("calc session ended", zap.Int("session", int(id)))
		},
	}
}

// demoClient registers the client side of the demo service on cli, writing
// each event it receives to w.
func demoClient(cli *trpc.Client, w io.Writer) *trpc.Client {
	return cli.
		OnCall(trpc.Func{
			Method: clientFunc,
			Run: func(_ context.Context, req *trpc.Request, reply trpc.Reply) {
				a, b := req.Args[0].(int32), req.Args[1].(int32)
				fmt.Fprintf(w, "clientFunc(%d, %d)\n", a, b)
				reply("fromClient", a*b)
			},
		}).
		OnNotify(trpc.Notifier{
			Method: onAdd,
			Run: func(_ context.Context, args []any) {
				fmt.Fprintf(w, "onAdd %s %d %d\n", args[0], args[1], args[2])
			},
		}).
		OnNotify(trpc.Notifier{
			Method: onSub,
			Run: func(_ context.Context, args []any) {
				fmt.Fprintf(w, "onSub %s %g %g\n", args[0], args[1], args[2])
			},
		})
}
