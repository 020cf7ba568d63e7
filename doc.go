// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package trpc implements a tagged bidirectional remote procedure call
// engine.
//
// A [Server] hosts named handler groups and talks to many clients, each over
// its own session. A [Client] talks to one server. Either side may initiate:
// a client calls functions of the server's handler groups, and the server
// may send notifications to a client or call functions the client has
// registered. Messages travel over a [Channel], a reliable ordered stream of
// self-contained binary messages.
//
// # Messages
//
// Every message begins with a 32-bit tag. Tags below [FirstRequestID] mark
// control messages; any other value is a request ID chosen by the caller:
//
//	[1, event, args...]                  notification, server to client
//	[2, function, id, args...]           call, server to client
//	[3, id, results...]                  response to a server call
//	[id, handler, function, args...]     call, client to server
//	[id, results...]                     response to a client call
//
// Values are encoded by the codecs of package wire, in the order declared by
// the [Method] that names the function. There is no type information on the
// wire, so both peers must agree on each signature.
//
// # Servers
//
// Build a [Registry] of handler groups, then construct a server from it:
//
//	reg := trpc.NewRegistry().MustRegister(trpc.HandlerGroup{
//	   Name: "Calc",
//	   Funcs: []trpc.Func{{
//	      Method: trpc.Method{
//	         Name:    "Add",
//	         Params:  wire.Codecs(wire.Int32, wire.Int32),
//	         Results: wire.Codecs(wire.Int32),
//	      },
//	      Run: func(ctx context.Context, req *trpc.Request, reply trpc.Reply) {
//	         reply(req.Args[0].(int32) + req.Args[1].(int32))
//	      },
//	   }},
//	})
//	srv := trpc.NewServer(reg)
//
// The registry is frozen once the server is built. Add a session for each
// connected client with [Server.AddSession]; the server runs the session
// until its channel closes, the peer sends a malformed message, or
// [Server.RemoveSession] is called.
//
// A handler may reply at most once, either before returning or later from
// another goroutine. While a handler runs, it may call back into the client
// with [ContextServer] and [Server.Call]. Messages sent by a handler are
// delivered in order, before the reply to the request being handled.
//
// # Clients
//
//	cli := trpc.NewClient().Start(ch)
//	rs, err := cli.CallWait(ctx, trpc.Method{
//	   Name:    "Calc.Add",
//	   Params:  wire.Codecs(wire.Int32, wire.Int32),
//	   Results: wire.Codecs(wire.Int32),
//	}, int32(3), int32(4))
//
// Use [Client.Call] to receive the results in a callback instead. Register
// notification and call handlers for the server with [Client.OnNotify] and
// [Client.OnCall].
//
// # Errors
//
// Messages that cannot be dispatched are reported as [*MessageError] values
// wrapping one of the sentinel errors of this package. Unknown functions,
// reserved tags, and unmatched responses are dropped, and the connection
// continues. Malformed messages are fatal, as reported by [IsFatal].
//
// There is no cancellation on the wire. A call abandoned by [Client.CallWait]
// when its context ends is forgotten locally, and a late response for it is
// reported as unmatched. When a session or client ends, its pending calls are
// discarded without invoking their callbacks.
//
// # Metrics
//
// Servers and clients share a collection of metrics exported through
// [expvar]. These are not published by default; the caller may publish them
// with [expvar.Publish]:
//
//	expvar.Publish("trpc", srv.Metrics())
package trpc
