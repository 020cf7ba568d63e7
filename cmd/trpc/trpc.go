// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Program trpc is a command-line utility for running and calling trpc
// servers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"maps"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/taskgroup"
	"github.com/creachadair/trpc"
	"github.com/creachadair/trpc/catalog"
	"github.com/creachadair/trpc/peers"
	"go.uber.org/zap"
)

var flags = struct {
	Addr      string        `flag:"addr,Service address (host:port or socket path)"`
	WebSocket string        `flag:"ws,WebSocket address (serve) or URL (call, list)"`
	Timeout   time.Duration `flag:"timeout,Timeout for client calls"`
	Trace     bool          `flag:"trace,Log every message sent and received"`
	LogLevel  string        `flag:"log-level,Lowest log level emitted (debug, info, warn, error)"`
	LogFormat string        `flag:"log-format,Format of log lines (console, json)"`
}{
	Addr:      "localhost:2025",
	Timeout:   5 * time.Second,
	LogLevel:  "info",
	LogFormat: "console",
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for running and calling trpc servers.",
		SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
			flax.MustBind(fs, &flags)
		},
		Commands: []*command.C{
			{
				Name: "serve",
				Help: `Run a demo server.

The server exports the Calc and Catalog handler groups. Calc.Add calls the
client function clientFunc and sends an onAdd notification before it replies.
Calc.Sub sends an onSub notification.

The server listens on --addr, and also accepts WebSocket connections at
--ws if it is set.`,
				Run: runServe,
			},
			{
				Name:  "call",
				Usage: "<a> <b>",
				Help: `Call the demo server.

Connect to the server at --addr, or at the WebSocket URL --ws if it is set,
and call Calc.Add and Calc.Sub with the given arguments. Notifications and
calls from the server are printed as they arrive.`,
				Run: runCall,
			},
			{
				Name:  "list",
				Usage: "[Handler.Function ...]",
				Help: `List the functions exported by a server.

With no arguments, print the name of every function. Otherwise, print the
signature of each named function.`,
				Run: runList,
			},
			{
				Name:  "pack",
				Usage: "<pattern> <argument>...",
				Help:  packHelp,
				Run:   runPack,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runServe(env *command.Env) error {
	log, err := newLogger(flags.LogLevel, flags.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := trpc.NewRegistry().
		MustRegister(catalog.Group()).
		MustRegister(calcGroup(log))
	srv := trpc.NewServer(reg).UseLogger(log)
	if flags.Trace {
		srv.LogMessages(func(m trpc.MessageInfo) { log.Debug(m.String()) })
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	lst, err := net.Listen(peers.SplitAddress(flags.Addr))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("server listening", zap.String("addr", lst.Addr().String()))

	g := taskgroup.New(nil)
	if flags.WebSocket != "" {
		hs := &http.Server{Addr: flags.WebSocket, Handler: peers.WebSocketHandler(srv, nil)}
		g.Go(func() error {
			<-ctx.Done()
			return hs.Close()
		})
		g.Go(func() error {
			log.Info("websocket listening", zap.String("addr", flags.WebSocket))
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				cancel()
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		return peers.Loop(ctx, peers.NetAccepter(lst), srv)
	})
	err = g.Wait()
	srv.Close()
	log.Info("server stopped", zap.Error(err))
	return err
}

// dial connects a new client to the server selected by the flags.
func dial(ctx context.Context) (*trpc.Client, error) {
	log, err := newLogger(flags.LogLevel, flags.LogFormat)
	if err != nil {
		return nil, err
	}
	var ch trpc.Channel
	if flags.WebSocket != "" {
		ch, err = peers.DialWebSocket(ctx, flags.WebSocket)
	} else {
		ch, err = peers.Dial(ctx, flags.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	cli := trpc.NewClient().UseLogger(log)
	if flags.Trace {
		cli.LogMessages(func(m trpc.MessageInfo) { log.Debug(m.String()) })
	}
	return cli.Start(ch), nil
}

func runCall(env *command.Env) error {
	if len(env.Args) != 2 {
		return env.Usagef("Need exactly two arguments")
	}
	var ab [2]int32
	for i, arg := range env.Args {
		v, err := strconv.ParseInt(arg, 10, 32)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		ab[i] = int32(v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()
	cli, err := dial(ctx)
	if err != nil {
		return err
	}
	defer cli.Stop()
	demoClient(cli, os.Stdout)

	rs, err := cli.CallWait(ctx, addMethod, ab[0], ab[1])
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	fmt.Printf("Calc.Add(%d, %d) = %s %d\n", ab[0], ab[1], rs[0], rs[1])

	x, y := float32(ab[0]), float32(ab[1])
	rs, err = cli.CallWait(ctx, subMethod, x, y)
	if err != nil {
		return fmt.Errorf("sub: %w", err)
	}
	fmt.Printf("Calc.Sub(%g, %g) = %s %g\n", x, y, rs[0], rs[1])
	return nil
}

func runList(env *command.Env) error {
	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()
	cli, err := dial(ctx)
	if err != nil {
		return err
	}
	defer cli.Stop()

	if len(env.Args) != 0 {
		for _, name := range env.Args {
			sig, err := catalog.Describe(ctx, cli, name)
			if err != nil {
				return fmt.Errorf("describe %q: %w", name, err)
			} else if sig == "" {
				sig = "<not found>"
			}
			fmt.Printf("%s\t%s\n", name, sig)
		}
		return nil
	}

	groups, err := catalog.List(ctx, cli)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	for _, g := range slices.Sorted(maps.Keys(groups)) {
		for _, f := range groups[g] {
			fmt.Printf("%s.%s\n", g, f)
		}
	}
	return nil
}
