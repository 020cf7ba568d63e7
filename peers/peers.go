// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for connecting and testing servers and
// clients.
package peers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/creachadair/taskgroup"
	"github.com/creachadair/trpc"
	"github.com/creachadair/trpc/channel"
	"github.com/gorilla/websocket"
)

// Local is a server and a client connected in memory, suitable for testing.
type Local struct {
	Server  *trpc.Server
	Client  *trpc.Client
	Session trpc.SessionID // the client's session on the server
}

// NewLocal connects cli to srv via a direct channel without framing, and
// starts cli. If cli == nil, a new client is created.
func NewLocal(srv *trpc.Server, cli *trpc.Client) *Local {
	if cli == nil {
		cli = trpc.NewClient()
	}
	a, b := channel.Direct()
	return &Local{
		Server:  srv,
		Session: srv.AddSession(a),
		Client:  cli.Start(b),
	}
}

// Stop shuts down the client and closes the server, and blocks until both
// have exited.
func (p *Local) Stop() error {
	cerr := p.Client.Stop()
	serr := p.Server.Close()
	return errors.Join(cerr, serr)
}

// An Accepter produces channels for new sessions.
type Accepter interface {
	Accept(context.Context) (trpc.Channel, error)
}

// Loop accepts connections from acc and adds a session to srv for each one.
// Loop continues until acc closes or ctx ends.
//
// When ctx terminates, all sessions added by the loop are removed. When acc
// closes, the loop waits for those sessions to end before returning.
func Loop(ctx context.Context, acc Accepter, srv *trpc.Server) error {
	g := taskgroup.New(nil)
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			g.Wait()
			return err
		}

		wc := &watchChannel{Channel: ch, closed: make(chan struct{})}
		id := srv.AddSession(wc)
		g.Go(func() error {
			select {
			case <-wc.closed:
			case <-ctx.Done():
				srv.RemoveSession(id)
			}
			return nil
		})
	}
}

// watchChannel wraps a Channel to signal when the server closes it.
type watchChannel struct {
	trpc.Channel
	once   sync.Once
	closed chan struct{}
}

func (w *watchChannel) Close() error {
	err := w.Channel.Close()
	w.once.Do(func() { close(w.closed) })
	return err
}

// NetAccepter adapts a net.Listener to the Accepter interface. Each accepted
// connection is wrapped in a channel.IO.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (trpc.Channel, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return channel.IO(conn, conn), nil
}

// Dial connects to the server at addr, whose network type is chosen by
// SplitAddress, and returns a channel for the connection.
func Dial(ctx context.Context, addr string) (trpc.Channel, error) {
	var d net.Dialer
	network, address := SplitAddress(addr)
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return channel.IO(conn, conn), nil
}

// WebSocketHandler returns an HTTP handler that upgrades each request to a
// WebSocket connection and adds a session for it to srv. If up == nil, a
// default upgrader is used.
func WebSocketHandler(srv *trpc.Server, up *websocket.Upgrader) http.Handler {
	if up == nil {
		up = new(websocket.Upgrader)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return // the upgrader has already replied
		}
		srv.AddSession(channel.WebSocket(conn))
	})
}

// DialWebSocket connects to the WebSocket server at url, and returns a
// channel for the connection.
func DialWebSocket(ctx context.Context, url string) (trpc.Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return channel.WebSocket(conn), nil
}

// SplitAddress parses an address string to guess a network type and target.
//
// The assignment of a network type uses the following heuristics:
//
// If s does not have the form [host]:port, the network is assigned as "unix".
// The network "unix" is also assigned if port == "", port contains characters
// other than ASCII letters, digits, and "-", or if host contains a "/".
//
// Otherwise, the network is assigned as "tcp". Note that this function does
// not verify whether the address is lexically valid.
func SplitAddress(s string) (network, address string) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "unix", s
	}
	host, port := s[:i], s[i+1:]
	if port == "" || !isServiceName(port) {
		return "unix", s
	} else if strings.IndexByte(host, '/') >= 0 {
		return "unix", s
	}
	return "tcp", s
}

// isServiceName reports whether s looks like a legal service name from the
// services(5) file. The grammar of such names is not well-defined, but for our
// purposes it includes letters, digits, and "-".
func isServiceName(s string) bool {
	for _, b := range s {
		if b >= '0' && b <= '9' || b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b == '-' {
			continue
		}
		return false
	}
	return true
}
