// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package catalog defines a handler group that lets a client discover the
// handler groups and functions a server exposes.
//
// # Usage
//
// Register the catalog group alongside the other groups of a registry:
//
//	reg := trpc.NewRegistry()
//	reg.MustRegister(catalog.Group())
//	reg.MustRegister(myGroup)
//
// On a client, use List to fetch the names of all registered functions,
// grouped by handler:
//
//	groups, err := catalog.List(ctx, cli)
//
// and Describe to fetch the signature of one function:
//
//	sig, err := catalog.Describe(ctx, cli, "Calc.Add")
//
// The catalog reports the registry of whichever server dispatched the call.
package catalog

import (
	"context"
	"strings"

	"github.com/creachadair/trpc"
	"github.com/creachadair/trpc/handler"
	"github.com/creachadair/trpc/wire"
)

// Name is the handler group name of the catalog.
const Name = "Catalog"

var (
	listType = wire.Map(wire.String, wire.Seq(wire.String))

	listMethod     = trpc.Method{Name: Name + ".List", Results: wire.Codecs(listType)}
	describeMethod = trpc.Method{
		Name:    Name + ".Describe",
		Params:  wire.Codecs(wire.String),
		Results: wire.Codecs(wire.String),
	}
)

// Group returns a handler group named "Catalog" with two functions:
//
//	List() map[string][]string
//
// reports the function names of each handler group, and
//
//	Describe(name string) string
//
// reports the signature of the function "Handler.Function", or "" if no such
// function is registered.
func Group() trpc.HandlerGroup {
	return trpc.HandlerGroup{
		Name: Name,
		Funcs: []trpc.Func{
			handler.Func0("List", listType, list),
			handler.Func1("Describe", wire.String, wire.String, describe),
		},
	}
}

func list(ctx context.Context) map[string][]string {
	reg := trpc.ContextServer(ctx).Registry()
	out := make(map[string][]string)
	for _, g := range reg.Groups() {
		var names []string
		for _, m := range reg.Funcs(g) {
			names = append(names, m.Name)
		}
		out[g] = names
	}
	return out
}

func describe(ctx context.Context, name string) string {
	hname, fname, ok := strings.Cut(name, ".")
	if !ok {
		return ""
	}
	f, err := trpc.ContextServer(ctx).Registry().Lookup(hname, fname)
	if err != nil {
		return ""
	}
	return f.Method.String()
}

// List calls the catalog of the server connected to c, and returns the
// function names of each of its handler groups.
func List(ctx context.Context, c *trpc.Client) (map[string][]string, error) {
	rs, err := c.CallWait(ctx, listMethod)
	if err != nil {
		return nil, err
	}
	return rs[0].(map[string][]string), nil
}

// Describe calls the catalog of the server connected to c, and returns the
// signature of the named function, or "" if it is not registered.
func Describe(ctx context.Context, c *trpc.Client, name string) (string, error) {
	return handler.Call1(ctx, c, describeMethod.Name, wire.String, wire.String, name)
}
