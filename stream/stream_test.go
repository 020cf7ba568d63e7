// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package stream_test

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/trpc"
	"github.com/creachadair/trpc/peers"
	"github.com/creachadair/trpc/stream"
	"github.com/creachadair/trpc/wire"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

var genMethod = trpc.Method{
	Name:   "Gen.Run",
	Params: wire.Codecs(wire.String, wire.String),
}

func newLocal(t *testing.T) *peers.Local {
	t.Helper()
	reg := trpc.NewRegistry().MustRegister(trpc.HandlerGroup{
		Name: "Gen",
		Funcs: []trpc.Func{
			stream.Func("Run", wire.Codecs(wire.String, wire.String), wire.String, parseStreamSpec),
		},
	})
	return peers.NewLocal(trpc.NewServer(reg), nil)
}

func TestStream(t *testing.T) {
	defer leaktest.Check(t)()

	tests := []struct {
		in      string
		want    []string
		wantErr string
	}{
		{"stream foo bar", vals("foo", "bar"), ""},
		{"stream foo bar, err", vals("foo", "bar"), "service error: test"},
		{"err", vals(), "service error: test"},
		{"req, req, stream foo", vals("req", "req", "foo"), ""},
		{"", vals(), ""},
	}

	loc := newLocal(t)
	defer loc.Stop()
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			var got []string
			var gotErr error
			for v, err := range stream.Call(t.Context(), loc.Client, genMethod, wire.String, tc.in, "req") {
				if err != nil {
					gotErr = err
					break
				}
				got = append(got, v)
			}
			if diff := cmp.Diff(got, tc.want); diff != "" {
				t.Errorf("Stream (-got, +want):\n%s", diff)
			}
			if gotErr != nil {
				var se stream.ServiceError
				if !errors.As(gotErr, &se) {
					t.Errorf("Error: got %[1]T %[1]v, want %T", gotErr, se)
				}
				if gotErr.Error() != tc.wantErr {
					t.Errorf("Error: got %q, want %q", gotErr, tc.wantErr)
				}
			} else if tc.wantErr != "" {
				t.Errorf("Stream did not yield error, want %q", tc.wantErr)
			}
		})
	}
}

func TestStreamEarlyExit(t *testing.T) {
	defer leaktest.Check(t)()
	loc := newLocal(t)
	defer loc.Stop()

	var got []string
	for v, err := range stream.Call(t.Context(), loc.Client, genMethod, wire.String, "stream a b c d", "") {
		if err != nil {
			t.Fatalf("Stream: unexpected error: %v", err)
		}
		got = append(got, v)
		if len(got) == 2 {
			break
		}
	}
	if diff := cmp.Diff(got, vals("a", "b")); diff != "" {
		t.Errorf("Stream (-got, +want):\n%s", diff)
	}

	// The client remains usable after an abandoned stream.
	var n int
	for _, err := range stream.Call(t.Context(), loc.Client, genMethod, wire.String, "stream x y", "") {
		if err != nil {
			t.Fatalf("Stream: unexpected error: %v", err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("Second stream: got %d values, want 2", n)
	}
}

func TestStreamCancel(t *testing.T) {
	defer leaktest.Check(t)()
	loc := newLocal(t)
	defer loc.Stop()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	for _, err := range stream.Call(ctx, loc.Client, genMethod, wire.String, "stream foo", "") {
		// A value may or may not win the race with the cancellation.
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Stream: got %v, want %v", err, context.Canceled)
			}
			break
		}
	}
}

func TestStreamIncremental(t *testing.T) {
	defer leaktest.Check(t)()

	seen := make(chan struct{})
	reg := trpc.NewRegistry().MustRegister(trpc.HandlerGroup{
		Name: "Gen",
		Funcs: []trpc.Func{
			stream.Func("Run", wire.Codecs(wire.String, wire.String), wire.String, parseStreamSpec),
			stream.Func("Wait", nil, wire.String, func(context.Context, *trpc.Request) iter.Seq2[string, error] {
				return func(yield func(string, error) bool) {
					if !yield("first", nil) {
						return
					}
					select {
					case <-seen:
					case <-time.After(5 * time.Second):
						yield("", errors.New("first value was not delivered"))
						return
					}
					yield("second", nil)
				}
			}),
		},
	})
	loc := peers.NewLocal(trpc.NewServer(reg), nil)
	defer loc.Stop()

	var got []string
	for v, err := range stream.Call(t.Context(), loc.Client, trpc.Method{Name: "Gen.Wait"}, wire.String) {
		if err != nil {
			t.Fatalf("Stream: unexpected error: %v", err)
		}
		got = append(got, v)
		if v != "first" {
			continue
		}

		// The session keeps serving other calls while the stream is open.
		var other []string
		for w, err := range stream.Call(t.Context(), loc.Client, genMethod, wire.String, "stream x y", "") {
			if err != nil {
				t.Fatalf("Other stream: unexpected error: %v", err)
			}
			other = append(other, w)
		}
		if diff := cmp.Diff(other, vals("x", "y")); diff != "" {
			t.Errorf("Other stream (-got, +want):\n%s", diff)
		}
		close(seen)
	}
	if diff := cmp.Diff(got, vals("first", "second")); diff != "" {
		t.Errorf("Stream (-got, +want):\n%s", diff)
	}
}

func parseStreamSpec(ctx context.Context, req *trpc.Request) iter.Seq2[string, error] {
	spec, word := req.Args[0].(string), req.Args[1].(string)
	return func(yield func(string, error) bool) {
		for _, cmd := range strings.Split(spec, ",") {
			fs := strings.Fields(cmd)
			if len(fs) == 0 {
				continue
			}
			switch fs[0] {
			case "stream":
				for _, v := range fs[1:] {
					if !yield(v, nil) {
						return
					}
				}
			case "req":
				if !yield(word, nil) {
					return
				}
			case "err":
				yield("", errTest)
				return
			default:
				yield("", errors.New("unknown command "+fs[0]))
				return
			}
		}
	}
}

var errTest = errors.New("test")

func vals(vs ...string) []string {
	return vs
}
