// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/creachadair/trpc"
	"github.com/creachadair/trpc/peers"
	"github.com/creachadair/trpc/wire"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func TestPackData(t *testing.T) {
	tests := []struct {
		pat  string
		args []string
		want string
	}{
		{"", nil, ""},
		{"1 2", []string{"1", "2"}, "\x01\x00\x02"},
		{"< 2 > 2", []string{"1", "1"}, "\x01\x00\x00\x01"},
		{"p r", []string{"abc", "de"}, "\x03abcde"},
		{"q", []string{`a\tb`}, "a\tb"},
		{"s %", []string{"hi", "true"}, "\x08hi\x01"},
		{"v", []string{"64"}, "\x01\x01"},
		{"4 s s 4 4", []string{"4", "Calc", "Add", "3", "4"},
			"\x00\x00\x00\x04\x10Calc\x0cAdd\x00\x00\x00\x03\x00\x00\x00\x04"},
		{"($ 1 1)", []string{"5", "6"}, "\x00\x00\x00\x02\x05\x06"},
		{"? (1 (1))", []string{"7", "8"}, "\x18\x07\x00\x00\x00\x01\x08"},
		{"f", []string{"1"}, "\x3f\x80\x00\x00"},
	}
	for _, tc := range tests {
		var b wire.Builder
		rest, err := packData(&b, tc.pat, tc.args)
		if err != nil {
			t.Errorf("packData(%q, %q): unexpected error: %v", tc.pat, tc.args, err)
			continue
		}
		if len(rest) != 0 {
			t.Errorf("packData(%q, %q): extra arguments %q", tc.pat, tc.args, rest)
		}
		if got := string(b.Bytes()); got != tc.want {
			t.Errorf("packData(%q, %q): got %q, want %q", tc.pat, tc.args, got, tc.want)
		}
	}

	for _, bad := range []struct {
		pat  string
		args []string
	}{
		{"x", []string{"1"}},
		{"1", nil},
		{"1", []string{"256"}},
		{"(1", []string{"1"}},
		{"%", []string{"maybe"}},
	} {
		var b wire.Builder
		if _, err := packData(&b, bad.pat, bad.args); err == nil {
			t.Errorf("packData(%q, %q): got nil, want error", bad.pat, bad.args)
		}
	}
}

func TestDemo(t *testing.T) {
	defer leaktest.Check(t)()

	reg := trpc.NewRegistry().MustRegister(calcGroup(zap.NewNop()))
	var buf bytes.Buffer
	loc := peers.NewLocal(trpc.NewServer(reg), demoClient(trpc.NewClient(), &buf))
	defer loc.Stop()

	rs, err := loc.Client.CallWait(t.Context(), addMethod, int32(11), int32(22))
	if err != nil {
		t.Fatalf("Add: unexpected error: %v", err)
	}
	if diff := cmp.Diff(rs, []any{"OK", int32(33)}); diff != "" {
		t.Errorf("Add (-got, +want):\n%s", diff)
	}
	rs, err = loc.Client.CallWait(t.Context(), subMethod, float32(22.5), float32(10.25))
	if err != nil {
		t.Fatalf("Sub: unexpected error: %v", err)
	}
	if diff := cmp.Diff(rs, []any{"OK", float32(12.25)}); diff != "" {
		t.Errorf("Sub (-got, +want):\n%s", diff)
	}

	// The client handles the reverse call and the notification before it
	// reads the response they precede, so buf is complete.
	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"clientFunc(11, 22)",
		"onAdd msgFromServer 11 22",
		"onSub msgFromServer 22.5 10.25",
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Client events (-got, +want):\n%s", diff)
	}
}
