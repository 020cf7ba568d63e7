// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package catalog_test

import (
	"context"
	"testing"

	"github.com/creachadair/trpc"
	"github.com/creachadair/trpc/catalog"
	"github.com/creachadair/trpc/handler"
	"github.com/creachadair/trpc/peers"
	"github.com/creachadair/trpc/wire"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func nop(context.Context, string) {}

func TestCatalog(t *testing.T) {
	defer leaktest.Check(t)()

	reg := trpc.NewRegistry().
		MustRegister(catalog.Group()).
		MustRegister(trpc.HandlerGroup{
			Name: "Calc",
			Funcs: []trpc.Func{
				handler.Func2("Add", wire.Int32, wire.Int32, wire.Int32,
					func(_ context.Context, a, b int32) int32 { return a + b }),
				handler.Proc1("Log", wire.String, nop),
			},
		}).
		MustRegister(trpc.HandlerGroup{
			Name:  "Auth",
			Funcs: []trpc.Func{handler.Proc1("Login", wire.String, nop)},
		})

	loc := peers.NewLocal(trpc.NewServer(reg), nil)
	loc.Client.LogMessages(func(m trpc.MessageInfo) { t.Logf("client: %v", m) })
	defer loc.Stop()

	t.Run("List", func(t *testing.T) {
		got, err := catalog.List(t.Context(), loc.Client)
		if err != nil {
			t.Fatalf("List: unexpected error: %v", err)
		}
		want := map[string][]string{
			"Catalog": {"List", "Describe"},
			"Calc":    {"Add", "Log"},
			"Auth":    {"Login"},
		}
		if diff := cmp.Diff(got, want); diff != "" {
			t.Errorf("List (-got, +want):\n%s", diff)
		}
	})

	t.Run("Describe", func(t *testing.T) {
		tests := []struct {
			name, want string
		}{
			{"Calc.Add", "Add(int32, int32) (int32)"},
			{"Calc.Log", "Log(string) ()"},
			{"Catalog.List", "List() (map[string][]string)"},
			{"Calc.Sub", ""},
			{"Nonesuch.Add", ""},
			{"nodot", ""},
		}
		for _, tc := range tests {
			got, err := catalog.Describe(t.Context(), loc.Client, tc.name)
			if err != nil {
				t.Errorf("Describe %q: unexpected error: %v", tc.name, err)
			} else if got != tc.want {
				t.Errorf("Describe %q: got %q, want %q", tc.name, got, tc.want)
			}
		}
	})
}
