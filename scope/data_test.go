// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope_test

import (
	"bytes"
	"testing"

	"go.stencil.dev/atom"
	"go.stencil.dev/scope"
)

func TestRangesCoverBindings(t *testing.T) {
	tab := atom.NewTable()
	for _, data := range []scope.Data{
		scope.NewLexicalData(names(tab, "a", "b", "c"), 2),
		scope.NewFunctionData(names(tab, "a", "b", "c", "d"), false, 2, 3, nil),
		scope.NewVarData(names(tab, "a")),
		scope.NewGlobalData(names(tab, "a", "b", "c", "d", "e"), 3, 4),
		scope.NewEvalData(nil),
		scope.NewModuleData(names(tab, "i", "v", "l", "c"), 1, 2, 3, nil),
		&scope.WasmInstanceData{GlobalsStart: 1, Bindings: names(tab, "memory0", "global0")},
		&scope.WasmFunctionData{Bindings: names(tab, "var0")},
	} {
		var end uint32
		for _, r := range data.Ranges() {
			if r.Start != end {
				t.Errorf("%T: range %s does not start at %d", data, r, end)
			}
			if r.End < r.Start {
				t.Errorf("%T: range %s is inverted", data, r)
			}
			end = r.End
		}
		if n := uint32(len(data.Names())); end != n {
			t.Errorf("%T: ranges end at %d, want %d", data, end, n)
		}
	}
}

func TestDump(t *testing.T) {
	a := scope.NewArena(nil)
	data := scope.NewFunctionData(names(a.Atoms, "a*", "b", "v"), false, 2, 2, &scope.FunctionRef{})
	s, err := scope.NewFunctionScope(a, data, false, mustGlobal(t, a))
	if err != nil {
		t.Fatal(err)
	}
	want := `function {
   0: formal parameter a (env slot 2)
   1: formal parameter b (arg slot 1)
   2: var v (frame slot 0)
} -> global`
	if got := scope.Dump(s); got != want {
		t.Errorf("Dump =\n%s\nwant\n%s", got, want)
	}

	g, err := scope.NewGlobalScope(a, scope.Global, scope.NewGlobalData(names(a.Atoms, "f!", "x"), 2, 2))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	scope.DumpBindings(&buf, g)
	if got, want := buf.String(), " 0: var f (global function)\n 1: var x (global)\n"; got != want {
		t.Errorf("DumpBindings = %q, want %q", got, want)
	}

	with, err := scope.NewWithScope(a, g)
	if err != nil {
		t.Fatal(err)
	}
	if got := scope.Dump(with); got != "with -> global" {
		t.Errorf("Dump(with) = %q", got)
	}
}
