// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.stencil.dev/scope"
)

// chain builds global -> function(a*, v) -> lexical(x) -> with -> lexical(y).
func chain(t *testing.T, a *scope.Arena) (fn, outer, with, inner *scope.Scope) {
	t.Helper()
	g := mustGlobal(t, a)
	var err error
	fn, err = scope.NewFunctionScope(a, scope.NewFunctionData(names(a.Atoms, "a*", "v"), false, 1, 1, &scope.FunctionRef{Name: a.Atoms.Intern("f")}), false, g)
	if err != nil {
		t.Fatal(err)
	}
	outer, err = scope.NewLexicalScope(a, scope.Lexical, scope.NewLexicalData(names(a.Atoms, "x"), 1), scope.NextFrameSlot(fn), fn)
	if err != nil {
		t.Fatal(err)
	}
	with, err = scope.NewWithScope(a, outer)
	if err != nil {
		t.Fatal(err)
	}
	inner, err = scope.NewLexicalScope(a, scope.Lexical, scope.NewLexicalData(names(a.Atoms, "y"), 0), scope.NextFrameSlot(with), with)
	if err != nil {
		t.Fatal(err)
	}
	return fn, outer, with, inner
}

func TestChainQueries(t *testing.T) {
	a := scope.NewArena(nil)
	fn, outer, _, inner := chain(t, a)

	if got := inner.ChainLength(); got != 5 {
		t.Errorf("ChainLength = %d, want 5", got)
	}
	// global, function (closed-over a) and with have environments.
	if got := inner.EnvironmentChainLength(); got != 3 {
		t.Errorf("EnvironmentChainLength = %d, want 3", got)
	}
	if !inner.HasOnChain(scope.With) {
		t.Errorf("HasOnChain(with) = false")
	}
	if inner.HasOnChain(scope.Module) {
		t.Errorf("HasOnChain(module) = true")
	}
	if got := scope.NearestVarScopeForDirectEval(inner); got != fn {
		t.Errorf("NearestVarScopeForDirectEval = %v, want the function scope", got)
	}
	// Frame numbering skips the with scope.
	if got, want := inner.FirstFrameSlot(), scope.NextFrameSlot(outer); got != want || want != 2 {
		t.Errorf("inner.FirstFrameSlot = %d, want %d (=2)", got, want)
	}
	if got := fn.CanonicalFunction().Name.String(); got != "f" {
		t.Errorf("CanonicalFunction = %s, want f", got)
	}

	var kinds []string
	for it := inner.Iter(); !it.Done(); it.Next() {
		kinds = append(kinds, it.Kind().String())
	}
	if diff := cmp.Diff([]string{"lexical", "with", "lexical", "function", "global"}, kinds); diff != "" {
		t.Errorf("chain mismatch (-want +got):\n%s", diff)
	}
}

func TestNearestVarScopeGlobal(t *testing.T) {
	a := scope.NewArena(nil)
	g := mustGlobal(t, a)
	block, err := scope.NewLexicalScope(a, scope.Lexical, nil, 0, g)
	if err != nil {
		t.Fatal(err)
	}
	if got := scope.NearestVarScopeForDirectEval(block); got != g {
		t.Errorf("NearestVarScopeForDirectEval = %v, want the global scope", got)
	}
	with, err := scope.NewWithScope(a, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := scope.NearestVarScopeForDirectEval(with); got != nil {
		t.Errorf("NearestVarScopeForDirectEval of detached with = %v, want nil", got)
	}
}

func TestNeedsEnvironment(t *testing.T) {
	for _, tc := range []struct {
		needs     bool
		wantShape bool
	}{
		{false, false},
		{true, true},
	} {
		a := scope.NewArena(nil)
		s, err := scope.NewFunctionScope(a, scope.NewFunctionData(names(a.Atoms, "a", "v"), false, 1, 1, &scope.FunctionRef{}), tc.needs, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got := s.Shape() != nil; got != tc.wantShape {
			t.Errorf("needsEnvironment=%t: has shape = %t, want %t", tc.needs, got, tc.wantShape)
		}
		if tc.wantShape {
			if n := len(s.Shape().Entries()); n != 0 {
				t.Errorf("shape has %d entries, want 0", n)
			}
			if got := s.Shape().SlotSpan(); got != scope.CallEnvironment.ReservedSlots() {
				t.Errorf("SlotSpan = %d, want header only", got)
			}
		}
	}

	// Lexical scopes ignore the request.
	a := scope.NewArena(nil)
	layout := scope.Prepare(scope.Lexical, scope.NewLexicalData(names(a.Atoms, "x"), 1), 0, true)
	if layout.NeedsEnvironment {
		t.Errorf("lexical scope without closed-over bindings needs an environment")
	}
}

func TestCloneAcrossArenas(t *testing.T) {
	src := scope.NewArena(nil)
	_, outer, _, _ := chain(t, src)

	dst := scope.NewArena(nil)
	g := mustGlobal(t, dst)
	fn, err := scope.NewFunctionScope(dst, scope.NewFunctionData(names(dst.Atoms, "v"), false, 0, 0, &scope.FunctionRef{}), false, g)
	if err != nil {
		t.Fatal(err)
	}

	lex, err := scope.NewLexicalScope(src, scope.Lexical, scope.NewLexicalData(names(src.Atoms, "p*", "q"), 1), scope.NextFrameSlot(outer), outer)
	if err != nil {
		t.Fatal(err)
	}
	c, err := scope.Clone(dst, lex, fn)
	if err != nil {
		t.Fatal(err)
	}
	if c.Enclosing() != fn || c.Arena() != dst {
		t.Errorf("clone is not enclosed by the target scope")
	}
	if c.Data() == lex.Data() {
		t.Errorf("clone shares data with the original")
	}
	if c.Shape() == nil || c.Shape() == lex.Shape() || c.Shape().Arena() != dst {
		t.Fatalf("clone shape was not rebuilt in the target arena")
	}
	if diff := cmp.Diff(lex.Shape().SlotSpan(), c.Shape().SlotSpan()); diff != "" {
		t.Errorf("slot span mismatch (-want +got):\n%s", diff)
	}
	for _, b := range c.Data().Names() {
		if b.Name.Table() != dst.Atoms {
			t.Errorf("cloned name %s belongs to another table", b)
		}
		if !b.Name.Used() {
			t.Errorf("cloned name %s is not marked used", b)
		}
	}
	if diff := cmp.Diff(shapeLines(lex.Shape()), shapeLines(c.Shape())); diff != "" {
		t.Errorf("shape mismatch (-want +got):\n%s", diff)
	}

	// Within one arena the shape is shared.
	same, err := scope.Clone(src, lex, outer)
	if err != nil {
		t.Fatal(err)
	}
	if same.Shape() != lex.Shape() {
		t.Errorf("same-arena clone did not share the shape")
	}
}

func shapeLines(s *scope.Shape) []string {
	var lines []string
	for _, e := range s.Entries() {
		lines = append(lines, e.Kind.String()+" "+e.Name.String()+" "+scope.EnvironmentLoc(e.Slot).String())
	}
	return lines
}

func TestCloneVariants(t *testing.T) {
	src := scope.NewArena(nil)
	fn, _, with, _ := chain(t, src)
	dst := scope.NewArena(nil)
	g := mustGlobal(t, dst)

	if _, err := scope.Clone(dst, fn, g); err == nil {
		t.Errorf("Clone of a function scope succeeded")
	}
	if _, err := scope.Clone(dst, mustGlobal(t, src), nil); err == nil {
		t.Errorf("Clone of a global scope succeeded")
	}
	mod, err := scope.NewModuleScope(src, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := scope.Clone(dst, mod, g); err == nil || !strings.Contains(err.Error(), "cannot clone") {
		t.Errorf("Clone of a module scope: got %v, want cannot clone error", err)
	}

	fun := &scope.FunctionRef{Name: dst.Atoms.Intern("g"), ScriptIndex: 3}
	cf, err := scope.CloneFunction(dst, fn, fun, g)
	if err != nil {
		t.Fatal(err)
	}
	if got := cf.CanonicalFunction(); got.Name.String() != "g" || got.ScriptIndex != 3 {
		t.Errorf("CanonicalFunction = %+v, want g/3", got)
	}
	if cf.Shape() == nil || cf.Shape().Arena() != dst {
		t.Errorf("function clone shape was not rebuilt")
	}

	cg, err := scope.CloneGlobal(dst, mustGlobal(t, src), scope.NonSyntactic)
	if err != nil {
		t.Fatal(err)
	}
	if cg.Kind() != scope.NonSyntactic || cg.Enclosing() != nil {
		t.Errorf("CloneGlobal = %s enclosed by %v", cg.Kind(), cg.Enclosing())
	}

	cw, err := scope.Clone(dst, with, g)
	if err != nil {
		t.Fatal(err)
	}
	if cw.Kind() != scope.With || cw.Data() != nil {
		t.Errorf("with clone = %s with data %v", cw.Kind(), cw.Data())
	}
}

func TestOutOfMemory(t *testing.T) {
	a := scope.NewArena(nil)
	a.Limit = 64
	mustGlobal(t, a)
	used, n := a.Used(), len(a.Scopes())

	data := scope.NewFunctionData(names(a.Atoms, "a*", "b*", "c*", "d*"), false, 4, 4, &scope.FunctionRef{})
	s, err := scope.NewFunctionScope(a, data, false, nil)
	if !errors.Is(err, scope.ErrOutOfMemory) {
		t.Fatalf("got %v, want ErrOutOfMemory", err)
	}
	if s != nil {
		t.Errorf("failed creation returned a scope")
	}
	if a.Used() != used || len(a.Scopes()) != n {
		t.Errorf("failed creation left allocations: used %d -> %d, scopes %d -> %d", used, a.Used(), n, len(a.Scopes()))
	}
}

func TestRelease(t *testing.T) {
	a := scope.NewArena(nil)
	fn, _, _, inner := chain(t, a)
	a.Release()
	if fn.Data() != nil || inner.Data() != nil || fn.Shape() != nil {
		t.Errorf("released scopes still hold their data")
	}
	if a.Used() != 0 || len(a.Scopes()) != 0 {
		t.Errorf("released arena: used %d, %d scopes", a.Used(), len(a.Scopes()))
	}
	// The arena is reusable and the empty global scope is recreated.
	if g := mustGlobal(t, a); g.Data() == nil {
		t.Errorf("recreated global scope has no data")
	}
}

func TestKindChecks(t *testing.T) {
	a := scope.NewArena(nil)
	if _, err := scope.NewLexicalScope(a, scope.Function, nil, 0, nil); err == nil {
		t.Errorf("NewLexicalScope accepted a function kind")
	}
	if _, err := scope.NewGlobalScope(a, scope.Module, nil); err == nil {
		t.Errorf("NewGlobalScope accepted a module kind")
	}
	for _, k := range scope.Kinds() {
		if !k.Valid() {
			t.Errorf("%s is not valid", k)
		}
	}
	if err := scope.CheckKind(scope.Lexical, &scope.FunctionData{}); err == nil {
		t.Errorf("CheckKind accepted function data for a lexical scope")
	}
	if err := scope.CheckKind(scope.With, nil); err != nil {
		t.Errorf("CheckKind(with, nil) = %v", err)
	}
}
