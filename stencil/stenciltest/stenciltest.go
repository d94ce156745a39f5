// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stenciltest defines utilities for testing code that produces
// or consumes compilation stencils.
//
// Sample returns a small but complete unit covering every vector of a
// stencil, and Diff compares stencils structurally, treating atoms of
// different tables as equal when they denote the same string.
package stenciltest // import "go.stencil.dev/stencil/stenciltest"

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"go.stencil.dev/atom"
	"go.stencil.dev/scope"
	"go.stencil.dev/stencil"
)

// SampleSource is the source text of the Sample unit.
const SampleSource = `var x; let y;
function f(a, b) { var v; { let w = () => a + w; } return /a+b/g; }
function g(p) { return p; }
function h() {}
`

// Extents of the functions of the Sample unit.
var (
	ExtentF = stencil.SourceExtent{SourceStart: 14, SourceEnd: 81, ToStringStart: 14, ToStringEnd: 81, Lineno: 2}
	ExtentG = stencil.SourceExtent{SourceStart: 82, SourceEnd: 109, ToStringStart: 82, ToStringEnd: 109, Lineno: 3}
	ExtentH = stencil.SourceExtent{SourceStart: 110, SourceEnd: 125, ToStringStart: 110, ToStringEnd: 125, Lineno: 4}
)

func names(tab *atom.Table, specs ...string) []scope.BindingName {
	var res []scope.BindingName
	for _, spec := range specs {
		closed := spec[len(spec)-1] == '*'
		fun := spec[len(spec)-1] == '!'
		if closed || fun {
			spec = spec[:len(spec)-1]
		}
		res = append(res, scope.NewBindingName(tab.Intern(spec), closed, fun))
	}
	return res
}

// Sample returns a unit with a global scope, an eagerly compiled
// function f with a nested block, and two lazy functions g and h, of
// which g has been delazified.
func Sample() *stencil.CompilationInfoVector {
	cs := stencil.New()
	tab := cs.Atoms

	global := cs.CreateForGlobalScope(scope.Global, scope.NewGlobalData(names(tab, "x", "f!", "g!", "h!", "y"), 4, 5))
	fscope := cs.CreateForFunctionScope(scope.NewFunctionData(names(tab, "a*", "b", "v"), false, 2, 2, nil), false, 1, false, global)
	block := cs.CreateForLexicalScope(scope.Lexical, scope.NewLexicalData(names(tab, "w*"), 1), fscope)

	cs.RegExps = append(cs.RegExps, stencil.RegExpStencil{Pattern: tab.Intern("a+b"), Flags: 0x02})
	cs.BigInts = append(cs.BigInts, stencil.BigIntStencil{Digits: "12345678901234567890"})
	cs.ObjLiterals = append(cs.ObjLiterals, stencil.ObjLiteralStencil{Flags: 0x01, Code: []byte{1, 0, 0, 0, 7}, Atoms: []*atom.Atom{tab.Intern("x")}})

	cs.AddScript(stencil.ScriptStencil{
		Extent:                          stencil.SourceExtent{SourceEnd: uint32(len(SampleSource)), ToStringEnd: uint32(len(SampleSource)), Lineno: 1},
		LazyFunctionEnclosingScopeIndex: stencil.NoScope,
		SharedData:                      []byte{0x10, 0x20, 0x30, 0x40},
		GCThings: []stencil.TaggedIndex{
			{Kind: stencil.ScopeThing, Index: uint32(global)},
			{Kind: stencil.FunctionThing, Index: 1},
			{Kind: stencil.FunctionThing, Index: 2},
			{Kind: stencil.FunctionThing, Index: 3},
			{Kind: stencil.BigIntThing, Index: 0},
			{Kind: stencil.ObjLiteralThing, Index: 0},
		},
	})
	cs.AddScript(stencil.ScriptStencil{
		Extent:                          ExtentF,
		ImmutableFlags:                  stencil.IsFunction | stencil.FunctionHasThisBinding,
		FunctionFlags:                   stencil.FunctionInterpreted,
		Nargs:                           2,
		FunctionAtom:                    tab.Intern("f"),
		LazyFunctionEnclosingScopeIndex: stencil.NoScope,
		SharedData:                      []byte{0x01, 0x02, 0x03},
		GCThings: []stencil.TaggedIndex{
			{Kind: stencil.ScopeThing, Index: uint32(fscope)},
			{Kind: stencil.ScopeThing, Index: uint32(block)},
			{Kind: stencil.RegExpThing, Index: 0},
			{Kind: stencil.NullThing},
		},
		WasFunctionEmitted: true,
		AllowRelazify:      true,
	})
	cs.AddScript(lazyScript(tab, ExtentG, "g", 1, global))
	cs.AddScript(lazyScript(tab, ExtentH, "h", 0, global))
	cs.MarkAtomsUsed()

	return &stencil.CompilationInfoVector{
		Initial: stencil.CompilationInfo{
			Input: stencil.CompilationInput{
				Options: stencil.CompileOptions{Filename: "sample.js", Lineno: 1},
				Source:  &stencil.ScriptSource{Filename: "sample.js", Text: SampleSource},
			},
			Stencil: cs,
		},
		Delazifications: []*stencil.CompilationStencil{
			Delazification(ExtentG, "g", []byte{0xAA, 0xBB}, "p"),
		},
	}
}

func lazyScript(tab *atom.Table, extent stencil.SourceExtent, name string, nargs uint16, enclosing stencil.ScopeIndex) stencil.ScriptStencil {
	return stencil.ScriptStencil{
		Extent:                          extent,
		ImmutableFlags:                  stencil.IsFunction,
		FunctionFlags:                   stencil.FunctionInterpreted | stencil.FunctionLazy,
		Nargs:                           nargs,
		FunctionAtom:                    tab.Intern(name),
		LazyFunctionEnclosingScopeIndex: enclosing,
		WasFunctionEmitted:              true,
	}
}

// Delazification returns the full compilation of the function name at
// extent, with the given parameters and bytecode.
func Delazification(extent stencil.SourceExtent, name string, code []byte, params ...string) *stencil.CompilationStencil {
	cs := stencil.New()
	var bindings []scope.BindingName
	if len(params) > 0 {
		bindings = names(cs.Atoms, params...)
	}
	fscope := cs.CreateForFunctionScope(
		scope.NewFunctionData(bindings, false, uint16(len(params)), uint16(len(params)), nil),
		false, stencil.TopLevelIndex, false, stencil.NoScope)
	cs.AddScript(stencil.ScriptStencil{
		Extent:                          extent,
		ImmutableFlags:                  stencil.IsFunction,
		FunctionFlags:                   stencil.FunctionInterpreted,
		Nargs:                           uint16(len(params)),
		FunctionAtom:                    cs.Atoms.Intern(name),
		LazyFunctionEnclosingScopeIndex: stencil.NoScope,
		SharedData:                      code,
		GCThings:                        []stencil.TaggedIndex{{Kind: stencil.ScopeThing, Index: uint32(fscope)}},
		AllowRelazify:                   true,
	})
	cs.MarkAtomsUsed()
	return cs
}

// Options are the cmp options used by Diff.
var Options = cmp.Options{
	cmp.Comparer(func(x, y *atom.Atom) bool {
		if x == nil || y == nil {
			return x == y
		}
		return x.String() == y.String()
	}),
	cmp.Comparer(func(x, y scope.BindingName) bool {
		return x.Flags() == y.Flags() && x.String() == y.String() && (x.Name == nil) == (y.Name == nil)
	}),
	cmpopts.IgnoreFields(stencil.CompilationStencil{}, "Atoms"),
	cmpopts.EquateEmpty(),
}

// Diff returns a human-readable report of the differences between two
// stencils, or "" if they are structurally equal.
func Diff(x, y *stencil.CompilationStencil) string {
	return cmp.Diff(x, y, Options)
}
