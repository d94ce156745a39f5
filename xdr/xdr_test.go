// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdr_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.stencil.dev/atom"
	"go.stencil.dev/scope"
	"go.stencil.dev/stencil"
	"go.stencil.dev/stencil/stenciltest"
	"go.stencil.dev/xdr"
)

func sampleOptions() stencil.CompileOptions {
	return stenciltest.Sample().Initial.Input.Options
}

func encodeSample(t *testing.T) (*stencil.CompilationInfoVector, []byte) {
	t.Helper()
	v := stenciltest.Sample()
	data, err := xdr.EncodeStencils(v)
	if err != nil {
		t.Fatal(err)
	}
	return v, data
}

func checkVector(t *testing.T, want, got *stencil.CompilationInfoVector) {
	t.Helper()
	if diff := cmp.Diff(want.Initial.Input, got.Initial.Input); diff != "" {
		t.Errorf("input mismatch (-want +got):\n%s", diff)
	}
	if diff := stenciltest.Diff(want.Initial.Stencil, got.Initial.Stencil); diff != "" {
		t.Errorf("initial stencil mismatch (-want +got):\n%s", diff)
	}
	if len(got.Delazifications) != len(want.Delazifications) {
		t.Fatalf("got %d delazifications, want %d", len(got.Delazifications), len(want.Delazifications))
	}
	for i := range want.Delazifications {
		if diff := stenciltest.Diff(want.Delazifications[i], got.Delazifications[i]); diff != "" {
			t.Errorf("delazification %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	v, data := encodeSample(t)
	got, err := xdr.DecodeStencils(data, sampleOptions())
	if err != nil {
		t.Fatal(err)
	}
	checkVector(t, v, got)
}

// dumpScopes instantiates the scopes of cs and returns their dumps.
func dumpScopes(t *testing.T, cs *stencil.CompilationStencil) []string {
	t.Helper()
	scopes, err := cs.InstantiateScopes(scope.NewArena(nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	var res []string
	for _, s := range scopes {
		res = append(res, scope.Dump(s))
	}
	return res
}

func TestRoundTripLocations(t *testing.T) {
	v, data := encodeSample(t)
	got, err := xdr.DecodeStencils(data, sampleOptions())
	if err != nil {
		t.Fatal(err)
	}
	want := dumpScopes(t, v.Initial.Stencil)
	if diff := cmp.Diff(want, dumpScopes(t, got.Initial.Stencil)); diff != "" {
		t.Errorf("binding locations differ after decoding (-want +got):\n%s", diff)
	}
}

func TestDecodeIdempotent(t *testing.T) {
	_, data := encodeSample(t)
	a, err := xdr.DecodeStencils(data, sampleOptions())
	if err != nil {
		t.Fatal(err)
	}
	b, err := xdr.DecodeStencils(data, sampleOptions())
	if err != nil {
		t.Fatal(err)
	}
	checkVector(t, a, b)
	x, y := a.Initial.Stencil, b.Initial.Stencil
	if x.Atoms == y.Atoms || x.Scopes[0].Data == y.Scopes[0].Data {
		t.Errorf("decoded stencils share state")
	}
	if x.Atoms.Lookup("f") == y.Atoms.Lookup("f") {
		t.Errorf("decoded stencils share atoms")
	}
}

func names(tab *atom.Table, specs ...string) []scope.BindingName {
	var res []scope.BindingName
	for _, spec := range specs {
		closed := len(spec) > 0 && spec[len(spec)-1] == '*'
		if closed {
			spec = spec[:len(spec)-1]
		}
		var a *atom.Atom
		if spec != "" {
			a = tab.Intern(spec)
		}
		res = append(res, scope.NewBindingName(a, closed, false))
	}
	return res
}

// kindData returns populated data for a scope of kind k.
func kindData(tab *atom.Table, k scope.Kind) scope.Data {
	switch {
	case k == scope.Function:
		return &scope.FunctionData{NextFrameSlot: 1, HasParameterExprs: true, NonPositionalFormalStart: 1, VarStart: 2,
			Bindings: names(tab, "a*", "", "v")}
	case k == scope.FunctionBodyVar:
		return &scope.VarData{NextFrameSlot: 3, Bindings: names(tab, "u", "w*")}
	case k.IsLexical():
		return &scope.LexicalData{NextFrameSlot: 2, ConstStart: 1, Bindings: names(tab, "l", "c*")}
	case k.IsEval():
		return &scope.EvalData{Bindings: names(tab, "e")}
	case k.IsGlobal():
		return &scope.GlobalData{LetStart: 1, ConstStart: 2, Bindings: names(tab, "x", "y", "z")}
	case k == scope.Module:
		return &scope.ModuleData{NextFrameSlot: 1, VarStart: 1, LetStart: 2, ConstStart: 3,
			Bindings: names(tab, "imp", "v", "l*", "c")}
	case k == scope.WasmInstance:
		return &scope.WasmInstanceData{GlobalsStart: 1, Bindings: names(tab, "memory0", "global0", "global1")}
	case k == scope.WasmFunction:
		return &scope.WasmFunctionData{NextFrameSlot: 2, Bindings: names(tab, "var0", "var1")}
	}
	return nil
}

// unit returns a compilation of a top-level script enclosing scopes.
func unit(cs *stencil.CompilationStencil) *stencil.CompilationInfoVector {
	cs.AddScript(stencil.ScriptStencil{
		Extent:                          stencil.SourceExtent{SourceEnd: 10, ToStringEnd: 10, Lineno: 1},
		LazyFunctionEnclosingScopeIndex: stencil.NoScope,
		SharedData:                      []byte{1},
	})
	cs.MarkAtomsUsed()
	return &stencil.CompilationInfoVector{
		Initial: stencil.CompilationInfo{
			Input:   stencil.CompilationInput{Options: stencil.CompileOptions{Filename: "unit.js"}},
			Stencil: cs,
		},
	}
}

func TestScopeKinds(t *testing.T) {
	for _, k := range scope.Kinds() {
		cs := stencil.New()
		st := stencil.ScopeStencil{
			Kind:                k,
			Enclosing:           stencil.NoScope,
			FirstFrameSlot:      2,
			HasEnvironment:      true,
			NumEnvironmentSlots: 4,
			FunctionIndex:       stencil.NoScript,
			Data:                kindData(cs.Atoms, k),
		}
		if k == scope.Function {
			st.FunctionIndex = 0
			st.IsArrow = true
		}
		cs.Scopes = append(cs.Scopes, st)
		v := unit(cs)
		data, err := xdr.EncodeStencils(v)
		if err != nil {
			t.Errorf("%s: %v", k, err)
			continue
		}
		got, err := xdr.DecodeStencils(data, stencil.CompileOptions{})
		if err != nil {
			t.Errorf("%s: %v", k, err)
			continue
		}
		if diff := stenciltest.Diff(cs, got.Initial.Stencil); diff != "" {
			t.Errorf("%s scope mismatch (-want +got):\n%s", k, diff)
		}
	}
}

func TestGlobalBoundaries(t *testing.T) {
	cs := stencil.New()
	data := scope.NewGlobalData(names(cs.Atoms, "v1", "v2", "v3", "l", "c"), 3, 4)
	cs.CreateForGlobalScope(scope.Global, data)
	buf, err := xdr.EncodeStencils(unit(cs))
	if err != nil {
		t.Fatal(err)
	}
	got, err := xdr.DecodeStencils(buf, stencil.CompileOptions{})
	if err != nil {
		t.Fatal(err)
	}
	g, ok := got.Initial.Stencil.Scope(0).Data.(*scope.GlobalData)
	if !ok {
		t.Fatalf("decoded global scope holds %T", got.Initial.Stencil.Scope(0).Data)
	}
	if g.LetStart != 3 || g.ConstStart != 4 || len(g.Bindings) != 5 {
		t.Errorf("got letStart=%d constStart=%d length=%d, want 3/4/5", g.LetStart, g.ConstStart, len(g.Bindings))
	}
	for i, want := range []string{"v1", "v2", "v3", "l", "c"} {
		if got := g.Bindings[i].String(); got != want {
			t.Errorf("binding %d = %s, want %s", i, got, want)
		}
	}
}

func TestGCThingAtoms(t *testing.T) {
	cs := stencil.New()
	cs.Atoms.Intern("unused")
	name := cs.Atoms.Intern("prop")
	v := unit(cs)
	top := cs.TopLevel()
	top.GCThings = []stencil.TaggedIndex{{Kind: stencil.AtomThing, Index: name.Index()}, {Kind: stencil.EmptyGlobalScopeThing}}
	cs.MarkAtomsUsed()
	data, err := xdr.EncodeStencils(v)
	if err != nil {
		t.Fatal(err)
	}
	got, err := xdr.DecodeStencils(data, stencil.CompileOptions{})
	if err != nil {
		t.Fatal(err)
	}
	dcs := got.Initial.Stencil
	thing := dcs.TopLevel().GCThings[0]
	if a := dcs.Atoms.At(thing.Index); thing.Kind != stencil.AtomThing || a == nil || a.String() != "prop" {
		t.Errorf("atom thing decoded as %v", thing)
	}
	if dcs.Atoms.Lookup("unused") != nil {
		t.Errorf("unused atom was transcoded")
	}
}

func TestModuleMetadata(t *testing.T) {
	cs := stencil.New()
	tab := cs.Atoms
	cs.CreateForModuleScope(scope.NewModuleData(names(tab, "dep", "x*"), 1, 2, 2, nil), stencil.NoScope)
	v := unit(cs)
	cs.TopLevel().ImmutableFlags = stencil.IsModule | stencil.Strict
	cs.ModuleMetadata = &stencil.ModuleMetadata{
		RequestedModules: []stencil.ModuleEntry{{Specifier: tab.Intern("./dep.js"), Lineno: 1, Column: 17}},
		ImportEntries:    []stencil.ModuleEntry{{Specifier: tab.Intern("./dep.js"), LocalName: tab.Intern("dep"), ImportName: tab.Intern("default")}},
		FunctionDecls:    []uint32{0},
		IsAsync:          true,
	}
	cs.MarkAtomsUsed()
	data, err := xdr.EncodeStencils(v)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := xdr.DecodeStencils(data, stencil.CompileOptions{}); xdr.ResultOf(err) != xdr.WrongCompileOption {
		t.Errorf("module decoded as a script: got %v", err)
	}
	got, err := xdr.DecodeStencils(data, stencil.CompileOptions{Module: true, Strict: true})
	if err != nil {
		t.Fatal(err)
	}
	if diff := stenciltest.Diff(cs, got.Initial.Stencil); diff != "" {
		t.Errorf("module mismatch (-want +got):\n%s", diff)
	}
}

func TestWrongCompileOption(t *testing.T) {
	_, data := encodeSample(t)
	for _, opts := range []stencil.CompileOptions{{Module: true}, {Strict: true}} {
		v, err := xdr.DecodeStencils(data, opts)
		if xdr.ResultOf(err) != xdr.WrongCompileOption || v != nil {
			t.Errorf("options %+v: got %v, want wrong compile option", opts, err)
		}
	}
}

func TestUnencodable(t *testing.T) {
	v := stenciltest.Sample()
	v.Initial.Stencil.AsmJS = true
	if _, err := xdr.EncodeStencils(v); xdr.ResultOf(err) != xdr.AsmJSNotSupported {
		t.Errorf("asm.js: got %v, want asm.js not supported", err)
	}
	v = stenciltest.Sample()
	v.Initial.Input.Options.Instrumented = true
	if _, err := xdr.EncodeStencils(v); xdr.ResultOf(err) != xdr.Failure {
		t.Errorf("instrumented: got %v, want failure", err)
	}
	v = stenciltest.Sample()
	v.Delazifications = append(v.Delazifications, stencil.New())
	if _, err := xdr.EncodeStencils(v); xdr.ResultOf(err) != xdr.Failure {
		t.Errorf("empty delazification: got %v, want failure", err)
	}
}

func TestBadBuildID(t *testing.T) {
	_, data := encodeSample(t)
	// The id follows its 4-byte length; garbage after it must not be read.
	corrupt := append([]byte(nil), data[:4+len(xdr.BuildID())]...)
	corrupt[4] ^= 0x20
	for i := 0; i < 64; i++ {
		corrupt = append(corrupt, 0xff)
	}
	if v, err := xdr.DecodeStencils(corrupt, sampleOptions()); xdr.ResultOf(err) != xdr.BadBuildID || v != nil {
		t.Errorf("got %v, want bad build id", err)
	}

	xdr.BuildIDPrefix = "stencil99"
	defer func() { xdr.BuildIDPrefix = "stencil20" }()
	if _, err := xdr.DecodeStencils(data, sampleOptions()); xdr.ResultOf(err) != xdr.BadBuildID {
		t.Errorf("other build: got %v, want bad build id", err)
	}
}

func TestFrameSlotMismatch(t *testing.T) {
	v := stenciltest.Sample()
	v.Initial.Stencil.Scopes[2].FirstFrameSlot += 3
	data, err := xdr.EncodeStencils(v)
	if err != nil {
		t.Fatal(err)
	}
	got, err := xdr.DecodeStencils(data, sampleOptions())
	if xdr.ResultOf(err) != xdr.BadDecode || got != nil {
		t.Fatalf("got %v, want bad decode", err)
	}
	if !strings.Contains(err.Error(), "first frame slot") {
		t.Errorf("error %q does not mention the frame slot", err)
	}
}

func TestGarbage(t *testing.T) {
	_, data := encodeSample(t)
	tree, err := xdr.NewTreeEncoder(&stenciltest.Sample().Initial)
	if err != nil {
		t.Fatal(err)
	}
	linear, err := tree.Linearize()
	if err != nil {
		t.Fatal(err)
	}
	for _, buf := range [][]byte{data, linear} {
		for n := 0; n < len(buf); n++ {
			v, err := xdr.DecodeStencils(buf[:n], sampleOptions())
			if xdr.ResultOf(err) != xdr.BadDecode || v != nil {
				t.Fatalf("truncated to %d bytes: got %v, want bad decode", n, err)
			}
		}
		if _, err := xdr.DecodeStencils(append(buf[:len(buf):len(buf)], 0), sampleOptions()); xdr.ResultOf(err) != xdr.BadDecode {
			t.Errorf("trailing byte: got %v, want bad decode", err)
		}
		// Corrupting any byte must fail cleanly or decode, never panic.
		for i := 4 + len(xdr.BuildID()); i < len(buf); i++ {
			corrupt := append([]byte(nil), buf...)
			corrupt[i] ^= 0xff
			v, err := xdr.DecodeStencils(corrupt, sampleOptions())
			if (err == nil) == (v == nil) {
				t.Errorf("byte %d: got result %v with error %v", i, v != nil, err)
			}
		}
	}
	unknown := append([]byte(nil), data[:4+len(xdr.BuildID())]...)
	unknown = append(unknown, 1, 2, 3, 4)
	if _, err := xdr.DecodeStencils(unknown, sampleOptions()); xdr.ResultOf(err) != xdr.BadDecode {
		t.Errorf("unknown layout: got %v, want bad decode", err)
	}
}

func TestIncrementalEncoder(t *testing.T) {
	v := stenciltest.Sample()
	enc, err := xdr.NewIncrementalStencilEncoder(&v.Initial)
	if err != nil {
		t.Fatal(err)
	}
	g := v.Delazifications[0]
	if err := enc.CodeFunctionStencil(g); err != nil {
		t.Fatal(err)
	}
	first, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	// Another compilation of the same function is not encoded again.
	again := stenciltest.Delazification(stenciltest.ExtentG, "g", []byte{1, 2, 3}, "p")
	if err := enc.CodeFunctionStencil(again); err != nil {
		t.Fatal(err)
	}
	if got := enc.NumChunks(); got != 2 {
		t.Errorf("NumChunks = %d, want 2", got)
	}
	second, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("encoding a function twice changed the buffer")
	}

	h := stenciltest.Delazification(stenciltest.ExtentH, "h", []byte{0xCC})
	if err := enc.CodeFunctionStencil(h); err != nil {
		t.Fatal(err)
	}
	data, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	got, err := xdr.DecodeStencils(data, sampleOptions())
	if err != nil {
		t.Fatal(err)
	}
	v.Delazifications = append(v.Delazifications, h)
	checkVector(t, v, got)

	if err := enc.CodeFunctionStencil(v.Initial.Stencil); xdr.ResultOf(err) != xdr.Failure {
		t.Errorf("top-level stencil as delazification: got %v, want failure", err)
	}
}

func TestTreeRoundTrip(t *testing.T) {
	v := stenciltest.Sample()
	tree, err := xdr.NewTreeEncoder(&v.Initial)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := tree.Linearize()
	if err != nil {
		t.Fatal(err)
	}
	got, err := xdr.DecodeStencils(buf, sampleOptions())
	if err != nil {
		t.Fatal(err)
	}
	lazy := *v
	lazy.Delazifications = nil
	checkVector(t, &lazy, got)

	if err := tree.CodeDelazification(v.Delazifications[0]); err != nil {
		t.Fatal(err)
	}
	buf, err = tree.Linearize()
	if err != nil {
		t.Fatal(err)
	}
	got, err = xdr.DecodeStencils(buf, sampleOptions())
	if err != nil {
		t.Fatal(err)
	}
	checkVector(t, v, got)
	if sp, ok := tree.Span(xdr.TopLevelKey); !ok || sp.End != len(buf) {
		t.Errorf("top-level span = %+v, want to end at %d", sp, len(buf))
	}
}

func TestTreeIsolation(t *testing.T) {
	v := stenciltest.Sample()
	tree, err := xdr.NewTreeEncoder(&v.Initial)
	if err != nil {
		t.Fatal(err)
	}
	if err := tree.CodeDelazification(v.Delazifications[0]); err != nil {
		t.Fatal(err)
	}
	before, err := tree.Linearize()
	if err != nil {
		t.Fatal(err)
	}
	keyG, keyH := xdr.Key(stenciltest.ExtentG.Key()), xdr.Key(stenciltest.ExtentH.Key())
	g1, _ := tree.Span(keyG)
	h1, _ := tree.Span(keyH)

	// Re-encode g with longer bytecode.
	g := stenciltest.Delazification(stenciltest.ExtentG, "g", []byte{1, 2, 3, 4, 5, 6}, "p")
	if err := tree.CodeDelazification(g); err != nil {
		t.Fatal(err)
	}
	after, err := tree.Linearize()
	if err != nil {
		t.Fatal(err)
	}
	g2, _ := tree.Span(keyG)
	h2, _ := tree.Span(keyH)

	if g1.Begin != g2.Begin || !bytes.Equal(before[:g1.Begin], after[:g2.Begin]) {
		t.Errorf("bytes before the replaced subtree changed")
	}
	if !bytes.Equal(before[g1.End:], after[g2.End:]) {
		t.Errorf("bytes after the replaced subtree changed")
	}
	if delta := (g2.End - g2.Begin) - (g1.End - g1.Begin); delta != 4 || h2.Begin-h1.Begin != delta {
		t.Errorf("subtree of g grew by %d, h moved by %d; want 4", delta, h2.Begin-h1.Begin)
	}

	got, err := xdr.DecodeStencils(after, sampleOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Delazifications) != 1 || !bytes.Equal(got.Delazifications[0].TopLevel().SharedData, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("decoded delazification does not hold the replacement")
	}
}

func TestTreeErrors(t *testing.T) {
	v := stenciltest.Sample()
	tree, err := xdr.NewTreeEncoder(&v.Initial)
	if err != nil {
		t.Fatal(err)
	}
	f := stenciltest.Delazification(stenciltest.ExtentF, "f", []byte{1})
	if err := tree.CodeDelazification(f); xdr.ResultOf(err) != xdr.Failure {
		t.Errorf("delazification of an eager function: got %v, want failure", err)
	}
	asm := stenciltest.Delazification(stenciltest.ExtentH, "h", []byte{1})
	asm.AsmJS = true
	if err := tree.CodeDelazification(asm); xdr.ResultOf(err) != xdr.AsmJSNotSupported {
		t.Errorf("asm.js delazification: got %v, want asm.js not supported", err)
	}
	if _, err := tree.Linearize(); err != nil {
		t.Errorf("rejected delazifications broke the tree: %v", err)
	}
}
