// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdr

// This file defines the codecs of the stencil vectors.

import (
	"unicode/utf16"

	"go.stencil.dev/atom"
	"go.stencil.dev/scope"
	"go.stencil.dev/stencil"
)

// Minimum encoded sizes of vector elements, for CodeLength.
const (
	minBindingSize     = 5  // atom index, flags
	minScopeSize       = 6  // flags, kind, first frame slot
	minRegExpSize      = 5  // atom index, flags
	minBigIntSize      = 8  // length
	minObjLiteralSize  = 9  // flags, code length, atom count
	minScriptSize      = 37 // flags, fields, extent
	minModuleEntrySize = 24 // position, four atoms
)

// Bits of the flags byte of a scope record.
const (
	scopeHasEnclosing = 1 << iota
	scopeHasEnvironment
	scopeIsArrow
)

// Bits of the flags byte of a script record.
const (
	scriptHasMemberInitializers = 1 << iota
	scriptHasSharedData
	scriptHasFunctionAtom
	scriptHasScopeIndex
	scriptIsStandaloneFunction
	scriptWasFunctionEmitted
	scriptIsSingletonFunction
	scriptAllowRelazify
)

func (s *State) codeUint32s(ps ...*uint32) error {
	for _, p := range ps {
		if err := s.CodeUint32(p); err != nil {
			return err
		}
	}
	return nil
}

// checkBounds reports a decode error unless bounds are non-decreasing
// and no greater than n.
func (s *State) checkBounds(k scope.Kind, n uint32, bounds ...uint32) error {
	if s.mode == Encode {
		return nil
	}
	prev := uint32(0)
	for _, b := range append(bounds, n) {
		if b < prev {
			return s.fail(ErrBadDecode, "%s scope: range boundaries %v not monotonic in [0, %d]", k, bounds, n)
		}
		prev = b
	}
	return nil
}

// codeBindings codes a binding-name vector: a uint32 length followed by
// an (atom index, flags) pair per binding. A nil name is coded as NoAtom.
func (s *State) codeBindings(p *[]scope.BindingName) error {
	n := uint32(len(*p))
	if err := s.CodeLength(&n, minBindingSize); err != nil {
		return err
	}
	if s.mode == Decode {
		*p = nil
		if n > 0 {
			*p = make([]scope.BindingName, n)
		}
	}
	for i := range *p {
		b := &(*p)[i]
		name, flags := b.Name, b.Flags()
		if err := s.CodeNullableAtom(&name); err != nil {
			return err
		}
		if err := s.CodeUint8(&flags); err != nil {
			return err
		}
		if s.mode == Decode {
			*b = scope.BindingNameFromFlags(name, flags)
			if b.Flags() != flags {
				return s.fail(ErrBadDecode, "invalid binding flags %#x", flags)
			}
		}
	}
	return nil
}

// codeScopeData codes the bindings and range boundaries of the
// kind-specific data *p. The field set depends only on k, which both
// sides know, so no type tag is written.
func (s *State) codeScopeData(k scope.Kind, p *scope.Data) error {
	if s.mode == Encode {
		if err := scope.CheckKind(k, *p); err != nil {
			return s.fail(ErrFailure, "%v", err)
		}
	}
	if k == scope.With {
		*p = nil
		return nil
	}

	var names []scope.BindingName
	if s.mode == Encode {
		names = (*p).Names()
	}
	if err := s.codeBindings(&names); err != nil {
		return err
	}
	n := uint32(len(names))

	switch {
	case k == scope.Function:
		d, _ := (*p).(*scope.FunctionData)
		if d == nil {
			d = &scope.FunctionData{Bindings: names}
		}
		npfs, vs := uint32(d.NonPositionalFormalStart), uint32(d.VarStart)
		if err := s.CodeUint32(&d.NextFrameSlot); err != nil {
			return err
		}
		if err := s.CodeBool32(&d.HasParameterExprs); err != nil {
			return err
		}
		if err := s.codeUint32s(&npfs, &vs); err != nil {
			return err
		}
		if err := s.checkBounds(k, n, npfs, vs); err != nil {
			return err
		}
		if n > 1<<16-1 {
			return s.fail(ErrBadDecode, "function scope has %d bindings", n)
		}
		d.NonPositionalFormalStart, d.VarStart = uint16(npfs), uint16(vs)
		*p = d

	case k == scope.FunctionBodyVar:
		d, _ := (*p).(*scope.VarData)
		if d == nil {
			d = &scope.VarData{Bindings: names}
		}
		if err := s.CodeUint32(&d.NextFrameSlot); err != nil {
			return err
		}
		*p = d

	case k.IsLexical():
		d, _ := (*p).(*scope.LexicalData)
		if d == nil {
			d = &scope.LexicalData{Bindings: names}
		}
		if err := s.codeUint32s(&d.NextFrameSlot, &d.ConstStart); err != nil {
			return err
		}
		if err := s.checkBounds(k, n, d.ConstStart); err != nil {
			return err
		}
		*p = d

	case k.IsEval():
		d, _ := (*p).(*scope.EvalData)
		if d == nil {
			d = &scope.EvalData{Bindings: names}
		}
		if err := s.CodeUint32(&d.NextFrameSlot); err != nil {
			return err
		}
		*p = d

	case k.IsGlobal():
		d, _ := (*p).(*scope.GlobalData)
		if d == nil {
			d = &scope.GlobalData{Bindings: names}
		}
		if err := s.codeUint32s(&d.LetStart, &d.ConstStart); err != nil {
			return err
		}
		if err := s.checkBounds(k, n, d.LetStart, d.ConstStart); err != nil {
			return err
		}
		*p = d

	case k == scope.Module:
		d, _ := (*p).(*scope.ModuleData)
		if d == nil {
			d = &scope.ModuleData{Bindings: names}
		}
		if err := s.codeUint32s(&d.NextFrameSlot, &d.VarStart, &d.LetStart, &d.ConstStart); err != nil {
			return err
		}
		if err := s.checkBounds(k, n, d.VarStart, d.LetStart, d.ConstStart); err != nil {
			return err
		}
		*p = d

	case k == scope.WasmInstance:
		d, _ := (*p).(*scope.WasmInstanceData)
		if d == nil {
			d = &scope.WasmInstanceData{Bindings: names}
		}
		if err := s.codeUint32s(&d.NextFrameSlot, &d.GlobalsStart); err != nil {
			return err
		}
		if err := s.checkBounds(k, n, d.GlobalsStart); err != nil {
			return err
		}
		*p = d

	case k == scope.WasmFunction:
		d, _ := (*p).(*scope.WasmFunctionData)
		if d == nil {
			d = &scope.WasmFunctionData{Bindings: names}
		}
		if err := s.CodeUint32(&d.NextFrameSlot); err != nil {
			return err
		}
		*p = d

	default:
		return s.fail(ErrBadDecode, "invalid scope kind %d", k)
	}
	return nil
}

// codeScope codes the scope stencil at index i of cs.
func (s *State) codeScope(cs *stencil.CompilationStencil, i int) error {
	st := &cs.Scopes[i]
	var flags, kind uint8
	if s.mode == Encode {
		kind = uint8(st.Kind)
		if st.Enclosing != stencil.NoScope {
			flags |= scopeHasEnclosing
		}
		if st.HasEnvironment {
			flags |= scopeHasEnvironment
		}
		if st.IsArrow {
			flags |= scopeIsArrow
		}
	}
	if err := s.CodeUint8(&flags); err != nil {
		return err
	}
	if err := s.CodeUint8(&kind); err != nil {
		return err
	}
	if err := s.CodeUint32(&st.FirstFrameSlot); err != nil {
		return err
	}
	if s.mode == Decode {
		if flags&^(scopeHasEnclosing|scopeHasEnvironment|scopeIsArrow) != 0 {
			return s.fail(ErrBadDecode, "invalid scope flags %#x", flags)
		}
		st.Kind = scope.Kind(kind)
		if !st.Kind.Valid() {
			return s.fail(ErrBadDecode, "invalid scope kind %d", kind)
		}
		st.Enclosing = stencil.NoScope
		st.FunctionIndex = stencil.NoScript
		st.HasEnvironment = flags&scopeHasEnvironment != 0
		st.IsArrow = flags&scopeIsArrow != 0
	}

	if flags&scopeHasEnclosing != 0 {
		enc := uint32(st.Enclosing)
		if err := s.CodeUint32(&enc); err != nil {
			return err
		}
		if s.mode == Decode && int64(enc) >= int64(i) {
			return s.fail(ErrBadDecode, "scope %d: enclosing scope %d does not precede it", i, enc)
		}
		st.Enclosing = stencil.ScopeIndex(enc)
	}
	if flags&scopeHasEnvironment != 0 {
		if err := s.CodeUint32(&st.NumEnvironmentSlots); err != nil {
			return err
		}
	}
	if st.Kind == scope.Function {
		fi := uint32(st.FunctionIndex)
		if err := s.CodeUint32(&fi); err != nil {
			return err
		}
		st.FunctionIndex = stencil.ScriptIndex(fi)
	}
	return s.codeScopeData(st.Kind, &st.Data)
}

func (s *State) codeRegExp(re *stencil.RegExpStencil) error {
	if err := s.CodeAtom(&re.Pattern); err != nil {
		return err
	}
	return s.CodeUint8(&re.Flags)
}

// codeBigInt codes the digits of a BigInt as a uint64 count of UTF-16
// code units followed by the units.
func (s *State) codeBigInt(b *stencil.BigIntStencil) error {
	var units []uint16
	if s.mode == Encode {
		units = utf16.Encode([]rune(b.Digits))
	}
	n := uint64(len(units))
	if err := s.CodeLength64(&n, 2); err != nil {
		return err
	}
	return s.codeUTF16Chars(&b.Digits, units, int(n))
}

func (s *State) codeObjLiteral(obj *stencil.ObjLiteralStencil) error {
	if err := s.CodeUint8(&obj.Flags); err != nil {
		return err
	}
	if err := s.CodeBuffer(&obj.Code); err != nil {
		return err
	}
	n := uint32(len(obj.Atoms))
	if err := s.CodeLength(&n, 4); err != nil {
		return err
	}
	if s.mode == Decode {
		obj.Atoms = nil
		if n > 0 {
			obj.Atoms = make([]*atom.Atom, n)
		}
	}
	for i := range obj.Atoms {
		if err := s.CodeAtom(&obj.Atoms[i]); err != nil {
			return err
		}
	}
	return nil
}

// codeGCThing codes one tagged index of a script. Atom references are
// coded through the atom coder; all other indices are checked against
// the lengths of the vectors they refer to.
func (s *State) codeGCThing(cs *stencil.CompilationStencil, t *stencil.TaggedIndex) error {
	var v uint32
	if s.mode == Encode {
		tt := *t
		if tt.Kind == stencil.AtomThing {
			a := cs.Atoms.At(tt.Index)
			if a == nil {
				return s.fail(ErrFailure, "undefined atom %d", tt.Index)
			}
			i, err := s.atoms.index(s, a)
			if err != nil {
				return err
			}
			tt.Index = i
		}
		v = tt.Pack()
	}
	if err := s.CodeUint32(&v); err != nil {
		return err
	}
	if s.mode == Encode {
		return nil
	}
	tt, err := stencil.UnpackTaggedIndex(v)
	if err != nil {
		return s.fail(ErrBadDecode, "%v", err)
	}
	var limit int
	switch tt.Kind {
	case stencil.NullThing, stencil.EmptyGlobalScopeThing:
		tt.Index = 0
		*t = tt
		return nil
	case stencil.AtomThing:
		a, err := s.atoms.atom(s, tt.Index)
		if err != nil {
			return err
		}
		tt.Index = a.Index()
		*t = tt
		return nil
	case stencil.ScopeThing:
		limit = len(cs.Scopes)
	case stencil.FunctionThing:
		limit = len(cs.Scripts)
	case stencil.RegExpThing:
		limit = len(cs.RegExps)
	case stencil.BigIntThing:
		limit = len(cs.BigInts)
	case stencil.ObjLiteralThing:
		limit = len(cs.ObjLiterals)
	}
	if int64(tt.Index) >= int64(limit) {
		return s.fail(ErrBadDecode, "%s out of range [0:%d]", tt, limit)
	}
	*t = tt
	return nil
}

// checkCompileOptions reports whether the flags of a decoded top-level
// script agree with the options the decoder was opened with.
func (s *State) checkCompileOptions(flags stencil.ImmutableFlags) error {
	if flags.Has(stencil.IsModule) != s.Options.Module {
		return s.fail(ErrWrongCompileOption, "module flag is %t, options have %t", flags.Has(stencil.IsModule), s.Options.Module)
	}
	if s.Options.Strict && !flags.Has(stencil.Strict) {
		return s.fail(ErrWrongCompileOption, "script is not strict, options force strict mode")
	}
	return nil
}

// codeScript codes the script stencil at index i of cs.
func (s *State) codeScript(cs *stencil.CompilationStencil, i int) error {
	sc := &cs.Scripts[i]
	var flags uint8
	if s.mode == Encode {
		for _, f := range []struct {
			set bool
			bit uint8
		}{
			{sc.HasMemberInitializers, scriptHasMemberInitializers},
			{sc.SharedData != nil, scriptHasSharedData},
			{sc.FunctionAtom != nil, scriptHasFunctionAtom},
			{sc.LazyFunctionEnclosingScopeIndex != stencil.NoScope, scriptHasScopeIndex},
			{sc.IsStandaloneFunction, scriptIsStandaloneFunction},
			{sc.WasFunctionEmitted, scriptWasFunctionEmitted},
			{sc.IsSingletonFunction, scriptIsSingletonFunction},
			{sc.AllowRelazify, scriptAllowRelazify},
		} {
			if f.set {
				flags |= f.bit
			}
		}
	}
	if err := s.CodeUint8(&flags); err != nil {
		return err
	}

	immutable := uint32(sc.ImmutableFlags)
	if err := s.CodeUint32(&immutable); err != nil {
		return err
	}
	sc.ImmutableFlags = stencil.ImmutableFlags(immutable)
	if s.mode == Decode && i == int(stencil.TopLevelIndex) && !sc.IsFunction() {
		if err := s.checkCompileOptions(sc.ImmutableFlags); err != nil {
			return err
		}
	}

	if flags&scriptHasMemberInitializers != 0 {
		if err := s.CodeUint32(&sc.NumMemberInitializers); err != nil {
			return err
		}
	}
	nthings := uint32(len(sc.GCThings))
	if err := s.CodeLength(&nthings, 4); err != nil {
		return err
	}
	funcFlags := uint16(sc.FunctionFlags)
	if err := s.CodeUint16(&funcFlags); err != nil {
		return err
	}
	if err := s.CodeUint16(&sc.Nargs); err != nil {
		return err
	}
	if s.mode == Decode {
		sc.FunctionFlags = stencil.FunctionFlags(funcFlags)
		sc.HasMemberInitializers = flags&scriptHasMemberInitializers != 0
		sc.IsStandaloneFunction = flags&scriptIsStandaloneFunction != 0
		sc.WasFunctionEmitted = flags&scriptWasFunctionEmitted != 0
		sc.IsSingletonFunction = flags&scriptIsSingletonFunction != 0
		sc.AllowRelazify = flags&scriptAllowRelazify != 0
		sc.LazyFunctionEnclosingScopeIndex = stencil.NoScope
	}
	if flags&scriptHasScopeIndex != 0 {
		si := uint32(sc.LazyFunctionEnclosingScopeIndex)
		if err := s.CodeUint32(&si); err != nil {
			return err
		}
		if s.mode == Decode && int64(si) >= int64(len(cs.Scopes)) {
			return s.fail(ErrBadDecode, "script %d: enclosing scope %d out of range [0:%d]", i, si, len(cs.Scopes))
		}
		sc.LazyFunctionEnclosingScopeIndex = stencil.ScopeIndex(si)
	}

	e := &sc.Extent
	if err := s.codeUint32s(&e.SourceStart, &e.SourceEnd, &e.ToStringStart, &e.ToStringEnd, &e.Lineno, &e.Column); err != nil {
		return err
	}
	if s.mode == Decode && (e.SourceStart > e.SourceEnd || e.ToStringStart > e.ToStringEnd) {
		return s.fail(ErrBadDecode, "script %d: invalid extent %s", i, e)
	}

	if s.mode == Decode {
		sc.GCThings = nil
		if nthings > 0 {
			sc.GCThings = make([]stencil.TaggedIndex, nthings)
		}
	}
	for j := range sc.GCThings {
		if err := s.codeGCThing(cs, &sc.GCThings[j]); err != nil {
			return err
		}
	}

	if flags&scriptHasSharedData != 0 {
		if err := s.CodeBuffer(&sc.SharedData); err != nil {
			return err
		}
	}
	if flags&scriptHasFunctionAtom != 0 {
		if err := s.CodeAtom(&sc.FunctionAtom); err != nil {
			return err
		}
	}
	return nil
}

func (s *State) codeModuleEntries(p *[]stencil.ModuleEntry) error {
	n := uint64(len(*p))
	if err := s.CodeLength64(&n, minModuleEntrySize); err != nil {
		return err
	}
	if s.mode == Decode {
		*p = nil
		if n > 0 {
			*p = make([]stencil.ModuleEntry, n)
		}
	}
	for i := range *p {
		e := &(*p)[i]
		if err := s.codeUint32s(&e.Lineno, &e.Column); err != nil {
			return err
		}
		for _, a := range []**atom.Atom{&e.Specifier, &e.LocalName, &e.ImportName, &e.ExportName} {
			if err := s.CodeNullableAtom(a); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *State) codeModuleMetadata(m *stencil.ModuleMetadata) error {
	for _, p := range []*[]stencil.ModuleEntry{
		&m.RequestedModules,
		&m.ImportEntries,
		&m.LocalExportEntries,
		&m.IndirectExportEntries,
		&m.StarExportEntries,
	} {
		if err := s.codeModuleEntries(p); err != nil {
			return err
		}
	}
	n := uint64(len(m.FunctionDecls))
	if err := s.CodeLength64(&n, 4); err != nil {
		return err
	}
	if s.mode == Decode {
		m.FunctionDecls = nil
		if n > 0 {
			m.FunctionDecls = make([]uint32, n)
		}
	}
	for i := range m.FunctionDecls {
		if err := s.CodeUint32(&m.FunctionDecls[i]); err != nil {
			return err
		}
	}
	return s.CodeBool(&m.IsAsync)
}

// codeVector codes the length of a stencil vector and, when decoding,
// allocates it.
func codeVector[T any](s *State, p *[]T, minSize int) error {
	n := uint32(len(*p))
	if err := s.CodeLength(&n, minSize); err != nil {
		return err
	}
	if s.mode == Decode {
		*p = nil
		if n > 0 {
			*p = make([]T, n)
		}
	}
	return nil
}

// codeCompilationStencil codes the vectors of cs in dependency order:
// every vector a script refers to precedes the scripts. The atoms of cs
// are resolved in cs.Atoms, which must already hold the atom table
// when decoding in the chunked format.
func (s *State) codeCompilationStencil(cs *stencil.CompilationStencil) error {
	if s.mode == Encode && cs.AsmJS {
		return s.fail(ErrAsmJSNotSupported, "stencil contains asm.js")
	}
	prev := s.tab
	s.tab = cs.Atoms
	defer func() { s.tab = prev }()

	if err := codeVector(s, &cs.Scopes, minScopeSize); err != nil {
		return err
	}
	for i := range cs.Scopes {
		if err := s.codeScope(cs, i); err != nil {
			return err
		}
	}
	if err := codeVector(s, &cs.RegExps, minRegExpSize); err != nil {
		return err
	}
	for i := range cs.RegExps {
		if err := s.codeRegExp(&cs.RegExps[i]); err != nil {
			return err
		}
	}
	if err := codeVector(s, &cs.BigInts, minBigIntSize); err != nil {
		return err
	}
	for i := range cs.BigInts {
		if err := s.codeBigInt(&cs.BigInts[i]); err != nil {
			return err
		}
	}
	if err := codeVector(s, &cs.ObjLiterals, minObjLiteralSize); err != nil {
		return err
	}
	for i := range cs.ObjLiterals {
		if err := s.codeObjLiteral(&cs.ObjLiterals[i]); err != nil {
			return err
		}
	}

	if s.mode == Encode && len(cs.Scripts) == 0 {
		return s.fail(ErrFailure, "stencil has no top-level script")
	}
	if err := codeVector(s, &cs.Scripts, minScriptSize); err != nil {
		return err
	}
	if len(cs.Scripts) == 0 {
		return s.fail(ErrBadDecode, "stencil has no top-level script")
	}
	for i := range cs.Scripts {
		if err := s.codeScript(cs, i); err != nil {
			return err
		}
	}

	if cs.TopLevel().IsModule() {
		m := cs.ModuleMetadata
		if m == nil {
			m = new(stencil.ModuleMetadata)
		}
		if err := s.codeModuleMetadata(m); err != nil {
			return err
		}
		cs.ModuleMetadata = m
	} else if s.mode == Decode {
		cs.ModuleMetadata = nil
	}

	if s.mode == Decode {
		for i := range cs.Scopes {
			st := &cs.Scopes[i]
			if st.Kind == scope.Function && int64(st.FunctionIndex) >= int64(len(cs.Scripts)) {
				return s.fail(ErrBadDecode, "scope %d: function %d out of range [0:%d]", i, st.FunctionIndex, len(cs.Scripts))
			}
			if want, ok := cs.WantFirstFrameSlot(stencil.ScopeIndex(i)); ok && st.FirstFrameSlot != want {
				return s.fail(ErrBadDecode, "scope %d: first frame slot %d, enclosing scopes end at %d", i, st.FirstFrameSlot, want)
			}
		}
	}
	return nil
}

// codeCompilationInput codes the options and source of a unit.
func (s *State) codeCompilationInput(in *stencil.CompilationInput) error {
	if s.mode == Encode && in.Options.Instrumented {
		return s.fail(ErrFailure, "instrumented scripts cannot be transcoded")
	}
	o := &in.Options
	if err := s.CodeCharsZ(&o.Filename); err != nil {
		return err
	}
	if err := s.codeUint32s(&o.Lineno, &o.Column); err != nil {
		return err
	}
	var opts uint8
	for i, b := range []bool{o.Strict, o.Module, o.ForceFullParse} {
		if b {
			opts |= 1 << i
		}
	}
	if err := s.CodeUint8(&opts); err != nil {
		return err
	}
	if s.mode == Decode {
		if opts&^7 != 0 {
			return s.fail(ErrBadDecode, "invalid compile options %#x", opts)
		}
		o.Strict = opts&1 != 0
		o.Module = opts&2 != 0
		o.ForceFullParse = opts&4 != 0
	}

	hasSource := in.Source != nil
	if err := s.CodeBool(&hasSource); err != nil {
		return err
	}
	if !hasSource {
		in.Source = nil
		return nil
	}
	src := in.Source
	if s.mode == Decode {
		src = new(stencil.ScriptSource)
	}
	if err := s.CodeCharsZ(&src.Filename); err != nil {
		return err
	}
	if err := s.CodeString(&src.Text); err != nil {
		return err
	}
	if err := s.CodeUTF8(&src.SourceMapURL); err != nil {
		return err
	}
	in.Source = src
	return nil
}
