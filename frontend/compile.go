// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frontend

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"go.stencil.dev/atom"
	"go.stencil.dev/scope"
	"go.stencil.dev/stencil"
)

// DefaultStackQuota is the scope nesting depth allowed when
// Options.StackQuota is zero.
const DefaultStackQuota = 1000

// Options control compilation.
type Options struct {
	// StackQuota bounds the nesting depth of the unit's scopes.
	// Negative means unbounded.
	StackQuota int
}

func (opts Options) quota() int {
	if opts.StackQuota == 0 {
		return DefaultStackQuota
	}
	return opts.StackQuota
}

var kinds = map[string]scope.Kind{
	"function":          scope.Function,
	"functionBodyVar":   scope.FunctionBodyVar,
	"lexical":           scope.Lexical,
	"simpleCatch":       scope.SimpleCatch,
	"catch":             scope.Catch,
	"namedLambda":       scope.NamedLambda,
	"strictNamedLambda": scope.StrictNamedLambda,
	"functionLexical":   scope.FunctionLexical,
	"classBody":         scope.ClassBody,
	"with":              scope.With,
	"eval":              scope.Eval,
	"strictEval":        scope.StrictEval,
	"global":            scope.Global,
	"nonSyntactic":      scope.NonSyntactic,
	"module":            scope.Module,
}

var immutableFlags = map[string]stencil.ImmutableFlags{
	"forEval":                 stencil.IsForEval,
	"module":                  stencil.IsModule,
	"function":                stencil.IsFunction,
	"strict":                  stencil.Strict,
	"nonSyntacticScope":       stencil.HasNonSyntacticScope,
	"noScriptRval":            stencil.NoScriptRval,
	"selfHosted":              stencil.SelfHosted,
	"runOnce":                 stencil.TreatAsRunOnce,
	"moduleGoal":              stencil.HasModuleGoal,
	"generator":               stencil.IsGenerator,
	"async":                   stencil.IsAsync,
	"rest":                    stencil.HasRest,
	"argumentsHasVarBinding":  stencil.ArgumentsHasVarBinding,
	"mappedArgsObj":           stencil.HasMappedArgsObj,
	"extraBodyVarScope":       stencil.FunctionHasExtraBodyVarScope,
	"thisBinding":             stencil.FunctionHasThisBinding,
	"homeObject":              stencil.NeedsHomeObject,
	"derivedClassConstructor": stencil.IsDerivedClassConstructor,
	"directEval":              stencil.HasDirectEval,
}

var functionFlags = map[string]stencil.FunctionFlags{
	"interpreted": stencil.FunctionInterpreted,
	"lazy":        stencil.FunctionLazy,
	"lambda":      stencil.FunctionLambda,
	"arrow":       stencil.FunctionArrow,
	"constructor": stencil.FunctionConstructor,
	"getter":      stencil.FunctionGetter,
	"setter":      stencil.FunctionSetter,
	"asmjs":       stencil.FunctionAsmJS,
}

var thingKinds = map[string]stencil.GCThingKind{
	"atom":       stencil.AtomThing,
	"scope":      stencil.ScopeThing,
	"function":   stencil.FunctionThing,
	"regexp":     stencil.RegExpThing,
	"bigint":     stencil.BigIntThing,
	"objliteral": stencil.ObjLiteralThing,
}

// A compiler holds the state of one unit's compilation.
type compiler struct {
	ctx   context.Context
	unit  *Unit
	quota int
	cs    *stencil.CompilationStencil
	depth []int // nesting depth by scope index
}

func (c *compiler) errorf(line int, format string, args ...interface{}) error {
	return Error{File: c.unit.file, Ln: line, Msg: fmt.Sprintf(format, args...)}
}

// Input returns the compilation input described by u.
func (u *Unit) Input() stencil.CompilationInput {
	return stencil.CompilationInput{
		Options: stencil.CompileOptions{
			Filename:       u.Filename,
			Lineno:         1,
			Strict:         u.Strict,
			Module:         u.Module,
			ForceFullParse: u.ForceFullParse,
		},
		Source: &stencil.ScriptSource{Filename: u.Filename, Text: u.Source, SourceMapURL: u.SourceMapURL},
	}
}

// Compile compiles the scopes and scripts of unit to a stencil.
//
// The bindings of each scope must already be sorted into their
// sub-ranges. Compile checks that the descriptor is internally
// consistent and that its scopes nest no deeper than the stack quota.
// It stops early if ctx is cancelled.
func Compile(ctx context.Context, unit *Unit, opts Options) (*stencil.CompilationStencil, error) {
	c := &compiler{ctx: ctx, unit: unit, quota: opts.quota(), cs: stencil.New()}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c.cs, nil
}

// CompileAll compiles unit and each of its delazifications.
func CompileAll(ctx context.Context, unit *Unit, opts Options) (*stencil.CompilationInfoVector, error) {
	cs, err := Compile(ctx, unit, opts)
	if err != nil {
		return nil, err
	}
	v := &stencil.CompilationInfoVector{
		Initial: stencil.CompilationInfo{Input: unit.Input(), Stencil: cs},
	}
	lazy := make(map[uint64]bool)
	for _, i := range cs.LazyFunctions() {
		lazy[cs.Scripts[i].Extent.Key()] = true
	}
	for _, d := range unit.Delazifications {
		if d.Filename == "" {
			d.Filename = unit.Filename
		}
		dcs, err := Compile(ctx, d, opts)
		if err != nil {
			return nil, err
		}
		top := dcs.TopLevel()
		if top == nil || !top.IsFunction() {
			return nil, Error{File: d.file, Ln: d.line, Msg: "delazification is not a function"}
		}
		key := top.Extent.Key()
		if !lazy[key] {
			return nil, Error{File: d.file, Ln: d.line, Msg: fmt.Sprintf("no lazy function at %s", top.Extent)}
		}
		delete(lazy, key)
		v.Delazifications = append(v.Delazifications, dcs)
	}
	return v, nil
}

func (c *compiler) compile() error {
	u := c.unit
	if len(u.Scripts) == 0 {
		return c.errorf(u.line, "unit has no scripts")
	}
	for i := range u.Scopes {
		if err := c.ctx.Err(); err != nil {
			return err
		}
		if err := c.scope(i, &u.Scopes[i]); err != nil {
			return err
		}
	}
	for _, r := range u.RegExps {
		c.cs.RegExps = append(c.cs.RegExps, stencil.RegExpStencil{Pattern: c.cs.Atoms.Intern(r.Pattern), Flags: r.Flags})
	}
	for _, b := range u.BigInts {
		c.cs.BigInts = append(c.cs.BigInts, stencil.BigIntStencil{Digits: b})
	}
	for _, o := range u.ObjLiterals {
		code, err := hex.DecodeString(o.Code)
		if err != nil {
			return c.errorf(u.line, "object literal code: %v", err)
		}
		lit := stencil.ObjLiteralStencil{Flags: o.Flags, Code: code}
		for _, name := range o.Atoms {
			lit.Atoms = append(lit.Atoms, c.cs.Atoms.Intern(name))
		}
		c.cs.ObjLiterals = append(c.cs.ObjLiterals, lit)
	}
	for i := range u.Scripts {
		if err := c.script(i, &u.Scripts[i]); err != nil {
			return err
		}
	}
	if err := c.checkFunctions(); err != nil {
		return err
	}
	if m := u.ModuleMetadata; m != nil {
		if !c.cs.TopLevel().IsModule() {
			return c.errorf(u.line, "module metadata for a non-module script")
		}
		c.cs.ModuleMetadata = c.module(m)
	}
	c.cs.MarkAtomsUsed()
	return nil
}

func (c *compiler) bindings(descs []BindingDesc) []scope.BindingName {
	if len(descs) == 0 {
		return nil
	}
	names := make([]scope.BindingName, len(descs))
	for i, b := range descs {
		var name *atom.Atom
		if b.Name != "" {
			name = c.cs.Atoms.Intern(b.Name)
		}
		names[i] = scope.NewBindingName(name, b.Closed, b.TopLevelFunction)
	}
	return names
}

// checkBounds reports an error unless bounds are non-decreasing and at
// most the binding count n.
func (c *compiler) checkBounds(d *ScopeDesc, n int, names []string, bounds ...uint32) error {
	prev := uint32(0)
	for i, b := range bounds {
		if b < prev || b > uint32(n) {
			return c.errorf(d.line, "%s %d out of range [%d, %d]", names[i], b, prev, n)
		}
		prev = b
	}
	return nil
}

func (c *compiler) scope(i int, d *ScopeDesc) error {
	k, ok := kinds[d.Kind]
	if !ok {
		return c.errorf(d.line, "unknown scope kind %q", d.Kind)
	}
	enclosing := stencil.NoScope
	depth := 1
	if d.Enclosing != nil {
		e := *d.Enclosing
		if e < 0 || e >= i {
			return c.errorf(d.line, "enclosing scope %d does not precede scope %d", e, i)
		}
		if k.IsGlobal() {
			return c.errorf(d.line, "%s scope cannot have an enclosing scope", k)
		}
		enclosing = stencil.ScopeIndex(e)
		depth = c.depth[e] + 1
	}
	if c.quota > 0 && depth > c.quota {
		return c.errorf(d.line, "too much recursion: scope nesting exceeds %d", c.quota)
	}
	c.depth = append(c.depth, depth)

	if k == scope.With && len(d.Bindings) > 0 {
		return c.errorf(d.line, "with scope cannot have bindings")
	}
	if (k == scope.Function) != (d.Function != nil) {
		if k == scope.Function {
			return c.errorf(d.line, "function scope without function index")
		}
		return c.errorf(d.line, "%s scope cannot have a function index", k)
	}
	if d.NeedsEnvironment && k != scope.Function && k != scope.FunctionBodyVar {
		return c.errorf(d.line, "%s scope cannot request an environment", k)
	}

	names := c.bindings(d.Bindings)
	n := len(names)
	switch {
	case k == scope.Function:
		err := c.checkBounds(d, n, []string{"nonPositionalFormalStart", "varStart"}, uint32(d.NonPositionalFormalStart), d.VarStart)
		if err != nil {
			return err
		}
		if d.HasParameterExprs && int(d.VarStart) != n {
			return c.errorf(d.line, "function with parameter expressions cannot have vars")
		}
		data := scope.NewFunctionData(names, d.HasParameterExprs, d.NonPositionalFormalStart, uint16(d.VarStart), nil)
		c.cs.CreateForFunctionScope(data, d.NeedsEnvironment, stencil.ScriptIndex(*d.Function), d.Arrow, enclosing)
	case k == scope.FunctionBodyVar:
		if d.Enclosing == nil || c.cs.Scopes[enclosing].Kind != scope.Function {
			return c.errorf(d.line, "function body var scope must be enclosed by a function scope")
		}
		c.cs.CreateForVarScope(scope.NewVarData(names), d.NeedsEnvironment, enclosing)
	case k.IsLexical():
		if err := c.checkBounds(d, n, []string{"constStart"}, d.ConstStart); err != nil {
			return err
		}
		if k.IsNamedLambda() && n != 1 {
			return c.errorf(d.line, "%s scope must bind exactly the callee", k)
		}
		c.cs.CreateForLexicalScope(k, scope.NewLexicalData(names, d.ConstStart), enclosing)
	case k == scope.With:
		c.cs.CreateForWithScope(enclosing)
	case k.IsEval():
		c.cs.CreateForEvalScope(k, scope.NewEvalData(names), enclosing)
	case k.IsGlobal():
		if err := c.checkBounds(d, n, []string{"letStart", "constStart"}, d.LetStart, d.ConstStart); err != nil {
			return err
		}
		c.cs.CreateForGlobalScope(k, scope.NewGlobalData(names, d.LetStart, d.ConstStart))
	case k == scope.Module:
		err := c.checkBounds(d, n, []string{"varStart", "letStart", "constStart"}, d.VarStart, d.LetStart, d.ConstStart)
		if err != nil {
			return err
		}
		c.cs.CreateForModuleScope(scope.NewModuleData(names, d.VarStart, d.LetStart, d.ConstStart, nil), enclosing)
	}
	return nil
}

func (c *compiler) script(i int, d *ScriptDesc) error {
	s := stencil.ScriptStencil{
		Extent: stencil.SourceExtent{
			SourceStart:   d.Extent.Start,
			SourceEnd:     d.Extent.End,
			ToStringStart: d.Extent.ToStringStart,
			ToStringEnd:   d.Extent.ToStringEnd,
			Lineno:        d.Extent.Line,
			Column:        d.Extent.Column,
		},
		Nargs:                           d.Nargs,
		LazyFunctionEnclosingScopeIndex: stencil.NoScope,
		IsStandaloneFunction:            d.Standalone,
		WasFunctionEmitted:              d.Emitted,
		IsSingletonFunction:             d.Singleton,
		AllowRelazify:                   d.Relazify,
	}
	if s.Extent.ToStringStart == 0 && s.Extent.ToStringEnd == 0 {
		s.Extent.ToStringStart, s.Extent.ToStringEnd = s.Extent.SourceStart, s.Extent.SourceEnd
	}
	if s.Extent.SourceEnd < s.Extent.SourceStart || int(s.Extent.SourceEnd) > len(c.unit.Source) && c.unit.Source != "" {
		return c.errorf(d.line, "extent %s outside source of length %d", s.Extent, len(c.unit.Source))
	}
	for _, f := range d.Flags {
		flag, ok := immutableFlags[f]
		if !ok {
			return c.errorf(d.line, "unknown script flag %q", f)
		}
		s.ImmutableFlags |= flag
	}
	for _, f := range d.FunctionFlags {
		flag, ok := functionFlags[f]
		if !ok {
			return c.errorf(d.line, "unknown function flag %q", f)
		}
		s.FunctionFlags |= flag
	}
	if s.FunctionFlags.Has(stencil.FunctionAsmJS) {
		c.cs.AsmJS = true
	}
	if i == int(stencil.TopLevelIndex) && !s.IsFunction() {
		if s.ImmutableFlags.Has(stencil.Strict) && !c.unit.Strict || s.IsModule() && !c.unit.Module {
			return c.errorf(d.line, "top-level flags contradict the unit options")
		}
		if c.unit.Strict {
			s.ImmutableFlags |= stencil.Strict
		}
		if c.unit.Module {
			s.ImmutableFlags |= stencil.IsModule
		}
	} else if !s.IsFunction() {
		return c.errorf(d.line, "script %d is not a function", i)
	}
	if s.IsLazy() && c.unit.ForceFullParse {
		return c.errorf(d.line, "lazy function in a fully parsed unit")
	}
	if d.Name != "" {
		if !s.IsFunction() {
			return c.errorf(d.line, "top-level script cannot be named")
		}
		s.FunctionAtom = c.cs.Atoms.Intern(d.Name)
	}
	if d.EnclosingScope != nil {
		e := *d.EnclosingScope
		if !s.IsLazy() {
			return c.errorf(d.line, "enclosing scope of a non-lazy script")
		}
		if e < 0 || e >= len(c.cs.Scopes) {
			return c.errorf(d.line, "enclosing scope %d out of range", e)
		}
		s.LazyFunctionEnclosingScopeIndex = stencil.ScopeIndex(e)
	}
	if d.Code != "" {
		if s.IsLazy() {
			return c.errorf(d.line, "lazy function cannot have code")
		}
		code, err := hex.DecodeString(strings.Join(strings.Fields(d.Code), ""))
		if err != nil {
			return c.errorf(d.line, "code: %v", err)
		}
		s.SharedData = code
	}
	if d.MemberInitializers != nil {
		s.HasMemberInitializers = true
		s.NumMemberInitializers = *d.MemberInitializers
	}
	for _, spec := range d.Things {
		t, err := c.thing(spec)
		if err != nil {
			return c.errorf(d.line, "%v", err)
		}
		s.GCThings = append(s.GCThings, t)
	}
	c.cs.AddScript(s)
	return nil
}

// thing parses a gc thing reference: "null", "empty global scope",
// "atom:name", or kind#index.
func (c *compiler) thing(spec string) (stencil.TaggedIndex, error) {
	switch spec {
	case "null":
		return stencil.TaggedIndex{Kind: stencil.NullThing}, nil
	case "empty global scope":
		return stencil.TaggedIndex{Kind: stencil.EmptyGlobalScopeThing}, nil
	}
	if name, ok := strings.CutPrefix(spec, "atom:"); ok {
		a := c.cs.Atoms.Intern(name)
		return stencil.TaggedIndex{Kind: stencil.AtomThing, Index: a.Index()}, nil
	}
	kind, index, ok := strings.Cut(spec, "#")
	k, known := thingKinds[kind]
	if !ok || !known {
		return stencil.TaggedIndex{}, fmt.Errorf("invalid gc thing %q", spec)
	}
	i, err := strconv.ParseUint(index, 10, 28)
	if err != nil {
		return stencil.TaggedIndex{}, fmt.Errorf("invalid gc thing %q", spec)
	}
	var n int
	switch k {
	case stencil.ScopeThing:
		n = len(c.cs.Scopes)
	case stencil.FunctionThing:
		n = len(c.unit.Scripts)
	case stencil.RegExpThing:
		n = len(c.cs.RegExps)
	case stencil.BigIntThing:
		n = len(c.cs.BigInts)
	case stencil.ObjLiteralThing:
		n = len(c.cs.ObjLiterals)
	}
	if int(i) >= n {
		return stencil.TaggedIndex{}, fmt.Errorf("%s out of range", spec)
	}
	return stencil.TaggedIndex{Kind: k, Index: uint32(i)}, nil
}

// checkFunctions checks the function indices of function scopes, which
// may refer to scripts that follow them.
func (c *compiler) checkFunctions() error {
	for i := range c.cs.Scopes {
		st := &c.cs.Scopes[i]
		if st.Kind != scope.Function {
			continue
		}
		line := c.unit.Scopes[i].line
		if int(st.FunctionIndex) >= len(c.cs.Scripts) {
			return c.errorf(line, "function %d out of range", st.FunctionIndex)
		}
		if !c.cs.Scripts[st.FunctionIndex].IsFunction() {
			return c.errorf(line, "function %d is not a function script", st.FunctionIndex)
		}
	}
	return nil
}

func (c *compiler) module(m *ModuleDesc) *stencil.ModuleMetadata {
	intern := func(s string) *atom.Atom {
		if s == "" {
			return nil
		}
		return c.cs.Atoms.Intern(s)
	}
	entries := func(descs []EntryDesc) []stencil.ModuleEntry {
		var res []stencil.ModuleEntry
		for _, e := range descs {
			res = append(res, stencil.ModuleEntry{
				Specifier:  intern(e.Specifier),
				LocalName:  intern(e.LocalName),
				ImportName: intern(e.ImportName),
				ExportName: intern(e.ExportName),
				Lineno:     e.Line,
				Column:     e.Column,
			})
		}
		return res
	}
	return &stencil.ModuleMetadata{
		RequestedModules:      entries(m.RequestedModules),
		ImportEntries:         entries(m.ImportEntries),
		LocalExportEntries:    entries(m.LocalExportEntries),
		IndirectExportEntries: entries(m.IndirectExportEntries),
		StarExportEntries:     entries(m.StarExportEntries),
		FunctionDecls:         m.FunctionDecls,
		IsAsync:               m.Async,
	}
}
