// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stencil defines the compiled-but-not-instantiated form of a
// compilation unit: its scope descriptors and script metadata, with every
// cross reference expressed as an index so the unit can be serialized.
//
// A CompilationStencil is produced by the front end, may be transcoded by
// package xdr, and is promoted to a permanent scope graph by
// InstantiateScopes.
package stencil // import "go.stencil.dev/stencil"

import (
	"fmt"

	"go.stencil.dev/atom"
	"go.stencil.dev/scope"
)

// A ScopeIndex is the position of a ScopeStencil in CompilationStencil.Scopes.
type ScopeIndex uint32

// A ScriptIndex is the position of a ScriptStencil in CompilationStencil.Scripts.
type ScriptIndex uint32

const (
	NoScope  = ^ScopeIndex(0)
	NoScript = ^ScriptIndex(0)

	// TopLevelIndex is the index of the top-level script of every stencil.
	// In a delazification stencil it is the delazified function.
	TopLevelIndex ScriptIndex = 0
)

// CompileOptions are the options a unit was compiled with. The strict
// and module options are checked against a decoded top-level script.
type CompileOptions struct {
	Filename       string
	Lineno         uint32
	Column         uint32
	Strict         bool // force strict mode
	Module         bool
	ForceFullParse bool // compile all inner functions eagerly
	Instrumented   bool // instrumented code cannot be transcoded
}

// A ScriptSource is the source text of a unit.
type ScriptSource struct {
	Filename     string
	Text         string
	SourceMapURL string
}

// A CompilationInput is what a unit was compiled from.
type CompilationInput struct {
	Options CompileOptions
	Source  *ScriptSource
}

// A SourceExtent locates a script within its source.
type SourceExtent struct {
	SourceStart   uint32
	SourceEnd     uint32
	ToStringStart uint32
	ToStringEnd   uint32
	Lineno        uint32
	Column        uint32
}

// Key returns the identity of the function at e within its source, the
// start offset in the high half and the end offset in the low half.
func (e SourceExtent) Key() uint64 {
	return uint64(e.SourceStart)<<32 | uint64(e.SourceEnd)
}

func (e SourceExtent) String() string {
	return fmt.Sprintf("[%d, %d) %d:%d", e.SourceStart, e.SourceEnd, e.Lineno, e.Column)
}

// ImmutableFlags are script properties fixed at compile time.
type ImmutableFlags uint32

const (
	IsForEval ImmutableFlags = 1 << iota
	IsModule
	IsFunction
	Strict
	HasNonSyntacticScope
	NoScriptRval
	SelfHosted
	TreatAsRunOnce
	HasModuleGoal
	IsGenerator
	IsAsync
	HasRest
	ArgumentsHasVarBinding
	HasMappedArgsObj
	FunctionHasExtraBodyVarScope
	FunctionHasThisBinding
	NeedsHomeObject
	IsDerivedClassConstructor
	HasDirectEval
)

func (f ImmutableFlags) Has(g ImmutableFlags) bool { return f&g == g }

// FunctionFlags describe the function object of a function script.
type FunctionFlags uint16

const (
	FunctionInterpreted FunctionFlags = 1 << iota // has compiled data
	FunctionLazy                                  // compiled lazily; data comes from a delazification
	FunctionLambda
	FunctionArrow
	FunctionConstructor
	FunctionGetter
	FunctionSetter
	FunctionAsmJS // asm.js module; cannot be transcoded
)

func (f FunctionFlags) Has(g FunctionFlags) bool { return f&g == g }

// A GCThingKind tags the referent of a TaggedIndex.
type GCThingKind uint8

const (
	NullThing GCThingKind = iota
	AtomThing
	ScopeThing
	FunctionThing
	RegExpThing
	BigIntThing
	ObjLiteralThing
	EmptyGlobalScopeThing
	numGCThingKinds
)

var gcThingKindNames = [...]string{
	NullThing:             "null",
	AtomThing:             "atom",
	ScopeThing:            "scope",
	FunctionThing:         "function",
	RegExpThing:           "regexp",
	BigIntThing:           "bigint",
	ObjLiteralThing:       "objliteral",
	EmptyGlobalScopeThing: "empty global scope",
}

func (k GCThingKind) String() string {
	if k < numGCThingKinds {
		return gcThingKindNames[k]
	}
	return fmt.Sprintf("<gcthing %d>", uint8(k))
}

// A TaggedIndex refers to one GC thing of a script: an atom, scope,
// function, regexp, bigint or object literal, by index into the
// corresponding vector of the stencil.
type TaggedIndex struct {
	Kind  GCThingKind
	Index uint32
}

const (
	tagShift = 28
	maxIndex = 1<<tagShift - 1
)

// Pack returns the 32-bit transcoded form of t.
func (t TaggedIndex) Pack() uint32 { return uint32(t.Kind)<<tagShift | t.Index&maxIndex }

// UnpackTaggedIndex is the inverse of Pack.
func UnpackTaggedIndex(v uint32) (TaggedIndex, error) {
	t := TaggedIndex{Kind: GCThingKind(v >> tagShift), Index: v & maxIndex}
	if t.Kind >= numGCThingKinds {
		return TaggedIndex{}, fmt.Errorf("invalid gc thing tag %d", t.Kind)
	}
	return t, nil
}

func (t TaggedIndex) String() string {
	if t.Kind == NullThing || t.Kind == EmptyGlobalScopeThing {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s#%d", t.Kind, t.Index)
}

// A ScopeStencil is the serializable descriptor of one scope.
//
// Data holds the binding names, interned in the stencil's atom table,
// with NextFrameSlot already computed. FunctionData.CanonicalFunction is
// nil; the canonical function is FunctionIndex.
type ScopeStencil struct {
	Kind           scope.Kind
	Enclosing      ScopeIndex // NoScope if the scope is outside the unit
	FirstFrameSlot uint32

	// HasEnvironment reports whether the scope has an environment
	// record with a shape of NumEnvironmentSlots slots, header included.
	HasEnvironment      bool
	NumEnvironmentSlots uint32

	FunctionIndex ScriptIndex // for function scopes, else NoScript
	IsArrow       bool
	Data          scope.Data // nil for with scopes
}

// A RegExpStencil is a regular expression literal.
type RegExpStencil struct {
	Pattern *atom.Atom
	Flags   uint8
}

// A BigIntStencil is a BigInt literal in decimal digits.
type BigIntStencil struct {
	Digits string
}

// An ObjLiteralStencil is an object literal template: opaque
// instructions plus the atoms they refer to.
type ObjLiteralStencil struct {
	Flags uint8
	Code  []byte
	Atoms []*atom.Atom
}

// A ScriptStencil describes one script: the top-level script or a function.
type ScriptStencil struct {
	Extent         SourceExtent
	ImmutableFlags ImmutableFlags
	FunctionFlags  FunctionFlags
	Nargs          uint16
	FunctionAtom   *atom.Atom // nil for anonymous functions and top-level scripts

	// LazyFunctionEnclosingScopeIndex is the enclosing scope of a lazy
	// function, or NoScope.
	LazyFunctionEnclosingScopeIndex ScopeIndex

	// SharedData is the immutable compiled data (bytecode and notes) of
	// a non-lazy script, nil otherwise.
	SharedData []byte

	HasMemberInitializers bool
	NumMemberInitializers uint32

	GCThings []TaggedIndex

	IsStandaloneFunction bool
	WasFunctionEmitted   bool
	IsSingletonFunction  bool
	AllowRelazify        bool
}

// IsFunction reports whether s is a function script.
func (s *ScriptStencil) IsFunction() bool { return s.ImmutableFlags.Has(IsFunction) }

// IsModule reports whether s is a module script.
func (s *ScriptStencil) IsModule() bool { return s.ImmutableFlags.Has(IsModule) }

// IsLazy reports whether s is a function awaiting delazification.
func (s *ScriptStencil) IsLazy() bool { return s.FunctionFlags.Has(FunctionLazy) }

// A ModuleEntry is one import or export record of a module.
type ModuleEntry struct {
	Specifier  *atom.Atom
	LocalName  *atom.Atom
	ImportName *atom.Atom
	ExportName *atom.Atom
	Lineno     uint32
	Column     uint32
}

// ModuleMetadata holds the import and export records of a module unit.
type ModuleMetadata struct {
	RequestedModules      []ModuleEntry
	ImportEntries         []ModuleEntry
	LocalExportEntries    []ModuleEntry
	IndirectExportEntries []ModuleEntry
	StarExportEntries     []ModuleEntry
	FunctionDecls         []uint32 // GC thing indices of the top-level script
	IsAsync               bool
}

// A CompilationStencil is one compiled unit: a top-level script, or one
// delazified function, with the data its scripts refer to.
type CompilationStencil struct {
	Atoms *atom.Table

	Scopes      []ScopeStencil
	RegExps     []RegExpStencil
	BigInts     []BigIntStencil
	ObjLiterals []ObjLiteralStencil
	Scripts     []ScriptStencil

	// ModuleMetadata is present if the top-level script is a module.
	ModuleMetadata *ModuleMetadata

	// AsmJS is set if any function was compiled as asm.js.
	AsmJS bool
}

// New returns an empty stencil whose atoms are interned in a new table.
func New() *CompilationStencil {
	return &CompilationStencil{Atoms: atom.NewTable()}
}

// TopLevel returns the top-level script, or nil if there is none.
func (cs *CompilationStencil) TopLevel() *ScriptStencil {
	if len(cs.Scripts) == 0 {
		return nil
	}
	return &cs.Scripts[TopLevelIndex]
}

// AddScript appends s and returns its index.
func (cs *CompilationStencil) AddScript(s ScriptStencil) ScriptIndex {
	cs.Scripts = append(cs.Scripts, s)
	if s.FunctionAtom != nil {
		s.FunctionAtom.MarkUsed()
	}
	return ScriptIndex(len(cs.Scripts) - 1)
}

// LazyFunctions returns the indices of the scripts awaiting
// delazification, in script order.
func (cs *CompilationStencil) LazyFunctions() []ScriptIndex {
	var res []ScriptIndex
	for i := range cs.Scripts {
		if cs.Scripts[i].IsFunction() && cs.Scripts[i].IsLazy() {
			res = append(res, ScriptIndex(i))
		}
	}
	return res
}

// MarkAtomsUsed marks every atom referenced by cs as used, so that it is
// written to an encoded atom table.
func (cs *CompilationStencil) MarkAtomsUsed() {
	mark := func(a *atom.Atom) {
		if a != nil {
			a.MarkUsed()
		}
	}
	for i := range cs.Scopes {
		if data := cs.Scopes[i].Data; data != nil {
			for _, b := range data.Names() {
				mark(b.Name)
			}
		}
	}
	for i := range cs.RegExps {
		mark(cs.RegExps[i].Pattern)
	}
	for i := range cs.ObjLiterals {
		for _, a := range cs.ObjLiterals[i].Atoms {
			mark(a)
		}
	}
	for i := range cs.Scripts {
		mark(cs.Scripts[i].FunctionAtom)
		for _, t := range cs.Scripts[i].GCThings {
			if t.Kind == AtomThing {
				mark(cs.Atoms.At(t.Index))
			}
		}
	}
	if m := cs.ModuleMetadata; m != nil {
		for _, entries := range [][]ModuleEntry{m.RequestedModules, m.ImportEntries,
			m.LocalExportEntries, m.IndirectExportEntries, m.StarExportEntries} {
			for _, e := range entries {
				mark(e.Specifier)
				mark(e.LocalName)
				mark(e.ImportName)
				mark(e.ExportName)
			}
		}
	}
}

// A CompilationInfo is a compiled unit together with its input.
type CompilationInfo struct {
	Input   CompilationInput
	Stencil *CompilationStencil
}

// A CompilationInfoVector is the initial compilation of a unit plus the
// delazifications of its lazy functions produced since.
type CompilationInfoVector struct {
	Initial         CompilationInfo
	Delazifications []*CompilationStencil
}

// Delazification returns the delazification of the function at key, or nil.
func (v *CompilationInfoVector) Delazification(key uint64) *CompilationStencil {
	for _, d := range v.Delazifications {
		if top := d.TopLevel(); top != nil && top.Extent.Key() == key {
			return d
		}
	}
	return nil
}
