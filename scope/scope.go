// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scope defines the lexical scopes of a compiled program and the
// storage assigned to their bindings.
//
// A Scope records the bindings of one lexical region, the environment
// shape that lays out its closed-over bindings, and a reference to the
// enclosing scope. Scopes form chains ending at a global scope; the
// chain never has cycles.
//
// Each binding is resolved to one of three kinds of slot: an argument
// slot of the frame, a frame (local) slot, or a slot of a heap
// environment record when the binding is captured by an inner closure.
// The assignment is computed by BindingIter and is relied upon, bit for
// bit, by any code that emits accesses to those slots.
package scope // import "go.stencil.dev/scope"

import "fmt"

const scopeSize = 32

// A Scope is a lexical scope owned by an Arena.
type Scope struct {
	kind      Kind
	shape     *Shape
	enclosing *Scope
	data      Data
	arena     *Arena
	released  bool
}

func (s *Scope) Kind() Kind { return s.kind }

// Enclosing returns the enclosing scope, or nil for a global scope.
func (s *Scope) Enclosing() *Scope { return s.enclosing }

// Shape returns the environment shape, or nil if the scope has none.
func (s *Scope) Shape() *Shape { return s.shape }

// Data returns the scope's binding data; nil for with scopes.
func (s *Scope) Data() Data { return s.data }

// Arena returns the arena that owns the scope.
func (s *Scope) Arena() *Arena { return s.arena }

// HasEnvironment reports whether the scope materializes an environment
// record at runtime. With and global scopes always do.
func (s *Scope) HasEnvironment() bool {
	switch s.kind {
	case With, Global, NonSyntactic:
		return true
	}
	return s.shape != nil
}

// CanonicalFunction returns the function of a function scope, or nil.
func (s *Scope) CanonicalFunction() *FunctionRef {
	if data, ok := s.data.(*FunctionData); ok {
		return data.CanonicalFunction
	}
	return nil
}

// Module returns the module of a module scope, or nil.
func (s *Scope) Module() *ModuleRef {
	if data, ok := s.data.(*ModuleData); ok {
		return data.Module
	}
	return nil
}

// Bindings returns an iterator over the scope's bindings.
func (s *Scope) Bindings() BindingIter {
	return NewBindingIter(s.kind, s.data, s.FirstFrameSlot())
}

// FirstFrameSlot returns the frame slot of the scope's first frame-allocated binding.
func (s *Scope) FirstFrameSlot() uint32 {
	return FirstFrameSlot(s.kind, s.enclosing)
}

// FirstFrameSlot returns the first frame slot of a scope of kind k
// enclosed by enclosing.
//
// Intra-frame scopes continue the numbering where the nearest enclosing
// frame-allocating scope left off; named lambda scopes never have frame
// slots; a function body var scope follows its function's formals.
func FirstFrameSlot(k Kind, enclosing *Scope) uint32 {
	switch {
	case k.isIntraFrame():
		return NextFrameSlot(enclosing)
	case k.IsNamedLambda():
		return LocalNoLimit
	case k == FunctionBodyVar:
		if enclosing != nil && enclosing.kind == Function {
			return enclosing.data.(*FunctionData).NextFrameSlot
		}
	}
	return 0
}

// NextFrameSlot returns the frame slot following the bindings of the
// nearest scope on the chain starting at s that allocates frame slots.
// With scopes are skipped.
func NextFrameSlot(s *Scope) uint32 {
	for ; s != nil; s = s.enclosing {
		if s.kind == With {
			continue
		}
		return NextFrameSlotOf(s.data)
	}
	return 0
}

// ChainLength returns the number of scopes on the chain starting at s.
func (s *Scope) ChainLength() int {
	n := 0
	for it := s.Iter(); !it.Done(); it.Next() {
		n++
	}
	return n
}

// EnvironmentChainLength returns the number of scopes on the chain
// starting at s that materialize a syntactic environment record.
func (s *Scope) EnvironmentChainLength() int {
	n := 0
	for it := s.Iter(); !it.Done(); it.Next() {
		if it.HasSyntacticEnvironment() {
			n++
		}
	}
	return n
}

// HasOnChain reports whether a scope of kind k is on the chain starting at s.
func (s *Scope) HasOnChain(k Kind) bool {
	for it := s.Iter(); !it.Done(); it.Next() {
		if it.Kind() == k {
			return true
		}
	}
	return false
}

// NearestVarScopeForDirectEval returns the scope that receives the vars
// of a sloppy direct eval evaluated in s, or nil if there is none.
func NearestVarScopeForDirectEval(s *Scope) *Scope {
	for it := s.Iter(); !it.Done(); it.Next() {
		switch it.Kind() {
		case Function, FunctionBodyVar, Global, NonSyntactic:
			return it.Scope()
		}
	}
	return nil
}

// An Iter walks a scope chain from the innermost scope outwards.
type Iter struct {
	s *Scope
}

// Iter returns an iterator over the chain starting at s.
func (s *Scope) Iter() Iter { return Iter{s} }

func (it *Iter) Done() bool    { return it.s == nil }
func (it *Iter) Next()         { it.s = it.s.enclosing }
func (it *Iter) Scope() *Scope { return it.s }
func (it *Iter) Kind() Kind    { return it.s.kind }

// HasEnvironment reports whether the current scope has an environment record.
func (it *Iter) HasEnvironment() bool { return it.s.HasEnvironment() }

// HasSyntacticEnvironment reports whether the current scope has an
// environment record that is part of the syntactic chain.
func (it *Iter) HasSyntacticEnvironment() bool {
	return it.s.HasEnvironment() && it.s.kind != NonSyntactic
}

func (s *Scope) finalize() {
	if s.released {
		panic(fmt.Sprintf("scope: %s scope released twice", s.kind))
	}
	s.data = nil
	s.shape = nil
	s.released = true
}

// create allocates a scope node in a, taking ownership of data.
func (a *Arena) create(k Kind, enclosing *Scope, shape *Shape, data Data) (*Scope, error) {
	if debug {
		if err := CheckKind(k, data); err != nil {
			panic(err)
		}
	}
	size := scopeSize
	if data != nil {
		size += data.size()
	}
	if err := a.alloc(size); err != nil {
		return nil, err
	}
	s := &Scope{kind: k, shape: shape, enclosing: enclosing, data: data, arena: a}
	a.scopes = append(a.scopes, s)
	return s, nil
}

// adopt re-interns the atoms of data, which the arena now owns, in the
// arena's table.
func (a *Arena) adopt(data Data) {
	names := data.Names()
	for i := range names {
		names[i].Name = a.Atoms.Import(names[i].Name)
	}
	if data, ok := data.(*FunctionData); ok && data.CanonicalFunction != nil {
		data.CanonicalFunction.Name = a.Atoms.Import(data.CanonicalFunction.Name)
	}
}

// prepareAndCreate decides the storage of data, then allocates its shape
// and node. Nothing is allocated if either allocation fails.
func (a *Arena) prepareAndCreate(k Kind, data Data, firstFrameSlot uint32, needsEnvironment bool, enclosing *Scope) (*Scope, error) {
	a.adopt(data)
	layout := Prepare(k, data, firstFrameSlot, needsEnvironment)
	used := a.used
	shape, err := a.newShape(layout)
	if err != nil {
		return nil, err
	}
	s, err := a.create(k, enclosing, shape, data)
	if err != nil {
		a.used = used
		return nil, err
	}
	return s, nil
}

// NewLexicalScope returns a new scope of a lexical kind (lexical, catch,
// named lambda, function lexical, class body) owning data.
// A nil data denotes a scope without bindings.
func NewLexicalScope(a *Arena, k Kind, data *LexicalData, firstFrameSlot uint32, enclosing *Scope) (*Scope, error) {
	if !k.IsLexical() {
		return nil, fmt.Errorf("scope: %s is not a lexical kind", k)
	}
	if data == nil {
		data = new(LexicalData)
	}
	if k.IsNamedLambda() {
		firstFrameSlot = LocalNoLimit
	}
	return a.prepareAndCreate(k, data, firstFrameSlot, false, enclosing)
}

// NewFunctionScope returns a new function scope owning data.
// needsEnvironment requests an environment even if no binding is closed over.
func NewFunctionScope(a *Arena, data *FunctionData, needsEnvironment bool, enclosing *Scope) (*Scope, error) {
	if data == nil {
		data = new(FunctionData)
	}
	return a.prepareAndCreate(Function, data, 0, needsEnvironment, enclosing)
}

// NewVarScope returns a new function body var scope owning data.
func NewVarScope(a *Arena, data *VarData, firstFrameSlot uint32, needsEnvironment bool, enclosing *Scope) (*Scope, error) {
	if data == nil {
		data = new(VarData)
	}
	return a.prepareAndCreate(FunctionBodyVar, data, firstFrameSlot, needsEnvironment, enclosing)
}

// NewGlobalScope returns a new global or non-syntactic scope owning data.
// Global scopes have no enclosing scope and no shape.
func NewGlobalScope(a *Arena, k Kind, data *GlobalData) (*Scope, error) {
	if !k.IsGlobal() {
		return nil, fmt.Errorf("scope: %s is not a global kind", k)
	}
	if data == nil {
		data = new(GlobalData)
	}
	return a.prepareAndCreate(k, data, 0, false, nil)
}

// NewWithScope returns a new with scope.
func NewWithScope(a *Arena, enclosing *Scope) (*Scope, error) {
	return a.create(With, enclosing, nil, nil)
}

// NewEvalScope returns a new eval or strict eval scope owning data.
func NewEvalScope(a *Arena, k Kind, data *EvalData, enclosing *Scope) (*Scope, error) {
	if !k.IsEval() {
		return nil, fmt.Errorf("scope: %s is not an eval kind", k)
	}
	if data == nil {
		data = new(EvalData)
	}
	return a.prepareAndCreate(k, data, 0, false, enclosing)
}

// NewModuleScope returns a new module scope owning data.
func NewModuleScope(a *Arena, data *ModuleData, enclosing *Scope) (*Scope, error) {
	if data == nil {
		data = new(ModuleData)
	}
	return a.prepareAndCreate(Module, data, 0, true, enclosing)
}

// NewWasmInstanceScope returns the synthetic scope of a foreign module
// instance, binding its memory (if any) and globals under generated
// names. It is enclosed by the arena's empty global scope.
func NewWasmInstanceScope(a *Arena, hasMemory bool, numGlobals int) (*Scope, error) {
	enclosing, err := a.EmptyGlobalScope()
	if err != nil {
		return nil, err
	}
	data := new(WasmInstanceData)
	if hasMemory {
		data.Bindings = append(data.Bindings, NewBindingName(a.Atoms.Intern("memory0"), false, false))
	}
	data.GlobalsStart = uint32(len(data.Bindings))
	for i := 0; i < numGlobals; i++ {
		data.Bindings = append(data.Bindings, NewBindingName(a.Atoms.Internf("global%d", i), false, false))
	}
	return a.prepareAndCreate(WasmInstance, data, 0, false, enclosing)
}

// NewWasmFunctionScope returns the synthetic scope of a foreign function
// frame with numLocals generated local names.
func NewWasmFunctionScope(a *Arena, enclosing *Scope, numLocals int) (*Scope, error) {
	if enclosing == nil || enclosing.kind != WasmInstance {
		return nil, fmt.Errorf("scope: wasm function scope must be enclosed by a wasm instance scope")
	}
	data := new(WasmFunctionData)
	for i := 0; i < numLocals; i++ {
		data.Bindings = append(data.Bindings, NewBindingName(a.Atoms.Internf("var%d", i), false, false))
	}
	return a.prepareAndCreate(WasmFunction, data, 0, false, enclosing)
}

// Clone returns a copy of s in arena a, enclosed by enclosing.
// The data is deep-copied with its atoms interned in a's table, and a
// shape owned by another arena is rebuilt for a.
//
// Function and global scopes must be cloned with CloneFunction and
// CloneGlobal; module and wasm scopes cannot be cloned.
func Clone(a *Arena, s *Scope, enclosing *Scope) (*Scope, error) {
	switch s.kind {
	case Function:
		return nil, fmt.Errorf("scope: use CloneFunction to clone a function scope")
	case Global, NonSyntactic:
		return nil, fmt.Errorf("scope: use CloneGlobal to clone a %s scope", s.kind)
	case Module, WasmInstance, WasmFunction:
		return nil, fmt.Errorf("scope: cannot clone a %s scope", s.kind)
	case With:
		return a.create(With, enclosing, nil, nil)
	}
	return a.cloneWith(s, s.kind, s.data.clone(a.Atoms), enclosing)
}

// CloneFunction returns a copy of function scope s in arena a,
// whose canonical function is fun.
func CloneFunction(a *Arena, s *Scope, fun *FunctionRef, enclosing *Scope) (*Scope, error) {
	if s.kind != Function {
		return nil, fmt.Errorf("scope: CloneFunction of %s scope", s.kind)
	}
	data := s.data.clone(a.Atoms).(*FunctionData)
	data.CanonicalFunction = fun.clone(a.Atoms)
	return a.cloneWith(s, Function, data, enclosing)
}

// CloneGlobal returns a copy of global scope s in arena a, of kind k.
func CloneGlobal(a *Arena, s *Scope, k Kind) (*Scope, error) {
	if !s.kind.IsGlobal() || !k.IsGlobal() {
		return nil, fmt.Errorf("scope: CloneGlobal of %s scope to %s", s.kind, k)
	}
	return a.create(k, nil, nil, s.data.clone(a.Atoms))
}

func (a *Arena) cloneWith(s *Scope, k Kind, data Data, enclosing *Scope) (*Scope, error) {
	used := a.used
	shape, err := a.rebuildShape(s.shape, k, data, s.FirstFrameSlot())
	if err != nil {
		return nil, err
	}
	c, err := a.create(k, enclosing, shape, data)
	if err != nil {
		a.used = used
		return nil, err
	}
	return c, nil
}
