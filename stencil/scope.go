// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stencil

import (
	"fmt"

	"go.stencil.dev/scope"
)

// Scope returns the scope stencil at i.
func (cs *CompilationStencil) Scope(i ScopeIndex) *ScopeStencil { return &cs.Scopes[i] }

// NextFrameSlot returns the frame slot following the bindings of the
// nearest frame-allocating scope on the stencil chain starting at i.
// With scopes are skipped.
func (cs *CompilationStencil) NextFrameSlot(i ScopeIndex) uint32 {
	for i != NoScope {
		s := &cs.Scopes[i]
		if s.Kind != scope.With {
			return scope.NextFrameSlotOf(s.Data)
		}
		i = s.Enclosing
	}
	return 0
}

// WantFirstFrameSlot returns the first frame slot that the scope stencil
// at i must record, given the stencils enclosing it. It reports false
// if the slot is unconstrained: the scope is enclosed from outside the
// unit or its kind allocates no frame slots after its enclosing scope.
func (cs *CompilationStencil) WantFirstFrameSlot(i ScopeIndex) (uint32, bool) {
	st := &cs.Scopes[i]
	switch {
	case st.Enclosing == NoScope:
		return 0, false
	case st.Kind.IsNamedLambda():
		return scope.LocalNoLimit, true
	case st.Kind.IsLexical(), st.Kind == scope.FunctionBodyVar:
		return cs.NextFrameSlot(st.Enclosing), true
	}
	return 0, false
}

// add decides the storage of data and appends the resulting stencil.
func (cs *CompilationStencil) add(k scope.Kind, data scope.Data, firstFrameSlot uint32, needsEnvironment bool, enclosing ScopeIndex) ScopeIndex {
	if enclosing != NoScope && int(enclosing) >= len(cs.Scopes) {
		panic(fmt.Sprintf("stencil: enclosing scope %d out of range", enclosing))
	}
	st := ScopeStencil{
		Kind:           k,
		Enclosing:      enclosing,
		FirstFrameSlot: firstFrameSlot,
		FunctionIndex:  NoScript,
		Data:           data,
	}
	if data != nil {
		for _, b := range data.Names() {
			if b.Name != nil {
				b.Name.MarkUsed()
			}
		}
		layout := scope.Prepare(k, data, firstFrameSlot, needsEnvironment)
		if layout.NeedsEnvironment {
			st.HasEnvironment = true
			st.NumEnvironmentSlots = layout.SlotSpan
		}
	}
	cs.Scopes = append(cs.Scopes, st)
	return ScopeIndex(len(cs.Scopes) - 1)
}

// CreateForFunctionScope appends the stencil of the scope of function
// functionIndex. needsEnvironment requests an environment even if no
// binding is closed over.
func (cs *CompilationStencil) CreateForFunctionScope(data *scope.FunctionData, needsEnvironment bool, functionIndex ScriptIndex, isArrow bool, enclosing ScopeIndex) ScopeIndex {
	if data == nil {
		data = new(scope.FunctionData)
	}
	i := cs.add(scope.Function, data, 0, needsEnvironment, enclosing)
	cs.Scopes[i].FunctionIndex = functionIndex
	cs.Scopes[i].IsArrow = isArrow
	return i
}

// CreateForLexicalScope appends the stencil of a lexical-kind scope.
// Its frame slots follow those of enclosing, except for named lambdas.
func (cs *CompilationStencil) CreateForLexicalScope(k scope.Kind, data *scope.LexicalData, enclosing ScopeIndex) ScopeIndex {
	if data == nil {
		data = new(scope.LexicalData)
	}
	first := cs.NextFrameSlot(enclosing)
	if k.IsNamedLambda() {
		first = scope.LocalNoLimit
	}
	return cs.add(k, data, first, false, enclosing)
}

// CreateForVarScope appends the stencil of a function body var scope,
// whose frame slots follow those of the enclosing function scope.
func (cs *CompilationStencil) CreateForVarScope(data *scope.VarData, needsEnvironment bool, enclosing ScopeIndex) ScopeIndex {
	if data == nil {
		data = new(scope.VarData)
	}
	return cs.add(scope.FunctionBodyVar, data, cs.NextFrameSlot(enclosing), needsEnvironment, enclosing)
}

// CreateForGlobalScope appends the stencil of a global or non-syntactic scope.
func (cs *CompilationStencil) CreateForGlobalScope(k scope.Kind, data *scope.GlobalData) ScopeIndex {
	if data == nil {
		data = new(scope.GlobalData)
	}
	return cs.add(k, data, 0, false, NoScope)
}

// CreateForEvalScope appends the stencil of an eval or strict eval scope.
func (cs *CompilationStencil) CreateForEvalScope(k scope.Kind, data *scope.EvalData, enclosing ScopeIndex) ScopeIndex {
	if data == nil {
		data = new(scope.EvalData)
	}
	return cs.add(k, data, 0, false, enclosing)
}

// CreateForModuleScope appends the stencil of a module scope.
func (cs *CompilationStencil) CreateForModuleScope(data *scope.ModuleData, enclosing ScopeIndex) ScopeIndex {
	if data == nil {
		data = new(scope.ModuleData)
	}
	return cs.add(scope.Module, data, 0, true, enclosing)
}

// CreateForWithScope appends the stencil of a with scope.
func (cs *CompilationStencil) CreateForWithScope(enclosing ScopeIndex) ScopeIndex {
	return cs.add(scope.With, nil, 0, false, enclosing)
}

// InstantiateScopes promotes every scope stencil of cs to a permanent
// scope of arena a, returning them by stencil index.
//
// Scopes whose enclosing scope lies outside the unit are enclosed by
// outer, or by the arena's empty global scope if outer is nil. Binding
// data is deep-copied into the arena, and each scope's environment
// shape is rebuilt and checked against the stencil.
func (cs *CompilationStencil) InstantiateScopes(a *scope.Arena, outer *scope.Scope) ([]*scope.Scope, error) {
	res := make([]*scope.Scope, len(cs.Scopes))
	for i := range cs.Scopes {
		st := &cs.Scopes[i]
		var enclosing *scope.Scope
		switch {
		case st.Kind.IsGlobal():
		case st.Enclosing == NoScope:
			enclosing = outer
			if enclosing == nil {
				g, err := a.EmptyGlobalScope()
				if err != nil {
					return nil, err
				}
				enclosing = g
			}
		case int(st.Enclosing) >= i:
			return nil, fmt.Errorf("scope %d: enclosing scope %d does not precede it", i, st.Enclosing)
		default:
			enclosing = res[st.Enclosing]
		}

		s, err := cs.instantiate(a, st, enclosing)
		if err != nil {
			return nil, fmt.Errorf("scope %d: %w", i, err)
		}
		if want, ok := cs.WantFirstFrameSlot(ScopeIndex(i)); ok && (st.FirstFrameSlot != want || s.FirstFrameSlot() != want) {
			return nil, fmt.Errorf("scope %d: first frame slot %d, enclosing chain ends at %d", i, st.FirstFrameSlot, s.FirstFrameSlot())
		}
		if got := s.Shape() != nil; got != st.HasEnvironment && !st.Kind.IsGlobal() && st.Kind != scope.With {
			return nil, fmt.Errorf("scope %d: %s scope environment mismatch", i, st.Kind)
		}
		if sh := s.Shape(); sh != nil && sh.SlotSpan() != st.NumEnvironmentSlots {
			return nil, fmt.Errorf("scope %d: environment has %d slots, stencil has %d", i, sh.SlotSpan(), st.NumEnvironmentSlots)
		}
		res[i] = s
	}
	return res, nil
}

func (cs *CompilationStencil) instantiate(a *scope.Arena, st *ScopeStencil, enclosing *scope.Scope) (*scope.Scope, error) {
	data := scope.CopyData(st.Data, a.Atoms)
	switch data := data.(type) {
	case *scope.FunctionData:
		fun := &scope.FunctionRef{ScriptIndex: uint32(st.FunctionIndex), IsArrow: st.IsArrow}
		if int(st.FunctionIndex) < len(cs.Scripts) {
			fun.Name = a.Atoms.Import(cs.Scripts[st.FunctionIndex].FunctionAtom)
		}
		data.CanonicalFunction = fun
		return scope.NewFunctionScope(a, data, st.HasEnvironment, enclosing)
	case *scope.VarData:
		return scope.NewVarScope(a, data, st.FirstFrameSlot, st.HasEnvironment, enclosing)
	case *scope.LexicalData:
		return scope.NewLexicalScope(a, st.Kind, data, st.FirstFrameSlot, enclosing)
	case *scope.GlobalData:
		return scope.NewGlobalScope(a, st.Kind, data)
	case *scope.EvalData:
		return scope.NewEvalScope(a, st.Kind, data, enclosing)
	case *scope.ModuleData:
		data.Module = &scope.ModuleRef{ScriptIndex: uint32(TopLevelIndex)}
		return scope.NewModuleScope(a, data, enclosing)
	case nil:
		if st.Kind == scope.With {
			return scope.NewWithScope(a, enclosing)
		}
	}
	return nil, fmt.Errorf("%s scope cannot be instantiated from %T", st.Kind, st.Data)
}
