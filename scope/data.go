// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import (
	"fmt"

	"go.stencil.dev/atom"
)

const debug = false

// Data is the binding data owned by a scope.
// Its concrete type is determined by the scope's kind:
//
//	Function                        *FunctionData
//	FunctionBodyVar                 *VarData
//	Lexical, catch, named lambda,
//	function lexical, class body    *LexicalData
//	Eval, StrictEval                *EvalData
//	Global, NonSyntactic            *GlobalData
//	Module                          *ModuleData
//	WasmInstance                    *WasmInstanceData
//	WasmFunction                    *WasmFunctionData
//
// With scopes have no data.
//
// Each variant holds a single binding array, partitioned into
// contiguous ranges by the variant's boundary fields, which the
// compiler supplies already sorted.
type Data interface {
	// Names returns the binding array. The caller must not modify it.
	Names() []BindingName

	// Ranges returns the partition of the binding array, in order.
	Ranges() []Range

	clone(tab *atom.Table) Data
	size() int
}

// CopyData returns a deep copy of data whose names are interned in tab.
func CopyData(data Data, tab *atom.Table) Data {
	if data == nil {
		return nil
	}
	return data.clone(tab)
}

// A Range is a named sub-range [Start, End) of a binding array.
type Range struct {
	Kind       string
	Start, End uint32
}

func (r Range) String() string { return fmt.Sprintf("%s [%d, %d)", r.Kind, r.Start, r.End) }

// Approximate allocation sizes, for arena accounting.
const (
	dataHeaderSize  = 24
	bindingNameSize = 8
)

func namesSize(names []BindingName) int { return dataHeaderSize + bindingNameSize*len(names) }

func cloneNames(names []BindingName, tab *atom.Table) []BindingName {
	if names == nil {
		return nil
	}
	res := make([]BindingName, len(names))
	for i, b := range names {
		res[i] = b.importInto(tab)
	}
	return res
}

// checkMonotonic panics in debug builds if the boundaries decrease.
func checkMonotonic(what string, bounds ...uint32) {
	if !debug {
		return
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i-1] > bounds[i] {
			panic(fmt.Sprintf("%s: range boundaries not monotonic: %v", what, bounds))
		}
	}
}

// A FunctionRef identifies the canonical function of a function scope.
type FunctionRef struct {
	Name        *atom.Atom // nil for anonymous functions
	ScriptIndex uint32
	IsArrow     bool
}

func (f *FunctionRef) clone(tab *atom.Table) *FunctionRef {
	if f == nil {
		return nil
	}
	return &FunctionRef{Name: tab.Import(f.Name), ScriptIndex: f.ScriptIndex, IsArrow: f.IsArrow}
}

// A ModuleRef identifies the module record of a module scope.
type ModuleRef struct {
	ScriptIndex uint32
}

// LexicalData holds let bindings [0, ConstStart) and const
// bindings [ConstStart, len). Named lambda scopes hold the single
// callee binding.
type LexicalData struct {
	NextFrameSlot uint32
	ConstStart    uint32
	Bindings      []BindingName
}

func NewLexicalData(bindings []BindingName, constStart uint32) *LexicalData {
	checkMonotonic("lexical", 0, constStart, uint32(len(bindings)))
	return &LexicalData{ConstStart: constStart, Bindings: bindings}
}

func (d *LexicalData) Names() []BindingName { return d.Bindings }

func (d *LexicalData) Ranges() []Range {
	n := uint32(len(d.Bindings))
	return []Range{{"let", 0, d.ConstStart}, {"const", d.ConstStart, n}}
}

func (d *LexicalData) clone(tab *atom.Table) Data {
	c := *d
	c.Bindings = cloneNames(d.Bindings, tab)
	return &c
}

func (d *LexicalData) size() int { return namesSize(d.Bindings) }

// FunctionData holds positional formals [0, NonPositionalFormalStart),
// other formals [NonPositionalFormalStart, VarStart) and vars
// [VarStart, len). Vars are present only if the function has no
// parameter expressions.
type FunctionData struct {
	NextFrameSlot            uint32
	HasParameterExprs        bool
	NonPositionalFormalStart uint16
	VarStart                 uint16
	CanonicalFunction        *FunctionRef
	Bindings                 []BindingName
}

func NewFunctionData(bindings []BindingName, hasParameterExprs bool, nonPositionalFormalStart, varStart uint16, fun *FunctionRef) *FunctionData {
	checkMonotonic("function", 0, uint32(nonPositionalFormalStart), uint32(varStart), uint32(len(bindings)))
	return &FunctionData{
		HasParameterExprs:        hasParameterExprs,
		NonPositionalFormalStart: nonPositionalFormalStart,
		VarStart:                 varStart,
		CanonicalFunction:        fun,
		Bindings:                 bindings,
	}
}

func (d *FunctionData) Names() []BindingName { return d.Bindings }

func (d *FunctionData) Ranges() []Range {
	n := uint32(len(d.Bindings))
	npfs, vs := uint32(d.NonPositionalFormalStart), uint32(d.VarStart)
	return []Range{{"positional formal", 0, npfs}, {"other formal", npfs, vs}, {"var", vs, n}}
}

func (d *FunctionData) clone(tab *atom.Table) Data {
	c := *d
	c.Bindings = cloneNames(d.Bindings, tab)
	c.CanonicalFunction = d.CanonicalFunction.clone(tab)
	return &c
}

func (d *FunctionData) size() int { return namesSize(d.Bindings) + 16 }

// VarData holds the vars of a function body var scope.
type VarData struct {
	NextFrameSlot uint32
	Bindings      []BindingName
}

func NewVarData(bindings []BindingName) *VarData { return &VarData{Bindings: bindings} }

func (d *VarData) Names() []BindingName { return d.Bindings }
func (d *VarData) Ranges() []Range      { return []Range{{"var", 0, uint32(len(d.Bindings))}} }
func (d *VarData) size() int            { return namesSize(d.Bindings) }

func (d *VarData) clone(tab *atom.Table) Data {
	c := *d
	c.Bindings = cloneNames(d.Bindings, tab)
	return &c
}

// GlobalData holds vars and top-level functions [0, LetStart),
// lets [LetStart, ConstStart) and consts [ConstStart, len).
// Global bindings live on the global object, so none has a slot.
type GlobalData struct {
	LetStart   uint32
	ConstStart uint32
	Bindings   []BindingName
}

func NewGlobalData(bindings []BindingName, letStart, constStart uint32) *GlobalData {
	checkMonotonic("global", 0, letStart, constStart, uint32(len(bindings)))
	return &GlobalData{LetStart: letStart, ConstStart: constStart, Bindings: bindings}
}

func (d *GlobalData) Names() []BindingName { return d.Bindings }

func (d *GlobalData) Ranges() []Range {
	n := uint32(len(d.Bindings))
	return []Range{{"var", 0, d.LetStart}, {"let", d.LetStart, d.ConstStart}, {"const", d.ConstStart, n}}
}

func (d *GlobalData) clone(tab *atom.Table) Data {
	c := *d
	c.Bindings = cloneNames(d.Bindings, tab)
	return &c
}

func (d *GlobalData) size() int { return namesSize(d.Bindings) }

// EvalData holds the vars and top-level functions of a direct eval.
type EvalData struct {
	NextFrameSlot uint32
	Bindings      []BindingName
}

func NewEvalData(bindings []BindingName) *EvalData { return &EvalData{Bindings: bindings} }

func (d *EvalData) Names() []BindingName { return d.Bindings }
func (d *EvalData) Ranges() []Range      { return []Range{{"var", 0, uint32(len(d.Bindings))}} }
func (d *EvalData) size() int            { return namesSize(d.Bindings) }

func (d *EvalData) clone(tab *atom.Table) Data {
	c := *d
	c.Bindings = cloneNames(d.Bindings, tab)
	return &c
}

// ModuleData holds imports [0, VarStart), vars [VarStart, LetStart),
// lets [LetStart, ConstStart) and consts [ConstStart, len).
type ModuleData struct {
	NextFrameSlot uint32
	VarStart      uint32
	LetStart      uint32
	ConstStart    uint32
	Module        *ModuleRef
	Bindings      []BindingName
}

func NewModuleData(bindings []BindingName, varStart, letStart, constStart uint32, m *ModuleRef) *ModuleData {
	checkMonotonic("module", 0, varStart, letStart, constStart, uint32(len(bindings)))
	return &ModuleData{VarStart: varStart, LetStart: letStart, ConstStart: constStart, Module: m, Bindings: bindings}
}

func (d *ModuleData) Names() []BindingName { return d.Bindings }

func (d *ModuleData) Ranges() []Range {
	n := uint32(len(d.Bindings))
	return []Range{
		{"import", 0, d.VarStart},
		{"var", d.VarStart, d.LetStart},
		{"let", d.LetStart, d.ConstStart},
		{"const", d.ConstStart, n},
	}
}

func (d *ModuleData) clone(tab *atom.Table) Data {
	c := *d
	c.Bindings = cloneNames(d.Bindings, tab)
	if d.Module != nil {
		m := *d.Module
		c.Module = &m
	}
	return &c
}

func (d *ModuleData) size() int { return namesSize(d.Bindings) + 8 }

// WasmInstanceData holds memories [0, GlobalsStart) and globals
// [GlobalsStart, len) of a foreign module instance.
type WasmInstanceData struct {
	NextFrameSlot uint32
	GlobalsStart  uint32
	Bindings      []BindingName
}

func (d *WasmInstanceData) Names() []BindingName { return d.Bindings }
func (d *WasmInstanceData) size() int            { return namesSize(d.Bindings) }

func (d *WasmInstanceData) Ranges() []Range {
	n := uint32(len(d.Bindings))
	return []Range{{"memory", 0, d.GlobalsStart}, {"global", d.GlobalsStart, n}}
}

func (d *WasmInstanceData) clone(tab *atom.Table) Data {
	c := *d
	c.Bindings = cloneNames(d.Bindings, tab)
	return &c
}

// WasmFunctionData holds the locals of a foreign function frame.
type WasmFunctionData struct {
	NextFrameSlot uint32
	Bindings      []BindingName
}

func (d *WasmFunctionData) Names() []BindingName { return d.Bindings }
func (d *WasmFunctionData) Ranges() []Range      { return []Range{{"var", 0, uint32(len(d.Bindings))}} }
func (d *WasmFunctionData) size() int            { return namesSize(d.Bindings) }

func (d *WasmFunctionData) clone(tab *atom.Table) Data {
	c := *d
	c.Bindings = cloneNames(d.Bindings, tab)
	return &c
}

// CheckKind reports an error if data is not the variant used by kind.
func CheckKind(kind Kind, data Data) error {
	ok := false
	switch data.(type) {
	case nil:
		ok = kind == With
	case *FunctionData:
		ok = kind == Function
	case *VarData:
		ok = kind == FunctionBodyVar
	case *LexicalData:
		ok = kind.IsLexical()
	case *EvalData:
		ok = kind.IsEval()
	case *GlobalData:
		ok = kind.IsGlobal()
	case *ModuleData:
		ok = kind == Module
	case *WasmInstanceData:
		ok = kind == WasmInstance
	case *WasmFunctionData:
		ok = kind == WasmFunction
	}
	if !ok {
		return fmt.Errorf("%s scope cannot hold %T", kind, data)
	}
	return nil
}

// NextFrameSlotOf returns the frame slot following the bindings of data,
// or 0 for kinds without frame slots.
func NextFrameSlotOf(data Data) uint32 {
	switch data := data.(type) {
	case *FunctionData:
		return data.NextFrameSlot
	case *VarData:
		return data.NextFrameSlot
	case *LexicalData:
		return data.NextFrameSlot
	case *EvalData:
		return data.NextFrameSlot
	case *ModuleData:
		return data.NextFrameSlot
	case *WasmInstanceData:
		return data.NextFrameSlot
	case *WasmFunctionData:
		return data.NextFrameSlot
	}
	return 0
}

func setNextFrameSlot(data Data, slot uint32) {
	switch data := data.(type) {
	case *FunctionData:
		data.NextFrameSlot = slot
	case *VarData:
		data.NextFrameSlot = slot
	case *LexicalData:
		data.NextFrameSlot = slot
	case *EvalData:
		data.NextFrameSlot = slot
	case *ModuleData:
		data.NextFrameSlot = slot
	case *WasmInstanceData:
		data.NextFrameSlot = slot
	case *WasmFunctionData:
		data.NextFrameSlot = slot
	}
}
