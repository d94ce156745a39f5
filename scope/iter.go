// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import "go.stencil.dev/atom"

// LocalNoLimit is the frame slot limit. Named lambda scopes, which never
// have frame slots, report it as their first frame slot.
const LocalNoLimit = 1 << 24

// BindingIter flags.
const (
	argumentSlotsFlag = 1 << iota
	frameSlotsFlag
	environmentSlotsFlag
	parameterExprsFlag
	ignoreDestructuredFlag
	namedLambdaFlag

	slotsMask = argumentSlotsFlag | frameSlotsFlag | environmentSlotsFlag
)

// A BindingIter walks the bindings of one scope in order, computing the
// kind and storage location of each.
//
// Every scope kind is described by the same five boundaries, which split
// the binding array into imports, positional formals, other formals,
// vars, lets and consts, and by a set of capability flags. Argument,
// frame and environment slots are assigned in a single pass: a
// closed-over binding takes the next environment slot, any other
// frame-eligible binding takes the next frame slot, and positional
// formals also advance the argument counter.
//
// Typical usage:
//
//	for bi := s.Bindings(); !bi.Done(); bi.Next() {
//		fmt.Println(bi.Name(), bi.Location())
//	}
type BindingIter struct {
	// Bindings before positionalFormalStart are imports, those before
	// nonPositionalFormalStart are positional formals, those before
	// varStart are non-positional formals, those before letStart are
	// vars, those before constStart are lets, and the rest are consts.
	// Named lambda scopes use the final range for the callee.
	positionalFormalStart    uint32
	nonPositionalFormalStart uint32
	varStart                 uint32
	letStart                 uint32
	constStart               uint32
	length                   uint32

	index           uint32
	flags           uint8
	argumentSlot    uint16
	frameSlot       uint32
	environmentSlot uint32

	names []BindingName
}

// NewBindingIter returns an iterator over data, which must be the
// variant used by kind. firstFrameSlot is used only by kinds that
// number their frame slots after an enclosing scope's.
func NewBindingIter(kind Kind, data Data, firstFrameSlot uint32) BindingIter {
	var bi BindingIter
	switch data := data.(type) {
	case *LexicalData:
		if kind.IsNamedLambda() {
			bi.initLexical(data, LocalNoLimit, namedLambdaFlag)
		} else {
			bi.initLexical(data, firstFrameSlot, 0)
		}
	case *FunctionData:
		flags := uint8(ignoreDestructuredFlag)
		if data.HasParameterExprs {
			flags |= parameterExprsFlag
		}
		bi.initFunction(data, flags)
	case *VarData:
		n := uint32(len(data.Bindings))
		bi.init(0, 0, 0, n, n, frameSlotsFlag|environmentSlotsFlag,
			firstFrameSlot, VarEnvironment.FirstFreeSlot(), data.Bindings)
	case *GlobalData:
		bi.init(0, 0, 0, data.LetStart, data.ConstStart, 0, NoSlot, NoSlot, data.Bindings)
	case *EvalData:
		n := uint32(len(data.Bindings))
		if kind == StrictEval {
			bi.init(0, 0, 0, n, n, frameSlotsFlag|environmentSlotsFlag,
				0, VarEnvironment.FirstFreeSlot(), data.Bindings)
		} else {
			// Sloppy eval vars live on the enclosing var object.
			bi.init(0, 0, 0, n, n, 0, NoSlot, NoSlot, data.Bindings)
		}
	case *ModuleData:
		bi.init(data.VarStart, data.VarStart, data.VarStart, data.LetStart, data.ConstStart,
			frameSlotsFlag|environmentSlotsFlag, 0, ModuleEnvironment.FirstFreeSlot(), data.Bindings)
	case *WasmInstanceData:
		n := uint32(len(data.Bindings))
		bi.init(0, 0, 0, n, n, frameSlotsFlag|environmentSlotsFlag, 0, NoSlot, data.Bindings)
	case *WasmFunctionData:
		n := uint32(len(data.Bindings))
		bi.init(0, 0, 0, n, n, frameSlotsFlag|environmentSlotsFlag, 0, NoSlot, data.Bindings)
	case nil:
		// With scopes have no bindings.
	}
	bi.settle()
	return bi
}

func (bi *BindingIter) init(positionalFormalStart, nonPositionalFormalStart, varStart, letStart, constStart uint32,
	flags uint8, firstFrameSlot, firstEnvironmentSlot uint32, names []BindingName) {
	bi.positionalFormalStart = positionalFormalStart
	bi.nonPositionalFormalStart = nonPositionalFormalStart
	bi.varStart = varStart
	bi.letStart = letStart
	bi.constStart = constStart
	bi.length = uint32(len(names))
	bi.index = 0
	bi.flags = flags
	bi.argumentSlot = 0
	bi.frameSlot = firstFrameSlot
	bi.environmentSlot = firstEnvironmentSlot
	bi.names = names
}

func (bi *BindingIter) initLexical(data *LexicalData, firstFrameSlot uint32, flags uint8) {
	if flags&namedLambdaFlag != 0 {
		// The callee is reached through the frame unless closed over.
		bi.init(0, 0, 0, 0, 0, environmentSlotsFlag|flags,
			firstFrameSlot, LexicalEnvironment.FirstFreeSlot(), data.Bindings)
	} else {
		bi.init(0, 0, 0, 0, data.ConstStart, frameSlotsFlag|environmentSlotsFlag|flags,
			firstFrameSlot, LexicalEnvironment.FirstFreeSlot(), data.Bindings)
	}
}

func (bi *BindingIter) initFunction(data *FunctionData, flags uint8) {
	flags |= frameSlotsFlag | environmentSlotsFlag
	if flags&parameterExprsFlag == 0 {
		flags |= argumentSlotsFlag
	}
	n := uint32(len(data.Bindings))
	bi.init(0, uint32(data.NonPositionalFormalStart), uint32(data.VarStart), n, n,
		flags, 0, CallEnvironment.FirstFreeSlot(), data.Bindings)
}

func (bi *BindingIter) canHaveArgumentSlots() bool    { return bi.flags&argumentSlotsFlag != 0 }
func (bi *BindingIter) canHaveFrameSlots() bool       { return bi.flags&frameSlotsFlag != 0 }
func (bi *BindingIter) canHaveEnvironmentSlots() bool { return bi.flags&environmentSlotsFlag != 0 }
func (bi *BindingIter) hasFormalParameterExprs() bool { return bi.flags&parameterExprsFlag != 0 }

func (bi *BindingIter) ignoreDestructured() bool {
	return bi.flags&ignoreDestructuredFlag != 0
}

func (bi *BindingIter) increment() {
	if bi.flags&slotsMask != 0 {
		if bi.canHaveArgumentSlots() && bi.index < bi.nonPositionalFormalStart {
			bi.argumentSlot++
		}
		if bi.ClosedOver() {
			// Imports are indirect and are never given known slots.
			bi.environmentSlot++
		} else if bi.canHaveFrameSlots() {
			// Positional formals have frame slots only when there are
			// parameter expressions, in which case they act like lets.
			if bi.index >= bi.nonPositionalFormalStart || (bi.hasFormalParameterExprs() && bi.Name() != nil) {
				bi.frameSlot++
			}
		}
	}
	bi.index++
}

func (bi *BindingIter) settle() {
	if bi.ignoreDestructured() {
		for !bi.Done() && bi.Name() == nil {
			bi.increment()
		}
	}
}

// Done reports whether the iterator is exhausted.
func (bi *BindingIter) Done() bool { return bi.index == bi.length }

// Next advances to the next binding.
func (bi *BindingIter) Next() {
	bi.increment()
	bi.settle()
}

// IsLast reports whether the current binding is the last one.
func (bi *BindingIter) IsLast() bool { return bi.index+1 == bi.length }

// Index returns the position of the current binding in the binding array.
func (bi *BindingIter) Index() uint32 { return bi.index }

// Binding returns the current binding.
func (bi *BindingIter) Binding() BindingName { return bi.names[bi.index] }

// Name returns the name of the current binding, nil if destructured.
func (bi *BindingIter) Name() *atom.Atom { return bi.names[bi.index].Name }

// ClosedOver reports whether the current binding is closed over.
func (bi *BindingIter) ClosedOver() bool { return bi.names[bi.index].ClosedOver() }

// IsTopLevelFunction reports whether the current binding is a top-level function.
func (bi *BindingIter) IsTopLevelFunction() bool { return bi.names[bi.index].IsTopLevelFunction() }

// IsNamedLambda reports whether the iterator walks a named lambda scope.
func (bi *BindingIter) IsNamedLambda() bool { return bi.flags&namedLambdaFlag != 0 }

// Location returns the storage of the current binding.
func (bi *BindingIter) Location() BindingLocation {
	if bi.flags&slotsMask == 0 {
		return GlobalLoc()
	}
	if bi.index < bi.positionalFormalStart {
		return ImportLoc()
	}
	if bi.ClosedOver() {
		return EnvironmentLoc(bi.environmentSlot)
	}
	if bi.index < bi.nonPositionalFormalStart && bi.canHaveArgumentSlots() {
		return ArgumentLoc(bi.argumentSlot)
	}
	if bi.canHaveFrameSlots() {
		return FrameLoc(bi.frameSlot)
	}
	return NamedLambdaCalleeLoc()
}

// Kind returns the declaration kind of the current binding.
func (bi *BindingIter) Kind() BindingKind {
	switch {
	case bi.index < bi.positionalFormalStart:
		return ImportBinding
	case bi.index < bi.varStart:
		// When the function has parameter expressions, formals act like lets.
		if bi.hasFormalParameterExprs() {
			return LetBinding
		}
		return FormalParameterBinding
	case bi.index < bi.letStart:
		return VarBinding
	case bi.index < bi.constStart:
		return LetBinding
	case bi.IsNamedLambda():
		return NamedLambdaCalleeBinding
	}
	return ConstBinding
}

// HasArgumentSlot reports whether the current binding is a positional
// formal reachable through its argument slot.
func (bi *BindingIter) HasArgumentSlot() bool {
	if bi.hasFormalParameterExprs() {
		return false
	}
	return bi.index >= bi.positionalFormalStart && bi.index < bi.nonPositionalFormalStart
}

// ArgumentSlot returns the position of the current positional formal.
func (bi *BindingIter) ArgumentSlot() uint16 { return uint16(bi.index) }

// NextFrameSlot returns the frame slot following those assigned so far.
func (bi *BindingIter) NextFrameSlot() uint32 { return bi.frameSlot }

// NextEnvironmentSlot returns the environment slot following those assigned so far.
func (bi *BindingIter) NextEnvironmentSlot() uint32 { return bi.environmentSlot }

// A PositionalFormalParameterIter walks the positional formals of a
// function scope, including destructured ones.
type PositionalFormalParameterIter struct {
	BindingIter
}

// NewPositionalFormalParameterIter returns an iterator over the
// positional formals of s. It is immediately done unless s is a
// function scope.
func NewPositionalFormalParameterIter(s *Scope) *PositionalFormalParameterIter {
	it := &PositionalFormalParameterIter{s.Bindings()}
	if data, ok := s.data.(*FunctionData); ok {
		it.initFunction(data, 0)
	}
	it.settle()
	return it
}

func (it *PositionalFormalParameterIter) settle() {
	if it.index >= it.nonPositionalFormalStart {
		it.index = it.length
	}
}

// Next advances to the next positional formal.
func (it *PositionalFormalParameterIter) Next() {
	it.BindingIter.Next()
	it.settle()
}

// IsDestructured reports whether the current formal is a pattern.
func (it *PositionalFormalParameterIter) IsDestructured() bool { return it.Name() == nil }
