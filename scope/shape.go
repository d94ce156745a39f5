// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import "go.stencil.dev/atom"

// An EnvironmentClass identifies the layout family of a heap environment
// record. Each class reserves a fixed number of header slots (the
// enclosing environment, and the callee, scope or module) before the
// first binding slot.
type EnvironmentClass uint8

const (
	NoEnvironment      EnvironmentClass = iota
	CallEnvironment                     // function scopes
	VarEnvironment                      // function body var and strict eval scopes
	LexicalEnvironment                  // lexical, catch, named lambda and class body scopes
	ModuleEnvironment                   // module scopes
)

var environmentClassNames = [...]string{
	NoEnvironment:      "none",
	CallEnvironment:    "call",
	VarEnvironment:     "var",
	LexicalEnvironment: "lexical",
	ModuleEnvironment:  "module",
}

func (c EnvironmentClass) String() string { return environmentClassNames[c] }

// ReservedSlots returns the number of header slots of the class.
func (c EnvironmentClass) ReservedSlots() uint32 {
	if c == NoEnvironment {
		return 0
	}
	return 2
}

// FirstFreeSlot returns the slot of the first binding in an environment of class c.
func (c EnvironmentClass) FirstFreeSlot() uint32 { return c.ReservedSlots() }

// EnvironmentClassOf returns the class of the environment that a scope of
// kind k materializes, or NoEnvironment if k never has a shaped one.
func EnvironmentClassOf(k Kind) EnvironmentClass {
	switch {
	case k == Function:
		return CallEnvironment
	case k == FunctionBodyVar, k == StrictEval:
		return VarEnvironment
	case k.IsLexical():
		return LexicalEnvironment
	case k == Module:
		return ModuleEnvironment
	}
	return NoEnvironment
}

// A ShapeEntry places one closed-over binding in an environment record.
type ShapeEntry struct {
	Name     *atom.Atom
	Kind     BindingKind
	Slot     uint32
	ReadOnly bool
}

// A Shape is the layout of an environment record: the slots of exactly
// the closed-over bindings of a scope, in binding order, after the
// class's header slots. A Shape belongs to the arena that created it.
type Shape struct {
	arena   *Arena
	class   EnvironmentClass
	span    uint32
	entries []ShapeEntry
}

// Arena returns the arena that owns the shape.
func (s *Shape) Arena() *Arena { return s.arena }

// Class returns the environment class of the shape.
func (s *Shape) Class() EnvironmentClass { return s.class }

// SlotSpan returns the number of slots of the record, header included.
func (s *Shape) SlotSpan() uint32 { return s.span }

// Entries returns the binding slots in slot order.
// The caller must not modify the slice.
func (s *Shape) Entries() []ShapeEntry { return s.entries }

// Lookup returns the entry for name.
func (s *Shape) Lookup(name *atom.Atom) (ShapeEntry, bool) {
	for _, e := range s.entries {
		if e.Name == name {
			return e, true
		}
	}
	return ShapeEntry{}, false
}

const shapeEntrySize = 16

// A Layout is the storage decided for a scope's bindings.
type Layout struct {
	// NextFrameSlot is the frame slot following the scope's bindings.
	// It is LocalNoLimit for named lambda scopes and zero for other
	// kinds without frame slots.
	NextFrameSlot uint32

	// NeedsEnvironment reports whether the scope materializes an
	// environment record with a shape, either because some binding is
	// closed over or because the kind or the caller requires one.
	NeedsEnvironment bool

	Class EnvironmentClass

	// SlotSpan is the slot count of the record, header included,
	// valid if NeedsEnvironment.
	SlotSpan uint32

	// Entries are the closed-over bindings in slot order.
	Entries []ShapeEntry
}

// Prepare walks the bindings of data, a scope of kind k, decides where
// each lives, and records the resulting next frame slot in data.
//
// needsEnvironment asks for an environment record even if no binding is
// closed over; callers pass it for function and var scopes that are
// extensible by direct eval, need a home object, are derived class
// constructors, or are generators or async functions. Strict eval and
// module scopes always have one. Global and with scopes have an
// environment without a shape.
func Prepare(k Kind, data Data, firstFrameSlot uint32, needsEnvironment bool) Layout {
	class := EnvironmentClassOf(k)
	switch k {
	case StrictEval, Module:
		needsEnvironment = true
	case Function, FunctionBodyVar:
	default:
		needsEnvironment = false
	}

	bi := NewBindingIter(k, data, firstFrameSlot)
	for ; !bi.Done(); bi.Next() {
	}

	var layout Layout
	layout.Class = class
	switch {
	case bi.canHaveFrameSlots():
		layout.NextFrameSlot = bi.NextFrameSlot()
	case k.IsNamedLambda():
		layout.NextFrameSlot = LocalNoLimit
	}

	if class != NoEnvironment && bi.NextEnvironmentSlot() != class.FirstFreeSlot() {
		layout.NeedsEnvironment = true
		layout.SlotSpan = bi.NextEnvironmentSlot()
		layout.Entries = environmentEntries(k, data, firstFrameSlot)
	} else if needsEnvironment && class != NoEnvironment {
		layout.NeedsEnvironment = true
		layout.SlotSpan = class.FirstFreeSlot()
	}

	setNextFrameSlot(data, layout.NextFrameSlot)
	return layout
}

// environmentEntries returns the closed-over bindings of data with their slots.
func environmentEntries(k Kind, data Data, firstFrameSlot uint32) []ShapeEntry {
	var entries []ShapeEntry
	for bi := NewBindingIter(k, data, firstFrameSlot); !bi.Done(); bi.Next() {
		loc := bi.Location()
		if loc.Kind != EnvironmentLocation {
			continue
		}
		kind := bi.Kind()
		entries = append(entries, ShapeEntry{
			Name:     bi.Name(),
			Kind:     kind,
			Slot:     loc.Slot(),
			ReadOnly: kind.IsReadOnly(),
		})
	}
	return entries
}

// newShape allocates the shape described by layout in arena a.
// It returns nil if the layout needs no environment.
func (a *Arena) newShape(layout Layout) (*Shape, error) {
	if !layout.NeedsEnvironment {
		return nil, nil
	}
	if err := a.alloc(shapeEntrySize * (1 + len(layout.Entries))); err != nil {
		return nil, err
	}
	entries := make([]ShapeEntry, len(layout.Entries))
	copy(entries, layout.Entries)
	return &Shape{arena: a, class: layout.Class, span: layout.SlotSpan, entries: entries}, nil
}

// rebuildShape returns a shape for the bindings of s valid in arena a,
// sharing the existing shape if it already belongs to a.
func (a *Arena) rebuildShape(shape *Shape, k Kind, data Data, firstFrameSlot uint32) (*Shape, error) {
	if shape == nil || shape.arena == a {
		return shape, nil
	}
	return a.newShape(Layout{
		NeedsEnvironment: true,
		Class:            shape.class,
		SlotSpan:         shape.span,
		Entries:          environmentEntries(k, data, firstFrameSlot),
	})
}
