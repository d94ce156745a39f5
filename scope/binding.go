// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import (
	"fmt"

	"go.stencil.dev/atom"
)

// A BindingName is one entry of a scope's binding array.
//
// Name is nil for a destructured or defaulted positional parameter,
// which occupies an argument position without being addressable.
type BindingName struct {
	Name  *atom.Atom
	flags uint8
}

const (
	closedOverFlag       = 0x1
	topLevelFunctionFlag = 0x2
	bindingFlagsMask     = closedOverFlag | topLevelFunctionFlag
)

// NewBindingName returns a binding for name.
func NewBindingName(name *atom.Atom, closedOver, isTopLevelFunction bool) BindingName {
	var flags uint8
	if closedOver {
		flags |= closedOverFlag
	}
	if isTopLevelFunction {
		flags |= topLevelFunctionFlag
	}
	return BindingName{Name: name, flags: flags}
}

// BindingNameFromFlags returns a binding whose flags are the low bits
// of flags as returned by BindingName.Flags.
func BindingNameFromFlags(name *atom.Atom, flags uint8) BindingName {
	return BindingName{Name: name, flags: flags & bindingFlagsMask}
}

// ClosedOver reports whether the binding is captured by an inner
// function and must live in an environment record.
func (b BindingName) ClosedOver() bool { return b.flags&closedOverFlag != 0 }

// IsTopLevelFunction reports whether the binding was introduced by a
// top-level function declaration.
func (b BindingName) IsTopLevelFunction() bool { return b.flags&topLevelFunctionFlag != 0 }

// Flags returns the packed flag bits of the binding.
func (b BindingName) Flags() uint8 { return b.flags }

func (b BindingName) String() string {
	if b.Name == nil {
		return "<destructured>"
	}
	return b.Name.String()
}

// importInto imports the binding's name into tab.
func (b BindingName) importInto(tab *atom.Table) BindingName {
	return BindingName{Name: tab.Import(b.Name), flags: b.flags}
}

// A BindingKind classifies a binding by the declaration that introduced it.
type BindingKind uint8

const (
	ImportBinding BindingKind = iota
	FormalParameterBinding
	VarBinding
	LetBinding
	ConstBinding
	NamedLambdaCalleeBinding
)

var bindingKindNames = [...]string{
	ImportBinding:            "import",
	FormalParameterBinding:   "formal parameter",
	VarBinding:               "var",
	LetBinding:               "let",
	ConstBinding:             "const",
	NamedLambdaCalleeBinding: "named lambda callee",
}

func (k BindingKind) String() string { return bindingKindNames[k] }

// IsLexical reports whether the binding is block-scoped.
func (k BindingKind) IsLexical() bool { return k == LetBinding || k == ConstBinding }

// IsReadOnly reports whether assignments to the binding are forbidden.
func (k BindingKind) IsReadOnly() bool {
	return k == ConstBinding || k == NamedLambdaCalleeBinding
}

// A LocationKind says where the runtime stores a binding's value.
type LocationKind uint8

const (
	GlobalLocation            LocationKind = iota // global object or global lexical scope, by name
	ArgumentLocation                              // argument slot of the frame
	FrameLocation                                 // local slot of the frame
	EnvironmentLocation                           // slot of a heap environment record
	ImportLocation                                // indirect module import, by name
	NamedLambdaCalleeLocation                     // the callee of the current frame
)

var locationKindNames = [...]string{
	GlobalLocation:            "global",
	ArgumentLocation:          "arg",
	FrameLocation:             "frame",
	EnvironmentLocation:       "env",
	ImportLocation:            "import",
	NamedLambdaCalleeLocation: "named lambda callee",
}

func (k LocationKind) String() string { return locationKindNames[k] }

// NoSlot is the slot number of locations that are not slot-addressed.
const NoSlot = ^uint32(0)

// A BindingLocation is the storage resolved for a binding.
type BindingLocation struct {
	Kind LocationKind
	slot uint32
}

func GlobalLoc() BindingLocation { return BindingLocation{GlobalLocation, NoSlot} }

func ArgumentLoc(slot uint16) BindingLocation { return BindingLocation{ArgumentLocation, uint32(slot)} }

func FrameLoc(slot uint32) BindingLocation { return BindingLocation{FrameLocation, slot} }

func EnvironmentLoc(slot uint32) BindingLocation { return BindingLocation{EnvironmentLocation, slot} }

func ImportLoc() BindingLocation { return BindingLocation{ImportLocation, NoSlot} }

func NamedLambdaCalleeLoc() BindingLocation { return BindingLocation{NamedLambdaCalleeLocation, NoSlot} }

// Slot returns the frame or environment slot, or NoSlot.
func (l BindingLocation) Slot() uint32 { return l.slot }

// ArgumentSlot returns the argument slot of an ArgumentLocation.
func (l BindingLocation) ArgumentSlot() uint16 {
	if l.Kind != ArgumentLocation {
		panic(fmt.Sprintf("ArgumentSlot of %s location", l.Kind))
	}
	return uint16(l.slot)
}

func (l BindingLocation) String() string {
	switch l.Kind {
	case ArgumentLocation, FrameLocation, EnvironmentLocation:
		return fmt.Sprintf("%s slot %d", l.Kind, l.slot)
	}
	return l.Kind.String()
}
