// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdr

import (
	"unicode/utf16"

	"go.stencil.dev/atom"
)

// An atomCoder maps atoms to the indices written for them.
//
// In the chunked format an atom is referred to by its index in the atom
// table of its stencil, written ahead of the stencil. In the tree format
// it is referred to by its index in a table shared by the whole buffer.
type atomCoder interface {
	index(s *State, a *atom.Atom) (uint32, error)
	atom(s *State, i uint32) (*atom.Atom, error)
}

// CodeAtom codes a reference to the non-nil atom *p.
func (s *State) CodeAtom(p **atom.Atom) error {
	if s.mode == Encode && *p == nil {
		return s.fail(ErrFailure, "nil atom")
	}
	if err := s.CodeNullableAtom(p); err != nil {
		return err
	}
	if *p == nil {
		return s.fail(ErrBadDecode, "missing atom")
	}
	return nil
}

// CodeNullableAtom codes a reference to the atom *p, which may be nil.
func (s *State) CodeNullableAtom(p **atom.Atom) error {
	i := NoAtom
	if s.mode == Encode && *p != nil {
		var err error
		if i, err = s.atoms.index(s, *p); err != nil {
			return err
		}
	}
	if err := s.CodeUint32(&i); err != nil {
		return err
	}
	if s.mode == Decode {
		if i == NoAtom {
			*p = nil
			return nil
		}
		a, err := s.atoms.atom(s, i)
		if err != nil {
			return err
		}
		*p = a
	}
	return nil
}

// codeAtomChars codes the characters of an atom: a uint32 holding the
// length shifted left by one, with the low bit set for Latin-1, followed
// by narrow characters or UTF-16 code units.
func (s *State) codeAtomChars(p *string) error {
	var header uint32
	var units []uint16
	if s.mode == Encode {
		if isLatin1(*p) {
			header = uint32(latin1Len(*p))<<1 | 1
		} else {
			units = utf16.Encode([]rune(*p))
			header = uint32(len(units)) << 1
		}
	}
	if err := s.CodeUint32(&header); err != nil {
		return err
	}
	n := int(header >> 1)
	if header&1 != 0 {
		return s.codeLatin1Chars(p, n)
	}
	return s.codeUTF16Chars(p, units, n)
}

// tableAtoms refers to atoms by their index in the table of the
// stencil being transcoded. When decoding, the indices are those of the
// encoded table, and decoded maps them to the atoms interned for them;
// the decoded table numbers its atoms compactly.
type tableAtoms struct {
	decoded map[uint32]*atom.Atom
}

func (*tableAtoms) index(s *State, a *atom.Atom) (uint32, error) {
	if a.Table() != s.tab {
		return 0, s.fail(ErrFailure, "atom %q belongs to another table", a)
	}
	if !a.Used() {
		return 0, s.fail(ErrFailure, "atom %q is not marked used", a)
	}
	return a.Index(), nil
}

func (t *tableAtoms) atom(s *State, i uint32) (*atom.Atom, error) {
	a := t.decoded[i]
	if a == nil {
		return nil, s.fail(ErrBadDecode, "undefined atom %d", i)
	}
	return a, nil
}

// codeParserAtomTable codes the used atoms of tab: the table length, the
// number of used atoms, then each used atom preceded by its index.
// Decoding interns the atoms in tab and makes them the referents of
// subsequent atom indices.
func (s *State) codeParserAtomTable(tab *atom.Table) error {
	length := uint32(tab.Len())
	used := uint32(tab.UsedCount())
	if err := s.CodeUint32(&length); err != nil {
		return err
	}
	if err := s.CodeLength(&used, 8); err != nil {
		return err
	}
	if s.mode == Decode && used > length {
		return s.fail(ErrBadDecode, "%d used atoms in a table of %d", used, length)
	}
	if s.mode == Encode {
		for _, a := range tab.Atoms() {
			if !a.Used() {
				continue
			}
			i, str := a.Index(), a.String()
			if err := s.CodeUint32(&i); err != nil {
				return err
			}
			if err := s.codeAtomChars(&str); err != nil {
				return err
			}
		}
		return nil
	}
	decoded := make(map[uint32]*atom.Atom, used)
	for n := uint32(0); n < used; n++ {
		var i uint32
		var str string
		if err := s.CodeUint32(&i); err != nil {
			return err
		}
		if i >= length {
			return s.fail(ErrBadDecode, "atom index %d out of range [0:%d]", i, length)
		}
		if decoded[i] != nil {
			return s.fail(ErrBadDecode, "atom index %d repeated", i)
		}
		if err := s.codeAtomChars(&str); err != nil {
			return err
		}
		if tab.Lookup(str) != nil {
			return s.fail(ErrBadDecode, "atom %q repeated", str)
		}
		a := tab.Intern(str)
		a.MarkUsed()
		decoded[i] = a
	}
	s.atoms = &tableAtoms{decoded: decoded}
	return nil
}

// sharedAtoms assigns buffer-wide indices to atoms on first use and
// encodes their characters to a separate section.
type sharedAtoms struct {
	indices map[string]uint32
	out     *State
}

func newSharedAtoms() *sharedAtoms {
	return &sharedAtoms{indices: make(map[string]uint32), out: NewEncoder()}
}

func (t *sharedAtoms) count() uint32 { return uint32(len(t.indices)) }

func (t *sharedAtoms) index(s *State, a *atom.Atom) (uint32, error) {
	str := a.String()
	if i, ok := t.indices[str]; ok {
		return i, nil
	}
	i := t.count()
	if err := t.out.codeAtomChars(&str); err != nil {
		return 0, err
	}
	t.indices[str] = i
	return i, nil
}

func (t *sharedAtoms) atom(s *State, i uint32) (*atom.Atom, error) {
	panic("sharedAtoms used for decoding")
}

// lazyAtoms decodes a shared atom section on demand. strs[i] is valid
// for i < len(strs); the section is scanned no further than the
// highest index referred to so far.
type lazyAtoms struct {
	in    *State
	count uint32
	strs  []string
}

func (t *lazyAtoms) index(s *State, a *atom.Atom) (uint32, error) {
	panic("lazyAtoms used for encoding")
}

func (t *lazyAtoms) atom(s *State, i uint32) (*atom.Atom, error) {
	if i >= t.count {
		return nil, s.fail(ErrBadDecode, "undefined atom %d of %d", i, t.count)
	}
	for uint32(len(t.strs)) <= i {
		var str string
		if err := t.in.codeAtomChars(&str); err != nil {
			return nil, err
		}
		t.strs = append(t.strs, str)
	}
	a := s.tab.Intern(t.strs[i])
	a.MarkUsed()
	return a, nil
}
