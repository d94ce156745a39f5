// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package atom provides interned strings for a single compilation unit.
//
// An Atom is identified by its index within the Table that created it.
// Two atoms of the same table denote the same string if and only if they
// are the same pointer, so clients may compare atoms with ==.
//
// A Table is written by a single goroutine while the unit is being built
// or decoded, and is read-only thereafter; it is not safe for concurrent
// mutation.
package atom // import "go.stencil.dev/atom"

import (
	"fmt"
	"unicode/utf8"
)

// An Atom is an interned string.
type Atom struct {
	s     string
	index uint32
	used  bool
	table *Table
}

func (a *Atom) String() string { return a.s }

// Index returns the position of the atom within its table.
func (a *Atom) Index() uint32 { return a.index }

// Table returns the table that owns the atom.
func (a *Atom) Table() *Table { return a.table }

// Used reports whether the atom was marked as referenced by compiled data.
// Only used atoms are written to an encoded atom table.
func (a *Atom) Used() bool { return a.used }

// MarkUsed records that compiled data refers to the atom.
func (a *Atom) MarkUsed() { a.used = true }

// IsLatin1 reports whether every code point of the atom fits in one byte,
// so that the atom may be transcoded as narrow characters.
func (a *Atom) IsLatin1() bool {
	for _, r := range a.s {
		if r > 0xff || r == utf8.RuneError {
			return false
		}
	}
	return true
}

// A Table interns strings.
type Table struct {
	m     map[string]*Atom
	atoms []*Atom // indexed by Atom.index
}

// NewTable returns a new, empty table.
func NewTable() *Table {
	return &Table{m: make(map[string]*Atom)}
}

// Len returns the length of the table's index space,
// including unoccupied entries.
func (t *Table) Len() int { return len(t.atoms) }

// At returns the atom at index i, or nil if there is none.
func (t *Table) At(i uint32) *Atom {
	if int64(i) >= int64(len(t.atoms)) {
		return nil
	}
	return t.atoms[i]
}

// Atoms returns the table's entries in index order.
// The caller must not modify the slice.
func (t *Table) Atoms() []*Atom { return t.atoms }

// Lookup returns the atom for s, or nil if s has not been interned.
func (t *Table) Lookup(s string) *Atom { return t.m[s] }

// Intern returns the unique atom for s, creating it at the next free
// index if necessary.
func (t *Table) Intern(s string) *Atom {
	if a, ok := t.m[s]; ok {
		return a
	}
	a := &Atom{s: s, index: uint32(len(t.atoms)), table: t}
	t.atoms = append(t.atoms, a)
	t.m[s] = a
	return a
}

// Internf interns the formatted string.
func (t *Table) Internf(format string, args ...interface{}) *Atom {
	return t.Intern(fmt.Sprintf(format, args...))
}

// UsedCount returns the number of atoms marked used.
func (t *Table) UsedCount() int {
	n := 0
	for _, a := range t.atoms {
		if a != nil && a.used {
			n++
		}
	}
	return n
}

// Import returns the atom of t denoting the same string as a,
// interning it if necessary, and marks it used.
// A nil atom imports as nil.
func (t *Table) Import(a *Atom) *Atom {
	if a == nil {
		return nil
	}
	b := a
	if a.table != t {
		b = t.Intern(a.s)
	}
	b.used = true
	return b
}
