// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import (
	"errors"

	"go.stencil.dev/atom"
)

// ErrOutOfMemory is returned when an arena's allocation limit is exceeded.
var ErrOutOfMemory = errors.New("out of memory")

// An Arena owns the scopes, shapes and atoms of one instantiation
// context. Scopes and shapes never move between arenas; relocating a
// scope to another arena is an explicit Clone.
type Arena struct {
	Atoms *atom.Table

	// Limit is the maximum number of bytes the arena may account for,
	// or zero for no limit.
	Limit int

	used        int
	scopes      []*Scope
	emptyGlobal *Scope
}

// NewArena returns an arena whose atoms are interned in atoms,
// or in a new table if atoms is nil.
func NewArena(atoms *atom.Table) *Arena {
	if atoms == nil {
		atoms = atom.NewTable()
	}
	return &Arena{Atoms: atoms}
}

func (a *Arena) alloc(n int) error {
	if a.Limit > 0 && a.used+n > a.Limit {
		return ErrOutOfMemory
	}
	a.used += n
	return nil
}

// Used returns the number of bytes accounted to live allocations.
func (a *Arena) Used() int { return a.used }

// Scopes returns the live scopes of the arena in creation order.
func (a *Arena) Scopes() []*Scope { return a.scopes }

// EmptyGlobalScope returns the arena's global scope without bindings,
// creating it on first use.
func (a *Arena) EmptyGlobalScope() (*Scope, error) {
	if a.emptyGlobal == nil {
		s, err := NewGlobalScope(a, Global, nil)
		if err != nil {
			return nil, err
		}
		a.emptyGlobal = s
	}
	return a.emptyGlobal, nil
}

// Release finalizes every scope of the arena, releasing its data.
// The arena may be reused afterwards.
func (a *Arena) Release() {
	for _, s := range a.scopes {
		s.finalize()
	}
	a.scopes = nil
	a.emptyGlobal = nil
	a.used = 0
}
