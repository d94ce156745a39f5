// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdr

import (
	"github.com/pkg/errors"

	"go.stencil.dev/stencil"
)

// A Key identifies a subtree of a TreeEncoder. The subtree of a function
// is keyed by its SourceExtent.Key; the reserved keys below have a start
// offset beyond their end, which no function has.
type Key uint64

const (
	noKey       Key = 0
	noSubTree   Key = 1 << 32
	TopLevelKey Key = 2 << 32
)

// A Slice is a run of encoded bytes of one subtree, followed in the
// linearized output by the subtree Child, or by nothing if Child is
// noSubTree.
type Slice struct {
	Begin, Length int
	Child         Key
}

// A Span is the byte range of a subtree, descendants included, in the
// output of the most recent Linearize.
type Span struct {
	Begin, End int
}

// A TreeEncoder encodes a unit so that the encoding of any one function
// can later be replaced without re-encoding its siblings.
//
// All subtrees are encoded to one scratch buffer. Each key maps to the
// slices of that buffer forming its subtree; replacing a key discards
// its old slices, which stay in the buffer unreferenced. Atoms are
// numbered across the whole buffer and written once, ahead of the
// slices, by Linearize.
//
// Each lazy function of an encoded stencil gets a subtree holding a
// presence flag and, once CodeDelazification has supplied it, the
// delazified stencil.
type TreeEncoder struct {
	s     *State
	atoms *sharedAtoms
	tree  map[Key][]Slice
	open  []Key // subtrees being encoded, innermost last
	spans map[Key]Span
	err   error // sticky; the tree is inconsistent after a failed encode
}

// NewTreeEncoder returns an encoder holding the input and initial
// stencil of info.
func NewTreeEncoder(info *stencil.CompilationInfo) (*TreeEncoder, error) {
	if info.Stencil == nil {
		return nil, errors.Wrap(ErrFailure, "no initial stencil")
	}
	t := &TreeEncoder{
		s:     NewEncoder(),
		atoms: newSharedAtoms(),
		tree:  make(map[Key][]Slice),
	}
	t.s.atoms = t.atoms
	t.beginSubTree(TopLevelKey)
	if err := t.s.codeCompilationInput(&info.Input); err != nil {
		return nil, err
	}
	if err := t.encodeUnit(info.Stencil); err != nil {
		return nil, err
	}
	t.endSubTree()
	return t, nil
}

func (t *TreeEncoder) beginSubTree(key Key) {
	cursor := t.s.Offset()
	if n := len(t.open); n > 0 {
		parent := t.tree[t.open[n-1]]
		last := &parent[len(parent)-1]
		last.Length = cursor - last.Begin
		last.Child = key
	}
	t.tree[key] = []Slice{{Begin: cursor, Child: noSubTree}}
	t.open = append(t.open, key)
}

func (t *TreeEncoder) endSubTree() {
	cursor := t.s.Offset()
	n := len(t.open)
	node := t.tree[t.open[n-1]]
	last := &node[len(node)-1]
	last.Length = cursor - last.Begin
	t.open = t.open[:n-1]
	if n == 1 {
		return
	}
	parent := t.open[n-2]
	t.tree[parent] = append(t.tree[parent], Slice{Begin: cursor, Child: noSubTree})
}

// encodeUnit encodes cs followed by an empty subtree for each of its
// lazy functions.
func (t *TreeEncoder) encodeUnit(cs *stencil.CompilationStencil) error {
	if err := t.s.codeCompilationStencil(cs); err != nil {
		return err
	}
	for _, i := range cs.LazyFunctions() {
		if i == stencil.TopLevelIndex {
			continue
		}
		key := Key(cs.Scripts[i].Extent.Key())
		if key == noKey || key == noSubTree || key == TopLevelKey {
			return errors.Wrapf(ErrFailure, "function at %s has no tree key", cs.Scripts[i].Extent)
		}
		t.beginSubTree(key)
		present := false
		if err := t.s.CodeBool(&present); err != nil {
			return err
		}
		t.endSubTree()
	}
	return nil
}

// CodeDelazification replaces the subtree of the lazy function
// delazified by cs with the encoding of cs.
func (t *TreeEncoder) CodeDelazification(cs *stencil.CompilationStencil) error {
	if t.err != nil {
		return t.err
	}
	top := cs.TopLevel()
	if top == nil || !top.IsFunction() {
		return errors.Wrap(ErrFailure, "delazification is not a function stencil")
	}
	key := Key(top.Extent.Key())
	if _, ok := t.tree[key]; !ok || key == TopLevelKey {
		return errors.Wrapf(ErrFailure, "no lazy function at %s", top.Extent)
	}
	if cs.AsmJS {
		return errors.Wrap(ErrAsmJSNotSupported, "delazification contains asm.js")
	}
	t.beginSubTree(key)
	present := true
	err := t.s.CodeBool(&present)
	if err == nil {
		err = t.encodeUnit(cs)
	}
	if err != nil {
		t.err = err
		return err
	}
	t.endSubTree()
	return nil
}

// Tree returns the slices of the subtree key.
func (t *TreeEncoder) Tree(key Key) []Slice { return t.tree[key] }

// Span returns the byte range of the subtree key in the output of the
// most recent Linearize.
func (t *TreeEncoder) Span(key Key) (Span, bool) {
	sp, ok := t.spans[key]
	return sp, ok
}

// Linearize returns the buffer holding the tree: the build id, the atom
// section, then the slices in depth-first order. The tree is not
// consumed; it may be updated and linearized again.
func (t *TreeEncoder) Linearize() ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	h := NewEncoder()
	if err := h.CodeVersion(); err != nil {
		return nil, err
	}
	if err := h.CodeMarker(treeMarker); err != nil {
		return nil, err
	}
	present := true
	n := t.atoms.count()
	atoms := t.atoms.out.Bytes()
	if err := h.CodeBool(&present); err != nil {
		return nil, err
	}
	if err := h.CodeUint32(&n); err != nil {
		return nil, err
	}
	if err := h.CodeBuffer(&atoms); err != nil {
		return nil, err
	}

	size := len(h.Bytes())
	t.walk(TopLevelKey, func(sl Slice) { size += sl.Length })
	out := make([]byte, 0, size)
	out = append(out, h.Bytes()...)

	spans := make(map[Key]Span)
	var copySlices func(key Key)
	copySlices = func(key Key) {
		begin := len(out)
		for _, sl := range t.tree[key] {
			out = append(out, t.s.buf[sl.Begin:sl.Begin+sl.Length]...)
			if sl.Child != noSubTree {
				copySlices(sl.Child)
			}
		}
		spans[key] = Span{begin, len(out)}
	}
	copySlices(TopLevelKey)
	t.spans = spans
	return out, nil
}

// walk calls f for each slice of the subtree key in depth-first order.
func (t *TreeEncoder) walk(key Key, f func(Slice)) {
	for _, sl := range t.tree[key] {
		f(sl)
		if sl.Child != noSubTree {
			t.walk(sl.Child, f)
		}
	}
}

// decodeTree decodes the remainder of a linearized tree. Atoms are
// decoded from the atom section as they are first referred to.
func (s *State) decodeTree() (*stencil.CompilationInfoVector, error) {
	var present bool
	if err := s.CodeBool(&present); err != nil {
		return nil, err
	}
	lazy := &lazyAtoms{in: NewDecoder(nil)}
	if present {
		var section []byte
		if err := s.CodeUint32(&lazy.count); err != nil {
			return nil, err
		}
		if err := s.CodeBuffer(&section); err != nil {
			return nil, err
		}
		if uint64(lazy.count)*4 > uint64(len(section)) {
			return nil, s.fail(ErrBadDecode, "%d atoms in a section of %d bytes", lazy.count, len(section))
		}
		lazy.in = NewDecoder(section)
	}
	s.atoms = lazy

	v := new(stencil.CompilationInfoVector)
	if err := s.codeCompilationInput(&v.Initial.Input); err != nil {
		return nil, err
	}
	cs, err := s.decodeTreeUnit(v)
	if err != nil {
		return nil, err
	}
	v.Initial.Stencil = cs
	return v, nil
}

// decodeTreeUnit decodes a stencil and the subtrees of its lazy
// functions, appending each present delazification to v before its own
// descendants.
func (s *State) decodeTreeUnit(v *stencil.CompilationInfoVector) (*stencil.CompilationStencil, error) {
	cs := stencil.New()
	if err := s.codeCompilationStencil(cs); err != nil {
		return nil, err
	}
	return cs, s.decodeLazySubTrees(v, cs)
}

func (s *State) decodeLazySubTrees(v *stencil.CompilationInfoVector, cs *stencil.CompilationStencil) error {
	for _, i := range cs.LazyFunctions() {
		if i == stencil.TopLevelIndex {
			continue
		}
		var present bool
		if err := s.CodeBool(&present); err != nil {
			return err
		}
		if !present {
			continue
		}
		d := stencil.New()
		if err := s.codeCompilationStencil(d); err != nil {
			return err
		}
		want := cs.Scripts[i].Extent
		if top := d.TopLevel(); !top.IsFunction() || top.Extent.Key() != want.Key() {
			return s.fail(ErrBadDecode, "delazification at %s does not match the function at %s", top.Extent, want)
		}
		v.Delazifications = append(v.Delazifications, d)
		if err := s.decodeLazySubTrees(v, d); err != nil {
			return err
		}
	}
	return nil
}
