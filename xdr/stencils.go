// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdr

import (
	"github.com/pkg/errors"

	"go.stencil.dev/stencil"
)

// Markers following the build id, selecting the layout of the buffer.
const (
	chunkMarker = 0x4b4e4843 // "CHNK"
	treeMarker  = 0x45455254 // "TREE"
	endMarker   = 0x444e4543 // "CEND"
)

// minChunkSize is the smallest encoding of a chunk: an empty atom
// table, four empty vectors and one script.
const minChunkSize = 8 + 4*4 + 4 + minScriptSize

// EncodeStencils encodes the initial stencil of v and each of its
// delazifications, in the chunked format. A delazification of a
// function whose key was already encoded is skipped.
func EncodeStencils(v *stencil.CompilationInfoVector) ([]byte, error) {
	enc, err := NewIncrementalStencilEncoder(&v.Initial)
	if err != nil {
		return nil, err
	}
	for _, d := range v.Delazifications {
		if err := enc.CodeFunctionStencil(d); err != nil {
			return nil, err
		}
	}
	return enc.Finish()
}

// An IncrementalStencilEncoder accumulates the initial stencil of a
// unit and the delazifications of its functions as they are compiled.
//
// Each stencil is encoded in its own chunk, preceded by its own atom
// table. A function is encoded at most once, however many times its
// delazification is offered.
type IncrementalStencilEncoder struct {
	header []byte   // build id, marker and compilation input
	chunks [][]byte // initial stencil first
	coded  map[uint64]bool
}

// NewIncrementalStencilEncoder returns an encoder holding the input and
// initial stencil of info.
func NewIncrementalStencilEncoder(info *stencil.CompilationInfo) (*IncrementalStencilEncoder, error) {
	if info.Stencil == nil {
		return nil, errors.Wrap(ErrFailure, "no initial stencil")
	}
	s := NewEncoder()
	if err := s.CodeVersion(); err != nil {
		return nil, err
	}
	if err := s.CodeMarker(chunkMarker); err != nil {
		return nil, err
	}
	if err := s.codeCompilationInput(&info.Input); err != nil {
		return nil, err
	}
	initial, err := encodeChunk(info.Stencil)
	if err != nil {
		return nil, err
	}
	return &IncrementalStencilEncoder{
		header: s.Bytes(),
		chunks: [][]byte{initial},
		coded:  make(map[uint64]bool),
	}, nil
}

// CodeFunctionStencil adds the delazification cs, unless a stencil for
// the same function has already been added.
func (e *IncrementalStencilEncoder) CodeFunctionStencil(cs *stencil.CompilationStencil) error {
	top := cs.TopLevel()
	if top == nil || !top.IsFunction() {
		return errors.Wrap(ErrFailure, "delazification is not a function stencil")
	}
	key := top.Extent.Key()
	if e.coded[key] {
		return nil
	}
	chunk, err := encodeChunk(cs)
	if err != nil {
		return err
	}
	e.coded[key] = true
	e.chunks = append(e.chunks, chunk)
	return nil
}

// NumChunks returns the number of stencils encoded so far.
func (e *IncrementalStencilEncoder) NumChunks() int { return len(e.chunks) }

// Finish returns the buffer holding every stencil added so far. The
// encoder remains usable.
func (e *IncrementalStencilEncoder) Finish() ([]byte, error) {
	s := NewEncoder()
	s.buf = append(s.buf, e.header...)
	n := uint32(len(e.chunks))
	if err := s.CodeUint32(&n); err != nil {
		return nil, err
	}
	for _, chunk := range e.chunks {
		if err := s.CodeBytes(chunk); err != nil {
			return nil, err
		}
	}
	if err := s.CodeMarker(endMarker); err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

func encodeChunk(cs *stencil.CompilationStencil) ([]byte, error) {
	s := NewEncoder()
	if err := s.codeParserAtomTable(cs.Atoms); err != nil {
		return nil, err
	}
	if err := s.codeCompilationStencil(cs); err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

// DecodeStencils decodes a buffer produced by EncodeStencils,
// IncrementalStencilEncoder.Finish or TreeEncoder.Linearize.
//
// The decoded top-level script must have been compiled with options
// compatible with opts. On any failure the result is nil.
func DecodeStencils(data []byte, opts stencil.CompileOptions) (*stencil.CompilationInfoVector, error) {
	s := NewDecoder(data)
	s.Options = opts
	if err := s.CodeVersion(); err != nil {
		return nil, err
	}
	var marker uint32
	if err := s.CodeUint32(&marker); err != nil {
		return nil, err
	}
	var v *stencil.CompilationInfoVector
	var err error
	switch marker {
	case chunkMarker:
		v, err = s.decodeChunks()
	case treeMarker:
		v, err = s.decodeTree()
	default:
		err = s.fail(ErrBadDecode, "unknown layout %#x", marker)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Done(); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *State) decodeChunks() (*stencil.CompilationInfoVector, error) {
	v := new(stencil.CompilationInfoVector)
	if err := s.codeCompilationInput(&v.Initial.Input); err != nil {
		return nil, err
	}
	var n uint32
	if err := s.CodeLength(&n, minChunkSize); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, s.fail(ErrBadDecode, "no initial stencil")
	}
	for i := uint32(0); i < n; i++ {
		cs := stencil.New()
		if err := s.codeParserAtomTable(cs.Atoms); err != nil {
			return nil, err
		}
		if err := s.codeCompilationStencil(cs); err != nil {
			return nil, err
		}
		if i == 0 {
			v.Initial.Stencil = cs
			continue
		}
		if !cs.TopLevel().IsFunction() {
			return nil, s.fail(ErrBadDecode, "chunk %d is not a function stencil", i)
		}
		v.Delazifications = append(v.Delazifications, cs)
	}
	if err := s.CodeMarker(endMarker); err != nil {
		return nil, err
	}
	return v, nil
}
