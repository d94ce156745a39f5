// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xdr transcodes compilation stencils to and from a versioned
// binary format, for storage in a compilation artifact cache.
//
// A State is a byte buffer with a cursor, opened either to encode or to
// decode. Its Code methods are symmetric: the same sequence of calls
// writes a value when encoding and reads it back when decoding, so each
// composite codec is written once for both directions. All integers are
// little-endian.
//
// The top-level entry points are EncodeStencils and DecodeStencils,
// the IncrementalStencilEncoder, which encodes each lazily compiled
// function at most once, and the TreeEncoder, which supports replacing
// the encoding of one function without disturbing its siblings.
package xdr // import "go.stencil.dev/xdr"

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/pkg/errors"

	"go.stencil.dev/atom"
	"go.stencil.dev/stencil"
)

// A Mode is the direction of a State.
type Mode uint8

const (
	Encode Mode = iota
	Decode
)

func (m Mode) String() string {
	if m == Encode {
		return "encode"
	}
	return "decode"
}

// EnumMagic is mixed into every enumerated value by CodeEnum32, so that
// a corruption to a low value such as zero is detected rather than
// misinterpreted.
const EnumMagic = 0x21AB218C

// NoAtom is the transcoded index of an absent nullable atom.
const NoAtom = ^uint32(0)

// A State is the cursor of one transcoding operation.
type State struct {
	mode   Mode
	buf    []byte
	cursor int // decode only; encoding appends

	atoms atomCoder
	tab   *atom.Table // table of the stencil being transcoded

	// Options are the compile options the decoded data must match.
	Options stencil.CompileOptions
}

// NewEncoder returns a State that encodes into a new buffer.
func NewEncoder() *State {
	return &State{mode: Encode, atoms: new(tableAtoms)}
}

// NewDecoder returns a State that decodes data.
func NewDecoder(data []byte) *State {
	return &State{mode: Decode, buf: data, atoms: new(tableAtoms)}
}

func (s *State) Mode() Mode { return s.mode }

// Bytes returns the encoded data. It must not be retained across
// further encoding.
func (s *State) Bytes() []byte { return s.buf }

// Offset returns the position of the cursor.
func (s *State) Offset() int {
	if s.mode == Encode {
		return len(s.buf)
	}
	return s.cursor
}

// Remaining returns the number of bytes left to decode.
func (s *State) Remaining() int { return len(s.buf) - s.cursor }

// Done reports an error unless every byte has been decoded.
func (s *State) Done() error {
	if s.mode == Decode && s.cursor != len(s.buf) {
		return s.fail(ErrBadDecode, "%d trailing bytes", s.Remaining())
	}
	return nil
}

// fail returns err wrapped with the cursor position.
func (s *State) fail(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, "%s at offset %d: %s", s.mode, s.Offset(), fmt.Sprintf(format, args...))
}

func (s *State) write(n int) []byte {
	start := len(s.buf)
	s.buf = append(s.buf, make([]byte, n)...)
	return s.buf[start:]
}

func (s *State) read(n int) ([]byte, error) {
	if n < 0 || n > s.Remaining() {
		return nil, s.fail(ErrBadDecode, "need %d bytes, have %d", n, s.Remaining())
	}
	b := s.buf[s.cursor : s.cursor+n]
	s.cursor += n
	return b, nil
}

func (s *State) CodeUint8(p *uint8) error {
	if s.mode == Encode {
		s.buf = append(s.buf, *p)
		return nil
	}
	b, err := s.read(1)
	if err != nil {
		return err
	}
	*p = b[0]
	return nil
}

func (s *State) CodeUint16(p *uint16) error {
	if s.mode == Encode {
		binary.LittleEndian.PutUint16(s.write(2), *p)
		return nil
	}
	b, err := s.read(2)
	if err != nil {
		return err
	}
	*p = binary.LittleEndian.Uint16(b)
	return nil
}

func (s *State) CodeUint32(p *uint32) error {
	if s.mode == Encode {
		binary.LittleEndian.PutUint32(s.write(4), *p)
		return nil
	}
	b, err := s.read(4)
	if err != nil {
		return err
	}
	*p = binary.LittleEndian.Uint32(b)
	return nil
}

func (s *State) CodeUint64(p *uint64) error {
	if s.mode == Encode {
		binary.LittleEndian.PutUint64(s.write(8), *p)
		return nil
	}
	b, err := s.read(8)
	if err != nil {
		return err
	}
	*p = binary.LittleEndian.Uint64(b)
	return nil
}

// CodeBool codes *p as a uint8 that must be 0 or 1.
func (s *State) CodeBool(p *bool) error {
	var v uint8
	if *p {
		v = 1
	}
	if err := s.CodeUint8(&v); err != nil {
		return err
	}
	if v > 1 {
		return s.fail(ErrBadDecode, "invalid boolean %d", v)
	}
	*p = v == 1
	return nil
}

// CodeBool32 codes *p as a uint32 that must be 0 or 1.
func (s *State) CodeBool32(p *bool) error {
	var v uint32
	if *p {
		v = 1
	}
	if err := s.CodeUint32(&v); err != nil {
		return err
	}
	if v > 1 {
		return s.fail(ErrBadDecode, "invalid boolean %d", v)
	}
	*p = v == 1
	return nil
}

// CodeDouble codes *p as its IEEE-754 bit pattern, preserving NaN payloads.
func (s *State) CodeDouble(p *float64) error {
	bits := math.Float64bits(*p)
	if err := s.CodeUint64(&bits); err != nil {
		return err
	}
	*p = math.Float64frombits(bits)
	return nil
}

// CodeEnum32 codes *p as a uint32 mixed with EnumMagic.
func (s *State) CodeEnum32(p *uint32) error {
	v := *p ^ EnumMagic
	if err := s.CodeUint32(&v); err != nil {
		return err
	}
	*p = v ^ EnumMagic
	return nil
}

// CodeMarker codes the fixed value magic. Decoding any other value fails
// with ErrBadDecode.
func (s *State) CodeMarker(magic uint32) error {
	v := magic
	if err := s.CodeUint32(&v); err != nil {
		return err
	}
	if v != magic {
		return s.fail(ErrBadDecode, "bad marker %#x, want %#x", v, magic)
	}
	return nil
}

// CodeBytes codes the fixed-size span b: encoding writes it, decoding
// fills it.
func (s *State) CodeBytes(b []byte) error {
	if s.mode == Encode {
		s.buf = append(s.buf, b...)
		return nil
	}
	src, err := s.read(len(b))
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

// CodeBuffer codes *p as a uint32 length followed by the bytes.
// Decoding yields a copy, so the result does not alias the input.
func (s *State) CodeBuffer(p *[]byte) error {
	n := uint32(len(*p))
	if err := s.CodeLength(&n, 1); err != nil {
		return err
	}
	if s.mode == Decode {
		*p = make([]byte, n)
	}
	return s.CodeBytes(*p)
}

// CodeLength codes a vector length. When decoding, it fails unless
// enough bytes remain for n elements of at least minSize bytes each, so
// that a corrupt length never causes a large allocation.
func (s *State) CodeLength(n *uint32, minSize int) error {
	if err := s.CodeUint32(n); err != nil {
		return err
	}
	if s.mode == Decode && uint64(*n)*uint64(minSize) > uint64(s.Remaining()) {
		return s.fail(ErrBadDecode, "length %d exceeds the remaining %d bytes", *n, s.Remaining())
	}
	return nil
}

// CodeLength64 is like CodeLength for a uint64 length.
func (s *State) CodeLength64(n *uint64, minSize int) error {
	if err := s.CodeUint64(n); err != nil {
		return err
	}
	if s.mode == Decode && (*n > math.MaxUint32 || *n*uint64(minSize) > uint64(s.Remaining())) {
		return s.fail(ErrBadDecode, "length %d exceeds the remaining %d bytes", *n, s.Remaining())
	}
	return nil
}

func isLatin1(str string) bool {
	for _, r := range str {
		if r > 0xff || r == utf8.RuneError {
			return false
		}
	}
	return true
}

// codeLatin1Chars codes the n narrow characters of *p.
func (s *State) codeLatin1Chars(p *string, n int) error {
	if s.mode == Encode {
		b := s.write(n)
		i := 0
		for _, r := range *p {
			b[i] = byte(r)
			i++
		}
		return nil
	}
	b, err := s.read(n)
	if err != nil {
		return err
	}
	var sb strings.Builder
	sb.Grow(n)
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	*p = sb.String()
	return nil
}

// codeUTF16Chars codes *p as n UTF-16 code units. When encoding, units
// are the code units of *p.
func (s *State) codeUTF16Chars(p *string, units []uint16, n int) error {
	if s.mode == Encode {
		b := s.write(2 * len(units))
		for i, u := range units {
			binary.LittleEndian.PutUint16(b[2*i:], u)
		}
		return nil
	}
	b, err := s.read(2 * n)
	if err != nil {
		return err
	}
	units = make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	*p = string(utf16.Decode(units))
	return nil
}

func latin1Len(str string) int { return utf8.RuneCountInString(str) }

// CodeLatin1 codes *p, whose code points must all be below 256, as a
// uint32 length followed by one byte per character.
func (s *State) CodeLatin1(p *string) error {
	var n uint32
	if s.mode == Encode {
		if !isLatin1(*p) {
			return s.fail(ErrFailure, "%q is not Latin-1", *p)
		}
		n = uint32(latin1Len(*p))
	}
	if err := s.CodeLength(&n, 1); err != nil {
		return err
	}
	return s.codeLatin1Chars(p, int(n))
}

// CodeUTF8 codes *p as a uint32 length followed by its UTF-8 code units.
// Decoding fails on invalid UTF-8.
func (s *State) CodeUTF8(p *string) error {
	b := []byte(*p)
	if err := s.CodeBuffer(&b); err != nil {
		return err
	}
	if s.mode == Decode {
		if !utf8.Valid(b) {
			return s.fail(ErrBadDecode, "invalid UTF-8")
		}
		*p = string(b)
	}
	return nil
}

// CodeUTF16 codes *p as a uint32 count of UTF-16 code units followed by
// the units.
func (s *State) CodeUTF16(p *string) error {
	var units []uint16
	if s.mode == Encode {
		units = utf16.Encode([]rune(*p))
	}
	n := uint32(len(units))
	if err := s.CodeLength(&n, 2); err != nil {
		return err
	}
	return s.codeUTF16Chars(p, units, int(n))
}

// CodeCharsZ codes a C string: a uint32 length followed by the bytes,
// which may not contain NUL.
func (s *State) CodeCharsZ(p *string) error {
	if s.mode == Encode && strings.IndexByte(*p, 0) >= 0 {
		return s.fail(ErrFailure, "string contains NUL")
	}
	b := []byte(*p)
	if err := s.CodeBuffer(&b); err != nil {
		return err
	}
	if s.mode == Decode {
		for _, c := range b {
			if c == 0 {
				return s.fail(ErrBadDecode, "string contains NUL")
			}
		}
		*p = string(b)
	}
	return nil
}

// CodeString codes *p in the narrowest encoding: a uint8 Latin-1 flag
// followed by CodeLatin1 or CodeUTF16.
func (s *State) CodeString(p *string) error {
	latin1 := s.mode == Encode && isLatin1(*p)
	if err := s.CodeBool(&latin1); err != nil {
		return err
	}
	if latin1 {
		return s.CodeLatin1(p)
	}
	return s.CodeUTF16(p)
}
