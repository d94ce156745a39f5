// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdr

import (
	"bytes"
	"math"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPrimitives(t *testing.T) {
	type values struct {
		u8     uint8
		u16    uint16
		u32    uint32
		u64    uint64
		b      bool
		b32    bool
		f      float64
		enum   uint32
		latin1 string
		utf8   string
		utf16  string
		charsZ string
		narrow string
		wide   string
		buf    []byte
	}
	code := func(s *State, v *values) error {
		for _, f := range []func() error{
			func() error { return s.CodeUint8(&v.u8) },
			func() error { return s.CodeUint16(&v.u16) },
			func() error { return s.CodeUint32(&v.u32) },
			func() error { return s.CodeUint64(&v.u64) },
			func() error { return s.CodeBool(&v.b) },
			func() error { return s.CodeBool32(&v.b32) },
			func() error { return s.CodeDouble(&v.f) },
			func() error { return s.CodeEnum32(&v.enum) },
			func() error { return s.CodeMarker(0xfeedface) },
			func() error { return s.CodeLatin1(&v.latin1) },
			func() error { return s.CodeUTF8(&v.utf8) },
			func() error { return s.CodeUTF16(&v.utf16) },
			func() error { return s.CodeCharsZ(&v.charsZ) },
			func() error { return s.CodeString(&v.narrow) },
			func() error { return s.CodeString(&v.wide) },
			func() error { return s.CodeBuffer(&v.buf) },
		} {
			if err := f(); err != nil {
				return err
			}
		}
		return nil
	}

	nan := math.Float64frombits(0x7ff8000000000123)
	in := values{
		u8: 0xab, u16: 0xbeef, u32: 0xdeadbeef, u64: 1<<63 | 5,
		b: true, b32: true, f: nan, enum: 3,
		latin1: "café", utf8: "héllo → wörld", utf16: "𝄞 clef",
		charsZ: "file.js", narrow: "naïve", wide: "λx.x",
		buf: []byte{0, 1, 2},
	}
	enc := NewEncoder()
	if err := code(enc, &in); err != nil {
		t.Fatal(err)
	}
	var out values
	dec := NewDecoder(enc.Bytes())
	if err := code(dec, &out); err != nil {
		t.Fatal(err)
	}
	if err := dec.Done(); err != nil {
		t.Fatal(err)
	}
	if math.Float64bits(out.f) != math.Float64bits(in.f) {
		t.Errorf("double: got %#x, want %#x", math.Float64bits(out.f), math.Float64bits(in.f))
	}
	out.f, in.f = 0, 0
	if diff := cmp.Diff(in, out, cmp.AllowUnexported(values{})); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLittleEndian(t *testing.T) {
	s := NewEncoder()
	v := uint32(0x01020304)
	if err := s.CodeUint32(&v); err != nil {
		t.Fatal(err)
	}
	enum := uint32(0)
	if err := s.CodeEnum32(&enum); err != nil {
		t.Fatal(err)
	}
	want := []byte{4, 3, 2, 1, 0x8c, 0x21, 0xab, 0x21}
	if got := s.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		data []byte
		code func(s *State) error
	}{
		{"truncated", []byte{1, 2}, func(s *State) error {
			var v uint32
			return s.CodeUint32(&v)
		}},
		{"marker", []byte{1, 0, 0, 0}, func(s *State) error { return s.CodeMarker(2) }},
		{"bool", []byte{2}, func(s *State) error {
			var b bool
			return s.CodeBool(&b)
		}},
		{"length", []byte{0xff, 0xff, 0xff, 0x7f, 0}, func(s *State) error {
			var b []byte
			return s.CodeBuffer(&b)
		}},
		{"length64", []byte{1, 0, 0, 0, 1, 0, 0, 0}, func(s *State) error {
			n := uint64(0)
			return s.CodeLength64(&n, 1)
		}},
		{"utf8", []byte{1, 0, 0, 0, 0xff}, func(s *State) error {
			var str string
			return s.CodeUTF8(&str)
		}},
		{"nul", []byte{2, 0, 0, 0, 'a', 0}, func(s *State) error {
			var str string
			return s.CodeCharsZ(&str)
		}},
		{"trailing", []byte{1, 2}, func(s *State) error {
			var v uint8
			if err := s.CodeUint8(&v); err != nil {
				return err
			}
			return s.Done()
		}},
	} {
		err := test.code(NewDecoder(test.data))
		if got := ResultOf(err); got != BadDecode {
			t.Errorf("%s: got %v (%v), want bad decode", test.name, got, err)
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	s := NewEncoder()
	str := "a\x00b"
	if err := s.CodeCharsZ(&str); ResultOf(err) != Failure {
		t.Errorf("CodeCharsZ with NUL: got %v", err)
	}
	str = "λ"
	if err := s.CodeLatin1(&str); ResultOf(err) != Failure {
		t.Errorf("CodeLatin1 of non-Latin-1: got %v", err)
	}
}

func TestBuildID(t *testing.T) {
	if id := BuildID(); !regexp.MustCompile(`^stencil20-[48][lb]01$`).MatchString(id) {
		t.Errorf("BuildID = %q", id)
	}

	enc := NewEncoder()
	if err := enc.CodeVersion(); err != nil {
		t.Fatal(err)
	}
	data := enc.Bytes()
	if err := NewDecoder(data).CodeVersion(); err != nil {
		t.Errorf("matching build id rejected: %v", err)
	}

	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)-1] ^= 1
	if err := NewDecoder(corrupt).CodeVersion(); ResultOf(err) != BadBuildID {
		t.Errorf("altered build id: got %v, want bad build id", err)
	}

	for _, prefix := range []string{"stencil21", "stencil2"} {
		BuildIDPrefix = prefix
		err := NewDecoder(data).CodeVersion()
		BuildIDPrefix = "stencil20"
		if ResultOf(err) != BadBuildID {
			t.Errorf("prefix %q: got %v, want bad build id", prefix, err)
		}
	}
}

func TestResultOf(t *testing.T) {
	for _, test := range []struct {
		err  error
		want TranscodeResult
	}{
		{nil, Ok},
		{ErrThrow, Throw},
		{NewDecoder(nil).fail(ErrBadDecode, "x"), BadDecode},
		{NewEncoder().fail(ErrOutOfMemory, "y"), OutOfMemory},
		{bytes.ErrTooLarge, Failure},
	} {
		if got := ResultOf(test.err); got != test.want {
			t.Errorf("ResultOf(%v) = %v, want %v", test.err, got, test.want)
		}
	}
	if Throw.IsFailure() || Ok.IsFailure() || !BadBuildID.IsFailure() {
		t.Errorf("IsFailure misclassifies results")
	}
}
