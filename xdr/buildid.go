// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdr

import (
	"encoding/binary"
	"strconv"
)

// BuildIDPrefix identifies the producer of transcoded data. Data
// encoded by a build with a different prefix is rejected.
var BuildIDPrefix = "stencil20"

// FeatureFlags are two digits recording build-configuration choices
// that affect the compiled data.
var FeatureFlags = "01"

// BuildID returns the identifier written at the start of all encoded
// data: the prefix, then a pointer-width digit, an endianness letter and
// the feature flags, as in "stencil20-8l01".
func BuildID() string {
	width := byte('8')
	if strconv.IntSize == 32 {
		width = '4'
	}
	order := byte('l')
	if binary.NativeEndian.Uint16([]byte{1, 0}) != 1 {
		order = 'b'
	}
	return BuildIDPrefix + "-" + string([]byte{width, order}) + FeatureFlags
}

// CodeVersion codes the build id. Decoding fails with ErrBadBuildID
// if the data was produced by a different build.
func (s *State) CodeVersion() error {
	id := BuildID()
	n := uint32(len(id))
	if err := s.CodeUint32(&n); err != nil {
		return err
	}
	if s.mode == Decode && n != uint32(len(id)) {
		return s.fail(ErrBadBuildID, "build id of length %d, want %q", n, id)
	}
	b := []byte(id)
	if err := s.CodeBytes(b); err != nil {
		return err
	}
	if s.mode == Decode && string(b) != id {
		return s.fail(ErrBadBuildID, "build id %q, want %q", b, id)
	}
	return nil
}
