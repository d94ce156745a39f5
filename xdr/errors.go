// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdr

import (
	"github.com/pkg/errors"

	"go.stencil.dev/scope"
)

// Failures of transcoding. Errors returned by this package wrap exactly
// one of these; use errors.Is or ResultOf to classify them.
var (
	ErrOutOfMemory        = scope.ErrOutOfMemory
	ErrBadDecode          = errors.New("malformed transcoded data")
	ErrBadBuildID         = errors.New("transcoded data has a different build id")
	ErrThrow              = errors.New("compilation failed")
	ErrWrongCompileOption = errors.New("transcoded script compiled with different options")
	ErrAsmJSNotSupported  = errors.New("asm.js cannot be transcoded")
	ErrFailure            = errors.New("transcoding failed")
)

// A TranscodeResult classifies the outcome of a transcoding operation.
type TranscodeResult uint8

const (
	Ok TranscodeResult = iota
	Failure
	BadBuildID
	WrongCompileOption
	AsmJSNotSupported
	BadDecode
	Throw
	OutOfMemory
)

var resultNames = [...]string{
	Ok:                 "ok",
	Failure:            "failure",
	BadBuildID:         "bad build id",
	WrongCompileOption: "wrong compile option",
	AsmJSNotSupported:  "asm.js not supported",
	BadDecode:          "bad decode",
	Throw:              "throw",
	OutOfMemory:        "out of memory",
}

func (r TranscodeResult) String() string { return resultNames[r] }

// IsFailure reports whether r denotes a failure that leaves no pending
// diagnostic, as opposed to Ok or Throw.
func (r TranscodeResult) IsFailure() bool { return r != Ok && r != Throw }

var sentinels = []struct {
	err    error
	result TranscodeResult
}{
	{ErrOutOfMemory, OutOfMemory},
	{ErrBadDecode, BadDecode},
	{ErrBadBuildID, BadBuildID},
	{ErrThrow, Throw},
	{ErrWrongCompileOption, WrongCompileOption},
	{ErrAsmJSNotSupported, AsmJSNotSupported},
	{ErrFailure, Failure},
}

// ResultOf returns the result kind of err, which is Ok if err is nil and
// Failure if err matches none of the sentinels.
func ResultOf(err error) TranscodeResult {
	if err == nil {
		return Ok
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.result
		}
	}
	return Failure
}
