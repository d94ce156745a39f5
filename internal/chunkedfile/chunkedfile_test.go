// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
package chunkedfile

import (
	"errors"
	"fmt"
	"testing"
)

type testReporter struct {
	reported []string
}

func (r *testReporter) Errorf(format string, args ...interface{}) {
	r.reported = append(r.reported, fmt.Sprintf(format, args...))
}

func (r *testReporter) assertNone(t *testing.T) {
	t.Helper()
	if len(r.reported) > 0 {
		t.Errorf("reporter expected no errors, got %q", r.reported)
	}
}

func (r *testReporter) assertOne(t *testing.T, exp string) {
	t.Helper()
	if len(r.reported) != 1 {
		t.Fatalf("reporter expected 1 error, got %q", r.reported)
	}
	if r.reported[0] != exp {
		t.Fatalf("reporter expected %q, got %q", exp, r.reported[0])
	}
	r.reported = nil
}

type lineError struct {
	line int
	msg  string
}

func (e lineError) Error() string { return e.msg }
func (e lineError) Line() int     { return e.line }

const testFile = `scopes:
  - kind: bogus ### "unknown scope kind"
---
scopes:
  - kind: global
`

func TestChunkedFile(t *testing.T) {
	reporter := &testReporter{}
	chunks := readBytes("test.yaml", []byte(testFile), reporter, "\n")
	reporter.assertNone(t)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	chunk := chunks[0]
	if exp := "scopes:\n  - kind: bogus ### \"unknown scope kind\""; chunk.Source != exp {
		t.Fatalf("expected %q, got %q", exp, chunk.Source)
	}
	if rx, ok := chunk.wantErrs[2]; !ok || rx.String() != "unknown scope kind" {
		t.Fatalf("expected error on line 2, got %v", chunk.wantErrs)
	}

	chunk.GotError(2, `test.yaml:2: unknown scope kind "bogus"`)
	reporter.assertNone(t)
	if len(chunk.wantErrs) != 0 {
		t.Fatalf("expected 0 errors, got %d", len(chunk.wantErrs))
	}

	// The same error a second time is unexpected.
	chunk.GotError(2, "unknown scope kind")
	reporter.assertOne(t, "\ntest.yaml:2: unexpected error: unknown scope kind")

	chunk = chunks[1]
	if exp := "\n\n\nscopes:\n  - kind: global\n"; chunk.Source != exp {
		t.Fatalf("expected %q, got %q", exp, chunk.Source)
	}
	chunk.Check(nil)
	reporter.assertNone(t)
}

func TestCheck(t *testing.T) {
	reporter := &testReporter{}
	chunks := readBytes("test.yaml", []byte(testFile), reporter, "\n")

	chunks[0].Check(fmt.Errorf("compiling: %w", lineError{2, "4 is not a scope kind"}))
	reporter.assertOne(t, "\ntest.yaml:2: error \"compiling: 4 is not a scope kind\" does not match pattern \"unknown scope kind\"")

	chunks[1].Check(errors.New("no line"))
	reporter.assertOne(t, "\ntest.yaml:0: unexpected error: no line")

	chunks = readBytes("test.yaml", []byte(testFile), reporter, "\n")
	chunks[0].Check(nil)
	reporter.assertOne(t, "\ntest.yaml:2: expected error matching \"unknown scope kind\"")
}

func TestBadExpectation(t *testing.T) {
	reporter := &testReporter{}
	readBytes("bad.yaml", []byte("kind: x ### unquoted\n"), reporter, "\n")
	reporter.assertOne(t, "\nbad.yaml:1: not a quoted regexp: unquoted")
}
