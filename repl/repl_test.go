// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package repl_test

import (
	"bytes"
	"strings"
	"testing"

	"go.stencil.dev/repl"
	"go.stencil.dev/stencil/stenciltest"
)

func TestCommands(t *testing.T) {
	in := repl.NewInspector(stenciltest.Sample())
	for _, test := range []struct {
		line string
		want []string // substrings of the output
	}{
		{"help", []string{"chain    N   show the instantiated chain of scope N"}},
		{"units", []string{"*0 <top level>", " 1 g [82, 109)"}},
		{"scopes", []string{"#0 global (5 bindings)", "#1 function in #0 (3 bindings)", "#2 lexical in #1 (1 bindings)"}},
		{"scope 1", []string{"#1 function in #0 env=3 function=#1", "0: formal parameter a (env slot 2)"}},
		{"scripts", []string{"#2 g [82, 109) 3:0 nargs=1 lazy in #0"}},
		{"atoms", []string{`"x"`, `"a+b"`}},
		{"chain 2", []string{"lexical {\n   0: let w (env slot 2)\n} -> function -> global"}},
		{"env 1", []string{"call environment, 3 slots", " 2: formal parameter a"}},
		{"env 0", []string{"global scope has no environment"}},
		{"unit 1", nil},
		{"units", []string{"*1 g"}},
		{"scopes", []string{"#0 function (1 bindings)"}},
		{"chain 0", []string{"-> global"}},
		{"", nil},
	} {
		var buf bytes.Buffer
		if err := in.Exec(&buf, test.line); err != nil {
			t.Errorf("%q: %v", test.line, err)
			continue
		}
		for _, want := range test.want {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("%q: output lacks %q:\n%s", test.line, want, buf.String())
			}
		}
	}
}

func TestCommandErrors(t *testing.T) {
	in := repl.NewInspector(stenciltest.Sample())
	for _, test := range []struct {
		line, want string
	}{
		{"frobnicate", `unknown command "frobnicate"`},
		{"scope", "usage: scope N"},
		{"scopes 1", "usage: scopes"},
		{"scope 3", "no scope 3 (have 3)"},
		{"chain x", "no scope x"},
		{"unit 2", "no unit 2 (have 2)"},
	} {
		var buf bytes.Buffer
		err := in.Exec(&buf, test.line)
		if err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("%q: got error %v, want %q", test.line, err, test.want)
		}
	}
}
