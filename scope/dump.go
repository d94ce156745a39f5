// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

import (
	"bytes"
	"fmt"
	"io"
)

// DumpBindings writes one line per binding of s to w, in the form
//
//	 0: var x (frame slot 0)
func DumpBindings(w io.Writer, s *Scope) {
	for bi := s.Bindings(); !bi.Done(); bi.Next() {
		fmt.Fprintf(w, "%2d: %s %s (%s)\n", bi.Index(), bi.Kind(), bi.Binding(), describeLocation(&bi))
	}
}

func describeLocation(bi *BindingIter) string {
	loc := bi.Location()
	if loc.Kind == GlobalLocation && bi.IsTopLevelFunction() {
		return "global function"
	}
	return loc.String()
}

// Dump returns a description of the chain starting at s: the bindings of
// s, followed by the kinds of the enclosing scopes.
//
//	function {
//	   0: formal parameter a (env slot 2)
//	} -> global
func Dump(s *Scope) string {
	var buf bytes.Buffer
	buf.WriteString(s.kind.String())
	if bi := s.Bindings(); !bi.Done() {
		buf.WriteString(" {\n")
		for ; !bi.Done(); bi.Next() {
			fmt.Fprintf(&buf, "  %2d: %s %s (%s)\n", bi.Index(), bi.Kind(), bi.Binding(), describeLocation(&bi))
		}
		buf.WriteString("}")
	}
	for e := s.enclosing; e != nil; e = e.enclosing {
		buf.WriteString(" -> ")
		buf.WriteString(e.kind.String())
	}
	return buf.String()
}

func (s *Scope) String() string {
	return fmt.Sprintf("%s scope (%d bindings)", s.kind, len(namesOf(s.data)))
}

func namesOf(data Data) []BindingName {
	if data == nil {
		return nil
	}
	return data.Names()
}
