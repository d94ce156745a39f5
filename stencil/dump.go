// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stencil

import (
	"fmt"
	"io"
	"strings"

	"go.stencil.dev/scope"
)

// Dump writes a human-readable description of cs to w.
func (cs *CompilationStencil) Dump(w io.Writer) {
	fmt.Fprintf(w, "scopes:\n")
	for i := range cs.Scopes {
		cs.DumpScope(w, ScopeIndex(i))
	}
	fmt.Fprintf(w, "scripts:\n")
	for i := range cs.Scripts {
		cs.DumpScript(w, ScriptIndex(i))
	}
	if m := cs.ModuleMetadata; m != nil {
		fmt.Fprintf(w, "module: %d requested, %d imports, %d local exports, %d indirect exports, %d star exports\n",
			len(m.RequestedModules), len(m.ImportEntries), len(m.LocalExportEntries),
			len(m.IndirectExportEntries), len(m.StarExportEntries))
	}
}

// DumpScope writes the scope stencil at i and its bindings to w.
func (cs *CompilationStencil) DumpScope(w io.Writer, i ScopeIndex) {
	st := &cs.Scopes[i]
	fmt.Fprintf(w, "  #%d %s", i, st.Kind)
	if st.Enclosing != NoScope {
		fmt.Fprintf(w, " in #%d", st.Enclosing)
	}
	if st.HasEnvironment {
		fmt.Fprintf(w, " env=%d", st.NumEnvironmentSlots)
	}
	if st.FunctionIndex != NoScript {
		fmt.Fprintf(w, " function=#%d", st.FunctionIndex)
	}
	if st.IsArrow {
		fmt.Fprintf(w, " arrow")
	}
	fmt.Fprintln(w)
	for bi := scope.NewBindingIter(st.Kind, st.Data, st.FirstFrameSlot); !bi.Done(); bi.Next() {
		fmt.Fprintf(w, "    %2d: %s %s (%s)\n", bi.Index(), bi.Kind(), bi.Binding(), bi.Location())
	}
}

// DumpScript writes the script stencil at i to w.
func (cs *CompilationStencil) DumpScript(w io.Writer, i ScriptIndex) {
	s := &cs.Scripts[i]
	name := "<top level>"
	switch {
	case s.FunctionAtom != nil:
		name = s.FunctionAtom.String()
	case s.IsFunction():
		name = "<anonymous>"
	}
	fmt.Fprintf(w, "  #%d %s %s nargs=%d", i, name, s.Extent, s.Nargs)
	if s.IsLazy() {
		fmt.Fprintf(w, " lazy")
		if s.LazyFunctionEnclosingScopeIndex != NoScope {
			fmt.Fprintf(w, " in #%d", s.LazyFunctionEnclosingScopeIndex)
		}
	}
	if s.SharedData != nil {
		fmt.Fprintf(w, " code=%dB", len(s.SharedData))
	}
	if len(s.GCThings) > 0 {
		things := make([]string, len(s.GCThings))
		for j, t := range s.GCThings {
			things[j] = t.String()
		}
		fmt.Fprintf(w, " things=[%s]", strings.Join(things, " "))
	}
	fmt.Fprintln(w)
}
