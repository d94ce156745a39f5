// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package repl provides an interactive inspector for decoded units.
//
// It supports readline-style command editing. Each line is one
// command; "help" lists them. Scope and script indices refer to the
// selected unit, which is initially the top-level stencil.
package repl // import "go.stencil.dev/repl"

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"go.stencil.dev/scope"
	"go.stencil.dev/stencil"
)

// An Inspector answers commands about one compilation unit.
type Inspector struct {
	v    *stencil.CompilationInfoVector
	unit int // 0 is the initial stencil, i > 0 the delazification i-1

	arena  *scope.Arena
	scopes map[int][]*scope.Scope // instantiated scopes, by unit
}

// NewInspector returns an inspector of v.
func NewInspector(v *stencil.CompilationInfoVector) *Inspector {
	return &Inspector{v: v, arena: scope.NewArena(nil), scopes: make(map[int][]*scope.Scope)}
}

var commands = []struct {
	name, args, help string
	run              func(in *Inspector, w io.Writer, args []string) error
}{
	{"units", "", "list the initial stencil and its delazifications", (*Inspector).units},
	{"unit", "N", "select unit N", (*Inspector).selectUnit},
	{"scopes", "", "list the scopes of the unit", (*Inspector).listScopes},
	{"scope", "N", "show the bindings of scope N", (*Inspector).showScope},
	{"scripts", "", "list the scripts of the unit", (*Inspector).listScripts},
	{"atoms", "", "list the atoms of the unit", (*Inspector).listAtoms},
	{"chain", "N", "show the instantiated chain of scope N", (*Inspector).showChain},
	{"env", "N", "show the environment shape of scope N", (*Inspector).showEnv},
}

// Exec runs one command line, writing its output to w.
func (in *Inspector) Exec(w io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	if fields[0] == "help" {
		for _, c := range commands {
			fmt.Fprintf(w, "%-8s %-2s  %s\n", c.name, c.args, c.help)
		}
		return nil
	}
	for _, c := range commands {
		if c.name != fields[0] {
			continue
		}
		if want := len(strings.Fields(c.args)); len(fields)-1 != want {
			return fmt.Errorf("usage: %s %s", c.name, c.args)
		}
		return c.run(in, w, fields[1:])
	}
	return fmt.Errorf("unknown command %q; try help", fields[0])
}

// REPL reads and executes commands until EOF.
func REPL(in *Inspector) {
	rl, err := readline.New("> ")
	if err != nil {
		PrintError(err)
		return
	}
	defer rl.Close()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			fmt.Println(err)
			continue
		} else if err != nil {
			break
		}
		if err := in.Exec(rl.Stdout(), line); err != nil {
			PrintError(err)
		}
	}
	fmt.Println()
}

// PrintError prints the error to stderr.
func PrintError(err error) {
	fmt.Fprintln(os.Stderr, err)
}

func (in *Inspector) stencil() *stencil.CompilationStencil {
	if in.unit == 0 {
		return in.v.Initial.Stencil
	}
	return in.v.Delazifications[in.unit-1]
}

func index(arg string, n int, what string) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil || i < 0 || i >= n {
		return 0, fmt.Errorf("no %s %s (have %d)", what, arg, n)
	}
	return i, nil
}

func (in *Inspector) units(w io.Writer, _ []string) error {
	for i := 0; i <= len(in.v.Delazifications); i++ {
		mark := " "
		if i == in.unit {
			mark = "*"
		}
		cs := in.v.Initial.Stencil
		if i > 0 {
			cs = in.v.Delazifications[i-1]
		}
		top := cs.TopLevel()
		name := "<top level>"
		if i > 0 && top.FunctionAtom != nil {
			name = top.FunctionAtom.String()
		}
		fmt.Fprintf(w, "%s%d %s %s: %d scopes, %d scripts\n", mark, i, name, top.Extent, len(cs.Scopes), len(cs.Scripts))
	}
	return nil
}

func (in *Inspector) selectUnit(w io.Writer, args []string) error {
	i, err := index(args[0], len(in.v.Delazifications)+1, "unit")
	if err != nil {
		return err
	}
	in.unit = i
	return nil
}

func (in *Inspector) listScopes(w io.Writer, _ []string) error {
	cs := in.stencil()
	for i, st := range cs.Scopes {
		fmt.Fprintf(w, "#%d %s", i, st.Kind)
		if st.Enclosing != stencil.NoScope {
			fmt.Fprintf(w, " in #%d", st.Enclosing)
		}
		fmt.Fprintf(w, " (%d bindings)\n", len(namesOf(st.Data)))
	}
	return nil
}

func namesOf(data scope.Data) []scope.BindingName {
	if data == nil {
		return nil
	}
	return data.Names()
}

func (in *Inspector) showScope(w io.Writer, args []string) error {
	cs := in.stencil()
	i, err := index(args[0], len(cs.Scopes), "scope")
	if err != nil {
		return err
	}
	cs.DumpScope(w, stencil.ScopeIndex(i))
	return nil
}

func (in *Inspector) listScripts(w io.Writer, _ []string) error {
	cs := in.stencil()
	for i := range cs.Scripts {
		cs.DumpScript(w, stencil.ScriptIndex(i))
	}
	return nil
}

func (in *Inspector) listAtoms(w io.Writer, _ []string) error {
	for _, a := range in.stencil().Atoms.Atoms() {
		used := ""
		if a.Used() {
			used = " used"
		}
		fmt.Fprintf(w, "%3d %q%s\n", a.Index(), a, used)
	}
	return nil
}

// instantiate promotes the scopes of unit i, and of the initial
// stencil enclosing them, into the inspector's arena.
func (in *Inspector) instantiate(i int) ([]*scope.Scope, error) {
	if s, ok := in.scopes[i]; ok {
		return s, nil
	}
	var outer *scope.Scope
	cs := in.v.Initial.Stencil
	if i > 0 {
		initial, err := in.instantiate(0)
		if err != nil {
			return nil, err
		}
		cs = in.v.Delazifications[i-1]
		key := cs.TopLevel().Extent.Key()
		for _, j := range in.v.Initial.Stencil.LazyFunctions() {
			s := &in.v.Initial.Stencil.Scripts[j]
			if s.Extent.Key() == key && s.LazyFunctionEnclosingScopeIndex != stencil.NoScope {
				outer = initial[s.LazyFunctionEnclosingScopeIndex]
			}
		}
	}
	scopes, err := cs.InstantiateScopes(in.arena, outer)
	if err != nil {
		return nil, err
	}
	in.scopes[i] = scopes
	return scopes, nil
}

func (in *Inspector) scope(arg string) (*scope.Scope, error) {
	i, err := index(arg, len(in.stencil().Scopes), "scope")
	if err != nil {
		return nil, err
	}
	scopes, err := in.instantiate(in.unit)
	if err != nil {
		return nil, err
	}
	return scopes[i], nil
}

func (in *Inspector) showChain(w io.Writer, args []string) error {
	s, err := in.scope(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(w, scope.Dump(s))
	return nil
}

func (in *Inspector) showEnv(w io.Writer, args []string) error {
	s, err := in.scope(args[0])
	if err != nil {
		return err
	}
	sh := s.Shape()
	if sh == nil {
		fmt.Fprintf(w, "%s scope has no environment\n", s.Kind())
		return nil
	}
	fmt.Fprintf(w, "%s environment, %d slots\n", sh.Class(), sh.SlotSpan())
	for _, e := range sh.Entries() {
		ro := ""
		if e.ReadOnly {
			ro = " read-only"
		}
		fmt.Fprintf(w, "  %2d: %s %s%s\n", e.Slot, e.Kind, e.Name, ro)
	}
	return nil
}
