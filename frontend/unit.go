// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frontend loads compilation-unit descriptors and compiles them
// to stencils.
//
// A descriptor is a YAML document standing in for the output of a
// parser: the source text of a unit, its scopes in enclosing-first
// order with bindings already sorted by the parser, and its scripts.
// For example:
//
//	filename: a.js
//	source: "function f(a) { return () => a; }"
//	scopes:
//	  - kind: global
//	    bindings: [f!]
//	  - kind: function
//	    enclosing: 0
//	    function: 1
//	    bindings: [a*]
//	    nonPositionalFormalStart: 1
//	    varStart: 1
//	scripts:
//	  - extent: {end: 34}
//	    things: [scope#0, function#1]
//	  - name: f
//	    extent: {start: 0, end: 34, line: 1}
//	    flags: [function]
//	    functionFlags: [interpreted]
//	    nargs: 1
//	    things: [scope#1]
//
// A binding written as a plain string may carry a suffix: "*" marks it
// closed over and "!" marks a top-level function. The empty string
// denotes a destructured parameter.
package frontend // import "go.stencil.dev/frontend"

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// A Unit is a decoded compilation-unit descriptor.
type Unit struct {
	Filename       string           `yaml:"filename"`
	Source         string           `yaml:"source"`
	SourceFile     string           `yaml:"sourceFile"` // read relative to the descriptor if Source is empty
	SourceMapURL   string           `yaml:"sourceMapURL"`
	Strict         bool             `yaml:"strict"`
	Module         bool             `yaml:"module"`
	ForceFullParse bool             `yaml:"forceFullParse"`
	Scopes         []ScopeDesc      `yaml:"scopes"`
	Scripts        []ScriptDesc     `yaml:"scripts"`
	RegExps        []RegExpDesc     `yaml:"regexps"`
	BigInts        []string         `yaml:"bigints"`
	ObjLiterals    []ObjLiteralDesc `yaml:"objliterals"`
	ModuleMetadata *ModuleDesc      `yaml:"moduleMetadata"`

	// Delazifications are the full compilations of lazy functions of
	// the unit. Each is a unit whose first script is the function.
	Delazifications []*Unit `yaml:"delazifications"`

	file string // descriptor filename, for diagnostics
	line int
}

// A ScopeDesc describes one scope. Enclosing is the index of the
// enclosing scope within the unit, or absent if the scope is enclosed
// by the unit's outer scope.
type ScopeDesc struct {
	Kind      string        `yaml:"kind"`
	Enclosing *int          `yaml:"enclosing"`
	Bindings  []BindingDesc `yaml:"bindings"`

	NonPositionalFormalStart uint16 `yaml:"nonPositionalFormalStart"`
	VarStart                 uint32 `yaml:"varStart"`
	LetStart                 uint32 `yaml:"letStart"`
	ConstStart               uint32 `yaml:"constStart"`
	HasParameterExprs        bool   `yaml:"hasParameterExprs"`

	// NeedsEnvironment is the caller's fact that a function or var
	// scope needs an environment regardless of its bindings.
	NeedsEnvironment bool `yaml:"needsEnvironment"`
	Function         *int `yaml:"function"` // script index of a function scope
	Arrow            bool `yaml:"arrow"`

	line int
}

// A BindingDesc describes one binding.
type BindingDesc struct {
	Name             string `yaml:"name"`
	Closed           bool   `yaml:"closed"`
	TopLevelFunction bool   `yaml:"topLevelFunction"`

	line int
}

// An ExtentDesc locates a script. The toString range defaults to the
// source range.
type ExtentDesc struct {
	Start         uint32 `yaml:"start"`
	End           uint32 `yaml:"end"`
	ToStringStart uint32 `yaml:"toStringStart"`
	ToStringEnd   uint32 `yaml:"toStringEnd"`
	Line          uint32 `yaml:"line"`
	Column        uint32 `yaml:"column"`
}

// A ScriptDesc describes one script. The first script of a unit is
// its top-level script.
type ScriptDesc struct {
	Name           string     `yaml:"name"`
	Extent         ExtentDesc `yaml:"extent"`
	Flags          []string   `yaml:"flags"`
	FunctionFlags  []string   `yaml:"functionFlags"`
	Nargs          uint16     `yaml:"nargs"`
	EnclosingScope *int       `yaml:"enclosingScope"` // of a lazy function
	Code           string     `yaml:"code"`           // hex
	Things         []string   `yaml:"things"`

	MemberInitializers *uint32 `yaml:"memberInitializers"`
	Standalone         bool    `yaml:"standalone"`
	Emitted            bool    `yaml:"emitted"`
	Singleton          bool    `yaml:"singleton"`
	Relazify           bool    `yaml:"relazify"`

	line int
}

// A RegExpDesc describes a regular expression literal.
type RegExpDesc struct {
	Pattern string `yaml:"pattern"`
	Flags   uint8  `yaml:"flags"`
}

// An ObjLiteralDesc describes an object literal template.
type ObjLiteralDesc struct {
	Flags uint8    `yaml:"flags"`
	Code  string   `yaml:"code"` // hex
	Atoms []string `yaml:"atoms"`
}

// A ModuleDesc describes the imports and exports of a module unit.
type ModuleDesc struct {
	RequestedModules      []EntryDesc `yaml:"requestedModules"`
	ImportEntries         []EntryDesc `yaml:"importEntries"`
	LocalExportEntries    []EntryDesc `yaml:"localExportEntries"`
	IndirectExportEntries []EntryDesc `yaml:"indirectExportEntries"`
	StarExportEntries     []EntryDesc `yaml:"starExportEntries"`
	FunctionDecls         []uint32    `yaml:"functionDecls"`
	Async                 bool        `yaml:"async"`
}

// An EntryDesc describes one import or export record.
type EntryDesc struct {
	Specifier  string `yaml:"specifier"`
	LocalName  string `yaml:"localName"`
	ImportName string `yaml:"importName"`
	ExportName string `yaml:"exportName"`
	Line       uint32 `yaml:"line"`
	Column     uint32 `yaml:"column"`
}

// An Error is a problem with a descriptor at a particular line.
type Error struct {
	File string
	Ln   int
	Msg  string
}

func (e Error) Error() string { return fmt.Sprintf("%s:%d: %s", e.File, e.Ln, e.Msg) }

// Line returns the descriptor line of the error.
func (e Error) Line() int { return e.Ln }

func (u *Unit) UnmarshalYAML(n *yaml.Node) error {
	type plain Unit
	if err := n.Decode((*plain)(u)); err != nil {
		return err
	}
	u.line = n.Line
	return nil
}

func (s *ScopeDesc) UnmarshalYAML(n *yaml.Node) error {
	type plain ScopeDesc
	if err := n.Decode((*plain)(s)); err != nil {
		return err
	}
	s.line = n.Line
	return nil
}

func (s *ScriptDesc) UnmarshalYAML(n *yaml.Node) error {
	type plain ScriptDesc
	if err := n.Decode((*plain)(s)); err != nil {
		return err
	}
	s.line = n.Line
	return nil
}

// UnmarshalYAML accepts either a mapping or the short string form.
func (b *BindingDesc) UnmarshalYAML(n *yaml.Node) error {
	b.line = n.Line
	if n.Kind != yaml.ScalarNode {
		type plain BindingDesc
		return n.Decode((*plain)(b))
	}
	name := n.Value
	for len(name) > 0 {
		switch name[len(name)-1] {
		case '*':
			b.Closed = true
		case '!':
			b.TopLevelFunction = true
		default:
			b.Name = name
			return nil
		}
		name = name[:len(name)-1]
	}
	return nil
}

// Parse decodes the descriptor data read from filename.
func Parse(filename string, data []byte) (*Unit, error) {
	var u Unit
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, errors.Wrapf(err, "%s", filename)
	}
	u.setFile(filename)
	if u.Source == "" && u.SourceFile != "" {
		path := u.SourceFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(filename), path)
		}
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading unit source")
		}
		u.Source = string(text)
	}
	if u.Filename == "" {
		u.Filename = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)) + ".js"
	}
	return &u, nil
}

func (u *Unit) setFile(filename string) {
	u.file = filename
	for _, d := range u.Delazifications {
		if d != nil {
			d.setFile(filename)
		}
	}
}

// Load reads and decodes the descriptor in filename.
func Load(filename string) (*Unit, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "reading descriptor")
	}
	return Parse(filename, data)
}
