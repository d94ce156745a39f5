// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scope

// A Kind identifies the flavor of a lexical scope.
// The numeric values are part of the encoded stencil format.
type Kind uint8

const (
	Function          Kind = iota // function parameters and, absent parameter expressions, its vars
	FunctionBodyVar               // vars of a function with parameter expressions
	Lexical                       // block-level let/const
	SimpleCatch                   // catch clause binding a single name
	Catch                         // catch clause with a destructuring pattern
	NamedLambda                   // callee name of a named function expression
	StrictNamedLambda             // as NamedLambda, in strict code
	FunctionLexical               // top-level lexicals of a function body
	ClassBody                     // class body, including private names
	With                          // with statement; carries no bindings
	Eval                          // vars of a sloppy direct eval
	StrictEval                    // vars of a strict direct eval
	Global                        // top-level script
	NonSyntactic                  // top-level script on a non-syntactic environment chain
	Module                        // module top-level
	WasmInstance                  // synthetic scope of a foreign module instance
	WasmFunction                  // synthetic scope of a foreign function frame

	numKinds
)

var kindNames = [...]string{
	Function:          "function",
	FunctionBodyVar:   "function body var",
	Lexical:           "lexical",
	SimpleCatch:       "catch",
	Catch:             "catch",
	NamedLambda:       "named lambda",
	StrictNamedLambda: "strict named lambda",
	FunctionLexical:   "function lexical",
	ClassBody:         "class body",
	With:              "with",
	Eval:              "eval",
	StrictEval:        "strict eval",
	Global:            "global",
	NonSyntactic:      "non-syntactic",
	Module:            "module",
	WasmInstance:      "wasm instance",
	WasmFunction:      "wasm function",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "<invalid scope kind>"
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool { return k < numKinds }

// IsLexical reports whether scopes of kind k store their bindings as LexicalData.
func (k Kind) IsLexical() bool {
	switch k {
	case Lexical, SimpleCatch, Catch, NamedLambda, StrictNamedLambda, FunctionLexical, ClassBody:
		return true
	}
	return false
}

// IsNamedLambda reports whether k is one of the named lambda kinds.
func (k Kind) IsNamedLambda() bool { return k == NamedLambda || k == StrictNamedLambda }

// IsGlobal reports whether k is a top-level script kind.
func (k Kind) IsGlobal() bool { return k == Global || k == NonSyntactic }

// IsEval reports whether k is one of the direct eval kinds.
func (k Kind) IsEval() bool { return k == Eval || k == StrictEval }

// isIntraFrame reports whether scopes of kind k number their frame
// slots after those of the enclosing scope.
func (k Kind) isIntraFrame() bool {
	switch k {
	case Lexical, SimpleCatch, Catch, FunctionLexical, ClassBody:
		return true
	}
	return false
}

// Kinds returns all scope kinds in numeric order.
func Kinds() []Kind {
	kinds := make([]Kind, numKinds)
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}
