// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/structpb"

	"go.stencil.dev/offthread"
	"go.stencil.dev/scope"
	"go.stencil.dev/stencil"
)

func marshaler(format string) (func(protoreflect.ProtoMessage) ([]byte, error), error) {
	switch format {
	case "wire":
		return proto.Marshal, nil
	case "text":
		return prototext.MarshalOptions{Multiline: true, Indent: "\t"}.Marshal, nil
	case "json":
		return protojson.MarshalOptions{Multiline: true, Indent: "\t"}.Marshal, nil
	}
	return nil, fmt.Errorf("unsupported -output format: %s", format)
}

// describe returns res as a message: the compilation input, the
// instantiated scopes of the initial stencil with their environments,
// the scripts, and a summary of each delazification.
func describe(res *offthread.Result) (*structpb.Struct, error) {
	v := res.Info
	in := v.Initial.Input.Options
	scopes := make([]interface{}, len(res.Scopes))
	for i, s := range res.Scopes {
		scopes[i] = describeScope(s, &v.Initial.Stencil.Scopes[i])
	}
	var delazifications []interface{}
	for _, d := range v.Delazifications {
		delazifications = append(delazifications, map[string]interface{}{
			"extent":  d.TopLevel().Extent.String(),
			"scopes":  len(d.Scopes),
			"scripts": describeScripts(d),
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"input": map[string]interface{}{
			"filename": in.Filename,
			"strict":   in.Strict,
			"module":   in.Module,
		},
		"scopes":          scopes,
		"scripts":         describeScripts(v.Initial.Stencil),
		"delazifications": delazifications,
	})
}

func describeScope(s *scope.Scope, st *stencil.ScopeStencil) map[string]interface{} {
	var bindings []interface{}
	for bi := s.Bindings(); !bi.Done(); bi.Next() {
		name := ""
		if n := bi.Name(); n != nil {
			name = n.String()
		}
		bindings = append(bindings, map[string]interface{}{
			"name":       name,
			"kind":       bi.Kind().String(),
			"location":   bi.Location().String(),
			"closedOver": bi.ClosedOver(),
		})
	}
	m := map[string]interface{}{
		"kind":           s.Kind().String(),
		"firstFrameSlot": s.FirstFrameSlot(),
		"nextFrameSlot":  scope.NextFrameSlot(s),
		"bindings":       bindings,
	}
	if st.Enclosing != stencil.NoScope {
		m["enclosing"] = uint32(st.Enclosing)
	}
	if sh := s.Shape(); sh != nil {
		m["environment"] = map[string]interface{}{
			"class": sh.Class().String(),
			"slots": sh.SlotSpan(),
		}
	}
	return m
}

func describeScripts(cs *stencil.CompilationStencil) []interface{} {
	scripts := make([]interface{}, len(cs.Scripts))
	for i := range cs.Scripts {
		s := &cs.Scripts[i]
		m := map[string]interface{}{
			"extent":   s.Extent.String(),
			"nargs":    uint32(s.Nargs),
			"function": s.IsFunction(),
			"lazy":     s.IsLazy(),
		}
		if s.FunctionAtom != nil {
			m["name"] = s.FunctionAtom.String()
		}
		scripts[i] = m
	}
	return scripts
}
