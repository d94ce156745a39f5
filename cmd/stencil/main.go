// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The stencil command compiles, transcodes and inspects compilation
// units.
//
//	stencil encode unit.yaml -o unit.xdr
//	stencil decode unit.xdr
//	stencil dump -output json unit.xdr
//	stencil inspect unit.xdr
//	stencil cache put unit.yaml
//
// Units named *.yaml or *.yml are compilation-unit descriptors (see
// package frontend); any other file is transcoded data.
package main // import "go.stencil.dev/cmd/stencil"

import (
	"context"
	"os"
)

func main() {
	if err := createRootCommand(context.Background(), &Input{}).Execute(); err != nil {
		os.Exit(1)
	}
}
