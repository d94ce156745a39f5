// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache stores transcoded compilation units on disk.
//
// An artifact is keyed by the SHA-256 digest of its source text and the
// build id of the encoder, so that a new build never sees artifacts of
// an old one. The index of artifacts is a bolthold database alongside
// the artifact files. Artifacts that fail to decode are removed on
// sight, and the caller recompiles from source.
package cache // import "go.stencil.dev/cache"
