// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"go.stencil.dev/xdr"
)

// An Entry is the index record of one artifact.
type Entry struct {
	ID        uint64 `json:"id" boltholdKey:"ID"`
	Key       string `json:"key" boltholdIndex:"Key"`
	BuildID   string `json:"buildId" boltholdIndex:"BuildID"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	UsedAt    int64  `json:"usedAt" boltholdIndex:"UsedAt"`
	CreatedAt int64  `json:"createdAt" boltholdIndex:"CreatedAt"`
}

// Key returns the key of the artifact of source under the current
// build id.
func Key(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:]) + "-" + xdr.BuildID()
}
