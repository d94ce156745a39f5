// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// storage holds one file per artifact, named by entry id.
type storage struct {
	rootDir string
}

func newStorage(rootDir string) (*storage, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "artifact directory")
	}
	return &storage{rootDir: rootDir}, nil
}

// write replaces the artifact id with data. Readers never observe a
// partially written file.
func (s *storage) write(id uint64, data []byte) error {
	name := s.filename(id)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	tmp := s.tempName(id)
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, name); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// read returns the contents of artifact id and a function releasing
// them. The contents must not be used after release.
func (s *storage) read(id uint64) ([]byte, func(), error) {
	return readFile(s.filename(id))
}

func (s *storage) remove(id uint64) {
	_ = os.Remove(s.filename(id))
	_ = os.Remove(s.tempName(id))
}

func (s *storage) filename(id uint64) string {
	return filepath.Join(s.rootDir, fmt.Sprintf("%02x", id%0xff), fmt.Sprintf("%d.xdr", id))
}

func (s *storage) tempName(id uint64) string {
	return filepath.Join(s.rootDir, "tmp", fmt.Sprint(id))
}
