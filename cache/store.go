// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"

	"go.stencil.dev/stencil"
	"go.stencil.dev/xdr"
)

// Defaults for Options.
const (
	DefaultMaxEntries = 1024
	DefaultKeepUnused = 7 * 24 * time.Hour
)

// Options configure a Store.
type Options struct {
	// MaxEntries bounds the number of artifacts kept by Evict.
	// Negative means unbounded.
	MaxEntries int
	// KeepUnused is how long an artifact survives Evict without being
	// read. Negative means forever.
	KeepUnused time.Duration
	Logger     logrus.FieldLogger
}

// A Store is an on-disk cache of transcoded units.
// It is not safe for concurrent use.
type Store struct {
	dir        string
	db         *bolthold.Store
	storage    *storage
	maxEntries int
	keepUnused time.Duration
	logger     logrus.FieldLogger
	now        func() time.Time
}

// Open opens the store in dir, creating it if necessary.
// The store holds an exclusive lock on its index until Close.
func Open(dir string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.Out = io.Discard
		logger = discard
	}
	logger = logger.WithField("module", "cache")

	if dir == "" {
		home, err := os.UserCacheDir()
		if err != nil {
			return nil, errors.Wrap(err, "cache directory")
		}
		dir = filepath.Join(home, "stencil")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "cache directory")
	}
	st, err := newStorage(filepath.Join(dir, "artifacts"))
	if err != nil {
		return nil, err
	}
	db, err := bolthold.Open(filepath.Join(dir, "index.db"), 0o644, &bolthold.Options{
		Encoder: json.Marshal,
		Decoder: json.Unmarshal,
		Options: &bbolt.Options{
			Timeout:      5 * time.Second,
			NoGrowSync:   bbolt.DefaultOptions.NoGrowSync,
			FreelistType: bbolt.DefaultOptions.FreelistType,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "open index")
	}

	s := &Store{
		dir:        dir,
		db:         db,
		storage:    st,
		maxEntries: opts.MaxEntries,
		keepUnused: opts.KeepUnused,
		logger:     logger,
		now:        time.Now,
	}
	if s.maxEntries == 0 {
		s.maxEntries = DefaultMaxEntries
	}
	if s.keepUnused == 0 {
		s.keepUnused = DefaultKeepUnused
	}
	logger.Debugf("opened %s", dir)
	return s, nil
}

// Dir returns the directory of s.
func (s *Store) Dir() string { return s.dir }

// Close releases the index of s.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Put encodes v and stores it as the artifact of source, replacing any
// previous artifact.
func (s *Store) Put(source string, v *stencil.CompilationInfoVector) error {
	data, err := xdr.EncodeStencils(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", v.Initial.Input.Options.Filename)
	}
	return s.PutEncoded(source, v.Initial.Input.Options.Filename, data)
}

// PutEncoded stores data, the output of an xdr encoder, as the
// artifact of source.
func (s *Store) PutEncoded(source, filename string, data []byte) error {
	key := Key(source)
	now := s.now().Unix()
	e := &Entry{}
	insert := false
	if err := s.db.FindOne(e, bolthold.Where("Key").Eq(key)); err != nil {
		if !errors.Is(err, bolthold.ErrNotFound) {
			return errors.Wrap(err, "find entry")
		}
		insert = true
		e = &Entry{Key: key, BuildID: xdr.BuildID()}
	}
	e.Filename = filename
	e.Size = int64(len(data))
	e.CreatedAt = now
	e.UsedAt = now
	if insert {
		if err := s.db.Insert(bolthold.NextSequence(), e); err != nil {
			return errors.Wrap(err, "insert entry")
		}
	}
	// write back id to db
	if err := s.db.Update(e.ID, e); err != nil {
		return errors.Wrap(err, "update entry")
	}
	if err := s.storage.write(e.ID, data); err != nil {
		if derr := s.db.Delete(e.ID, e); derr != nil {
			s.logger.Errorf("delete entry %d: %v", e.ID, derr)
		}
		return errors.Wrapf(err, "write artifact %d", e.ID)
	}
	s.logger.Infof("stored %s (%d bytes) as %d", filename, len(data), e.ID)
	return nil
}

// Get returns the artifact of source, decoded with opts. It reports
// false if there is none.
//
// An artifact that is corrupt or was written by a different build is
// deleted and reported missing. One compiled with options other than
// opts is kept and reported missing.
func (s *Store) Get(source string, opts stencil.CompileOptions) (*stencil.CompilationInfoVector, bool, error) {
	key := Key(source)
	e := &Entry{}
	if err := s.db.FindOne(e, bolthold.Where("Key").Eq(key)); err != nil {
		if errors.Is(err, bolthold.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "find entry")
	}

	data, release, err := s.storage.read(e.ID)
	if os.IsNotExist(errors.Cause(err)) {
		s.logger.Warnf("artifact %d of %s is missing", e.ID, e.Filename)
		if err := s.db.Delete(e.ID, e); err != nil {
			return nil, false, errors.Wrapf(err, "delete entry %d", e.ID)
		}
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrapf(err, "read artifact %d", e.ID)
	}
	v, err := xdr.DecodeStencils(data, opts)
	release()

	switch xdr.ResultOf(err) {
	case xdr.Ok:
	case xdr.BadBuildID, xdr.BadDecode:
		s.logger.Infof("invalidated artifact %d of %s: %v", e.ID, e.Filename, err)
		if err := s.remove(e); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	case xdr.WrongCompileOption:
		s.logger.Debugf("artifact %d of %s: %v", e.ID, e.Filename, err)
		return nil, false, nil
	default:
		return nil, false, errors.Wrapf(err, "decode artifact %d", e.ID)
	}

	e.UsedAt = s.now().Unix()
	if err := s.db.Update(e.ID, e); err != nil {
		s.logger.Warnf("update entry %d: %v", e.ID, err)
	}
	s.logger.Debugf("hit %s as %d", e.Filename, e.ID)
	return v, true, nil
}

// Entries returns the index, most recently used first.
func (s *Store) Entries() ([]*Entry, error) {
	var entries []*Entry
	if err := s.db.Find(&entries, (&bolthold.Query{}).SortBy("UsedAt").Reverse()); err != nil {
		return nil, errors.Wrap(err, "list entries")
	}
	return entries, nil
}

// Remove deletes the artifact of source, if any.
func (s *Store) Remove(source string) error {
	e := &Entry{}
	if err := s.db.FindOne(e, bolthold.Where("Key").Eq(Key(source))); err != nil {
		if errors.Is(err, bolthold.ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "find entry")
	}
	return s.remove(e)
}

func (s *Store) remove(e *Entry) error {
	s.storage.remove(e.ID)
	if err := s.db.Delete(e.ID, e); err != nil {
		return errors.Wrapf(err, "delete entry %d", e.ID)
	}
	return nil
}

// Evict deletes artifacts written by other builds, artifacts unused
// for longer than the KeepUnused option, and then the least recently
// used artifacts beyond MaxEntries. It returns the number deleted.
func (s *Store) Evict() (int, error) {
	n := 0
	evict := func(entries []*Entry, why string) {
		for _, e := range entries {
			if err := s.remove(e); err != nil {
				s.logger.Warnf("evict: %v", err)
				continue
			}
			s.logger.Infof("evicted %d of %s: %s", e.ID, e.Filename, why)
			n++
		}
	}

	var entries []*Entry
	if err := s.db.Find(&entries, bolthold.Where("BuildID").Ne(xdr.BuildID())); err != nil {
		return n, errors.Wrap(err, "find entries")
	}
	evict(entries, "stale build id")

	if s.keepUnused > 0 {
		entries = entries[:0]
		if err := s.db.Find(&entries, bolthold.Where("UsedAt").Lt(s.now().Add(-s.keepUnused).Unix())); err != nil {
			return n, errors.Wrap(err, "find entries")
		}
		evict(entries, "unused")
	}

	if s.maxEntries >= 0 {
		entries = entries[:0]
		if err := s.db.Find(&entries, (&bolthold.Query{}).SortBy("UsedAt").Reverse()); err != nil {
			return n, errors.Wrap(err, "find entries")
		}
		if len(entries) > s.maxEntries {
			evict(entries[s.maxEntries:], "over capacity")
		}
	}
	return n, nil
}
