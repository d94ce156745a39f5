// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"go.stencil.dev/stencil"
	"go.stencil.dev/stencil/stenciltest"
	"go.stencil.dev/xdr"
)

func openStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// clock returns a time source advanced by one second per call.
func clock() func() time.Time {
	now := time.Unix(1700000000, 0)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func sampleOptions() stencil.CompileOptions {
	return stenciltest.Sample().Initial.Input.Options
}

func lookup(t *testing.T, s *Store, source string) *Entry {
	t.Helper()
	for _, e := range mustEntries(t, s) {
		if e.Key == Key(source) {
			return e
		}
	}
	return nil
}

func mustEntries(t *testing.T, s *Store) []*Entry {
	t.Helper()
	entries, err := s.Entries()
	require.NoError(t, err)
	return entries
}

func TestPutGet(t *testing.T) {
	s := openStore(t, Options{})
	s.now = clock()
	want := stenciltest.Sample()

	defer t.Run("inspect db", func(t *testing.T) {
		require.NoError(t, s.db.Bolt().View(func(tx *bbolt.Tx) error {
			return tx.Bucket([]byte("Entry")).ForEach(func(k, v []byte) error {
				t.Logf("%x: %s", k, v)
				return nil
			})
		}))
	})

	t.Run("get not exist", func(t *testing.T) {
		v, ok, err := s.Get(stenciltest.SampleSource, sampleOptions())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, s.Put(stenciltest.SampleSource, want))
		got, ok, err := s.Get(stenciltest.SampleSource, sampleOptions())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Empty(t, stenciltest.Diff(want.Initial.Stencil, got.Initial.Stencil))
		require.Len(t, got.Delazifications, 1)
		assert.Empty(t, stenciltest.Diff(want.Delazifications[0], got.Delazifications[0]))
	})

	t.Run("get updates used at", func(t *testing.T) {
		e := lookup(t, s, stenciltest.SampleSource)
		require.NotNil(t, e)
		assert.Greater(t, e.UsedAt, e.CreatedAt)
		assert.Equal(t, xdr.BuildID(), e.BuildID)
		assert.Equal(t, "sample.js", e.Filename)
	})

	t.Run("put replaces", func(t *testing.T) {
		before := lookup(t, s, stenciltest.SampleSource)
		require.NoError(t, s.Put(stenciltest.SampleSource, want))
		entries := mustEntries(t, s)
		require.Len(t, entries, 1)
		assert.Equal(t, before.ID, entries[0].ID)
	})

	t.Run("other source", func(t *testing.T) {
		_, ok, err := s.Get(stenciltest.SampleSource+" ", sampleOptions())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestInvalidated(t *testing.T) {
	for _, test := range []struct {
		name    string
		corrupt func(data []byte) []byte
	}{
		{"build id", func(data []byte) []byte {
			data[4] ^= 0x20
			return data
		}},
		{"truncated", func(data []byte) []byte { return data[:len(data)/2] }},
		{"empty", func(data []byte) []byte { return nil }},
	} {
		t.Run(test.name, func(t *testing.T) {
			s := openStore(t, Options{})
			require.NoError(t, s.Put(stenciltest.SampleSource, stenciltest.Sample()))
			e := lookup(t, s, stenciltest.SampleSource)
			require.NotNil(t, e)
			name := s.storage.filename(e.ID)
			data, err := os.ReadFile(name)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(name, test.corrupt(data), 0o644))

			v, ok, err := s.Get(stenciltest.SampleSource, sampleOptions())
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, v)
			assert.Empty(t, mustEntries(t, s))
			_, err = os.Stat(name)
			assert.True(t, os.IsNotExist(err), "artifact file survived: %v", err)
		})
	}
}

func TestMissingFile(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	s := openStore(t, Options{Logger: logger})
	require.NoError(t, s.Put(stenciltest.SampleSource, stenciltest.Sample()))
	e := lookup(t, s, stenciltest.SampleSource)
	require.NoError(t, os.Remove(s.storage.filename(e.ID)))

	_, ok, err := s.Get(stenciltest.SampleSource, sampleOptions())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, mustEntries(t, s))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "cache", hook.LastEntry().Data["module"])
}

func TestWriteFailure(t *testing.T) {
	s := openStore(t, Options{})
	// A non-empty directory where the first artifact goes makes the rename fail.
	blocker := s.storage.filename(1)
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "x"), 0o755))

	err := s.Put(stenciltest.SampleSource, stenciltest.Sample())
	assert.ErrorContains(t, err, "write artifact 1")
	assert.Empty(t, mustEntries(t, s), "failed write leaves no entry")
}

func TestWrongCompileOption(t *testing.T) {
	s := openStore(t, Options{})
	require.NoError(t, s.Put(stenciltest.SampleSource, stenciltest.Sample()))

	opts := sampleOptions()
	opts.Module = true
	_, ok, err := s.Get(stenciltest.SampleSource, opts)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, mustEntries(t, s), 1, "an artifact for other options is kept")

	_, ok, err = s.Get(stenciltest.SampleSource, sampleOptions())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPutEncodedTree(t *testing.T) {
	s := openStore(t, Options{})
	v := stenciltest.Sample()
	enc, err := xdr.NewTreeEncoder(&v.Initial)
	require.NoError(t, err)
	require.NoError(t, enc.CodeDelazification(v.Delazifications[0]))
	data, err := enc.Linearize()
	require.NoError(t, err)

	require.NoError(t, s.PutEncoded(stenciltest.SampleSource, "sample.js", data))
	got, ok, err := s.Get(stenciltest.SampleSource, sampleOptions())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Delazifications, 1)
	assert.Empty(t, stenciltest.Diff(v.Delazifications[0], got.Delazifications[0]))
}

func TestReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	s, err := Open(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Put(stenciltest.SampleSource, stenciltest.Sample()))
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "second close")

	s, err = Open(dir, Options{})
	require.NoError(t, err)
	defer s.Close()
	_, ok, err := s.Get(stenciltest.SampleSource, sampleOptions())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemove(t *testing.T) {
	s := openStore(t, Options{})
	require.NoError(t, s.Put(stenciltest.SampleSource, stenciltest.Sample()))
	require.NoError(t, s.Remove(stenciltest.SampleSource))
	assert.Empty(t, mustEntries(t, s))
	assert.NoError(t, s.Remove(stenciltest.SampleSource), "removing a missing artifact")
}

func TestEvict(t *testing.T) {
	sources := []string{"a", "b", "c", "d"}

	t.Run("over capacity", func(t *testing.T) {
		s := openStore(t, Options{MaxEntries: 2, KeepUnused: -1})
		s.now = clock()
		for _, src := range sources {
			require.NoError(t, s.Put(src, stenciltest.Sample()))
		}
		_, _, err := s.Get("a", sampleOptions())
		require.NoError(t, err)

		n, err := s.Evict()
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.NotNil(t, lookup(t, s, "a"))
		assert.NotNil(t, lookup(t, s, "d"))
		assert.Nil(t, lookup(t, s, "b"))
		assert.Nil(t, lookup(t, s, "c"))
	})

	t.Run("unused", func(t *testing.T) {
		s := openStore(t, Options{MaxEntries: -1, KeepUnused: time.Hour})
		now := time.Unix(1700000000, 0)
		s.now = func() time.Time { return now }
		require.NoError(t, s.Put("a", stenciltest.Sample()))
		now = now.Add(30 * time.Minute)
		require.NoError(t, s.Put("b", stenciltest.Sample()))
		now = now.Add(45 * time.Minute)

		n, err := s.Evict()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Nil(t, lookup(t, s, "a"))
		assert.NotNil(t, lookup(t, s, "b"))
	})

	t.Run("stale build id", func(t *testing.T) {
		s := openStore(t, Options{})
		require.NoError(t, s.Put("a", stenciltest.Sample()))
		defer func(prefix string) { xdr.BuildIDPrefix = prefix }(xdr.BuildIDPrefix)
		xdr.BuildIDPrefix = "stencil99"

		_, ok, err := s.Get("a", sampleOptions())
		require.NoError(t, err)
		assert.False(t, ok, "a new build sees no artifacts of an old one")

		n, err := s.Evict()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Empty(t, mustEntries(t, s))
	})
}
