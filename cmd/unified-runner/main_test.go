// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectTestFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.json", "a.yml", "c.yaml", "README.md", filepath.Join("nested", "d.json")} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	}
	single := filepath.Join(t.TempDir(), "single.txt")
	require.NoError(t, os.WriteFile(single, []byte("{}"), 0o644))

	t.Run("directories are expanded", func(t *testing.T) {
		paths, err := collectTestFiles([]string{dir})
		require.NoError(t, err)

		want := []string{
			filepath.Join(dir, "a.yml"),
			filepath.Join(dir, "b.json"),
			filepath.Join(dir, "c.yaml"),
			filepath.Join(dir, "nested", "d.json"),
		}
		assert.Equal(t, want, paths)
	})
	t.Run("files are kept regardless of extension", func(t *testing.T) {
		paths, err := collectTestFiles([]string{single})
		require.NoError(t, err)
		assert.Equal(t, []string{single}, paths)
	})
	t.Run("missing path", func(t *testing.T) {
		_, err := collectTestFiles([]string{filepath.Join(dir, "missing")})
		assert.Error(t, err)
	})
}
