// Copyright 2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, dir string, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "base.apk")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func Test_OpenProfileEntry_BareFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primary.prof")
	require.NoError(t, os.WriteFile(path, []byte("raw-profile-bytes"), 0o644))

	rc, err := OpenProfileEntry(path)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "raw-profile-bytes", string(got))
}

func Test_OpenProfileEntry_ZipCanonicalEntry(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, map[string]string{
		"classes.dex":  "not a profile",
		"primary.prof": "the profile",
	})

	rc, err := OpenProfileEntry(path)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "the profile", string(got))
}

func Test_OpenProfileEntry_ZipFallbackSuffix(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, map[string]string{
		"assets/secondary.prof": "fallback profile",
	})

	rc, err := OpenProfileEntry(path)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "fallback profile", string(got))
}

func Test_OpenProfileEntry_ZipNoProfileEntry(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, map[string]string{"classes.dex": "nope"})

	_, err := OpenProfileEntry(path)
	require.Error(t, err)
}
