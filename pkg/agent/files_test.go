// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (*FileWriter, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := NewFileWriter(dir, nil)
	require.NoError(t, err)
	return w, w.ProjectDir()
}

func TestNewFileWriterValidates(t *testing.T) {
	_, err := NewFileWriter("", nil)
	require.Error(t, err)

	_, err = NewFileWriter("/does/not/exist", nil)
	require.Error(t, err)
}

func TestWriteCreatesFile(t *testing.T) {
	w, dir := newTestWriter(t)

	path, err := w.Write("notes/report.md", "# Findings\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes", "report.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Findings\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestWriteOverwritesAtomically(t *testing.T) {
	w, dir := newTestWriter(t)

	_, err := w.Write("data.json", `{"v":1}`)
	require.NoError(t, err)
	_, err = w.Write("data.json", `{"v":2}`)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "data.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data.json", entries[0].Name())
}

func TestWriteAcceptsAbsolutePathInsideProject(t *testing.T) {
	w, dir := newTestWriter(t)

	path, err := w.Write(filepath.Join(dir, "out.txt"), "ok")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.txt"), path)
}

func TestWriteRejectsDisallowedExtensions(t *testing.T) {
	w, _ := newTestWriter(t)

	for _, name := range []string{"payload.exe", "archive.zip", "dump.bin", "image.png"} {
		_, err := w.Write(name, "data")
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "allow-list")
	}
}

func TestWriteAllowsBareNames(t *testing.T) {
	w, dir := newTestWriter(t)

	path, err := w.Write("Dockerfile", "FROM alpine\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Dockerfile"), path)

	_, err = w.Write("randomfile", "x")
	require.Error(t, err)
}

func TestWriteRejectsPathEscape(t *testing.T) {
	w, _ := newTestWriter(t)

	for _, path := range []string{
		"../outside.txt",
		"../../etc/passwd.txt",
		"/tmp/elsewhere.txt",
		"a/../../escape.md",
	} {
		_, err := w.Write(path, "x")
		require.Error(t, err, path)
	}
}

func TestWriteRejectsSymlinkEscape(t *testing.T) {
	w, dir := newTestWriter(t)
	outside := t.TempDir()

	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	_, err := w.Write("link/leak.txt", "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the project folder")

	_, statErr := os.Stat(filepath.Join(outside, "leak.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteRejectsOversizedContent(t *testing.T) {
	w, _ := newTestWriter(t)

	_, err := w.Write("big.txt", strings.Repeat("a", MaxWriteBytes+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "byte limit")
}

func TestSaveTarget(t *testing.T) {
	tests := []struct {
		name    string
		task    string
		expFile string
		expOK   bool
	}{
		{
			name:    "create with filename",
			task:    "Create a file named report.txt with a project summary",
			expFile: "report.txt",
			expOK:   true,
		},
		{
			name:    "save to nested path",
			task:    "Save the results to output/data.csv please",
			expFile: "output/data.csv",
			expOK:   true,
		},
		{
			name:    "german save request",
			task:    "Schreibe die Zusammenfassung in die Datei bericht.md",
			expFile: "bericht.md",
			expOK:   true,
		},
		{
			name:  "no save intent",
			task:  "Summarize the quarterly numbers",
			expOK: false,
		},
		{
			name:  "save intent without filename",
			task:  "Write a short poem about autumn",
			expOK: false,
		},
		{
			name:  "disallowed extension ignored",
			task:  "Save the build to release.zip",
			expOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, ok := SaveTarget(tt.task)
			assert.Equal(t, tt.expOK, ok)
			if tt.expOK {
				assert.Equal(t, tt.expFile, file)
			}
		})
	}
}
