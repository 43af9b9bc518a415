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
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// MaxWriteBytes caps a single file write. Worker output beyond this is a
// sign the model is dumping data rather than producing a result.
const MaxWriteBytes = 50 * 1024

// allowedExtensions is the closed set of file extensions a worker may write.
// Archives and binaries stay excluded.
var allowedExtensions = map[string]bool{
	// text
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".adoc": true,
	// source
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true,
	".tsx": true, ".java": true, ".rb": true, ".rs": true, ".c": true,
	".cc": true, ".cpp": true, ".h": true, ".hpp": true, ".sh": true,
	".pl": true, ".php": true, ".swift": true, ".kt": true,
	// web
	".html": true, ".htm": true, ".css": true, ".scss": true,
	// config
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true,
	".cfg": true, ".conf": true, ".properties": true, ".xml": true,
	// data
	".csv": true, ".tsv": true, ".sql": true, ".proto": true,
	".graphql": true, ".log": true,
}

// allowedBareNames admits well-known extensionless files.
var allowedBareNames = map[string]bool{
	"Dockerfile": true,
	"Makefile":   true,
	"LICENSE":    true,
	"README":     true,
}

// FileWriter performs atomic writes confined to the project folder.
type FileWriter struct {
	projectDir string // symlink-resolved absolute path
	logger     *zap.Logger
}

// NewFileWriter creates a writer rooted at projectDir. The directory must
// exist; its real path is resolved once so later containment checks compare
// like with like.
func NewFileWriter(projectDir string, logger *zap.Logger) (*FileWriter, error) {
	if projectDir == "" {
		return nil, fmt.Errorf("project directory is required")
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("project directory: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("project directory: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project directory is not a directory: %s", projectDir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileWriter{projectDir: resolved, logger: logger}, nil
}

// ProjectDir returns the resolved project folder.
func (w *FileWriter) ProjectDir() string {
	return w.projectDir
}

// Write stores content at path, which may be relative to the project folder
// or absolute. The write is refused when the extension is not allow-listed
// or the path escapes the project folder after symlink resolution. Writes
// are atomic: content lands in a temp file that is renamed into place.
// Returns the final absolute path.
func (w *FileWriter) Write(path, content string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if len(content) > MaxWriteBytes {
		return "", fmt.Errorf("content exceeds %d byte limit (actual: %d)", MaxWriteBytes, len(content))
	}

	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	if ext == "" || ext == base {
		if !allowedBareNames[base] {
			return "", fmt.Errorf("file name %q has no allow-listed extension", base)
		}
	} else if !allowedExtensions[ext] {
		return "", fmt.Errorf("file extension %q is not in the allow-list", ext)
	}

	target := filepath.Clean(path)
	if !filepath.IsAbs(target) {
		target = filepath.Join(w.projectDir, target)
	}

	resolved, err := w.resolveInProject(target)
	if err != nil {
		w.logger.Warn("File write refused",
			zap.String("path", path),
			zap.Error(err))
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0750); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(resolved), ".hive-write-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, resolved); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}

	w.logger.Info("File written",
		zap.String("path", resolved),
		zap.Int("bytes", len(content)))
	return resolved, nil
}

// resolveInProject resolves symlinks on the deepest existing ancestor of
// target and verifies the result stays inside the project folder.
func (w *FileWriter) resolveInProject(target string) (string, error) {
	dir := filepath.Dir(target)

	// Walk up until an existing directory is found, then resolve it and
	// reattach the non-existing remainder.
	remainder := ""
	probe := dir
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		remainder = filepath.Join(filepath.Base(probe), remainder)
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	resolvedProbe, err := filepath.EvalSymlinks(probe)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path: %w", err)
	}
	resolvedDir := filepath.Join(resolvedProbe, remainder)
	resolved := filepath.Join(resolvedDir, filepath.Base(target))

	prefix := w.projectDir + string(filepath.Separator)
	if resolved != w.projectDir && !strings.HasPrefix(resolved, prefix) {
		return "", fmt.Errorf("path %q resolves outside the project folder", target)
	}
	return resolved, nil
}

// saveKeywords mark a task as asking for its result to be stored in a file.
// German stems cover untranslated subtask content.
var saveKeywords = []string{"save", "write", "store", "create", "speicher", "schreib", "erstell"}

var filenameRe = regexp.MustCompile(`\b[\w-]+(?:[/.][\w.-]+)*\.[A-Za-z0-9]{1,10}\b`)

// SaveTarget extracts the file name a task asks to save output to. It
// returns false when the task has no save intent or names no file with an
// allow-listed extension.
func SaveTarget(task string) (string, bool) {
	lower := strings.ToLower(task)
	intent := false
	for _, kw := range saveKeywords {
		if strings.Contains(lower, kw) {
			intent = true
			break
		}
	}
	if !intent {
		return "", false
	}
	for _, candidate := range filenameRe.FindAllString(task, -1) {
		ext := strings.ToLower(filepath.Ext(candidate))
		if allowedExtensions[ext] {
			return candidate, true
		}
	}
	return "", false
}
