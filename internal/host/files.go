// SPDX-License-Identifier: GPL-3.0-or-later

package host

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalFileLoader reads files from a fixed set of handle-to-directory
// bindings. The caller configures which handles exist and where they are
// rooted; permission narrowing (files{handle, path_prefix}) happens
// upstream in the Dispatcher, so by the time a call reaches here the
// handle and path are already authorised.
type LocalFileLoader struct {
	roots map[string]string // handle -> root directory
}

// NewLocalFileLoader creates a loader over the given handle bindings.
func NewLocalFileLoader(roots map[string]string) *LocalFileLoader {
	return &LocalFileLoader{roots: roots}
}

func (l *LocalFileLoader) resolve(handle, path string) (string, error) {
	root, ok := l.roots[handle]
	if !ok {
		return "", fmt.Errorf("host: no file handle %q bound", handle)
	}
	cleaned := filepath.Clean("/" + path)
	full := filepath.Join(root, cleaned)
	if !strings.HasPrefix(full, filepath.Clean(root)+string(filepath.Separator)) && full != filepath.Clean(root) {
		return "", fmt.Errorf("host: path %q escapes handle %q root", path, handle)
	}
	return full, nil
}

func (l *LocalFileLoader) LoadText(handle, path string) (string, error) {
	full, err := l.resolve(handle, path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("host: reading %q: %w", full, err)
	}
	return string(data), nil
}

func (l *LocalFileLoader) LoadBin(handle, path string) ([]byte, error) {
	full, err := l.resolve(handle, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("host: reading %q: %w", full, err)
	}
	return data, nil
}
