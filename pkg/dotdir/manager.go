// Package dotdir resolves the .sseview/ directory that holds config.toml.
package dotdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the name of the sseview directory.
const DirName = ".sseview"

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the target absolute path to a .sseview/ directory.
// Order of precedence is as follows:
//  1. Provided override, created if missing
//  2. Local ./.sseview/ dir
//  3. Home ~/.sseview/ dir
//
// An empty path with a nil error means no directory was found.
func (m *Manager) Target(overrideDir string) (string, error) {
	if overrideDir != "" {
		if err := os.MkdirAll(overrideDir, 0o755); err != nil {
			return "", fmt.Errorf("creating sseview directory %s: %w", overrideDir, err)
		}
		return filepath.Abs(overrideDir)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	if dirExists(filepath.Join(cwd, DirName)) {
		return filepath.Join(cwd, DirName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	if dirExists(filepath.Join(home, DirName)) {
		return filepath.Join(home, DirName), nil
	}

	return "", nil
}

// Init creates a .sseview/ directory under parent. It reports whether the
// directory already existed.
func (m *Manager) Init(parent string) (string, bool, error) {
	dir := filepath.Join(parent, DirName)

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return dir, true, nil
	case err == nil:
		return "", false, fmt.Errorf("%s exists and is not a directory", dir)
	case !errors.Is(err, os.ErrNotExist):
		return "", false, fmt.Errorf("checking %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("creating %s directory: %w", DirName, err)
	}
	return dir, false, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
