// Package local implements the host download primitive and a snapshot
// mirror on the local filesystem.
package local

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for local storage.
type Config struct {
	// BaseDir is the root every file is written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// prepareDir creates dir when missing and checks it is writable.
func prepareDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("base directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve base directory: %w", err)
	}
	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(abs, 0o750); mkErr != nil {
			return "", fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return "", fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(abs, ".writable_test")
	if err != nil {
		return "", fmt.Errorf("base directory is not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	if err := os.Remove(name); err != nil {
		return "", fmt.Errorf("failed to clean up test file: %w", err)
	}
	return abs, nil
}

// within joins rel onto base and rejects paths escaping base.
func within(base, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Clean(filepath.Join(base, filepath.FromSlash(rel)))
	if !contains(base, full) {
		return "", fmt.Errorf("path traversal detected: %s", rel)
	}
	return full, nil
}

func contains(base, full string) bool {
	return strings.HasPrefix(filepath.Clean(full), filepath.Clean(base)+string(filepath.Separator))
}
