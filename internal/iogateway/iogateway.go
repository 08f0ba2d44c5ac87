// Package iogateway provides path resolution, atomic file operations,
// and directory-copy-with-exclusions for instance directory trees
// (spec §2 IOGateway). Stdlib-only: no third-party library in the
// example corpus addresses raw filesystem primitives either (see
// DESIGN.md).
package iogateway

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// AttachSentinel is the file whose presence at a path permits it to be
// attached rather than requiring it be empty (spec §3 Instance invariant ii).
const AttachSentinel = "TGS4_ALLOW_INSTANCE_ATTACH"

// Gateway resolves and manipulates paths under a single daemon install
// directory.
type Gateway struct {
	installDir string
}

// New creates a Gateway rooted at installDir. installDir is normalised
// (cleaned, absolute) on construction.
func New(installDir string) (*Gateway, error) {
	abs, err := filepath.Abs(installDir)
	if err != nil {
		return nil, fmt.Errorf("resolve install directory: %w", err)
	}
	return &Gateway{installDir: filepath.Clean(abs)}, nil
}

// InstallDir returns the normalised install directory.
func (g *Gateway) InstallDir() string {
	return g.installDir
}

// Normalize cleans and absolutizes a candidate instance path.
func Normalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return filepath.Clean(abs), nil
}

// IsPrefixOrDescendant reports whether a is a path-prefix of b, or b is
// a path-prefix of a (spec §4.1 validation step 3/4). Both paths must
// already be normalised.
func IsPrefixOrDescendant(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(b, a+string(filepath.Separator)) ||
		strings.HasPrefix(a, b+string(filepath.Separator))
}

// IsEligibleForInstance reports whether path is non-existent, empty, or
// contains only the attach sentinel (spec §4.1 validation step 5).
func IsEligibleForInstance(path string) (bool, bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, false, nil
		}
		return false, false, fmt.Errorf("read directory %s: %w", path, err)
	}
	if len(entries) == 0 {
		return true, false, nil
	}
	if len(entries) == 1 && entries[0].Name() == AttachSentinel {
		return true, true, nil
	}
	return false, false, nil
}

// EnsureTree creates the per-instance directory tree named in spec §6
// "Persisted state layout": Repository/, Byond/, Game/, Configuration/.
func EnsureTree(path string) error {
	dirs := []string{"Repository", "Byond", "Game", "Configuration"}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create instance directory: %w", err)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(filepath.Join(path, dir), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// WriteSentinel writes the attach sentinel into an instance directory,
// clearing every other entry first (spec §4.1 Detach).
func WriteSentinel(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("create instance directory: %w", err)
			}
		} else {
			return fmt.Errorf("read instance directory: %w", err)
		}
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(path, entry.Name())); err != nil {
			return fmt.Errorf("clear %s: %w", entry.Name(), err)
		}
	}
	sentinelPath := filepath.Join(path, AttachSentinel)
	return os.WriteFile(sentinelPath, nil, 0o644)
}

// RemoveSentinel deletes the attach sentinel if present.
func RemoveSentinel(path string) error {
	err := os.Remove(filepath.Join(path, AttachSentinel))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sentinel: %w", err)
	}
	return nil
}

// AtomicWriteFile writes data to a temp file in the same directory as
// path, then renames it over path, so readers never observe a partial
// write.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// CopyTree copies src into dst, skipping any path whose basename is in
// exclude. Used for promoting a deployment's staging directory into the
// live Game/ directory.
func CopyTree(src, dst string, exclude map[string]bool) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if exclude[info.Name()] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
