// Package stage copies the native project into the build output area so
// compilation never touches the source tree.
package stage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrStaging wraps any filesystem failure during a copy. A failed copy
// leaves an unusable tree behind; callers must not build from it.
var ErrStaging = errors.New("staging failed")

// Copy recursively copies src into dst. Directories are created before
// anything is copied into them and existing files are overwritten, so
// Copy can run repeatedly against the same destination. Symbolic links
// are copied as the files or directories they point to.
func Copy(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaging, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrStaging, src)
	}
	if err := copyDir(src, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrStaging, err)
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, dirPerm(info.Mode()))
		case info.IsDir():
			// symlink to a directory
			return copyDir(path, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	// A read-only file from a previous staging run must still be replaced.
	if fi, err := os.Lstat(dst); err == nil && fi.Mode().Perm()&0o200 == 0 {
		if err := os.Chmod(dst, fi.Mode().Perm()|0o200); err != nil {
			return err
		}
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, perm|0o200)
}

func dirPerm(mode fs.FileMode) fs.FileMode {
	return mode.Perm() | 0o700
}
