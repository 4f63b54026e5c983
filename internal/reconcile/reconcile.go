// Package reconcile moves and merges directory trees into an install root.
//
// None of the operations here lock anything. Callers must serialize
// mutating calls that touch the same subtrees.
package reconcile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// MoveEntry moves a file. An existing destination is overwritten by copying
// and then removing the source, which also works across devices. Otherwise
// the parent directories are created and the file is renamed.
func MoveEntry(from, to string) error {
	if _, err := os.Stat(to); err == nil {
		if err := CopyFile(from, to); err != nil {
			return fmt.Errorf("failed to copy %s: %w", from, err)
		}
		if err := os.Remove(from); err != nil {
			return fmt.Errorf("failed to remove %s: %w", from, err)
		}
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to move %s: %w", from, err)
	}
	return nil
}

// MoveDirectory moves a directory tree, merging into the destination when
// it already exists.
func MoveDirectory(from, to string) error {
	if info, err := os.Stat(to); err == nil && info.IsDir() {
		return MergeDirectories(from, to)
	}

	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	return moveTree(from, to)
}

// MergeDirectories overlays from onto to and then deletes from. Files in
// from replace same-named files in to; subdirectories are merged when they
// exist in to and moved otherwise.
//
// The merge is not transactional: on failure to may be partially updated
// and from partially consumed. Use MergeStaged to keep the source intact.
func MergeDirectories(from, to string) error {
	if err := mergeInto(from, to); err != nil {
		return err
	}
	if err := os.RemoveAll(from); err != nil {
		return fmt.Errorf("failed to remove merged directory %s: %w", from, err)
	}
	return nil
}

func mergeInto(from, to string) error {
	entries, err := os.ReadDir(from)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", from, err)
	}

	// Files first, then directories.
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := CopyFile(filepath.Join(from, e.Name()), filepath.Join(to, e.Name())); err != nil {
			return fmt.Errorf("failed to copy %s: %w", e.Name(), err)
		}
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		src := filepath.Join(from, e.Name())
		dst := filepath.Join(to, e.Name())
		if info, err := os.Stat(dst); err == nil && info.IsDir() {
			if err := mergeInto(src, dst); err != nil {
				return err
			}
			continue
		}
		if err := moveTree(src, dst); err != nil {
			return err
		}
	}

	return nil
}

// rename is swapped out in tests to simulate cross-device moves.
var rename = os.Rename

// moveTree renames the directory from to to. When the rename fails, for
// example because the two live on different filesystems, the tree is copied
// and the source removed instead.
func moveTree(from, to string) error {
	rerr := rename(from, to)
	if rerr == nil {
		return nil
	}

	if err := copyTree(from, to); err != nil {
		return fmt.Errorf("failed to move directory %s: %w (copy fallback: %v)", from, rerr, err)
	}
	if err := os.RemoveAll(from); err != nil {
		return fmt.Errorf("failed to remove moved directory %s: %w", from, err)
	}
	return nil
}

// CopyFile copies src to dst with an atomic write: the content is streamed
// into a temporary file in dst's directory, given the source permissions and
// renamed over dst. Missing parent directories are created.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".patchtool-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}

	info, err := in.Stat()
	if err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}

// copyTree copies the directory src into dst, which must not exist yet.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		}
		return CopyFile(path, target)
	})
}
