package reconcile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// MergeStaged merges src into dst without consuming src. The tree is first
// copied to a scratch directory next to dst and the scratch copy is merged,
// so a failed merge can be retried from the untouched src.
func MergeStaged(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	scratch, err := os.MkdirTemp(filepath.Dir(dst), ".patchtool-stage-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	staged := filepath.Join(scratch, "tree")
	if err := copyTree(src, staged); err != nil {
		return fmt.Errorf("failed to stage %s: %w", src, err)
	}

	return MoveDirectory(staged, dst)
}

// Replace swaps the directory staged into place at dst using renames only.
// An existing dst is set aside first and restored if the swap fails; it is
// removed once staged is in place.
func Replace(staged, dst string) error {
	if _, err := os.Stat(staged); err != nil {
		return fmt.Errorf("failed to stat staged directory: %w", err)
	}

	backup := ""
	if _, err := os.Stat(dst); err == nil {
		backup = dst + ".patchtool-old"
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("failed to clear stale backup: %w", err)
		}
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("failed to set aside %s: %w", dst, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	} else if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	if err := os.Rename(staged, dst); err != nil {
		if backup != "" {
			if rerr := os.Rename(backup, dst); rerr != nil {
				return fmt.Errorf("failed to commit %s: %w (rollback failed: %v)", staged, err, rerr)
			}
		}
		return fmt.Errorf("failed to commit %s: %w", staged, err)
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("failed to remove backup %s: %w", backup, err)
		}
	}
	return nil
}
