package signature

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/schaermu/patchtool/internal/manifest"
	"golang.org/x/sync/errgroup"
)

// TreeOptions configures VerifyTree.
type TreeOptions struct {
	// Workers bounds the number of files hashed at once. Zero selects
	// GOMAXPROCS.
	Workers int
	// Skip, when set, excludes matching relative paths from verification.
	Skip func(path string) bool
}

// VerifyTree checks every item under root and returns the items that do not
// match, in input order. Per-file I/O errors are collected and returned
// together; the corresponding items are reported as mismatches as well.
func (v *Verifier) VerifyTree(ctx context.Context, root string, items []manifest.VersionItem, opts TreeOptions) ([]manifest.VersionItem, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	mismatched := make([]bool, len(items))

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, item := range items {
		i, item := i, item
		if opts.Skip != nil && opts.Skip(item.Path) {
			continue
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, err := v.Matches(filepath.Join(root, item.Path), item.Size, item.MD5)
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", item.Path, err))
				mu.Unlock()
			}
			mismatched[i] = !ok
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []manifest.VersionItem
	for i, bad := range mismatched {
		if bad {
			result = append(result, items[i])
		}
	}

	return result, errs.ErrorOrNil()
}
