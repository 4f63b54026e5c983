package update

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/schaermu/patchtool/internal/manifest"
	"github.com/schaermu/patchtool/internal/reconcile"
)

// Applier renders the files a patch changes. Implementations read the
// current install under RootDir and the extracted patch under PatchDir and
// write every resulting file into OutDir at its relative path.
type Applier interface {
	Apply(ctx context.Context, req ApplyRequest) error
}

// ApplyRequest describes one patch application
type ApplyRequest struct {
	RootDir  string
	PatchDir string
	OutDir   string
	Info     *manifest.PatchInfo
}

// CopyApplier treats <PatchDir>/files as full replacement content.
type CopyApplier struct{}

// Apply implements Applier.
func (CopyApplier) Apply(ctx context.Context, req ApplyRequest) error {
	for _, item := range req.Info.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		src := filepath.Join(req.PatchDir, "files", item.Path)
		dst := filepath.Join(req.OutDir, item.Path)
		if err := reconcile.CopyFile(src, dst); err != nil {
			return fmt.Errorf("failed to render %s: %w", item.Path, err)
		}
	}
	return nil
}
