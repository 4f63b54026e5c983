package update

import (
	"github.com/schaermu/patchtool/internal/manifest"
	"github.com/schaermu/patchtool/internal/version"
)

// Plan is the patch chain selected for an update
type Plan struct {
	Current version.Code
	Target  version.Code
	Patches []manifest.IncrementalPatch
}

// Report summarizes an update run
type Report struct {
	Plan    Plan
	Applied []manifest.IncrementalPatch
	Repair  []manifest.VersionItem // files that still differ from the manifest
}

// UpToDate reports whether no patches were needed and no files need repair
func (r *Report) UpToDate() bool {
	return len(r.Plan.Patches) == 0 && len(r.Repair) == 0
}
