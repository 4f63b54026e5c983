package manifest

import (
	"github.com/schaermu/patchtool/internal/version"
	"github.com/schaermu/patchtool/internal/wildcard"
)

// VersionItem is the expected signature of one file at a version.
type VersionItem struct {
	Path string `yaml:"path"`
	Size int64  `yaml:"size"`
	MD5  string `yaml:"md5"`
}

// VersionInfo describes a target version: its file list, the paths that
// are never touched, and the incremental patches that lead to it.
type VersionInfo struct {
	Name         string             `yaml:"name,omitempty"`
	Version      version.Code       `yaml:"version"`
	Files        []VersionItem      `yaml:"files"`
	IgnoredPaths []string           `yaml:"ignored_paths"`
	Patches      []IncrementalPatch `yaml:"patches"`

	ignored []wildcard.Matcher
}

// IncrementalPatch is a package moving an install from one version to
// another. Size, MD5 and DownloadURL describe the package itself.
type IncrementalPatch struct {
	From        version.Code `yaml:"from"`
	To          version.Code `yaml:"to"`
	Size        int64        `yaml:"size,omitempty"`
	MD5         string       `yaml:"md5,omitempty"`
	DownloadURL string       `yaml:"download_url,omitempty"`
}

// PatchInfo lists the per-file instructions inside an incremental patch.
type PatchInfo struct {
	From         version.Code  `yaml:"from"`
	To           version.Code  `yaml:"to"`
	Files        []PatchItem   `yaml:"files"`
	RenamedFiles []RenamedItem `yaml:"renamed_files"`
}

// PatchItem describes how one file changes. The before/after signatures are
// consumed by the delta applier.
type PatchItem struct {
	Path       string `yaml:"path"`
	BeforeSize int64  `yaml:"before_size,omitempty"`
	BeforeMD5  string `yaml:"before_md5,omitempty"`
	AfterSize  int64  `yaml:"after_size"`
	AfterMD5   string `yaml:"after_md5"`
}

// RenamedItem is a file that moved between versions.
type RenamedItem struct {
	BeforePath string `yaml:"before"`
	AfterPath  string `yaml:"after"`
}
