// Package manifest loads and validates version manifests and patch
// descriptors.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schaermu/patchtool/internal/version"
	"github.com/schaermu/patchtool/internal/wildcard"
	"gopkg.in/yaml.v3"
)

// ErrParse is returned when a document cannot be decoded.
var ErrParse = errors.New("malformed document")

// NormalizePath rewrites both separator styles to the OS separator.
func NormalizePath(p string) string {
	if filepath.Separator == '/' {
		return strings.ReplaceAll(p, "\\", "/")
	}
	return strings.ReplaceAll(p, "/", string(filepath.Separator))
}

// LoadVersionInfo decodes a version manifest, drops patches that do not
// move forward, sorts the rest and compiles the ignore patterns. A document
// without a valid version is a parse error.
func LoadVersionInfo(data []byte) (*VersionInfo, error) {
	var info VersionInfo
	if err := decode(data, &info); err != nil {
		return nil, err
	}
	if !info.Version.IsValid() {
		return nil, fmt.Errorf("%w: missing or invalid version", ErrParse)
	}

	for i := range info.Files {
		info.Files[i].Path = NormalizePath(info.Files[i].Path)
	}

	patches := info.Patches[:0]
	for _, p := range info.Patches {
		if !p.From.IsValid() || !p.To.IsValid() || p.To.Compare(p.From) <= 0 {
			continue
		}
		patches = append(patches, p)
	}
	info.Patches = patches
	SortPatches(info.Patches)

	info.IgnoredPaths = append(info.IgnoredPaths, "*"+version.MarkerSuffix)
	info.ignored = make([]wildcard.Matcher, 0, len(info.IgnoredPaths))
	for i, pattern := range info.IgnoredPaths {
		info.IgnoredPaths[i] = NormalizePath(pattern)
		m, err := wildcard.Compile(info.IgnoredPaths[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		info.ignored = append(info.ignored, m)
	}

	return &info, nil
}

// LoadPatchInfo decodes a patch descriptor and normalizes its paths. Paths
// that are absolute or escape the root with ".." are a parse error.
func LoadPatchInfo(data []byte) (*PatchInfo, error) {
	var info PatchInfo
	if err := decode(data, &info); err != nil {
		return nil, err
	}
	if !info.From.IsValid() || !info.To.IsValid() {
		return nil, fmt.Errorf("%w: missing or invalid from/to version", ErrParse)
	}

	for i := range info.Files {
		p, err := localPath(info.Files[i].Path)
		if err != nil {
			return nil, err
		}
		info.Files[i].Path = p
	}
	for i := range info.RenamedFiles {
		r := &info.RenamedFiles[i]
		before, err := localPath(r.BeforePath)
		if err != nil {
			return nil, err
		}
		after, err := localPath(r.AfterPath)
		if err != nil {
			return nil, err
		}
		r.BeforePath, r.AfterPath = before, after
	}

	return &info, nil
}

// localPath normalizes a descriptor path and rejects paths that would leave
// the install root.
func localPath(p string) (string, error) {
	n := NormalizePath(p)
	if !filepath.IsLocal(n) {
		return "", fmt.Errorf("%w: path %q is not relative to the install root", ErrParse, p)
	}
	return n, nil
}

// SortPatches orders patches by From ascending and, for equal From, by To
// descending so the largest jump from each version comes first.
func SortPatches(patches []IncrementalPatch) {
	sort.SliceStable(patches, func(i, j int) bool {
		if c := patches[i].From.Compare(patches[j].From); c != 0 {
			return c < 0
		}
		return patches[i].To.Compare(patches[j].To) > 0
	})
}

// IsIgnored reports whether path matches one of the manifest's ignore
// patterns. The path is normalized before matching.
func (v *VersionInfo) IsIgnored(path string) bool {
	return wildcard.MatchAny(v.ignored, NormalizePath(path))
}

// ReadVersionInfo loads a version manifest from disk.
func ReadVersionInfo(path string) (*VersionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read version info: %w", err)
	}
	return LoadVersionInfo(data)
}

// ReadPatchInfo loads a patch descriptor from disk.
func ReadPatchInfo(path string) (*PatchInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch info: %w", err)
	}
	return LoadPatchInfo(data)
}

// WriteVersionInfo serializes a version manifest to disk. The implicit
// marker pattern appended at load time is not written back.
func WriteVersionInfo(path string, info *VersionInfo) error {
	out := *info
	out.IgnoredPaths = make([]string, 0, len(info.IgnoredPaths))
	for _, p := range info.IgnoredPaths {
		if p != "*"+version.MarkerSuffix {
			out.IgnoredPaths = append(out.IgnoredPaths, p)
		}
	}
	return writeYAML(path, &out)
}

// WritePatchInfo serializes a patch descriptor to disk.
func WritePatchInfo(path string, info *PatchInfo) error {
	return writeYAML(path, info)
}

// decode requires a mapping document and rejects keys out does not know,
// so a document of another kind is not mistaken for an empty one.
func decode(data []byte, out interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty document", ErrParse)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("%w: document is not a mapping", ErrParse)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}

func writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}
