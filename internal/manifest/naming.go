package manifest

import (
	"strings"

	"github.com/schaermu/patchtool/internal/version"
)

// PatchVersion returns a filesystem-friendly name for a patch, e.g.
// "1_0__2_0". Staged patches live in directories with this name.
func PatchVersion(from, to version.Code) string {
	return strings.ReplaceAll(from.String(), ".", "_") + "__" + strings.ReplaceAll(to.String(), ".", "_")
}

// PatchVersionBrief returns a short label such as "1.0_2.0".
func PatchVersionBrief(from, to version.Code) string {
	return from.String() + "_" + to.String()
}

// Name returns the staged directory name of the patch.
func (p IncrementalPatch) Name() string {
	return PatchVersion(p.From, p.To)
}

// ValidProjectName reports whether name consists only of ASCII letters and
// digits. Project names end up in marker file names.
func ValidProjectName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'z') && (ch < 'A' || ch > 'Z') {
			return false
		}
	}
	return true
}
