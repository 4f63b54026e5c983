package reconcile

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// Prober checks whether a directory is writable.
type Prober struct {
	// RedirectRoots are directories under which the OS may silently place
	// writes to protected locations, in a "VirtualStore" subdirectory.
	RedirectRoots []string
	// SentinelName returns the name of the probe file.
	SentinelName func() string
}

// DefaultProber returns a Prober configured for the current platform.
func DefaultProber() *Prober {
	p := &Prober{
		SentinelName: func() string { return ".patchtool-probe-" + uuid.NewString() },
	}
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			p.RedirectRoots = append(p.RedirectRoots, dir)
		}
	}
	return p
}

// ProbeWriteAccess reports whether path is writable using DefaultProber.
func ProbeWriteAccess(path string) bool {
	return DefaultProber().Probe(path)
}

// Probe creates path if needed, writes and removes a sentinel file in it,
// and reports false when the write fails or was redirected into a virtual
// store.
func (p *Prober) Probe(path string) bool {
	if err := os.MkdirAll(path, 0755); err != nil {
		return false
	}

	name := ".patchtool-probe"
	if p.SentinelName != nil {
		name = p.SentinelName()
	}
	sentinel := filepath.Join(path, name)

	f, err := os.OpenFile(sentinel, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return false
	}
	_ = f.Close()
	defer func() {
		_ = os.Remove(sentinel)
	}()

	for _, candidate := range p.redirectCandidates(sentinel) {
		if _, err := os.Stat(candidate); err == nil {
			return false
		}
	}
	return true
}

// redirectCandidates lists the locations a redirected write of file would
// land in: <root>/VirtualStore/<file without its volume>, for every
// redirect root and for the file's own volume root.
func (p *Prober) redirectCandidates(file string) []string {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil
	}
	volume := filepath.VolumeName(abs)
	rel := strings.TrimLeft(abs[len(volume):], `\/`)

	roots := append([]string{}, p.RedirectRoots...)
	if runtime.GOOS == "windows" {
		roots = append(roots, volume+string(filepath.Separator))
	}

	candidates := make([]string, 0, len(roots))
	for _, root := range roots {
		candidates = append(candidates, filepath.Join(root, "VirtualStore", rel))
	}
	return candidates
}
