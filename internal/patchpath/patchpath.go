// Package patchpath picks the chain of incremental patches that moves an
// install from its current version to a target version.
package patchpath

import (
	"errors"
	"fmt"

	"github.com/schaermu/patchtool/internal/manifest"
	"github.com/schaermu/patchtool/internal/version"
)

// ErrNoPathFound is returned when the patch set cannot reach the target.
var ErrNoPathFound = errors.New("no incremental patch path found")

// Resolve walks patches, which must be sorted as manifest.SortPatches
// leaves them, from current toward target. At each step it takes the first
// patch starting at the running version, which is the largest jump from
// that version. An empty chain is returned when current equals target. A
// patch that does not move forward ends the walk with ErrNoPathFound.
func Resolve(patches []manifest.IncrementalPatch, current, target version.Code) ([]manifest.IncrementalPatch, error) {
	if !current.IsValid() || !target.IsValid() {
		return nil, fmt.Errorf("%w: invalid version (current %q, target %q)", ErrNoPathFound, current, target)
	}

	chain := []manifest.IncrementalPatch{}
	running := current
	for !running.Equal(target) {
		if running.Compare(target) > 0 {
			return nil, fmt.Errorf("%w: %s is past target %s", ErrNoPathFound, running, target)
		}

		next, ok := first(patches, running)
		if !ok {
			return nil, fmt.Errorf("%w: no patch starts at %s (target %s)", ErrNoPathFound, running, target)
		}
		if !running.Less(next.To) {
			return nil, fmt.Errorf("%w: patch %s does not move forward", ErrNoPathFound,
				manifest.PatchVersionBrief(next.From, next.To))
		}
		chain = append(chain, next)
		running = next.To
	}

	return chain, nil
}

func first(patches []manifest.IncrementalPatch, from version.Code) (manifest.IncrementalPatch, bool) {
	for _, p := range patches {
		if p.From.Equal(from) {
			return p, true
		}
	}
	return manifest.IncrementalPatch{}, false
}

// Resolver resolves patch chains for an installed project, reading the
// installed version from a marker store.
type Resolver struct {
	Store version.Store
}

// Plan reads the installed version of project under root and resolves the
// chain toward info.Version. The installed version is returned alongside
// the chain.
func (r *Resolver) Plan(root, project string, info *manifest.VersionInfo) (version.Code, []manifest.IncrementalPatch, error) {
	current, err := r.Store.Get(root, project)
	if err != nil {
		return version.Code{}, nil, fmt.Errorf("failed to read installed version: %w", err)
	}

	chain, err := Resolve(info.Patches, current, info.Version)
	if err != nil {
		return current, nil, err
	}
	return current, chain, nil
}
