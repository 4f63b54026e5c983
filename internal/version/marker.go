package version

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// MarkerSuffix is appended to the project name to form the version marker
// file stored in an install root.
const MarkerSuffix = "_vers.sptv"

// Store reads and writes the installed version of a project.
type Store interface {
	// Get returns the installed version, or an invalid Code when none is
	// recorded.
	Get(root, project string) (Code, error)
	// Set records the installed version.
	Set(root, project string, v Code) error
}

// FileStore keeps the version in a plain-text marker file under the root.
type FileStore struct {
	fs afero.Fs
}

// NewFileStore creates a marker store on the given filesystem. A nil fs
// selects the OS filesystem.
func NewFileStore(fs afero.Fs) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStore{fs: fs}
}

// MarkerPath returns the marker file location for a project.
func MarkerPath(root, project string) string {
	return filepath.Join(root, project+MarkerSuffix)
}

// Get implements Store.
func (s *FileStore) Get(root, project string) (Code, error) {
	path := MarkerPath(root, project)
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return Code{}, fmt.Errorf("failed to stat version marker: %w", err)
	}
	if !exists {
		return Code{}, nil
	}

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return Code{}, fmt.Errorf("failed to read version marker: %w", err)
	}
	return Parse(string(data)), nil
}

// Set implements Store.
func (s *FileStore) Set(root, project string, v Code) error {
	if err := s.fs.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create root directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, MarkerPath(root, project), []byte(v.String()), 0644); err != nil {
		return fmt.Errorf("failed to write version marker: %w", err)
	}
	return nil
}
