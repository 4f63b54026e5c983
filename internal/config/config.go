package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schaermu/patchtool/internal/manifest"
	"github.com/schaermu/patchtool/internal/signature"
	"gopkg.in/yaml.v3"
)

// Config represents the complete patchtool configuration
type Config struct {
	Project ProjectConfig `yaml:"project"`
	Paths   PathsConfig   `yaml:"paths"`
	Verify  VerifyConfig  `yaml:"verify"`
}

// ProjectConfig identifies the installed project
type ProjectConfig struct {
	Name    string `yaml:"name"`
	RootDir string `yaml:"root_dir"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	Manifest   string `yaml:"manifest"`
	PatchesDir string `yaml:"patches_dir"`
	StagingDir string `yaml:"staging_dir"`
}

// VerifyConfig configures file signature checks
type VerifyConfig struct {
	HashThreshold int64 `yaml:"hash_threshold"`
	Workers       int   `yaml:"workers"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Project.Name = os.ExpandEnv(c.Project.Name)
	c.Project.RootDir = os.ExpandEnv(c.Project.RootDir)
	c.Paths.Manifest = os.ExpandEnv(c.Paths.Manifest)
	c.Paths.PatchesDir = os.ExpandEnv(c.Paths.PatchesDir)
	c.Paths.StagingDir = os.ExpandEnv(c.Paths.StagingDir)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Verify.HashThreshold == 0 {
		c.Verify.HashThreshold = signature.DefaultThreshold
	}
	if c.Paths.StagingDir == "" && c.Paths.PatchesDir != "" {
		c.Paths.StagingDir = filepath.Join(filepath.Dir(c.Paths.PatchesDir), "staging")
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("project.name is required")
	}
	if !manifest.ValidProjectName(c.Project.Name) {
		return fmt.Errorf("project.name may only contain letters and digits: %s", c.Project.Name)
	}
	if c.Project.RootDir == "" {
		return fmt.Errorf("project.root_dir is required")
	}
	if c.Paths.Manifest == "" {
		return fmt.Errorf("paths.manifest is required")
	}
	if c.Paths.PatchesDir == "" {
		return fmt.Errorf("paths.patches_dir is required")
	}

	// Ensure paths are absolute
	for _, p := range []struct{ name, value string }{
		{"project.root_dir", c.Project.RootDir},
		{"paths.manifest", c.Paths.Manifest},
		{"paths.patches_dir", c.Paths.PatchesDir},
		{"paths.staging_dir", c.Paths.StagingDir},
	} {
		if p.value != "" && !filepath.IsAbs(p.value) {
			return fmt.Errorf("%s must be an absolute path: %s", p.name, p.value)
		}
	}

	if c.Verify.HashThreshold < 0 {
		return fmt.Errorf("verify.hash_threshold must not be negative: %d", c.Verify.HashThreshold)
	}
	if c.Verify.Workers < 0 {
		return fmt.Errorf("verify.workers must not be negative: %d", c.Verify.Workers)
	}

	return nil
}

// PatchDir returns the directory holding the extracted patch with the given
// name
func (c *Config) PatchDir(name string) string {
	return filepath.Join(c.Paths.PatchesDir, name)
}
