//go:build integration

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/patchtool/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness builds the patchtool binary once per test and runs it against a
// scratch workspace
type Harness struct {
	t      *testing.T
	binary string
	Dir    string
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return &Harness{t: t, Dir: t.TempDir()}
}

// Build compiles the patchtool binary
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.binary = filepath.Join(h.t.TempDir(), "patchtool")
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/patchtool")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Path returns an absolute path inside the workspace
func (h *Harness) Path(elem ...string) string {
	return filepath.Join(append([]string{h.Dir}, elem...)...)
}

// Run executes the binary with the workspace config
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binary == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	full := append(append([]string{}, args...), "--config", h.Path("config.yaml"), "--log-format", "text", "--log-level", "debug")
	cmd := exec.CommandContext(ctx, h.binary, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, &testWriter{t: h.t, prefix: "[patchtool] "})

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes the binary and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("run failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout
}

// WriteConfig writes config.yaml pointing at the workspace layout
func (h *Harness) WriteConfig(project string) {
	h.t.Helper()
	content := fmt.Sprintf(`project:
  name: %s
  root_dir: %q
paths:
  manifest: %q
  patches_dir: %q
  staging_dir: %q
`, project, h.Path("install"), h.Path("VersionInfo.yaml"), h.Path("patches"), h.Path("staging"))

	if err := os.WriteFile(h.Path("config.yaml"), []byte(content), 0644); err != nil {
		h.t.Fatal(err)
	}
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
