package update

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/schaermu/patchtool/internal/config"
	"github.com/schaermu/patchtool/internal/manifest"
	"github.com/schaermu/patchtool/internal/patchpath"
	"github.com/schaermu/patchtool/internal/signature"
	"github.com/schaermu/patchtool/internal/testutil"
	"github.com/schaermu/patchtool/internal/version"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func fileEntry(path, content string) string {
	return fmt.Sprintf("  - path: %s\n    size: %d\n    md5: %s\n", path, len(content), md5Hex(content))
}

// failingApplier fails every application.
type failingApplier struct {
	called bool
}

func (f *failingApplier) Apply(_ context.Context, _ ApplyRequest) error {
	f.called = true
	return errors.New("delta codec exploded")
}

type fixture struct {
	cfg   *config.Config
	store *version.FileStore
}

// newFixture lays out an install at 1.0, two staged patches (1.0->1.5 and
// 1.5->2.0) and a manifest targeting 2.0.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := t.TempDir()
	cfg := &config.Config{
		Project: config.ProjectConfig{Name: "App", RootDir: filepath.Join(base, "install")},
		Paths: config.PathsConfig{
			Manifest:   filepath.Join(base, "VersionInfo.yaml"),
			PatchesDir: filepath.Join(base, "patches"),
			StagingDir: filepath.Join(base, "staging"),
		},
		Verify: config.VerifyConfig{HashThreshold: signature.DefaultThreshold, Workers: 2},
	}

	testutil.WriteTree(t, cfg.Project.RootDir, map[string]string{
		"bin/app":       "v1",
		"data/old.dat":  "payload",
		"data/keep.dat": "keep",
		"logs/run.log":  "noise",
	})
	store := version.NewFileStore(nil)
	if err := store.Set(cfg.Project.RootDir, "App", version.Parse("1.0")); err != nil {
		t.Fatal(err)
	}

	testutil.WriteTree(t, cfg.PatchDir("1_0__1_5"), map[string]string{
		"patch.yaml": `from: "1.0"
to: "1.5"
files:
  - path: bin/app
    after_size: 4
    after_md5: ` + md5Hex("v1.5") + `
renamed_files:
  - before: data\old.dat
    after: data/renamed.dat
`,
		"files/bin/app": "v1.5",
	})
	testutil.WriteTree(t, cfg.PatchDir("1_5__2_0"), map[string]string{
		"patch.yaml": `from: "1.5"
to: "2.0"
files:
  - path: bin/app
    after_size: 2
    after_md5: ` + md5Hex("v2") + `
  - path: new/extra.txt
    after_size: 5
    after_md5: ` + md5Hex("extra") + `
`,
		"files/bin/app":       "v2",
		"files/new/extra.txt": "extra",
	})

	doc := "name: App\nversion: \"2.0\"\nfiles:\n" +
		fileEntry("bin/app", "v2") +
		fileEntry("data/renamed.dat", "payload") +
		fileEntry("data/keep.dat", "keep") +
		fileEntry("new/extra.txt", "extra") +
		fileEntry("logs/run.log", "expected but ignored") +
		"ignored_paths:\n  - \"logs/*\"\n" +
		"patches:\n" +
		"  - from: \"1.0\"\n    to: \"1.5\"\n    size: 2048\n" +
		"  - from: \"1.5\"\n    to: \"2.0\"\n    size: 4096\n"
	if err := os.WriteFile(cfg.Paths.Manifest, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	return &fixture{cfg: cfg, store: store}
}

func (f *fixture) engine(applier Applier, dryRun bool) *Engine {
	return NewEngine(f.cfg, f.store, applier, testLogger(), dryRun)
}

func labels(patches []manifest.IncrementalPatch) []string {
	out := make([]string, 0, len(patches))
	for _, p := range patches {
		out = append(out, manifest.PatchVersionBrief(p.From, p.To))
	}
	return out
}

func TestRun_AppliesChain(t *testing.T) {
	f := newFixture(t)

	report, err := f.engine(CopyApplier{}, false).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if diff := cmp.Diff([]string{"1.0_1.5", "1.5_2.0"}, labels(report.Applied)); diff != "" {
		t.Errorf("applied patches mismatch (-want +got):\n%s", diff)
	}
	if len(report.Repair) != 0 {
		t.Errorf("expected no repairs, got %v", report.Repair)
	}

	want := map[string]string{
		"App" + version.MarkerSuffix: "2.0",
		"bin/app":                    "v2",
		"data/renamed.dat":           "payload",
		"data/keep.dat":              "keep",
		"new/extra.txt":              "extra",
		"logs/run.log":               "noise",
	}
	if diff := cmp.Diff(want, testutil.ReadTree(t, f.cfg.Project.RootDir)); diff != "" {
		t.Errorf("install tree mismatch (-want +got):\n%s", diff)
	}

	// Staged patches are left untouched so a failed run can be retried.
	if !testutil.Exists(filepath.Join(f.cfg.PatchDir("1_5__2_0"), "files", "new", "extra.txt")) {
		t.Error("patch content should not be consumed")
	}
	entries, err := os.ReadDir(f.cfg.Paths.StagingDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging directory not cleaned: %v", entries)
	}
}

func TestRun_ReportsRepairs(t *testing.T) {
	f := newFixture(t)
	testutil.WriteTree(t, f.cfg.Project.RootDir, map[string]string{"data/keep.dat": "KEEP"})

	report, err := f.engine(CopyApplier{}, false).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Repair) != 1 || report.Repair[0].Path != filepath.Join("data", "keep.dat") {
		t.Errorf("expected data/keep.dat to need repair, got %v", report.Repair)
	}
	if report.UpToDate() {
		t.Error("report should not be up to date")
	}
}

func TestRun_DryRun(t *testing.T) {
	f := newFixture(t)
	before := testutil.ReadTree(t, f.cfg.Project.RootDir)

	report, err := f.engine(CopyApplier{}, true).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if diff := cmp.Diff([]string{"1.0_1.5", "1.5_2.0"}, labels(report.Plan.Patches)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if len(report.Applied) != 0 {
		t.Errorf("dry run applied patches: %v", labels(report.Applied))
	}
	if diff := cmp.Diff(before, testutil.ReadTree(t, f.cfg.Project.RootDir)); diff != "" {
		t.Errorf("dry run modified install (-before +after):\n%s", diff)
	}
}

func TestRun_AlreadyCurrent(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine(CopyApplier{}, false).Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	applier := &failingApplier{}
	report, err := f.engine(applier, false).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if applier.called {
		t.Error("applier should not run when already at target")
	}
	if !report.UpToDate() {
		t.Errorf("expected up-to-date report, got %+v", report)
	}
}

func TestRun_NoVersionMarker(t *testing.T) {
	f := newFixture(t)
	if err := os.Remove(version.MarkerPath(f.cfg.Project.RootDir, "App")); err != nil {
		t.Fatal(err)
	}

	_, err := f.engine(CopyApplier{}, false).Run(context.Background())
	if !errors.Is(err, ErrNoCurrentVersion) {
		t.Errorf("expected ErrNoCurrentVersion, got %v", err)
	}
}

func TestRun_NoPath(t *testing.T) {
	f := newFixture(t)
	if err := f.store.Set(f.cfg.Project.RootDir, "App", version.Parse("0.5")); err != nil {
		t.Fatal(err)
	}

	_, err := f.engine(CopyApplier{}, false).Run(context.Background())
	if !errors.Is(err, patchpath.ErrNoPathFound) {
		t.Errorf("expected ErrNoPathFound, got %v", err)
	}
}

func TestRun_BadManifest(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.cfg.Paths.Manifest, []byte("files: [oops"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := f.engine(CopyApplier{}, false).Run(context.Background())
	if !errors.Is(err, manifest.ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestRun_ApplierFailureKeepsVersion(t *testing.T) {
	f := newFixture(t)
	applier := &failingApplier{}

	report, err := f.engine(applier, false).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "delta codec exploded") {
		t.Fatalf("expected applier error, got %v", err)
	}
	if len(report.Applied) != 0 {
		t.Errorf("expected nothing applied, got %v", labels(report.Applied))
	}

	v, err := f.store.Get(f.cfg.Project.RootDir, "App")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "1.0" {
		t.Errorf("version marker advanced to %s after failure", v)
	}
}

func TestRun_DescriptorMismatch(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.cfg.PatchDir("1_0__1_5"), "patch.yaml")
	if err := os.WriteFile(path, []byte("from: \"1.0\"\nto: \"1.6\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := f.engine(CopyApplier{}, false).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "patch descriptor covers 1.0_1.6") {
		t.Errorf("expected descriptor mismatch error, got %v", err)
	}
}

func TestRun_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine(CopyApplier{}, false).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	f := newFixture(t)

	repair, err := f.engine(CopyApplier{}, false).Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	var got []string
	for _, item := range repair {
		got = append(got, filepath.ToSlash(item.Path))
	}
	want := []string{"bin/app", "data/renamed.dat", "new/extra.txt"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("repair list mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SeparateStagingDirectory(t *testing.T) {
	f := newFixture(t)
	f.cfg.Paths.StagingDir = filepath.Join(t.TempDir(), "elsewhere", "staging")

	if _, err := f.engine(CopyApplier{}, false).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := testutil.ReadTree(t, f.cfg.Project.RootDir)
	if got["new/extra.txt"] != "extra" {
		t.Errorf("new subdirectory not merged, tree: %v", got)
	}
	if got["App"+version.MarkerSuffix] != "2.0" {
		t.Errorf("version marker = %q, want 2.0", got["App"+version.MarkerSuffix])
	}

	// Scratch copies are removed from both the staging directory and the
	// root's parent.
	entries, err := os.ReadDir(f.cfg.Paths.StagingDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging directory not cleaned: %v", entries)
	}
	siblings, err := os.ReadDir(filepath.Dir(f.cfg.Project.RootDir))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range siblings {
		if strings.HasPrefix(e.Name(), ".patchtool-") {
			t.Errorf("leftover scratch directory %s", e.Name())
		}
	}
}
