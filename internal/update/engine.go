package update

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/schaermu/patchtool/internal/config"
	"github.com/schaermu/patchtool/internal/manifest"
	"github.com/schaermu/patchtool/internal/patchpath"
	"github.com/schaermu/patchtool/internal/reconcile"
	"github.com/schaermu/patchtool/internal/signature"
	"github.com/schaermu/patchtool/internal/version"
)

var (
	// ErrNoWriteAccess is returned when the install root cannot be written.
	ErrNoWriteAccess = errors.New("no write access to install root")
	// ErrNoCurrentVersion is returned when the install has no valid version
	// marker, so only a full install could bring it up to date.
	ErrNoCurrentVersion = errors.New("installed version unknown")
)

// patchInfoFile is the descriptor inside every extracted patch directory.
const patchInfoFile = "patch.yaml"

// Engine orchestrates the update process
type Engine struct {
	cfg      *config.Config
	store    version.Store
	applier  Applier
	verifier *signature.Verifier
	prober   *reconcile.Prober
	logger   *slog.Logger
	dryRun   bool
}

// NewEngine creates a new update engine
func NewEngine(cfg *config.Config, store version.Store, applier Applier, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		applier:  applier,
		verifier: signature.New(cfg.Verify.HashThreshold),
		prober:   reconcile.DefaultProber(),
		logger:   logger,
		dryRun:   dryRun,
	}
}

// Run executes the complete update process
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	root := e.cfg.Project.RootDir
	e.logger.Info("starting update",
		"project", e.cfg.Project.Name,
		"root", root,
		"dry_run", e.dryRun)

	if !e.dryRun && !e.prober.Probe(root) {
		return nil, fmt.Errorf("%w: %s", ErrNoWriteAccess, root)
	}

	info, err := manifest.ReadVersionInfo(e.cfg.Paths.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	e.logger.Info("manifest loaded",
		"target", info.Version.String(),
		"files", len(info.Files),
		"patches", len(info.Patches))

	plan, err := e.buildPlan(info)
	if err != nil {
		return nil, err
	}
	report := &Report{Plan: *plan}

	e.logger.Info("update plan",
		"current", plan.Current.String(),
		"target", plan.Target.String(),
		"patches", len(plan.Patches))

	if e.dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return report, nil
	}

	for _, p := range plan.Patches {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := e.applyPatch(ctx, p); err != nil {
			return report, fmt.Errorf("failed to apply patch %s: %w", manifest.PatchVersionBrief(p.From, p.To), err)
		}
		report.Applied = append(report.Applied, p)
	}

	repair, err := e.verify(ctx, info)
	if err != nil {
		return report, err
	}
	report.Repair = repair

	e.logger.Info("update completed",
		"applied", len(report.Applied),
		"needs_repair", len(report.Repair))
	return report, nil
}

// Verify checks the install root against the manifest without applying
// anything and returns the files that need repair.
func (e *Engine) Verify(ctx context.Context) ([]manifest.VersionItem, error) {
	info, err := manifest.ReadVersionInfo(e.cfg.Paths.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	return e.verify(ctx, info)
}

// buildPlan resolves the patch chain from the installed version
func (e *Engine) buildPlan(info *manifest.VersionInfo) (*Plan, error) {
	resolver := &patchpath.Resolver{Store: e.store}
	current, chain, err := resolver.Plan(e.cfg.Project.RootDir, e.cfg.Project.Name, info)
	if err != nil && !errors.Is(err, patchpath.ErrNoPathFound) {
		return nil, err
	}
	if !current.IsValid() {
		return nil, fmt.Errorf("%w: no version marker for %s in %s", ErrNoCurrentVersion, e.cfg.Project.Name, e.cfg.Project.RootDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve patch path: %w", err)
	}

	return &Plan{Current: current, Target: info.Version, Patches: chain}, nil
}

// applyPatch applies one staged incremental patch to the install root and
// records the new version
func (e *Engine) applyPatch(ctx context.Context, p manifest.IncrementalPatch) error {
	root := e.cfg.Project.RootDir
	patchDir := e.cfg.PatchDir(p.Name())

	pinfo, err := manifest.ReadPatchInfo(filepath.Join(patchDir, patchInfoFile))
	if err != nil {
		return err
	}
	if !pinfo.From.Equal(p.From) || !pinfo.To.Equal(p.To) {
		return fmt.Errorf("patch descriptor covers %s, expected %s",
			manifest.PatchVersionBrief(pinfo.From, pinfo.To), manifest.PatchVersionBrief(p.From, p.To))
	}

	e.logger.Info("applying patch",
		"from", p.From.String(),
		"to", p.To.String(),
		"size", units.HumanSize(float64(p.Size)),
		"files", len(pinfo.Files),
		"renamed", len(pinfo.RenamedFiles))

	for _, r := range pinfo.RenamedFiles {
		from := filepath.Join(root, r.BeforePath)
		if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn("rename source missing, skipping", "path", r.BeforePath)
			continue
		}
		e.logger.Debug("renaming file", "from", r.BeforePath, "to", r.AfterPath)
		if err := reconcile.MoveEntry(from, filepath.Join(root, r.AfterPath)); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(e.cfg.Paths.StagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	out, err := os.MkdirTemp(e.cfg.Paths.StagingDir, p.Name()+"-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(out)
	}()

	if err := e.applier.Apply(ctx, ApplyRequest{
		RootDir:  root,
		PatchDir: patchDir,
		OutDir:   out,
		Info:     pinfo,
	}); err != nil {
		return err
	}

	// The staging directory may live on another filesystem, so the rendered
	// tree is staged again beside the root before it is merged.
	if err := reconcile.MergeStaged(out, root); err != nil {
		return err
	}

	if err := e.store.Set(root, e.cfg.Project.Name, p.To); err != nil {
		return err
	}
	e.logger.Info("patch applied", "version", p.To.String())
	return nil
}

// verify compares the install root with the manifest's file list
func (e *Engine) verify(ctx context.Context, info *manifest.VersionInfo) ([]manifest.VersionItem, error) {
	e.logger.Info("verifying files", "count", len(info.Files))

	repair, err := e.verifier.VerifyTree(ctx, e.cfg.Project.RootDir, info.Files, signature.TreeOptions{
		Workers: e.cfg.Verify.Workers,
		Skip:    info.IsIgnored,
	})
	if err != nil {
		return repair, fmt.Errorf("failed to verify files: %w", err)
	}

	for _, item := range repair {
		e.logger.Warn("file needs repair", "path", item.Path, "size", units.HumanSize(float64(item.Size)))
	}
	return repair, nil
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, p := range plan.Patches {
		e.logger.Info("[dry-run] would apply",
			"patch", manifest.PatchVersionBrief(p.From, p.To),
			"dir", e.cfg.PatchDir(p.Name()))
	}
}
