package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mfeller/tunesyncd/internal/abctool"
	"github.com/mfeller/tunesyncd/internal/config"
	"github.com/mfeller/tunesyncd/internal/dataset"
	"github.com/mfeller/tunesyncd/internal/fingerprint"
	"github.com/mfeller/tunesyncd/internal/metrics"
	"github.com/mfeller/tunesyncd/internal/release"
	"github.com/mfeller/tunesyncd/internal/script"
)

// Engine orchestrates the fetch/fingerprint/rebuild/publish pipeline
type Engine struct {
	cfg      *config.Config
	tool     abctool.Converter
	runner   script.Runner
	releaser release.Releaser
	logger   *slog.Logger
	recorder metrics.Recorder
	dryRun   bool
}

// NewEngine creates a new pipeline engine. releaser may be nil when the
// release step is disabled.
func NewEngine(cfg *config.Config, tool abctool.Converter, runner script.Runner, releaser release.Releaser, logger *slog.Logger, recorder metrics.Recorder, dryRun bool) *Engine {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Engine{
		cfg:      cfg,
		tool:     tool,
		runner:   runner,
		releaser: releaser,
		logger:   logger,
		recorder: recorder,
		dryRun:   dryRun,
	}
}

// Run executes the complete pipeline. It is a linear sequence: every stage
// must succeed before the next begins, and any fatal error aborts the run
// immediately. The recorded fingerprint is only ever replaced after a
// successful publish, so an abort at any earlier stage leaves the previous
// run's state intact and a re-invocation will detect the same change again.
func (e *Engine) Run(ctx context.Context) (Outcome, error) {
	e.logger.Info("starting pipeline run",
		"root", e.cfg.Paths.RootDir,
		"dry_run", e.dryRun)

	// Precheck: exact converter version, before any side effect
	if err := e.timed(StagePrecheck, func() error {
		return abctool.CheckVersion(ctx, e.tool, e.cfg.Tool.ExpectedVersion)
	}); err != nil {
		return "", e.fail(StagePrecheck, err)
	}
	e.logger.Info("converter version verified", "version", e.cfg.Tool.ExpectedVersion)

	// Ensure state directory exists
	if err := os.MkdirAll(e.cfg.StateDir(), 0755); err != nil {
		return "", e.fail(StageFingerprint, fmt.Errorf("failed to create state directory: %w", err))
	}

	// Fetch: external step repopulates the data directory wholesale
	e.logger.Info("fetching upstream data", "command", e.cfg.Steps.FetchCommand)
	if err := e.timed(StageFetch, func() error {
		return e.runner.Run(ctx, e.cfg.Steps.FetchCommand, e.cfg.Paths.RootDir)
	}); err != nil {
		return "", e.fail(StageFetch, err)
	}

	// A fetch that produced nothing is a fetch failure, never a "no change":
	// publishing a dataset built from an empty snapshot is always wrong.
	inputs, err := dataset.DiscoverInputs(e.cfg.DataDir())
	if err != nil {
		return "", e.fail(StageFetch, err)
	}
	if len(inputs) == 0 {
		return "", e.fail(StageFetch, fmt.Errorf("fetch step produced no input files in %s", e.cfg.DataDir()))
	}
	e.logger.Info("fetched upstream data", "files", len(inputs))

	// Fingerprint the fetched snapshot into the candidate state
	var candidate fingerprint.Record
	if err := e.timed(StageFingerprint, func() error {
		var err error
		candidate, err = fingerprint.Snapshot(e.cfg.DataDir(), dataset.InputGlob)
		if err != nil {
			return err
		}
		return candidate.WriteFile(e.cfg.CandidateFingerprintPath())
	}); err != nil {
		return "", e.fail(StageFingerprint, err)
	}
	e.logger.Info("computed candidate fingerprint", "files", len(candidate))

	// Compare candidate against the recorded state
	changed, err := fingerprint.Changed(e.cfg.RecordedFingerprintPath(), e.cfg.CandidateFingerprintPath())
	if err != nil {
		return "", e.fail(StageCompare, err)
	}

	if !changed {
		e.logger.Info("upstream content unchanged, nothing to do")
		e.recorder.RecordRunOutcome(string(OutcomeNoChange))
		return OutcomeNoChange, nil
	}

	e.logger.Info("upstream content changed, rebuild required")

	// check for dry-run mode
	if e.dryRun {
		e.logger.Info("dry-run complete, would rebuild and publish", "files", len(candidate))
		e.recorder.RecordRunOutcome(string(OutcomeDryRun))
		return OutcomeDryRun, nil
	}

	// Rebuild: external step produces the derived artifacts
	e.logger.Info("running build step", "command", e.cfg.Steps.BuildCommand)
	if err := e.timed(StageBuild, func() error {
		if err := e.runner.Run(ctx, e.cfg.Steps.BuildCommand, e.cfg.Paths.RootDir); err != nil {
			return err
		}
		return dataset.VerifyArtifacts(e.cfg.DataDir(), e.cfg.Build.DataFile, e.cfg.Build.MetaFile)
	}); err != nil {
		return "", e.fail(StageBuild, err)
	}

	// Publish gate: relocate artifacts into the published location
	e.logger.Info("publishing artifacts", "dest", e.cfg.Paths.PublishDir)
	if err := e.timed(StagePublish, e.publishArtifacts); err != nil {
		return "", e.fail(StagePublish, err)
	}

	// Commit state: the candidate becomes the recorded fingerprint, strictly
	// after the publish succeeded
	if err := os.Rename(e.cfg.CandidateFingerprintPath(), e.cfg.RecordedFingerprintPath()); err != nil {
		return "", e.fail(StageCommitState, fmt.Errorf("failed to persist fingerprint: %w", err))
	}
	e.logger.Info("recorded new fingerprint state", "path", e.cfg.RecordedFingerprintPath())

	// Release: downstream commit/push/deploy. The local state is already
	// committed, so failures here are surfaced loudly but never rolled back.
	if e.cfg.Release.Enabled {
		if err := e.timed(StageRelease, func() error { return e.runRelease(ctx) }); err != nil {
			e.logger.Error("release step failed; published dataset may lag downstream until re-run or manual intervention", "error", err)
		}
	}

	e.logger.Info("pipeline run completed", "outcome", OutcomePublished)
	e.recorder.RecordRunOutcome(string(OutcomePublished))
	return OutcomePublished, nil
}

// runRelease commits and pushes the publish directory, then runs the
// configured deploy command.
func (e *Engine) runRelease(ctx context.Context) error {
	message, err := dataset.CommitMessage(filepath.Join(e.cfg.Paths.PublishDir, e.cfg.Build.MetaFile))
	if err != nil {
		return err
	}

	if e.releaser != nil {
		e.logger.Info("committing and pushing release", "message", message)
		if err := e.releaser.CommitAndPush(ctx, message); err != nil {
			return err
		}
	}

	if len(e.cfg.Release.DeployCommand) > 0 {
		e.logger.Info("running deploy command", "command", e.cfg.Release.DeployCommand)
		if err := e.runner.Run(ctx, e.cfg.Release.DeployCommand, e.cfg.Paths.RootDir); err != nil {
			return err
		}
	}

	return nil
}

// timed runs fn and records its duration under the stage label
func (e *Engine) timed(stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	e.recorder.RecordStageDuration(string(stage), time.Since(start))
	return err
}

// fail logs and wraps a fatal stage error
func (e *Engine) fail(stage Stage, err error) error {
	e.logger.Error("pipeline stage failed", "stage", stage, "error", err)
	e.recorder.RecordRunOutcome("error")
	return &StageError{Stage: stage, Err: err}
}
