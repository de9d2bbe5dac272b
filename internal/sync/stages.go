package sync

import "fmt"

// Outcome is the final status of a completed pipeline run
type Outcome string

const (
	// OutcomePublished means a change was detected and the rebuilt
	// artifacts were published
	OutcomePublished Outcome = "published"
	// OutcomeNoChange means the upstream content was identical to the
	// recorded state and no side effects were performed
	OutcomeNoChange Outcome = "no-change"
	// OutcomeDryRun means a change was detected but dry-run mode stopped
	// the pipeline before the rebuild
	OutcomeDryRun Outcome = "dry-run"
)

// Stage identifies a step of the pipeline state machine
type Stage string

const (
	StagePrecheck    Stage = "precheck"
	StageFetch       Stage = "fetch"
	StageFingerprint Stage = "fingerprint"
	StageCompare     Stage = "compare"
	StageBuild       Stage = "build"
	StagePublish     Stage = "publish"
	StageCommitState Stage = "commit-state"
	StageRelease     Stage = "release"
)

// StageError wraps a fatal error with the pipeline stage it occurred in, so
// callers can map failures to distinct exit codes.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
