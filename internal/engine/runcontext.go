// Package engine executes task definitions with lifecycle management,
// per-step timeouts, and the failure cleanup protocol.
package engine

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus identifies the lifecycle state of one run.
type RunStatus string

// Run lifecycle states.
const (
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// StepOutcome identifies the result of one executed step.
type StepOutcome string

// Step outcomes.
const (
	StepOutcomeCompleted StepOutcome = "completed"
	StepOutcomeFailed    StepOutcome = "failed"
)

// StepResult records the outcome of one executed step. The run's history is
// append-only, one entry per executed step, in execution order.
type StepResult struct {
	Name    string
	Outcome StepOutcome
	Start   time.Time
	End     time.Time
	Output  string
	Err     error
}

// RunContext carries the mutable state of one run. It is owned exclusively by
// the run that created it and never shared across runs.
type RunContext struct {
	ID                string
	TaskName          string
	ProjectPath       string
	WorkingDirectory  string
	WorktreePath      string
	SessionName       string
	Arguments         map[string]string
	Shared            map[string]any
	StepHistory       []StepResult
	ArtifactDirectory string
	Status            RunStatus
}

// NewRunContext constructs an active run context with a fresh identifier.
func NewRunContext(taskName string, projectPath string) *RunContext {
	return &RunContext{
		ID:               uuid.NewString(),
		TaskName:         taskName,
		ProjectPath:      projectPath,
		WorkingDirectory: projectPath,
		Arguments:        map[string]string{},
		Shared:           map[string]any{},
		Status:           RunStatusActive,
	}
}

// RecordStep appends a step result to the run history.
func (runContext *RunContext) RecordStep(result StepResult) {
	runContext.StepHistory = append(runContext.StepHistory, result)
}

// EffectiveWorkingDirectory returns the worktree path when one was created,
// otherwise the configured working directory.
func (runContext *RunContext) EffectiveWorkingDirectory() string {
	if len(runContext.WorktreePath) > 0 {
		return runContext.WorktreePath
	}
	return runContext.WorkingDirectory
}

// ExecutionResult reports the outcome of one Executor invocation.
type ExecutionResult struct {
	Success       bool
	Err           error
	Output        string
	ArtifactsPath string
}
