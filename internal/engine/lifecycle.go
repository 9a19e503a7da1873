package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/prunejuice/internal/taskdef"
)

// LifecycleVariant identifies which ephemeral resources wrap a run.
type LifecycleVariant int

// The closed set of lifecycle variants.
const (
	VariantPlain LifecycleVariant = iota
	VariantSession
	VariantWorktreeSession
)

const (
	cleanupStepTimeoutCeilingSeconds = 60

	worktreeResourceNameConstant = "worktree"
	sessionResourceNameConstant  = "session"

	worktreeNameMarkerConstant      = "worktree"
	featureBranchNameMarkerConstant = "feature-branch"
	sessionNameMarkerConstant       = "session"

	cleanupStepFailedLogMessageConstant  = "cleanup step failed"
	teardownFailedLogMessageConstant     = "teardown failed"
	logArtifactFileNameTemplateConstant  = "%02d-%s.log"
	logsArtifactCategoryConstant         = "logs"
	stepLogStoreFailedLogMessageConstant = "step log artifact not stored"
	worktreeRollbackLogMessageConstant   = "rolling back worktree after session setup failure"
)

var worktreeStepMarkers = map[string]bool{
	builtinCreateWorktreeNameConstant:       true,
	builtinStartWorktreeSessionNameConstant: true,
}

var sessionStepMarkers = map[string]bool{
	builtinStartSessionNameConstant: true,
	"session-create":                true,
}

// String renders the variant for logs and dry-run output.
func (variant LifecycleVariant) String() string {
	switch variant {
	case VariantSession:
		return "session"
	case VariantWorktreeSession:
		return "worktree+session"
	default:
		return "plain"
	}
}

// SelectVariant inspects a definition's step identifiers and name and picks
// the lifecycle variant. The inspection is purely syntactic.
func SelectVariant(definition taskdef.Definition) LifecycleVariant {
	definitionName := strings.ToLower(definition.Name)
	if strings.Contains(definitionName, worktreeNameMarkerConstant) || strings.Contains(definitionName, featureBranchNameMarkerConstant) {
		return VariantWorktreeSession
	}

	for _, step := range definition.AllSteps() {
		if worktreeStepMarkers[step.Action] || worktreeStepMarkers[step.Name] {
			return VariantWorktreeSession
		}
	}

	if strings.Contains(definitionName, sessionNameMarkerConstant) {
		return VariantSession
	}
	for _, step := range definition.AllSteps() {
		if sessionStepMarkers[step.Action] || sessionStepMarkers[step.Name] {
			return VariantSession
		}
	}

	return VariantPlain
}

// lifecycle wraps the shared run-steps procedure with optional setup and
// teardown hooks. Variants differ only in their hooks.
type lifecycle struct {
	variant  LifecycleVariant
	setup    func(executionContext context.Context, runContext *RunContext) error
	teardown func(executionContext context.Context, runContext *RunContext) []TeardownError
}

// run executes setup, the full step sequence, and teardown. Teardown always
// runs once setup succeeded, and its failures never change the run outcome.
func (runner *lifecycle) run(executionContext context.Context, executor *Executor, definition taskdef.Definition, runContext *RunContext) error {
	if runner.setup != nil {
		if setupError := runner.setup(executionContext, runContext); setupError != nil {
			runContext.Status = RunStatusFailed
			return setupError
		}
	}

	stepsError := executor.runSteps(executionContext, definition, runContext)

	if runner.teardown != nil {
		for _, teardownError := range runner.teardown(executionContext, runContext) {
			executor.logger.Warn(teardownFailedLogMessageConstant,
				zap.String("run", runContext.ID),
				zap.Error(teardownError),
			)
		}
	}

	if stepsError != nil {
		runContext.Status = RunStatusFailed
		return stepsError
	}
	runContext.Status = RunStatusCompleted
	return nil
}

// buildLifecycle materializes the hooks for a variant.
func (executor *Executor) buildLifecycle(variant LifecycleVariant) *lifecycle {
	switch variant {
	case VariantSession:
		return &lifecycle{
			variant:  variant,
			setup:    executor.setupSession,
			teardown: executor.teardownSession,
		}
	case VariantWorktreeSession:
		return &lifecycle{
			variant:  variant,
			setup:    executor.setupWorktreeAndSession,
			teardown: executor.teardownSessionAndWorktree,
		}
	default:
		return &lifecycle{variant: variant}
	}
}

func (executor *Executor) setupSession(executionContext context.Context, runContext *RunContext) error {
	sessionName, creationError := executor.sessions.Create(executionContext, runContext.EffectiveWorkingDirectory(), runContext.TaskName)
	if creationError != nil {
		return LifecycleSetupError{Resource: sessionResourceNameConstant, Cause: creationError}
	}
	runContext.SessionName = sessionName
	runContext.Shared[sharedSessionNameKeyConstant] = sessionName
	return nil
}

func (executor *Executor) setupWorktreeAndSession(executionContext context.Context, runContext *RunContext) error {
	branchName := fmt.Sprintf(branchNameTemplateConstant, runContext.TaskName, time.Now().Format(branchTimestampLayoutConstant))
	if namedArgument, found := runContext.Arguments[worktreeNameArgumentNameConstant]; found && len(namedArgument) > 0 {
		branchName = namedArgument
	}
	baseBranch := runContext.Arguments[baseBranchArgumentNameConstant]

	worktreePath, worktreeError := executor.worktrees.Create(executionContext, runContext.ProjectPath, branchName, baseBranch)
	if worktreeError != nil {
		return LifecycleSetupError{Resource: worktreeResourceNameConstant, Cause: worktreeError}
	}
	runContext.WorktreePath = worktreePath
	runContext.Shared[sharedWorktreePathKeyConstant] = worktreePath
	runContext.Shared[sharedBranchNameKeyConstant] = branchName

	if sessionError := executor.setupSession(executionContext, runContext); sessionError != nil {
		executor.logger.Warn(worktreeRollbackLogMessageConstant, zap.String("worktree", worktreePath))
		executor.worktrees.Remove(executionContext, runContext.ProjectPath, worktreePath)
		runContext.WorktreePath = ""
		return sessionError
	}
	return nil
}

func (executor *Executor) teardownSession(executionContext context.Context, runContext *RunContext) []TeardownError {
	if len(runContext.SessionName) == 0 {
		return nil
	}
	if !executor.sessions.Kill(executionContext, runContext.SessionName) {
		return []TeardownError{{Resource: sessionResourceNameConstant, Cause: fmt.Errorf("session %s not killed", runContext.SessionName)}}
	}
	return nil
}

// Session teardown always precedes worktree teardown, the reverse of creation.
func (executor *Executor) teardownSessionAndWorktree(executionContext context.Context, runContext *RunContext) []TeardownError {
	teardownErrors := executor.teardownSession(executionContext, runContext)
	if len(runContext.WorktreePath) > 0 {
		if !executor.worktrees.Remove(executionContext, runContext.ProjectPath, runContext.WorktreePath) {
			teardownErrors = append(teardownErrors, TeardownError{Resource: worktreeResourceNameConstant, Cause: fmt.Errorf("worktree %s not removed", runContext.WorktreePath)})
		}
	}
	return teardownErrors
}

// runSteps executes the definition's step sequence in order. The first failure
// flips the run to Failed and triggers the cleanup sequence exactly once.
func (executor *Executor) runSteps(executionContext context.Context, definition taskdef.Definition, runContext *RunContext) error {
	for stepIndex, step := range definition.AllSteps() {
		stepStart := time.Now()
		stepOutput, stepError := executor.steps.Execute(executionContext, definition, step, runContext, definition.Timeout)
		stepEnd := time.Now()

		stepResult := StepResult{
			Name:   step.Name,
			Start:  stepStart,
			End:    stepEnd,
			Output: stepOutput,
			Err:    stepError,
		}
		if stepError != nil {
			stepResult.Outcome = StepOutcomeFailed
		} else {
			stepResult.Outcome = StepOutcomeCompleted
		}
		runContext.RecordStep(stepResult)
		executor.storeStepLog(runContext, stepIndex, step, stepOutput)

		if stepError != nil {
			runContext.Status = RunStatusFailed
			executor.runCleanupSteps(executionContext, definition, runContext)
			return stepError
		}
	}
	return nil
}

// runCleanupSteps executes every cleanup step best-effort in declared order.
// Failures are logged and never escalate.
func (executor *Executor) runCleanupSteps(executionContext context.Context, definition taskdef.Definition, runContext *RunContext) {
	for _, cleanupStep := range definition.CleanupOnFailure {
		cleanupOutput, cleanupError := executor.steps.Execute(executionContext, definition, cleanupStep, runContext, cleanupStepTimeoutCeilingSeconds)
		if cleanupError != nil {
			executor.logger.Warn(cleanupStepFailedLogMessageConstant,
				zap.String("run", runContext.ID),
				zap.String("step", cleanupStep.Name),
				zap.String("output", cleanupOutput),
				zap.Error(cleanupError),
			)
		}
	}
}

func (executor *Executor) storeStepLog(runContext *RunContext, stepIndex int, step taskdef.Step, stepOutput string) {
	if executor.artifacts == nil || len(runContext.ArtifactDirectory) == 0 {
		return
	}
	logFileName := fmt.Sprintf(logArtifactFileNameTemplateConstant, stepIndex+1, step.Name)
	if _, storeError := executor.artifacts.StoreContent(runContext.ID, logsArtifactCategoryConstant, logFileName, []byte(stepOutput)); storeError != nil {
		executor.logger.Debug(stepLogStoreFailedLogMessageConstant,
			zap.String("run", runContext.ID),
			zap.Error(storeError),
		)
	}
}
