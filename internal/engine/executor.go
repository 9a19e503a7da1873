package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tyemirov/prunejuice/internal/taskdef"
)

const (
	executorStoreRequiredMessage     = "executor definition store not configured"
	executorStepsRequiredMessage     = "executor step executor not configured"
	executorWorktreesRequiredMessage = "executor worktree manager not configured"
	executorSessionsRequiredMessage  = "executor session manager not configured"
	executorArtifactsRequiredMessage = "executor artifact store not configured"

	runRecoveredPanicTemplateConstant = "run aborted: %v"
	recordStartFailedLogMessage       = "run start not recorded"
	recordEndFailedLogMessage         = "run end not recorded"
	runStartedLogMessageConstant      = "run starting"
	runFinishedLogMessageConstant     = "run finished"

	dryRunHeaderTemplateConstant      = "task %s (%s lifecycle)\n"
	dryRunStepLineTemplateConstant    = "  %d. [%s] %s\n"
	dryRunCleanupHeaderConstant       = "cleanup on failure:\n"
	dryRunCleanupLineTemplateConstant = "  - [%s] %s\n"
)

// ExecutorDependencies carries every collaborator the Executor needs.
type ExecutorDependencies struct {
	Store     *taskdef.Store
	Steps     *StepExecutor
	Worktrees WorktreeManager
	Sessions  SessionManager
	Recorder  EventRecorder
	Artifacts ArtifactStore
	Logger    *zap.Logger
}

// Executor is the engine entry point: it loads a definition, validates
// arguments, wraps the run in its lifecycle variant, and reports a result.
type Executor struct {
	store     *taskdef.Store
	steps     *StepExecutor
	worktrees WorktreeManager
	sessions  SessionManager
	recorder  EventRecorder
	artifacts ArtifactStore
	logger    *zap.Logger
}

// NewExecutor validates dependencies and constructs an Executor. The recorder
// is optional; every other collaborator is required.
func NewExecutor(dependencies ExecutorDependencies) (*Executor, error) {
	if dependencies.Store == nil {
		return nil, errors.New(executorStoreRequiredMessage)
	}
	if dependencies.Steps == nil {
		return nil, errors.New(executorStepsRequiredMessage)
	}
	if dependencies.Worktrees == nil {
		return nil, errors.New(executorWorktreesRequiredMessage)
	}
	if dependencies.Sessions == nil {
		return nil, errors.New(executorSessionsRequiredMessage)
	}
	if dependencies.Artifacts == nil {
		return nil, errors.New(executorArtifactsRequiredMessage)
	}
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	return &Executor{
		store:     dependencies.Store,
		steps:     dependencies.Steps,
		worktrees: dependencies.Worktrees,
		sessions:  dependencies.Sessions,
		recorder:  dependencies.Recorder,
		artifacts: dependencies.Artifacts,
		logger:    dependencies.Logger,
	}, nil
}

// Execute runs one task invocation end to end. Every failure kind is
// converted into a failed ExecutionResult; no panic escapes.
func (executor *Executor) Execute(executionContext context.Context, taskName string, projectPath string, argumentValues map[string]string, dryRun bool) (executionResult ExecutionResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			executionResult = ExecutionResult{Success: false, Err: fmt.Errorf(runRecoveredPanicTemplateConstant, recovered)}
		}
	}()

	definition, found := executor.store.Load(taskName, projectPath)
	if !found {
		return ExecutionResult{Success: false, Err: DefinitionNotFoundError{TaskName: taskName}}
	}

	resolvedArguments, validationError := resolveArguments(definition, argumentValues)
	if validationError != nil {
		return ExecutionResult{Success: false, Err: validationError}
	}

	variant := SelectVariant(definition)
	if dryRun {
		return ExecutionResult{Success: true, Output: renderDryRun(definition, variant)}
	}

	runContext := NewRunContext(taskName, projectPath)
	runContext.Arguments = resolvedArguments
	if len(definition.WorkingDirectory) > 0 {
		runContext.WorkingDirectory = definition.WorkingDirectory
	}

	artifactDirectory, artifactError := executor.artifacts.CreateSession(runContext.ID)
	if artifactError != nil {
		return ExecutionResult{Success: false, Err: artifactError}
	}
	runContext.ArtifactDirectory = artifactDirectory

	executor.logger.Info(runStartedLogMessageConstant,
		zap.String("run", runContext.ID),
		zap.String("task", taskName),
		zap.String("variant", variant.String()),
	)
	executor.recordStart(runContext)

	runError := executor.buildLifecycle(variant).run(executionContext, executor, definition, runContext)

	executor.recordEnd(runContext, runError)
	executor.logger.Info(runFinishedLogMessageConstant,
		zap.String("run", runContext.ID),
		zap.String("status", string(runContext.Status)),
	)

	return ExecutionResult{
		Success:       runError == nil,
		Err:           runError,
		ArtifactsPath: runContext.ArtifactDirectory,
	}
}

func (executor *Executor) recordStart(runContext *RunContext) {
	if executor.recorder == nil {
		return
	}
	if recordError := executor.recorder.RecordStart(runContext.ID, runContext.TaskName, runContext.ProjectPath); recordError != nil {
		executor.logger.Warn(recordStartFailedLogMessage, zap.String("run", runContext.ID), zap.Error(recordError))
	}
}

func (executor *Executor) recordEnd(runContext *RunContext, runError error) {
	if executor.recorder == nil {
		return
	}
	errorText := ""
	if runError != nil {
		errorText = runError.Error()
	}
	if recordError := executor.recorder.RecordEnd(runContext.ID, string(runContext.Status), errorText); recordError != nil {
		executor.logger.Warn(recordEndFailedLogMessage, zap.String("run", runContext.ID), zap.Error(recordError))
	}
}

// resolveArguments merges supplied values with declared defaults and fails on
// a missing required argument.
func resolveArguments(definition taskdef.Definition, argumentValues map[string]string) (map[string]string, error) {
	resolved := map[string]string{}
	for suppliedName, suppliedValue := range argumentValues {
		resolved[suppliedName] = suppliedValue
	}

	for _, specification := range definition.Arguments {
		if _, supplied := resolved[specification.Name]; supplied {
			continue
		}
		if specification.Default != nil {
			if defaultValue, isScalar := scalarString(specification.Default); isScalar {
				resolved[specification.Name] = defaultValue
				continue
			}
		}
		if specification.Required {
			return nil, ArgumentValidationError{ArgumentName: specification.Name}
		}
	}
	return resolved, nil
}

// renderDryRun produces the human-readable step sequence, cleanup included.
func renderDryRun(definition taskdef.Definition, variant LifecycleVariant) string {
	var rendered strings.Builder
	rendered.WriteString(fmt.Sprintf(dryRunHeaderTemplateConstant, definition.Name, variant.String()))
	for stepIndex, step := range definition.AllSteps() {
		rendered.WriteString(fmt.Sprintf(dryRunStepLineTemplateConstant, stepIndex+1, step.Kind, stepDisplayName(step)))
	}
	if len(definition.CleanupOnFailure) > 0 {
		rendered.WriteString(dryRunCleanupHeaderConstant)
		for _, cleanupStep := range definition.CleanupOnFailure {
			rendered.WriteString(fmt.Sprintf(dryRunCleanupLineTemplateConstant, cleanupStep.Kind, stepDisplayName(cleanupStep)))
		}
	}
	return rendered.String()
}

func stepDisplayName(step taskdef.Step) string {
	if len(step.Name) > 0 && step.Name != step.Action {
		return fmt.Sprintf("%s (%s)", step.Name, step.Action)
	}
	return step.Action
}
