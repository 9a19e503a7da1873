package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
)

const (
	builtinSetupEnvironmentNameConstant      = "setup-environment"
	builtinValidatePrerequisitesNameConstant = "validate-prerequisites"
	builtinCreateWorktreeNameConstant        = "create-worktree"
	builtinStartSessionNameConstant          = "start-session"
	builtinStartWorktreeSessionNameConstant  = "start-worktree-session"
	builtinGatherContextNameConstant         = "gather-context"
	builtinStoreArtifactsNameConstant        = "store-artifacts"
	builtinCleanupNameConstant               = "cleanup"

	branchNameTemplateConstant         = "pj-%s-%s"
	branchTimestampLayoutConstant      = "20060102-150405"
	contextArtifactFileNameConstant    = "context.json"
	outputsArtifactCategoryConstant    = "outputs"
	sharedWorktreePathKeyConstant      = "worktree_path"
	sharedBranchNameKeyConstant        = "branch_name"
	sharedSessionNameKeyConstant       = "session_name"
	sharedProjectNameKeyConstant       = "project_name"
	sharedCurrentBranchKeyConstant     = "current_branch"
	sharedGatheredAtKeyConstant        = "gathered_at"
	baseBranchArgumentNameConstant     = "base_branch"
	worktreeNameArgumentNameConstant   = "name"
	notGitRepositoryMessageConstant    = "project path is not inside a git repository"
	artifactsNotAvailableMessage       = "artifact directory not initialized"
	sessionFallbackLogMessageConstant  = "session creation failed, using fallback name"
	artifactRecordSkippedLogMessage    = "artifact recording skipped"
	cleanupHookLogMessageConstant      = "cleanup hook invoked"
	setupEnvironmentCompletedTemplate  = "artifact directories ready at %s"
	prerequisitesValidatedMessage      = "prerequisites validated"
	worktreeCreatedOutputTemplate      = "worktree created at %s on branch %s"
	worktreeReusedOutputTemplate       = "worktree already active at %s on branch %s"
	sessionStartedOutputTemplate       = "session %s started"
	sessionReusedOutputTemplate        = "session %s already active"
	contextGatheredOutputTemplate      = "context gathered for %s"
	artifactsStoredOutputTemplate      = "artifacts registered at %s"
)

// BuiltinStepFunc is one named operation the step executor can invoke directly.
type BuiltinStepFunc func(executionContext context.Context, runContext *RunContext, stepArgs map[string]any) (string, error)

// BuiltinDependencies carries the collaborators builtin operations delegate to.
type BuiltinDependencies struct {
	Worktrees WorktreeManager
	Sessions  SessionManager
	Recorder  EventRecorder
	Artifacts ArtifactStore
	Logger    *zap.Logger
}

// BuiltinStepRegistry holds the fixed set of named builtin operations.
type BuiltinStepRegistry struct {
	dependencies BuiltinDependencies
	operations   map[string]BuiltinStepFunc
}

// NewBuiltinStepRegistry constructs the registry with its default operations.
func NewBuiltinStepRegistry(dependencies BuiltinDependencies) *BuiltinStepRegistry {
	if dependencies.Logger == nil {
		dependencies.Logger = zap.NewNop()
	}
	registry := &BuiltinStepRegistry{dependencies: dependencies, operations: map[string]BuiltinStepFunc{}}
	registry.operations[builtinSetupEnvironmentNameConstant] = registry.setupEnvironment
	registry.operations[builtinValidatePrerequisitesNameConstant] = registry.validatePrerequisites
	registry.operations[builtinCreateWorktreeNameConstant] = registry.createWorktree
	registry.operations[builtinStartSessionNameConstant] = registry.startSession
	registry.operations[builtinStartWorktreeSessionNameConstant] = registry.startWorktreeSession
	registry.operations[builtinGatherContextNameConstant] = registry.gatherContext
	registry.operations[builtinStoreArtifactsNameConstant] = registry.storeArtifacts
	registry.operations[builtinCleanupNameConstant] = registry.cleanup
	return registry
}

// Register installs or replaces a named operation.
func (registry *BuiltinStepRegistry) Register(operationName string, operation BuiltinStepFunc) {
	registry.operations[operationName] = operation
}

// Resolve looks up an operation by name.
func (registry *BuiltinStepRegistry) Resolve(operationName string) (BuiltinStepFunc, bool) {
	operation, found := registry.operations[operationName]
	return operation, found
}

// Names lists the registered operation names in sorted order.
func (registry *BuiltinStepRegistry) Names() []string {
	names := make([]string, 0, len(registry.operations))
	for operationName := range registry.operations {
		names = append(names, operationName)
	}
	sort.Strings(names)
	return names
}

func (registry *BuiltinStepRegistry) setupEnvironment(_ context.Context, runContext *RunContext, _ map[string]any) (string, error) {
	sessionDirectory, creationError := registry.dependencies.Artifacts.CreateSession(runContext.ID)
	if creationError != nil {
		return "", creationError
	}
	runContext.ArtifactDirectory = sessionDirectory
	return fmt.Sprintf(setupEnvironmentCompletedTemplate, sessionDirectory), nil
}

func (registry *BuiltinStepRegistry) validatePrerequisites(executionContext context.Context, runContext *RunContext, _ map[string]any) (string, error) {
	if !registry.dependencies.Worktrees.IsGitRepository(executionContext, runContext.EffectiveWorkingDirectory()) {
		return "", errors.New(notGitRepositoryMessageConstant)
	}
	return prerequisitesValidatedMessage, nil
}

// worktreeStepOptions captures the step arguments the worktree builtins accept.
type worktreeStepOptions struct {
	Name       string `mapstructure:"name"`
	Branch     string `mapstructure:"branch"`
	BaseBranch string `mapstructure:"base_branch"`
}

func (registry *BuiltinStepRegistry) createWorktree(executionContext context.Context, runContext *RunContext, stepArgs map[string]any) (string, error) {
	// The lifecycle variant may have created the worktree before the step
	// sequence ran; creating the same branch twice would fail in git.
	if len(runContext.WorktreePath) > 0 {
		return fmt.Sprintf(worktreeReusedOutputTemplate, runContext.WorktreePath, sharedStringValue(runContext, sharedBranchNameKeyConstant)), nil
	}

	var options worktreeStepOptions
	if decodeError := decodeStepArguments(stepArgs, &options); decodeError != nil {
		return "", decodeError
	}

	branchName := registry.resolveBranchName(runContext, options)
	baseBranch := strings.TrimSpace(options.BaseBranch)
	if len(baseBranch) == 0 {
		baseBranch = sharedStringValue(runContext, baseBranchArgumentNameConstant)
	}

	worktreePath, creationError := registry.dependencies.Worktrees.Create(executionContext, runContext.ProjectPath, branchName, baseBranch)
	if creationError != nil {
		return "", creationError
	}

	runContext.WorktreePath = worktreePath
	runContext.Shared[sharedWorktreePathKeyConstant] = worktreePath
	runContext.Shared[sharedBranchNameKeyConstant] = branchName
	return fmt.Sprintf(worktreeCreatedOutputTemplate, worktreePath, branchName), nil
}

func (registry *BuiltinStepRegistry) startSession(executionContext context.Context, runContext *RunContext, _ map[string]any) (string, error) {
	if len(runContext.SessionName) > 0 {
		return fmt.Sprintf(sessionReusedOutputTemplate, runContext.SessionName), nil
	}

	sessionName, creationError := registry.dependencies.Sessions.Create(executionContext, runContext.EffectiveWorkingDirectory(), runContext.TaskName)
	if creationError != nil {
		sessionName = registry.dependencies.Sessions.FallbackName(runContext.TaskName)
		registry.dependencies.Logger.Warn(sessionFallbackLogMessageConstant,
			zap.String("task", runContext.TaskName),
			zap.String("session", sessionName),
			zap.Error(creationError),
		)
	}
	runContext.SessionName = sessionName
	runContext.Shared[sharedSessionNameKeyConstant] = sessionName
	return fmt.Sprintf(sessionStartedOutputTemplate, sessionName), nil
}

func (registry *BuiltinStepRegistry) startWorktreeSession(executionContext context.Context, runContext *RunContext, stepArgs map[string]any) (string, error) {
	worktreeOutput, worktreeError := registry.createWorktree(executionContext, runContext, stepArgs)
	if worktreeError != nil {
		return "", worktreeError
	}
	sessionOutput, sessionError := registry.startSession(executionContext, runContext, stepArgs)
	if sessionError != nil {
		return worktreeOutput, sessionError
	}
	return fmt.Sprintf("%s; %s", worktreeOutput, sessionOutput), nil
}

func (registry *BuiltinStepRegistry) gatherContext(executionContext context.Context, runContext *RunContext, _ map[string]any) (string, error) {
	projectName := filepath.Base(filepath.Clean(runContext.ProjectPath))
	currentBranch, branchError := registry.dependencies.Worktrees.CurrentBranch(executionContext, runContext.EffectiveWorkingDirectory())
	if branchError != nil {
		currentBranch = ""
	}
	gatheredAt := time.Now().UTC().Format(time.RFC3339)

	contextDocument := map[string]string{
		"project_name":   projectName,
		"current_branch": currentBranch,
		"gathered_at":    gatheredAt,
		"task_name":      runContext.TaskName,
	}
	encodedContext, encodeError := json.MarshalIndent(contextDocument, "", "  ")
	if encodeError != nil {
		return "", encodeError
	}

	if _, storeError := registry.dependencies.Artifacts.StoreContent(runContext.ID, outputsArtifactCategoryConstant, contextArtifactFileNameConstant, encodedContext); storeError != nil {
		return "", storeError
	}

	runContext.Shared[sharedProjectNameKeyConstant] = projectName
	runContext.Shared[sharedCurrentBranchKeyConstant] = currentBranch
	runContext.Shared[sharedGatheredAtKeyConstant] = gatheredAt
	return fmt.Sprintf(contextGatheredOutputTemplate, projectName), nil
}

func (registry *BuiltinStepRegistry) storeArtifacts(_ context.Context, runContext *RunContext, _ map[string]any) (string, error) {
	if len(runContext.ArtifactDirectory) == 0 {
		return "", errors.New(artifactsNotAvailableMessage)
	}
	if registry.dependencies.Recorder != nil {
		if recordError := registry.dependencies.Recorder.RecordArtifact(runContext.ID, outputsArtifactCategoryConstant, runContext.ArtifactDirectory); recordError != nil {
			registry.dependencies.Logger.Warn(artifactRecordSkippedLogMessage,
				zap.String("run", runContext.ID),
				zap.Error(recordError),
			)
		}
	}
	return fmt.Sprintf(artifactsStoredOutputTemplate, runContext.ArtifactDirectory), nil
}

func (registry *BuiltinStepRegistry) cleanup(_ context.Context, runContext *RunContext, _ map[string]any) (string, error) {
	// The lifecycle variant owns session and worktree teardown; this hook
	// exists for definitions that want an explicit cleanup step.
	registry.dependencies.Logger.Debug(cleanupHookLogMessageConstant, zap.String("run", runContext.ID))
	return "", nil
}

func (registry *BuiltinStepRegistry) resolveBranchName(runContext *RunContext, options worktreeStepOptions) string {
	if argumentBranch := strings.TrimSpace(options.Name); len(argumentBranch) > 0 {
		return argumentBranch
	}
	if argumentBranch := strings.TrimSpace(options.Branch); len(argumentBranch) > 0 {
		return argumentBranch
	}
	if namedArgument, found := runContext.Arguments[worktreeNameArgumentNameConstant]; found && len(namedArgument) > 0 {
		return namedArgument
	}
	if sharedBranch := sharedStringValue(runContext, sharedBranchNameKeyConstant); len(sharedBranch) > 0 {
		return sharedBranch
	}
	return fmt.Sprintf(branchNameTemplateConstant, runContext.TaskName, time.Now().Format(branchTimestampLayoutConstant))
}

// decodeStepArguments maps loosely typed step arguments onto a typed options struct.
func decodeStepArguments(stepArgs map[string]any, target any) error {
	if len(stepArgs) == 0 {
		return nil
	}
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           target,
		WeaklyTypedInput: true,
	})
	if decoderError != nil {
		return decoderError
	}
	return decoder.Decode(stepArgs)
}

func sharedStringValue(runContext *RunContext, sharedKey string) string {
	if rawValue, found := runContext.Shared[sharedKey]; found {
		if stringValue, isString := rawValue.(string); isString {
			return stringValue
		}
	}
	return ""
}
