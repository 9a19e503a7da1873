package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/prunejuice/internal/artifacts"
	"github.com/tyemirov/prunejuice/internal/engine"
	"github.com/tyemirov/prunejuice/internal/execshell"
	"github.com/tyemirov/prunejuice/internal/taskdef"
)

func newStepExecutorWithStub(testInstance *testing.T, shell *stubProcessExecutor, projectRoot string) *engine.StepExecutor {
	testInstance.Helper()
	registry := engine.NewBuiltinStepRegistry(engine.BuiltinDependencies{
		Worktrees: &stubWorktreeManager{insideRepository: true, currentBranch: "main"},
		Sessions:  &stubSessionManager{},
		Artifacts: artifacts.NewStore(projectRoot),
		Logger:    zap.NewNop(),
	})
	stepExecutor, creationError := engine.NewStepExecutor(shell, registry, zap.NewNop())
	require.NoError(testInstance, creationError)
	return stepExecutor
}

func newRealStepExecutor(testInstance *testing.T, projectRoot string) *engine.StepExecutor {
	testInstance.Helper()
	shellExecutor, shellError := execshell.NewShellExecutor(zap.NewNop(), execshell.NewOSCommandRunner(), false)
	require.NoError(testInstance, shellError)
	registry := engine.NewBuiltinStepRegistry(engine.BuiltinDependencies{
		Worktrees: &stubWorktreeManager{insideRepository: true, currentBranch: "main"},
		Sessions:  &stubSessionManager{},
		Artifacts: artifacts.NewStore(projectRoot),
		Logger:    zap.NewNop(),
	})
	stepExecutor, creationError := engine.NewStepExecutor(shellExecutor, registry, zap.NewNop())
	require.NoError(testInstance, creationError)
	return stepExecutor
}

func TestEffectiveTimeoutSeconds(testInstance *testing.T) {
	require.Equal(testInstance, 300, engine.EffectiveTimeoutSeconds(taskdef.Step{Timeout: 300}, 1800))
	require.Equal(testInstance, 1800, engine.EffectiveTimeoutSeconds(taskdef.Step{Timeout: 0}, 1800))
	require.Equal(testInstance, 60, engine.EffectiveTimeoutSeconds(taskdef.Step{Timeout: 300}, 60))
	require.Equal(testInstance, 300, engine.EffectiveTimeoutSeconds(taskdef.Step{Timeout: 300}, 0))
}

func TestExecuteShellStepTimesOutPromptly(testInstance *testing.T) {
	projectRoot := testInstance.TempDir()
	stepExecutor := newRealStepExecutor(testInstance, projectRoot)
	runContext := engine.NewRunContext("sleepy", projectRoot)

	sleepingStep := taskdef.Step{
		Name:    "long-sleep",
		Kind:    taskdef.StepKindShell,
		Action:  "sleep 10",
		Timeout: 1,
	}

	startedAt := time.Now()
	stepOutput, stepError := stepExecutor.Execute(context.Background(), taskdef.Definition{Name: "sleepy"}, sleepingStep, runContext, 1800)
	elapsed := time.Since(startedAt)

	require.Less(testInstance, elapsed, 3*time.Second)
	require.Contains(testInstance, stepOutput, "timeout")

	var timeoutError engine.StepTimeoutError
	require.ErrorAs(testInstance, stepError, &timeoutError)
	require.Equal(testInstance, 1, timeoutError.TimeoutSeconds)
}

func TestExecuteShellStepCapturesOutput(testInstance *testing.T) {
	projectRoot := testInstance.TempDir()
	stepExecutor := newRealStepExecutor(testInstance, projectRoot)
	runContext := engine.NewRunContext("echoes", projectRoot)

	echoStep := taskdef.Step{Name: "echo", Kind: taskdef.StepKindShell, Action: "echo step output here"}
	stepOutput, stepError := stepExecutor.Execute(context.Background(), taskdef.Definition{Name: "echoes"}, echoStep, runContext, 30)
	require.NoError(testInstance, stepError)
	require.Equal(testInstance, "step output here", stepOutput)
}

func TestExecuteShellStepReportsNonZeroExit(testInstance *testing.T) {
	projectRoot := testInstance.TempDir()
	stepExecutor := newRealStepExecutor(testInstance, projectRoot)
	runContext := engine.NewRunContext("fails", projectRoot)

	failingStep := taskdef.Step{Name: "fail", Kind: taskdef.StepKindShell, Action: "echo broken && exit 4"}
	stepOutput, stepError := stepExecutor.Execute(context.Background(), taskdef.Definition{Name: "fails"}, failingStep, runContext, 30)

	var executionError engine.StepExecutionError
	require.ErrorAs(testInstance, stepError, &executionError)
	require.Contains(testInstance, stepOutput, "broken")
}

func TestExecuteScriptStepResolvesProjectRelativePath(testInstance *testing.T) {
	projectRoot := testInstance.TempDir()
	stepsDirectory := taskdef.ProjectStepsDirectory(projectRoot)
	require.NoError(testInstance, os.MkdirAll(stepsDirectory, 0o755))
	scriptPath := filepath.Join(stepsDirectory, "greet.sh")
	require.NoError(testInstance, os.WriteFile(scriptPath, []byte("#!/usr/bin/env bash\necho greetings\n"), 0o755))

	stepExecutor := newRealStepExecutor(testInstance, projectRoot)
	runContext := engine.NewRunContext("scripted", projectRoot)

	scriptStep := taskdef.Step{Name: "greet", Kind: taskdef.StepKindScript, Action: "greet.sh"}
	stepOutput, stepError := stepExecutor.Execute(context.Background(), taskdef.Definition{Name: "scripted"}, scriptStep, runContext, 30)
	require.NoError(testInstance, stepError)
	require.Equal(testInstance, "greetings", stepOutput)
}

func TestExecuteScriptStepFailsWhenFileMissing(testInstance *testing.T) {
	projectRoot := testInstance.TempDir()
	stepExecutor := newStepExecutorWithStub(testInstance, &stubProcessExecutor{}, projectRoot)
	runContext := engine.NewRunContext("scripted", projectRoot)

	missingStep := taskdef.Step{Name: "missing", Kind: taskdef.StepKindScript, Action: "missing.sh"}
	_, stepError := stepExecutor.Execute(context.Background(), taskdef.Definition{Name: "scripted"}, missingStep, runContext, 30)

	var notFoundError engine.StepNotFoundError
	require.ErrorAs(testInstance, stepError, &notFoundError)
}

func TestExecuteBuiltinFallsBackToProjectScript(testInstance *testing.T) {
	projectRoot := testInstance.TempDir()
	stepsDirectory := taskdef.ProjectStepsDirectory(projectRoot)
	require.NoError(testInstance, os.MkdirAll(stepsDirectory, 0o755))
	scriptPath := filepath.Join(stepsDirectory, "custom-check.sh")
	require.NoError(testInstance, os.WriteFile(scriptPath, []byte("#!/usr/bin/env bash\necho custom check ran\n"), 0o755))

	stepExecutor := newRealStepExecutor(testInstance, projectRoot)
	runContext := engine.NewRunContext("custom", projectRoot)

	customStep := taskdef.Step{Name: "custom-check", Kind: taskdef.StepKindBuiltin, Action: "custom-check"}
	stepOutput, stepError := stepExecutor.Execute(context.Background(), taskdef.Definition{Name: "custom"}, customStep, runContext, 30)
	require.NoError(testInstance, stepError)
	require.Equal(testInstance, "custom check ran", stepOutput)
}

func TestExecuteBuiltinFallsBackToEmbeddedTemplate(testInstance *testing.T) {
	projectRoot := testInstance.TempDir()
	stepExecutor := newRealStepExecutor(testInstance, projectRoot)
	runContext := engine.NewRunContext("templated", projectRoot)

	templateStep := taskdef.Step{Name: "sync-python-environment", Kind: taskdef.StepKindBuiltin, Action: "sync-python-environment"}
	stepOutput, stepError := stepExecutor.Execute(context.Background(), taskdef.Definition{Name: "templated"}, templateStep, runContext, 30)
	require.NoError(testInstance, stepError)
	require.Contains(testInstance, stepOutput, "skipping sync")
}

func TestExecuteBuiltinReportsUnknownAction(testInstance *testing.T) {
	projectRoot := testInstance.TempDir()
	stepExecutor := newStepExecutorWithStub(testInstance, &stubProcessExecutor{}, projectRoot)
	runContext := engine.NewRunContext("unknown", projectRoot)

	unknownStep := taskdef.Step{Name: "mystery", Kind: taskdef.StepKindBuiltin, Action: "mystery-operation"}
	_, stepError := stepExecutor.Execute(context.Background(), taskdef.Definition{Name: "unknown"}, unknownStep, runContext, 30)

	var notFoundError engine.StepNotFoundError
	require.ErrorAs(testInstance, stepError, &notFoundError)
	require.Equal(testInstance, "mystery-operation", notFoundError.Action)
}

func TestExecuteBuiltinRegistryOperation(testInstance *testing.T) {
	projectRoot := testInstance.TempDir()
	stepExecutor := newStepExecutorWithStub(testInstance, &stubProcessExecutor{}, projectRoot)
	runContext := engine.NewRunContext("builtin", projectRoot)

	setupStep := taskdef.Step{Name: "setup-environment", Kind: taskdef.StepKindBuiltin, Action: "setup-environment"}
	stepOutput, stepError := stepExecutor.Execute(context.Background(), taskdef.Definition{Name: "builtin"}, setupStep, runContext, 30)
	require.NoError(testInstance, stepError)
	require.Contains(testInstance, stepOutput, runContext.ArtifactDirectory)
	require.DirExists(testInstance, filepath.Join(runContext.ArtifactDirectory, "logs"))
}
