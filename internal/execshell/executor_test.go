package execshell_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/prunejuice/internal/execshell"
)

const (
	testMissingLoggerCaseNameConstant = "missing_logger"
	testMissingRunnerCaseNameConstant = "missing_runner"
	testSuccessfulRunCaseNameConstant = "successful_run"
	testStandardOutputConstant        = "standard output"
)

type stubCommandRunner struct {
	result       execshell.ExecutionResult
	runnerError  error
	observedRuns []execshell.ShellCommand
}

func (runner *stubCommandRunner) Run(_ context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	runner.observedRuns = append(runner.observedRuns, command)
	return runner.result, runner.runnerError
}

func TestNewShellExecutorValidatesDependencies(testInstance *testing.T) {
	testCases := []struct {
		name          string
		logger        *zap.Logger
		commandRunner execshell.CommandRunner
		expectedError error
	}{
		{
			name:          testMissingLoggerCaseNameConstant,
			logger:        nil,
			commandRunner: &stubCommandRunner{},
			expectedError: execshell.ErrLoggerNotConfigured,
		},
		{
			name:          testMissingRunnerCaseNameConstant,
			logger:        zap.NewNop(),
			commandRunner: nil,
			expectedError: execshell.ErrCommandRunnerNotConfigured,
		},
		{
			name:          testSuccessfulRunCaseNameConstant,
			logger:        zap.NewNop(),
			commandRunner: &stubCommandRunner{},
			expectedError: nil,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			executor, creationError := execshell.NewShellExecutor(testCase.logger, testCase.commandRunner, false)
			if testCase.expectedError != nil {
				require.ErrorIs(testInstance, creationError, testCase.expectedError)
				require.Nil(testInstance, executor)
				return
			}
			require.NoError(testInstance, creationError)
			require.NotNil(testInstance, executor)
		})
	}
}

func TestShellExecutorExecuteRequiresCommandName(testInstance *testing.T) {
	executor, creationError := execshell.NewShellExecutor(zap.NewNop(), &stubCommandRunner{}, false)
	require.NoError(testInstance, creationError)

	_, executionError := executor.Execute(context.Background(), execshell.ShellCommand{})
	require.ErrorIs(testInstance, executionError, execshell.ErrCommandNameMissing)
}

func TestShellExecutorExecuteReturnsRunnerOutput(testInstance *testing.T) {
	runner := &stubCommandRunner{result: execshell.ExecutionResult{StandardOutput: testStandardOutputConstant}}
	executor, creationError := execshell.NewShellExecutor(zap.NewNop(), runner, false)
	require.NoError(testInstance, creationError)

	result, executionError := executor.ExecuteGit(context.Background(), execshell.CommandDetails{Arguments: []string{"status"}})
	require.NoError(testInstance, executionError)
	require.Equal(testInstance, testStandardOutputConstant, result.StandardOutput)
	require.Len(testInstance, runner.observedRuns, 1)
	require.Equal(testInstance, execshell.CommandGit, runner.observedRuns[0].Name)
}

func TestShellExecutorExecuteWrapsNonZeroExit(testInstance *testing.T) {
	runner := &stubCommandRunner{result: execshell.ExecutionResult{ExitCode: 2, StandardError: "boom"}}
	executor, creationError := execshell.NewShellExecutor(zap.NewNop(), runner, false)
	require.NoError(testInstance, creationError)

	result, executionError := executor.ExecuteBash(context.Background(), execshell.CommandDetails{Arguments: []string{"-c", "exit 2"}})
	require.Error(testInstance, executionError)

	var failedError execshell.CommandFailedError
	require.ErrorAs(testInstance, executionError, &failedError)
	require.Equal(testInstance, 2, failedError.Result.ExitCode)
	require.Equal(testInstance, 2, result.ExitCode)
	require.Contains(testInstance, failedError.Error(), "boom")
}

func TestShellExecutorExecuteWrapsRunnerErrors(testInstance *testing.T) {
	rootError := errors.New("executable vanished")
	runner := &stubCommandRunner{runnerError: rootError}
	executor, creationError := execshell.NewShellExecutor(zap.NewNop(), runner, false)
	require.NoError(testInstance, creationError)

	_, executionError := executor.ExecuteTmux(context.Background(), execshell.CommandDetails{Arguments: []string{"ls"}})
	var wrappedError execshell.CommandExecutionError
	require.ErrorAs(testInstance, executionError, &wrappedError)
	require.ErrorIs(testInstance, executionError, rootError)
}

func TestOSCommandRunnerCapturesOutputAndExitCode(testInstance *testing.T) {
	runner := execshell.NewOSCommandRunner()

	result, runError := runner.Run(context.Background(), execshell.ShellCommand{
		Name:    execshell.CommandBash,
		Details: execshell.CommandDetails{Arguments: []string{"-c", "echo ready; exit 3"}},
	})
	require.NoError(testInstance, runError)
	require.Equal(testInstance, 3, result.ExitCode)
	require.Equal(testInstance, "ready\n", result.StandardOutput)
}

func TestOSCommandRunnerHonorsContextDeadline(testInstance *testing.T) {
	runner := execshell.NewOSCommandRunner()

	deadlineContext, cancelFunction := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelFunction()

	started := time.Now()
	_, runError := runner.Run(deadlineContext, execshell.ShellCommand{
		Name:    execshell.CommandBash,
		Details: execshell.CommandDetails{Arguments: []string{"-c", "sleep 10"}},
	})
	require.Error(testInstance, runError)
	require.ErrorIs(testInstance, runError, context.DeadlineExceeded)
	require.Less(testInstance, time.Since(started), 3*time.Second)
}

func TestOSCommandRunnerExportsEnvironmentVariables(testInstance *testing.T) {
	runner := execshell.NewOSCommandRunner()

	result, runError := runner.Run(context.Background(), execshell.ShellCommand{
		Name: execshell.CommandBash,
		Details: execshell.CommandDetails{
			Arguments:            []string{"-c", "printf '%s' \"$PRUNEJUICE_PROBE\""},
			EnvironmentVariables: map[string]string{"PRUNEJUICE_PROBE": "exported"},
		},
	})
	require.NoError(testInstance, runError)
	require.Equal(testInstance, 0, result.ExitCode)
	require.True(testInstance, strings.Contains(result.StandardOutput, "exported"))
}
