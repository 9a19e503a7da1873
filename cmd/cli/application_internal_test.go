package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTaskDefinition(t *testing.T, projectRoot string, fileName string, content string) {
	t.Helper()
	definitionsDirectory := filepath.Join(projectRoot, ".prj", "commands")
	require.NoError(t, os.MkdirAll(definitionsDirectory, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(definitionsDirectory, fileName), []byte(content), 0o644))
}

func executeApplicationCommand(t *testing.T, arguments ...string) (string, error) {
	t.Helper()
	application := NewApplication()
	outputBuffer := &bytes.Buffer{}
	application.rootCommand.SetOut(outputBuffer)
	application.rootCommand.SetErr(outputBuffer)
	application.rootCommand.SetContext(context.Background())
	application.rootCommand.SetArgs(arguments)
	executionError := application.Execute()
	return outputBuffer.String(), executionError
}

func TestApplicationCommandHierarchy(t *testing.T) {
	application := NewApplication()
	rootCommand := application.rootCommand

	runCommand, _, runError := rootCommand.Find([]string{"run"})
	require.NoError(t, runError)
	require.Equal(t, "run", runCommand.Name())
	require.Equal(t, applicationNameConstant, runCommand.Parent().Name())

	tasksCommand, _, tasksError := rootCommand.Find([]string{"tasks"})
	require.NoError(t, tasksError)
	require.Equal(t, "tasks", tasksCommand.Name())

	runsCommand, _, runsError := rootCommand.Find([]string{"runs"})
	require.NoError(t, runsError)
	require.Equal(t, "runs", runsCommand.Name())

	worktreeListCommand, _, worktreeListError := rootCommand.Find([]string{"worktree", "list"})
	require.NoError(t, worktreeListError)
	require.Equal(t, "list", worktreeListCommand.Name())
	require.Equal(t, "worktree", worktreeListCommand.Parent().Name())

	worktreeRemoveCommand, _, worktreeRemoveError := rootCommand.Find([]string{"worktree", "rm"})
	require.NoError(t, worktreeRemoveError)
	require.Equal(t, "rm", worktreeRemoveCommand.Name())

	sessionKillCommand, _, sessionKillError := rootCommand.Find([]string{"session", "kill"})
	require.NoError(t, sessionKillError)
	require.Equal(t, "kill", sessionKillCommand.Name())
	require.Equal(t, "session", sessionKillCommand.Parent().Name())
}

func TestParseArgumentValues(t *testing.T) {
	testCases := []struct {
		name           string
		input          []string
		expectedValues map[string]string
		expectError    bool
	}{
		{
			name:           "NoArguments",
			input:          nil,
			expectedValues: map[string]string{},
		},
		{
			name:           "SinglePair",
			input:          []string{"ticket=PJ-104"},
			expectedValues: map[string]string{"ticket": "PJ-104"},
		},
		{
			name:           "ValueContainingEquals",
			input:          []string{"query=status=open"},
			expectedValues: map[string]string{"query": "status=open"},
		},
		{
			name:           "LastAssignmentWins",
			input:          []string{"ticket=PJ-104", "ticket=PJ-105"},
			expectedValues: map[string]string{"ticket": "PJ-105"},
		},
		{
			name:        "MissingSeparator",
			input:       []string{"ticket"},
			expectError: true,
		},
		{
			name:        "EmptyKey",
			input:       []string{"=value"},
			expectError: true,
		},
	}

	for testCaseIndex, testCase := range testCases {
		t.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(t *testing.T) {
			parsedValues, parseError := parseArgumentValues(testCase.input)
			if testCase.expectError {
				require.Error(t, parseError)
				return
			}
			require.NoError(t, parseError)
			require.Equal(t, testCase.expectedValues, parsedValues)
		})
	}
}

func TestInitializeLoadsConfigurationFile(t *testing.T) {
	temporaryDirectory := t.TempDir()
	configurationPath := filepath.Join(temporaryDirectory, "config.yaml")
	configurationContent := "common:\n  log_level: debug\n  log_format: structured\n"
	require.NoError(t, os.WriteFile(configurationPath, []byte(configurationContent), 0o644))

	application := NewApplication()
	application.configurationFilePath = configurationPath

	require.NoError(t, application.initialize(application.rootCommand))
	require.Equal(t, "debug", application.configuration.Common.LogLevel)
	require.Equal(t, "structured", application.configuration.Common.LogFormat)
	require.NotNil(t, application.logger)
}

func TestInitializeFlagOverridesConfiguredLogLevel(t *testing.T) {
	application := NewApplication()
	require.NoError(t, application.rootCommand.PersistentFlags().Set(logLevelFlagNameConstant, "debug"))

	require.NoError(t, application.initialize(application.rootCommand))
	require.Equal(t, "debug", application.logLevelFlagValue)
}

func TestInitializeRejectsInvalidLogLevelOverride(t *testing.T) {
	application := NewApplication()
	require.NoError(t, application.rootCommand.PersistentFlags().Set(logLevelFlagNameConstant, "verbose"))

	initializationError := application.initialize(application.rootCommand)
	require.Error(t, initializationError)
	require.Contains(t, initializationError.Error(), "unable to create logger")
}

func TestRunCommandDryRunRendersPlan(t *testing.T) {
	projectRoot := t.TempDir()
	writeTaskDefinition(t, projectRoot, "feature-branch-review.yaml", `name: feature-branch-review
description: Review a feature branch in isolation
steps:
  - create-worktree
  - name: lint
    kind: shell
    action: echo linting
cleanup_on_failure:
  - name: drop-scratch
    kind: shell
    action: rm -f scratch.txt
`)

	output, executionError := executeApplicationCommand(t, "run", "feature-branch-review", "--project", projectRoot, "--dry-run")
	require.NoError(t, executionError)
	require.Contains(t, output, "feature-branch-review")
	require.Contains(t, output, "create-worktree")
	require.Contains(t, output, "lint")
	require.Contains(t, output, "cleanup on failure:")
	require.Contains(t, output, "drop-scratch")

	_, databaseStatError := os.Stat(filepath.Join(projectRoot, ".prj", "prj.db"))
	require.True(t, os.IsNotExist(databaseStatError))
	_, artifactsStatError := os.Stat(filepath.Join(projectRoot, ".prj", "artifacts"))
	require.True(t, os.IsNotExist(artifactsStatError))
}

func TestRunCommandRejectsMalformedArgument(t *testing.T) {
	projectRoot := t.TempDir()
	writeTaskDefinition(t, projectRoot, "sample.yaml", "name: sample\nsteps:\n  - echo ok\n")

	_, executionError := executeApplicationCommand(t, "run", "sample", "--project", projectRoot, "--arg", "ticket")
	require.Error(t, executionError)
	require.Contains(t, executionError.Error(), "expected key=value")
}

func TestTasksCommandListsProjectDefinitions(t *testing.T) {
	projectRoot := t.TempDir()
	writeTaskDefinition(t, projectRoot, "sample-review.yaml", "name: sample-review\ndescription: Review sample changes\nsteps:\n  - echo ok\n")
	writeTaskDefinition(t, projectRoot, "nightly-audit.yaml", "name: nightly-audit\ndescription: Audit the project overnight\nsteps:\n  - echo ok\n")

	output, executionError := executeApplicationCommand(t, "tasks", "--project", projectRoot)
	require.NoError(t, executionError)
	require.Contains(t, output, "sample-review")
	require.Contains(t, output, "Review sample changes")
	require.Contains(t, output, "nightly-audit")
}
