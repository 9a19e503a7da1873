package engine_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/prunejuice/internal/engine"
	"github.com/tyemirov/prunejuice/internal/taskdef"
)

func TestBuildStepEnvironmentExportsPrefixedScalars(testInstance *testing.T) {
	runContext := engine.NewRunContext("demo-task", "/work/sample")
	runContext.SessionName = "prj-sample-demo"
	runContext.ArtifactDirectory = "/work/sample/.prj/artifacts/run"
	runContext.Arguments = map[string]string{"ticket": "ABC-42"}
	runContext.Shared["branch_name"] = "feature-login"
	runContext.Shared["step_count"] = 3
	runContext.Shared["nested"] = map[string]string{"skipped": "yes"}

	definition := taskdef.Definition{Environment: map[string]string{"CI": "true"}}
	step := taskdef.Step{Name: "announce", Args: map[string]any{"verbose": true, "payload": []string{"not", "scalar"}}}

	environment := engine.BuildStepEnvironment(runContext, definition, step)

	require.Equal(testInstance, "demo-task", environment["PRUNEJUICE_TASK_NAME"])
	require.Equal(testInstance, "/work/sample", environment["PRUNEJUICE_PROJECT_PATH"])
	require.Equal(testInstance, "prj-sample-demo", environment["PRUNEJUICE_SESSION_NAME"])
	require.Equal(testInstance, "feature-login", environment["PRUNEJUICE_BRANCH_NAME"])
	require.Equal(testInstance, "3", environment["PRUNEJUICE_STEP_COUNT"])
	require.Equal(testInstance, "ABC-42", environment["PRUNEJUICE_ARG_TICKET"])
	require.Equal(testInstance, "true", environment["PRUNEJUICE_STEP_VERBOSE"])
	require.Equal(testInstance, "true", environment["CI"])

	for environmentKey := range environment {
		require.NotContains(testInstance, environmentKey, "NESTED")
		require.NotContains(testInstance, environmentKey, "PAYLOAD")
	}
}

func TestBuildStepEnvironmentPrefersWorktreeDirectory(testInstance *testing.T) {
	runContext := engine.NewRunContext("demo-task", "/work/sample")
	runContext.WorktreePath = "/work/worktrees/sample-feature"

	environment := engine.BuildStepEnvironment(runContext, taskdef.Definition{}, taskdef.Step{})
	require.Equal(testInstance, "/work/worktrees/sample-feature", environment["PRUNEJUICE_WORKING_DIRECTORY"])
	require.Equal(testInstance, "/work/worktrees/sample-feature", environment["PRUNEJUICE_WORKTREE_PATH"])
}

func TestPrepareProcessEnvironmentRederivesVirtualEnv(testInstance *testing.T) {
	testInstance.Setenv("VIRTUAL_ENV", "/somewhere/else/.venv")

	replacement := engine.PrepareProcessEnvironment("uv run pytest", "/work/worktrees/sample-feature")
	require.NotEmpty(testInstance, replacement)

	virtualEnvironmentEntries := []string{}
	for _, environmentEntry := range replacement {
		if strings.HasPrefix(environmentEntry, "VIRTUAL_ENV=") {
			virtualEnvironmentEntries = append(virtualEnvironmentEntries, environmentEntry)
		}
	}
	require.Equal(testInstance, []string{"VIRTUAL_ENV=/work/worktrees/sample-feature/.venv"}, virtualEnvironmentEntries)
}

func TestPrepareProcessEnvironmentSkipsOtherCommands(testInstance *testing.T) {
	require.Nil(testInstance, engine.PrepareProcessEnvironment("echo hi", "/work/sample"))
	require.Nil(testInstance, engine.PrepareProcessEnvironment("uvicorn app:main", "/work/sample"))
}

func TestPrepareProcessEnvironmentMatchesLeadingTokenOnly(testInstance *testing.T) {
	require.Nil(testInstance, engine.PrepareProcessEnvironment("echo uv sync", "/work/sample"))
	require.Nil(testInstance, engine.PrepareProcessEnvironment("", "/work/sample"))
	require.NotEmpty(testInstance, engine.PrepareProcessEnvironment("uv sync", "/work/sample"))
}

func TestSelectVariantIsDeterministic(testInstance *testing.T) {
	testCases := []struct {
		name            string
		definition      taskdef.Definition
		expectedVariant engine.LifecycleVariant
	}{
		{
			name:            "plain_without_markers",
			definition:      taskdef.Definition{Name: "gather-project-context", Steps: []taskdef.Step{{Action: "gather-context"}}},
			expectedVariant: engine.VariantPlain,
		},
		{
			name:            "worktree_step_marker",
			definition:      taskdef.Definition{Name: "prepare", Steps: []taskdef.Step{{Action: "create-worktree"}}},
			expectedVariant: engine.VariantWorktreeSession,
		},
		{
			name:            "worktree_name_marker",
			definition:      taskdef.Definition{Name: "feature-branch-workflow", Steps: []taskdef.Step{{Action: "gather-context"}}},
			expectedVariant: engine.VariantWorktreeSession,
		},
		{
			name:            "session_step_marker",
			definition:      taskdef.Definition{Name: "prepare", Steps: []taskdef.Step{{Action: "start-session"}}},
			expectedVariant: engine.VariantSession,
		},
		{
			name:            "session_name_marker",
			definition:      taskdef.Definition{Name: "review-session", Steps: []taskdef.Step{{Action: "gather-context"}}},
			expectedVariant: engine.VariantSession,
		},
		{
			name:            "combined_marker_prefers_worktree",
			definition:      taskdef.Definition{Name: "start-worktree-session", Steps: []taskdef.Step{{Action: "start-worktree-session"}}},
			expectedVariant: engine.VariantWorktreeSession,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			firstSelection := engine.SelectVariant(testCase.definition)
			secondSelection := engine.SelectVariant(testCase.definition)
			require.Equal(testInstance, testCase.expectedVariant, firstSelection)
			require.Equal(testInstance, firstSelection, secondSelection)
		})
	}
}
