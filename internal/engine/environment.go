package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tyemirov/prunejuice/internal/taskdef"
)

const (
	runEnvironmentPrefixConstant      = "PRUNEJUICE_"
	argumentEnvironmentPrefixConstant = "PRUNEJUICE_ARG_"
	stepEnvironmentPrefixConstant     = "PRUNEJUICE_STEP_"
	virtualEnvironmentVariableName    = "VIRTUAL_ENV"
	virtualEnvironmentDirectoryName   = ".venv"
	environmentAwareToolNameConstant  = "uv"
)

// BuildStepEnvironment flattens the run context, the task environment, the
// run arguments, and the step's own args into process environment variables.
// Only scalar values are exported.
func BuildStepEnvironment(runContext *RunContext, definition taskdef.Definition, step taskdef.Step) map[string]string {
	environment := map[string]string{}

	for key, value := range definition.Environment {
		environment[key] = value
	}

	runFields := map[string]string{
		"ID":                 runContext.ID,
		"TASK_NAME":          runContext.TaskName,
		"PROJECT_PATH":       runContext.ProjectPath,
		"WORKING_DIRECTORY":  runContext.EffectiveWorkingDirectory(),
		"WORKTREE_PATH":      runContext.WorktreePath,
		"SESSION_NAME":       runContext.SessionName,
		"ARTIFACT_DIRECTORY": runContext.ArtifactDirectory,
		"STATUS":             string(runContext.Status),
	}
	for fieldName, fieldValue := range runFields {
		if len(fieldValue) > 0 {
			environment[runEnvironmentPrefixConstant+fieldName] = fieldValue
		}
	}

	for sharedKey, sharedValue := range runContext.Shared {
		if scalarValue, isScalar := scalarString(sharedValue); isScalar {
			environment[runEnvironmentPrefixConstant+environmentKeyFor(sharedKey)] = scalarValue
		}
	}

	for argumentName, argumentValue := range runContext.Arguments {
		environment[argumentEnvironmentPrefixConstant+environmentKeyFor(argumentName)] = argumentValue
	}

	for stepArgumentName, stepArgumentValue := range step.Args {
		if scalarValue, isScalar := scalarString(stepArgumentValue); isScalar {
			environment[stepEnvironmentPrefixConstant+environmentKeyFor(stepArgumentName)] = scalarValue
		}
	}

	return environment
}

// PrepareProcessEnvironment returns a replacement environment for commands
// that manage their own virtual environments. The inherited VIRTUAL_ENV is
// stripped and re-derived from the target working directory so a parent
// invocation's environment never leaks into a child checkout.
func PrepareProcessEnvironment(commandText string, workingDirectory string) []string {
	if !invokesEnvironmentAwareTool(commandText) {
		return nil
	}

	var replacement []string
	for _, environmentEntry := range os.Environ() {
		if strings.HasPrefix(environmentEntry, virtualEnvironmentVariableName+"=") {
			continue
		}
		replacement = append(replacement, environmentEntry)
	}
	derivedVirtualEnvironment := filepath.Join(workingDirectory, virtualEnvironmentDirectoryName)
	replacement = append(replacement, fmt.Sprintf("%s=%s", virtualEnvironmentVariableName, derivedVirtualEnvironment))
	return replacement
}

// Only the leading command token selects the tool; mentions of it in
// arguments do not.
func invokesEnvironmentAwareTool(commandText string) bool {
	commandTokens := strings.Fields(commandText)
	if len(commandTokens) == 0 {
		return false
	}
	return commandTokens[0] == environmentAwareToolNameConstant
}

func environmentKeyFor(rawKey string) string {
	normalized := strings.ToUpper(strings.TrimSpace(rawKey))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, ".", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	return normalized
}

func scalarString(value any) (string, bool) {
	switch typedValue := value.(type) {
	case string:
		return typedValue, true
	case bool:
		return fmt.Sprintf("%t", typedValue), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", typedValue), true
	case float32, float64:
		return fmt.Sprintf("%v", typedValue), true
	default:
		return "", false
	}
}
