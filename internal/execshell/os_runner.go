package execshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

const osRunnerCommandErrorTemplateConstant = "unable to run %s: %w"

// OSCommandRunner executes shell commands against the host operating system.
type OSCommandRunner struct{}

// NewOSCommandRunner constructs an OSCommandRunner instance.
func NewOSCommandRunner() OSCommandRunner {
	return OSCommandRunner{}
}

// Run executes the command, honoring the context deadline by terminating the process.
func (runner OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	if executionContext == nil {
		executionContext = context.Background()
	}

	osCommand := exec.CommandContext(executionContext, string(command.Name), command.Details.Arguments...)
	osCommand.Dir = command.Details.WorkingDirectory
	osCommand.Env = buildProcessEnvironment(command.Details)

	if len(command.Details.StandardInput) > 0 {
		osCommand.Stdin = bytes.NewReader(command.Details.StandardInput)
	}

	var standardOutput bytes.Buffer
	var standardError bytes.Buffer
	osCommand.Stdout = &standardOutput
	osCommand.Stderr = &standardError

	runError := osCommand.Run()

	result := ExecutionResult{
		StandardOutput: standardOutput.String(),
		StandardError:  standardError.String(),
	}

	if runError != nil {
		if contextError := executionContext.Err(); contextError != nil {
			return result, contextError
		}
		var exitError *exec.ExitError
		if errors.As(runError, &exitError) {
			result.ExitCode = exitError.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf(osRunnerCommandErrorTemplateConstant, command.Name, runError)
	}

	return result, nil
}

func buildProcessEnvironment(details CommandDetails) []string {
	if len(details.ReplaceEnvironment) > 0 {
		merged := append([]string{}, details.ReplaceEnvironment...)
		for key, value := range details.EnvironmentVariables {
			merged = append(merged, fmt.Sprintf("%s=%s", key, value))
		}
		return merged
	}

	if len(details.EnvironmentVariables) == 0 {
		return nil
	}

	merged := os.Environ()
	for key, value := range details.EnvironmentVariables {
		merged = append(merged, fmt.Sprintf("%s=%s", key, value))
	}
	return merged
}
