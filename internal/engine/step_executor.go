package engine

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/prunejuice/internal/execshell"
	"github.com/tyemirov/prunejuice/internal/taskdef"
)

//go:embed step_templates/*.sh
var embeddedStepTemplates embed.FS

const (
	stepTemplatesDirectoryNameConstant = "step_templates"
	temporaryStepFilePatternConstant   = "prj-step-*"
	shellCommandFlagConstant           = "-c"
	pythonScriptSuffixConstant         = ".py"
	shellScriptSuffixConstant          = ".sh"
	scriptPermissionsConstant          = 0o755
	timeoutOutputTemplateConstant      = "timeout after %ds"
	unknownStepKindTemplateConstant    = "unknown step kind: %s"
	stepExecutorShellRequiredMessage   = "step executor shell dependency not configured"
	stepExecutorRegistryRequired       = "step executor registry dependency not configured"
	stepStartedLogMessageConstant      = "step starting"
	stepFinishedLogMessageConstant     = "step finished"
)

// ProcessExecutor is the subset of execshell used to run script and shell steps.
type ProcessExecutor interface {
	ExecuteBash(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
	ExecutePython(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// StepExecutor dispatches one step to its implementation and enforces the
// step's effective timeout.
type StepExecutor struct {
	shell    ProcessExecutor
	registry *BuiltinStepRegistry
	logger   *zap.Logger
}

// NewStepExecutor constructs a StepExecutor.
func NewStepExecutor(shell ProcessExecutor, registry *BuiltinStepRegistry, logger *zap.Logger) (*StepExecutor, error) {
	if shell == nil {
		return nil, errors.New(stepExecutorShellRequiredMessage)
	}
	if registry == nil {
		return nil, errors.New(stepExecutorRegistryRequired)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepExecutor{shell: shell, registry: registry, logger: logger}, nil
}

// EffectiveTimeoutSeconds computes the timeout applied to one step: the step's
// own timeout bounded by the run ceiling when set, else the ceiling itself.
func EffectiveTimeoutSeconds(step taskdef.Step, runTimeoutCeiling int) int {
	if step.Timeout > 0 && (runTimeoutCeiling <= 0 || step.Timeout < runTimeoutCeiling) {
		return step.Timeout
	}
	return runTimeoutCeiling
}

// Execute runs one step within its effective timeout and returns the step's
// output. A nil error means the step succeeded.
func (stepExecutor *StepExecutor) Execute(executionContext context.Context, definition taskdef.Definition, step taskdef.Step, runContext *RunContext, runTimeoutCeiling int) (string, error) {
	effectiveTimeout := EffectiveTimeoutSeconds(step, runTimeoutCeiling)
	if effectiveTimeout > 0 {
		var cancelTimeout context.CancelFunc
		executionContext, cancelTimeout = context.WithTimeout(executionContext, time.Duration(effectiveTimeout)*time.Second)
		defer cancelTimeout()
	}

	stepExecutor.logger.Debug(stepStartedLogMessageConstant,
		zap.String("step", step.Name),
		zap.String("kind", string(step.Kind)),
		zap.Int("timeout_seconds", effectiveTimeout),
	)

	stepOutput, stepError := stepExecutor.dispatch(executionContext, definition, step, runContext)
	if stepError != nil && errors.Is(stepError, context.DeadlineExceeded) {
		timeoutOutput := fmt.Sprintf(timeoutOutputTemplateConstant, effectiveTimeout)
		return timeoutOutput, StepTimeoutError{StepName: step.Name, TimeoutSeconds: effectiveTimeout}
	}

	stepExecutor.logger.Debug(stepFinishedLogMessageConstant,
		zap.String("step", step.Name),
		zap.Bool("success", stepError == nil),
	)
	return stepOutput, stepError
}

func (stepExecutor *StepExecutor) dispatch(executionContext context.Context, definition taskdef.Definition, step taskdef.Step, runContext *RunContext) (string, error) {
	switch step.Kind {
	case taskdef.StepKindShell:
		return stepExecutor.executeShell(executionContext, definition, step, runContext)
	case taskdef.StepKindScript:
		return stepExecutor.executeScript(executionContext, definition, step, runContext, step.Action)
	case taskdef.StepKindBuiltin:
		return stepExecutor.executeBuiltin(executionContext, definition, step, runContext)
	default:
		return "", StepExecutionError{StepName: step.Name, Cause: fmt.Errorf(unknownStepKindTemplateConstant, step.Kind)}
	}
}

// Builtin resolution walks an ordered chain: the registry, a project-local
// step script, then an embedded template copied to a temporary file.
func (stepExecutor *StepExecutor) executeBuiltin(executionContext context.Context, definition taskdef.Definition, step taskdef.Step, runContext *RunContext) (string, error) {
	if operation, found := stepExecutor.registry.Resolve(step.Action); found {
		builtinOutput, builtinError := operation(executionContext, runContext, step.Args)
		if builtinError != nil {
			if errors.Is(builtinError, context.DeadlineExceeded) {
				return builtinOutput, builtinError
			}
			return builtinOutput, StepExecutionError{StepName: step.Name, Cause: builtinError}
		}
		return builtinOutput, nil
	}

	if projectScriptPath, found := stepExecutor.findProjectStepScript(runContext.ProjectPath, step.Action); found {
		return stepExecutor.executeScript(executionContext, definition, step, runContext, projectScriptPath)
	}

	if templateContent, found := stepExecutor.findTemplateStep(step.Action); found {
		return stepExecutor.executeTemplateStep(executionContext, definition, step, runContext, templateContent)
	}

	return "", StepNotFoundError{Action: step.Action}
}

func (stepExecutor *StepExecutor) executeShell(executionContext context.Context, definition taskdef.Definition, step taskdef.Step, runContext *RunContext) (string, error) {
	workingDirectory := stepWorkingDirectory(definition, runContext)
	commandDetails := execshell.CommandDetails{
		Arguments:            []string{shellCommandFlagConstant, step.Action},
		WorkingDirectory:     workingDirectory,
		EnvironmentVariables: BuildStepEnvironment(runContext, definition, step),
		ReplaceEnvironment:   PrepareProcessEnvironment(step.Action, workingDirectory),
	}
	executionResult, executionError := stepExecutor.shell.ExecuteBash(executionContext, commandDetails)
	return combinedProcessOutput(executionResult), stepExecutor.classifyProcessError(step, executionError)
}

func (stepExecutor *StepExecutor) executeScript(executionContext context.Context, definition taskdef.Definition, step taskdef.Step, runContext *RunContext, scriptPath string) (string, error) {
	resolvedPath := scriptPath
	if !filepath.IsAbs(resolvedPath) {
		resolvedPath = filepath.Join(taskdef.ProjectStepsDirectory(runContext.ProjectPath), scriptPath)
	}
	if _, statError := os.Stat(resolvedPath); statError != nil {
		return "", StepNotFoundError{Action: scriptPath}
	}

	commandDetails := execshell.CommandDetails{
		Arguments:            []string{resolvedPath},
		WorkingDirectory:     stepWorkingDirectory(definition, runContext),
		EnvironmentVariables: BuildStepEnvironment(runContext, definition, step),
	}

	var executionResult execshell.ExecutionResult
	var executionError error
	if strings.HasSuffix(resolvedPath, pythonScriptSuffixConstant) {
		executionResult, executionError = stepExecutor.shell.ExecutePython(executionContext, commandDetails)
	} else {
		executionResult, executionError = stepExecutor.shell.ExecuteBash(executionContext, commandDetails)
	}
	return combinedProcessOutput(executionResult), stepExecutor.classifyProcessError(step, executionError)
}

// executeTemplateStep copies an embedded template to a temporary file and runs
// it. The temporary file is removed on every exit path.
func (stepExecutor *StepExecutor) executeTemplateStep(executionContext context.Context, definition taskdef.Definition, step taskdef.Step, runContext *RunContext, templateContent []byte) (string, error) {
	temporaryFile, creationError := os.CreateTemp("", temporaryStepFilePatternConstant+shellScriptSuffixConstant)
	if creationError != nil {
		return "", StepExecutionError{StepName: step.Name, Cause: creationError}
	}
	temporaryPath := temporaryFile.Name()
	defer func() {
		_ = os.Remove(temporaryPath)
	}()

	if _, writeError := temporaryFile.Write(templateContent); writeError != nil {
		_ = temporaryFile.Close()
		return "", StepExecutionError{StepName: step.Name, Cause: writeError}
	}
	if closeError := temporaryFile.Close(); closeError != nil {
		return "", StepExecutionError{StepName: step.Name, Cause: closeError}
	}
	if permissionError := os.Chmod(temporaryPath, scriptPermissionsConstant); permissionError != nil {
		return "", StepExecutionError{StepName: step.Name, Cause: permissionError}
	}

	commandDetails := execshell.CommandDetails{
		Arguments:            []string{temporaryPath},
		WorkingDirectory:     stepWorkingDirectory(definition, runContext),
		EnvironmentVariables: BuildStepEnvironment(runContext, definition, step),
	}
	executionResult, executionError := stepExecutor.shell.ExecuteBash(executionContext, commandDetails)
	return combinedProcessOutput(executionResult), stepExecutor.classifyProcessError(step, executionError)
}

func (stepExecutor *StepExecutor) findProjectStepScript(projectPath string, action string) (string, bool) {
	stepsDirectory := taskdef.ProjectStepsDirectory(projectPath)
	for _, scriptSuffix := range []string{pythonScriptSuffixConstant, shellScriptSuffixConstant} {
		candidatePath := filepath.Join(stepsDirectory, action+scriptSuffix)
		if _, statError := os.Stat(candidatePath); statError == nil {
			return candidatePath, true
		}
	}
	return "", false
}

func (stepExecutor *StepExecutor) findTemplateStep(action string) ([]byte, bool) {
	templateContent, readError := fs.ReadFile(embeddedStepTemplates, filepath.Join(stepTemplatesDirectoryNameConstant, action+shellScriptSuffixConstant))
	if readError != nil {
		return nil, false
	}
	return templateContent, true
}

func (stepExecutor *StepExecutor) classifyProcessError(step taskdef.Step, executionError error) error {
	if executionError == nil {
		return nil
	}
	if errors.Is(executionError, context.DeadlineExceeded) {
		return executionError
	}
	return StepExecutionError{StepName: step.Name, Cause: executionError}
}

func stepWorkingDirectory(definition taskdef.Definition, runContext *RunContext) string {
	if len(runContext.WorktreePath) > 0 {
		return runContext.WorktreePath
	}
	if len(definition.WorkingDirectory) > 0 {
		return definition.WorkingDirectory
	}
	return runContext.WorkingDirectory
}

func combinedProcessOutput(executionResult execshell.ExecutionResult) string {
	return strings.TrimSpace(executionResult.StandardOutput + executionResult.StandardError)
}
