package engine

import "fmt"

const (
	definitionNotFoundErrorTemplateConstant = "task definition not found: %s"
	argumentValidationErrorTemplateConstant = "required argument missing: %s"
	stepNotFoundErrorTemplateConstant       = "step not found: %s"
	stepTimeoutErrorTemplateConstant        = "step %s timeout after %ds"
	stepExecutionErrorTemplateConstant      = "step %s failed"
	lifecycleSetupErrorTemplateConstant     = "lifecycle setup failed for %s"
	teardownErrorTemplateConstant           = "teardown of %s failed"
)

// DefinitionNotFoundError indicates an unknown task name.
type DefinitionNotFoundError struct {
	TaskName string
}

// Error describes the missing definition.
func (notFoundError DefinitionNotFoundError) Error() string {
	return fmt.Sprintf(definitionNotFoundErrorTemplateConstant, notFoundError.TaskName)
}

// ArgumentValidationError indicates a required argument was not supplied.
type ArgumentValidationError struct {
	ArgumentName string
}

// Error describes the missing argument.
func (validationError ArgumentValidationError) Error() string {
	return fmt.Sprintf(argumentValidationErrorTemplateConstant, validationError.ArgumentName)
}

// StepNotFoundError indicates a builtin or script action could not be resolved.
type StepNotFoundError struct {
	Action string
}

// Error describes the unresolved action.
func (notFoundError StepNotFoundError) Error() string {
	return fmt.Sprintf(stepNotFoundErrorTemplateConstant, notFoundError.Action)
}

// StepTimeoutError indicates a step exceeded its effective timeout.
type StepTimeoutError struct {
	StepName       string
	TimeoutSeconds int
}

// Error describes the timed-out step.
func (timeoutError StepTimeoutError) Error() string {
	return fmt.Sprintf(stepTimeoutErrorTemplateConstant, timeoutError.StepName, timeoutError.TimeoutSeconds)
}

// StepExecutionError indicates a step process exited non-zero or a builtin failed.
type StepExecutionError struct {
	StepName string
	Cause    error
}

// Error describes the failed step.
func (executionError StepExecutionError) Error() string {
	message := fmt.Sprintf(stepExecutionErrorTemplateConstant, executionError.StepName)
	if executionError.Cause != nil {
		message = fmt.Sprintf("%s: %v", message, executionError.Cause)
	}
	return message
}

// Unwrap exposes the underlying cause.
func (executionError StepExecutionError) Unwrap() error {
	return executionError.Cause
}

// LifecycleSetupError indicates worktree or session creation failed before any steps ran.
type LifecycleSetupError struct {
	Resource string
	Cause    error
}

// Error describes the failed setup phase.
func (setupError LifecycleSetupError) Error() string {
	message := fmt.Sprintf(lifecycleSetupErrorTemplateConstant, setupError.Resource)
	if setupError.Cause != nil {
		message = fmt.Sprintf("%s: %v", message, setupError.Cause)
	}
	return message
}

// Unwrap exposes the underlying cause.
func (setupError LifecycleSetupError) Unwrap() error {
	return setupError.Cause
}

// TeardownError wraps a teardown failure. It is logged and never changes the
// run outcome.
type TeardownError struct {
	Resource string
	Cause    error
}

// Error describes the failed teardown phase.
func (teardownError TeardownError) Error() string {
	message := fmt.Sprintf(teardownErrorTemplateConstant, teardownError.Resource)
	if teardownError.Cause != nil {
		message = fmt.Sprintf("%s: %v", message, teardownError.Cause)
	}
	return message
}

// Unwrap exposes the underlying cause.
func (teardownError TeardownError) Unwrap() error {
	return teardownError.Cause
}
