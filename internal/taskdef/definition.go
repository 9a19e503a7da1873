package taskdef

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultTaskTimeoutSeconds bounds an entire run when the definition does not override it.
	DefaultTaskTimeoutSeconds = 1800
	// DefaultStepTimeoutSeconds bounds a single step when the step does not override it.
	DefaultStepTimeoutSeconds = 300

	defaultCategoryNameConstant       = "workflow"
	defaultArgumentTypeNameConstant   = "string"
	scriptSuffixPythonConstant        = ".py"
	scriptSuffixShellConstant         = ".sh"
	shellMetacharactersConstant       = "|&;><$"
	stepNodeDecodeErrorTemplate       = "step entry must be a string or a mapping: %w"
	argumentNodeDecodeErrorTemplate   = "argument entry must be a string or a mapping: %w"
	definitionNameMissingErrorMessage = "task definition missing name"
)

// StepKind identifies how a step is dispatched.
type StepKind string

// Supported step kinds.
const (
	StepKindBuiltin StepKind = "builtin"
	StepKindScript  StepKind = "script"
	StepKindShell   StepKind = "shell"
)

// ParseStepKind normalizes a raw kind string, defaulting unknown values to builtin.
func ParseStepKind(raw string) StepKind {
	switch StepKind(strings.ToLower(strings.TrimSpace(raw))) {
	case StepKindScript:
		return StepKindScript
	case StepKindShell:
		return StepKindShell
	default:
		return StepKindBuiltin
	}
}

// ArgumentSpec describes one declared task argument.
type ArgumentSpec struct {
	Name        string `yaml:"name"`
	Required    bool   `yaml:"required"`
	Type        string `yaml:"type"`
	Default     any    `yaml:"default,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// UnmarshalYAML accepts either a bare argument name or a full specification mapping.
func (specification *ArgumentSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		specification.Name = strings.TrimSpace(node.Value)
		specification.Required = true
		specification.Type = defaultArgumentTypeNameConstant
		return nil
	}

	type argumentSpecAlias ArgumentSpec
	var decoded argumentSpecAlias
	decoded.Required = true
	decoded.Type = defaultArgumentTypeNameConstant
	if decodeError := node.Decode(&decoded); decodeError != nil {
		return fmt.Errorf(argumentNodeDecodeErrorTemplate, decodeError)
	}
	*specification = ArgumentSpec(decoded)
	return nil
}

// Step describes one executable unit within a task definition.
type Step struct {
	Name    string         `yaml:"name"`
	Kind    StepKind       `yaml:"kind"`
	Action  string         `yaml:"action"`
	Args    map[string]any `yaml:"args,omitempty"`
	Timeout int            `yaml:"timeout"`
}

// UnmarshalYAML accepts either a bare step string or a full step mapping.
func (step *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*step = NormalizeStep(node.Value)
		return nil
	}

	type stepAlias struct {
		Name    string         `yaml:"name"`
		Kind    string         `yaml:"kind"`
		Action  string         `yaml:"action"`
		Args    map[string]any `yaml:"args"`
		Timeout int            `yaml:"timeout"`
	}
	var decoded stepAlias
	decoded.Timeout = DefaultStepTimeoutSeconds
	if decodeError := node.Decode(&decoded); decodeError != nil {
		return fmt.Errorf(stepNodeDecodeErrorTemplate, decodeError)
	}

	step.Name = decoded.Name
	step.Kind = ParseStepKind(decoded.Kind)
	step.Action = decoded.Action
	step.Args = decoded.Args
	step.Timeout = decoded.Timeout
	if len(step.Name) == 0 {
		step.Name = step.Action
	}
	return nil
}

// NormalizeStep derives a Step from a bare string by inspecting its shape:
// shell metacharacters or whitespace select a shell step, a script suffix
// selects a script step, anything else is treated as a builtin name.
func NormalizeStep(raw string) Step {
	step := Step{Name: raw, Action: raw, Timeout: DefaultStepTimeoutSeconds}

	switch {
	case strings.ContainsAny(raw, shellMetacharactersConstant) || strings.Contains(raw, " "):
		step.Kind = StepKindShell
	case strings.HasSuffix(raw, scriptSuffixPythonConstant) || strings.HasSuffix(raw, scriptSuffixShellConstant):
		step.Kind = StepKindScript
	default:
		step.Kind = StepKindBuiltin
	}
	return step
}

// Definition models one declarative task document.
type Definition struct {
	Name             string            `yaml:"name"`
	Description      string            `yaml:"description"`
	Extends          string            `yaml:"extends,omitempty"`
	Category         string            `yaml:"category"`
	Arguments        []ArgumentSpec    `yaml:"arguments,omitempty"`
	Environment      map[string]string `yaml:"environment,omitempty"`
	PreSteps         []Step            `yaml:"pre_steps,omitempty"`
	Steps            []Step            `yaml:"steps,omitempty"`
	PostSteps        []Step            `yaml:"post_steps,omitempty"`
	CleanupOnFailure []Step            `yaml:"cleanup_on_failure,omitempty"`
	WorkingDirectory string            `yaml:"working_directory,omitempty"`
	Timeout          int               `yaml:"timeout"`
}

// AllSteps concatenates pre, main, and post steps in execution order.
// Cleanup steps never appear in the returned sequence.
func (definition Definition) AllSteps() []Step {
	combined := make([]Step, 0, len(definition.PreSteps)+len(definition.Steps)+len(definition.PostSteps))
	combined = append(combined, definition.PreSteps...)
	combined = append(combined, definition.Steps...)
	combined = append(combined, definition.PostSteps...)
	return combined
}

// ParseDefinition decodes one YAML task document, applying defaults.
func ParseDefinition(content []byte) (Definition, error) {
	var definition Definition
	definition.Category = defaultCategoryNameConstant
	definition.Timeout = DefaultTaskTimeoutSeconds

	if unmarshalError := yaml.Unmarshal(content, &definition); unmarshalError != nil {
		return Definition{}, unmarshalError
	}
	if len(strings.TrimSpace(definition.Name)) == 0 {
		return Definition{}, fmt.Errorf(definitionNameMissingErrorMessage)
	}
	if definition.Timeout <= 0 {
		definition.Timeout = DefaultTaskTimeoutSeconds
	}
	return definition, nil
}
