// Package worktree coordinates Git worktree operations through execshell.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tyemirov/prunejuice/internal/execshell"
)

const (
	gitWorktreeSubcommandConstant            = "worktree"
	gitWorktreeAddSubcommandConstant         = "add"
	gitWorktreeRemoveSubcommandConstant      = "remove"
	gitWorktreeListSubcommandConstant        = "list"
	gitWorktreePorcelainFlagConstant         = "--porcelain"
	gitWorktreeForceFlagConstant             = "--force"
	gitWorktreeNewBranchFlagConstant         = "-b"
	gitRevParseSubcommandConstant            = "rev-parse"
	gitInsideWorkTreeFlagConstant            = "--is-inside-work-tree"
	gitAbbrevRefFlagConstant                 = "--abbrev-ref"
	gitShowToplevelFlagConstant              = "--show-toplevel"
	gitHeadReferenceConstant                 = "HEAD"
	worktreeParentDirectoryNameConstant      = "worktrees"
	worktreeListPathPrefixConstant           = "worktree "
	worktreeListHeadPrefixConstant           = "HEAD "
	worktreeListBranchPrefixConstant         = "branch "
	worktreeListDetachedLineConstant         = "detached"
	branchReferencePrefixConstant            = "refs/heads/"
	repositoryPathFieldNameConstant          = "repository_path"
	branchNameFieldNameConstant              = "branch_name"
	worktreePathFieldNameConstant            = "worktree_path"
	requiredValueMessageConstant             = "value required"
	gitExecutorNotConfiguredMessageConstant  = "git executor not configured"
	worktreeOperationErrorTemplateConstant   = "%s operation failed"
	worktreeOperationWithCauseConstant       = "%s operation failed: %s"
	invalidWorktreeInputTemplateConstant     = "%s: %s"
	createWorktreeOperationNameConstant      = OperationName("CreateWorktree")
	removeWorktreeOperationNameConstant      = OperationName("RemoveWorktree")
	listWorktreesOperationNameConstant       = OperationName("ListWorktrees")
	currentBranchOperationNameConstant       = OperationName("CurrentBranch")
	currentWorktreeInfoOperationNameConstant = OperationName("CurrentInfo")
)

// GitCommandExecutor exposes the subset of execshell functionality required by Manager.
type GitCommandExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// ErrGitExecutorNotConfigured indicates the Manager was constructed without a git executor.
var ErrGitExecutorNotConfigured = errors.New(gitExecutorNotConfiguredMessageConstant)

// InvalidInputError indicates validation failures for worktree operations.
type InvalidInputError struct {
	FieldName string
	Message   string
}

// Error describes the validation failure.
func (inputError InvalidInputError) Error() string {
	return fmt.Sprintf(invalidWorktreeInputTemplateConstant, inputError.FieldName, inputError.Message)
}

// OperationName captures descriptive names for worktree operations.
type OperationName string

// OperationError wraps execution failures for worktree operations.
type OperationError struct {
	Operation OperationName
	Cause     error
}

// Error describes the worktree operation failure.
func (operationError OperationError) Error() string {
	if operationError.Cause == nil {
		return fmt.Sprintf(worktreeOperationErrorTemplateConstant, operationError.Operation)
	}
	return fmt.Sprintf(worktreeOperationWithCauseConstant, operationError.Operation, operationError.Cause)
}

// Unwrap exposes the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.Cause
}

// Info describes one worktree known to the repository.
type Info struct {
	Path     string
	Branch   string
	Commit   string
	Detached bool
}

// Manager coordinates Git worktree operations for a repository.
type Manager struct {
	executor GitCommandExecutor
}

// NewManager constructs a Manager for the provided executor.
func NewManager(executor GitCommandExecutor) (*Manager, error) {
	if executor == nil {
		return nil, ErrGitExecutorNotConfigured
	}
	return &Manager{executor: executor}, nil
}

// IsGitRepository reports whether the path is inside a Git work tree.
func (manager *Manager) IsGitRepository(executionContext context.Context, repositoryPath string) bool {
	trimmedPath := strings.TrimSpace(repositoryPath)
	if len(trimmedPath) == 0 {
		return false
	}

	commandDetails := execshell.CommandDetails{
		Arguments:        []string{gitRevParseSubcommandConstant, gitInsideWorkTreeFlagConstant},
		WorkingDirectory: trimmedPath,
	}
	executionResult, executionError := manager.executor.ExecuteGit(executionContext, commandDetails)
	if executionError != nil {
		return false
	}
	return strings.TrimSpace(executionResult.StandardOutput) == "true"
}

// CurrentBranch resolves the current branch name for the repository.
func (manager *Manager) CurrentBranch(executionContext context.Context, repositoryPath string) (string, error) {
	trimmedPath := strings.TrimSpace(repositoryPath)
	if len(trimmedPath) == 0 {
		return "", InvalidInputError{FieldName: repositoryPathFieldNameConstant, Message: requiredValueMessageConstant}
	}

	commandDetails := execshell.CommandDetails{
		Arguments:        []string{gitRevParseSubcommandConstant, gitAbbrevRefFlagConstant, gitHeadReferenceConstant},
		WorkingDirectory: trimmedPath,
	}
	executionResult, executionError := manager.executor.ExecuteGit(executionContext, commandDetails)
	if executionError != nil {
		return "", OperationError{Operation: currentBranchOperationNameConstant, Cause: executionError}
	}
	return strings.TrimSpace(executionResult.StandardOutput), nil
}

// Create adds a worktree with a new branch and returns the worktree path.
// Worktrees live under a sibling "worktrees" directory of the repository,
// named "<repository>-<branch>". An empty base branch defaults to HEAD.
func (manager *Manager) Create(executionContext context.Context, repositoryPath string, branchName string, baseBranch string) (string, error) {
	trimmedPath := strings.TrimSpace(repositoryPath)
	if len(trimmedPath) == 0 {
		return "", InvalidInputError{FieldName: repositoryPathFieldNameConstant, Message: requiredValueMessageConstant}
	}
	trimmedBranch := strings.TrimSpace(branchName)
	if len(trimmedBranch) == 0 {
		return "", InvalidInputError{FieldName: branchNameFieldNameConstant, Message: requiredValueMessageConstant}
	}

	worktreePath := manager.WorktreePathFor(trimmedPath, trimmedBranch)
	commandArguments := []string{
		gitWorktreeSubcommandConstant,
		gitWorktreeAddSubcommandConstant,
		gitWorktreeNewBranchFlagConstant,
		trimmedBranch,
		worktreePath,
	}
	trimmedBase := strings.TrimSpace(baseBranch)
	if len(trimmedBase) > 0 {
		commandArguments = append(commandArguments, trimmedBase)
	}

	commandDetails := execshell.CommandDetails{
		Arguments:        commandArguments,
		WorkingDirectory: trimmedPath,
	}
	_, executionError := manager.executor.ExecuteGit(executionContext, commandDetails)
	if executionError != nil {
		return "", OperationError{Operation: createWorktreeOperationNameConstant, Cause: executionError}
	}
	return worktreePath, nil
}

// WorktreePathFor computes the canonical worktree location for a branch.
func (manager *Manager) WorktreePathFor(repositoryPath string, branchName string) string {
	repositoryName := filepath.Base(filepath.Clean(repositoryPath))
	parentDirectory := filepath.Join(filepath.Dir(filepath.Clean(repositoryPath)), worktreeParentDirectoryNameConstant)
	sanitizedBranch := strings.ReplaceAll(branchName, "/", "-")
	return filepath.Join(parentDirectory, fmt.Sprintf("%s-%s", repositoryName, sanitizedBranch))
}

// Remove deletes a worktree. Removal is forced so dirty ephemeral worktrees
// do not survive cleanup. The boolean reports whether removal succeeded.
func (manager *Manager) Remove(executionContext context.Context, repositoryPath string, worktreePath string) bool {
	trimmedPath := strings.TrimSpace(repositoryPath)
	trimmedWorktree := strings.TrimSpace(worktreePath)
	if len(trimmedPath) == 0 || len(trimmedWorktree) == 0 {
		return false
	}

	commandDetails := execshell.CommandDetails{
		Arguments: []string{
			gitWorktreeSubcommandConstant,
			gitWorktreeRemoveSubcommandConstant,
			gitWorktreeForceFlagConstant,
			trimmedWorktree,
		},
		WorkingDirectory: trimmedPath,
	}
	_, executionError := manager.executor.ExecuteGit(executionContext, commandDetails)
	return executionError == nil
}

// List enumerates all worktrees registered for the repository.
func (manager *Manager) List(executionContext context.Context, repositoryPath string) ([]Info, error) {
	trimmedPath := strings.TrimSpace(repositoryPath)
	if len(trimmedPath) == 0 {
		return nil, InvalidInputError{FieldName: repositoryPathFieldNameConstant, Message: requiredValueMessageConstant}
	}

	commandDetails := execshell.CommandDetails{
		Arguments: []string{
			gitWorktreeSubcommandConstant,
			gitWorktreeListSubcommandConstant,
			gitWorktreePorcelainFlagConstant,
		},
		WorkingDirectory: trimmedPath,
	}
	executionResult, executionError := manager.executor.ExecuteGit(executionContext, commandDetails)
	if executionError != nil {
		return nil, OperationError{Operation: listWorktreesOperationNameConstant, Cause: executionError}
	}
	return parseWorktreeListOutput(executionResult.StandardOutput), nil
}

// CurrentInfo resolves the worktree containing the provided path, or nil when
// the path is not inside any registered worktree.
func (manager *Manager) CurrentInfo(executionContext context.Context, insidePath string) (*Info, error) {
	trimmedPath := strings.TrimSpace(insidePath)
	if len(trimmedPath) == 0 {
		return nil, InvalidInputError{FieldName: worktreePathFieldNameConstant, Message: requiredValueMessageConstant}
	}

	commandDetails := execshell.CommandDetails{
		Arguments:        []string{gitRevParseSubcommandConstant, gitShowToplevelFlagConstant},
		WorkingDirectory: trimmedPath,
	}
	executionResult, executionError := manager.executor.ExecuteGit(executionContext, commandDetails)
	if executionError != nil {
		return nil, OperationError{Operation: currentWorktreeInfoOperationNameConstant, Cause: executionError}
	}

	topLevelPath := strings.TrimSpace(executionResult.StandardOutput)
	if len(topLevelPath) == 0 {
		return nil, nil
	}

	worktrees, listError := manager.List(executionContext, topLevelPath)
	if listError != nil {
		return nil, listError
	}
	for worktreeIndex := range worktrees {
		if filepath.Clean(worktrees[worktreeIndex].Path) == filepath.Clean(topLevelPath) {
			return &worktrees[worktreeIndex], nil
		}
	}
	return nil, nil
}

// MainWorktreePath returns the first worktree path, which git reports as the main worktree.
func (manager *Manager) MainWorktreePath(executionContext context.Context, repositoryPath string) (string, error) {
	worktrees, listError := manager.List(executionContext, repositoryPath)
	if listError != nil {
		return "", listError
	}
	if len(worktrees) == 0 {
		return "", nil
	}
	return worktrees[0].Path, nil
}

func parseWorktreeListOutput(porcelainOutput string) []Info {
	var worktrees []Info
	var current *Info

	for _, line := range strings.Split(porcelainOutput, "\n") {
		trimmedLine := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmedLine, worktreeListPathPrefixConstant):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &Info{Path: strings.TrimPrefix(trimmedLine, worktreeListPathPrefixConstant)}
		case current == nil:
			continue
		case strings.HasPrefix(trimmedLine, worktreeListHeadPrefixConstant):
			current.Commit = strings.TrimPrefix(trimmedLine, worktreeListHeadPrefixConstant)
		case strings.HasPrefix(trimmedLine, worktreeListBranchPrefixConstant):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(trimmedLine, worktreeListBranchPrefixConstant), branchReferencePrefixConstant)
		case trimmedLine == worktreeListDetachedLineConstant:
			current.Detached = true
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees
}
