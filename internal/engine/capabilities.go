package engine

import "context"

// WorktreeManager is the checkout capability consumed by the engine.
type WorktreeManager interface {
	IsGitRepository(executionContext context.Context, repositoryPath string) bool
	CurrentBranch(executionContext context.Context, repositoryPath string) (string, error)
	Create(executionContext context.Context, repositoryPath string, branchName string, baseBranch string) (string, error)
	Remove(executionContext context.Context, repositoryPath string, worktreePath string) bool
}

// SessionManager is the terminal-session capability consumed by the engine.
type SessionManager interface {
	Create(executionContext context.Context, workingDirectory string, taskLabel string) (string, error)
	Exists(executionContext context.Context, sessionName string) bool
	Kill(executionContext context.Context, sessionName string) bool
	FallbackName(taskLabel string) string
}

// EventRecorder persists run lifecycle events. Recorder failures are logged
// and never change a run's outcome.
type EventRecorder interface {
	RecordStart(runIdentifier string, taskName string, projectPath string) error
	RecordEnd(runIdentifier string, status string, runError string) error
	RecordArtifact(runIdentifier string, category string, artifactPath string) error
}

// ArtifactStore persists run artifacts on disk.
type ArtifactStore interface {
	CreateSession(sessionIdentifier string) (string, error)
	StoreContent(sessionIdentifier string, category string, fileName string, content []byte) (string, error)
}
