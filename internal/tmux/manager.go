// Package tmux coordinates terminal multiplexer sessions through execshell.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tyemirov/prunejuice/internal/execshell"
)

const (
	tmuxNewSessionSubcommandConstant    = "new-session"
	tmuxHasSessionSubcommandConstant    = "has-session"
	tmuxKillSessionSubcommandConstant   = "kill-session"
	tmuxListSessionsSubcommandConstant  = "list-sessions"
	tmuxDetachedFlagConstant            = "-d"
	tmuxSessionNameFlagConstant         = "-s"
	tmuxStartDirectoryFlagConstant      = "-c"
	tmuxTargetFlagConstant              = "-t"
	tmuxListFormatFlagConstant          = "-F"
	tmuxListFormatValueConstant         = "#{session_name}|#{session_path}|#{session_attached}"
	sessionFallbackNameConstant         = "session"
	sessionNamePrefixConstant           = "prj"
	tmuxExecutorNotConfiguredMessage    = "tmux executor not configured"
	sessionWorkingDirectoryFieldMessage = "session working directory required"
)

var sessionNameInvalidCharacters = regexp.MustCompile(`[^a-z0-9-_]+`)
var sessionNameRepeatedDashes = regexp.MustCompile(`-+`)

// TmuxCommandExecutor exposes the subset of execshell functionality required by Manager.
type TmuxCommandExecutor interface {
	ExecuteTmux(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// ErrTmuxExecutorNotConfigured indicates the Manager was constructed without a tmux executor.
var ErrTmuxExecutorNotConfigured = errors.New(tmuxExecutorNotConfiguredMessage)

// SessionInfo describes one running tmux session.
type SessionInfo struct {
	Name     string
	Path     string
	Attached bool
}

// Manager coordinates tmux session lifecycle operations.
type Manager struct {
	executor TmuxCommandExecutor
}

// NewManager constructs a Manager for the provided executor.
func NewManager(executor TmuxCommandExecutor) (*Manager, error) {
	if executor == nil {
		return nil, ErrTmuxExecutorNotConfigured
	}
	return &Manager{executor: executor}, nil
}

// SanitizeSessionName lowers, strips, and collapses a raw name into a
// tmux-safe session identifier.
func SanitizeSessionName(rawName string) string {
	sanitized := strings.ToLower(strings.TrimSpace(rawName))
	sanitized = sessionNameInvalidCharacters.ReplaceAllString(sanitized, "-")
	sanitized = sessionNameRepeatedDashes.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")
	if len(sanitized) == 0 {
		return sessionFallbackNameConstant
	}
	return sanitized
}

// FormatSessionName derives the session name for a working directory and task label.
func FormatSessionName(workingDirectory string, taskLabel string) string {
	directoryName := SanitizeSessionName(filepath.Base(filepath.Clean(workingDirectory)))
	sanitizedLabel := SanitizeSessionName(taskLabel)
	return fmt.Sprintf("%s-%s-%s", sessionNamePrefixConstant, directoryName, sanitizedLabel)
}

// FallbackSessionName returns the deterministic synthetic name used when
// session creation fails but the run should proceed.
func FallbackSessionName(taskLabel string) string {
	return fmt.Sprintf("%s-%s", sessionNamePrefixConstant, SanitizeSessionName(taskLabel))
}

// FallbackName exposes FallbackSessionName through the Manager instance.
func (manager *Manager) FallbackName(taskLabel string) string {
	return FallbackSessionName(taskLabel)
}

// Create starts a detached session rooted at the working directory and
// returns the session name. A session that already exists is reused.
func (manager *Manager) Create(executionContext context.Context, workingDirectory string, taskLabel string) (string, error) {
	trimmedDirectory := strings.TrimSpace(workingDirectory)
	if len(trimmedDirectory) == 0 {
		return "", errors.New(sessionWorkingDirectoryFieldMessage)
	}

	sessionName := FormatSessionName(trimmedDirectory, taskLabel)
	if manager.Exists(executionContext, sessionName) {
		return sessionName, nil
	}

	commandDetails := execshell.CommandDetails{
		Arguments: []string{
			tmuxNewSessionSubcommandConstant,
			tmuxDetachedFlagConstant,
			tmuxSessionNameFlagConstant,
			sessionName,
			tmuxStartDirectoryFlagConstant,
			trimmedDirectory,
		},
	}
	_, executionError := manager.executor.ExecuteTmux(executionContext, commandDetails)
	if executionError != nil {
		return "", executionError
	}
	return sessionName, nil
}

// Exists reports whether a session with the provided name is running.
func (manager *Manager) Exists(executionContext context.Context, sessionName string) bool {
	trimmedName := strings.TrimSpace(sessionName)
	if len(trimmedName) == 0 {
		return false
	}

	commandDetails := execshell.CommandDetails{
		Arguments: []string{tmuxHasSessionSubcommandConstant, tmuxTargetFlagConstant, trimmedName},
	}
	_, executionError := manager.executor.ExecuteTmux(executionContext, commandDetails)
	return executionError == nil
}

// Kill terminates a session. The boolean reports whether the kill succeeded.
func (manager *Manager) Kill(executionContext context.Context, sessionName string) bool {
	trimmedName := strings.TrimSpace(sessionName)
	if len(trimmedName) == 0 {
		return false
	}

	commandDetails := execshell.CommandDetails{
		Arguments: []string{tmuxKillSessionSubcommandConstant, tmuxTargetFlagConstant, trimmedName},
	}
	_, executionError := manager.executor.ExecuteTmux(executionContext, commandDetails)
	return executionError == nil
}

// List enumerates running sessions. A missing tmux server yields an empty list.
func (manager *Manager) List(executionContext context.Context) []SessionInfo {
	commandDetails := execshell.CommandDetails{
		Arguments: []string{
			tmuxListSessionsSubcommandConstant,
			tmuxListFormatFlagConstant,
			tmuxListFormatValueConstant,
		},
	}
	executionResult, executionError := manager.executor.ExecuteTmux(executionContext, commandDetails)
	if executionError != nil {
		return nil
	}

	var sessions []SessionInfo
	for _, line := range strings.Split(executionResult.StandardOutput, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if len(trimmedLine) == 0 {
			continue
		}
		fields := strings.Split(trimmedLine, "|")
		if len(fields) < 3 {
			continue
		}
		sessions = append(sessions, SessionInfo{
			Name:     fields[0],
			Path:     fields[1],
			Attached: fields[2] == "1",
		})
	}
	return sessions
}
