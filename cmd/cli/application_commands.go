package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/prunejuice/internal/artifacts"
	"github.com/tyemirov/prunejuice/internal/engine"
	"github.com/tyemirov/prunejuice/internal/events"
	"github.com/tyemirov/prunejuice/internal/execshell"
	"github.com/tyemirov/prunejuice/internal/taskdef"
	"github.com/tyemirov/prunejuice/internal/tmux"
	"github.com/tyemirov/prunejuice/internal/worktree"
)

const (
	runCommandUseConstant              = "run <task>"
	runCommandShortDescriptionConstant = "Run a task definition against a project"
	tasksCommandUseConstant            = "tasks"
	tasksCommandShortDescription       = "List discoverable task definitions"
	runsCommandUseConstant             = "runs"
	runsCommandShortDescription        = "List recent recorded runs"
	worktreeCommandUseConstant         = "worktree"
	worktreeCommandShortDescription    = "Manage project worktrees"
	worktreeListUseConstant            = "list"
	worktreeRemoveUseConstant          = "rm <path>"
	sessionCommandUseConstant          = "session"
	sessionCommandShortDescription     = "Manage tmux sessions"
	sessionListUseConstant             = "list"
	sessionKillUseConstant             = "kill <name>"

	projectFlagNameConstant    = "project"
	projectFlagUsageConstant   = "Path to the project checkout."
	dryRunFlagNameConstant     = "dry-run"
	dryRunFlagUsageConstant    = "Render the resolved step sequence without executing anything."
	argumentFlagNameConstant   = "arg"
	argumentFlagUsageConstant  = "Task argument as key=value. Repeatable."
	runsLimitFlagNameConstant  = "limit"
	runsLimitFlagUsageConstant = "Maximum number of runs to list."

	defaultRunsLimitConstant = 20

	argumentFormatErrorTemplateConstant = "invalid argument %q, expected key=value"
	projectResolveErrorTemplateConstant = "unable to resolve project path: %w"
	runFailedTemplateConstant           = "task %s failed: %w"
	runSucceededTemplateConstant        = "task %s completed, artifacts at %s\n"
	taskListLineTemplateConstant        = "%-32s %s\n"
	runListLineTemplateConstant         = "%-36s %-24s %-10s %s\n"
	worktreeListLineTemplateConstant    = "%-48s %s\n"
	sessionListLineTemplateConstant     = "%-32s %s\n"
	recorderUnavailableLogMessage       = "run recorder unavailable, continuing without event history"
	worktreeRemoveFailedTemplate        = "worktree %s not removed"
	sessionKillFailedTemplateConstant   = "session %s not killed"
)

// engineComponents bundles the collaborators a command needs for one project.
type engineComponents struct {
	executor  *engine.Executor
	worktrees *worktree.Manager
	sessions  *tmux.Manager
	recorder  *events.Recorder
}

func (components *engineComponents) close() {
	if components.recorder != nil {
		_ = components.recorder.Close()
	}
}

func (application *Application) buildEngineComponents(projectPath string, withRecorder bool) (*engineComponents, error) {
	shellExecutor, shellError := execshell.NewShellExecutor(application.logger, execshell.NewOSCommandRunner(), false)
	if shellError != nil {
		return nil, shellError
	}

	worktreeManager, worktreeError := worktree.NewManager(shellExecutor)
	if worktreeError != nil {
		return nil, worktreeError
	}
	sessionManager, sessionError := tmux.NewManager(shellExecutor)
	if sessionError != nil {
		return nil, sessionError
	}

	var recorder *events.Recorder
	if withRecorder {
		databasePath := events.DefaultDatabasePath(projectPath)
		if directoryError := os.MkdirAll(filepath.Dir(databasePath), 0o755); directoryError == nil {
			openedRecorder, recorderError := events.NewRecorder(databasePath, application.logger)
			if recorderError != nil {
				application.logger.Warn(recorderUnavailableLogMessage, zap.Error(recorderError))
			} else {
				recorder = openedRecorder
			}
		} else {
			application.logger.Warn(recorderUnavailableLogMessage, zap.Error(directoryError))
		}
	}

	definitionStore := taskdef.NewStore(application.logger)
	artifactStore := artifacts.NewStore(projectPath)

	registry := engine.NewBuiltinStepRegistry(engine.BuiltinDependencies{
		Worktrees: worktreeManager,
		Sessions:  sessionManager,
		Recorder:  recorderOrNil(recorder),
		Artifacts: artifactStore,
		Logger:    application.logger,
	})
	stepExecutor, stepExecutorError := engine.NewStepExecutor(shellExecutor, registry, application.logger)
	if stepExecutorError != nil {
		return nil, stepExecutorError
	}

	taskExecutor, executorError := engine.NewExecutor(engine.ExecutorDependencies{
		Store:     definitionStore,
		Steps:     stepExecutor,
		Worktrees: worktreeManager,
		Sessions:  sessionManager,
		Recorder:  recorderOrNil(recorder),
		Artifacts: artifactStore,
		Logger:    application.logger,
	})
	if executorError != nil {
		return nil, executorError
	}

	return &engineComponents{
		executor:  taskExecutor,
		worktrees: worktreeManager,
		sessions:  sessionManager,
		recorder:  recorder,
	}, nil
}

// recorderOrNil avoids storing a typed nil pointer in the capability interface.
func recorderOrNil(recorder *events.Recorder) engine.EventRecorder {
	if recorder == nil {
		return nil
	}
	return recorder
}

func (application *Application) buildRunCommand() *cobra.Command {
	var projectFlagValue string
	var dryRunFlagValue bool
	var argumentFlagValues []string

	runCommand := &cobra.Command{
		Use:   runCommandUseConstant,
		Short: runCommandShortDescriptionConstant,
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			projectPath, projectError := resolveProjectPath(projectFlagValue)
			if projectError != nil {
				return projectError
			}
			argumentValues, argumentError := parseArgumentValues(argumentFlagValues)
			if argumentError != nil {
				return argumentError
			}

			components, componentsError := application.buildEngineComponents(projectPath, !dryRunFlagValue)
			if componentsError != nil {
				return componentsError
			}
			defer components.close()

			taskName := arguments[0]
			result := components.executor.Execute(command.Context(), taskName, projectPath, argumentValues, dryRunFlagValue)
			if !result.Success {
				return fmt.Errorf(runFailedTemplateConstant, taskName, result.Err)
			}
			if dryRunFlagValue {
				fmt.Fprint(command.OutOrStdout(), result.Output)
				return nil
			}
			fmt.Fprintf(command.OutOrStdout(), runSucceededTemplateConstant, taskName, result.ArtifactsPath)
			return nil
		},
	}
	runCommand.Flags().StringVar(&projectFlagValue, projectFlagNameConstant, ".", projectFlagUsageConstant)
	runCommand.Flags().BoolVar(&dryRunFlagValue, dryRunFlagNameConstant, false, dryRunFlagUsageConstant)
	runCommand.Flags().StringArrayVar(&argumentFlagValues, argumentFlagNameConstant, nil, argumentFlagUsageConstant)
	return runCommand
}

func (application *Application) buildTasksCommand() *cobra.Command {
	var projectFlagValue string

	tasksCommand := &cobra.Command{
		Use:   tasksCommandUseConstant,
		Short: tasksCommandShortDescription,
		RunE: func(command *cobra.Command, arguments []string) error {
			projectPath, projectError := resolveProjectPath(projectFlagValue)
			if projectError != nil {
				return projectError
			}

			definitionStore := taskdef.NewStore(application.logger)
			for _, definition := range definitionStore.Discover(projectPath) {
				fmt.Fprintf(command.OutOrStdout(), taskListLineTemplateConstant, definition.Name, definition.Description)
			}
			return nil
		},
	}
	tasksCommand.Flags().StringVar(&projectFlagValue, projectFlagNameConstant, ".", projectFlagUsageConstant)
	return tasksCommand
}

func (application *Application) buildRunsCommand() *cobra.Command {
	var projectFlagValue string
	var limitFlagValue int

	runsCommand := &cobra.Command{
		Use:   runsCommandUseConstant,
		Short: runsCommandShortDescription,
		RunE: func(command *cobra.Command, arguments []string) error {
			projectPath, projectError := resolveProjectPath(projectFlagValue)
			if projectError != nil {
				return projectError
			}

			recorder, recorderError := events.NewRecorder(events.DefaultDatabasePath(projectPath), application.logger)
			if recorderError != nil {
				return recorderError
			}
			defer func() {
				_ = recorder.Close()
			}()

			runRecords, listError := recorder.ListRuns(limitFlagValue)
			if listError != nil {
				return listError
			}
			for _, runRecord := range runRecords {
				fmt.Fprintf(command.OutOrStdout(), runListLineTemplateConstant, runRecord.ID, runRecord.TaskName, runRecord.Status, runRecord.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	runsCommand.Flags().StringVar(&projectFlagValue, projectFlagNameConstant, ".", projectFlagUsageConstant)
	runsCommand.Flags().IntVar(&limitFlagValue, runsLimitFlagNameConstant, defaultRunsLimitConstant, runsLimitFlagUsageConstant)
	return runsCommand
}

func (application *Application) buildWorktreeCommand() *cobra.Command {
	var projectFlagValue string

	worktreeCommand := &cobra.Command{
		Use:   worktreeCommandUseConstant,
		Short: worktreeCommandShortDescription,
	}
	worktreeCommand.PersistentFlags().StringVar(&projectFlagValue, projectFlagNameConstant, ".", projectFlagUsageConstant)

	listCommand := &cobra.Command{
		Use: worktreeListUseConstant,
		RunE: func(command *cobra.Command, arguments []string) error {
			projectPath, projectError := resolveProjectPath(projectFlagValue)
			if projectError != nil {
				return projectError
			}
			components, componentsError := application.buildEngineComponents(projectPath, false)
			if componentsError != nil {
				return componentsError
			}
			defer components.close()

			worktreeEntries, listError := components.worktrees.List(command.Context(), projectPath)
			if listError != nil {
				return listError
			}
			for _, worktreeEntry := range worktreeEntries {
				branchLabel := worktreeEntry.Branch
				if worktreeEntry.Detached {
					branchLabel = "(detached)"
				}
				fmt.Fprintf(command.OutOrStdout(), worktreeListLineTemplateConstant, worktreeEntry.Path, branchLabel)
			}
			return nil
		},
	}

	removeCommand := &cobra.Command{
		Use:  worktreeRemoveUseConstant,
		Args: cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			projectPath, projectError := resolveProjectPath(projectFlagValue)
			if projectError != nil {
				return projectError
			}
			components, componentsError := application.buildEngineComponents(projectPath, false)
			if componentsError != nil {
				return componentsError
			}
			defer components.close()

			if !components.worktrees.Remove(command.Context(), projectPath, arguments[0]) {
				return fmt.Errorf(worktreeRemoveFailedTemplate, arguments[0])
			}
			return nil
		},
	}

	worktreeCommand.AddCommand(listCommand)
	worktreeCommand.AddCommand(removeCommand)
	return worktreeCommand
}

func (application *Application) buildSessionCommand() *cobra.Command {
	sessionCommand := &cobra.Command{
		Use:   sessionCommandUseConstant,
		Short: sessionCommandShortDescription,
	}

	listCommand := &cobra.Command{
		Use: sessionListUseConstant,
		RunE: func(command *cobra.Command, arguments []string) error {
			components, componentsError := application.buildEngineComponents(".", false)
			if componentsError != nil {
				return componentsError
			}
			defer components.close()

			for _, sessionEntry := range components.sessions.List(command.Context()) {
				fmt.Fprintf(command.OutOrStdout(), sessionListLineTemplateConstant, sessionEntry.Name, sessionEntry.Path)
			}
			return nil
		},
	}

	killCommand := &cobra.Command{
		Use:  sessionKillUseConstant,
		Args: cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			components, componentsError := application.buildEngineComponents(".", false)
			if componentsError != nil {
				return componentsError
			}
			defer components.close()

			if !components.sessions.Kill(command.Context(), arguments[0]) {
				return fmt.Errorf(sessionKillFailedTemplateConstant, arguments[0])
			}
			return nil
		},
	}

	sessionCommand.AddCommand(listCommand)
	sessionCommand.AddCommand(killCommand)
	return sessionCommand
}

func resolveProjectPath(projectFlagValue string) (string, error) {
	absolutePath, absoluteError := filepath.Abs(projectFlagValue)
	if absoluteError != nil {
		return "", fmt.Errorf(projectResolveErrorTemplateConstant, absoluteError)
	}
	return absolutePath, nil
}

func parseArgumentValues(argumentFlagValues []string) (map[string]string, error) {
	argumentValues := map[string]string{}
	for _, rawArgument := range argumentFlagValues {
		separatorIndex := strings.Index(rawArgument, "=")
		if separatorIndex <= 0 {
			return nil, fmt.Errorf(argumentFormatErrorTemplateConstant, rawArgument)
		}
		argumentValues[rawArgument[:separatorIndex]] = rawArgument[separatorIndex+1:]
	}
	return argumentValues, nil
}
