// Package cli wires the prj command-line application.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tyemirov/prunejuice/internal/utils"
)

const (
	applicationNameConstant             = "prj"
	applicationShortDescriptionConstant = "Declarative developer workflow orchestrator"
	applicationLongDescriptionConstant  = "prj runs multi-step task definitions against a project checkout, wrapping runs with ephemeral git worktrees and tmux sessions when the task calls for them."

	configFileFlagNameConstant  = "config"
	configFileFlagUsageConstant = "Optional path to a configuration file (YAML)."
	logLevelFlagNameConstant    = "log-level"
	logLevelFlagUsageConstant   = "Override the configured log level."
	logFormatFlagNameConstant   = "log-format"
	logFormatFlagUsageConstant  = "Override the configured log format (structured or console)."

	commonLogLevelConfigKeyConstant  = "common.log_level"
	commonLogFormatConfigKeyConstant = "common.log_format"

	environmentPrefixConstant              = "PRJ"
	configurationNameConstant              = "config"
	configurationTypeConstant              = "yaml"
	defaultConfigurationSearchPathConstant = "."
	userConfigurationDirectoryNameConstant = ".prj"
	xdgConfigHomeEnvironmentVariableName   = "XDG_CONFIG_HOME"

	configurationLoadErrorTemplateConstant = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant    = "unable to create logger: %w"
)

// ApplicationConfiguration describes the persisted configuration for the CLI.
type ApplicationConfiguration struct {
	Common ApplicationCommonConfiguration `mapstructure:"common"`
}

// ApplicationCommonConfiguration stores logging defaults shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Application wires the Cobra root command, configuration loader, and loggers.
type Application struct {
	rootCommand           *cobra.Command
	configurationLoader   *utils.ConfigurationLoader
	loggerFactory         *utils.LoggerFactory
	logger                *zap.Logger
	consoleLogger         *zap.Logger
	configuration         ApplicationConfiguration
	configurationFilePath string
	logLevelFlagValue     string
	logFormatFlagValue    string
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	application := &Application{
		loggerFactory: utils.NewLoggerFactory(),
		logger:        zap.NewNop(),
		consoleLogger: zap.NewNop(),
	}

	application.configurationLoader = utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		resolveConfigurationSearchPaths(),
	)
	embeddedConfigurationData, embeddedConfigurationType := EmbeddedDefaultConfiguration()
	application.configurationLoader.SetEmbeddedConfiguration(embeddedConfigurationData, embeddedConfigurationType)

	rootCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initialize(command)
		},
	}
	rootCommand.PersistentFlags().StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	rootCommand.PersistentFlags().StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	rootCommand.PersistentFlags().StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)

	rootCommand.AddCommand(application.buildRunCommand())
	rootCommand.AddCommand(application.buildTasksCommand())
	rootCommand.AddCommand(application.buildRunsCommand())
	rootCommand.AddCommand(application.buildWorktreeCommand())
	rootCommand.AddCommand(application.buildSessionCommand())

	application.rootCommand = rootCommand
	return application
}

func (application *Application) initialize(command *cobra.Command) error {
	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:  string(utils.LogLevelInfo),
		commonLogFormatConfigKeyConstant: string(utils.LogFormatConsole),
	}

	if _, loadError := application.configurationLoader.LoadConfiguration(application.configurationFilePath, defaultValues, &application.configuration); loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}

	selectedLogLevel := application.configuration.Common.LogLevel
	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		selectedLogLevel = application.logLevelFlagValue
	}
	selectedLogFormat := application.configuration.Common.LogFormat
	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		selectedLogFormat = application.logFormatFlagValue
	}

	loggerOutputs, creationError := application.loggerFactory.CreateLoggerOutputs(utils.LogLevel(selectedLogLevel), utils.LogFormat(selectedLogFormat))
	if creationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, creationError)
	}
	application.logger = loggerOutputs.DiagnosticLogger
	application.consoleLogger = loggerOutputs.ConsoleLogger
	return nil
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}

	flagSetsToInspect := []*pflag.FlagSet{
		command.PersistentFlags(),
		command.InheritedFlags(),
	}
	rootCommand := command.Root()
	if rootCommand != nil {
		flagSetsToInspect = append(flagSetsToInspect, rootCommand.PersistentFlags())
	}

	for _, flagSet := range flagSetsToInspect {
		if flagSet == nil {
			continue
		}
		if flagSet.Changed(flagName) {
			return true
		}
	}
	return false
}

// Execute runs the root command.
func (application *Application) Execute() error {
	return application.rootCommand.Execute()
}

// Execute constructs the application and runs it.
func Execute() error {
	return NewApplication().Execute()
}

func resolveConfigurationSearchPaths() []string {
	searchPaths := []string{defaultConfigurationSearchPathConstant}

	xdgConfigHome := os.Getenv(xdgConfigHomeEnvironmentVariableName)
	if len(xdgConfigHome) > 0 {
		searchPaths = append(searchPaths, filepath.Join(xdgConfigHome, applicationNameConstant))
	}

	homeDirectory, homeError := os.UserHomeDir()
	if homeError == nil && len(homeDirectory) > 0 {
		if len(xdgConfigHome) == 0 {
			searchPaths = append(searchPaths, filepath.Join(homeDirectory, ".config", applicationNameConstant))
		}
		searchPaths = append(searchPaths, filepath.Join(homeDirectory, userConfigurationDirectoryNameConstant))
	}
	return searchPaths
}
