package utils

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel identifies a supported logging verbosity.
type LogLevel string

// LogFormat identifies a supported log rendering format.
type LogFormat string

const (
	// LogLevelDebug enables debug and higher log entries.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo enables info and higher log entries.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn enables warn and higher log entries.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError enables only error log entries.
	LogLevelError LogLevel = "error"

	// LogFormatStructured renders log entries as JSON lines.
	LogFormatStructured LogFormat = "structured"
	// LogFormatConsole renders log entries for human consumption.
	LogFormatConsole LogFormat = "console"

	unsupportedLogLevelTemplateConstant  = "unsupported log level: %s"
	unsupportedLogFormatTemplateConstant = "unsupported log format: %s"
)

// LoggerOutputs bundles the loggers produced by the factory. DiagnosticLogger
// carries operational entries; ConsoleLogger carries user-facing events and is
// a no-op under the structured format.
type LoggerOutputs struct {
	DiagnosticLogger *zap.Logger
	ConsoleLogger    *zap.Logger
}

// LoggerFactory builds zap loggers from level and format selections.
type LoggerFactory struct{}

// NewLoggerFactory constructs a LoggerFactory instance.
func NewLoggerFactory() *LoggerFactory {
	return &LoggerFactory{}
}

// CreateLoggerOutputs builds the diagnostic and console loggers for the
// requested level and format.
func (factory *LoggerFactory) CreateLoggerOutputs(requestedLogLevel LogLevel, requestedLogFormat LogFormat) (LoggerOutputs, error) {
	zapLevel, levelError := resolveZapLevel(requestedLogLevel)
	if levelError != nil {
		return LoggerOutputs{}, levelError
	}

	switch requestedLogFormat {
	case LogFormatStructured:
		structuredCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.Lock(os.Stderr),
			zapLevel,
		)
		return LoggerOutputs{
			DiagnosticLogger: zap.New(structuredCore),
			ConsoleLogger:    zap.NewNop(),
		}, nil
	case LogFormatConsole:
		consoleEncoderConfiguration := zap.NewDevelopmentEncoderConfig()
		consoleCore := zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoderConfiguration),
			zapcore.Lock(os.Stderr),
			zapLevel,
		)
		consoleLogger := zap.New(consoleCore)
		return LoggerOutputs{
			DiagnosticLogger: consoleLogger,
			ConsoleLogger:    consoleLogger,
		}, nil
	default:
		return LoggerOutputs{}, fmt.Errorf(unsupportedLogFormatTemplateConstant, requestedLogFormat)
	}
}

func resolveZapLevel(requestedLogLevel LogLevel) (zapcore.Level, error) {
	switch requestedLogLevel {
	case LogLevelDebug:
		return zapcore.DebugLevel, nil
	case LogLevelInfo:
		return zapcore.InfoLevel, nil
	case LogLevelWarn:
		return zapcore.WarnLevel, nil
	case LogLevelError:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InvalidLevel, fmt.Errorf(unsupportedLogLevelTemplateConstant, requestedLogLevel)
	}
}
