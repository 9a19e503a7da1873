package utils

import (
	"bytes"
	"errors"
	"strings"

	"github.com/spf13/viper"
)

const environmentKeySeparatorConstant = "_"

// ConfigurationMetadata reports where the loaded configuration came from.
type ConfigurationMetadata struct {
	ConfigFileUsed string
}

// ConfigurationLoader layers embedded defaults, configuration files, and
// environment variables into a typed configuration structure.
type ConfigurationLoader struct {
	configurationName         string
	configurationType         string
	environmentPrefix         string
	searchPaths               []string
	embeddedConfiguration     []byte
	embeddedConfigurationType string
}

// NewConfigurationLoader constructs a loader that searches the provided
// directories in order for <configurationName>.<configurationType>.
func NewConfigurationLoader(configurationName string, configurationType string, environmentPrefix string, searchPaths []string) *ConfigurationLoader {
	return &ConfigurationLoader{
		configurationName: configurationName,
		configurationType: configurationType,
		environmentPrefix: environmentPrefix,
		searchPaths:       searchPaths,
	}
}

// SetEmbeddedConfiguration registers baseline configuration content merged
// beneath any discovered configuration file.
func (loader *ConfigurationLoader) SetEmbeddedConfiguration(content []byte, contentType string) {
	loader.embeddedConfiguration = content
	loader.embeddedConfigurationType = contentType
}

// LoadConfiguration resolves configuration in precedence order (environment
// over file over embedded over defaults) and decodes it into target.
func (loader *ConfigurationLoader) LoadConfiguration(explicitFilePath string, defaultValues map[string]any, target any) (ConfigurationMetadata, error) {
	viperInstance := viper.New()

	for defaultKey, defaultValue := range defaultValues {
		viperInstance.SetDefault(defaultKey, defaultValue)
	}

	if len(loader.embeddedConfiguration) > 0 {
		viperInstance.SetConfigType(loader.embeddedConfigurationType)
		if readError := viperInstance.ReadConfig(bytes.NewReader(loader.embeddedConfiguration)); readError != nil {
			return ConfigurationMetadata{}, readError
		}
	}

	viperInstance.SetConfigType(loader.configurationType)
	if len(strings.TrimSpace(explicitFilePath)) > 0 {
		viperInstance.SetConfigFile(explicitFilePath)
		if mergeError := viperInstance.MergeInConfig(); mergeError != nil {
			return ConfigurationMetadata{}, mergeError
		}
	} else {
		viperInstance.SetConfigName(loader.configurationName)
		for _, searchPath := range loader.searchPaths {
			viperInstance.AddConfigPath(searchPath)
		}
		if mergeError := viperInstance.MergeInConfig(); mergeError != nil {
			var notFoundError viper.ConfigFileNotFoundError
			if !errors.As(mergeError, &notFoundError) {
				return ConfigurationMetadata{}, mergeError
			}
		}
	}

	viperInstance.SetEnvPrefix(loader.environmentPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", environmentKeySeparatorConstant))
	viperInstance.AutomaticEnv()

	if unmarshalError := viperInstance.Unmarshal(target); unmarshalError != nil {
		return ConfigurationMetadata{}, unmarshalError
	}
	return ConfigurationMetadata{ConfigFileUsed: viperInstance.ConfigFileUsed()}, nil
}
