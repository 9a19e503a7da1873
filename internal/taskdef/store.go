package taskdef

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var embeddedTemplateDefinitions embed.FS

const (
	projectMetadataDirectoryNameConstant    = ".prj"
	projectDefinitionsDirectoryNameConstant = "commands"
	embeddedTemplatesDirectoryNameConstant  = "templates"
	yamlExtensionConstant                   = ".yaml"
	ymlExtensionConstant                    = ".yml"

	definitionParseFailureMessageConstant = "skipping unparseable task definition"
	baseDefinitionMissingMessageConstant  = "extends target not found; proceeding without merge"
	definitionFileFieldNameConstant       = "definition_file"
	baseDefinitionFieldNameConstant       = "base_definition"
)

// ProjectDefinitionsDirectory returns the project-local definitions directory for a project root.
func ProjectDefinitionsDirectory(projectRoot string) string {
	return filepath.Join(projectRoot, projectMetadataDirectoryNameConstant, projectDefinitionsDirectoryNameConstant)
}

// ProjectStepsDirectory returns the project-local custom steps directory for a project root.
func ProjectStepsDirectory(projectRoot string) string {
	return filepath.Join(projectRoot, projectMetadataDirectoryNameConstant, "steps")
}

// Store loads task definitions from project-local files and embedded
// templates, resolving single-hop inheritance and caching results by name.
type Store struct {
	logger     *zap.Logger
	templates  fs.FS
	cacheMutex sync.Mutex
	cache      map[string]Definition
}

// NewStore constructs a Store backed by the embedded template definitions.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	templates, subError := fs.Sub(embeddedTemplateDefinitions, embeddedTemplatesDirectoryNameConstant)
	if subError != nil {
		templates = embeddedTemplateDefinitions
	}
	return &Store{
		logger:    logger,
		templates: templates,
		cache:     map[string]Definition{},
	}
}

// Load resolves a definition by name, project-local files taking priority
// over embedded templates. The second return value reports whether a
// definition was found.
func (store *Store) Load(definitionName string, projectRoot string) (Definition, bool) {
	trimmedName := strings.TrimSpace(definitionName)
	if len(trimmedName) == 0 {
		return Definition{}, false
	}

	store.cacheMutex.Lock()
	if cached, present := store.cache[trimmedName]; present {
		store.cacheMutex.Unlock()
		return cached, true
	}
	store.cacheMutex.Unlock()

	definitionsDirectory := ProjectDefinitionsDirectory(projectRoot)
	for _, extension := range []string{yamlExtensionConstant, ymlExtensionConstant} {
		candidatePath := filepath.Join(definitionsDirectory, trimmedName+extension)
		content, readError := os.ReadFile(candidatePath)
		if readError != nil {
			continue
		}
		definition, parseError := store.parseWithInheritance(content, directoryBaseResolver(definitionsDirectory))
		if parseError != nil {
			store.logger.Warn(definitionParseFailureMessageConstant,
				zap.String(definitionFileFieldNameConstant, candidatePath),
				zap.Error(parseError),
			)
			return Definition{}, false
		}
		store.storeInCache(trimmedName, definition)
		return definition, true
	}

	content, templateError := fs.ReadFile(store.templates, trimmedName+yamlExtensionConstant)
	if templateError != nil {
		return Definition{}, false
	}
	definition, parseError := store.parseWithInheritance(content, store.templateBaseResolver())
	if parseError != nil {
		store.logger.Warn(definitionParseFailureMessageConstant,
			zap.String(definitionFileFieldNameConstant, trimmedName+yamlExtensionConstant),
			zap.Error(parseError),
		)
		return Definition{}, false
	}
	store.storeInCache(trimmedName, definition)
	return definition, true
}

// Discover unions project-local and template definitions keyed by name,
// project-local entries winning on collision. Malformed documents are skipped.
func (store *Store) Discover(projectRoot string) []Definition {
	definitionsByName := map[string]Definition{}

	templateEntries, _ := fs.ReadDir(store.templates, ".")
	for _, entry := range templateEntries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), yamlExtensionConstant) {
			continue
		}
		content, readError := fs.ReadFile(store.templates, entry.Name())
		if readError != nil {
			continue
		}
		definition, parseError := store.parseWithInheritance(content, store.templateBaseResolver())
		if parseError != nil {
			store.logger.Warn(definitionParseFailureMessageConstant,
				zap.String(definitionFileFieldNameConstant, entry.Name()),
				zap.Error(parseError),
			)
			continue
		}
		definitionsByName[definition.Name] = definition
	}

	definitionsDirectory := ProjectDefinitionsDirectory(projectRoot)
	projectEntries, _ := os.ReadDir(definitionsDirectory)
	for _, entry := range projectEntries {
		entryName := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(entryName, yamlExtensionConstant) && !strings.HasSuffix(entryName, ymlExtensionConstant)) {
			continue
		}
		entryPath := filepath.Join(definitionsDirectory, entryName)
		content, readError := os.ReadFile(entryPath)
		if readError != nil {
			continue
		}
		definition, parseError := store.parseWithInheritance(content, directoryBaseResolver(definitionsDirectory))
		if parseError != nil {
			store.logger.Warn(definitionParseFailureMessageConstant,
				zap.String(definitionFileFieldNameConstant, entryPath),
				zap.Error(parseError),
			)
			continue
		}
		definitionsByName[definition.Name] = definition
	}

	discovered := make([]Definition, 0, len(definitionsByName))
	for _, definition := range definitionsByName {
		discovered = append(discovered, definition)
	}
	sort.Slice(discovered, func(firstIndex int, secondIndex int) bool {
		return discovered[firstIndex].Name < discovered[secondIndex].Name
	})
	return discovered
}

func (store *Store) storeInCache(definitionName string, definition Definition) {
	store.cacheMutex.Lock()
	defer store.cacheMutex.Unlock()
	store.cache[definitionName] = definition
}

type baseDefinitionResolver func(baseName string) ([]byte, bool)

// parseWithInheritance parses a document, applying a single-hop extends merge.
// Base definitions resolve only next to the child document; an unresolved
// base is logged and the child proceeds unmerged.
func (store *Store) parseWithInheritance(content []byte, resolveBase baseDefinitionResolver) (Definition, error) {
	var rawDocument map[string]any
	if unmarshalError := yaml.Unmarshal(content, &rawDocument); unmarshalError != nil {
		return Definition{}, unmarshalError
	}
	if rawDocument == nil {
		return ParseDefinition(content)
	}

	baseName, _ := rawDocument["extends"].(string)
	baseName = strings.TrimSpace(baseName)
	if len(baseName) == 0 {
		return ParseDefinition(content)
	}

	baseContent, baseFound := resolveBase(baseName)
	if !baseFound {
		store.logger.Warn(baseDefinitionMissingMessageConstant,
			zap.String(baseDefinitionFieldNameConstant, baseName),
		)
		return ParseDefinition(content)
	}

	var baseDocument map[string]any
	if unmarshalError := yaml.Unmarshal(baseContent, &baseDocument); unmarshalError != nil {
		store.logger.Warn(baseDefinitionMissingMessageConstant,
			zap.String(baseDefinitionFieldNameConstant, baseName),
			zap.Error(unmarshalError),
		)
		return ParseDefinition(content)
	}

	mergedDocument := mergeDefinitionDocuments(baseDocument, rawDocument)
	mergedContent, marshalError := yaml.Marshal(mergedDocument)
	if marshalError != nil {
		return Definition{}, marshalError
	}
	return ParseDefinition(mergedContent)
}

func directoryBaseResolver(definitionsDirectory string) baseDefinitionResolver {
	return func(baseName string) ([]byte, bool) {
		for _, extension := range []string{yamlExtensionConstant, ymlExtensionConstant} {
			content, readError := os.ReadFile(filepath.Join(definitionsDirectory, baseName+extension))
			if readError == nil {
				return content, true
			}
		}
		return nil, false
	}
}

func (store *Store) templateBaseResolver() baseDefinitionResolver {
	return func(baseName string) ([]byte, bool) {
		content, readError := fs.ReadFile(store.templates, baseName+yamlExtensionConstant)
		if readError != nil {
			return nil, false
		}
		return content, true
	}
}
