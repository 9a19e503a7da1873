// Package artifacts manages per-run artifact directories on disk.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	artifactsDirectoryNameConstant   = "artifacts"
	projectStateDirectoryConstant    = ".prj"
	logsCategoryConstant             = "logs"
	outputsCategoryConstant          = "outputs"
	specsCategoryConstant            = "specs"
	directoryPermissionsConstant     = 0o755
	filePermissionsConstant          = 0o644
	sessionIdentifierRequiredMessage = "session identifier required"
	fileNameRequiredMessage          = "file name required"
	unknownCategoryTemplate          = "unknown artifact category: %s"
	createDirectoryErrorTemplate     = "create artifact directory %s: %w"
	writeArtifactErrorTemplate       = "write artifact %s: %w"
)

// Categories enumerates the artifact subdirectories created for every run.
var Categories = []string{logsCategoryConstant, outputsCategoryConstant, specsCategoryConstant}

// Store creates and writes into per-run artifact directories.
type Store struct {
	rootDirectory string
}

// NewStore constructs a Store rooted at the project-local artifacts directory.
func NewStore(projectRoot string) *Store {
	return &Store{rootDirectory: filepath.Join(projectRoot, projectStateDirectoryConstant, artifactsDirectoryNameConstant)}
}

// SessionDirectory returns the directory reserved for one run.
func (store *Store) SessionDirectory(sessionIdentifier string) string {
	return filepath.Join(store.rootDirectory, sessionIdentifier)
}

// CreateSession creates the run directory and its category subdirectories,
// returning the run directory path.
func (store *Store) CreateSession(sessionIdentifier string) (string, error) {
	trimmedIdentifier := strings.TrimSpace(sessionIdentifier)
	if len(trimmedIdentifier) == 0 {
		return "", errors.New(sessionIdentifierRequiredMessage)
	}

	sessionDirectory := store.SessionDirectory(trimmedIdentifier)
	for _, category := range Categories {
		categoryDirectory := filepath.Join(sessionDirectory, category)
		if creationError := os.MkdirAll(categoryDirectory, directoryPermissionsConstant); creationError != nil {
			return "", fmt.Errorf(createDirectoryErrorTemplate, categoryDirectory, creationError)
		}
	}
	return sessionDirectory, nil
}

// StoreContent writes content into a category subdirectory of the run and
// returns the written file path.
func (store *Store) StoreContent(sessionIdentifier string, category string, fileName string, content []byte) (string, error) {
	trimmedFileName := strings.TrimSpace(fileName)
	if len(trimmedFileName) == 0 {
		return "", errors.New(fileNameRequiredMessage)
	}
	if !isKnownCategory(category) {
		return "", fmt.Errorf(unknownCategoryTemplate, category)
	}

	sessionDirectory, sessionError := store.CreateSession(sessionIdentifier)
	if sessionError != nil {
		return "", sessionError
	}

	artifactPath := filepath.Join(sessionDirectory, category, trimmedFileName)
	if writeError := os.WriteFile(artifactPath, content, filePermissionsConstant); writeError != nil {
		return "", fmt.Errorf(writeArtifactErrorTemplate, artifactPath, writeError)
	}
	return artifactPath, nil
}

// ListSessions enumerates run directories, most recently named last.
func (store *Store) ListSessions() ([]string, error) {
	entries, readError := os.ReadDir(store.rootDirectory)
	if readError != nil {
		if os.IsNotExist(readError) {
			return nil, nil
		}
		return nil, readError
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			sessions = append(sessions, entry.Name())
		}
	}
	return sessions, nil
}

func isKnownCategory(category string) bool {
	for _, knownCategory := range Categories {
		if category == knownCategory {
			return true
		}
	}
	return false
}
