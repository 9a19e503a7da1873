// Package events persists run lifecycle events in a SQLite database.
package events

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	databaseFileNameConstant        = "prj.db"
	projectStateDirectoryConstant   = ".prj"
	sqliteDriverNameConstant        = "sqlite"
	openDatabaseErrorTemplate       = "open sqlite %s: %w"
	createSchemaErrorTemplate       = "create schema: %w"
	insertRunErrorTemplate          = "insert run: %w"
	updateRunErrorTemplate          = "update run: %w"
	insertArtifactErrorTemplate     = "insert artifact: %w"
	listRunsErrorTemplate           = "list runs: %w"
	runIdentifierRequiredMessage    = "run identifier required"
	databasePathRequiredMessage     = "database path required"
	recorderRunNotFoundTemplate     = "run %s not found"
)

const recorderSchemaConstant = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	task_name    TEXT NOT NULL,
	project_path TEXT NOT NULL,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL,
	ended_at     DATETIME
);
CREATE TABLE IF NOT EXISTS artifacts (
	run_id      TEXT NOT NULL,
	category    TEXT NOT NULL,
	path        TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);
`

// RunRecord describes one persisted run row.
type RunRecord struct {
	ID          string
	TaskName    string
	ProjectPath string
	Status      string
	Error       string
	StartedAt   time.Time
	EndedAt     *time.Time
}

// ArtifactRecord describes one persisted artifact row.
type ArtifactRecord struct {
	RunID      string
	Category   string
	Path       string
	RecordedAt time.Time
}

// Recorder persists run events in SQLite. Writes are serialized through a
// single connection.
type Recorder struct {
	database *sql.DB
	logger   *zap.Logger
}

// DefaultDatabasePath returns the project-local database location.
func DefaultDatabasePath(projectRoot string) string {
	return filepath.Join(projectRoot, projectStateDirectoryConstant, databaseFileNameConstant)
}

// NewRecorder opens (or creates) the database at databasePath and ensures the
// schema exists. The caller is responsible for calling Close.
func NewRecorder(databasePath string, logger *zap.Logger) (*Recorder, error) {
	trimmedPath := strings.TrimSpace(databasePath)
	if len(trimmedPath) == 0 {
		return nil, errors.New(databasePathRequiredMessage)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	database, openError := sql.Open(sqliteDriverNameConstant, trimmedPath)
	if openError != nil {
		return nil, fmt.Errorf(openDatabaseErrorTemplate, trimmedPath, openError)
	}
	database.SetMaxOpenConns(1) // prevent SQLITE_BUSY

	if _, schemaError := database.Exec(recorderSchemaConstant); schemaError != nil {
		_ = database.Close()
		return nil, fmt.Errorf(createSchemaErrorTemplate, schemaError)
	}
	return &Recorder{database: database, logger: logger}, nil
}

// Close releases the underlying database connection.
func (recorder *Recorder) Close() error {
	return recorder.database.Close()
}

// RecordStart persists the beginning of a run.
func (recorder *Recorder) RecordStart(runIdentifier string, taskName string, projectPath string) error {
	trimmedIdentifier := strings.TrimSpace(runIdentifier)
	if len(trimmedIdentifier) == 0 {
		return errors.New(runIdentifierRequiredMessage)
	}

	_, insertError := recorder.database.Exec(
		`INSERT INTO runs (id, task_name, project_path, status, started_at) VALUES (?,?,?,?,?)`,
		trimmedIdentifier, taskName, projectPath, "active", time.Now().UTC(),
	)
	if insertError != nil {
		return fmt.Errorf(insertRunErrorTemplate, insertError)
	}
	return nil
}

// RecordEnd persists the terminal status of a run.
func (recorder *Recorder) RecordEnd(runIdentifier string, status string, runError string) error {
	trimmedIdentifier := strings.TrimSpace(runIdentifier)
	if len(trimmedIdentifier) == 0 {
		return errors.New(runIdentifierRequiredMessage)
	}

	result, updateError := recorder.database.Exec(
		`UPDATE runs SET status=?, error=?, ended_at=? WHERE id=?`,
		status, runError, time.Now().UTC(), trimmedIdentifier,
	)
	if updateError != nil {
		return fmt.Errorf(updateRunErrorTemplate, updateError)
	}
	affectedRows, affectedError := result.RowsAffected()
	if affectedError != nil {
		return affectedError
	}
	if affectedRows == 0 {
		return fmt.Errorf(recorderRunNotFoundTemplate, trimmedIdentifier)
	}
	return nil
}

// RecordArtifact persists a pointer to an artifact produced by a run.
func (recorder *Recorder) RecordArtifact(runIdentifier string, category string, artifactPath string) error {
	trimmedIdentifier := strings.TrimSpace(runIdentifier)
	if len(trimmedIdentifier) == 0 {
		return errors.New(runIdentifierRequiredMessage)
	}

	_, insertError := recorder.database.Exec(
		`INSERT INTO artifacts (run_id, category, path, recorded_at) VALUES (?,?,?,?)`,
		trimmedIdentifier, category, artifactPath, time.Now().UTC(),
	)
	if insertError != nil {
		return fmt.Errorf(insertArtifactErrorTemplate, insertError)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (recorder *Recorder) ListRuns(limit int) ([]RunRecord, error) {
	query := `SELECT id, task_name, project_path, status, error, started_at, ended_at FROM runs ORDER BY started_at DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}

	rows, queryError := recorder.database.Query(query)
	if queryError != nil {
		return nil, fmt.Errorf(listRunsErrorTemplate, queryError)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		var endedAt sql.NullTime
		scanError := rows.Scan(&record.ID, &record.TaskName, &record.ProjectPath, &record.Status, &record.Error, &record.StartedAt, &endedAt)
		if scanError != nil {
			return nil, scanError
		}
		if endedAt.Valid {
			record.EndedAt = &endedAt.Time
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListArtifacts returns the artifacts recorded for a run in insertion order.
func (recorder *Recorder) ListArtifacts(runIdentifier string) ([]ArtifactRecord, error) {
	rows, queryError := recorder.database.Query(
		`SELECT run_id, category, path, recorded_at FROM artifacts WHERE run_id=? ORDER BY recorded_at ASC`,
		strings.TrimSpace(runIdentifier),
	)
	if queryError != nil {
		return nil, queryError
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []ArtifactRecord
	for rows.Next() {
		var record ArtifactRecord
		scanError := rows.Scan(&record.RunID, &record.Category, &record.Path, &record.RecordedAt)
		if scanError != nil {
			return nil, scanError
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
