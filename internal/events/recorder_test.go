package events_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/prunejuice/internal/events"
)

func newTestRecorder(testInstance *testing.T) *events.Recorder {
	testInstance.Helper()
	recorder, creationError := events.NewRecorder(filepath.Join(testInstance.TempDir(), "prj.db"), zap.NewNop())
	require.NoError(testInstance, creationError)
	testInstance.Cleanup(func() {
		require.NoError(testInstance, recorder.Close())
	})
	return recorder
}

func TestNewRecorderRequiresDatabasePath(testInstance *testing.T) {
	_, creationError := events.NewRecorder(" ", zap.NewNop())
	require.Error(testInstance, creationError)
}

func TestRecorderPersistsRunLifecycle(testInstance *testing.T) {
	recorder := newTestRecorder(testInstance)

	require.NoError(testInstance, recorder.RecordStart("run-1", "gather-project-context", "/work/sample"))
	require.NoError(testInstance, recorder.RecordEnd("run-1", "completed", ""))

	records, listError := recorder.ListRuns(0)
	require.NoError(testInstance, listError)
	require.Len(testInstance, records, 1)
	require.Equal(testInstance, "gather-project-context", records[0].TaskName)
	require.Equal(testInstance, "completed", records[0].Status)
	require.NotNil(testInstance, records[0].EndedAt)
}

func TestRecordEndReportsUnknownRun(testInstance *testing.T) {
	recorder := newTestRecorder(testInstance)
	require.Error(testInstance, recorder.RecordEnd("unknown", "failed", "boom"))
}

func TestRecorderPersistsArtifacts(testInstance *testing.T) {
	recorder := newTestRecorder(testInstance)

	require.NoError(testInstance, recorder.RecordStart("run-2", "feature-branch-workflow", "/work/sample"))
	require.NoError(testInstance, recorder.RecordArtifact("run-2", "outputs", "/artifacts/run-2/outputs/context.json"))
	require.NoError(testInstance, recorder.RecordArtifact("run-2", "logs", "/artifacts/run-2/logs/step-1.log"))

	artifacts, listError := recorder.ListArtifacts("run-2")
	require.NoError(testInstance, listError)
	require.Len(testInstance, artifacts, 2)
	require.Equal(testInstance, "outputs", artifacts[0].Category)
}

func TestListRunsHonorsLimitAndOrder(testInstance *testing.T) {
	recorder := newTestRecorder(testInstance)

	require.NoError(testInstance, recorder.RecordStart("run-a", "first", "/work"))
	require.NoError(testInstance, recorder.RecordStart("run-b", "second", "/work"))

	records, listError := recorder.ListRuns(1)
	require.NoError(testInstance, listError)
	require.Len(testInstance, records, 1)
}

func TestDefaultDatabasePathIsProjectLocal(testInstance *testing.T) {
	require.Equal(testInstance, filepath.Join("/work/sample", ".prj", "prj.db"), events.DefaultDatabasePath("/work/sample"))
}
