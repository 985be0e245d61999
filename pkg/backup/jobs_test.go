package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

func intPtr(i int) *int { return &i }

func TestSaveJob_ComputesNextRun(t *testing.T) {
	f := newFixture(t)
	job := &metadata.Job{Name: " weekly ", ServerID: "s1", Frequency: metadata.FrequencyWeekly, DayOfWeek: intPtr(int(time.Monday))}

	require.NoError(t, f.m.SaveJob(job))

	assert.Equal(t, "weekly", job.Name)
	assert.Equal(t, "01:00", job.TimeOfDay)
	// 2024-03-10 is a Sunday
	assert.Equal(t, time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC), job.NextRun)
	assert.Contains(t, f.store.jobs, job.ID)
}

func TestSaveJob_RejectsUnschedulableMonthly(t *testing.T) {
	f := newFixture(t)
	f.m.monthlyLimit = 1
	f.now = time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	job := &metadata.Job{Name: "eom", ServerID: "s1", Frequency: metadata.FrequencyMonthly, DayOfMonth: intPtr(31)}

	err := f.m.SaveJob(job)
	require.Error(t, err)
	assert.Equal(t, outcome.Scheduling, outcome.KindOf(err))
	assert.NotContains(t, f.store.jobs, "new-job")
}

func TestSaveJob_Validation(t *testing.T) {
	f := newFixture(t)

	err := f.m.SaveJob(&metadata.Job{ServerID: "s1", Frequency: metadata.FrequencyDaily})
	assert.Equal(t, outcome.Configuration, outcome.KindOf(err))

	err = f.m.SaveJob(&metadata.Job{Name: "x", Frequency: metadata.FrequencyDaily})
	assert.Equal(t, outcome.Configuration, outcome.KindOf(err))

	err = f.m.SaveJob(&metadata.Job{Name: "x", ServerID: "s1", Frequency: "hourly"})
	assert.Equal(t, outcome.Configuration, outcome.KindOf(err))
}

func TestToggleJob(t *testing.T) {
	f := newFixture(t)
	f.store.jobs["j1"].NextRun = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	enabled, err := f.m.ToggleJob("j1")
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.False(t, f.store.jobs["j1"].Enabled)

	enabled, err = f.m.ToggleJob("j1")
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC), f.store.jobs["j1"].NextRun)

	_, err = f.m.ToggleJob("missing")
	assert.Equal(t, outcome.NotFound, outcome.KindOf(err))
}

func TestDeleteJob_DetachesHistory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.RunJob(context.Background(), "j1", Manual))

	require.NoError(t, f.m.DeleteJob("j1"))

	assert.NotContains(t, f.store.jobs, "j1")
	require.Len(t, f.store.history, 1)
	assert.Nil(t, f.store.history[0].JobID)

	assert.Equal(t, outcome.NotFound, outcome.KindOf(f.m.DeleteJob("j1")))
}

func TestDeleteHistory_RemovesArtifact(t *testing.T) {
	f := newFixture(t)
	artifact := filepath.Join(f.m.backupDir, "a.sql")
	require.NoError(t, os.WriteFile(artifact, []byte("dump"), 0o644))
	f.store.history = append(f.store.history, &metadata.HistoryRecord{
		ID: "h1", ServerID: "s1", Kind: metadata.KindBackup, Status: metadata.StatusSuccess, FilePath: artifact,
	})

	require.NoError(t, f.m.DeleteHistory("h1", true))

	assert.Empty(t, f.store.history)
	assert.NoFileExists(t, artifact)
}

func TestDeleteHistory_RestoreKeepsSourceFile(t *testing.T) {
	f := newFixture(t)
	artifact := filepath.Join(f.m.backupDir, "a.sql")
	require.NoError(t, os.WriteFile(artifact, []byte("dump"), 0o644))
	f.store.history = append(f.store.history, &metadata.HistoryRecord{
		ID: "r1", ServerID: "s1", Kind: metadata.KindRestore, Status: metadata.StatusSuccess, FilePath: artifact,
	})

	require.NoError(t, f.m.DeleteHistory("r1", true))

	assert.FileExists(t, artifact)
	assert.Equal(t, outcome.NotFound, outcome.KindOf(f.m.DeleteHistory("r1", false)))
}

func TestSetDefaultStorageProfile(t *testing.T) {
	f := newFixture(t)
	f.store.profiles["a"] = &metadata.StorageProfile{ID: "a", IsDefault: true}
	f.store.profiles["b"] = &metadata.StorageProfile{ID: "b"}

	require.NoError(t, f.m.SetDefaultStorageProfile("b"))
	assert.False(t, f.store.profiles["a"].IsDefault)
	assert.True(t, f.store.profiles["b"].IsDefault)

	assert.Equal(t, outcome.NotFound, outcome.KindOf(f.m.SetDefaultStorageProfile("zzz")))
}

func TestTestServer_RecordsHealth(t *testing.T) {
	f := newFixture(t)

	result := f.m.TestServer(context.Background(), "s1")
	assert.True(t, result.OK())
	assert.True(t, f.store.health["s1"])

	f.engine.probe = outcome.Fail(outcome.Connectivity, "Port 3306 on db is closed")
	result = f.m.TestServer(context.Background(), "s1")
	assert.False(t, result.OK())
	assert.False(t, f.store.health["s1"])

	result = f.m.TestServer(context.Background(), "nope")
	assert.Equal(t, "Server nope not found", result.Text())
}

func TestRestoreFrom_Success(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.m.backupDir, "20240310_010000_prod_nightly.sql")
	f.store.history = append(f.store.history, &metadata.HistoryRecord{
		ID: "h0", ServerID: "s1", Kind: metadata.KindBackup, Status: metadata.StatusSuccess, FilePath: src,
	})

	id, err := f.m.RestoreFrom("h0")
	require.NoError(t, err)

	assert.Equal(t, src, f.engine.restored)
	rec := f.store.find(id)
	require.NotNil(t, rec)
	assert.Equal(t, metadata.KindRestore, rec.Kind)
	assert.Nil(t, rec.JobID)
	assert.Equal(t, metadata.StatusSuccess, rec.Status)
	assert.Equal(t, src, rec.FilePath)
	assert.Equal(t, "Restore from 20240310_010000_prod_nightly.sql: Restore completed", rec.Description)
}

func TestRestoreFrom_FailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.engine.restore = outcome.Fail(outcome.Precondition, "Backup file not found: /gone.sql")
	f.store.history = append(f.store.history, &metadata.HistoryRecord{
		ID: "h0", ServerID: "s1", Kind: metadata.KindBackup, Status: metadata.StatusSuccess, FilePath: "/gone.sql",
	})

	id, err := f.m.RestoreFrom("h0")
	require.NoError(t, err)

	rec := f.store.find(id)
	assert.Equal(t, metadata.StatusError, rec.Status)
	assert.Equal(t, "Backup file not found: /gone.sql", rec.ErrorMessage)
}

func TestRestoreFrom_Preconditions(t *testing.T) {
	f := newFixture(t)
	f.store.history = append(f.store.history,
		&metadata.HistoryRecord{ID: "failed", ServerID: "s1", Kind: metadata.KindBackup, Status: metadata.StatusError, FilePath: "/x.sql"},
		&metadata.HistoryRecord{ID: "nofile", ServerID: "s1", Kind: metadata.KindBackup, Status: metadata.StatusSuccess},
		&metadata.HistoryRecord{ID: "restore", ServerID: "s1", Kind: metadata.KindRestore, Status: metadata.StatusSuccess, FilePath: "/x.sql"},
	)

	for _, id := range []string{"failed", "nofile", "restore"} {
		_, err := f.m.RestoreFrom(id)
		assert.Equal(t, outcome.Precondition, outcome.KindOf(err), id)
	}
	_, err := f.m.RestoreFrom("missing")
	assert.Equal(t, outcome.NotFound, outcome.KindOf(err))
	assert.Len(t, f.store.history, 3)
}

func TestRestoreFrom_ClosedWhenPoolIsShutDown(t *testing.T) {
	f := newFixture(t)
	f.pool.closed = true
	f.store.history = append(f.store.history, &metadata.HistoryRecord{
		ID: "h0", ServerID: "s1", Kind: metadata.KindBackup, Status: metadata.StatusSuccess, FilePath: "/x.sql",
	})

	id, err := f.m.RestoreFrom("h0")
	require.NoError(t, err)

	rec := f.store.find(id)
	assert.Equal(t, metadata.StatusError, rec.Status)
	assert.Empty(t, f.engine.restored)
}
