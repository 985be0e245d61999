package backup

import (
	"context"
	"errors"
	"strings"

	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
	"github.com/supporttools/GoSQLKeeper/pkg/scheduler"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/local"
)

// ListJobs lists every job
func (m *Manager) ListJobs() ([]metadata.Job, error) {
	return m.Jobs.GetAllJobs()
}

// GetJob returns one job with its server and storage profile
func (m *Manager) GetJob(jobID string) (*metadata.Job, error) {
	return m.loadJob(jobID)
}

// ListHistory lists history records matching f
func (m *Manager) ListHistory(f metadata.HistoryFilter) ([]metadata.HistoryRecord, error) {
	return m.History.ListHistory(f)
}

// ListStorageProfiles lists every storage profile
func (m *Manager) ListStorageProfiles() ([]metadata.StorageProfile, error) {
	return m.Storage.GetAllProfiles()
}

// SaveJob validates the schedule of job, computes its next run and persists it.
// A job whose next run cannot be computed is not saved.
func (m *Manager) SaveJob(job *metadata.Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return outcome.Fail(outcome.Configuration, "Job name is required")
	}
	if job.ServerID == "" {
		return outcome.Fail(outcome.Configuration, "Job %q has no server", job.Name)
	}
	if job.TimeOfDay == "" {
		job.TimeOfDay = "01:00"
	}

	next, err := scheduler.NextRun(job, m.now(), m.location, m.monthlyLimit)
	if err != nil {
		return err
	}
	job.NextRun = next
	return m.Jobs.SaveJob(job)
}

// ToggleJob flips the enabled flag of a job and returns the new value.
// Enabling recomputes the next run.
func (m *Manager) ToggleJob(jobID string) (bool, error) {
	job, err := m.loadJob(jobID)
	if err != nil {
		return false, err
	}

	enabled := !job.Enabled
	next := job.NextRun
	if enabled {
		next, err = scheduler.NextRun(job, m.now(), m.location, m.monthlyLimit)
		if err != nil {
			return false, err
		}
	}
	if err := m.Jobs.SetEnabled(job.ID, enabled, next); err != nil {
		return false, err
	}
	return enabled, nil
}

// DeleteJob removes a job. Its history stays, detached from the job.
func (m *Manager) DeleteJob(jobID string) error {
	err := m.Jobs.DeleteJob(jobID)
	if errors.Is(err, metadata.ErrNotFound) {
		return outcome.Fail(outcome.NotFound, "Job %s not found", jobID)
	}
	return err
}

// DeleteHistory removes a history record and, when deleteFile is set, its
// local artifact. A missing file is ignored.
func (m *Manager) DeleteHistory(historyID string, deleteFile bool) error {
	rec, err := m.History.GetByID(historyID)
	if errors.Is(err, metadata.ErrNotFound) {
		return outcome.Fail(outcome.NotFound, "History record %s not found", historyID)
	}
	if err != nil {
		return err
	}

	if deleteFile && rec.Kind == metadata.KindBackup {
		if err := local.DeleteArtifact(rec.FilePath); err != nil {
			return outcome.Wrap(outcome.Internal, err, "")
		}
	}
	return m.History.Delete(rec.ID)
}

// SetDefaultStorageProfile makes id the only default profile
func (m *Manager) SetDefaultStorageProfile(id string) error {
	err := m.Storage.SetDefault(id)
	if errors.Is(err, metadata.ErrNotFound) {
		return outcome.Fail(outcome.NotFound, "Storage profile %s not found", id)
	}
	return err
}

// TestServer probes a saved server and records its health
func (m *Manager) TestServer(ctx context.Context, serverID string) outcome.Outcome {
	server, err := m.Servers.GetServerByID(serverID)
	if errors.Is(err, metadata.ErrNotFound) {
		return outcome.Fail(outcome.NotFound, "Server %s not found", serverID)
	}
	if err != nil {
		return outcome.FromError(err)
	}

	result := m.Engine.TestConnection(ctx, connection.FromProfile(server))
	if err := m.Servers.UpdateHealth(server.ID, result.OK(), result.Text(), m.now()); err != nil {
		return outcome.Wrap(outcome.Internal, err, "Saving server health")
	}
	return result
}

// TestParams probes an unsaved server definition
func (m *Manager) TestParams(ctx context.Context, p connection.Params) outcome.Outcome {
	return m.Engine.TestConnection(ctx, p)
}
