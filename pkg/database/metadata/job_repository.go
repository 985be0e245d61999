package metadata

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobRepository handles database operations for scheduled jobs
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository instance
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// GetAllJobs retrieves all jobs with their server
func (r *JobRepository) GetAllJobs() ([]Job, error) {
	var jobs []Job
	if err := r.db.Preload("Server").Order("name").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to get jobs: %w", err)
	}
	return jobs, nil
}

// GetJobByID retrieves a job with its server and storage profile
func (r *JobRepository) GetJobByID(id string) (*Job, error) {
	var job Job
	err := r.db.Preload("Server").Preload("StorageProfile").Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// DueJobs retrieves enabled jobs whose next run is at or before now
func (r *JobRepository) DueJobs(now time.Time) ([]Job, error) {
	var jobs []Job
	err := r.db.Where("enabled = ? AND next_run <= ?", true, now).Order("next_run").Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get due jobs: %w", err)
	}
	return jobs, nil
}

// SaveJob creates the job when it has no ID and updates it otherwise.
// The caller is responsible for having computed NextRun.
func (r *JobRepository) SaveJob(job *Job) error {
	now := time.Now()
	job.UpdatedAt = now
	if job.ID == "" {
		job.ID = uuid.New().String()
		job.CreatedAt = now
		if err := r.db.Omit("Server", "StorageProfile").Create(job).Error; err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return nil
	}
	// run state belongs to the pipeline; a stale copy must not overwrite it
	if err := r.db.Omit("Server", "StorageProfile", "ClaimedAt", "LastRun").Save(job).Error; err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// UpdateStorageCache persists the merged destination settings on the job
func (r *JobRepository) UpdateStorageCache(id string, s StorageSettings) error {
	err := r.db.Model(&Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"storage_kind":             s.Kind,
		"storage_host":             s.Host,
		"storage_port":             s.Port,
		"storage_username":         s.Username,
		"storage_password":         s.Password,
		"storage_path":             s.Path,
		"storage_key_file":         s.KeyFile,
		"storage_credentials_file": s.CredentialsFile,
		"storage_folder_id":        s.FolderID,
		"storage_bucket":           s.Bucket,
		"storage_region":           s.Region,
		"storage_endpoint":         s.Endpoint,
		"storage_path_style":       s.PathStyle,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update job storage settings: %w", err)
	}
	return nil
}

// UpdateRunTimes records an execution and the recomputed next run
func (r *JobRepository) UpdateRunTimes(id string, lastRun, nextRun time.Time) error {
	err := r.db.Model(&Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_run": lastRun,
		"next_run": nextRun,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update job run times: %w", err)
	}
	return nil
}

// SetEnabled flips the enabled flag and stores the next run
func (r *JobRepository) SetEnabled(id string, enabled bool, nextRun time.Time) error {
	res := r.db.Model(&Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"enabled":  enabled,
		"next_run": nextRun,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteJob deletes a job and detaches its history records
func (r *JobRepository) DeleteJob(id string) error {
	tx := r.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	if err := tx.Model(&HistoryRecord{}).Where("job_id = ?", id).Update("job_id", nil).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to detach job history: %w", err)
	}

	res := tx.Where("id = ?", id).Delete(&Job{})
	if res.Error != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Claim marks the job as running unless another worker holds an unexpired claim.
// It returns false when the claim is held elsewhere.
func (r *JobRepository) Claim(id string, now time.Time, expiry time.Duration) (bool, error) {
	res := r.db.Model(&Job{}).
		Where("id = ? AND (claimed_at IS NULL OR claimed_at < ?)", id, now.Add(-expiry)).
		Update("claimed_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim job: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release clears the claim taken by Claim
func (r *JobRepository) Release(id string) error {
	if err := r.db.Model(&Job{}).Where("id = ?", id).Update("claimed_at", nil).Error; err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}
