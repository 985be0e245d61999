package metadata

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrAlreadyClosed is returned when completing a record that is no longer pending
var ErrAlreadyClosed = errors.New("history record already closed")

// HistoryFilter narrows ListHistory
type HistoryFilter struct {
	JobID    string
	ServerID string
	Status   string
	Limit    int
}

// Completion is the terminal update of a history record
type Completion struct {
	Status       string
	FilePath     string
	FileSize     int64
	Description  string
	ErrorMessage string
	CompletedAt  time.Time
}

// HistoryRepository handles database operations for backup and restore history
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new HistoryRepository instance
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// CreatePending inserts a pending record
func (r *HistoryRepository) CreatePending(rec *HistoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Kind == "" {
		rec.Kind = KindBackup
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	rec.Status = StatusPending
	rec.CompletedAt = nil
	if err := r.db.Omit("Server").Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create history record: %w", err)
	}
	return nil
}

// Complete closes a pending record. A record can only be closed once.
func (r *HistoryRepository) Complete(id string, c Completion) error {
	res := r.db.Model(&HistoryRecord{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]interface{}{
			"status":        c.Status,
			"file_path":     c.FilePath,
			"file_size":     c.FileSize,
			"description":   c.Description,
			"error_message": c.ErrorMessage,
			"completed_at":  c.CompletedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete history record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("history %s: %w", id, ErrAlreadyClosed)
	}
	return nil
}

// GetByID retrieves a history record
func (r *HistoryRepository) GetByID(id string) (*HistoryRecord, error) {
	var rec HistoryRecord
	err := r.db.Preload("Server").Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("history %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}
	return &rec, nil
}

// ListHistory returns records newest first
func (r *HistoryRepository) ListHistory(f HistoryFilter) ([]HistoryRecord, error) {
	q := r.db.Model(&HistoryRecord{})
	if f.JobID != "" {
		q = q.Where("job_id = ?", f.JobID)
	}
	if f.ServerID != "" {
		q = q.Where("server_id = ?", f.ServerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var records []HistoryRecord
	if err := q.Order("started_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return records, nil
}

// HasPending reports whether the job has a record still pending
func (r *HistoryRepository) HasPending(jobID string) (bool, error) {
	var count int64
	err := r.db.Model(&HistoryRecord{}).
		Where("job_id = ? AND status = ?", jobID, StatusPending).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check pending history: %w", err)
	}
	return count > 0, nil
}

// StartedSince reports whether the job has a record started at or after since
func (r *HistoryRepository) StartedSince(jobID string, since time.Time) (bool, error) {
	var count int64
	err := r.db.Model(&HistoryRecord{}).
		Where("job_id = ? AND started_at >= ?", jobID, since).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check recent history: %w", err)
	}
	return count > 0, nil
}

// SuccessfulBackups returns the server's successful backup records, newest completion first
func (r *HistoryRepository) SuccessfulBackups(serverID string) ([]HistoryRecord, error) {
	var records []HistoryRecord
	err := r.db.Where("server_id = ? AND status = ? AND kind = ?", serverID, StatusSuccess, KindBackup).
		Order("completed_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get successful backups: %w", err)
	}
	return records, nil
}

// Delete removes a history record
func (r *HistoryRepository) Delete(id string) error {
	res := r.db.Where("id = ?", id).Delete(&HistoryRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete history record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("history %s: %w", id, ErrNotFound)
	}
	return nil
}

// ExistsForPath reports whether any record references the artifact path
func (r *HistoryRepository) ExistsForPath(path string) (bool, error) {
	var count int64
	if err := r.db.Model(&HistoryRecord{}).Where("file_path = ?", path).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check history path: %w", err)
	}
	return count > 0, nil
}

// Import inserts already-closed records, used by history recovery
func (r *HistoryRepository) Import(records []HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx := r.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = uuid.New().String()
		}
		if err := tx.Omit("Server").Create(&records[i]).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to import history record %s: %w", records[i].FilePath, err)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
