package metadata

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StorageRepository handles database operations for storage profiles
type StorageRepository struct {
	db *gorm.DB
}

// NewStorageRepository creates a new StorageRepository instance
func NewStorageRepository(db *gorm.DB) *StorageRepository {
	return &StorageRepository{db: db}
}

// GetAllProfiles retrieves all storage profiles, default first
func (r *StorageRepository) GetAllProfiles() ([]StorageProfile, error) {
	var profiles []StorageProfile
	if err := r.db.Order("is_default DESC, name").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("failed to get storage profiles: %w", err)
	}
	return profiles, nil
}

// GetProfileByID retrieves a storage profile
func (r *StorageRepository) GetProfileByID(id string) (*StorageProfile, error) {
	var profile StorageProfile
	err := r.db.Where("id = ?", id).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("storage profile %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get storage profile: %w", err)
	}
	return &profile, nil
}

// SaveProfile creates or updates a profile. Saving a default profile goes
// through SetDefault so at most one default exists.
func (r *StorageRepository) SaveProfile(profile *StorageProfile) error {
	makeDefault := profile.IsDefault
	profile.IsDefault = false

	now := time.Now()
	profile.UpdatedAt = now
	if profile.ID == "" {
		profile.ID = uuid.New().String()
		profile.CreatedAt = now
		if err := r.db.Create(profile).Error; err != nil {
			return fmt.Errorf("failed to create storage profile: %w", err)
		}
	} else if err := r.db.Save(profile).Error; err != nil {
		return fmt.Errorf("failed to update storage profile: %w", err)
	}

	if makeDefault {
		if err := r.SetDefault(profile.ID); err != nil {
			return err
		}
		profile.IsDefault = true
	}
	return nil
}

// SetDefault makes id the only default profile in a single transaction
func (r *StorageRepository) SetDefault(id string) error {
	tx := r.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	if err := tx.Model(&StorageProfile{}).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear default storage profile: %w", err)
	}

	res := tx.Model(&StorageProfile{}).Where("id = ?", id).Update("is_default", true)
	if res.Error != nil {
		tx.Rollback()
		return fmt.Errorf("failed to set default storage profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return fmt.Errorf("storage profile %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteProfile deletes a storage profile; jobs referencing it fall back to their inline settings
func (r *StorageRepository) DeleteProfile(id string) error {
	res := r.db.Where("id = ?", id).Delete(&StorageProfile{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete storage profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage profile %s: %w", id, ErrNotFound)
	}
	return nil
}
