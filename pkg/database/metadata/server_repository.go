package metadata

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is wrapped by every repository lookup that finds no row
var ErrNotFound = errors.New("record not found")

// ServerRepository handles database operations for server profiles
type ServerRepository struct {
	db *gorm.DB
}

// NewServerRepository creates a new ServerRepository instance
func NewServerRepository(db *gorm.DB) *ServerRepository {
	return &ServerRepository{db: db}
}

// GetAllServers retrieves all server profiles ordered by name
func (r *ServerRepository) GetAllServers() ([]ServerProfile, error) {
	var servers []ServerProfile
	if err := r.db.Order("name").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("failed to get servers: %w", err)
	}
	return servers, nil
}

// GetServerByID retrieves a server profile by ID
func (r *ServerRepository) GetServerByID(id string) (*ServerProfile, error) {
	var server ServerProfile
	err := r.db.Where("id = ?", id).First(&server).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("server %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return &server, nil
}

// SaveServer creates the profile when it has no ID and updates it otherwise
func (r *ServerRepository) SaveServer(server *ServerProfile) error {
	now := time.Now()
	server.UpdatedAt = now
	if server.ID == "" {
		server.ID = uuid.New().String()
		server.CreatedAt = now
		if err := r.db.Create(server).Error; err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		return nil
	}
	if err := r.db.Save(server).Error; err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}
	return nil
}

// UpdateHealth records the result of a connectivity probe
func (r *ServerRepository) UpdateHealth(id string, ok bool, message string, checkedAt time.Time) error {
	res := r.db.Model(&ServerProfile{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_status":         ok,
		"last_status_check":   checkedAt,
		"last_status_message": message,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update server health: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteServer deletes a server profile; its jobs and history cascade
func (r *ServerRepository) DeleteServer(id string) error {
	res := r.db.Where("id = ?", id).Delete(&ServerProfile{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete server: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return nil
}
