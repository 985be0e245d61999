package backup

import (
	"errors"
	"strings"

	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

// ListServers lists every server profile
func (m *Manager) ListServers() ([]metadata.ServerProfile, error) {
	return m.Servers.GetAllServers()
}

// SaveServer validates and persists a server profile. On update, empty
// passwords keep the stored ones.
func (m *Manager) SaveServer(server *metadata.ServerProfile) error {
	server.Name = strings.TrimSpace(server.Name)
	if server.Name == "" {
		return outcome.Fail(outcome.Configuration, "Server name is required")
	}
	if server.Port == 0 {
		server.Port = server.Engine.DefaultPort()
	}
	if server.Mode == metadata.ModeSSH && server.SSHPort == 0 {
		server.SSHPort = 22
	}

	if server.ID != "" {
		stored, err := m.Servers.GetServerByID(server.ID)
		if errors.Is(err, metadata.ErrNotFound) {
			return outcome.Fail(outcome.NotFound, "Server %s not found", server.ID)
		}
		if err != nil {
			return err
		}
		if server.Password == "" {
			server.Password = stored.Password
		}
		if server.SSHPassword == "" {
			server.SSHPassword = stored.SSHPassword
		}
		server.CreatedAt = stored.CreatedAt
		server.LastStatus = stored.LastStatus
		server.LastStatusCheck = stored.LastStatusCheck
		server.LastStatusMessage = stored.LastStatusMessage
	}

	if err := connection.FromProfile(server).Validate(); err != nil {
		return err
	}
	return m.Servers.SaveServer(server)
}

// DeleteServer removes a server profile together with its jobs
func (m *Manager) DeleteServer(serverID string) error {
	err := m.Servers.DeleteServer(serverID)
	if errors.Is(err, metadata.ErrNotFound) {
		return outcome.Fail(outcome.NotFound, "Server %s not found", serverID)
	}
	return err
}

// SaveStorageProfile validates and persists a storage profile. On update, an
// empty password keeps the stored one.
func (m *Manager) SaveStorageProfile(profile *metadata.StorageProfile) error {
	profile.Name = strings.TrimSpace(profile.Name)
	if profile.Name == "" {
		return outcome.Fail(outcome.Configuration, "Storage profile name is required")
	}
	switch profile.Settings.Kind {
	case metadata.StorageLocal, metadata.StorageFTP, metadata.StorageSFTP, metadata.StorageGDrive, metadata.StorageS3:
	case "":
		profile.Settings.Kind = metadata.StorageLocal
	default:
		return outcome.Fail(outcome.Configuration, "Unsupported storage type: %s", profile.Settings.Kind)
	}

	if profile.ID != "" {
		stored, err := m.Storage.GetProfileByID(profile.ID)
		if errors.Is(err, metadata.ErrNotFound) {
			return outcome.Fail(outcome.NotFound, "Storage profile %s not found", profile.ID)
		}
		if err != nil {
			return err
		}
		if profile.Settings.Password == "" {
			profile.Settings.Password = stored.Settings.Password
		}
		profile.CreatedAt = stored.CreatedAt
	}
	return m.Storage.SaveProfile(profile)
}

// DeleteStorageProfile removes a storage profile. Jobs that used it fall back
// to their inline destination.
func (m *Manager) DeleteStorageProfile(id string) error {
	err := m.Storage.DeleteProfile(id)
	if errors.Is(err, metadata.ErrNotFound) {
		return outcome.Fail(outcome.NotFound, "Storage profile %s not found", id)
	}
	return err
}
