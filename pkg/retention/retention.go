// Package retention prunes the oldest successful backups of a server.
package retention

import (
	"log"

	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/metrics"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/local"
)

// HistoryStore is the part of the history repository retention needs
type HistoryStore interface {
	SuccessfulBackups(serverID string) ([]metadata.HistoryRecord, error)
	Delete(id string) error
}

// Manager enforces retention counts
type Manager struct {
	history HistoryStore
	remove  func(path string) error
}

// NewManager creates a retention manager over history
func NewManager(history HistoryStore) *Manager {
	return &Manager{history: history, remove: local.DeleteArtifact}
}

// Prune keeps the retain newest successful backups of serverID and deletes
// the rest, artifact first. retain <= 0 keeps everything. File and record
// deletion errors are logged and the loop continues. It returns the number
// of records removed.
func (m *Manager) Prune(serverID string, retain int) (int, error) {
	if retain <= 0 {
		return 0, nil
	}

	records, err := m.history.SuccessfulBackups(serverID)
	if err != nil {
		return 0, err
	}
	if len(records) <= retain {
		return 0, nil
	}

	removed := 0
	for _, rec := range records[retain:] {
		if err := m.remove(rec.FilePath); err != nil {
			log.Printf("retention: %v", err)
		}
		if err := m.history.Delete(rec.ID); err != nil {
			log.Printf("retention: deleting history %s: %v", rec.ID, err)
			continue
		}
		removed++
		metrics.RetentionDeletes.WithLabelValues(serverID).Inc()
	}

	log.Printf("retention: server %s kept %d, removed %d of %d", serverID, retain, removed, len(records)-retain)
	return removed, nil
}
