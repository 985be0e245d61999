package backup

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/metrics"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

// RestoreFrom opens a restore record for a successful backup and queues the
// restore. It returns the id of the new record.
func (m *Manager) RestoreFrom(historyID string) (string, error) {
	src, err := m.History.GetByID(historyID)
	if errors.Is(err, metadata.ErrNotFound) {
		return "", outcome.Fail(outcome.NotFound, "History record %s not found", historyID)
	}
	if err != nil {
		return "", err
	}
	if src.Kind != metadata.KindBackup || src.Status != metadata.StatusSuccess || src.FilePath == "" {
		return "", outcome.Fail(outcome.Precondition, "Only successful backups with a file can be restored")
	}

	server, err := m.Servers.GetServerByID(src.ServerID)
	if errors.Is(err, metadata.ErrNotFound) {
		return "", outcome.Fail(outcome.NotFound, "Server %s not found", src.ServerID)
	}
	if err != nil {
		return "", err
	}

	rec := &metadata.HistoryRecord{
		ServerID:    server.ID,
		Kind:        metadata.KindRestore,
		StartedAt:   m.now(),
		FilePath:    src.FilePath,
		Description: fmt.Sprintf("Restore from %s", artifactName(src.FilePath)),
	}
	if err := m.History.CreatePending(rec); err != nil {
		return "", err
	}

	queued := m.Pool.Submit("restore "+rec.ID, func() {
		m.restore(m.ctx, server, src.FilePath, rec)
	})
	if !queued {
		m.close(rec.ID, outcome.Fail(outcome.Internal, "Restore was not started: shutting down"))
	}
	return rec.ID, nil
}

func (m *Manager) restore(ctx context.Context, server *metadata.ServerProfile, artifact string, rec *metadata.HistoryRecord) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("backup: restore %s panicked: %v", rec.ID, r)
			m.close(rec.ID, outcome.Fail(outcome.Internal, "Unexpected error: %v", r))
		}
	}()

	log.Printf("backup: restoring %s into server %s", artifact, server.Name)
	result := m.Engine.Restore(ctx, connection.FromProfile(server), artifact)

	status := "error"
	if s, ok := result.(outcome.Success); ok {
		status = "success"
		s.Message = rec.Description + ": " + s.Message
		result = s
	}
	m.close(rec.ID, result)
	metrics.RestoreCount.WithLabelValues(server.Name, status).Inc()
	log.Printf("backup: restore %s finished with %s: %s", rec.ID, status, result.Text())
}
