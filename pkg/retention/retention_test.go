package retention

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
)

type fakeHistory struct {
	records []metadata.HistoryRecord
	deleted []string
	listErr error
}

func (f *fakeHistory) SuccessfulBackups(serverID string) ([]metadata.HistoryRecord, error) {
	return f.records, f.listErr
}

func (f *fakeHistory) Delete(id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

// records returns m successful records newest first, with files on disk
func records(t *testing.T, m int) ([]metadata.HistoryRecord, []string) {
	t.Helper()
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var recs []metadata.HistoryRecord
	var paths []string
	for i := m - 1; i >= 0; i-- {
		p := filepath.Join(dir, fmt.Sprintf("%d.sql", i))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		done := base.Add(time.Duration(i) * time.Hour)
		recs = append(recs, metadata.HistoryRecord{
			ID: fmt.Sprintf("h%d", i), Status: metadata.StatusSuccess, FilePath: p, CompletedAt: &done,
		})
		paths = append(paths, p)
	}
	return recs, paths
}

func TestPrune_KeepsNewest(t *testing.T) {
	recs, paths := records(t, 5)
	h := &fakeHistory{records: recs}

	removed, err := NewManager(h).Prune("srv", 2)
	require.NoError(t, err)

	assert.Equal(t, 3, removed)
	assert.Equal(t, []string{"h2", "h1", "h0"}, h.deleted)
	assert.FileExists(t, paths[0])
	assert.FileExists(t, paths[1])
	for _, p := range paths[2:] {
		assert.NoFileExists(t, p)
	}
}

func TestPrune_ToleratesMissingFiles(t *testing.T) {
	recs, paths := records(t, 4)
	require.NoError(t, os.Remove(paths[2]))
	h := &fakeHistory{records: recs}

	removed, err := NewManager(h).Prune("srv", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Len(t, h.deleted, 3)
}

func TestPrune_FileErrorDoesNotAbort(t *testing.T) {
	recs, _ := records(t, 3)
	h := &fakeHistory{records: recs}
	m := NewManager(h)
	m.remove = func(path string) error { return errors.New("permission denied") }

	removed, err := m.Prune("srv", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestPrune_NonPositiveKeepsAll(t *testing.T) {
	recs, _ := records(t, 3)
	for _, retain := range []int{0, -1} {
		h := &fakeHistory{records: recs}
		removed, err := NewManager(h).Prune("srv", retain)
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.Empty(t, h.deleted)
	}
}

func TestPrune_FewerThanRetain(t *testing.T) {
	recs, _ := records(t, 2)
	h := &fakeHistory{records: recs}
	removed, err := NewManager(h).Prune("srv", 5)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPrune_ListError(t *testing.T) {
	_, err := NewManager(&fakeHistory{listErr: errors.New("db down")}).Prune("srv", 1)
	assert.Error(t, err)
}
