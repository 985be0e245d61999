package gdrive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"

	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/types"
)

func fixtures(t *testing.T) (artifact, creds string) {
	t.Helper()
	dir := t.TempDir()
	artifact = filepath.Join(dir, "20240101_010000_db.sql")
	creds = filepath.Join(dir, "sa.json")
	require.NoError(t, os.WriteFile(artifact, []byte("-- dump"), 0o644))
	require.NoError(t, os.WriteFile(creds, []byte(`{"type":"service_account"}`), 0o600))
	return artifact, creds
}

func TestStore_UploadsIntoFolder(t *testing.T) {
	artifact, creds := fixtures(t)

	var got *drive.File
	var body []byte
	c := &Client{
		timeout: time.Second,
		create: func(ctx context.Context, credentials []byte, meta *drive.File, r io.Reader) (*drive.File, error) {
			got = meta
			body, _ = io.ReadAll(r)
			return &drive.File{Id: "f1", Name: meta.Name, WebViewLink: "https://drive.example/f1"}, nil
		},
	}

	res := c.Store(context.Background(), artifact, types.Destination{Kind: "gdrive", CredentialsFile: creds, FolderID: "folder-9"})

	s, ok := res.(outcome.Success)
	require.True(t, ok, res.Text())
	assert.Equal(t, []string{"folder-9"}, got.Parents)
	assert.Equal(t, "-- dump", string(body))
	assert.Equal(t, "GDrive: 20240101_010000_db.sql (https://drive.example/f1)", s.Path)
	assert.Equal(t, "https://drive.example/f1", s.Link)
}

func TestStore_NoFolderUploadsToRoot(t *testing.T) {
	artifact, creds := fixtures(t)

	c := &Client{
		timeout: time.Second,
		create: func(ctx context.Context, credentials []byte, meta *drive.File, r io.Reader) (*drive.File, error) {
			assert.Empty(t, meta.Parents)
			return &drive.File{Id: "f2", Name: meta.Name}, nil
		},
	}

	assert.True(t, c.Store(context.Background(), artifact, types.Destination{Kind: "gdrive", CredentialsFile: creds}).OK())
}

func TestStore_Failures(t *testing.T) {
	artifact, creds := fixtures(t)

	c := &Client{
		timeout: time.Second,
		create: func(ctx context.Context, credentials []byte, meta *drive.File, r io.Reader) (*drive.File, error) {
			return nil, errors.New("googleapi: Error 403: insufficient permissions")
		},
	}

	res := c.Store(context.Background(), artifact, types.Destination{Kind: "gdrive"})
	assert.Equal(t, outcome.Configuration, res.(*outcome.Failure).Kind)

	res = c.Store(context.Background(), artifact, types.Destination{Kind: "gdrive", CredentialsFile: creds})
	assert.Equal(t, outcome.StorageTransfer, res.(*outcome.Failure).Kind)
}
