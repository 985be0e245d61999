package ftp

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/types"
)

// fakeServer keeps an in-memory directory tree
type fakeServer struct {
	cwd     string
	dirs    map[string]bool
	files   map[string][]byte
	mkdirs  []string
	failDir string
	quit    bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{cwd: "/", dirs: map[string]bool{"/": true}, files: map[string][]byte{}}
}

func (f *fakeServer) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(f.cwd, p)
}

func (f *fakeServer) Login(user, password string) error { return nil }

func (f *fakeServer) ChangeDir(p string) error {
	target := f.abs(p)
	if !f.dirs[target] {
		return errors.New("550 no such directory")
	}
	f.cwd = target
	return nil
}

func (f *fakeServer) MakeDir(p string) error {
	target := f.abs(p)
	if target == f.failDir {
		return errors.New("550 permission denied")
	}
	f.dirs[target] = true
	f.mkdirs = append(f.mkdirs, target)
	return nil
}

func (f *fakeServer) Stor(p string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.files[f.abs(p)] = data
	return nil
}

func (f *fakeServer) NameList(p string) ([]string, error) {
	dir := f.abs(p)
	var names []string
	for name := range f.files {
		if path.Dir(name) == dir {
			names = append(names, path.Base(name))
		}
	}
	return names, nil
}

func (f *fakeServer) Quit() error {
	f.quit = true
	return nil
}

func newTestClient(srv *fakeServer) *Client {
	return &Client{
		timeout: time.Second,
		dial: func(ctx context.Context, addr string, timeout time.Duration) (conn, error) {
			return srv, nil
		},
	}
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "20240101_010000_db.sql")
	require.NoError(t, os.WriteFile(p, []byte("-- dump"), 0o644))
	return p
}

func TestStore_CreatesMissingDirectoriesInOrder(t *testing.T) {
	srv := newFakeServer()
	c := newTestClient(srv)
	artifact := writeArtifact(t)

	res := c.Store(context.Background(), artifact, types.Destination{
		Kind: "ftp", Host: "ftp.example.com", Username: "u", Password: "p", Path: "/a/b/c",
	})

	s, ok := res.(outcome.Success)
	require.True(t, ok, res.Text())
	assert.Equal(t, []string{"/a", "/a/b", "/a/b/c"}, srv.mkdirs)
	assert.Equal(t, "/a/b/c/20240101_010000_db.sql", s.Path)
	assert.Equal(t, "Backup uploaded to FTP: ftp.example.com:/a/b/c/20240101_010000_db.sql", s.Message)
	assert.Equal(t, []byte("-- dump"), srv.files["/a/b/c/20240101_010000_db.sql"])
	assert.True(t, srv.quit)
}

func TestStore_ExistingDirectoryIsNotRecreated(t *testing.T) {
	srv := newFakeServer()
	srv.dirs["/backups"] = true
	c := newTestClient(srv)

	res := c.Store(context.Background(), writeArtifact(t), types.Destination{
		Kind: "ftp", Host: "h", Username: "u", Password: "p", Path: "/backups",
	})

	require.True(t, res.OK(), res.Text())
	assert.Empty(t, srv.mkdirs)
}

func TestStore_RelativePathMessage(t *testing.T) {
	srv := newFakeServer()
	c := newTestClient(srv)

	res := c.Store(context.Background(), writeArtifact(t), types.Destination{
		Kind: "ftp", Host: "h", Username: "u", Password: "p", Path: "backups",
	})

	s, ok := res.(outcome.Success)
	require.True(t, ok, res.Text())
	assert.Equal(t, "Backup uploaded to FTP: h:backups/20240101_010000_db.sql", s.Message)
}

func TestStore_SecondChangeDirFailureIsFatal(t *testing.T) {
	srv := newFakeServer()
	srv.failDir = "/a/b"
	c := newTestClient(srv)

	res := c.Store(context.Background(), writeArtifact(t), types.Destination{
		Kind: "ftp", Host: "h", Username: "u", Password: "p", Path: "/a/b/c",
	})

	f, ok := res.(*outcome.Failure)
	require.True(t, ok)
	assert.Equal(t, outcome.StorageTransfer, f.Kind)
	assert.Empty(t, srv.files)
	assert.True(t, srv.quit)
}

func TestStore_MissingConfigurationNoNetwork(t *testing.T) {
	dialed := false
	c := &Client{
		timeout: time.Second,
		dial: func(ctx context.Context, addr string, timeout time.Duration) (conn, error) {
			dialed = true
			return nil, errors.New("unexpected dial")
		},
	}

	res := c.Store(context.Background(), writeArtifact(t), types.Destination{Kind: "ftp", Host: "h", Username: "u"})

	f, ok := res.(*outcome.Failure)
	require.True(t, ok)
	assert.Equal(t, outcome.Configuration, f.Kind)
	assert.Equal(t, "Missing FTP configuration", f.Message)
	assert.False(t, dialed)
}
