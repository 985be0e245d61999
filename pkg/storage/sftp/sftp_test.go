package sftp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/types"
)

type fileInfo struct {
	name string
	size int64
	dir  bool
}

func (i fileInfo) Name() string       { return i.name }
func (i fileInfo) Size() int64        { return i.size }
func (i fileInfo) Mode() fs.FileMode  { return 0o644 }
func (i fileInfo) ModTime() time.Time { return time.Time{} }
func (i fileInfo) IsDir() bool        { return i.dir }
func (i fileInfo) Sys() interface{}   { return nil }

type buffer struct {
	bytes.Buffer
	onClose func([]byte)
}

func (b *buffer) Close() error {
	b.onClose(b.Bytes())
	return nil
}

type fakeFS struct {
	dirs      map[string]bool
	files     map[string][]byte
	mkdirs    []string
	createErr error
	closed    bool
}

func (f *fakeFS) Stat(p string) (os.FileInfo, error) {
	if f.dirs[p] {
		return fileInfo{name: p, dir: true}, nil
	}
	if data, ok := f.files[p]; ok {
		return fileInfo{name: p, size: int64(len(data))}, nil
	}
	return nil, os.ErrNotExist
}

func (f *fakeFS) Mkdir(p string) error {
	f.dirs[p] = true
	f.mkdirs = append(f.mkdirs, p)
	return nil
}

func (f *fakeFS) Create(p string) (io.WriteCloser, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &buffer{onClose: func(b []byte) { f.files[p] = append([]byte(nil), b...) }}, nil
}

func (f *fakeFS) Close() error {
	f.closed = true
	return nil
}

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

func newTestClient(fsys *fakeFS, conn *closer) *Client {
	return &Client{
		timeout: time.Second,
		open: func(ctx context.Context, d types.Destination, timeout time.Duration) (remoteFS, io.Closer, error) {
			return fsys, conn, nil
		},
	}
}

func artifact(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "20240101_010000_db.sql")
	require.NoError(t, os.WriteFile(p, []byte("-- dump data"), 0o644))
	return p
}

func TestStore_CreatesChainAndVerifies(t *testing.T) {
	fsys := &fakeFS{dirs: map[string]bool{"/srv": true}, files: map[string][]byte{}}
	conn := &closer{}
	c := newTestClient(fsys, conn)

	res := c.Store(context.Background(), artifact(t), types.Destination{
		Kind: "sftp", Host: "h", Username: "u", Password: "p", Path: "/srv/backups/db",
	})

	s, ok := res.(outcome.Success)
	require.True(t, ok, res.Text())
	assert.Equal(t, []string{"/srv/backups", "/srv/backups/db"}, fsys.mkdirs)
	assert.Equal(t, "/srv/backups/db/20240101_010000_db.sql", s.Path)
	assert.Equal(t, int64(len("-- dump data")), s.Size)
	assert.True(t, fsys.closed)
	assert.True(t, conn.closed)
}

func TestStore_SessionsClosedOnUploadFailure(t *testing.T) {
	fsys := &fakeFS{dirs: map[string]bool{}, files: map[string][]byte{}, createErr: errors.New("permission denied")}
	conn := &closer{}
	c := newTestClient(fsys, conn)

	res := c.Store(context.Background(), artifact(t), types.Destination{
		Kind: "sftp", Host: "h", Username: "u", KeyFile: "/keys/id", Path: "out",
	})

	f, ok := res.(*outcome.Failure)
	require.True(t, ok)
	assert.Equal(t, outcome.StorageTransfer, f.Kind)
	assert.True(t, fsys.closed)
	assert.True(t, conn.closed)
}

func TestStore_MissingCredentials(t *testing.T) {
	c := &Client{
		timeout: time.Second,
		open: func(ctx context.Context, d types.Destination, timeout time.Duration) (remoteFS, io.Closer, error) {
			t.Fatal("no session expected")
			return nil, nil, nil
		},
	}

	res := c.Store(context.Background(), artifact(t), types.Destination{Kind: "sftp", Host: "h", Username: "u"})
	assert.Equal(t, outcome.Configuration, res.(*outcome.Failure).Kind)
}
