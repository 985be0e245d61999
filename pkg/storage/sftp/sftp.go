// Package sftp uploads backup artifacts over SSH file transfer.
package sftp

import (
	"context"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"

	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/types"
)

// DefaultPort is used when a destination has no port
const DefaultPort = 22

// remoteFS is the part of an SFTP session the uploader uses
type remoteFS interface {
	Stat(p string) (os.FileInfo, error)
	Mkdir(p string) error
	Create(p string) (io.WriteCloser, error)
	Close() error
}

type session struct {
	*sftp.Client
}

func (s session) Create(p string) (io.WriteCloser, error) {
	return s.Client.Create(p)
}

// openFunc returns a transfer session and the closer of the SSH connection under it
type openFunc func(ctx context.Context, d types.Destination, timeout time.Duration) (remoteFS, io.Closer, error)

func openSession(ctx context.Context, d types.Destination, timeout time.Duration) (remoteFS, io.Closer, error) {
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	client, err := connection.DialSSH(ctx, connection.Params{
		SSHHost:     d.Host,
		SSHPort:     port,
		SSHUsername: d.Username,
		SSHPassword: d.Password,
		SSHKeyFile:  d.KeyFile,
	}, timeout)
	if err != nil {
		return nil, nil, err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, nil, outcome.Wrap(outcome.Connectivity, err, "SFTP session failed")
	}
	return session{sc}, client, nil
}

// Client uploads artifacts over SFTP
type Client struct {
	timeout time.Duration
	open    openFunc
}

// NewClient creates a new SFTP client
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{timeout: timeout, open: openSession}
}

// Store uploads localPath into the destination directory, creating it as needed
func (c *Client) Store(ctx context.Context, localPath string, d types.Destination) outcome.Outcome {
	if d.Host == "" || d.Username == "" || (d.Password == "" && d.KeyFile == "") {
		return outcome.Fail(outcome.Configuration, "Missing SFTP configuration")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return outcome.Fail(outcome.Precondition, "Backup file does not exist: %s", localPath)
	}
	defer f.Close()

	fs, sshConn, err := c.open(ctx, d, c.timeout)
	if err != nil {
		if outcome.KindOf(err) == outcome.Internal {
			return outcome.Wrap(outcome.Connectivity, err, "SFTP connection failed")
		}
		return outcome.FromError(err)
	}
	defer sshConn.Close()
	defer fs.Close()

	dir := d.Path
	if dir == "" {
		dir = "."
	}
	if err := ensureDir(fs, dir); err != nil {
		return outcome.Wrap(outcome.StorageTransfer, err, "SFTP error")
	}

	remote := path.Join(dir, filepath.Base(localPath))
	w, err := fs.Create(remote)
	if err != nil {
		return outcome.Wrap(outcome.StorageTransfer, err, "SFTP upload failed")
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return outcome.Wrap(outcome.StorageTransfer, err, "SFTP upload failed")
	}
	if err := w.Close(); err != nil {
		return outcome.Wrap(outcome.StorageTransfer, err, "SFTP upload failed")
	}

	info, err := fs.Stat(remote)
	if err != nil {
		return outcome.Wrap(outcome.StorageTransfer, err, "SFTP upload could not be verified")
	}

	log.Printf("sftp: uploaded %s to %s:%s (%d bytes)", localPath, d.Host, remote, info.Size())
	return outcome.Success{
		Path:    remote,
		Size:    info.Size(),
		Message: "Backup uploaded to SFTP: " + d.Host + remote,
	}
}

// ensureDir probes each segment of dir and creates the missing ones
func ensureDir(fs remoteFS, dir string) error {
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for _, seg := range strings.Split(dir, "/") {
		if seg == "" || seg == "." {
			continue
		}
		current = path.Join(current, seg)

		info, err := fs.Stat(current)
		if err == nil {
			if !info.IsDir() {
				return errors.Errorf("%s exists and is not a directory", current)
			}
			continue
		}
		if err := fs.Mkdir(current); err != nil {
			return errors.Wrapf(err, "cannot create directory %s", current)
		}
	}
	return nil
}
