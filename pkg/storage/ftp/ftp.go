// Package ftp uploads backup artifacts to an FTP server.
package ftp

import (
	"context"
	"io"
	"log"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"

	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/types"
)

// DefaultPort is used when a destination has no port
const DefaultPort = 21

// conn is the part of *ftp.ServerConn the uploader uses
type conn interface {
	Login(user, password string) error
	ChangeDir(path string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	NameList(path string) ([]string, error)
	Quit() error
}

type dialFunc func(ctx context.Context, addr string, timeout time.Duration) (conn, error)

func dialServer(ctx context.Context, addr string, timeout time.Duration) (conn, error) {
	c, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Client uploads artifacts over FTP
type Client struct {
	timeout time.Duration
	dial    dialFunc
}

// NewClient creates a new FTP client
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{timeout: timeout, dial: dialServer}
}

// Store uploads localPath into the destination directory, creating it as needed
func (c *Client) Store(ctx context.Context, localPath string, d types.Destination) outcome.Outcome {
	if d.Host == "" || d.Username == "" || d.Password == "" {
		return outcome.Fail(outcome.Configuration, "Missing FTP configuration")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return outcome.Fail(outcome.Precondition, "Backup file does not exist: %s", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return outcome.Wrap(outcome.StorageTransfer, err, "FTP error")
	}

	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(d.Host, strconv.Itoa(port))

	srv, err := c.dial(ctx, addr, c.timeout)
	if err != nil {
		return outcome.Wrap(outcome.Connectivity, err, "FTP connection failed")
	}
	defer func() {
		if err := srv.Quit(); err != nil {
			log.Printf("ftp: quit %s: %v", addr, err)
		}
	}()

	if err := srv.Login(d.Username, d.Password); err != nil {
		return outcome.Wrap(outcome.Connectivity, err, "FTP login failed")
	}

	dir := d.Path
	if dir == "" {
		dir = "/"
	}
	if err := ensureDir(srv, dir); err != nil {
		return outcome.Wrap(outcome.StorageTransfer, err, "FTP error")
	}

	name := filepath.Base(localPath)
	if err := srv.Stor(name, f); err != nil {
		return outcome.Wrap(outcome.StorageTransfer, err, "FTP upload failed")
	}

	if err := verify(srv, name); err != nil {
		return outcome.Wrap(outcome.StorageTransfer, err, "FTP upload failed")
	}

	remote := path.Join(dir, name)
	log.Printf("ftp: uploaded %s to %s:%s", localPath, d.Host, remote)
	return outcome.Success{
		Path:    remote,
		Size:    info.Size(),
		Message: "Backup uploaded to FTP: " + d.Host + ":" + remote,
	}
}

// ensureDir changes into dir, creating missing segments one level at a time
func ensureDir(srv conn, dir string) error {
	if srv.ChangeDir(dir) == nil {
		return nil
	}

	if strings.HasPrefix(dir, "/") {
		if err := srv.ChangeDir("/"); err != nil {
			return errors.Wrap(err, "cannot change to root directory")
		}
	}

	for _, seg := range strings.Split(dir, "/") {
		if seg == "" {
			continue
		}
		if srv.ChangeDir(seg) == nil {
			continue
		}
		if err := srv.MakeDir(seg); err != nil {
			log.Printf("ftp: mkdir %s: %v", seg, err)
		}
		if err := srv.ChangeDir(seg); err != nil {
			return errors.Wrapf(err, "cannot create directory %s", seg)
		}
	}
	return nil
}

func verify(srv conn, name string) error {
	entries, err := srv.NameList(".")
	if err != nil {
		return errors.Wrap(err, "cannot list remote directory")
	}
	for _, e := range entries {
		if path.Base(e) == name {
			return nil
		}
	}
	return errors.Errorf("%s not found after upload", name)
}
