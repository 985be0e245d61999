// Package gdrive uploads backup artifacts to a Google Drive folder using a
// service account credential file.
package gdrive

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/types"
)

const mimeType = "application/octet-stream"

// createFunc performs the authenticated upload of meta with content r
type createFunc func(ctx context.Context, credentials []byte, meta *drive.File, r io.Reader) (*drive.File, error)

func createFile(ctx context.Context, credentials []byte, meta *drive.File, r io.Reader) (*drive.File, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentials, drive.DriveScope)
	if err != nil {
		return nil, outcome.Wrap(outcome.Configuration, err, "Invalid Google Drive credentials")
	}

	srv, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, errors.Wrap(err, "cannot create drive service")
	}

	return srv.Files.Create(meta).
		Media(r, googleapi.ContentType(mimeType), googleapi.ChunkSize(googleapi.DefaultUploadChunkSize)).
		Fields("id,name,webViewLink").
		Context(ctx).
		Do()
}

// Client uploads artifacts to Google Drive
type Client struct {
	timeout time.Duration
	create  createFunc
}

// NewClient creates a new Google Drive client
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{timeout: timeout, create: createFile}
}

// Store uploads localPath into the destination folder, or the drive root
func (c *Client) Store(ctx context.Context, localPath string, d types.Destination) outcome.Outcome {
	if d.CredentialsFile == "" {
		return outcome.Fail(outcome.Configuration, "Missing Google Drive credentials file")
	}
	credentials, err := os.ReadFile(d.CredentialsFile)
	if err != nil {
		return outcome.Wrap(outcome.Configuration, err, "Cannot read Google Drive credentials file")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return outcome.Fail(outcome.Precondition, "Backup file does not exist: %s", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return outcome.Wrap(outcome.StorageTransfer, err, "GDrive error")
	}

	meta := &drive.File{Name: filepath.Base(localPath)}
	if d.FolderID != "" {
		meta.Parents = []string{d.FolderID}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	created, err := c.create(ctx, credentials, meta, f)
	if err != nil {
		if outcome.KindOf(err) == outcome.Configuration {
			return outcome.FromError(err)
		}
		return outcome.Wrap(outcome.StorageTransfer, err, "GDrive upload failed")
	}

	log.Printf("gdrive: uploaded %s as %s (%s)", localPath, created.Id, created.Name)
	return outcome.Success{
		Path:    fmt.Sprintf("GDrive: %s (%s)", created.Name, created.WebViewLink),
		Size:    info.Size(),
		Message: "Backup uploaded to Google Drive: " + created.Name,
		Link:    created.WebViewLink,
	}
}
