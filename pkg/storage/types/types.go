// Package types holds the destination model shared by every storage transport
package types

import (
	"context"
	"fmt"
	"strings"

	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

// Destination is the effective target of a transfer
type Destination struct {
	Kind            string
	Host            string
	Port            int
	Username        string
	Password        string
	Path            string
	KeyFile         string
	CredentialsFile string
	FolderID        string
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
}

// FromSettings converts stored settings into a destination. An empty kind is local.
func FromSettings(s metadata.StorageSettings) Destination {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	if kind == "" {
		kind = metadata.StorageLocal
	}
	return Destination{
		Kind:            kind,
		Host:            s.Host,
		Port:            s.Port,
		Username:        s.Username,
		Password:        s.Password,
		Path:            s.Path,
		KeyFile:         s.KeyFile,
		CredentialsFile: s.CredentialsFile,
		FolderID:        s.FolderID,
		Bucket:          s.Bucket,
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		PathStyle:       s.PathStyle,
	}
}

// Uploader moves a local artifact to one kind of destination
type Uploader interface {
	Store(ctx context.Context, localPath string, d Destination) outcome.Outcome
}

// Describe renders a display label for d
func Describe(d Destination) string {
	switch d.Kind {
	case metadata.StorageLocal, "":
		return "Local storage"
	case metadata.StorageFTP:
		return fmt.Sprintf("FTP: %s%s", d.Host, d.Path)
	case metadata.StorageSFTP:
		return fmt.Sprintf("SFTP: %s%s", d.Host, d.Path)
	case metadata.StorageGDrive:
		folder := d.FolderID
		if folder == "" {
			folder = "root"
		}
		return "Google Drive: " + folder
	case metadata.StorageS3:
		return fmt.Sprintf("S3: %s/%s", d.Bucket, strings.Trim(d.Path, "/"))
	}
	return "Unknown storage"
}
