// Package storage moves backup artifacts to their configured destination
package storage

import (
	"context"
	"log"
	"time"

	"github.com/supporttools/GoSQLKeeper/pkg/config"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/metrics"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/ftp"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/gdrive"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/local"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/s3"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/sftp"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/types"
)

// Destination is re-exported for callers that only need the transfer layer
type Destination = types.Destination

// Transfer dispatches to the uploader registered for a destination kind
type Transfer struct {
	uploaders map[string]types.Uploader
}

// NewTransfer registers every supported transport
func NewTransfer(cfg *config.AppConfig) *Transfer {
	return &Transfer{
		uploaders: map[string]types.Uploader{
			metadata.StorageLocal:  local.NewClient(),
			metadata.StorageFTP:    ftp.NewClient(cfg.Timeouts.FTP),
			metadata.StorageSFTP:   sftp.NewClient(cfg.Timeouts.SSH),
			metadata.StorageGDrive: gdrive.NewClient(cfg.Timeouts.Transfer),
			metadata.StorageS3:     s3.NewClient(cfg.Timeouts.Transfer),
		},
	}
}

// NewTransferWith builds a transfer over explicit uploaders
func NewTransferWith(uploaders map[string]types.Uploader) *Transfer {
	return &Transfer{uploaders: uploaders}
}

// Store moves localPath to d
func (t *Transfer) Store(ctx context.Context, localPath string, d Destination) outcome.Outcome {
	u, ok := t.uploaders[d.Kind]
	if !ok {
		return outcome.Fail(outcome.Configuration, "Unsupported storage type: %q", d.Kind)
	}

	start := time.Now()
	res := u.Store(ctx, localPath, d)

	status := "success"
	if !res.OK() {
		status = "error"
		log.Printf("storage: %s upload of %s failed: %s", types.Describe(d), localPath, res.Text())
	}
	metrics.TransferCount.WithLabelValues(d.Kind, status).Inc()
	metrics.TransferDuration.WithLabelValues(d.Kind).Observe(time.Since(start).Seconds())
	return res
}

// Merge computes the effective destination settings of a job. Transport
// fields come from the profile; the profile password only fills an empty
// job password; the profile path wins when set.
func Merge(profile *metadata.StorageProfile, inline metadata.StorageSettings) metadata.StorageSettings {
	if profile == nil {
		return inline
	}
	p := profile.Settings
	merged := inline

	merged.Kind = p.Kind
	merged.Host = p.Host
	merged.Port = p.Port
	merged.Username = p.Username
	if merged.Password == "" {
		merged.Password = p.Password
	}
	if p.Path != "" {
		merged.Path = p.Path
	}

	merged.KeyFile = firstNonEmpty(p.KeyFile, inline.KeyFile)
	merged.CredentialsFile = firstNonEmpty(p.CredentialsFile, inline.CredentialsFile)
	merged.FolderID = firstNonEmpty(p.FolderID, inline.FolderID)
	merged.Bucket = firstNonEmpty(p.Bucket, inline.Bucket)
	merged.Region = firstNonEmpty(p.Region, inline.Region)
	merged.Endpoint = firstNonEmpty(p.Endpoint, inline.Endpoint)
	merged.PathStyle = p.PathStyle || inline.PathStyle
	return merged
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Describe renders a display label for d
func Describe(d Destination) string {
	return types.Describe(d)
}
