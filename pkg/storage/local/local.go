// Package local handles artifacts kept on the local filesystem.
package local

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/types"
)

// Client represents a local filesystem client
type Client struct{}

// NewClient creates a new local storage client
func NewClient() *Client {
	return &Client{}
}

// Store is a no-op: the dump already wrote the artifact to its final place
func (c *Client) Store(ctx context.Context, localPath string, d types.Destination) outcome.Outcome {
	info, err := os.Stat(localPath)
	if err != nil {
		return outcome.Fail(outcome.Precondition, "Backup file does not exist: %s", localPath)
	}
	return outcome.Success{
		Path:    localPath,
		Size:    info.Size(),
		Message: "Backup kept in local storage",
	}
}

// EnsureBackupPath ensures the backup directory exists
func EnsureBackupPath(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}
	return nil
}

// DeleteArtifact removes path. A missing file is not an error.
func DeleteArtifact(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err == nil {
		log.Printf("Removed backup file: %s", path)
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("failed to remove backup file %s: %w", path, err)
}

