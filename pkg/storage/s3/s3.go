// Package s3 uploads backup artifacts to S3 or an S3-compatible object store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/types"
)

// objectAPI is the part of the S3 client the uploader uses
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type clientFactory func(ctx context.Context, d types.Destination) (objectAPI, linker, error)

// Client uploads artifacts with PutObject
type Client struct {
	timeout   time.Duration
	newClient clientFactory
}

// NewClient creates a new S3 client
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{timeout: timeout, newClient: getS3Client}
}

// getS3Client initializes an S3 client for the destination. Access key and
// secret come from the destination username and password; when both are
// empty the default AWS credential chain is used.
func getS3Client(ctx context.Context, d types.Destination) (objectAPI, linker, error) {
	sdkOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(&http.Client{}),
	}
	if d.Username != "" || d.Password != "" {
		sdkOptions = append(sdkOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(d.Username, d.Password, ""),
		))
	}

	region := d.Region
	if region == "" {
		region = "us-east-1"
	}
	sdkOptions = append(sdkOptions, awsconfig.WithRegion(region))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, sdkOptions...)
	if err != nil {
		return nil, nil, fmt.Errorf("AWS SDK config initialization error: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = d.PathStyle
		if d.Endpoint != "" {
			o.BaseEndpoint = aws.String(d.Endpoint)
		}
	})
	return client, presigner{s3.NewPresignClient(client)}, nil
}

// ObjectKey joins the destination prefix and the artifact name
func ObjectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Store uploads localPath to the destination bucket under its prefix
func (c *Client) Store(ctx context.Context, localPath string, d types.Destination) outcome.Outcome {
	if d.Bucket == "" {
		return outcome.Fail(outcome.Configuration, "Missing S3 configuration: bucket")
	}

	file, err := os.Open(localPath)
	if err != nil {
		return outcome.Fail(outcome.Precondition, "Backup file does not exist: %s", localPath)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return outcome.Wrap(outcome.StorageTransfer, err, "S3 error")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	api, links, err := c.newClient(ctx, d)
	if err != nil {
		return outcome.Wrap(outcome.Configuration, err, "S3 client error")
	}

	key := ObjectKey(d.Path, filepath.Base(localPath))
	_, err = api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			log.Printf("s3: URL error: %v, URL: %v, Op: %v", urlErr.Err, urlErr.URL, urlErr.Op)
			return outcome.Wrap(outcome.Connectivity, err, "S3 upload failed")
		}
		return outcome.Wrap(outcome.StorageTransfer, err, "S3 upload failed")
	}

	remote := fmt.Sprintf("s3://%s/%s", d.Bucket, key)
	log.Printf("s3: uploaded %s to %s", localPath, remote)

	res := outcome.Success{
		Path:    remote,
		Size:    info.Size(),
		Message: "Backup uploaded to S3: " + remote,
	}
	if links != nil {
		if link, err := links.link(ctx, d.Bucket, key, DefaultLinkExpiry); err == nil {
			res.Link = link
		} else {
			log.Printf("s3: no download link for %s: %v", remote, err)
		}
	}
	return res
}
