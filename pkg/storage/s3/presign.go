package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultLinkExpiry is how long a download link attached to an upload stays valid
const DefaultLinkExpiry = 24 * time.Hour

// linker produces a time-limited download link for an object
type linker interface {
	link(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

type presigner struct {
	client *s3.PresignClient
}

func (p presigner) link(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}
