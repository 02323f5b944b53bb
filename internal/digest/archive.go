package digest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archive stores rendered digest files
type Archive interface {
	// Save writes content under name and returns its location
	Save(ctx context.Context, name string, content []byte) (string, error)
}

// LocalArchive writes digests to a directory
type LocalArchive struct {
	dir string
}

// NewLocalArchive creates an archive rooted at dir
func NewLocalArchive(dir string) *LocalArchive {
	return &LocalArchive{dir: dir}
}

// Save implements Archive
func (a *LocalArchive) Save(ctx context.Context, name string, content []byte) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create digest directory: %w", err)
	}
	p := filepath.Join(a.dir, name)
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write digest file: %w", err)
	}
	return p, nil
}

// S3Archive uploads digests to a bucket
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archive loads the default AWS configuration and creates an archive
func NewS3Archive(ctx context.Context, region, bucket, prefix string) (*S3Archive, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Archive{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

// Save implements Archive
func (a *S3Archive) Save(ctx context.Context, name string, content []byte) (string, error) {
	key := path.Join(a.prefix, name)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload digest to s3://%s/%s: %w", a.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
