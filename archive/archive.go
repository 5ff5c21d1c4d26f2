// Package archive uploads captured dialogue audio and event recordings to
// S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Putter is the subset of the S3 client the uploader needs.
type Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds configuration for the upload target.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint for S3-compatible providers.
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3URL parses "s3://bucket/prefix", "bucket/prefix" or "bucket".
func ParseS3URL(raw string) (bucket, prefix string) {
	raw = strings.TrimPrefix(raw, "s3://")
	parts := strings.SplitN(raw, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix
}

// Uploader stores session artifacts under <prefix>/<session id>/.
type Uploader struct {
	client Putter
	bucket string
	prefix string
}

// NewUploader wraps an existing client.
func NewUploader(client Putter, bucket, prefix string) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewS3Uploader builds an Uploader on the AWS default credential chain.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return NewUploader(s3.NewFromConfig(awsConfig, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

// Key returns the object key for name in session sessionID.
func (u *Uploader) Key(sessionID, name string) string {
	return path.Join(u.prefix, sessionID, name)
}

// Put uploads data and returns its s3:// location.
func (u *Uploader) Put(ctx context.Context, sessionID, name, contentType string, data []byte) (string, error) {
	key := u.Key(sessionID, name)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			"session-id":  sessionID,
			"uploaded-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return "s3://" + u.bucket + "/" + key, nil
}

// PutFile uploads a local file under its base name.
func (u *Uploader) PutFile(ctx context.Context, sessionID, file string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	return u.Put(ctx, sessionID, filepath.Base(file), ContentType(file), data)
}

// ContentType guesses the content type from the file extension.
func ContentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".pcm":
		return "audio/pcm"
	case ".wav":
		return "audio/wav"
	case ".msgpack", ".rec":
		return "application/vnd.msgpack"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
