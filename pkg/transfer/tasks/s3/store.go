// Package s3 implements the object store behind the S3 tasks on top of
// aws-sdk-go-v2. It works against AWS S3 and compatible services such as
// MinIO or Localstack.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/pkg/transfer/tasks"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// Config configures the S3 client.
type Config struct {
	// Enabled turns the S3 tasks on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint overrides the AWS endpoint, e.g. http://localhost:9000 for
	// MinIO. Empty means AWS.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty" validate:"omitempty,url"`

	Region string `mapstructure:"region" yaml:"region"`

	// AccessKeyID and SecretAccessKey are static credentials. When empty the
	// default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// UsePathStyle addresses buckets as endpoint/bucket. Forced on when an
	// endpoint is set.
	UsePathStyle bool `mapstructure:"use_path_style" yaml:"use_path_style"`
}

// Store is a tasks.ObjectStore backed by an S3 client.
type Store struct {
	client *s3.Client
}

var _ tasks.ObjectStore = (*Store)(nil)

// New builds a client from cfg. No request is made.
func New(ctx context.Context, cfg Config) (*Store, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			return
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewFromClient(client), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *s3.Client) *Store {
	return &Store{client: client}
}

// PutObject uploads body, creating the bucket first if it does not exist.
// Tags are sent with the upload.
func (s *Store) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, tags map[string]string) error {
	if err := s.ensureBucket(ctx, bucket); err != nil {
		return err
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if len(tags) > 0 {
		in.Tagging = aws.String(encodeTags(tags))
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return err
	}
	return nil
}

// GetObject opens an object and reads its tags. A missing object or bucket
// is reported as fs.ErrNotExist.
func (s *Store) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, map[string]string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, fmt.Errorf("%w: %s/%s", fs.ErrNotExist, bucket, key)
		}
		return nil, nil, err
	}

	tagging, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		_ = out.Body.Close()
		return nil, nil, fmt.Errorf("read tags: %w", err)
	}

	tags := make(map[string]string, len(tagging.TagSet))
	for _, t := range tagging.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out.Body, tags, nil
}

// DeleteObject removes an object. Deleting a missing object succeeds.
func (s *Store) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) ensureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	logger.Info("Bucket created", "bucket", bucket)
	return nil
}

// encodeTags renders tags as the URL query form S3 uses in headers.
func encodeTags(tags map[string]string) string {
	v := url.Values{}
	for k, val := range tags {
		v.Set(k, val)
	}
	return v.Encode()
}

// isNotFound returns true if the error indicates the object or bucket is
// missing.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound", "404":
			return true
		}
	}
	return false
}
