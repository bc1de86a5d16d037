package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sethvargo/go-retry"

	"github.com/tagmesh/tagmesh/internal/common"
)

const (
	blockPrefix = "blocks/"
	namePrefix  = "names/"
)

// S3Options configures the S3-backed store. BaseEndpoint is set for
// MinIO-compatible deployments and left empty for AWS itself.
type S3Options struct {
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
}

// S3Store implements ContentStore and NameResolver over an S3-compatible
// bucket. Blocks live under blocks/<content-id>; name pointers are small
// objects under names/<name> whose body is the target content id.
type S3Store struct {
	client *s3.Client
	bucket string
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	id := ComputeID(data)
	key := blockPrefix + id

	err := s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: storing block: %v", common.ErrTransientIO, err)
	}
	return id, nil
}

func (s *S3Store) Get(ctx context.Context, contentID string) ([]byte, error) {
	data, err := s.getObject(ctx, blockPrefix+contentID)
	if err != nil {
		return nil, err
	}
	// A block whose bytes do not hash back to its id is corrupt.
	if ComputeID(data) != contentID {
		return nil, fmt.Errorf("%w: block %s failed integrity check", common.ErrInternal, contentID)
	}
	return data, nil
}

func (s *S3Store) Publish(ctx context.Context, name, contentID string) error {
	err := s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(namePrefix + name),
			Body:   bytes.NewReader([]byte(contentID)),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: publishing name: %v", common.ErrTransientIO, err)
	}
	return nil
}

func (s *S3Store) Resolve(ctx context.Context, name string) (string, error) {
	data, err := s.getObject(ctx, namePrefix+name)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(data)), nil
}

func (s *S3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.withRetry(ctx, func(ctx context.Context) error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("%w: fetching %s: %v", common.ErrTransientIO, key, err)
	}
	return data, nil
}

// withRetry retries transient failures with capped exponential backoff.
// Missing keys are terminal and returned immediately.
func (s *S3Store) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return err
		}
		return retry.RetryableError(err)
	})
}
