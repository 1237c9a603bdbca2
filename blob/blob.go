package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// DefaultContentType is used when an upload doesn't specify one.
const DefaultContentType = "application/octet-stream"

// S3API is the subset of the S3 client used by the Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

type StoreOption func(*StoreOptions) error

type StoreOptions struct {
	Client S3API
}

func WithClient(client S3API) StoreOption {
	return func(o *StoreOptions) error {
		o.Client = client
		return nil
	}
}

// NewStore creates a store that writes objects to the named bucket.
func NewStore(ctx context.Context, bucket string, opts ...StoreOption) (s *Store, err error) {
	o := StoreOptions{}
	for _, opt := range opts {
		err = opt(&o)
		if err != nil {
			return
		}
	}
	if o.Client == nil {
		var cfg aws.Config
		cfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return
		}
		o.Client = s3.NewFromConfig(cfg)
	}
	s = &Store{
		Client:     o.Client,
		BucketName: bucket,
	}
	return
}

type Store struct {
	Client     S3API
	BucketName string
}

// Bucket returns the name of the bucket objects are written to.
func (s *Store) Bucket() string {
	return s.BucketName
}

// Put writes body under key. Keys are chosen by the caller and never reused,
// so objects are not overwritten.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) (err error) {
	if contentType == "" {
		contentType = DefaultContentType
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("blob: failed to put %s/%s: %w", s.BucketName, key, err)
	}
	return nil
}

// CreateBucket creates the bucket. A bucket that already exists is not an error.
func (s *Store) CreateBucket(ctx context.Context) (err error) {
	_, err = s.Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.BucketName),
	})
	var exists *types.BucketAlreadyExists
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &exists) && !errors.As(err, &owned) {
		return fmt.Errorf("blob: failed to create bucket %s: %w", s.BucketName, err)
	}
	return nil
}
