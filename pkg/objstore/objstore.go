// Package objstore stores original claim documents in an S3-compatible
// object store.
package objstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
)

// Store writes document bytes under a key and returns a stable reference.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Opt configures the minio-backed store.
type Opt func(c *config)

type config struct {
	endpoint  string
	bucket    string
	accessKey string
	secretKey string
	useSSL    bool
}

func WithEndpoint(endpoint string) Opt {
	return func(c *config) { c.endpoint = endpoint }
}

func WithBucket(bucket string) Opt {
	return func(c *config) { c.bucket = bucket }
}

func WithCredentials(accessKey, secretKey string) Opt {
	return func(c *config) {
		c.accessKey = accessKey
		c.secretKey = secretKey
	}
}

func WithSSL(useSSL bool) Opt {
	return func(c *config) { c.useSSL = useSSL }
}

// MinioStore implements Store over an S3-compatible endpoint.
type MinioStore struct {
	cfg    *config
	client *minio.Client
}

// NewMinio creates a MinioStore and ensures the bucket exists.
func NewMinio(ctx context.Context, opts ...Opt) (*MinioStore, error) {
	cfg := &config{bucket: "claim-documents"}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.endpoint == "" {
		return nil, eris.New("objstore: endpoint required")
	}

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "objstore: create client")
	}

	exists, err := client.BucketExists(ctx, cfg.bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "objstore: check bucket %s", cfg.bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, eris.Wrapf(err, "objstore: create bucket %s", cfg.bucket)
		}
	}

	return &MinioStore{cfg: cfg, client: client}, nil
}

// Put uploads data under key and returns an s3-style reference.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.cfg.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", eris.Wrapf(err, "objstore: put %s", key)
	}
	return fmt.Sprintf("s3://%s/%s", s.cfg.bucket, key), nil
}
