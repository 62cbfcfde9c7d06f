package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pixvault/internal/asset"
)

// MinioOptions describes how to reach an S3-compatible endpoint.
type MinioOptions struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Secure    bool
	// PathStyle forces path-style bucket addressing, which most self-hosted
	// S3 servers need.
	PathStyle bool
}

// NewMinioClient creates a client for opts. Without static keys the AWS
// environment, the shared credentials file and the instance role are tried
// in that order.
func NewMinioClient(opts MinioOptions) (*minio.Client, error) {
	var creds *credentials.Credentials
	if opts.AccessKey != "" && opts.SecretKey != "" {
		creds = credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
		})
	}

	lookup := minio.BucketLookupAuto
	if opts.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:        creds,
		Secure:       opts.Secure,
		Region:       opts.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client for %q: %w", opts.Endpoint, err)
	}
	return client, nil
}

// MinioStorage is an asset.BlobStore backed by a single bucket on an
// S3-compatible service.
type MinioStorage struct {
	client *minio.Client
	bucket string
}

// NewMinioStorage returns a MinioStorage storing objects in bucket.
func NewMinioStorage(client *minio.Client, bucket string) *MinioStorage {
	return &MinioStorage{client: client, bucket: bucket}
}

// Bucket returns the bucket name objects are stored in.
func (s *MinioStorage) Bucket() string {
	return s.bucket
}

// EnsureBucket checks if the bucket exists, and creates it if it does not.
func (s *MinioStorage) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
		}
		slog.Info("Created bucket", "bucket", s.bucket)
	}
	return nil
}

// isNoSuchKey reports whether err is the S3 "object does not exist" error.
func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || (resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket")
}

// Put implements asset.BlobStore.
func (s *MinioStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %q to bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

// Get implements asset.BlobStore.
func (s *MinioStorage) Get(ctx context.Context, key string) (*asset.Blob, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", asset.ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object %q from bucket %q: %w", key, s.bucket, err)
	}

	// GetObject is lazy; Stat issues the request and surfaces a missing key.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", asset.ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat object %q in bucket %q: %w", key, s.bucket, err)
	}

	return &asset.Blob{
		Body:        obj,
		ContentType: info.ContentType,
		Size:        info.Size,
	}, nil
}

// Delete implements asset.BlobStore.
func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete object %q from bucket %q: %w", key, s.bucket, err)
	}
	return nil
}
