package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	platformstore "github.com/forgeline-labs/forgeline-go/internal/platform/objectstore"
)

const defaultPresignTTL = 10 * time.Minute

// BucketStore serves one MinIO bucket.
type BucketStore struct {
	client *minio.Client
	bucket string
}

// NewBucketStore binds an existing client to a bucket. The bucket is
// assumed to exist; main ensures it at startup.
func NewBucketStore(client *minio.Client, bucket string) (*BucketStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &BucketStore{client: client, bucket: bucket}, nil
}

// OpenBucketStore dials MinIO from config and binds the bucket.
func OpenBucketStore(cfg platformstore.Config, bucket string) (*BucketStore, error) {
	client, err := platformstore.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewBucketStore(client, bucket)
}

func (s *BucketStore) Bucket() string {
	if s == nil {
		return ""
	}
	return s.bucket
}

func (s *BucketStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	key, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *BucketStore) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, info.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("get %s/%s: %w", s.bucket, info.Key, err)
	}
	return obj, info, nil
}

func (s *BucketStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	key, err := s.objectKey(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat %s/%s: %w", s.bucket, key, err)
	}
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

func (s *BucketStore) Delete(ctx context.Context, key string) error {
	key, err := s.objectKey(key)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *BucketStore) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key, err := s.objectKey(key)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, presignTTL(ttl))
	if err != nil {
		return "", fmt.Errorf("presign put %s/%s: %w", s.bucket, key, err)
	}
	return u.String(), nil
}

func (s *BucketStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key, err := s.objectKey(key)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignTTL(ttl), nil)
	if err != nil {
		return "", fmt.Errorf("presign get %s/%s: %w", s.bucket, key, err)
	}
	return u.String(), nil
}

// objectKey validates the handle and normalizes the key in one place,
// since every operation needs both.
func (s *BucketStore) objectKey(key string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("bucket store not initialized")
	}
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	return key, nil
}

func presignTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultPresignTTL
	}
	return ttl
}
