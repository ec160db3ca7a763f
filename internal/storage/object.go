package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig captures configuration for the S3-compatible backend.
type ObjectConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	UseSSL    bool
}

// ObjectStorage stores each key as one small object. SetIfAbsent is only atomic within a
// single process; use redis or postgres when several agents share one bucket.
type ObjectStorage struct {
	client *minio.Client
	cfg    ObjectConfig
	mu     sync.Mutex
}

// NewObjectStorage builds the client and makes sure the bucket exists.
func NewObjectStorage(ctx context.Context, cfg ObjectConfig) (*ObjectStorage, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object storage: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object storage: bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("object storage: access key and secret key are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage: create client: %w", err)
	}
	s := &ObjectStorage{client: client, cfg: cfg}
	if err = s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ObjectStorage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object storage: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("object storage: create bucket: %w", err)
	}
	return nil
}

func (s *ObjectStorage) Get(ctx context.Context, key string) (string, bool, error) {
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("object storage: get %s: %w", key, err)
	}
	defer func() { _ = object.Close() }()
	data, err := io.ReadAll(object)
	if err != nil {
		if isObjectNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("object storage: read %s: %w", key, err)
	}
	return string(data), true, nil
}

func (s *ObjectStorage) Set(ctx context.Context, key, value string) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.objectKey(key), bytes.NewReader([]byte(value)), int64(len(value)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("object storage: put %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStorage) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, s.objectKey(key), minio.StatObjectOptions{}); err == nil {
		return false, nil
	} else if !isObjectNotFound(err) {
		return false, fmt.Errorf("object storage: stat %s: %w", key, err)
	}
	if err := s.Set(ctx, key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ObjectStorage) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.objectKey(key), minio.RemoveObjectOptions{})
		if err != nil && !isObjectNotFound(err) {
			return fmt.Errorf("object storage: delete %s: %w", key, err)
		}
	}
	return nil
}

// Close is a no-op; the minio client holds no long-lived connections of its own.
func (s *ObjectStorage) Close() error { return nil }

func (s *ObjectStorage) objectKey(key string) string {
	if s.cfg.Prefix == "" {
		return key
	}
	return path.Join(s.cfg.Prefix, key)
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}
