// Package objectstore stores message attachments in a MinIO bucket.
package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/config"
)

const (
	region      = "us-east-1"
	maxKeyLen   = 512
	DefaultTTL  = 15 * time.Minute
	uploadsRoot = "attachments"
)

type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg config.MinIO) (*Store, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{client: cl, bucket: cfg.Bucket}, nil
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region})
	}
	return nil
}

// Exists confirms an uploaded attachment is present.
func (s *Store) Exists(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return apperr.NotFound(fmt.Sprintf("attachment %s not found", key))
	}
	return fmt.Errorf("stat %s: %w", key, err)
}

// Upload is a presigned slot a client PUTs the attachment bytes to.
type Upload struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PresignUpload reserves a fresh key under the user's prefix.
func (s *Store) PresignUpload(ctx context.Context, userID, filename string, ttl time.Duration) (Upload, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	name := path.Base(strings.TrimSpace(filename))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	key := path.Join(uploadsRoot, userID, uuid.NewString(), name)
	if err := ValidateKey(key); err != nil {
		return Upload{}, err
	}
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	if err != nil {
		return Upload{}, fmt.Errorf("presign put: %w", err)
	}
	return Upload{Key: key, URL: u.String(), ExpiresAt: time.Now().Add(ttl).UTC()}, nil
}

func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (*url.URL, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
}

// ValidateKey rejects empty, oversized, absolute or parent-relative keys.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return apperr.Validation("attachment key is required")
	case len(key) > maxKeyLen:
		return apperr.Validation("attachment key is too long")
	case strings.HasPrefix(key, "/"):
		return apperr.Validation("attachment key must be relative")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return apperr.Validation("attachment key must not contain ..")
		}
	}
	return nil
}
