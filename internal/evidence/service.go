// Package evidence stores uploaded violation evidence in MinIO and hands
// back presigned URLs for use as a violation's evidence_url.
package evidence

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"lawbook/api/internal/util"
)

const urlTTL = 7 * 24 * time.Hour

// Service wraps a MinIO client bound to one evidence bucket.
type Service struct {
	client *minio.Client
	bucket string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New connects to MinIO and ensures the evidence bucket exists.
func New(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores one evidence object and returns a presigned GET URL.
func (s *Service) Upload(ctx context.Context, filename, contentType string, reader io.Reader, size int64) (string, error) {
	key := ObjectKey(time.Now().UTC(), filename)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("put evidence object: %w", err)
	}

	signed, err := s.client.PresignedGetObject(ctx, s.bucket, key, urlTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign evidence object: %w", err)
	}
	return signed.String(), nil
}

// ObjectKey builds the bucket key for an upload: date prefix, random id, and
// a sanitized version of the original extension.
func ObjectKey(now time.Time, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 8 || strings.ContainsAny(ext, "/\\ ") {
		ext = ""
	}
	return fmt.Sprintf("%s/%s%s", now.Format("2006/01/02"), util.NewID("ev"), ext)
}
