package archive

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"sync/atomic"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOConfig contains MinIO mirror configuration
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string

	// Lifetime of presigned GET links handed to notifications
	URLExpiry time.Duration

	RequestTimeout time.Duration
}

// MinIOMirror implements Mirror using MinIO
type MinIOMirror struct {
	client *minio.Client
	config MinIOConfig
	logger *zap.Logger

	uploads      atomic.Uint64
	uploadErrors atomic.Uint64
}

// NewMinIOMirror creates the client and makes sure the bucket exists.
func NewMinIOMirror(ctx context.Context, config MinIOConfig, logger *zap.Logger) (*MinIOMirror, error) {
	if config.URLExpiry == 0 {
		config.URLExpiry = 7 * 24 * time.Hour
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	m := &MinIOMirror{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("Created MinIO bucket", zap.String("bucket", config.Bucket))
	}

	return m, nil
}

// Upload stores filePath under key.
func (m *MinIOMirror) Upload(ctx context.Context, key, filePath string) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.RequestTimeout)
	defer cancel()

	info, err := m.client.FPutObject(ctx, m.config.Bucket, key, filePath, minio.PutObjectOptions{
		ContentType: detectContentType(filePath),
	})
	if err != nil {
		m.uploadErrors.Add(1)
		return fmt.Errorf("upload %s: %w", key, err)
	}
	m.uploads.Add(1)

	m.logger.Debug("Object uploaded",
		zap.String("key", key),
		zap.Int64("size", info.Size),
		zap.String("etag", info.ETag))
	return nil
}

// URL returns a presigned GET link for key.
func (m *MinIOMirror) URL(ctx context.Context, key string) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.config.Bucket, key, m.config.URLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Stats returns upload counters.
func (m *MinIOMirror) Stats() (uploads, errors uint64) {
	return m.uploads.Load(), m.uploadErrors.Load()
}

func detectContentType(filePath string) string {
	switch ext := filepath.Ext(filePath); ext {
	case ".avi":
		return "video/x-msvideo"
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}
