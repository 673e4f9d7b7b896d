package object

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-batch/internal/config"
	"github.com/aliskhannn/image-batch/internal/model"
)

// putter is the subset of the MinIO client used for uploads.
type putter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Storage mirrors processed images to an S3-compatible bucket using MinIO.
// Objects are stored under a prefix named after the batch ID.
type Storage struct {
	client     putter
	bucketName string
	strategy   retry.Strategy
}

// NewStorage creates a new Storage connected to the configured MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, cfg config.Storage, s retry.Strategy) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return newStorage(client, cfg.BucketName, s), nil
}

func newStorage(client putter, bucketName string, s retry.Strategy) *Storage {
	return &Storage{
		client:     client,
		bucketName: bucketName,
		strategy:   s,
	}
}

// Save uploads the local file at localPath under prefix and returns the object name.
// The upload is retried according to the storage retry strategy.
func (s *Storage) Save(ctx context.Context, prefix, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	objectName := path.Join(prefix, filepath.Base(localPath))

	err = retry.Do(func() error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}

		_, err := s.client.PutObject(ctx, s.bucketName, objectName, f, info.Size(), minio.PutObjectOptions{
			ContentType: contentType(localPath),
		})
		return err
	}, s.strategy)
	if err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	return objectName, nil
}

// Mirror uploads every output of result and returns the object names that
// were stored. A failed upload does not stop the remaining ones; all upload
// errors are joined into the returned error.
func (s *Storage) Mirror(ctx context.Context, result *model.BatchResult) ([]string, error) {
	prefix := result.ID.String()
	keys := make([]string, 0, len(result.Succeeded))

	var errs error
	for _, p := range result.Succeeded {
		key, err := s.Save(ctx, prefix, p)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", filepath.Base(p), err))
			continue
		}
		keys = append(keys, key)
	}

	zlog.Logger.Info().
		Str("batch_id", prefix).
		Str("bucket", s.bucketName).
		Int("uploaded", len(keys)).
		Int("total", len(result.Succeeded)).
		Msg("outputs mirrored")

	return keys, errs
}

func contentType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}
