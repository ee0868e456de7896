package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig locates the bucket files are delivered to.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseTLS    bool
	Bucket    string
	// BaseDir is prepended to every path.
	BaseDir string
}

// MinIO is a Client backed by an S3-compatible object store.
type MinIO struct {
	mc     *minio.Client
	bucket string
	base   string
}

// NewMinIO connects to the object store. No request is made until the
// first call.
func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinIO{mc: mc, bucket: cfg.Bucket, base: strings.Trim(cfg.BaseDir, "/")}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (c *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("make bucket %s: %w", c.bucket, err)
		}
	}
	return nil
}

func (c *MinIO) object(p string) string {
	if c.base == "" {
		return strings.TrimPrefix(p, "/")
	}
	return path.Join(c.base, p)
}

func (c *MinIO) PutFile(ctx context.Context, p string, content []byte) error {
	_, err := c.mc.PutObject(ctx, c.bucket, c.object(p), bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType(p)})
	if err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	return nil
}

func (c *MinIO) GetFile(ctx context.Context, p string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, c.object(p), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, mapError(err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, mapError(err))
	}
	return data, nil
}

func (c *MinIO) ListFiles(ctx context.Context, dir, prefix string) ([]string, error) {
	key := c.object(path.Join(dir, prefix))
	if prefix == "" {
		key += "/"
	}

	var names []string
	for info := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: key}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, info.Err)
		}
		names = append(names, path.Base(info.Key))
	}
	return names, nil
}

func (c *MinIO) DeleteFile(ctx context.Context, p string) error {
	if _, err := c.mc.StatObject(ctx, c.bucket, c.object(p), minio.StatObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", p, mapError(err))
	}
	if err := c.mc.RemoveObject(ctx, c.bucket, c.object(p), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func mapError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}

func contentType(p string) string {
	if strings.HasSuffix(p, ".xml") {
		return "application/xml"
	}
	return "text/plain"
}
