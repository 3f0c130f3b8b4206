package logstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrArchiveNotFound is returned by Download when the backing store has
// no object under the requested name.
var ErrArchiveNotFound = errors.New("archive not found in backing store")

// Backing stores packed log archives by object name.
type Backing interface {
	// Upload stores the file at srcPath under name.
	Upload(ctx context.Context, name, srcPath string) error
	// Download fetches name into dstPath, or ErrArchiveNotFound.
	Download(ctx context.Context, name, dstPath string) error
}

// FolderBacking keeps archives in a local directory.
type FolderBacking struct {
	dir string
}

func NewFolderBacking(dir string) (*FolderBacking, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &FolderBacking{dir: dir}, nil
}

func (b *FolderBacking) Upload(_ context.Context, name, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", srcPath, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(filepath.Join(b.dir, name))
	if err != nil {
		return fmt.Errorf("create archive %s: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy archive %s: %w", name, err)
	}
	return dst.Close()
}

func (b *FolderBacking) Download(_ context.Context, name, dstPath string) error {
	src, err := os.Open(filepath.Join(b.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
		}
		return fmt.Errorf("open archive %s: %w", name, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", dstPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy archive %s: %w", name, err)
	}
	return dst.Close()
}

// S3Options configure the S3-compatible backing store.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3Backing keeps archives in an S3-compatible bucket.
type S3Backing struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Backing(opts S3Options) (*S3Backing, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Backing{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (b *S3Backing) objectName(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

func (b *S3Backing) Upload(ctx context.Context, name, srcPath string) error {
	_, err := b.client.FPutObject(ctx, b.bucket, b.objectName(name), srcPath, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return fmt.Errorf("upload %s to s3: %w", name, err)
	}
	return nil
}

func (b *S3Backing) Download(ctx context.Context, name, dstPath string) error {
	err := b.client.FGetObject(ctx, b.bucket, b.objectName(name), dstPath, minio.GetObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
		}
		return fmt.Errorf("download %s from s3: %w", name, err)
	}
	return nil
}
