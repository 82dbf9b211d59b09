package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bowerhall/visage/internal/logger"
)

// Client wraps MinIO with the buckets Visage uses: raw user photos,
// packaged training datasets, and generated outputs.
type Client struct {
	mc            *minio.Client
	photoBucket   string
	datasetBucket string
	outputBucket  string
}

// Config holds MinIO connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	c := &Client{
		mc:            mc,
		photoBucket:   "visage-photos",
		datasetBucket: "visage-datasets",
		outputBucket:  "visage-outputs",
	}

	return c, nil
}

// Init creates required buckets if they don't exist
func (c *Client) Init(ctx context.Context) error {
	buckets := []string{c.photoBucket, c.datasetBucket, c.outputBucket}

	for _, bucket := range buckets {
		exists, err := c.mc.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}

		if !exists {
			if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
			logger.Info("bucket created", "bucket", bucket)
		}
	}

	return nil
}

func (c *Client) Upload(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := c.mc.PutObject(ctx, bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, name, err)
	}

	logger.Debug("file uploaded", "bucket", bucket, "name", name, "size", len(data))
	return nil
}

func (c *Client) Download(ctx context.Context, bucket, name string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, name, err)
	}

	return data, nil
}

func (c *Client) Delete(ctx context.Context, bucket, name string) error {
	if err := c.mc.RemoveObject(ctx, bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, name, err)
	}
	return nil
}

// PresignedURL returns a time-limited GET URL for an object, consumable
// by the remote training API without credentials.
func (c *Client) PresignedURL(ctx context.Context, bucket, name string, expiry time.Duration) (string, error) {
	u, err := c.mc.PresignedGetObject(ctx, bucket, name, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, name, err)
	}
	return u.String(), nil
}

// BucketUsage sums object count and bytes under a prefix.
type BucketUsage struct {
	Bucket  string
	Objects int
	Bytes   int64
}

// Usage walks each bucket and reports totals. Used by the nightly
// storage report.
func (c *Client) Usage(ctx context.Context) ([]BucketUsage, error) {
	var usages []BucketUsage

	for _, bucket := range []string{c.photoBucket, c.datasetBucket, c.outputBucket} {
		u := BucketUsage{Bucket: bucket}

		for obj := range c.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
			if obj.Err != nil {
				return nil, fmt.Errorf("list %s: %w", bucket, obj.Err)
			}
			u.Objects++
			u.Bytes += obj.Size
		}

		usages = append(usages, u)
	}

	return usages, nil
}

// PhotoBucket returns the raw-photo bucket name
func (c *Client) PhotoBucket() string {
	return c.photoBucket
}

// DatasetBucket returns the packaged-dataset bucket name
func (c *Client) DatasetBucket() string {
	return c.datasetBucket
}

// OutputBucket returns the generated-output bucket name
func (c *Client) OutputBucket() string {
	return c.outputBucket
}

// Healthy checks if MinIO is reachable
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.mc.BucketExists(ctx, c.photoBucket)
	return err == nil
}
