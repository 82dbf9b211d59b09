// Package dataset packages a session's accepted photos into one zip
// archive the remote training API can consume.
package dataset

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/bowerhall/visage/internal/logger"
)

// BlobStore is the slice of the storage client the packager needs.
type BlobStore interface {
	Download(ctx context.Context, bucket, name string) ([]byte, error)
	Upload(ctx context.Context, bucket, name string, data []byte, contentType string) error
	Delete(ctx context.Context, bucket, name string) error
	PresignedURL(ctx context.Context, bucket, name string, expiry time.Duration) (string, error)
	PhotoBucket() string
	DatasetBucket() string
}

// Archive is a packaged dataset: its object name for later cleanup and
// a retrievable URL for the remote job API.
type Archive struct {
	ObjectName string
	URL        string
}

type Packager struct {
	store     BlobStore
	urlExpiry time.Duration
}

func NewPackager(store BlobStore) *Packager {
	return &Packager{
		store:     store,
		urlExpiry: 2 * time.Hour,
	}
}

// Pack downloads each photo, zips them, uploads the archive to the
// dataset bucket, and presigns a URL for it.
func (p *Packager) Pack(ctx context.Context, userID int64, photoPaths []string) (*Archive, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i, photoPath := range photoPaths {
		data, err := p.store.Download(ctx, p.store.PhotoBucket(), photoPath)
		if err != nil {
			return nil, fmt.Errorf("download photo %s: %w", photoPath, err)
		}

		ext := path.Ext(photoPath)
		if ext == "" {
			ext = ".jpg"
		}

		w, err := zw.Create(fmt.Sprintf("photo_%02d%s", i+1, ext))
		if err != nil {
			return nil, fmt.Errorf("zip entry: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("zip write: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip close: %w", err)
	}

	objectName := fmt.Sprintf("datasets/%d/%s.zip", userID, uuid.NewString())

	if err := p.store.Upload(ctx, p.store.DatasetBucket(), objectName, buf.Bytes(), "application/zip"); err != nil {
		return nil, fmt.Errorf("upload dataset: %w", err)
	}

	url, err := p.store.PresignedURL(ctx, p.store.DatasetBucket(), objectName, p.urlExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign dataset: %w", err)
	}

	logger.Info("dataset packaged", "user", userID, "object", objectName, "photos", len(photoPaths), "bytes", buf.Len())

	return &Archive{ObjectName: objectName, URL: url}, nil
}

// Delete removes a packaged archive. Best effort: a missing or
// undeletable artifact is logged, never surfaced to the caller.
func (p *Packager) Delete(ctx context.Context, objectName string) {
	if objectName == "" {
		return
	}

	if err := p.store.Delete(ctx, p.store.DatasetBucket(), objectName); err != nil {
		logger.Warn("dataset delete failed", "object", objectName, "error", err)
		return
	}

	logger.Debug("dataset deleted", "object", objectName)
}

// DeletePhotos removes raw photo objects, best effort per photo.
func (p *Packager) DeletePhotos(ctx context.Context, photoPaths []string) {
	for _, photoPath := range photoPaths {
		if err := p.store.Delete(ctx, p.store.PhotoBucket(), photoPath); err != nil {
			logger.Warn("photo delete failed", "path", photoPath, "error", err)
		}
	}

	logger.Debug("photos deleted", "count", len(photoPaths))
}
