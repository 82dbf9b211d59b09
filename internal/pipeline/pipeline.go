// Package pipeline holds the coordinators that drive a session from
// collected photos through remote training, and from an assembled
// prompt through remote generation.
package pipeline

import (
	"context"
	"time"

	"github.com/bowerhall/visage/internal/dataset"
	"github.com/bowerhall/visage/internal/replicate"
)

// Gateway is the behavioral contract of the remote job API wrapper.
type Gateway interface {
	CreateTraining(ctx context.Context, datasetURL, triggerWord string) (string, error)
	CreatePrediction(ctx context.Context, modelVersion string, in replicate.GenerationInput) (string, error)
	Get(ctx context.Context, jobID string) (*replicate.Job, error)
	DeleteModelVersion(ctx context.Context, version string) error
}

// Packager bundles photos into a dataset artifact and cleans up.
type Packager interface {
	Pack(ctx context.Context, userID int64, photoPaths []string) (*dataset.Archive, error)
	Delete(ctx context.Context, objectName string)
	DeletePhotos(ctx context.Context, photoPaths []string)
}

// Notifier delivers chat messages. Fire and forget: implementations log
// failures and never return them here.
type Notifier interface {
	Notify(chatID int64, text string)
	NotifyImageURL(chatID int64, url, caption string)
}

// ModelStore is the durable record of trained model identities.
type ModelStore interface {
	Upsert(userID int64, modelVersion, triggerWord, jobID string) error
	DeleteByUserID(userID int64) error
}

// sleep waits for d or until ctx is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
