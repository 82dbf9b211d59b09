package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/bowerhall/visage/internal/logger"
	"github.com/bowerhall/visage/internal/replicate"
	"github.com/bowerhall/visage/internal/session"
)

const (
	msgTrainingDone    = "Your model is trained! Use /generate to create images."
	msgTrainingFailed  = "Training didn't work out this time. Send new photos and try again."
	msgTrainingTimeout = "Training is taking too long and was stopped. Send new photos and try again."
)

type TrainerConfig struct {
	MinPhotos            int
	PollInterval         time.Duration
	ErrorBackoff         time.Duration
	MaxConsecutiveErrors int
	Timeout              time.Duration

	// KeepArtifactsOnFailure preserves the dataset and photos of a
	// failed attempt for a postmortem instead of deleting them.
	KeepArtifactsOnFailure bool
}

// Trainer drives one session from collected photos to a trained model.
// Only one instance can be active per session id; the BeginTraining
// guard in the registry enforces that, no extra locking here.
type Trainer struct {
	registry *session.Registry
	packager Packager
	gateway  Gateway
	store    ModelStore
	notify   Notifier
	cfg      TrainerConfig
}

func NewTrainer(registry *session.Registry, packager Packager, gateway Gateway, store ModelStore, notify Notifier, cfg TrainerConfig) *Trainer {
	return &Trainer{
		registry: registry,
		packager: packager,
		gateway:  gateway,
		store:    store,
		notify:   notify,
		cfg:      cfg,
	}
}

// TriggerWordFor derives the textual anchor bound to a user's model.
func TriggerWordFor(userID int64) string {
	return fmt.Sprintf("TOK%d", userID)
}

// Run executes the whole training sequence. The returned error is for
// the worker log; every user-visible outcome is notified from inside,
// and every exit path leaves the session in a terminal state.
func (t *Trainer) Run(ctx context.Context, userID int64) (err error) {
	photos, err := t.registry.BeginTraining(userID, t.cfg.MinPhotos)
	if err != nil {
		// validation failure: nothing owned yet, caller surfaces it
		return err
	}

	paths := make([]string, len(photos))
	for i, p := range photos {
		paths[i] = p.StoragePath
	}

	// the session is owned from here on; a panic anywhere below must
	// still leave it in a terminal state
	var datasetObject string
	defer func() {
		if r := recover(); r != nil {
			logger.Error("training panicked", "user", userID, "panic", fmt.Sprint(r))
			t.fail(ctx, userID, paths, datasetObject, msgTrainingFailed)
			err = fmt.Errorf("training panicked: %v", r)
		}
	}()

	triggerWord := TriggerWordFor(userID)

	logger.Info("training started", "user", userID, "photos", len(paths))

	archive, err := t.packager.Pack(ctx, userID, paths)
	if err != nil {
		t.fail(ctx, userID, paths, "", msgTrainingFailed)
		return &StorageError{Op: "pack dataset", Err: err}
	}

	datasetObject = archive.ObjectName
	t.registry.SetDataset(userID, archive.ObjectName)

	jobID, err := t.gateway.CreateTraining(ctx, archive.URL, triggerWord)
	if err != nil {
		t.fail(ctx, userID, paths, archive.ObjectName, msgTrainingFailed)
		return fmt.Errorf("submit training: %w", err)
	}

	t.registry.SetTrainingJob(userID, jobID)
	logger.Info("training job submitted", "user", userID, "job", jobID)

	deadline := time.Now().Add(t.cfg.Timeout)
	consecutive := 0
	var lastErr error

	for {
		if time.Now().After(deadline) {
			t.fail(ctx, userID, paths, archive.ObjectName, msgTrainingTimeout)
			return fmt.Errorf("job %s: %w", jobID, ErrTimeout)
		}

		if err := sleep(ctx, t.cfg.PollInterval); err != nil {
			t.fail(ctx, userID, paths, archive.ObjectName, msgTrainingFailed)
			return err
		}

		job, err := t.gateway.Get(ctx, jobID)
		if err != nil {
			consecutive++
			lastErr = err
			logger.Warn("training poll failed", "user", userID, "job", jobID, "consecutive", consecutive, "error", err)

			if consecutive >= t.cfg.MaxConsecutiveErrors {
				t.fail(ctx, userID, paths, archive.ObjectName, msgTrainingFailed)
				return &ConsecutiveFailureError{Attempts: consecutive, Last: lastErr}
			}

			if err := sleep(ctx, t.cfg.ErrorBackoff); err != nil {
				t.fail(ctx, userID, paths, archive.ObjectName, msgTrainingFailed)
				return err
			}
			continue
		}

		consecutive = 0

		switch job.Status {
		case replicate.StatusSucceeded:
			return t.succeed(ctx, userID, job, jobID, triggerWord, paths, archive.ObjectName)

		case replicate.StatusFailed, replicate.StatusCanceled:
			logger.Warn("training job ended", "user", userID, "job", jobID, "status", job.Status, "remote_error", job.Error)
			t.fail(ctx, userID, paths, archive.ObjectName, msgTrainingFailed)
			return fmt.Errorf("job %s: remote status %s", jobID, job.Status)

		default:
			// still pending, keep polling
		}
	}
}

func (t *Trainer) succeed(ctx context.Context, userID int64, job *replicate.Job, jobID, triggerWord string, paths []string, datasetObject string) error {
	version, err := job.OutputVersion()
	if err != nil {
		t.fail(ctx, userID, paths, datasetObject, msgTrainingFailed)
		return fmt.Errorf("job %s: %w", jobID, err)
	}

	if err := t.registry.CompleteTraining(userID, version, triggerWord); err != nil {
		// the session left training state underneath us; treat as fatal
		return fmt.Errorf("complete training: %w", err)
	}

	if err := t.store.Upsert(userID, version, triggerWord, jobID); err != nil {
		// model identity lives in the session; persistence failure only
		// costs recovery after a restart
		logger.Error("model record upsert failed", "user", userID, "error", err)
	}

	t.packager.Delete(ctx, datasetObject)
	t.packager.DeletePhotos(ctx, paths)

	logger.Info("training succeeded", "user", userID, "job", jobID, "version", version)
	t.notify.Notify(userID, msgTrainingDone)

	return nil
}

// fail is the single terminal-failure path: session to failed, owned
// artifacts removed unless the operator asked to preserve them, user
// told in plain words.
func (t *Trainer) fail(ctx context.Context, userID int64, paths []string, datasetObject, userMsg string) {
	if err := t.registry.FailTraining(userID); err != nil {
		logger.Error("fail transition rejected", "user", userID, "error", err)
	}

	if t.cfg.KeepArtifactsOnFailure {
		logger.Warn("artifacts preserved for postmortem", "user", userID, "dataset", datasetObject, "photos", len(paths))
	} else {
		t.packager.Delete(ctx, datasetObject)
		t.packager.DeletePhotos(ctx, paths)
	}

	t.notify.Notify(userID, userMsg)
}

// DeleteModel removes a user's trained artifact remotely and locally,
// then resets the session.
func (t *Trainer) DeleteModel(ctx context.Context, userID int64) error {
	s := t.registry.Snapshot(userID)
	if s.ModelVersion == "" {
		return session.ErrNoModel
	}

	if err := t.gateway.DeleteModelVersion(ctx, s.ModelVersion); err != nil {
		return fmt.Errorf("delete remote model: %w", err)
	}

	if err := t.store.DeleteByUserID(userID); err != nil {
		return fmt.Errorf("delete model record: %w", err)
	}

	t.registry.Reset(userID)
	logger.Info("model deleted", "user", userID, "version", s.ModelVersion)

	return nil
}
