package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bowerhall/visage/internal/dataset"
	"github.com/bowerhall/visage/internal/replicate"
	"github.com/bowerhall/visage/internal/session"
)

// fakeGateway plays back a scripted sequence of poll results.
type fakeGateway struct {
	mu            sync.Mutex
	script        []pollResult // consumed one per Get; last entry repeats
	polls         int
	submitErr     error
	panicOnGet    bool
	submittedURL  string
	submittedWord string
	prediction    replicate.GenerationInput
	deleted       []string
}

type pollResult struct {
	job *replicate.Job
	err error
}

func pending() pollResult {
	return pollResult{job: &replicate.Job{ID: "job-1", Status: replicate.StatusProcessing}}
}

func succeededTraining(version string) pollResult {
	out, _ := json.Marshal(map[string]string{"version": version})
	return pollResult{job: &replicate.Job{ID: "job-1", Status: replicate.StatusSucceeded, Output: out}}
}

func succeededGeneration(urls ...string) pollResult {
	out, _ := json.Marshal(urls)
	return pollResult{job: &replicate.Job{ID: "job-1", Status: replicate.StatusSucceeded, Output: out}}
}

func failed() pollResult {
	return pollResult{job: &replicate.Job{ID: "job-1", Status: replicate.StatusFailed, Error: "boom"}}
}

func pollErr() pollResult {
	return pollResult{err: errors.New("connection reset")}
}

func (f *fakeGateway) CreateTraining(_ context.Context, datasetURL, triggerWord string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submittedURL = datasetURL
	f.submittedWord = triggerWord
	return "job-1", nil
}

func (f *fakeGateway) CreatePrediction(_ context.Context, _ string, in replicate.GenerationInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.prediction = in
	return "job-1", nil
}

func (f *fakeGateway) Get(_ context.Context, _ string) (*replicate.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.panicOnGet {
		panic("gateway exploded")
	}

	f.polls++
	idx := f.polls - 1
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	r := f.script[idx]
	return r.job, r.err
}

func (f *fakeGateway) DeleteModelVersion(_ context.Context, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, version)
	return nil
}

type fakePackager struct {
	mu             sync.Mutex
	packErr        error
	deletedArchive []string
	deletedPhotos  []string
}

func (f *fakePackager) Pack(_ context.Context, userID int64, paths []string) (*dataset.Archive, error) {
	if f.packErr != nil {
		return nil, f.packErr
	}
	name := fmt.Sprintf("datasets/%d/test.zip", userID)
	return &dataset.Archive{ObjectName: name, URL: "https://s.test/" + name}, nil
}

func (f *fakePackager) Delete(_ context.Context, objectName string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if objectName != "" {
		f.deletedArchive = append(f.deletedArchive, objectName)
	}
}

func (f *fakePackager) DeletePhotos(_ context.Context, paths []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deletedPhotos = append(f.deletedPhotos, paths...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	images   []string
}

func (f *fakeNotifier) Notify(_ int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.messages = append(f.messages, text)
}

func (f *fakeNotifier) NotifyImageURL(_ int64, url, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.images = append(f.images, url)
}

type fakeModelStore struct {
	mu      sync.Mutex
	records map[int64][3]string // version, trigger, job
}

func newFakeModelStore() *fakeModelStore {
	return &fakeModelStore{records: make(map[int64][3]string)}
}

func (f *fakeModelStore) Upsert(userID int64, version, trigger, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.records[userID] = [3]string{version, trigger, jobID}
	return nil
}

func (f *fakeModelStore) DeleteByUserID(userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.records, userID)
	return nil
}

func fastTrainerConfig() TrainerConfig {
	return TrainerConfig{
		MinPhotos:            5,
		PollInterval:         time.Millisecond,
		ErrorBackoff:         time.Millisecond,
		MaxConsecutiveErrors: 3,
		Timeout:              time.Second,
	}
}

type trainerFixture struct {
	registry *session.Registry
	gateway  *fakeGateway
	packager *fakePackager
	notifier *fakeNotifier
	store    *fakeModelStore
	trainer  *Trainer
}

func newTrainerFixture(cfg TrainerConfig, script ...pollResult) *trainerFixture {
	f := &trainerFixture{
		registry: session.NewRegistry(),
		gateway:  &fakeGateway{script: script},
		packager: &fakePackager{},
		notifier: &fakeNotifier{},
		store:    newFakeModelStore(),
	}
	f.trainer = NewTrainer(f.registry, f.packager, f.gateway, f.store, f.notifier, cfg)

	for i := 0; i < 5; i++ {
		f.registry.AppendPhoto(1, fmt.Sprintf("u1/%d.jpg", i), 10)
	}

	return f
}

func TestTrainingSuccess(t *testing.T) {
	f := newTrainerFixture(fastTrainerConfig(), pending(), pending(), succeededTraining("v123"))

	if err := f.trainer.Run(context.Background(), 1); err != nil {
		t.Fatalf("run: %v", err)
	}

	s := f.registry.Snapshot(1)
	if s.Training != session.TrainingReady {
		t.Errorf("expected ready, got %s", s.Training)
	}
	if s.ModelVersion != "v123" {
		t.Errorf("expected v123, got %q", s.ModelVersion)
	}
	if len(s.Photos) != 0 || s.DatasetObject != "" {
		t.Errorf("artifacts not released: %+v", s)
	}

	if f.gateway.submittedWord != TriggerWordFor(1) {
		t.Errorf("trigger word not submitted: %q", f.gateway.submittedWord)
	}
	if f.gateway.polls != 3 {
		t.Errorf("expected 3 polls, got %d", f.gateway.polls)
	}

	if rec := f.store.records[1]; rec[0] != "v123" {
		t.Errorf("model record not persisted: %v", rec)
	}

	if len(f.packager.deletedArchive) != 1 || len(f.packager.deletedPhotos) != 5 {
		t.Errorf("cleanup incomplete: archives=%v photos=%v", f.packager.deletedArchive, f.packager.deletedPhotos)
	}

	if len(f.notifier.messages) != 1 || f.notifier.messages[0] != msgTrainingDone {
		t.Errorf("user not notified of success: %v", f.notifier.messages)
	}
}

func TestTrainingRemoteFailure(t *testing.T) {
	f := newTrainerFixture(fastTrainerConfig(), pending(), failed())

	if err := f.trainer.Run(context.Background(), 1); err == nil {
		t.Fatal("expected error on remote failure")
	}

	s := f.registry.Snapshot(1)
	if s.Training != session.TrainingFailed {
		t.Errorf("expected failed, got %s", s.Training)
	}
	if s.DatasetObject != "" {
		t.Error("dataset pointer must be released on failure")
	}

	if len(f.packager.deletedArchive) != 1 || len(f.packager.deletedPhotos) != 5 {
		t.Errorf("failure cleanup incomplete: archives=%v photos=%d", f.packager.deletedArchive, len(f.packager.deletedPhotos))
	}

	if len(f.notifier.messages) != 1 || f.notifier.messages[0] != msgTrainingFailed {
		t.Errorf("user not notified of failure: %v", f.notifier.messages)
	}
}

func TestTrainingHardTimeout(t *testing.T) {
	cfg := fastTrainerConfig()
	cfg.Timeout = 20 * time.Millisecond

	f := newTrainerFixture(cfg, pending())

	err := f.trainer.Run(context.Background(), 1)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	if got := f.registry.Snapshot(1).Training; got != session.TrainingFailed {
		t.Errorf("expected failed after timeout, got %s", got)
	}

	if len(f.notifier.messages) != 1 || f.notifier.messages[0] != msgTrainingTimeout {
		t.Errorf("user not notified of timeout: %v", f.notifier.messages)
	}
}

func TestTrainingPollErrorsRecoverBelowThreshold(t *testing.T) {
	f := newTrainerFixture(fastTrainerConfig(), pollErr(), pollErr(), succeededTraining("v9"))

	if err := f.trainer.Run(context.Background(), 1); err != nil {
		t.Fatalf("run should survive two poll errors: %v", err)
	}

	if got := f.registry.Snapshot(1).Training; got != session.TrainingReady {
		t.Errorf("expected ready, got %s", got)
	}
}

func TestTrainingConsecutivePollErrorsFatal(t *testing.T) {
	f := newTrainerFixture(fastTrainerConfig(), pollErr())

	err := f.trainer.Run(context.Background(), 1)

	var cfe *ConsecutiveFailureError
	if !errors.As(err, &cfe) {
		t.Fatalf("expected ConsecutiveFailureError, got %v", err)
	}
	if cfe.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfe.Attempts)
	}

	if got := f.registry.Snapshot(1).Training; got != session.TrainingFailed {
		t.Errorf("expected failed, got %s", got)
	}
}

func TestTrainingPackFailure(t *testing.T) {
	f := newTrainerFixture(fastTrainerConfig(), pending())
	f.packager.packErr = errors.New("minio unreachable")

	err := f.trainer.Run(context.Background(), 1)

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}

	if got := f.registry.Snapshot(1).Training; got != session.TrainingFailed {
		t.Errorf("expected failed, got %s", got)
	}
	if f.gateway.polls != 0 {
		t.Error("must not poll after packaging failure")
	}
}

func TestTrainingKeepArtifactsPolicy(t *testing.T) {
	cfg := fastTrainerConfig()
	cfg.KeepArtifactsOnFailure = true

	f := newTrainerFixture(cfg, failed())

	if err := f.trainer.Run(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}

	if len(f.packager.deletedArchive) != 0 || len(f.packager.deletedPhotos) != 0 {
		t.Error("artifacts deleted despite preserve policy")
	}
}

func TestTrainingPanicLeavesTerminalState(t *testing.T) {
	f := newTrainerFixture(fastTrainerConfig(), pending())
	f.gateway.panicOnGet = true

	err := f.trainer.Run(context.Background(), 1)
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic surfaced as error, got %v", err)
	}

	s := f.registry.Snapshot(1)
	if s.Training != session.TrainingFailed {
		t.Errorf("expected failed after panic, got %s", s.Training)
	}
	if s.DatasetObject != "" {
		t.Error("dataset pointer must be released after panic")
	}

	if len(f.packager.deletedArchive) != 1 || len(f.packager.deletedPhotos) != 5 {
		t.Errorf("panic cleanup incomplete: archives=%v photos=%d", f.packager.deletedArchive, len(f.packager.deletedPhotos))
	}
	if len(f.notifier.messages) != 1 || f.notifier.messages[0] != msgTrainingFailed {
		t.Errorf("user not notified after panic: %v", f.notifier.messages)
	}
}

func TestTrainingValidationRejection(t *testing.T) {
	f := newTrainerFixture(fastTrainerConfig(), pending())
	f.registry.Reset(1) // drop the uploaded photos

	if err := f.trainer.Run(context.Background(), 1); !errors.Is(err, session.ErrNotEnoughPhotos) {
		t.Fatalf("expected ErrNotEnoughPhotos, got %v", err)
	}

	if len(f.notifier.messages) != 0 {
		t.Error("validation rejections are surfaced by the caller, not notified here")
	}
}

func TestTrainingExclusivePerSession(t *testing.T) {
	f := newTrainerFixture(fastTrainerConfig(), pending())

	// a run is already in flight for this session
	if _, err := f.registry.BeginTraining(1, 5); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := f.trainer.Run(context.Background(), 1); !errors.Is(err, session.ErrTrainingActive) {
		t.Fatalf("expected ErrTrainingActive, got %v", err)
	}
	if f.gateway.polls != 0 {
		t.Error("rejected run must not touch the gateway")
	}
}

func TestDeleteModel(t *testing.T) {
	f := newTrainerFixture(fastTrainerConfig(), succeededTraining("v123"))

	if err := f.trainer.Run(context.Background(), 1); err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := f.trainer.DeleteModel(context.Background(), 1); err != nil {
		t.Fatalf("delete model: %v", err)
	}

	if len(f.gateway.deleted) != 1 || f.gateway.deleted[0] != "v123" {
		t.Errorf("remote artifact not deleted: %v", f.gateway.deleted)
	}
	if _, ok := f.store.records[1]; ok {
		t.Error("model record not removed")
	}
	if got := f.registry.Snapshot(1).Training; got != session.TrainingIdle {
		t.Errorf("session not reset: %s", got)
	}

	// deleting again: nothing trained anymore
	if err := f.trainer.DeleteModel(context.Background(), 1); !errors.Is(err, session.ErrNoModel) {
		t.Errorf("expected ErrNoModel, got %v", err)
	}
}
