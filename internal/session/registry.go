package session

import (
	"errors"
	"time"

	"github.com/bowerhall/visage/internal/prompt"
)

var (
	ErrTooManyPhotos    = errors.New("photo limit reached")
	ErrNotEnoughPhotos  = errors.New("not enough photos to start training")
	ErrTrainingActive   = errors.New("training already in progress")
	ErrModelReady       = errors.New("model already trained")
	ErrNoModel          = errors.New("no trained model")
	ErrNotTraining      = errors.New("session is not training")
	ErrPromptNotReady   = errors.New("prompt is not ready to generate")
	ErrWrongPromptState = errors.New("unexpected prompt step")
)

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*entry)}
}

func (r *Registry) get(userID int64) *entry {
	r.mu.RLock()

	e, ok := r.sessions[userID]
	r.mu.RUnlock()

	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok = r.sessions[userID]; ok {
		return e
	}

	e = &entry{s: Session{UserID: userID, LastActivityAt: time.Now()}}
	r.sessions[userID] = e

	return e
}

// Update runs fn with exclusive access to the user's session.
func (r *Registry) Update(userID int64, fn func(*Session) error) error {
	e := r.get(userID)

	e.mu.Lock()
	defer e.mu.Unlock()

	return fn(&e.s)
}

// View runs fn against a copy of the session. The copy shares no photo
// slice or selection map with the registry, so callers may keep it.
func (r *Registry) View(userID int64, fn func(Session)) {
	e := r.get(userID)

	e.mu.Lock()
	s := e.s
	s.Photos = append([]Photo(nil), e.s.Photos...)
	if e.s.Selection.Choices != nil {
		s.Selection.Choices = make(map[prompt.Category]prompt.Choice, len(e.s.Selection.Choices))
		for k, v := range e.s.Selection.Choices {
			s.Selection.Choices[k] = v
		}
	}
	if e.s.Selection.Categories != nil {
		s.Selection.Categories = make(map[prompt.Category]bool, len(e.s.Selection.Categories))
		for k, v := range e.s.Selection.Categories {
			s.Selection.Categories[k] = v
		}
	}
	e.mu.Unlock()

	fn(s)
}

// Snapshot returns a copy of the session.
func (r *Registry) Snapshot(userID int64) Session {
	var out Session
	r.View(userID, func(s Session) { out = s })
	return out
}

// Touch records inbound activity for idle-expiry accounting.
func (r *Registry) Touch(userID int64) {
	r.Update(userID, func(s *Session) error {
		s.LastActivityAt = time.Now()
		return nil
	})
}

// Count reports how many sessions the registry holds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// IdleBefore returns ids of sessions with no activity since cutoff that
// are not mid-training. Running trainings own cleanup of their session.
func (r *Registry) IdleBefore(cutoff time.Time) []int64 {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var ids []int64
	for _, e := range entries {
		e.mu.Lock()
		if e.s.LastActivityAt.Before(cutoff) && e.s.Training != TrainingRunning {
			ids = append(ids, e.s.UserID)
		}
		e.mu.Unlock()
	}

	return ids
}

// AppendPhoto adds one accepted photo if the session can take it and
// returns the new count. A failed session implicitly resets to idle with
// an empty photo set before the append.
func (r *Registry) AppendPhoto(userID int64, storagePath string, maxPhotos int) (int, error) {
	var count int

	err := r.Update(userID, func(s *Session) error {
		s.LastActivityAt = time.Now()

		switch s.Training {
		case TrainingRunning:
			return ErrTrainingActive
		case TrainingReady:
			return ErrModelReady
		case TrainingFailed:
			s.Photos = nil
			s.Training = TrainingIdle
		}

		if len(s.Photos) >= maxPhotos {
			return ErrTooManyPhotos
		}

		s.Photos = append(s.Photos, Photo{StoragePath: storagePath, UploadedAt: time.Now()})
		count = len(s.Photos)

		return nil
	})

	return count, err
}

// BeginTraining guards and performs the idle -> training transition in
// one critical section, returning a copy of the photo set the attempt
// owns. This guard is what keeps coordinator instances exclusive per id.
func (r *Registry) BeginTraining(userID int64, minPhotos int) ([]Photo, error) {
	var photos []Photo

	err := r.Update(userID, func(s *Session) error {
		switch s.Training {
		case TrainingRunning:
			return ErrTrainingActive
		case TrainingReady:
			return ErrModelReady
		}

		if len(s.Photos) < minPhotos {
			return ErrNotEnoughPhotos
		}

		s.Training = TrainingRunning
		s.LastActivityAt = time.Now()
		photos = append([]Photo(nil), s.Photos...)

		return nil
	})

	return photos, err
}

// SetDataset records the packaged dataset artifact the attempt owns.
func (r *Registry) SetDataset(userID int64, object string) {
	r.Update(userID, func(s *Session) error {
		s.DatasetObject = object
		return nil
	})
}

// SetTrainingJob records the in-flight remote job id.
func (r *Registry) SetTrainingJob(userID int64, jobID string) {
	r.Update(userID, func(s *Session) error {
		s.TrainingJobID = jobID
		return nil
	})
}

// CompleteTraining moves training -> ready. The photo set is cleared
// here and nowhere else; source material is no longer needed once a
// model exists.
func (r *Registry) CompleteTraining(userID int64, modelVersion, triggerWord string) error {
	return r.Update(userID, func(s *Session) error {
		if s.Training != TrainingRunning {
			return ErrNotTraining
		}

		s.Training = TrainingReady
		s.ModelVersion = modelVersion
		s.TriggerWord = triggerWord
		s.Photos = nil
		s.DatasetObject = ""
		s.TrainingJobID = ""
		s.LastActivityAt = time.Now()

		return nil
	})
}

// FailTraining moves training -> failed and releases the dataset
// pointer. Photos stay: the next upload resets the session to idle.
func (r *Registry) FailTraining(userID int64) error {
	return r.Update(userID, func(s *Session) error {
		if s.Training != TrainingRunning {
			return ErrNotTraining
		}

		s.Training = TrainingFailed
		s.DatasetObject = ""
		s.TrainingJobID = ""

		return nil
	})
}

// WarmModel hydrates a cold session from the durable model store after a
// restart. It only applies to sessions that have not accumulated state.
func (r *Registry) WarmModel(userID int64, modelVersion, triggerWord string) {
	r.Update(userID, func(s *Session) error {
		if s.Training != TrainingIdle || len(s.Photos) > 0 {
			return nil
		}

		s.Training = TrainingReady
		s.ModelVersion = modelVersion
		s.TriggerWord = triggerWord

		return nil
	})
}

// GenerationInput is everything a generation attempt needs, captured
// atomically at submission time.
type GenerationInput struct {
	ModelVersion string
	TriggerWord  string
	Selection    prompt.Selection
	Gender       prompt.Gender
}

// BeginGeneration validates readiness, captures the assembled prompt
// fragments, and clears them so the next generation starts fresh. The
// training state is left untouched.
func (r *Registry) BeginGeneration(userID int64) (GenerationInput, error) {
	var in GenerationInput

	err := r.Update(userID, func(s *Session) error {
		if s.Training != TrainingReady || s.ModelVersion == "" {
			return ErrNoModel
		}
		if s.Prompt != PromptReady {
			return ErrPromptNotReady
		}

		in = GenerationInput{
			ModelVersion: s.ModelVersion,
			TriggerWord:  s.TriggerWord,
			Selection:    s.Selection,
			Gender:       s.Gender,
		}

		s.Prompt = PromptIdle
		s.Selection = prompt.Selection{}
		s.LastActivityAt = time.Now()

		return nil
	})

	return in, err
}

// Reset clears every field back to initial defaults. Used on model
// deletion, moderation failure, and idle expiry.
func (r *Registry) Reset(userID int64) {
	r.Update(userID, func(s *Session) error {
		*s = Session{UserID: userID, LastActivityAt: time.Now()}
		return nil
	})
}
