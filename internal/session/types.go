package session

import (
	"sync"
	"time"

	"github.com/bowerhall/visage/internal/prompt"
)

// TrainingState is the lifecycle of a user's personalized model.
type TrainingState int

const (
	TrainingIdle TrainingState = iota
	TrainingRunning
	TrainingReady
	TrainingFailed
)

func (s TrainingState) String() string {
	switch s {
	case TrainingIdle:
		return "idle"
	case TrainingRunning:
		return "training"
	case TrainingReady:
		return "ready"
	case TrainingFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PromptState is the prompt-wizard step, meaningful only once the
// training state is ready.
type PromptState int

const (
	PromptIdle PromptState = iota
	PromptStyleSelected
	PromptLocationSelected
	PromptClothingSelected
	PromptSelectingParams
	PromptSelectingCategories
	PromptReady
	PromptEditingLocation
	PromptEditingClothing
	PromptEditingDetails
)

func (s PromptState) String() string {
	switch s {
	case PromptIdle:
		return "idle"
	case PromptStyleSelected:
		return "style_selected"
	case PromptLocationSelected:
		return "location_selected"
	case PromptClothingSelected:
		return "clothing_selected"
	case PromptSelectingParams:
		return "selecting_params"
	case PromptSelectingCategories:
		return "selecting_categories"
	case PromptReady:
		return "ready_to_generate"
	case PromptEditingLocation:
		return "editing_location"
	case PromptEditingClothing:
		return "editing_clothing"
	case PromptEditingDetails:
		return "editing_details"
	default:
		return "unknown"
	}
}

// Photo is one accepted upload addressed by its storage object name.
type Photo struct {
	StoragePath string
	UploadedAt  time.Time
}

// Session is the per-user accumulated state spanning photo upload,
// training, and prompt assembly. Owned exclusively by the Registry;
// callers only see it inside View/Update critical sections.
type Session struct {
	UserID         int64
	Photos         []Photo
	Training       TrainingState
	DatasetObject  string // set only while Training == TrainingRunning
	TrainingJobID  string
	ModelVersion   string // set only once Training == TrainingReady
	TriggerWord    string
	Prompt         PromptState
	Selection      prompt.Selection
	Gender         prompt.Gender
	LastActivityAt time.Time
}

type entry struct {
	mu sync.Mutex
	s  Session
}

// Registry is a concurrency-safe map from user id to Session. Mutations
// for one id are serialized by the entry mutex; different ids proceed
// concurrently.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*entry
}
