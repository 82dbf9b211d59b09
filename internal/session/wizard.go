package session

import (
	"time"

	"github.com/bowerhall/visage/internal/prompt"
)

// Prompt-wizard transitions. Each step stores one fragment and advances
// the PromptState machine; editing states are re-entrant side branches
// that return to PromptReady after a single update. Every transition is
// guarded by the expected source state so a stale keyboard callback
// cannot corrupt a session.

// StartWizard begins prompt assembly for a ready model, discarding any
// half-built selection from a previous run.
func (r *Registry) StartWizard(userID int64, gender prompt.Gender) error {
	return r.Update(userID, func(s *Session) error {
		if s.Training != TrainingReady || s.ModelVersion == "" {
			return ErrNoModel
		}

		s.Prompt = PromptIdle
		s.Selection = prompt.Selection{
			Choices:    make(map[prompt.Category]prompt.Choice),
			Categories: make(map[prompt.Category]bool),
		}
		s.Gender = gender
		s.LastActivityAt = time.Now()

		return nil
	})
}

func (r *Registry) SelectStyle(userID int64, style prompt.Style) error {
	return r.Update(userID, func(s *Session) error {
		if s.Prompt != PromptIdle {
			return ErrWrongPromptState
		}

		s.Selection.Style = style
		s.Prompt = PromptStyleSelected

		return nil
	})
}

func (r *Registry) SelectLocation(userID int64, loc prompt.Location) error {
	return r.Update(userID, func(s *Session) error {
		switch s.Prompt {
		case PromptStyleSelected:
			s.Prompt = PromptLocationSelected
		case PromptEditingLocation:
			s.Prompt = PromptReady
		default:
			return ErrWrongPromptState
		}

		s.Selection.Location = loc

		return nil
	})
}

func (r *Registry) SelectClothing(userID int64, clothing prompt.Clothing) error {
	return r.Update(userID, func(s *Session) error {
		switch s.Prompt {
		case PromptLocationSelected:
			s.Prompt = PromptClothingSelected
		case PromptEditingClothing:
			s.Prompt = PromptReady
		default:
			return ErrWrongPromptState
		}

		s.Selection.Clothing = clothing

		return nil
	})
}

// OfferCategories moves the wizard into category selection.
func (r *Registry) OfferCategories(userID int64) error {
	return r.Update(userID, func(s *Session) error {
		if s.Prompt != PromptClothingSelected {
			return ErrWrongPromptState
		}

		s.Prompt = PromptSelectingCategories

		return nil
	})
}

// ToggleCategory flips one refinement axis on or off and reports the
// resulting membership.
func (r *Registry) ToggleCategory(userID int64, c prompt.Category) (bool, error) {
	var selected bool

	err := r.Update(userID, func(s *Session) error {
		if s.Prompt != PromptSelectingCategories {
			return ErrWrongPromptState
		}

		if s.Selection.Categories == nil {
			s.Selection.Categories = make(map[prompt.Category]bool)
		}

		s.Selection.Categories[c] = !s.Selection.Categories[c]
		selected = s.Selection.Categories[c]

		return nil
	})

	return selected, err
}

// ConfirmCategories finishes category selection. With nothing selected
// the wizard is already complete; otherwise it proceeds to per-category
// choices and returns the axes still needing one.
func (r *Registry) ConfirmCategories(userID int64) ([]prompt.Category, error) {
	var pending []prompt.Category

	err := r.Update(userID, func(s *Session) error {
		if s.Prompt != PromptSelectingCategories {
			return ErrWrongPromptState
		}

		pending = pendingCategories(&s.Selection)

		if len(pending) == 0 {
			s.Prompt = PromptReady
		} else {
			s.Prompt = PromptSelectingParams
		}

		return nil
	})

	return pending, err
}

// SelectChoice stores the choice for one selected category and returns
// the categories still pending. The wizard completes when none remain.
func (r *Registry) SelectChoice(userID int64, c prompt.Category, choice prompt.Choice) ([]prompt.Category, error) {
	var pending []prompt.Category

	err := r.Update(userID, func(s *Session) error {
		if s.Prompt != PromptSelectingParams {
			return ErrWrongPromptState
		}
		if !s.Selection.Categories[c] {
			return ErrWrongPromptState
		}

		if s.Selection.Choices == nil {
			s.Selection.Choices = make(map[prompt.Category]prompt.Choice)
		}

		s.Selection.Choices[c] = choice
		pending = pendingCategories(&s.Selection)

		if len(pending) == 0 {
			s.Prompt = PromptReady
		}

		return nil
	})

	return pending, err
}

func pendingCategories(sel *prompt.Selection) []prompt.Category {
	var pending []prompt.Category
	for _, c := range prompt.AllCategories() {
		if sel.Categories[c] {
			if _, ok := sel.Choices[c]; !ok {
				pending = append(pending, c)
			}
		}
	}
	return pending
}

func (r *Registry) EditLocation(userID int64) error {
	return r.enterEdit(userID, PromptEditingLocation)
}

func (r *Registry) EditClothing(userID int64) error {
	return r.enterEdit(userID, PromptEditingClothing)
}

func (r *Registry) EditDetails(userID int64) error {
	return r.enterEdit(userID, PromptEditingDetails)
}

func (r *Registry) enterEdit(userID int64, target PromptState) error {
	return r.Update(userID, func(s *Session) error {
		if s.Prompt != PromptReady {
			return ErrWrongPromptState
		}

		s.Prompt = target

		return nil
	})
}

// CancelWizard abandons prompt assembly from any step. The trained
// model is untouched.
func (r *Registry) CancelWizard(userID int64) {
	r.Update(userID, func(s *Session) error {
		s.Prompt = PromptIdle
		s.Selection = prompt.Selection{}
		s.LastActivityAt = time.Now()
		return nil
	})
}

// SetDetails stores free-text details (raw plus English translation)
// and closes the editing branch.
func (r *Registry) SetDetails(userID int64, raw, translated string) error {
	return r.Update(userID, func(s *Session) error {
		if s.Prompt != PromptEditingDetails {
			return ErrWrongPromptState
		}

		s.Selection.Details = raw
		s.Selection.TranslatedDetails = translated
		s.Prompt = PromptReady

		return nil
	})
}
