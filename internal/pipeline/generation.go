package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/bowerhall/visage/internal/logger"
	"github.com/bowerhall/visage/internal/prompt"
	"github.com/bowerhall/visage/internal/replicate"
	"github.com/bowerhall/visage/internal/session"
)

const msgGenerationFailed = "Couldn't generate images this time. Your model is fine, try /generate again."

type GeneratorConfig struct {
	PollInterval         time.Duration
	ErrorBackoff         time.Duration
	MaxConsecutiveErrors int

	// Timeout bounds the poll loop. The remote API normally reaches a
	// terminal status well before this; the ceiling only guards against
	// a stuck job pinning the worker forever.
	Timeout time.Duration

	MaxOutputs int
}

// Generator drives one generation request from an assembled prompt to
// delivered images. A failed generation never touches the training
// state: the trained model stays usable.
type Generator struct {
	registry *session.Registry
	gateway  Gateway
	notify   Notifier
	cfg      GeneratorConfig
}

func NewGenerator(registry *session.Registry, gateway Gateway, notify Notifier, cfg GeneratorConfig) *Generator {
	return &Generator{
		registry: registry,
		gateway:  gateway,
		notify:   notify,
		cfg:      cfg,
	}
}

// Run submits the captured prompt and polls to completion. Prompt
// fields are cleared at submission time by BeginGeneration, so the next
// wizard run starts fresh whatever happens here.
func (g *Generator) Run(ctx context.Context, userID int64) error {
	in, err := g.registry.BeginGeneration(userID)
	if err != nil {
		// validation failure, caller surfaces it
		return err
	}

	promptText := prompt.Build(in.TriggerWord, in.Selection, in.Gender)
	logger.Info("generation started", "user", userID, "prompt_chars", len(promptText))

	jobID, err := g.gateway.CreatePrediction(ctx, in.ModelVersion, replicate.GenerationInput{
		Prompt:         promptText,
		NegativePrompt: prompt.Negative(),
		NumOutputs:     g.cfg.MaxOutputs,
	})
	if err != nil {
		g.notify.Notify(userID, msgGenerationFailed)
		return fmt.Errorf("submit generation: %w", err)
	}

	logger.Info("generation job submitted", "user", userID, "job", jobID)

	deadline := time.Now().Add(g.cfg.Timeout)
	consecutive := 0
	var lastErr error

	for {
		if time.Now().After(deadline) {
			g.notify.Notify(userID, msgGenerationFailed)
			return fmt.Errorf("job %s: %w", jobID, ErrTimeout)
		}

		if err := sleep(ctx, g.cfg.PollInterval); err != nil {
			g.notify.Notify(userID, msgGenerationFailed)
			return err
		}

		job, err := g.gateway.Get(ctx, jobID)
		if err != nil {
			consecutive++
			lastErr = err
			logger.Warn("generation poll failed", "user", userID, "job", jobID, "consecutive", consecutive, "error", err)

			if consecutive >= g.cfg.MaxConsecutiveErrors {
				g.notify.Notify(userID, msgGenerationFailed)
				return &ConsecutiveFailureError{Attempts: consecutive, Last: lastErr}
			}

			if err := sleep(ctx, g.cfg.ErrorBackoff); err != nil {
				g.notify.Notify(userID, msgGenerationFailed)
				return err
			}
			continue
		}

		consecutive = 0

		switch job.Status {
		case replicate.StatusSucceeded:
			return g.deliver(userID, job, jobID)

		case replicate.StatusFailed, replicate.StatusCanceled:
			logger.Warn("generation job ended", "user", userID, "job", jobID, "status", job.Status, "remote_error", job.Error)
			g.notify.Notify(userID, msgGenerationFailed)
			return fmt.Errorf("job %s: remote status %s", jobID, job.Status)

		default:
			// still pending, keep polling
		}
	}
}

func (g *Generator) deliver(userID int64, job *replicate.Job, jobID string) error {
	urls, err := job.OutputURLs()
	if err != nil {
		g.notify.Notify(userID, msgGenerationFailed)
		return fmt.Errorf("job %s: %w", jobID, err)
	}

	if len(urls) > g.cfg.MaxOutputs {
		urls = urls[:g.cfg.MaxOutputs]
	}

	for i, url := range urls {
		caption := ""
		if i == 0 {
			caption = "Here you go! /generate for another one."
		}
		g.notify.NotifyImageURL(userID, url, caption)
	}

	logger.Info("generation delivered", "user", userID, "job", jobID, "outputs", len(urls))

	return nil
}
