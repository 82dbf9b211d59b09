// Package translate turns free-text prompt details into English using
// the Anthropic API. Generation models respond poorly to non-English
// fragments, so user-typed details pass through here before they join
// the prompt.
package translate

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bowerhall/visage/internal/logger"
)

const maxRetries = 3
const baseDelay = 2 * time.Second

const systemPrompt = "You translate short image-prompt fragments into English. " +
	"Reply with the translation only, no commentary. " +
	"If the text is already English, reply with it unchanged."

type Translator struct {
	client  anthropic.Client
	model   string
	enabled bool
}

// New builds a Translator. With an empty API key translation is
// disabled and Translate degrades to identity.
func New(apiKey, model string) *Translator {
	if apiKey == "" {
		return &Translator{}
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &Translator{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		enabled: true,
	}
}

func (t *Translator) Enabled() bool {
	return t.enabled
}

// Translate returns the English rendering of text. Any failure degrades
// to the original input: a prompt with untranslated details still
// generates, just worse.
func (t *Translator) Translate(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if !t.enabled || text == "" {
		return text
	}

	var resp *anthropic.Message
	var err error
	for attempt := range maxRetries {
		resp, err = t.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     t.model,
			MaxTokens: 512,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
			},
		})
		if err == nil {
			break
		}
		if !isRetryableError(err) {
			break
		}
		if attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt))
		}
	}
	if err != nil {
		logger.Warn("translation failed, using original text", "error", err)
		return text
	}

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out = block.Text
		}
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return text
	}
	return out
}

func isRetryableError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "529") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "Overloaded") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "502")
}
