package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bowerhall/visage/internal/prompt"
	"github.com/bowerhall/visage/internal/session"
)

func fastGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		PollInterval:         time.Millisecond,
		ErrorBackoff:         time.Millisecond,
		MaxConsecutiveErrors: 3,
		Timeout:              time.Second,
		MaxOutputs:           4,
	}
}

type generatorFixture struct {
	registry *session.Registry
	gateway  *fakeGateway
	notifier *fakeNotifier
	gen      *Generator
}

// newGeneratorFixture builds a session with a trained model and a
// completed prompt wizard, ready to generate.
func newGeneratorFixture(t *testing.T, cfg GeneratorConfig, script ...pollResult) *generatorFixture {
	t.Helper()

	f := &generatorFixture{
		registry: session.NewRegistry(),
		gateway:  &fakeGateway{script: script},
		notifier: &fakeNotifier{},
	}
	f.gen = NewGenerator(f.registry, f.gateway, f.notifier, cfg)

	for i := 0; i < 5; i++ {
		f.registry.AppendPhoto(1, fmt.Sprintf("u1/%d.jpg", i), 10)
	}
	if _, err := f.registry.BeginTraining(1, 5); err != nil {
		t.Fatalf("begin training: %v", err)
	}
	if err := f.registry.CompleteTraining(1, "v123", "TOK1"); err != nil {
		t.Fatalf("complete training: %v", err)
	}

	steps := []func() error{
		func() error { return f.registry.StartWizard(1, prompt.GenderFemale) },
		func() error { return f.registry.SelectStyle(1, prompt.StyleCinematic) },
		func() error { return f.registry.SelectLocation(1, prompt.LocationCity) },
		func() error { return f.registry.SelectClothing(1, prompt.ClothingEvening) },
		func() error { return f.registry.OfferCategories(1) },
		func() error { _, err := f.registry.ConfirmCategories(1); return err },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("wizard step %d: %v", i, err)
		}
	}

	return f
}

func TestGenerationSuccess(t *testing.T) {
	f := newGeneratorFixture(t, fastGeneratorConfig(),
		pending(),
		succeededGeneration("https://img.test/a.png", "https://img.test/b.png"),
	)

	if err := f.gen.Run(context.Background(), 1); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.notifier.images) != 2 {
		t.Fatalf("expected 2 delivered images, got %d", len(f.notifier.images))
	}
	if f.notifier.images[0] != "https://img.test/a.png" {
		t.Errorf("unexpected first image: %s", f.notifier.images[0])
	}

	in := f.gateway.prediction
	if !strings.HasPrefix(in.Prompt, "photo of TOK1 woman") {
		t.Errorf("prompt must lead with the trigger word: %q", in.Prompt)
	}
	if !strings.Contains(in.Prompt, "cinematic film still") {
		t.Errorf("style fragment missing: %q", in.Prompt)
	}
	if in.NegativePrompt == "" {
		t.Error("negative prompt not set")
	}

	s := f.registry.Snapshot(1)
	if s.Training != session.TrainingReady {
		t.Errorf("generation must not disturb training state, got %s", s.Training)
	}
	if s.Prompt != session.PromptIdle || s.Selection.Style != "" {
		t.Errorf("prompt not cleared after submission: state=%s style=%q", s.Prompt, s.Selection.Style)
	}
}

func TestGenerationTruncatesOutputs(t *testing.T) {
	cfg := fastGeneratorConfig()
	cfg.MaxOutputs = 2

	f := newGeneratorFixture(t, cfg,
		succeededGeneration("u1", "u2", "u3", "u4"),
	)

	if err := f.gen.Run(context.Background(), 1); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.notifier.images) != 2 {
		t.Errorf("expected delivery capped at 2, got %d", len(f.notifier.images))
	}
}

func TestGenerationRemoteFailureKeepsModel(t *testing.T) {
	f := newGeneratorFixture(t, fastGeneratorConfig(), pending(), failed())

	if err := f.gen.Run(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}

	s := f.registry.Snapshot(1)
	if s.Training != session.TrainingReady || s.ModelVersion != "v123" {
		t.Errorf("model must survive a failed generation: %s %q", s.Training, s.ModelVersion)
	}

	if len(f.notifier.messages) != 1 || f.notifier.messages[0] != msgGenerationFailed {
		t.Errorf("user not notified: %v", f.notifier.messages)
	}
	if len(f.notifier.images) != 0 {
		t.Error("no images expected on failure")
	}
}

func TestGenerationTimeout(t *testing.T) {
	cfg := fastGeneratorConfig()
	cfg.Timeout = 20 * time.Millisecond

	f := newGeneratorFixture(t, cfg, pending())

	if err := f.gen.Run(context.Background(), 1); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	if got := f.registry.Snapshot(1).Training; got != session.TrainingReady {
		t.Errorf("model must survive a timed-out generation, got %s", got)
	}
}

func TestGenerationRequiresReadyPrompt(t *testing.T) {
	f := newGeneratorFixture(t, fastGeneratorConfig(), succeededGeneration("u1"))

	// consume the ready prompt once
	if err := f.gen.Run(context.Background(), 1); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// second run has no assembled prompt left
	if err := f.gen.Run(context.Background(), 1); !errors.Is(err, session.ErrPromptNotReady) {
		t.Fatalf("expected ErrPromptNotReady, got %v", err)
	}
}

func TestGenerationWithoutModel(t *testing.T) {
	f := &generatorFixture{
		registry: session.NewRegistry(),
		gateway:  &fakeGateway{script: []pollResult{pending()}},
		notifier: &fakeNotifier{},
	}
	f.gen = NewGenerator(f.registry, f.gateway, f.notifier, fastGeneratorConfig())

	if err := f.gen.Run(context.Background(), 7); !errors.Is(err, session.ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
}
