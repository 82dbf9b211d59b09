package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bowerhall/visage/internal/alerts"
	"github.com/bowerhall/visage/internal/bot"
	"github.com/bowerhall/visage/internal/config"
	"github.com/bowerhall/visage/internal/dataset"
	"github.com/bowerhall/visage/internal/health"
	"github.com/bowerhall/visage/internal/janitor"
	"github.com/bowerhall/visage/internal/logger"
	"github.com/bowerhall/visage/internal/models"
	"github.com/bowerhall/visage/internal/pipeline"
	"github.com/bowerhall/visage/internal/ratelimit"
	"github.com/bowerhall/visage/internal/replicate"
	"github.com/bowerhall/visage/internal/session"
	"github.com/bowerhall/visage/internal/storage"
	"github.com/bowerhall/visage/internal/subscription"
	"github.com/bowerhall/visage/internal/translate"
	"github.com/bowerhall/visage/internal/worker"
)

func init() {
	godotenv.Load()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	if !cfg.Storage.Enabled {
		logger.Fatal("storage credentials missing, set MINIO_ACCESS_KEY and MINIO_SECRET_KEY")
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatal("failed to create storage client", "error", err)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	if err := storageClient.Init(initCtx); err != nil {
		cancelInit()
		logger.Fatal("failed to init storage buckets", "error", err)
	}
	cancelInit()

	modelStore, err := models.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to open model store", "error", err)
	}
	defer modelStore.Close()

	registry := session.NewRegistry()
	warmSessions(registry, modelStore)

	gateway := replicate.NewClient(replicate.Config{
		APIToken:       cfg.Replicate.APIToken,
		BaseURL:        cfg.Replicate.BaseURL,
		TrainerVersion: cfg.Replicate.TrainerVersion,
	})

	packager := dataset.NewPackager(storageClient)
	translator := translate.New(cfg.Translator.APIKey, cfg.Translator.Model)
	if translator.Enabled() {
		logger.Info("translator enabled", "model", cfg.Translator.Model)
	}

	pool := worker.NewPool(cfg.Workers.PoolSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var channels []subscription.Channel
	if cfg.Subscription.Enabled {
		channels, err = subscription.Load(cfg.Subscription.ChannelsFile)
		if err != nil {
			logger.Fatal("failed to load channels file", "error", err)
		}
		logger.Info("subscription gate enabled", "channels", len(channels))
	}

	// the bot is both the front end and the notifier; the trainer and
	// generator are wired after it exists
	var trainer *pipeline.Trainer
	var generator *pipeline.Generator

	b, err := bot.New(bot.Config{
		Token:       cfg.Bot.Token,
		OwnerChatID: cfg.Bot.OwnerChatID,
		MinPhotos:   cfg.Training.MinPhotos,
		MaxPhotos:   cfg.Training.MaxPhotos,
		DailyCap:    cfg.Rates.DailyCap,
	}, bot.Deps{
		Registry:     registry,
		Trainer:      &trainerHandle{t: &trainer},
		Generator:    &generatorHandle{g: &generator},
		Pool:         pool,
		Photos:       storageClient,
		Translator:   translator,
		Gate:         nil, // set below, needs the bot as member checker
		TrainGate:    ratelimit.NewSlidingWindow(cfg.Rates.TrainWindow, cfg.Rates.TrainLimit),
		GenerateGate: ratelimit.NewSlidingWindow(cfg.Rates.GenerateWindow, cfg.Rates.GenerateLimit),
		Daily:        ratelimit.NewDailyQuota(cfg.Rates.DailyCap),
	})
	if err != nil {
		logger.Fatal("failed to create bot", "error", err)
	}

	b.SetGate(subscription.NewGate(channels, b))

	if cfg.Bot.OwnerChatID != 0 {
		alerter := alerts.New(func(msg string) {
			b.Notify(cfg.Bot.OwnerChatID, msg)
		}, time.Hour)

		pool.SetFailureHook(func(name string, err error) {
			alerter.Warn("worker", name, err)
		})
		logger.Info("operator alerting enabled", "chat", cfg.Bot.OwnerChatID)
	}

	pool.Start(ctx, cfg.Workers.PoolSize)

	trainer = pipeline.NewTrainer(registry, packager, gateway, modelStore, b, pipeline.TrainerConfig{
		MinPhotos:              cfg.Training.MinPhotos,
		PollInterval:           cfg.Training.PollInterval,
		ErrorBackoff:           cfg.Training.ErrorBackoff,
		MaxConsecutiveErrors:   cfg.Training.MaxConsecutiveErrors,
		Timeout:                cfg.Training.Timeout,
		KeepArtifactsOnFailure: cfg.Training.KeepArtifactsOnFailure,
	})

	generator = pipeline.NewGenerator(registry, gateway, b, pipeline.GeneratorConfig{
		PollInterval:         cfg.Generation.PollInterval,
		ErrorBackoff:         cfg.Training.ErrorBackoff,
		MaxConsecutiveErrors: cfg.Training.MaxConsecutiveErrors,
		Timeout:              cfg.Generation.Timeout,
		MaxOutputs:           cfg.Generation.MaxOutputs,
	})

	jan := janitor.New(registry, packager, storageClient, b, janitor.Config{
		IdleTTL:        cfg.Janitor.IdleTTL,
		ReportSchedule: cfg.Janitor.ReportSchedule,
		OwnerChatID:    cfg.Bot.OwnerChatID,
	})
	if err := jan.Start(); err != nil {
		logger.Fatal("failed to start janitor", "error", err)
	}

	healthSrv := health.NewServer(cfg.HealthAddr, registry, pool, storageClient)
	healthSrv.Start()

	go func() {
		if err := b.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Fatal("bot stopped", "error", err)
		}
	}()

	logger.Info("visage started",
		"storage", cfg.Storage.Endpoint,
		"db", cfg.DatabasePath,
		"workers", cfg.Workers.PoolSize,
		"health", cfg.HealthAddr,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	jan.Stop()
	pool.Stop()
	healthSrv.Shutdown(shutdownCtx)
}

// warmSessions restores trained-model identity for known users so a
// restart doesn't force anyone to retrain.
func warmSessions(registry *session.Registry, store *models.Store) {
	records, err := store.All()
	if err != nil {
		logger.Error("failed to load trained models", "error", err)
		return
	}

	for _, rec := range records {
		registry.WarmModel(rec.UserID, rec.ModelVersion, rec.TriggerWord)
	}

	if len(records) > 0 {
		logger.Info("sessions warmed", "models", len(records))
	}
}

// trainerHandle and generatorHandle break the construction cycle
// between the bot (which notifies) and the coordinators (which are
// notified through it). Both are set before the bot starts receiving
// updates.
type trainerHandle struct {
	t **pipeline.Trainer
}

func (h *trainerHandle) Run(ctx context.Context, userID int64) error {
	return (*h.t).Run(ctx, userID)
}

func (h *trainerHandle) DeleteModel(ctx context.Context, userID int64) error {
	return (*h.t).DeleteModel(ctx, userID)
}

type generatorHandle struct {
	g **pipeline.Generator
}

func (h *generatorHandle) Run(ctx context.Context, userID int64) error {
	return (*h.g).Run(ctx, userID)
}
