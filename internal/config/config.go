package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

func Load() (*Config, error) {
	dbPath := os.Getenv("VISAGE_DB")
	if dbPath == "" {
		dbPath = "visage.db"
	}

	timezone := os.Getenv("TZ")
	if timezone == "" {
		timezone = "UTC"
	}

	healthAddr := os.Getenv("HEALTH_ADDR")
	if healthAddr == "" {
		healthAddr = ":8080"
	}

	botConfig, err := loadBotConfig()
	if err != nil {
		return nil, err
	}

	replicateConfig, err := loadReplicateConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabasePath: dbPath,
		Timezone:     timezone,
		HealthAddr:   healthAddr,
		Bot:          botConfig,
		Storage:      loadStorageConfig(),
		Replicate:    replicateConfig,
		Training:     loadTrainingConfig(),
		Generation:   loadGenerationConfig(),
		Rates:        loadRateConfig(),
		Translator:   loadTranslatorConfig(),
		Subscription: loadSubscriptionConfig(),
		Workers:      loadWorkerConfig(),
		Janitor:      loadJanitorConfig(),
	}, nil
}

func loadBotConfig() (BotConfig, error) {
	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		return BotConfig{}, fmt.Errorf("TELEGRAM_TOKEN not set")
	}

	var ownerChatID int64
	if id, err := strconv.ParseInt(os.Getenv("OWNER_CHAT_ID"), 10, 64); err == nil {
		ownerChatID = id
	}

	return BotConfig{
		Token:       token,
		OwnerChatID: ownerChatID,
	}, nil
}

func loadStorageConfig() StorageConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "minio:9000"
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	return StorageConfig{
		Enabled:   accessKey != "" && secretKey != "",
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
	}
}

func loadReplicateConfig() (ReplicateConfig, error) {
	token := os.Getenv("REPLICATE_API_TOKEN")
	if token == "" {
		return ReplicateConfig{}, fmt.Errorf("REPLICATE_API_TOKEN not set")
	}

	baseURL := os.Getenv("REPLICATE_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}

	trainerVersion := os.Getenv("REPLICATE_TRAINER_VERSION")
	if trainerVersion == "" {
		return ReplicateConfig{}, fmt.Errorf("REPLICATE_TRAINER_VERSION not set")
	}

	return ReplicateConfig{
		Enabled:        true,
		APIToken:       token,
		BaseURL:        baseURL,
		TrainerVersion: trainerVersion,
	}, nil
}

func loadTrainingConfig() TrainingConfig {
	minPhotos := 5
	if n, err := strconv.Atoi(os.Getenv("TRAIN_MIN_PHOTOS")); err == nil && n > 0 {
		minPhotos = n
	}

	maxPhotos := 10
	if n, err := strconv.Atoi(os.Getenv("TRAIN_MAX_PHOTOS")); err == nil && n >= minPhotos {
		maxPhotos = n
	}

	timeout := 600 * time.Second
	if n, err := strconv.Atoi(os.Getenv("TRAIN_TIMEOUT_SECONDS")); err == nil && n > 0 {
		timeout = time.Duration(n) * time.Second
	}

	return TrainingConfig{
		MinPhotos:              minPhotos,
		MaxPhotos:              maxPhotos,
		PollInterval:           10 * time.Second,
		ErrorBackoff:           5 * time.Second,
		MaxConsecutiveErrors:   3,
		Timeout:                timeout,
		KeepArtifactsOnFailure: os.Getenv("TRAIN_KEEP_ARTIFACTS") == "true",
	}
}

func loadGenerationConfig() GenerationConfig {
	timeout := 300 * time.Second
	if n, err := strconv.Atoi(os.Getenv("GENERATE_TIMEOUT_SECONDS")); err == nil && n > 0 {
		timeout = time.Duration(n) * time.Second
	}

	maxOutputs := 4
	if n, err := strconv.Atoi(os.Getenv("GENERATE_MAX_OUTPUTS")); err == nil && n > 0 {
		maxOutputs = n
	}

	return GenerationConfig{
		PollInterval: 5 * time.Second,
		Timeout:      timeout,
		MaxOutputs:   maxOutputs,
	}
}

func loadRateConfig() RateConfig {
	dailyCap := 50
	if n, err := strconv.Atoi(os.Getenv("RATE_DAILY_CAP")); err == nil && n > 0 {
		dailyCap = n
	}

	return RateConfig{
		TrainWindow:    time.Hour,
		TrainLimit:     1,
		GenerateWindow: time.Minute,
		GenerateLimit:  2,
		DailyCap:       dailyCap,
	}
}

func loadTranslatorConfig() TranslatorConfig {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")

	model := os.Getenv("TRANSLATOR_MODEL")
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	return TranslatorConfig{
		Enabled: apiKey != "",
		APIKey:  apiKey,
		Model:   model,
	}
}

func loadSubscriptionConfig() SubscriptionConfig {
	channelsFile := os.Getenv("CHANNELS_FILE")
	if channelsFile == "" {
		channelsFile = "channels.yml"
	}

	_, err := os.Stat(channelsFile)

	return SubscriptionConfig{
		Enabled:      err == nil,
		ChannelsFile: channelsFile,
	}
}

func loadWorkerConfig() WorkerConfig {
	size := 16
	if n, err := strconv.Atoi(os.Getenv("WORKER_POOL_SIZE")); err == nil && n > 0 {
		size = n
	}

	return WorkerConfig{PoolSize: size}
}

func loadJanitorConfig() JanitorConfig {
	idleTTL := 72 * time.Hour
	if n, err := strconv.Atoi(os.Getenv("SESSION_IDLE_HOURS")); err == nil && n > 0 {
		idleTTL = time.Duration(n) * time.Hour
	}

	schedule := os.Getenv("STORAGE_REPORT_SCHEDULE")
	if schedule == "" {
		schedule = "0 3 * * *"
	}

	return JanitorConfig{
		IdleTTL:        idleTTL,
		ReportSchedule: schedule,
	}
}
