package config

import "time"

type Config struct {
	DatabasePath string
	Timezone     string
	HealthAddr   string
	Bot          BotConfig
	Storage      StorageConfig
	Replicate    ReplicateConfig
	Training     TrainingConfig
	Generation   GenerationConfig
	Rates        RateConfig
	Translator   TranslatorConfig
	Subscription SubscriptionConfig
	Workers      WorkerConfig
	Janitor      JanitorConfig
}

type BotConfig struct {
	Token       string
	OwnerChatID int64 // operator chat for alerts and /status
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type ReplicateConfig struct {
	Enabled        bool
	APIToken       string
	BaseURL        string
	TrainerVersion string // version id of the fine-tuning model
}

type TrainingConfig struct {
	MinPhotos              int
	MaxPhotos              int
	PollInterval           time.Duration
	ErrorBackoff           time.Duration
	MaxConsecutiveErrors   int
	Timeout                time.Duration
	KeepArtifactsOnFailure bool
}

type GenerationConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	MaxOutputs   int
}

type RateConfig struct {
	TrainWindow    time.Duration
	TrainLimit     int
	GenerateWindow time.Duration
	GenerateLimit  int
	DailyCap       int
}

type TranslatorConfig struct {
	Enabled bool
	APIKey  string
	Model   string
}

type SubscriptionConfig struct {
	Enabled      bool
	ChannelsFile string
}

type WorkerConfig struct {
	PoolSize int
}

type JanitorConfig struct {
	IdleTTL        time.Duration
	ReportSchedule string // cron expression for the nightly storage report
}
