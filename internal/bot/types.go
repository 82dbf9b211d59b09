package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bowerhall/visage/internal/ratelimit"
	"github.com/bowerhall/visage/internal/session"
	"github.com/bowerhall/visage/internal/subscription"
	"github.com/bowerhall/visage/internal/translate"
	"github.com/bowerhall/visage/internal/worker"
)

// TrainRunner drives the training pipeline for one user.
type TrainRunner interface {
	Run(ctx context.Context, userID int64) error
	DeleteModel(ctx context.Context, userID int64) error
}

// GenerateRunner drives one generation request.
type GenerateRunner interface {
	Run(ctx context.Context, userID int64) error
}

// PhotoStore receives raw uploads.
type PhotoStore interface {
	Upload(ctx context.Context, bucket, name string, data []byte, contentType string) error
	Delete(ctx context.Context, bucket, name string) error
	PhotoBucket() string
}

type Config struct {
	Token       string
	OwnerChatID int64
	MinPhotos   int
	MaxPhotos   int
	DailyCap    int
}

// Bot is the Telegram front of the pipeline: it collects photos, walks
// the prompt wizard, and launches background jobs. All state lives in
// the session registry; the bot itself is stateless between updates.
type Bot struct {
	api       *tgbotapi.BotAPI
	registry  *session.Registry
	trainer   TrainRunner
	generator GenerateRunner
	pool      *worker.Pool
	photos    PhotoStore
	translate *translate.Translator
	gate      *subscription.Gate

	trainGate    *ratelimit.SlidingWindow
	generateGate *ratelimit.SlidingWindow
	daily        *ratelimit.DailyQuota

	cfg Config
}

type Deps struct {
	Registry     *session.Registry
	Trainer      TrainRunner
	Generator    GenerateRunner
	Pool         *worker.Pool
	Photos       PhotoStore
	Translator   *translate.Translator
	Gate         *subscription.Gate
	TrainGate    *ratelimit.SlidingWindow
	GenerateGate *ratelimit.SlidingWindow
	Daily        *ratelimit.DailyQuota
}

func New(cfg Config, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}

	return &Bot{
		api:          api,
		registry:     deps.Registry,
		trainer:      deps.Trainer,
		generator:    deps.Generator,
		pool:         deps.Pool,
		photos:       deps.Photos,
		translate:    deps.Translator,
		gate:         deps.Gate,
		trainGate:    deps.TrainGate,
		generateGate: deps.GenerateGate,
		daily:        deps.Daily,
		cfg:          cfg,
	}, nil
}

// SetGate installs the subscription gate. The gate needs the bot as its
// membership checker, so it is wired after construction.
func (b *Bot) SetGate(gate *subscription.Gate) {
	b.gate = gate
}
