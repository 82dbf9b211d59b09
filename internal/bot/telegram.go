package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/bowerhall/visage/internal/logger"
	"github.com/bowerhall/visage/internal/session"
	"github.com/bowerhall/visage/internal/worker"
)

const maxPhotoSize = 20 * 1024 * 1024 // Telegram image ceiling

const welcomeMessage = `Send me %d-%d photos of yourself, then use /train to build your personal model.

Once it's ready, /generate creates new images of you in any style.

/status shows where you are, /delete removes your model.`

// Start runs the long-poll loop until ctx is canceled. Each update is
// handled in its own goroutine; per-user ordering is enforced by the
// session registry, not here.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	logger.Info("bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update := <-updates:
			switch {
			case update.CallbackQuery != nil:
				go b.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil:
				go b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.Chat.ID
	b.registry.Touch(userID)

	switch {
	case msg.IsCommand():
		b.handleCommand(ctx, msg)
	case len(msg.Photo) > 0:
		b.handlePhoto(ctx, msg)
	case msg.Text != "":
		b.handleText(ctx, msg)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.Chat.ID
	logger.Info("command received", "user", userID, "command", msg.Command())

	switch msg.Command() {
	case "start":
		b.reply(userID, fmt.Sprintf(welcomeMessage, b.cfg.MinPhotos, b.cfg.MaxPhotos))
	case "train":
		b.handleTrain(userID)
	case "generate":
		b.handleGenerate(userID)
	case "status":
		b.handleStatus(userID)
	case "delete":
		b.handleDelete(ctx, userID)
	case "cancel":
		b.registry.CancelWizard(userID)
		b.reply(userID, "Canceled. /generate to start over.")
	default:
		b.reply(userID, "Unknown command. Try /start.")
	}
}

// handlePhoto stores the largest rendition of an uploaded photo and
// reports collection progress.
func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.Chat.ID

	photo := msg.Photo[len(msg.Photo)-1]
	data, contentType, err := b.downloadFile(photo.FileID)
	if err != nil {
		logger.Error("photo download failed", "user", userID, "error", err)
		b.reply(userID, "Couldn't read that photo, please send it again.")
		return
	}

	count, err := b.storePhoto(ctx, userID, data, contentType)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTooManyPhotos):
			b.reply(userID, fmt.Sprintf("You already have %d photos, that's the maximum. Use /train.", b.cfg.MaxPhotos))
		case errors.Is(err, session.ErrTrainingActive):
			b.reply(userID, "Training is running, hold on.")
		case errors.Is(err, session.ErrModelReady):
			b.reply(userID, "Your model is already trained. /delete it first to start over.")
		default:
			logger.Error("photo store failed", "user", userID, "error", err)
			b.reply(userID, "Couldn't save that photo, please try again.")
		}
		return
	}

	logger.Info("photo accepted", "user", userID, "count", count)

	text := fmt.Sprintf("Photo %d/%d saved.", count, b.cfg.MaxPhotos)
	if count == b.cfg.MinPhotos {
		text += " That's enough to /train, more photos improve the result."
	} else if count < b.cfg.MinPhotos {
		text += fmt.Sprintf(" Need at least %d to train.", b.cfg.MinPhotos)
	}
	b.reply(userID, text)
}

// storePhoto uploads the photo bytes and registers the object with the
// session. A rejected registration removes the uploaded object again so
// nothing unreferenced stays behind in the bucket.
func (b *Bot) storePhoto(ctx context.Context, userID int64, data []byte, contentType string) (int, error) {
	objectName := fmt.Sprintf("users/%d/%s%s", userID, uuid.NewString(), extFor(contentType))
	bucket := b.photos.PhotoBucket()

	if err := b.photos.Upload(ctx, bucket, objectName, data, contentType); err != nil {
		return 0, fmt.Errorf("upload photo: %w", err)
	}

	count, err := b.registry.AppendPhoto(userID, objectName, b.cfg.MaxPhotos)
	if err != nil {
		if delErr := b.photos.Delete(ctx, bucket, objectName); delErr != nil {
			logger.Warn("orphaned photo cleanup failed", "user", userID, "object", objectName, "error", delErr)
		}
		return 0, err
	}

	return count, nil
}

// handleText routes free text. Outside the details-editing step text is
// not part of any flow.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.Chat.ID

	s := b.registry.Snapshot(userID)
	if s.Prompt != session.PromptEditingDetails {
		b.reply(userID, "Send photos, or use /train and /generate.")
		return
	}

	raw := strings.TrimSpace(msg.Text)
	translated := b.translate.Translate(ctx, raw)

	if err := b.registry.SetDetails(userID, raw, translated); err != nil {
		logger.Warn("details rejected", "user", userID, "error", err)
		return
	}

	b.showSummary(userID)
}

func (b *Bot) handleTrain(userID int64) {
	if !b.checkSubscription(userID) {
		return
	}

	s := b.registry.Snapshot(userID)
	switch {
	case s.Training == session.TrainingRunning:
		b.reply(userID, "Training is already running.")
		return
	case s.Training == session.TrainingReady:
		b.reply(userID, "Your model is already trained. /generate to use it, /delete to start over.")
		return
	case len(s.Photos) < b.cfg.MinPhotos:
		b.reply(userID, fmt.Sprintf("You have %d photos, need at least %d.", len(s.Photos), b.cfg.MinPhotos))
		return
	}

	if !b.trainGate.TryAcquire(userID) {
		b.reply(userID, "You just started a training, wait a bit before the next one.")
		return
	}

	err := b.pool.Submit(fmt.Sprintf("train:%d", userID), func(ctx context.Context) error {
		err := b.trainer.Run(ctx, userID)
		if isValidationError(err) {
			b.reply(userID, "Can't start training right now, check /status.")
		}
		return err
	})
	if err != nil {
		// the job never started, give the hour-long slot back
		b.trainGate.Release(userID)
		logger.Error("train submit failed", "user", userID, "error", err)
		b.reply(userID, "The system is busy, try again in a minute.")
		return
	}

	b.reply(userID, "Training started. This usually takes a few minutes, I'll message you when it's done.")
}

// handleGenerate opens the prompt wizard for a trained model.
func (b *Bot) handleGenerate(userID int64) {
	if !b.checkSubscription(userID) {
		return
	}

	s := b.registry.Snapshot(userID)
	if s.Training != session.TrainingReady {
		if s.Training == session.TrainingRunning {
			b.reply(userID, "Training is still running, I'll tell you when your model is ready.")
		} else {
			b.reply(userID, fmt.Sprintf("No trained model yet. Send %d-%d photos and /train first.", b.cfg.MinPhotos, b.cfg.MaxPhotos))
		}
		return
	}

	b.askGender(userID)
}

func (b *Bot) handleStatus(userID int64) {
	s := b.registry.Snapshot(userID)

	var bld strings.Builder
	fmt.Fprintf(&bld, "State: %s\n", s.Training)
	fmt.Fprintf(&bld, "Photos: %d/%d\n", len(s.Photos), b.cfg.MaxPhotos)
	if s.ModelVersion != "" {
		bld.WriteString("Model: trained\n")
	}
	fmt.Fprintf(&bld, "Generations today: %d/%d", b.daily.Used(userID), b.cfg.DailyCap)

	b.reply(userID, bld.String())
}

func (b *Bot) handleDelete(ctx context.Context, userID int64) {
	err := b.trainer.DeleteModel(ctx, userID)
	switch {
	case err == nil:
		b.reply(userID, "Your model and data are deleted. Send new photos whenever you like.")
	case errors.Is(err, session.ErrNoModel):
		b.registry.Reset(userID)
		b.reply(userID, "Nothing trained yet, but I cleared your photos.")
	default:
		logger.Error("model delete failed", "user", userID, "error", err)
		b.reply(userID, "Couldn't delete the model, try again later.")
	}
}

// startGeneration runs the admission gates and hands the job to the
// pool. Gates are acquire-on-check; any exit before the job is accepted
// releases what was already consumed.
func (b *Bot) startGeneration(userID int64) {
	if !b.generateGate.TryAcquire(userID) {
		b.reply(userID, "Easy! Wait a minute between generations.")
		return
	}
	if !b.daily.TryAcquire(userID) {
		b.generateGate.Release(userID)
		b.reply(userID, fmt.Sprintf("You reached today's limit of %d generations. Come back tomorrow.", b.cfg.DailyCap))
		return
	}

	err := b.pool.Submit(fmt.Sprintf("generate:%d", userID), func(ctx context.Context) error {
		err := b.generator.Run(ctx, userID)
		if isValidationError(err) {
			b.reply(userID, "Your prompt expired, run /generate again.")
		}
		return err
	})
	if err != nil {
		b.generateGate.Release(userID)
		b.daily.Release(userID)
		if errors.Is(err, worker.ErrQueueFull) {
			b.reply(userID, "The system is busy, try again in a minute.")
		} else {
			logger.Error("generate submit failed", "user", userID, "error", err)
		}
		return
	}

	b.reply(userID, "Generating, give me a moment...")
}

func (b *Bot) checkSubscription(userID int64) bool {
	if b.gate == nil || !b.gate.Enabled() {
		return true
	}

	missing := b.gate.Missing(userID)
	if len(missing) == 0 {
		return true
	}

	var bld strings.Builder
	bld.WriteString("To use the bot, join:\n")
	for _, ch := range missing {
		fmt.Fprintf(&bld, "• %s %s\n", ch.Name, ch.InviteURL)
	}
	b.reply(userID, bld.String())

	return false
}

// isValidationError reports errors a coordinator returns before taking
// ownership; the user gets a hint instead of silence.
func isValidationError(err error) bool {
	return errors.Is(err, session.ErrNotEnoughPhotos) ||
		errors.Is(err, session.ErrTrainingActive) ||
		errors.Is(err, session.ErrModelReady) ||
		errors.Is(err, session.ErrNoModel) ||
		errors.Is(err, session.ErrPromptNotReady)
}

func (b *Bot) downloadFile(fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", err
	}

	url := file.Link(b.api.Token)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize))
	if err != nil {
		return nil, "", err
	}

	return data, http.DetectContentType(data), nil
}

func extFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// reply sends plain text without failing the caller.
func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		logger.Error("send failed", "chat", chatID, "error", err)
	}
}

// Notify implements the pipeline notifier over plain messages.
func (b *Bot) Notify(chatID int64, text string) {
	b.reply(chatID, text)
}

// NotifyImageURL delivers a generated image by URL; Telegram fetches it
// server side.
func (b *Bot) NotifyImageURL(chatID int64, url, caption string) {
	msg := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	msg.Caption = caption
	if _, err := b.api.Send(msg); err != nil {
		logger.Error("send photo failed", "chat", chatID, "error", err, "name", path.Base(url))
	}
}

// IsMember implements the subscription checker over the chat-member API.
func (b *Bot) IsMember(channelID, userID int64) (bool, error) {
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: channelID,
			UserID: userID,
		},
	})
	if err != nil {
		return false, err
	}

	switch member.Status {
	case "creator", "administrator", "member":
		return true, nil
	default:
		return false, nil
	}
}
