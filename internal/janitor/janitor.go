// Package janitor runs the scheduled maintenance jobs: reclaiming
// storage held by abandoned sessions and the nightly usage report.
package janitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bowerhall/visage/internal/logger"
	"github.com/bowerhall/visage/internal/session"
	"github.com/bowerhall/visage/internal/storage"
)

// Cleaner removes uploaded photo objects.
type Cleaner interface {
	DeletePhotos(ctx context.Context, paths []string)
}

// UsageReporter summarizes blob-store consumption.
type UsageReporter interface {
	Usage(ctx context.Context) ([]storage.BucketUsage, error)
}

// Notifier delivers the report to the operator chat.
type Notifier interface {
	Notify(chatID int64, text string)
}

type Config struct {
	IdleTTL        time.Duration
	ReportSchedule string
	OwnerChatID    int64
}

type Janitor struct {
	registry *session.Registry
	cleaner  Cleaner
	reporter UsageReporter
	notify   Notifier
	cfg      Config
	cron     *cron.Cron
}

func New(registry *session.Registry, cleaner Cleaner, reporter UsageReporter, notify Notifier, cfg Config) *Janitor {
	return &Janitor{
		registry: registry,
		cleaner:  cleaner,
		reporter: reporter,
		notify:   notify,
		cfg:      cfg,
		cron:     cron.New(),
	}
}

// Start registers the schedules and launches the cron runner.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc("@hourly", j.SweepIdle); err != nil {
		return fmt.Errorf("schedule idle sweep: %w", err)
	}

	if j.cfg.ReportSchedule != "" && j.cfg.OwnerChatID != 0 {
		if _, err := j.cron.AddFunc(j.cfg.ReportSchedule, j.ReportUsage); err != nil {
			return fmt.Errorf("schedule storage report: %w", err)
		}
	}

	j.cron.Start()
	logger.Info("janitor started", "idle_ttl", j.cfg.IdleTTL, "report_schedule", j.cfg.ReportSchedule)

	return nil
}

// Stop waits for any running job to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// SweepIdle reclaims sessions with no activity past the TTL. Sessions
// holding a trained model are left alone: their photos are long gone
// and the model record must survive inactivity. Everything else loses
// its uploaded photos and resets.
func (j *Janitor) SweepIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-j.cfg.IdleTTL)
	swept := 0

	for _, id := range j.registry.IdleBefore(cutoff) {
		s := j.registry.Snapshot(id)
		if s.ModelVersion != "" {
			continue
		}

		if len(s.Photos) > 0 {
			paths := make([]string, len(s.Photos))
			for i, p := range s.Photos {
				paths[i] = p.StoragePath
			}
			j.cleaner.DeletePhotos(ctx, paths)
		}

		j.registry.Reset(id)
		swept++
	}

	if swept > 0 {
		logger.Info("idle sessions swept", "count", swept)
	}
}

// ReportUsage sends the per-bucket storage summary to the operator.
func (j *Janitor) ReportUsage() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	usages, err := j.reporter.Usage(ctx)
	if err != nil {
		logger.Error("storage report failed", "error", err)
		return
	}

	var b strings.Builder
	b.WriteString("Storage report\n")
	for _, u := range usages {
		fmt.Fprintf(&b, "%s: %d objects, %s\n", u.Bucket, u.Objects, formatBytes(u.Bytes))
	}
	fmt.Fprintf(&b, "Sessions in memory: %d", j.registry.Count())

	j.notify.Notify(j.cfg.OwnerChatID, b.String())
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
