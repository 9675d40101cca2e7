// Package cleanup は処理済み決済Webhookイベントの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過したイベントIDを日次バッチで削除する。
// 保持期間内の再配信はwebhook_eventsで重複検出される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/docquery/internal/metrics"
)

// DefaultRetentionDays はイベントIDの保持日数のデフォルト値。
const DefaultRetentionDays = 30

// DefaultInterval はジョブの実行間隔のデフォルト値。
const DefaultInterval = 24 * time.Hour

// EventPruner は処理済みイベントの削除を抽象化するインターフェース。
type EventPruner interface {
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した処理済みイベントの自動削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	events        EventPruner
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使う。
func NewCleanupJob(events EventPruner, retentionDays int, mc metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		events:        events,
		metrics:       mc,
		logger:        logger,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Run はprocessed_atがRetentionDays日前より古いイベントを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().UTC().AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.events.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("webhook event cleanup failed",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("failed to prune webhook events: %w", err)
	}

	j.metrics.RecordWebhookEventsPruned(deleted)
	j.logger.Info("webhook event cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("cleanup job started", slog.Duration("interval", interval))

	// 失敗は次回の実行で再試行する
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup job stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
