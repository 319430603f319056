// Package cleanup は定期メンテナンスジョブを提供する。
// 保持期間を過ぎた期限切れセッションと、参照先を失ったいいねを削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションを削除するインターフェース。
// repository.PostgresSessionRepoが実装する。
type SessionPurger interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LikePurger は参照先アイテムが存在しないいいねを削除するインターフェース。
// repository.PostgresLikeRepoが実装する。
type LikePurger interface {
	DeleteOrphans(ctx context.Context) (int64, error)
}

// CleanupJob は定期メンテナンスジョブ。
// 各削除は冪等で、対象がなくてもエラーにならない。
type CleanupJob struct {
	sessions SessionPurger
	likes    LikePurger
	logger   *slog.Logger

	RetentionDays int // 期限切れ後の保持日数（デフォルト: 7）

	now func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。likesはnilでもよい。
func NewCleanupJob(sessions SessionPurger, likes LikePurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:      sessions,
		likes:         likes,
		logger:        logger,
		RetentionDays: 7,
		now:           time.Now,
	}
}

// Run は期限切れからRetentionDays日を過ぎたセッションと孤立したいいねを削除する。
// セッション削除に失敗した場合はいいねの削除を行わない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	sessions, err := j.sessions.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	var likes int64
	if j.likes != nil {
		likes, err = j.likes.DeleteOrphans(ctx)
		if err != nil {
			j.logger.Error("orphan like cleanup failed", slog.String("error", err.Error()))
			return fmt.Errorf("いいねクリーンアップの実行に失敗: %w", err)
		}
	}

	j.logger.Info("cleanup completed",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_likes", likes),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、以降interval毎にRunを実行する。ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
