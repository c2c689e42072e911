// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 有効期限を過ぎてから保持期間が経過したセッションと、
// 送信済み・送信失敗のまま保持期間を超えた通知を日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	deleteExpiredSessionsQuery  = `DELETE FROM sessions WHERE expires_at < now() - $1::interval`
	deleteOldNotificationsQuery = `DELETE FROM notifications
		WHERE status IN ('sent', 'failed') AND created_at < now() - $1::interval`
)

// CleanupJob は保持期間を超過したセッションと通知の削除ジョブ。
// 削除対象がない場合も成功として扱い、何度実行しても結果は変わらない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger

	SessionRetentionDays      int // 期限切れセッションの保持日数（デフォルト: 7）
	NotificationRetentionDays int // 処理済み通知の保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:                        db,
		logger:                    logger,
		SessionRetentionDays:      7,
		NotificationRetentionDays: 30,
	}
}

// Run は期限切れセッションと古い通知を削除する。
// セッションの削除に失敗した場合も通知の削除は試み、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, sessErr := j.deleteOlderThan(ctx, "sessions", deleteExpiredSessionsQuery, j.SessionRetentionDays)
	notifications, notifErr := j.deleteOlderThan(ctx, "notifications", deleteOldNotificationsQuery, j.NotificationRetentionDays)

	if sessErr != nil {
		return sessErr
	}
	if notifErr != nil {
		return notifErr
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_notifications", notifications),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) deleteOlderThan(ctx context.Context, target, query string, days int) (int64, error) {
	interval := fmt.Sprintf("%d days", days)

	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
			slog.Int("retention_days", days),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", target, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sの削除件数の取得に失敗: %w", target, err)
	}
	return deleted, nil
}
