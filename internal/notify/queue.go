package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/feedbackdesk/internal/metrics"
	"github.com/hitoshi/feedbackdesk/internal/model"
	"github.com/hitoshi/feedbackdesk/internal/repository"
)

// enqueueTimeout は送信キューへの登録のタイムアウト。
const enqueueTimeout = 5 * time.Second

// Queue は通知を送信キューに登録する。
// 登録は主処理のコミット後に行い、失敗してもログとメトリクスに記録するだけで呼び出し元には返さない。
type Queue struct {
	repo    repository.NotificationRepository
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewQueue はQueueを生成する。
func NewQueue(repo repository.NotificationRepository, mc metrics.MetricsCollector, logger *slog.Logger) *Queue {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{repo: repo, metrics: mc, logger: logger}
}

// Enqueue は通知を送信待ちとして登録する。
// リクエストがキャンセルされても登録が中断されないよう、親コンテキストのキャンセルは引き継がない。
func (q *Queue) Enqueue(ctx context.Context, n *model.Notification) {
	if n == nil || n.Recipient == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	if err := q.repo.Enqueue(ctx, n); err != nil {
		q.logger.Error("failed to enqueue notification",
			slog.String("kind", string(n.Kind)),
			slog.String("error", err.Error()),
		)
		q.metrics.RecordNotification(string(n.Kind), "enqueue_error")
		return
	}
	q.metrics.RecordNotification(string(n.Kind), "enqueued")
}
