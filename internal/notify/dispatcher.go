package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedbackdesk/internal/metrics"
	"github.com/hitoshi/feedbackdesk/internal/model"
	"github.com/hitoshi/feedbackdesk/internal/repository"
)

// DispatcherConfig はディスパッチャーの設定。
type DispatcherConfig struct {
	From           string
	BatchSize      int
	MaxAttempts    int
	MaxConcurrency int
	// Lease は取得した通知を他のワーカーから隠す時間。送信タイムアウトより長くする。
	Lease time.Duration
	// OTPTTL を過ぎた確認コードは送信せずに失敗にする。
	OTPTTL time.Duration
}

// errOTPExpired は期限切れの確認コードを送らなかった際にlast_errorへ記録する文言。
const errOTPExpired = "otp expired before delivery"


// Dispatcher は送信キューの通知を定期的に取得してメール送信する。
// semaphoreパターンで同時送信数を制御し、失敗した通知は指数バックオフで再送する。
type Dispatcher struct {
	repo    repository.NotificationRepository
	sender  Sender
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	config  DispatcherConfig
	now     func() time.Time
}

// NewDispatcher はDispatcherを生成する。
// 0以下の設定値はデフォルト値（BatchSize 20, MaxAttempts 5, MaxConcurrency 4, Lease 2分, OTPTTL 10分）に置き換える。
func NewDispatcher(
	repo repository.NotificationRepository,
	sender Sender,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
	config DispatcherConfig,
) *Dispatcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Lease <= 0 {
		config.Lease = 2 * time.Minute
	}
	if config.OTPTTL <= 0 {
		config.OTPTTL = 10 * time.Minute
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Dispatcher{
		repo:    repo,
		sender:  sender,
		logger:  logger,
		metrics: mc,
		config:  config,
		now:     time.Now,
	}
}

// Start は指定間隔のティッカーでディスパッチャーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("通知ディスパッチャーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", d.config.MaxConcurrency),
	)

	// 起動直後に1回実行
	if err := d.RunOnce(ctx); err != nil {
		d.logger.Error("通知送信サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("通知ディスパッチャーを停止しました")
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.Error("通知送信サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は送信期限が来た通知を1回取得し、並列で送信する。
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	start := time.Now()

	pending, err := d.repo.ClaimDue(ctx, d.config.BatchSize, d.config.Lease)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	sem := make(chan struct{}, d.config.MaxConcurrency)
	var wg sync.WaitGroup

	for _, n := range pending {
		wg.Add(1)
		sem <- struct{}{}

		go func(n *model.Notification) {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliver(ctx, n)
		}(n)
	}

	wg.Wait()

	d.logger.Info("通知送信サイクルが完了しました",
		slog.Int("notification_count", len(pending)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// deliver は1件の通知を送信し、結果に応じて状態を更新する。
func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification) {
	kind := string(n.Kind)
	if d.otpExpired(n) {
		d.logger.Warn("期限切れの確認コードは送信しません",
			slog.String("notification_id", n.ID),
			slog.Time("created_at", n.CreatedAt),
		)
		if err := d.repo.MarkFailed(ctx, n.ID, n.Attempts, errOTPExpired); err != nil {
			d.logger.Error("通知の失敗更新に失敗しました",
				slog.String("notification_id", n.ID),
				slog.String("error", err.Error()),
			)
		}
		d.metrics.RecordNotification(kind, "expired")
		return
	}

	sendErr := d.sender.Send(ctx, Message{
		From:    d.config.From,
		To:      n.Recipient,
		Subject: n.Subject,
		Body:    n.Body,
	})

	if sendErr == nil {
		if err := d.repo.MarkSent(ctx, n.ID); err != nil {
			d.logger.Error("通知の送信済み更新に失敗しました",
				slog.String("notification_id", n.ID),
				slog.String("error", err.Error()),
			)
		}
		d.metrics.RecordNotification(kind, "sent")
		return
	}

	attempts := n.Attempts + 1
	if attempts >= d.config.MaxAttempts {
		d.logger.Error("通知の送信に失敗しました（リトライ上限）",
			slog.String("notification_id", n.ID),
			slog.String("kind", kind),
			slog.Int("attempts", attempts),
			slog.String("error", sendErr.Error()),
		)
		if err := d.repo.MarkFailed(ctx, n.ID, attempts, sendErr.Error()); err != nil {
			d.logger.Error("通知の失敗更新に失敗しました",
				slog.String("notification_id", n.ID),
				slog.String("error", err.Error()),
			)
		}
		d.metrics.RecordNotification(kind, "failed")
		return
	}

	next := d.now().Add(CalculateBackoff(attempts - 1))
	d.logger.Warn("通知の送信に失敗しました（再送予定）",
		slog.String("notification_id", n.ID),
		slog.String("kind", kind),
		slog.Int("attempts", attempts),
		slog.Time("next_attempt_at", next),
		slog.String("error", sendErr.Error()),
	)
	if err := d.repo.MarkRetry(ctx, n.ID, attempts, next, sendErr.Error()); err != nil {
		d.logger.Error("通知の再送予定更新に失敗しました",
			slog.String("notification_id", n.ID),
			slog.String("error", err.Error()),
		)
	}
	d.metrics.RecordNotification(kind, "retry")
}

// otpExpired は確認コードの通知が作成からOTPTTL以上経過しているかを返す。
// 再送待ちの間にチャレンジが失効した場合も含む。
func (d *Dispatcher) otpExpired(n *model.Notification) bool {
	if n.Kind != model.NotificationOTP {
		return false
	}
	return !d.now().Before(n.CreatedAt.Add(d.config.OTPTTL))
}
