package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedbackdesk/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した送信キューリポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// Enqueue は通知を送信待ちとして登録する。IDが空の場合はUUIDを採番する。
func (r *PostgresNotificationRepo) Enqueue(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = time.Now().UTC()
	}
	n.Status = model.NotificationPending

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO notifications (id, kind, recipient, subject, body, status, next_attempt_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		n.ID, string(n.Kind), n.Recipient, n.Subject, n.Body, string(n.Status), n.NextAttemptAt,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// ClaimDue は送信期限が来た通知を最大limit件取得する。
// FOR UPDATE SKIP LOCKEDで他のワーカーが処理中の行を避け、
// next_attempt_atをleaseだけ先送りすることで取得済みの行が再取得されないようにする。
func (r *PostgresNotificationRepo) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE notifications
		 SET next_attempt_at = now() + $2::interval
		 WHERE id IN (
		   SELECT id FROM notifications
		   WHERE status = 'pending' AND next_attempt_at <= now()
		   ORDER BY next_attempt_at
		   LIMIT $1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, kind, recipient, subject, body, status, attempts, next_attempt_at, last_error, created_at`,
		limit, fmt.Sprintf("%d seconds", int(lease.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim notifications: %w", err)
	}
	defer rows.Close()

	var claimed []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		var kind, status string
		if err := rows.Scan(&n.ID, &kind, &n.Recipient, &n.Subject, &n.Body, &status,
			&n.Attempts, &n.NextAttemptAt, &n.LastError, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Kind = model.NotificationKind(kind)
		n.Status = model.NotificationStatus(status)
		claimed = append(claimed, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return claimed, nil
}

// redactOTPBody は確認コードを含む本文を消すSET句。送信待ちでなくなったotp行に適用する。
const redactOTPBody = `body = CASE WHEN kind = 'otp' THEN '' ELSE body END`

// MarkSent は通知を送信済みにする。確認コードの本文は消去する。
func (r *PostgresNotificationRepo) MarkSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'sent', attempts = attempts + 1, sent_at = now(), last_error = '', `+redactOTPBody+`
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// MarkRetry は送信失敗を記録し、次回送信日時を設定する。
func (r *PostgresNotificationRepo) MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET attempts = $2, next_attempt_at = $3, last_error = $4
		 WHERE id = $1`,
		id, attempts, nextAttemptAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification retry: %w", err)
	}
	return nil
}

// MarkFailed はリトライ上限に達した通知、または期限切れの確認コードを失敗にする。
// 確認コードの本文は消去する。
func (r *PostgresNotificationRepo) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'failed', attempts = $2, last_error = $3, `+redactOTPBody+`
		 WHERE id = $1`,
		id, attempts, lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
