// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/feedbackdesk/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDと作成日時を設定する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// ListManagers はマネージャー一覧を名前順で返す。
	ListManagers(ctx context.Context) ([]*model.User, error)

	// ListDirectReports はマネージャーの部下一覧をフィードバック件数付きで返す。
	ListDirectReports(ctx context.Context, managerID int64) ([]model.DirectReport, error)

	// CountDirectReports はマネージャーの部下数を返す。
	CountDirectReports(ctx context.Context, managerID int64) (int, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Update はログイン試行状態を含むセッションの内容を更新する。
	Update(ctx context.Context, session *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// FeedbackRepository はフィードバックの永続化インターフェース。
type FeedbackRepository interface {
	// Create はフィードバックを作成し、採番されたIDと作成日時を設定する。
	Create(ctx context.Context, feedback *model.Feedback) error

	// FindByID は指定IDのフィードバックを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Feedback, error)

	// Update は本文・評価・タグを更新しupdated_atを設定する。
	// manager_idが一致しない場合は更新せずfalseを返す。
	Update(ctx context.Context, feedback *model.Feedback) (bool, error)

	// ListByEmployee は従業員宛てのフィードバックを新しい順にマネージャー名付きで返す。
	ListByEmployee(ctx context.Context, employeeID int64) ([]*model.Feedback, error)

	// ListByManagerAndEmployee はマネージャーが従業員に書いたフィードバックを新しい順に返す。
	ListByManagerAndEmployee(ctx context.Context, managerID, employeeID int64) ([]*model.Feedback, error)

	// CountSentimentsByManager はマネージャーが書いたフィードバックの評価別件数を返す。
	CountSentimentsByManager(ctx context.Context, managerID int64) (model.SentimentCounts, error)
}

// CommentRepository はコメントの永続化インターフェース。
type CommentRepository interface {
	// Create はコメントを追加し、採番されたIDと作成日時を設定する。
	Create(ctx context.Context, comment *model.Comment) error

	// ListByFeedbackIDs は複数フィードバックのコメントを投稿者名付きで古い順に返す。
	ListByFeedbackIDs(ctx context.Context, feedbackIDs []int64) (map[int64][]model.Comment, error)
}

// AcknowledgementRepository は確認記録の永続化インターフェース。
type AcknowledgementRepository interface {
	// Create は確認記録を作成する。既に存在する場合は何もせずfalseを返す。
	Create(ctx context.Context, feedbackID, employeeID int64) (bool, error)

	// ListByFeedbackIDs は複数フィードバックの確認日時を返す。
	ListByFeedbackIDs(ctx context.Context, feedbackIDs []int64) (map[int64]time.Time, error)
}

// NotificationRepository は送信キュー（outbox）の永続化インターフェース。
type NotificationRepository interface {
	// Enqueue は通知を送信待ちとして登録する。
	Enqueue(ctx context.Context, n *model.Notification) error

	// ClaimDue は送信期限が来た通知を最大limit件取得する。
	// 取得した通知のnext_attempt_atはleaseだけ先送りし、他のワーカーと重複しないようにする。
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.Notification, error)

	// MarkSent は通知を送信済みにする。
	MarkSent(ctx context.Context, id string) error

	// MarkRetry は送信失敗を記録し、次回送信日時を設定する。
	MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error

	// MarkFailed はリトライ上限に達した通知を失敗にする。
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error
}
