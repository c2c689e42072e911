package model

import "time"

// NotificationStatus は送信キュー上の通知の状態。
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationKind は通知の種類。ログとメトリクスのラベルに使う。
type NotificationKind string

const (
	NotificationWelcome         NotificationKind = "welcome"
	NotificationOTP             NotificationKind = "otp"
	NotificationFeedbackCreated NotificationKind = "feedback_created"
	NotificationFeedbackUpdated NotificationKind = "feedback_updated"
	NotificationAcknowledged    NotificationKind = "acknowledged"
	NotificationComment         NotificationKind = "comment"
)

// Notification は送信キュー（outbox）に積まれたメール通知。
// 主処理のコミット後に登録され、ディスパッチャーが非同期に送信する。
type Notification struct {
	ID            string
	Kind          NotificationKind
	Recipient     string
	Subject       string
	Body          string
	Status        NotificationStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	SentAt        *time.Time
}
