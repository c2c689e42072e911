package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/feedbackdesk/internal/model"
)

// Composer は通知メールの件名と本文を組み立てる。
type Composer struct {
	baseURL string
}

// NewComposer はComposerを生成する。baseURLはメール内リンクの起点。
func NewComposer(baseURL string) *Composer {
	return &Composer{baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Composer) dashboardURL() string {
	return c.baseURL + model.PathDashboard
}

// Welcome は登録完了メールを生成する。
func (c *Composer) Welcome(name, email string) *model.Notification {
	return &model.Notification{
		Kind:      model.NotificationWelcome,
		Recipient: email,
		Subject:   "フィードバックシステムへようこそ",
		Body: fmt.Sprintf(
			"%s さん\n\nアカウントの登録が完了しました。\n以下からログインしてください。\n\n%s%s\n",
			name, c.baseURL, model.PathLogin,
		),
	}
}

// OTP はステップアップ認証の確認コードメールを生成する。
func (c *Composer) OTP(email, code string, ttl time.Duration) *model.Notification {
	return &model.Notification{
		Kind:      model.NotificationOTP,
		Recipient: email,
		Subject:   "ログイン確認コード",
		Body: fmt.Sprintf(
			"パスワードの入力に複数回失敗しました。\n\n本人確認のため、次の確認コードを入力してください。\n\n%s\n\nこのコードは%d分間有効です。\n心当たりがない場合はすぐに管理者へ連絡してください。\n",
			code, int(ttl.Minutes()),
		),
	}
}

// FeedbackCreated は新しいフィードバックの通知を生成する。宛先は従業員。
func (c *Composer) FeedbackCreated(employee *model.User, managerName string) *model.Notification {
	return &model.Notification{
		Kind:      model.NotificationFeedbackCreated,
		Recipient: employee.Email,
		Subject:   "新しいフィードバックが届きました",
		Body: fmt.Sprintf(
			"%s さん\n\n%s さんから新しいフィードバックが届きました。\n\n%s\n",
			employee.Name, managerName, c.dashboardURL(),
		),
	}
}

// FeedbackUpdated はフィードバック更新の通知を生成する。宛先は従業員。
func (c *Composer) FeedbackUpdated(employee *model.User, managerName string) *model.Notification {
	return &model.Notification{
		Kind:      model.NotificationFeedbackUpdated,
		Recipient: employee.Email,
		Subject:   "フィードバックが更新されました",
		Body: fmt.Sprintf(
			"%s さん\n\n%s さんがフィードバックを更新しました。\n\n%s\n",
			employee.Name, managerName, c.dashboardURL(),
		),
	}
}

// Acknowledged は従業員がフィードバックを確認したことの通知を生成する。宛先はマネージャー。
func (c *Composer) Acknowledged(manager *model.User, employeeName string, feedbackID int64) *model.Notification {
	return &model.Notification{
		Kind:      model.NotificationAcknowledged,
		Recipient: manager.Email,
		Subject:   fmt.Sprintf("%s さんがフィードバックを確認しました", employeeName),
		Body: fmt.Sprintf(
			"%s さん\n\n%s さんがフィードバック #%d を確認しました。\n\n%s\n",
			manager.Name, employeeName, feedbackID, c.dashboardURL(),
		),
	}
}

// Comment は新しいコメントの通知を生成する。宛先はフィードバックのもう一方の当事者。
func (c *Composer) Comment(recipient *model.User, author *model.User, feedbackID int64, text string) *model.Notification {
	roleLabel := "従業員"
	if author.Role == model.RoleManager {
		roleLabel = "マネージャー"
	}
	return &model.Notification{
		Kind:      model.NotificationComment,
		Recipient: recipient.Email,
		Subject:   fmt.Sprintf("フィードバック #%d に%sからコメントがありました", feedbackID, roleLabel),
		Body: fmt.Sprintf(
			"%s さん\n\n%s さんがコメントしました:\n\n%s\n\n%s\n",
			recipient.Name, author.Name, text, c.dashboardURL(),
		),
	}
}
