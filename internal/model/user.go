// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの役割を表す。
type Role string

const (
	// RoleManager は部下にフィードバックを書くマネージャー。
	RoleManager Role = "manager"
	// RoleEmployee はフィードバックを受け取る従業員。
	RoleEmployee Role = "employee"
)

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	return r == RoleManager || r == RoleEmployee
}

// User はサービス利用ユーザーを表す。
// 従業員のManagerIDはroleがmanagerのユーザーを指す。マネージャーのManagerIDは常にnil。
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	ManagerID    *int64
	CreatedAt    time.Time
}

// IsManagedBy はユーザーが指定マネージャーの直属の部下かどうかを返す。
func (u *User) IsManagedBy(managerID int64) bool {
	return u.Role == RoleEmployee && u.ManagerID != nil && *u.ManagerID == managerID
}

// DirectReport はマネージャーダッシュボードに表示する部下とフィードバック件数。
type DirectReport struct {
	ID               int64
	Name             string
	FeedbackCount    int
	LastFeedbackDate *time.Time
}

// Session はブラウザ単位のセッションを表す。
// ログイン前は匿名セッション（UserID == nil）としてログイン試行状態を保持する。
type Session struct {
	ID     string
	UserID *int64
	Role   Role
	Name   string

	// ステップアップ認証の試行状態
	FailedLoginCount int
	PendingOTPHash   string
	PendingOTPEmail  string
	OTPExpiresAt     *time.Time
	OTPAttempts      int

	ExpiresAt time.Time
	CreatedAt time.Time
}

// Authenticated は認証済みセッションかどうかを返す。
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != nil && *s.UserID != 0
}

// HasPendingOTP はOTPチャレンジが発行済みかどうかを返す。
func (s *Session) HasPendingOTP() bool {
	return s != nil && s.PendingOTPHash != "" && s.PendingOTPEmail != ""
}

// OTPExpired はチャレンジが期限切れかどうかを返す。
func (s *Session) OTPExpired(now time.Time) bool {
	return s.OTPExpiresAt == nil || !now.Before(*s.OTPExpiresAt)
}

// ClearChallenge はOTPチャレンジ状態を破棄する。失敗カウンターは変更しない。
func (s *Session) ClearChallenge() {
	s.PendingOTPHash = ""
	s.PendingOTPEmail = ""
	s.OTPExpiresAt = nil
	s.OTPAttempts = 0
}

// ResetAttempts は失敗カウンターとOTPチャレンジ状態をすべて初期化する。
func (s *Session) ResetAttempts() {
	s.FailedLoginCount = 0
	s.ClearChallenge()
}

// Principal はリクエストごとの認証済みコンテキスト。
// セッションミドルウェアが生成し、ハンドラーからサービス層へ明示的に渡す。
type Principal struct {
	UserID    int64
	Role      Role
	Name      string
	SessionID string
}
