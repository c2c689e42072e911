package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/feedbackdesk/internal/model"
	"github.com/hitoshi/feedbackdesk/internal/repository"
)

// SessionManager はセッションの発行・読み込み・破棄を行う。
// ログイン前の匿名セッションにはログイン試行状態を保持し、
// 認証成功時にはセッションIDを付け替えた認証済みセッションを発行する。
type SessionManager struct {
	repo   repository.SessionRepository
	maxAge time.Duration
	now    func() time.Time
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(repo repository.SessionRepository, maxAge time.Duration) *SessionManager {
	return &SessionManager{repo: repo, maxAge: maxAge, now: time.Now}
}

// Load はセッションを取得する。IDが空、存在しない、期限切れの場合はnilを返す。
func (m *SessionManager) Load(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}
	s, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return s, nil
}

// LoadOrCreate はセッションを取得し、存在しない場合は匿名セッションを作成する。
func (m *SessionManager) LoadOrCreate(ctx context.Context, id string) (*model.Session, error) {
	s, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s != nil {
		return s, nil
	}
	return m.create(ctx, nil)
}

// Save はログイン試行状態を含むセッションの内容を保存する。
func (m *SessionManager) Save(ctx context.Context, s *model.Session) error {
	if err := m.repo.Update(ctx, s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Establish はユーザーの認証済みセッションを新しいIDで発行し、以前のセッションを削除する。
func (m *SessionManager) Establish(ctx context.Context, previousID string, user *model.User) (*model.Session, error) {
	s, err := m.create(ctx, user)
	if err != nil {
		return nil, err
	}

	if previousID != "" {
		if err := m.repo.DeleteByID(ctx, previousID); err != nil {
			// 新しいセッションは発行済みのため、古いセッションは期限切れに任せる
			slog.Warn("failed to delete previous session",
				slog.String("session_id", truncateID(previousID)),
				slog.String("error", err.Error()),
			)
		}
	}
	return s, nil
}

// Clear はセッションを削除する。IDが空の場合は何もしない。
func (m *SessionManager) Clear(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.repo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// create はセッションを作成し永続化する。userがnilの場合は匿名セッション。
func (m *SessionManager) create(ctx context.Context, user *model.User) (*model.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := m.now()
	s := &model.Session{
		ID:        id,
		ExpiresAt: now.Add(m.maxAge),
		CreatedAt: now,
	}
	if user != nil {
		uid := user.ID
		s.UserID = &uid
		s.Role = user.Role
		s.Name = user.Name
	}

	if err := m.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return s, nil
}

// generateSessionID は256ビットの暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// truncateID はログ出力用にセッションIDの先頭8文字だけを返す。
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
