// Package auth はパスワード認証、メールによるステップアップ認証（OTP）、セッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/feedbackdesk/internal/metrics"
	"github.com/hitoshi/feedbackdesk/internal/model"
	"github.com/hitoshi/feedbackdesk/internal/notify"
	"github.com/hitoshi/feedbackdesk/internal/repository"
)

// bcryptMaxPasswordBytes はbcryptが扱えるパスワードの最大バイト数。
const bcryptMaxPasswordBytes = 72

// Notifier は通知を送信キューに登録するインターフェース。
// 登録の失敗は実装側で記録し、呼び出し元には返さない。
type Notifier interface {
	Enqueue(ctx context.Context, n *model.Notification)
}

// Config は認証サービスの設定。
type Config struct {
	// FailureThreshold を超える回数パスワードを間違えると確認コードを発行する。
	FailureThreshold   int
	OTPTTL             time.Duration
	OTPMaxAttempts     int
	AllowedEmailDomain string
	PasswordMinLength  int
}

// LoginOutcome はログイン試行の結果。
type LoginOutcome string

const (
	LoginSucceeded          LoginOutcome = "success"
	LoginInvalidCredentials LoginOutcome = "invalid_credentials"
	LoginAccountNotFound    LoginOutcome = "account_not_found"
	LoginChallengeIssued    LoginOutcome = "challenge_issued"
	LoginChallengePending   LoginOutcome = "challenge_pending"
)

// LoginResult はログイン試行の結果と、Cookieに設定すべきセッションを表す。
// 成功時のSessionは新しく発行された認証済みセッション、それ以外はログイン試行状態を持つ匿名セッション。
type LoginResult struct {
	Outcome LoginOutcome
	Session *model.Session
}

// Err は成功以外の結果に対応するAPIErrorを返す。成功時はnil。
func (r *LoginResult) Err() error {
	switch r.Outcome {
	case LoginSucceeded:
		return nil
	case LoginAccountNotFound:
		return model.NewAccountNotFoundError()
	case LoginChallengeIssued, LoginChallengePending:
		return model.NewOTPRequiredError()
	default:
		return model.NewInvalidCredentialsError()
	}
}

// RegisterInput はユーザー登録の入力値。
type RegisterInput struct {
	Name      string
	Email     string
	Password  string
	Role      model.Role
	ManagerID *int64
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	sessions *SessionManager
	notifier Notifier
	composer *notify.Composer
	metrics  metrics.MetricsCollector
	config   Config

	now          func() time.Time
	generateCode func() (string, error)
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	sessions *SessionManager,
	notifier Notifier,
	composer *notify.Composer,
	mc metrics.MetricsCollector,
	config Config,
) *Service {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Service{
		users:        users,
		sessions:     sessions,
		notifier:     notifier,
		composer:     composer,
		metrics:      mc,
		config:       config,
		now:          time.Now,
		generateCode: GenerateCode,
	}
}

// ResetLogin はログイン画面の表示時にログイン試行状態を初期化する。
// 確認コードの入力途中であってもチャレンジを破棄する。
func (s *Service) ResetLogin(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || (sess.FailedLoginCount == 0 && !sess.HasPendingOTP()) {
		return nil
	}
	sess.ResetAttempts()
	return s.sessions.Save(ctx, sess)
}

// Login はメールアドレスとパスワードでログインを試行する。
//
// パスワードの失敗回数がFailureThresholdを超えると確認コードを発行し、以降のパスワードは検証しない。
// 未期限のチャレンジが同じメールアドレスに発行済みの場合は、コードを再発行せず確認コード入力へ誘導する。
// 入力値エラーとインフラエラー以外の失敗はLoginResult.Outcomeで表す。
func (s *Service) Login(ctx context.Context, sessionID, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if err := s.validateCredentialsInput(email, password); err != nil {
		return nil, err
	}

	sess, err := s.sessions.LoadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// 1. 同じ宛先へのチャレンジが有効な間はパスワードを評価しない
	if sess.HasPendingOTP() && !sess.OTPExpired(s.now()) && sess.PendingOTPEmail == email {
		return s.loginResult(LoginChallengePending, sess), nil
	}

	// 2. ユーザーの特定
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return s.loginResult(LoginAccountNotFound, sess), nil
	}

	// 3. ステップアップ中（期限切れ、宛先変更、上限到達後）は新しいチャレンジを発行する
	if sess.HasPendingOTP() || sess.FailedLoginCount > s.config.FailureThreshold {
		return s.issueChallenge(ctx, sess, email)
	}

	// 4. パスワード検証
	if VerifyPassword(password, user.PasswordHash) {
		established, err := s.sessions.Establish(ctx, sess.ID, user)
		if err != nil {
			return nil, err
		}
		slog.Info("user logged in", slog.Int64("user_id", user.ID))
		return s.loginResult(LoginSucceeded, established), nil
	}

	sess.FailedLoginCount++
	if sess.FailedLoginCount > s.config.FailureThreshold {
		return s.issueChallenge(ctx, sess, email)
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return s.loginResult(LoginInvalidCredentials, sess), nil
}

// issueChallenge は確認コードを生成してセッションに保存し、メールで送信する。
// 既存のチャレンジは上書きする。
func (s *Service) issueChallenge(ctx context.Context, sess *model.Session, email string) (*LoginResult, error) {
	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}
	hash, err := hashCode(code)
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.config.OTPTTL)
	sess.PendingOTPHash = hash
	sess.PendingOTPEmail = email
	sess.OTPExpiresAt = &expiresAt
	sess.OTPAttempts = 0
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	s.notifier.Enqueue(ctx, s.composer.OTP(email, code, s.config.OTPTTL))
	s.metrics.RecordOTPEvent("issued")
	slog.Info("otp challenge issued",
		slog.String("session_id", truncateID(sess.ID)),
		slog.Int("failed_login_count", sess.FailedLoginCount),
	)
	return s.loginResult(LoginChallengeIssued, sess), nil
}

func (s *Service) loginResult(outcome LoginOutcome, sess *model.Session) *LoginResult {
	s.metrics.RecordLoginAttempt(string(outcome))
	return &LoginResult{Outcome: outcome, Session: sess}
}

// VerifyOTP は確認コードを検証し、一致した場合は認証済みセッションを発行する。
// 不一致の場合はOTPMaxAttempts回まで再入力でき、上限に達するとチャレンジを破棄する。
func (s *Service) VerifyOTP(ctx context.Context, sessionID, input string) (*model.Session, error) {
	sess, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.HasPendingOTP() {
		s.metrics.RecordOTPEvent("no_pending")
		return nil, model.NewNoPendingOTPError()
	}

	if sess.OTPExpired(s.now()) {
		sess.ClearChallenge()
		if err := s.sessions.Save(ctx, sess); err != nil {
			return nil, err
		}
		s.metrics.RecordOTPEvent("expired")
		return nil, model.NewOTPExpiredError()
	}

	code, ok := NormalizeCode(input)
	if !ok || !matchCode(code, sess.PendingOTPHash) {
		sess.OTPAttempts++
		remaining := s.config.OTPMaxAttempts - sess.OTPAttempts
		if remaining <= 0 {
			sess.ClearChallenge()
		}
		if err := s.sessions.Save(ctx, sess); err != nil {
			return nil, err
		}
		s.metrics.RecordOTPEvent("failed")
		return nil, model.NewInvalidOTPError(remaining)
	}

	user, err := s.users.FindByEmail(ctx, sess.PendingOTPEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		sess.ResetAttempts()
		if err := s.sessions.Save(ctx, sess); err != nil {
			return nil, err
		}
		return nil, model.NewAccountNotFoundError()
	}

	sess.ResetAttempts()
	established, err := s.sessions.Establish(ctx, sess.ID, user)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordOTPEvent("verified")
	slog.Info("user logged in with otp", slog.Int64("user_id", user.ID))
	return established, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Clear(ctx, sessionID); err != nil {
		return err
	}
	slog.Info("user logged out", slog.String("session_id", truncateID(sessionID)))
	return nil
}

// CurrentUser は認証済みユーザーをユーザーストアから取得する。
// 削除済みの場合は未認証エラーを返す。
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// ListManagers は登録フォーム用のマネージャー一覧を返す。
func (s *Service) ListManagers(ctx context.Context) ([]*model.User, error) {
	return s.users.ListManagers(ctx)
}

// Register はユーザーを登録し、登録完了メールを送信する。
// メールアドレスが既に登録されている場合はEMAIL_ALREADY_REGISTEREDを返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if in.Role == "" {
		in.Role = model.RoleEmployee
	}

	if in.Name == "" {
		return nil, model.NewValidationError("名前を入力してください。", "名前を入力して再度お試しください。")
	}
	if err := s.validateCredentialsInput(in.Email, in.Password); err != nil {
		return nil, err
	}
	if len([]rune(in.Password)) < s.config.PasswordMinLength {
		return nil, model.NewValidationError(
			fmt.Sprintf("パスワードは%d文字以上で入力してください。", s.config.PasswordMinLength),
			"より長いパスワードを入力してください。",
		)
	}
	if len(in.Password) > bcryptMaxPasswordBytes {
		return nil, model.NewValidationError(
			fmt.Sprintf("パスワードは%dバイト以下で入力してください。", bcryptMaxPasswordBytes),
			"より短いパスワードを入力してください。",
		)
	}
	if err := s.validateManagerLink(ctx, in.Role, in.ManagerID); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		ManagerID:    in.ManagerID,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailAlreadyRegisteredError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.notifier.Enqueue(ctx, s.composer.Welcome(user.Name, user.Email))
	slog.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// validateManagerLink は従業員がマネージャーを選択していること、マネージャーが上司を持たないことを検証する。
func (s *Service) validateManagerLink(ctx context.Context, role model.Role, managerID *int64) error {
	switch role {
	case model.RoleManager:
		if managerID != nil {
			return model.NewValidationError("マネージャーには上司を設定できません。", "マネージャーの選択を外してください。")
		}
		return nil
	case model.RoleEmployee:
		if managerID == nil {
			return model.NewValidationError("マネージャーを選択してください。", "一覧からマネージャーを選択してください。")
		}
		manager, err := s.users.FindByID(ctx, *managerID)
		if err != nil {
			return fmt.Errorf("failed to find manager: %w", err)
		}
		if manager == nil || manager.Role != model.RoleManager {
			return model.NewValidationError("選択されたマネージャーは存在しません。", "一覧からマネージャーを選択してください。")
		}
		return nil
	default:
		return model.NewValidationError("ロールが不正です。", "manager または employee を指定してください。")
	}
}

// validateCredentialsInput はメールアドレスとパスワードの必須・形式チェックを行う。
func (s *Service) validateCredentialsInput(email, password string) error {
	if email == "" {
		return model.NewValidationError("メールアドレスを入力してください。", "メールアドレスを入力して再度お試しください。")
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || strings.Count(email, "@") != 1 || email[at+1:] != s.config.AllowedEmailDomain {
		return model.NewValidationError(
			fmt.Sprintf("メールアドレスは@%sで終わる必要があります。", s.config.AllowedEmailDomain),
			"利用可能なドメインのメールアドレスを入力してください。",
		)
	}
	if password == "" {
		return model.NewValidationError("パスワードを入力してください。", "パスワードを入力して再度お試しください。")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
