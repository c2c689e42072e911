package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedbackdesk/internal/auth"
	"github.com/hitoshi/feedbackdesk/internal/middleware"
	"github.com/hitoshi/feedbackdesk/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	ResetLogin(ctx context.Context, sessionID string) error
	Login(ctx context.Context, sessionID, email, password string) (*auth.LoginResult, error)
	VerifyOTP(ctx context.Context, sessionID, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentUser(ctx context.Context, userID int64) (*model.User, error)
	ListManagers(ctx context.Context) ([]*model.User, error)
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）

	// CSRF はログイン状態が変わった際にトークンを再発行するための設定。
	// NewRouterがRouterDeps.CSRFConfigで上書きする。
	CSRF middleware.CSRFConfig
}

// AuthHandler はログイン、確認コード、登録のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type otpRequest struct {
	Code string `json:"code"`
}

type registerRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	ManagerID *int64 `json:"manager_id"`
}

// principalResponse はログイン成功時と/meのレスポンス。
type principalResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	Redirect string `json:"redirect,omitempty"`
}

type managerResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// LoginPage はログイン画面の表示に合わせてログイン試行状態を初期化する。
// GET /api/auth/login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetLogin(r.Context(), middleware.SessionIDFromRequest(r)); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Login はメールアドレスとパスワードでログインする。
// 失敗時もログイン試行状態を保持するセッションのCookieを設定する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), middleware.SessionIDFromRequest(r), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, result.Session.ID)

	if err := result.Err(); err != nil {
		handleServiceError(w, r, err)
		return
	}
	h.rotateCSRFToken(w)
	writeJSON(w, http.StatusOK, sessionPrincipal(result.Session))
}

// VerifyOTP は確認コードを検証し、一致した場合はログインを完了する。
// POST /api/auth/otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.VerifyOTP(r.Context(), middleware.SessionIDFromRequest(r), req.Code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, session.ID)
	h.rotateCSRFToken(w)
	writeJSON(w, http.StatusOK, sessionPrincipal(session))
}

// Logout はセッションを破棄する。セッションの有無にかかわらず成功する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := middleware.SessionIDFromRequest(r); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.clearSessionCookie(w)
	h.rotateCSRFToken(w)
	writeJSON(w, http.StatusOK, map[string]string{"redirect": model.PathLogin})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	user, err := h.service.CurrentUser(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, principalResponse{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  string(user.Role),
	})
}

// Managers は登録フォームで選択できるマネージャー一覧を返す。
// GET /api/auth/managers
func (h *AuthHandler) Managers(w http.ResponseWriter, r *http.Request) {
	managers, err := h.service.ListManagers(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]managerResponse, 0, len(managers))
	for _, m := range managers {
		resp = append(resp, managerResponse{ID: m.ID, Name: m.Name})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Register はユーザーを登録する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		Role:      model.Role(req.Role),
		ManagerID: req.ManagerID,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, principalResponse{
		ID:       user.ID,
		Name:     user.Name,
		Email:    user.Email,
		Role:     string(user.Role),
		Redirect: model.PathLogin,
	})
}

func sessionPrincipal(s *model.Session) principalResponse {
	return principalResponse{
		ID:       *s.UserID,
		Name:     s.Name,
		Role:     string(s.Role),
		Redirect: model.PathDashboard,
	}
}

// setSessionCookie はセッションIDをHTTP Only Cookieに設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// rotateCSRFToken はCSRFトークンを再発行する。失敗してもレスポンスは継続し、
// フロントエンドは次回の/api/csrf-token取得で新しいトークンを得る。
func (h *AuthHandler) rotateCSRFToken(w http.ResponseWriter) {
	if err := middleware.RotateCSRFToken(w, h.config.CSRF); err != nil {
		slog.Error("failed to rotate CSRF token", slog.String("error", err.Error()))
	}
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
