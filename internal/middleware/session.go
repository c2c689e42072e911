// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedbackdesk/internal/model"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var principalContextKey = contextKey("principal")

// SessionLoader はセッションの読み込みに必要なインターフェース。
// auth.SessionManagerが実装する。
type SessionLoader interface {
	Load(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 認証済みの場合はPrincipalをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証のリクエストもそのまま通す。認証必須のルートにはRequireAuthを重ねる。
func NewSessionMiddleware(loader SessionLoader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := SessionIDFromRequest(r)
			if sessionID == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := loader.Load(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to load session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !session.Authenticated() {
				next.ServeHTTP(w, r)
				return
			}

			p := model.Principal{
				UserID:    *session.UserID,
				Role:      session.Role,
				Name:      session.Name,
				SessionID: session.ID,
			}
			recordUserID(r.Context(), p.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAuth は認証済みでないリクエストに401とログインページへのリダイレクト先を返す。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			WriteAPIError(w, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionIDFromRequest はCookieからセッションIDを取得する。Cookieがない場合は空文字列。
func SessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// PrincipalFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// セッションミドルウェアを通過した認証済みリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(model.Principal)
	if !ok || p.UserID == 0 {
		return model.Principal{}, false
	}
	return p, true
}

// ContextWithPrincipal はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// UserIDFromContext はログ出力用にユーザーIDを返す。未認証の場合は0。
func UserIDFromContext(ctx context.Context) int64 {
	p, _ := PrincipalFromContext(ctx)
	return p.UserID
}
