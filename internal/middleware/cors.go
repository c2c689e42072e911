package middleware

import "net/http"

// corsAllowedMethods はルーターが公開しているメソッド。
const corsAllowedMethods = "GET, POST, PUT, OPTIONS"

// NewCORSMiddleware はフロントエンドのオリジン1件だけを許可するCORSミドルウェアを返す。
//
// Originヘッダーが許可オリジンと一致するリクエストにのみCORSヘッダーを付与する。
// セッションCookieを送るためAllow-Credentialsを付けるので、ワイルドカードは使わない。
// 一致しないオリジンからのプリフライトは403で拒否し、ハンドラーには渡さない。
// allowedOriginが空の場合は同一オリジン運用とみなし、何もしない。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if allowedOrigin == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if origin != allowedOrigin {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", RequestIDHeader+", Content-Disposition")

			if preflight {
				h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+csrfHeaderName)
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
