package security

import (
	"net/url"
	"strings"
)

// SafeRedirectPath はリダイレクト先としてアプリケーション内の相対パスのみを許可する。
// 外部URL、スキーム付きURL、プロトコル相対URL（//host）、バックスラッシュや制御文字を含む値は
// fallbackに置き換える。
func SafeRedirectPath(next, fallback string) string {
	if next == "" || len(next) > 2048 {
		return fallback
	}
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return fallback
	}
	if strings.ContainsAny(next, "\\") {
		return fallback
	}
	for _, r := range next {
		if r < 0x20 || r == 0x7f {
			return fallback
		}
	}

	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return fallback
	}
	return next
}
