// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はフィードバック本文やコメントをドキュメントに埋め込む前にサニタイズする。
// bluemondayの許可リストポリシーで、書式タグのみを通過させる。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は許可タグ（p, br, ul, ol, li, strong, em, b, i, u, blockquote）以外を除去し、
	// 改行を<br>に変換した安全なHTMLを返す。
	// リンク、画像、script、styleおよびon*イベント属性は除去される。
	// 空文字列の入力には空文字列を返す。
	Sanitize(text string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	p := bluemonday.NewPolicy()

	// 属性なしの書式タグのみ許可する。許可リストにないタグは中身を残して除去される。
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote",
		"strong", "em", "b", "i", "u",
	)

	return &textSanitizer{policy: p}
}

// Sanitize はテキストをサニタイズして安全なHTMLを返す。
func (s *textSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	sanitized := s.policy.Sanitize(normalized)
	return strings.ReplaceAll(sanitized, "\n", "<br>")
}
