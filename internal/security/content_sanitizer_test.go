package security

import (
	"strings"
	"testing"
)

// TestSanitize_AllowedTags は書式タグが正しく通過することを検証する。
func TestSanitize_AllowedTags(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{
			name:         "pタグが許可される",
			input:        "<p>丁寧なレビュー</p>",
			wantContains: []string{"<p>丁寧なレビュー</p>"},
		},
		{
			name:         "ulタグとliタグが許可される",
			input:        "<ul><li>設計</li><li>テスト</li></ul>",
			wantContains: []string{"<ul>", "<li>設計</li>", "<li>テスト</li>", "</ul>"},
		},
		{
			name:         "強調タグが許可される",
			input:        "<strong>期限</strong>と<em>品質</em>",
			wantContains: []string{"<strong>期限</strong>", "<em>品質</em>"},
		},
		{
			name:         "blockquoteタグが許可される",
			input:        "<blockquote>顧客の声</blockquote>",
			wantContains: []string{"<blockquote>顧客の声</blockquote>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, want to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_ForbiddenContent は危険なタグと属性が除去されることを検証する。
func TestSanitize_ForbiddenContent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name       string
		input      string
		wantAbsent []string
		wantKeep   string
	}{
		{
			name:       "scriptタグは中身ごと除去される",
			input:      "前<script>alert(1)</script>後",
			wantAbsent: []string{"<script", "alert"},
			wantKeep:   "前",
		},
		{
			name:       "styleタグは中身ごと除去される",
			input:      "<style>body{display:none}</style>本文",
			wantAbsent: []string{"<style", "display"},
			wantKeep:   "本文",
		},
		{
			name:       "on*属性は除去される",
			input:      `<p onclick="steal()">クリック</p>`,
			wantAbsent: []string{"onclick", "steal"},
			wantKeep:   "<p>クリック</p>",
		},
		{
			name:       "リンクはテキストだけ残る",
			input:      `<a href="javascript:alert(1)">詳細</a>`,
			wantAbsent: []string{"<a", "href", "javascript"},
			wantKeep:   "詳細",
		},
		{
			name:       "画像は除去される",
			input:      `<img src="https://example.com/x.png">画像`,
			wantAbsent: []string{"<img", "example.com"},
			wantKeep:   "画像",
		},
		{
			name:       "iframeは除去される",
			input:      `<iframe src="https://evil.example"></iframe>残る`,
			wantAbsent: []string{"<iframe", "evil"},
			wantKeep:   "残る",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, should not contain %q", tt.input, got, absent)
				}
			}
			if !strings.Contains(got, tt.wantKeep) {
				t.Errorf("Sanitize(%q) = %q, want to contain %q", tt.input, got, tt.wantKeep)
			}
		})
	}
}

// TestSanitize_LineBreaks は改行が<br>に変換されることを検証する。
func TestSanitize_LineBreaks(t *testing.T) {
	sanitizer := NewTextSanitizer()

	got := sanitizer.Sanitize("1行目\r\n2行目\n3行目")
	want := "1行目<br>2行目<br>3行目"
	if got != want {
		t.Errorf("Sanitize() = %q, want %q", got, want)
	}
}

// TestSanitize_EscapesStrayMarkup は閉じていない山括弧がエスケープされることを検証する。
func TestSanitize_EscapesStrayMarkup(t *testing.T) {
	sanitizer := NewTextSanitizer()

	got := sanitizer.Sanitize("a < b & c")
	if strings.Contains(got, "< b") {
		t.Errorf("Sanitize() = %q, stray '<' should be escaped", got)
	}
	if !strings.Contains(got, "&amp;") {
		t.Errorf("Sanitize() = %q, '&' should be escaped", got)
	}
}

func TestSanitize_EmptyInput(t *testing.T) {
	sanitizer := NewTextSanitizer()

	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty", got)
	}
}
