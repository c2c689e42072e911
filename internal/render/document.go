package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/hitoshi/feedbackdesk/internal/model"
	"github.com/hitoshi/feedbackdesk/internal/security"
)

//go:embed templates/*.html
var templateFS embed.FS

// Document はPDFに出力するフィードバックの内容。
type Document struct {
	FeedbackID     int64
	ManagerName    string
	EmployeeName   string
	Sentiment      model.Sentiment
	Tags           []string
	Strengths      string
	Improvements   string
	CreatedAt      time.Time
	UpdatedAt      *time.Time
	AcknowledgedAt *time.Time
	Comments       []model.Comment
}

// Builder はDocumentからHTMLを生成する。
// 本文とコメントはTextSanitizerで書式タグ以外を除去してから埋め込む。
type Builder struct {
	tmpl     *template.Template
	location *time.Location
}

// NewBuilder はBuilderを生成する。locationがnilの場合はUTCで日時を表示する。
func NewBuilder(sanitizer security.TextSanitizer, location *time.Location) (*Builder, error) {
	if location == nil {
		location = time.UTC
	}
	funcs := template.FuncMap{
		"rich": func(text string) template.HTML {
			return template.HTML(sanitizer.Sanitize(text))
		},
		"datetime": func(t time.Time) string {
			return t.In(location).Format("2006-01-02 15:04")
		},
		"sentimentLabel": sentimentLabel,
	}

	tmpl, err := template.New("feedback.html").Funcs(funcs).ParseFS(templateFS, "templates/feedback.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse document template: %w", err)
	}
	return &Builder{tmpl: tmpl, location: location}, nil
}

// Build はDocumentをHTMLに変換する。
func (b *Builder) Build(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, doc); err != nil {
		return nil, fmt.Errorf("failed to render document template: %w", err)
	}
	return buf.Bytes(), nil
}

func sentimentLabel(s model.Sentiment) string {
	switch s {
	case model.SentimentPositive:
		return "ポジティブ"
	case model.SentimentNegative:
		return "ネガティブ"
	default:
		return "ニュートラル"
	}
}
