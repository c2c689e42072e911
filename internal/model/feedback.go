package model

import (
	"strings"
	"time"
)

// Sentiment はフィードバックの総合評価。
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid は定義済みの評価値かどうかを返す。
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	default:
		return false
	}
}

// Feedback はマネージャーが部下に書いたフィードバックを表す。
// ManagerIDは作成時点の従業員のManagerIDと一致する。
type Feedback struct {
	ID           int64
	ManagerID    int64
	EmployeeID   int64
	Strengths    string
	Improvements string
	Sentiment    Sentiment
	Tags         string
	CreatedAt    time.Time
	UpdatedAt    *time.Time

	// 一覧取得時のみ設定される
	ManagerName string
}

// DisplayTime は画面に表示する日時を返す。
// 編集済みの場合はUpdatedAt、未編集の場合はCreatedAt。
func (f *Feedback) DisplayTime() time.Time {
	if f.UpdatedAt != nil && !f.UpdatedAt.Equal(f.CreatedAt) {
		return *f.UpdatedAt
	}
	return f.CreatedAt
}

// TagList はカンマ区切りのタグを配列で返す。
func (f *Feedback) TagList() []string {
	return SplitTags(f.Tags)
}

// Comment はフィードバックに付くコメント。追記のみ。
type Comment struct {
	ID         int64
	FeedbackID int64
	UserID     int64
	UserName   string
	Text       string
	CreatedAt  time.Time
}

// Acknowledgement は従業員によるフィードバックの確認記録。
// (FeedbackID, EmployeeID) につき最大1件。
type Acknowledgement struct {
	FeedbackID     int64
	EmployeeID     int64
	AcknowledgedAt time.Time
}

// SentimentCounts は評価ごとのフィードバック件数。
type SentimentCounts struct {
	Positive int
	Neutral  int
	Negative int
}

// Total は全件数を返す。
func (c SentimentCounts) Total() int {
	return c.Positive + c.Neutral + c.Negative
}

// SplitTags はカンマ区切りの文字列を正規化したタグ配列に変換する。
// 前後の空白を除去し、空要素と重複を取り除く。順序は維持する。
func SplitTags(raw string) []string {
	tags := []string{}
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		tag := strings.TrimSpace(part)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// NormalizeTags はタグ文字列を正規化したカンマ区切り文字列に変換する。
func NormalizeTags(raw string) string {
	return strings.Join(SplitTags(raw), ",")
}
