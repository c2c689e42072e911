package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/feedbackdesk/internal/model"
)

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// Create はコメントを追加し、採番されたIDと作成日時を設定する。
func (r *PostgresCommentRepo) Create(ctx context.Context, c *model.Comment) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO comments (feedback_id, user_id, comment_text)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		c.FeedbackID, c.UserID, c.Text,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// ListByFeedbackIDs は複数フィードバックのコメントを投稿者名付きで古い順に返す。
// ID配列はpq.Arrayで単一パラメータとしてバインドする。
func (r *PostgresCommentRepo) ListByFeedbackIDs(ctx context.Context, feedbackIDs []int64) (map[int64][]model.Comment, error) {
	result := make(map[int64][]model.Comment)
	if len(feedbackIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.feedback_id, c.user_id, u.name, c.comment_text, c.created_at
		 FROM comments c
		 JOIN users u ON u.id = c.user_id
		 WHERE c.feedback_id = ANY($1)
		 ORDER BY c.created_at, c.id`,
		pq.Array(feedbackIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.FeedbackID, &c.UserID, &c.UserName, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		result[c.FeedbackID] = append(result[c.FeedbackID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return result, nil
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)
