package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/feedbackdesk/internal/model"
)

// PostgresFeedbackRepo はPostgreSQLを使用したフィードバックリポジトリ。
type PostgresFeedbackRepo struct {
	db *sql.DB
}

// NewPostgresFeedbackRepo はPostgresFeedbackRepoを生成する。
func NewPostgresFeedbackRepo(db *sql.DB) *PostgresFeedbackRepo {
	return &PostgresFeedbackRepo{db: db}
}

const feedbackColumns = `f.id, f.manager_id, f.employee_id, f.strengths, f.improvements,
	f.sentiment, f.tags, f.created_at, f.updated_at`

func scanFeedback(row interface{ Scan(...any) error }, extra ...any) (*model.Feedback, error) {
	fb := &model.Feedback{}
	var sentiment string
	var updatedAt sql.NullTime
	dest := []any{
		&fb.ID, &fb.ManagerID, &fb.EmployeeID, &fb.Strengths, &fb.Improvements,
		&sentiment, &fb.Tags, &fb.CreatedAt, &updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	fb.Sentiment = model.Sentiment(sentiment)
	if updatedAt.Valid {
		t := updatedAt.Time
		fb.UpdatedAt = &t
	}
	return fb, nil
}

// Create はフィードバックを作成し、採番されたIDと作成日時を設定する。
func (r *PostgresFeedbackRepo) Create(ctx context.Context, fb *model.Feedback) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO feedback (manager_id, employee_id, strengths, improvements, sentiment, tags)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		fb.ManagerID, fb.EmployeeID, fb.Strengths, fb.Improvements, string(fb.Sentiment), fb.Tags,
	).Scan(&fb.ID, &fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// FindByID は指定IDのフィードバックを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedbackRepo) FindByID(ctx context.Context, id int64) (*model.Feedback, error) {
	var managerName string
	fb, err := scanFeedback(r.db.QueryRowContext(ctx,
		`SELECT `+feedbackColumns+`, m.name
		 FROM feedback f
		 JOIN users m ON m.id = f.manager_id
		 WHERE f.id = $1`,
		id,
	), &managerName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find feedback: %w", err)
	}
	fb.ManagerName = managerName
	return fb, nil
}

// Update は本文・評価・タグを更新しupdated_atを設定する。
// WHERE句でmanager_idを再検証し、一致しない場合はfalseを返す。
func (r *PostgresFeedbackRepo) Update(ctx context.Context, fb *model.Feedback) (bool, error) {
	var updatedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`UPDATE feedback
		 SET strengths = $3, improvements = $4, sentiment = $5, tags = $6, updated_at = now()
		 WHERE id = $1 AND manager_id = $2
		 RETURNING updated_at`,
		fb.ID, fb.ManagerID, fb.Strengths, fb.Improvements, string(fb.Sentiment), fb.Tags,
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update feedback: %w", err)
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		fb.UpdatedAt = &t
	}
	return true, nil
}

// ListByEmployee は従業員宛てのフィードバックを新しい順にマネージャー名付きで返す。
func (r *PostgresFeedbackRepo) ListByEmployee(ctx context.Context, employeeID int64) ([]*model.Feedback, error) {
	return r.list(ctx,
		`SELECT `+feedbackColumns+`, m.name
		 FROM feedback f
		 JOIN users m ON m.id = f.manager_id
		 WHERE f.employee_id = $1
		 ORDER BY f.created_at DESC, f.id DESC`,
		employeeID,
	)
}

// ListByManagerAndEmployee はマネージャーが従業員に書いたフィードバックを新しい順に返す。
func (r *PostgresFeedbackRepo) ListByManagerAndEmployee(ctx context.Context, managerID, employeeID int64) ([]*model.Feedback, error) {
	return r.list(ctx,
		`SELECT `+feedbackColumns+`, m.name
		 FROM feedback f
		 JOIN users m ON m.id = f.manager_id
		 WHERE f.manager_id = $1 AND f.employee_id = $2
		 ORDER BY f.created_at DESC, f.id DESC`,
		managerID, employeeID,
	)
}

func (r *PostgresFeedbackRepo) list(ctx context.Context, query string, args ...any) ([]*model.Feedback, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	feedbacks := []*model.Feedback{}
	for rows.Next() {
		var managerName string
		fb, err := scanFeedback(rows, &managerName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		fb.ManagerName = managerName
		feedbacks = append(feedbacks, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback: %w", err)
	}
	return feedbacks, nil
}

// CountSentimentsByManager はマネージャーが書いたフィードバックの評価別件数を返す。
func (r *PostgresFeedbackRepo) CountSentimentsByManager(ctx context.Context, managerID int64) (model.SentimentCounts, error) {
	var counts model.SentimentCounts
	err := r.db.QueryRowContext(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE sentiment = 'positive'),
		   COUNT(*) FILTER (WHERE sentiment = 'neutral'),
		   COUNT(*) FILTER (WHERE sentiment = 'negative')
		 FROM feedback
		 WHERE manager_id = $1`,
		managerID,
	).Scan(&counts.Positive, &counts.Neutral, &counts.Negative)
	if err != nil {
		return model.SentimentCounts{}, fmt.Errorf("failed to count sentiments: %w", err)
	}
	return counts, nil
}

// compile-time interface check
var _ FeedbackRepository = (*PostgresFeedbackRepo)(nil)
