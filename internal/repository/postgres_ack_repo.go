package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresAcknowledgementRepo はPostgreSQLを使用した確認記録リポジトリ。
type PostgresAcknowledgementRepo struct {
	db *sql.DB
}

// NewPostgresAcknowledgementRepo はPostgresAcknowledgementRepoを生成する。
func NewPostgresAcknowledgementRepo(db *sql.DB) *PostgresAcknowledgementRepo {
	return &PostgresAcknowledgementRepo{db: db}
}

// Create は確認記録を作成する。
// 主キー(feedback_id, employee_id)が既に存在する場合はON CONFLICT DO NOTHINGで何もせずfalseを返す。
func (r *PostgresAcknowledgementRepo) Create(ctx context.Context, feedbackID, employeeID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO acknowledgements (feedback_id, employee_id)
		 VALUES ($1, $2)
		 ON CONFLICT (feedback_id, employee_id) DO NOTHING`,
		feedbackID, employeeID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert acknowledgement: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListByFeedbackIDs は複数フィードバックの確認日時を返す。
func (r *PostgresAcknowledgementRepo) ListByFeedbackIDs(ctx context.Context, feedbackIDs []int64) (map[int64]time.Time, error) {
	result := make(map[int64]time.Time)
	if len(feedbackIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT feedback_id, acknowledged_at
		 FROM acknowledgements
		 WHERE feedback_id = ANY($1)`,
		pq.Array(feedbackIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list acknowledgements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan acknowledgement: %w", err)
		}
		result[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate acknowledgements: %w", err)
	}
	return result, nil
}

// compile-time interface check
var _ AcknowledgementRepository = (*PostgresAcknowledgementRepo)(nil)
