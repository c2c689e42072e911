package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/feedbackdesk/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func nullableUserID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, role, name, failed_login_count,
		   pending_otp_hash, pending_otp_email, otp_expires_at, otp_attempts, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		session.ID, nullableUserID(session.UserID), string(session.Role), session.Name,
		session.FailedLoginCount, session.PendingOTPHash, session.PendingOTPEmail,
		session.OTPExpiresAt, session.OTPAttempts, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	var userID sql.NullInt64
	var role string
	var otpExpiresAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, role, name, failed_login_count,
		   pending_otp_hash, pending_otp_email, otp_expires_at, otp_attempts, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(
		&session.ID, &userID, &role, &session.Name, &session.FailedLoginCount,
		&session.PendingOTPHash, &session.PendingOTPEmail, &otpExpiresAt, &session.OTPAttempts,
		&session.ExpiresAt, &session.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.Role = model.Role(role)
	if userID.Valid {
		uid := userID.Int64
		session.UserID = &uid
	}
	if otpExpiresAt.Valid {
		t := otpExpiresAt.Time
		session.OTPExpiresAt = &t
	}
	return session, nil
}

// Update はログイン試行状態を含むセッションの内容を更新する。
func (r *PostgresSessionRepo) Update(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET user_id = $2, role = $3, name = $4, failed_login_count = $5,
		   pending_otp_hash = $6, pending_otp_email = $7, otp_expires_at = $8, otp_attempts = $9
		 WHERE id = $1`,
		session.ID, nullableUserID(session.UserID), string(session.Role), session.Name,
		session.FailedLoginCount, session.PendingOTPHash, session.PendingOTPEmail,
		session.OTPExpiresAt, session.OTPAttempts,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
