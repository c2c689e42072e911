package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/feedbackdesk/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pqUniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, name, email, password_hash, role, manager_id, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	user := &model.User{}
	var role string
	var managerID sql.NullInt64
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &role, &managerID, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	if managerID.Valid {
		id := managerID.Int64
		user.ManagerID = &id
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成し、採番されたIDと作成日時を設定する。
// users.emailの一意制約違反はErrDuplicateEmailに変換する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	var managerID sql.NullInt64
	if user.ManagerID != nil {
		managerID = sql.NullInt64{Int64: *user.ManagerID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (name, email, password_hash, role, manager_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		user.Name, user.Email, user.PasswordHash, string(user.Role), managerID,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// ListManagers はマネージャー一覧を名前順で返す。
func (r *PostgresUserRepo) ListManagers(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY name`,
		string(model.RoleManager),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list managers: %w", err)
	}
	defer rows.Close()

	var managers []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan manager: %w", err)
		}
		managers = append(managers, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate managers: %w", err)
	}
	return managers, nil
}

// ListDirectReports はマネージャーの部下一覧をフィードバック件数と最終フィードバック日時付きで返す。
// 件数はそのマネージャーが書いたフィードバックのみを数える。
func (r *PostgresUserRepo) ListDirectReports(ctx context.Context, managerID int64) ([]model.DirectReport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.name, COUNT(f.id), MAX(f.created_at)
		 FROM users u
		 LEFT JOIN feedback f ON f.employee_id = u.id AND f.manager_id = $1
		 WHERE u.manager_id = $1
		 GROUP BY u.id, u.name
		 ORDER BY u.name`,
		managerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list direct reports: %w", err)
	}
	defer rows.Close()

	var reports []model.DirectReport
	for rows.Next() {
		var dr model.DirectReport
		var last sql.NullTime
		if err := rows.Scan(&dr.ID, &dr.Name, &dr.FeedbackCount, &last); err != nil {
			return nil, fmt.Errorf("failed to scan direct report: %w", err)
		}
		if last.Valid {
			t := last.Time
			dr.LastFeedbackDate = &t
		}
		reports = append(reports, dr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate direct reports: %w", err)
	}
	return reports, nil
}

// CountDirectReports はマネージャーの部下数を返す。
func (r *PostgresUserRepo) CountDirectReports(ctx context.Context, managerID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE manager_id = $1`,
		managerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count direct reports: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
