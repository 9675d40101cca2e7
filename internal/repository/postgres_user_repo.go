package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/docquery/internal/model"
)

const userColumns = `id, email, password_hash, daily_count, last_reset_date, plan, stripe_customer_id, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
// UUIDとして解釈できないIDも見つからない扱いにする。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
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

// Create はユーザーを作成する。メールアドレスが重複する場合はErrEmailTakenを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, daily_count, last_reset_date, plan, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.PasswordHash, user.DailyCount, user.LastResetDate,
		string(user.Plan), user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// IncrementDailyCount は当日の利用回数を条件付きで1つ進める。
// 判定と書き込みを1つのUPDATEで行うため、同一ユーザーの同時リクエストでも上限を超えない。
func (r *PostgresUserRepo) IncrementDailyCount(ctx context.Context, id string, window UsageWindow, limit int) (int, time.Time, error) {
	var (
		count     int
		lastReset time.Time
	)
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET daily_count = CASE
		         WHEN last_reset_date >= $2 AND last_reset_date < $3 THEN daily_count + 1
		         ELSE 1
		     END,
		     last_reset_date = CASE
		         WHEN last_reset_date >= $2 AND last_reset_date < $3 THEN last_reset_date
		         ELSE $4
		     END,
		     updated_at = $4
		 WHERE id = $1
		   AND (NOT (last_reset_date >= $2 AND last_reset_date < $3) OR daily_count < $5)
		 RETURNING daily_count, last_reset_date`,
		id, window.Start, window.End, window.Now, limit,
	).Scan(&count, &lastReset)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, ErrQuotaExhausted
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment daily count: %w", err)
	}
	return count, lastReset, nil
}

// UpdatePlan はユーザーのプランを変更する。定義外のプランはErrInvalidPlan。
func (r *PostgresUserRepo) UpdatePlan(ctx context.Context, id string, plan model.Plan) error {
	if !plan.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET plan = $2, updated_at = now() WHERE id = $1`,
		id, string(plan),
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		user       model.User
		plan       string
		customerID sql.NullString
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.DailyCount, &user.LastResetDate,
		&plan, &customerID, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Plan = model.Plan(plan)
	user.StripeCustomerID = customerID.String
	return &user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
