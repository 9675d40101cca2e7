package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresWebhookEventRepo はPostgreSQLを使用した処理済みWebhookイベントのリポジトリ。
type PostgresWebhookEventRepo struct {
	db *sql.DB
}

// NewPostgresWebhookEventRepo はPostgresWebhookEventRepoを生成する。
func NewPostgresWebhookEventRepo(db *sql.DB) *PostgresWebhookEventRepo {
	return &PostgresWebhookEventRepo{db: db}
}

// ApplyCheckoutCompleted はイベントIDの記録とプラン更新を同一トランザクションで行う。
// 対象ユーザーが存在しない場合もイベントは記録し、再配信で同じログを出さないようにする。
func (r *PostgresWebhookEventRepo) ApplyCheckoutCompleted(ctx context.Context, c CheckoutCompletion) (CheckoutOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	processedAt := c.Event.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO NOTHING`,
		c.Event.EventID, c.Event.EventType, processedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record webhook event: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		return CheckoutDuplicate, nil
	}

	outcome := CheckoutApplied
	result, err = tx.ExecContext(ctx,
		`UPDATE users
		 SET plan = $2,
		     stripe_customer_id = COALESCE(NULLIF($3, ''), stripe_customer_id),
		     updated_at = $4
		 WHERE id = $1`,
		c.UserID, string(c.Plan), c.StripeCustomerID, processedAt,
	)
	switch {
	case isInvalidText(err):
		// 不正なIDはユーザー不在として扱う。失敗した文でトランザクションが中断されるため
		// イベント記録は別トランザクションでやり直す。
		return r.recordOnly(ctx, c, processedAt)
	case err != nil:
		return 0, fmt.Errorf("failed to update plan: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if updated == 0 {
		outcome = CheckoutUserMissing
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return outcome, nil
}

func (r *PostgresWebhookEventRepo) recordOnly(ctx context.Context, c CheckoutCompletion, processedAt time.Time) (CheckoutOutcome, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO NOTHING`,
		c.Event.EventID, c.Event.EventType, processedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record webhook event: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		return CheckoutDuplicate, nil
	}
	return CheckoutUserMissing, nil
}

// DeleteProcessedBefore はbeforeより前に処理したイベントの記録を削除し、削除件数を返す。
func (r *PostgresWebhookEventRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE processed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed webhook events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ WebhookEventRepository = (*PostgresWebhookEventRepo)(nil)
