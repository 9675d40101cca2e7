// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/docquery/internal/model"
)

var (
	// ErrEmailTaken は同じメールアドレスのユーザーが既に存在する場合に返る。
	ErrEmailTaken = errors.New("email already registered")

	// ErrQuotaExhausted は条件付きインクリメントが当日の上限により適用されなかった場合に返る。
	ErrQuotaExhausted = errors.New("daily quota exhausted")

	// ErrUserNotFound は更新対象のユーザーが存在しない場合に返る。
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidPlan は定義外のプランを書き込もうとした場合に返る。
	ErrInvalidPlan = errors.New("invalid plan")
)

// UsageWindow は利用回数を数える1日の範囲 [Start, End) と書き込み時刻を表す。
// Start/End は基準タイムゾーンでの当日0時と翌日0時。
type UsageWindow struct {
	Start time.Time
	End   time.Time
	Now   time.Time
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrEmailTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// IncrementDailyCount は当日の利用回数を1つ進める。
	// last_reset_dateがwindow外なら回数を1、リセット日時をwindow.Nowにする。
	// window内で既にlimitに達している場合は何も書き込まずErrQuotaExhaustedを返す。
	IncrementDailyCount(ctx context.Context, id string, window UsageWindow, limit int) (count int, lastReset time.Time, err error)

	// UpdatePlan はユーザーのプランを変更する。ユーザーが存在しない場合はErrUserNotFoundを返す。
	UpdatePlan(ctx context.Context, id string, plan model.Plan) error
}

// CheckoutOutcome はチェックアウト完了イベントを適用した結果。
type CheckoutOutcome int

const (
	// CheckoutApplied はプランを更新したことを表す。
	CheckoutApplied CheckoutOutcome = iota
	// CheckoutDuplicate は処理済みイベントの再配信だったことを表す。
	CheckoutDuplicate
	// CheckoutUserMissing はイベントを記録したが対象ユーザーが存在しなかったことを表す。
	CheckoutUserMissing
)

// String はログ出力用の名前を返す。
func (o CheckoutOutcome) String() string {
	switch o {
	case CheckoutApplied:
		return "applied"
	case CheckoutDuplicate:
		return "duplicate"
	case CheckoutUserMissing:
		return "user_missing"
	default:
		return "unknown"
	}
}

// CheckoutCompletion はチェックアウト完了時に書き込む内容。
type CheckoutCompletion struct {
	Event            model.WebhookEvent
	UserID           string
	Plan             model.Plan
	StripeCustomerID string
}

// WebhookEventRepository は処理済み決済イベントの永続化インターフェース。
type WebhookEventRepository interface {
	// ApplyCheckoutCompleted はイベントIDの記録とプラン更新を同一トランザクションで行う。
	// 同じイベントIDが記録済みの場合は何も変更せずCheckoutDuplicateを返す。
	ApplyCheckoutCompleted(ctx context.Context, c CheckoutCompletion) (CheckoutOutcome, error)

	// DeleteProcessedBefore はbefore より前に処理したイベントの記録を削除し、削除件数を返す。
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
