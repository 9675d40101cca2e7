// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Plan はユーザーの契約プランを表す。
type Plan string

const (
	// PlanFree は無料プラン。
	PlanFree Plan = "free"
	// PlanPremium は有料プラン。
	PlanPremium Plan = "premium"
	// PlanPremiumPlus は上位の有料プラン。1日の質問数に上限がない。
	PlanPremiumPlus Plan = "premiumPlus"
)

// IsPaid はチェックアウトで購入可能なプランかどうかを返す。
func (p Plan) IsPaid() bool {
	return p == PlanPremium || p == PlanPremiumPlus
}

// Valid は定義済みのプランかどうかを返す。
func (p Plan) Valid() bool {
	return p == PlanFree || p.IsPaid()
}

// User はサービス利用ユーザーを表す。
// DailyCount は LastResetDate と同じ日付の間のみ意味を持つ。
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	DailyCount       int
	LastResetDate    time.Time
	Plan             Plan
	StripeCustomerID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NormalizeEmail はメールアドレスを保存・検索用の正規形（前後空白除去・小文字）に変換する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
