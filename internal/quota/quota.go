// Package quota はプラン別の1日あたり質問数の上限判定を提供する。
// 永続化は行わず、判定結果と書き込み範囲だけを返す。
package quota

import (
	"time"

	"github.com/hitoshi/docquery/internal/model"
	"github.com/hitoshi/docquery/internal/repository"
)

// プラン別の1日あたりの上限
const (
	FreeDailyLimit    = 10
	PremiumDailyLimit = 50
)

// Limit はプランの1日あたりの上限を返す。上限がない場合はunlimited=trueを返す。
// 未定義のプランはfreeとして扱う。
func Limit(plan model.Plan) (limit int, unlimited bool) {
	switch plan {
	case model.PlanPremiumPlus:
		return 0, true
	case model.PlanPremium:
		return PremiumDailyLimit, false
	default:
		return FreeDailyLimit, false
	}
}

// Decision はクォータ判定の結果。
type Decision struct {
	Allowed   bool
	Unlimited bool
	Limit     int
	// Count はリセットを考慮した当日の実効利用回数。
	Count int
	// ResetAt はリセットを考慮した最終リセット日時。
	ResetAt time.Time
	// Reset はlast_reset_dateが当日でなかったことを表す。
	Reset bool
}

// Tracker は基準タイムゾーンの暦日単位で利用回数を判定する。
type Tracker struct {
	loc *time.Location
}

// NewTracker はTrackerを生成する。locがnilの場合はUTCを使う。
func NewTracker(loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{loc: loc}
}

// Window はnowを含む暦日の範囲を返す。
func (t *Tracker) Window(now time.Time) repository.UsageWindow {
	local := now.In(t.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.loc)
	return repository.UsageWindow{
		Start: start,
		End:   start.AddDate(0, 0, 1),
		Now:   now,
	}
}

// SameDay はaとbが基準タイムゾーンで同じ暦日かどうかを返す。
func (t *Tracker) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(t.loc).Date()
	by, bm, bd := b.In(t.loc).Date()
	return ay == by && am == bm && ad == bd
}

// Evaluate はユーザーが今質問できるかを判定する。状態は変更しない。
func (t *Tracker) Evaluate(user *model.User, now time.Time) Decision {
	limit, unlimited := Limit(user.Plan)

	d := Decision{
		Unlimited: unlimited,
		Limit:     limit,
		Count:     user.DailyCount,
		ResetAt:   user.LastResetDate,
	}
	if !t.SameDay(user.LastResetDate, now) {
		d.Count = 0
		d.ResetAt = now
		d.Reset = true
	}

	d.Allowed = unlimited || d.Count < limit
	return d
}

// Usage は判定結果と書き込み後の回数からクライアント向けの利用状況を組み立てる。
func Usage(plan model.Plan, limit int, unlimited bool, count int, resetAt time.Time) model.Usage {
	u := model.Usage{
		UsedToday: count,
		Unlimited: unlimited,
		ResetAt:   resetAt,
		Plan:      plan,
	}
	if unlimited {
		return u
	}
	u.DailyLimit = limit
	u.Remaining = limit - count
	if u.Remaining < 0 {
		u.Remaining = 0
	}
	return u
}
