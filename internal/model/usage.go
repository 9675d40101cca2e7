package model

import "time"

// Usage は質問回答後にクライアントへ返す当日の利用状況。
// Unlimited の場合 Remaining と DailyLimit は意味を持たない。
type Usage struct {
	UsedToday  int
	Remaining  int
	DailyLimit int
	Unlimited  bool
	ResetAt    time.Time
	Plan       Plan
}

// WebhookEvent は処理済みの決済Webhookイベントを表す。
// 同一イベントの再配信を検出するために保存する。
type WebhookEvent struct {
	EventID     string
	EventType   string
	ProcessedAt time.Time
}
