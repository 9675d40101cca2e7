// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuth(action, result string)
	RecordQuery(outcome string)
	RecordUpstreamLatency(duration time.Duration)
	RecordCheckout(plan, result string)
	RecordWebhook(outcome string)
	RecordWebhookEventsPruned(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	auth           *prometheus.CounterVec
	queries        *prometheus.CounterVec
	upstream       prometheus.Histogram
	checkouts      *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	webhooksPruned prometheus.Counter
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docquery_auth_attempts_total",
			Help: "サインアップ・ログインの試行数",
		}, []string{"action", "result"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docquery_queries_total",
			Help: "質問リクエストの結果別件数",
		}, []string{"outcome"}),
		upstream: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docquery_gemini_latency_seconds",
			Help:    "Gemini呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docquery_checkout_sessions_total",
			Help: "チェックアウトセッション作成の結果別件数",
		}, []string{"plan", "result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docquery_webhook_events_total",
			Help: "決済Webhookの処理結果別件数",
		}, []string{"outcome"}),
		webhooksPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docquery_webhook_events_pruned_total",
			Help: "保持期間を過ぎて削除した処理済みWebhookイベント数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docquery_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.auth,
		c.queries,
		c.upstream,
		c.checkouts,
		c.webhooks,
		c.webhooksPruned,
		c.httpStatus,
	)

	return c
}

// RecordAuth は認証操作の結果を記録する。actionはsignup/login。
func (c *Collector) RecordAuth(action, result string) {
	c.auth.WithLabelValues(action, result).Inc()
}

// RecordQuery は質問リクエストの結果を記録する。
func (c *Collector) RecordQuery(outcome string) {
	c.queries.WithLabelValues(outcome).Inc()
}

// RecordUpstreamLatency はGemini呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(duration time.Duration) {
	c.upstream.Observe(duration.Seconds())
}

// RecordCheckout はチェックアウトセッション作成の結果を記録する。
func (c *Collector) RecordCheckout(plan, result string) {
	c.checkouts.WithLabelValues(plan, result).Inc()
}

// RecordWebhook はWebhook処理の結果を記録する。
func (c *Collector) RecordWebhook(outcome string) {
	c.webhooks.WithLabelValues(outcome).Inc()
}

// RecordWebhookEventsPruned は削除した処理済みイベント数を加算する。
func (c *Collector) RecordWebhookEventsPruned(count int64) {
	c.webhooksPruned.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordAuth(string, string)           {}
func (Nop) RecordQuery(string)                  {}
func (Nop) RecordUpstreamLatency(time.Duration) {}
func (Nop) RecordCheckout(string, string)       {}
func (Nop) RecordWebhook(string)                {}
func (Nop) RecordWebhookEventsPruned(int64)     {}
func (Nop) RecordHTTPStatus(int)                {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
