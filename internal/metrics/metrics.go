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
	RecordLoginAttempt(outcome string)
	RecordOTPEvent(event string)
	RecordAuthzDenied(operation string)
	RecordNotification(kind, result string)
	RecordHTTPStatus(statusCode int)
	RecordExportLatency(duration time.Duration)
	RecordPanic()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginAttempts *prometheus.CounterVec
	otpEvents     *prometheus.CounterVec
	authzDenied   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	exportLatency prometheus.Histogram
	panics        prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbackdesk_login_attempts_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		otpEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbackdesk_otp_events_total",
			Help: "確認コードの発行・検証イベント数",
		}, []string{"event"}),
		authzDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbackdesk_authz_denied_total",
			Help: "操作別の権限エラー数",
		}, []string{"operation"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbackdesk_notifications_total",
			Help: "種類と結果別のメール通知数",
		}, []string{"kind", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbackdesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		exportLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedbackdesk_export_latency_seconds",
			Help:    "ドキュメント生成のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedbackdesk_http_panics_total",
			Help: "ハンドラーで回収したpanicの数",
		}),
	}

	reg.MustRegister(
		c.loginAttempts,
		c.otpEvents,
		c.authzDenied,
		c.notifications,
		c.httpStatus,
		c.exportLatency,
		c.panics,
	)

	return c
}

// RecordLoginAttempt はログイン試行の結果を記録する。
func (c *Collector) RecordLoginAttempt(outcome string) {
	c.loginAttempts.WithLabelValues(outcome).Inc()
}

// RecordOTPEvent は確認コードのイベント（issued, verified, failed, expired）を記録する。
func (c *Collector) RecordOTPEvent(event string) {
	c.otpEvents.WithLabelValues(event).Inc()
}

// RecordAuthzDenied は権限エラーを記録する。
func (c *Collector) RecordAuthzDenied(operation string) {
	c.authzDenied.WithLabelValues(operation).Inc()
}

// RecordNotification は通知の処理結果（enqueued, enqueue_error, sent, retry, failed, expired）を記録する。
func (c *Collector) RecordNotification(kind, result string) {
	c.notifications.WithLabelValues(kind, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordExportLatency はドキュメント生成のレイテンシを記録する。
func (c *Collector) RecordExportLatency(duration time.Duration) {
	c.exportLatency.Observe(duration.Seconds())
}

// RecordPanic はハンドラーで回収したpanicを記録する。
func (c *Collector) RecordPanic() {
	c.panics.Inc()
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordLoginAttempt(string) {}
func (NopCollector) RecordOTPEvent(string) {}
func (NopCollector) RecordAuthzDenied(string) {}
func (NopCollector) RecordNotification(string, string) {}
func (NopCollector) RecordHTTPStatus(int) {}
func (NopCollector) RecordExportLatency(time.Duration) {}
func (NopCollector) RecordPanic() {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
