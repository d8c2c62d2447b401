// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginUnverified         = "unverified"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやハンドラーから利用する。
type MetricsCollector interface {
	RecordLogin(method, result string)
	RecordAuthRejected(provider string)
	RecordRateLimited(limit string)
	RecordRoleChange(newRole string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	authRejected   *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	roleChanges    *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contactbook_login_total",
			Help: "ログイン試行の結果別の合計数",
		}, []string{"method", "result"}),
		authRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contactbook_auth_rejected_total",
			Help: "認証に失敗したリクエストの合計数",
		}, []string{"provider"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contactbook_rate_limited_total",
			Help: "レート制限で拒否されたリクエストの合計数",
		}, []string{"limit"}),
		roleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contactbook_role_changes_total",
			Help: "ロール変更の合計数",
		}, []string{"new_role"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contactbook_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contactbook_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.authRejected,
		c.rateLimited,
		c.roleChanges,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。methodはsessionまたはtoken。
func (c *Collector) RecordLogin(method, result string) {
	c.logins.WithLabelValues(method, result).Inc()
}

// RecordAuthRejected は認証ミドルウェアで拒否されたリクエストを記録する。
func (c *Collector) RecordAuthRejected(provider string) {
	c.authRejected.WithLabelValues(provider).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(limit string) {
	c.rateLimited.WithLabelValues(limit).Inc()
}

// RecordRoleChange はロール変更を記録する。
func (c *Collector) RecordRoleChange(newRole string) {
	c.roleChanges.WithLabelValues(newRole).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。メトリクスを無効にする場合やテストで使用する。
type Nop struct{}

func (Nop) RecordLogin(string, string)         {}
func (Nop) RecordAuthRejected(string)          {}
func (Nop) RecordRateLimited(string)           {}
func (Nop) RecordRoleChange(string)            {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
