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
// ディスパッチャー、リゾルバー、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordDispatch(operation, result string, duration time.Duration)
	RecordResolve(result string)
	RecordHTTPStatus(statusCode int)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	resolveTotal    *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	sessionsPurged  prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cleanquest_dispatch_total",
			Help: "リモートAPI呼び出しの操作別・結果別の合計数",
		}, []string{"operation", "result"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cleanquest_dispatch_latency_seconds",
			Help:    "リモートAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		resolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cleanquest_resolve_total",
			Help: "現在のユーザー解決の結果別の合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cleanquest_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cleanquest_sessions_purged_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.dispatchTotal,
		c.dispatchLatency,
		c.resolveTotal,
		c.httpStatus,
		c.sessionsPurged,
	)

	return c
}

// RecordDispatch はリモートAPI呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordDispatch(operation, result string, duration time.Duration) {
	c.dispatchTotal.WithLabelValues(operation, result).Inc()
	c.dispatchLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordResolve は現在のユーザー解決の結果を記録する。
func (c *Collector) RecordResolve(result string) {
	c.resolveTotal.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsPurged は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
