// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// レシピ操作の種類
const (
	OperationCreate = "create"
	OperationList   = "list"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordRecipeOperation(operation string, success bool)
	RecordAuthFailure(code string)
	ObserveRequest(method string, status int, duration time.Duration)
	RecordUploadPresigned()
	RecordRecount(all, published int64)
	RecordRecountFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	recipeOps       *prometheus.CounterVec
	authFailures    *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	uploadPresigned prometheus.Counter
	recipeCount     *prometheus.GaugeVec
	recountFail     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		recipeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipebox_recipe_operations_total",
			Help: "レシピ操作の合計数",
		}, []string{"operation", "result"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipebox_auth_failures_total",
			Help: "認証失敗の合計数",
		}, []string{"code"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipebox_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"method", "status_code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recipebox_http_request_duration_seconds",
			Help:    "リクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		uploadPresigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recipebox_upload_urls_issued_total",
			Help: "発行した署名付きアップロードURLの合計数",
		}),
		recipeCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recipebox_recipes",
			Help: "再集計時点のレシピ件数",
		}, []string{"counter"}),
		recountFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recipebox_recount_fail_total",
			Help: "件数再集計の失敗数",
		}),
	}

	reg.MustRegister(
		c.recipeOps,
		c.authFailures,
		c.httpStatus,
		c.requestLatency,
		c.uploadPresigned,
		c.recipeCount,
		c.recountFail,
	)

	return c
}

// RecordRecipeOperation はレシピ操作の結果を記録する。
func (c *Collector) RecordRecipeOperation(operation string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.recipeOps.WithLabelValues(operation, result).Inc()
}

// RecordAuthFailure は認証失敗をエラーコード別に記録する。
func (c *Collector) RecordAuthFailure(code string) {
	c.authFailures.WithLabelValues(code).Inc()
}

// ObserveRequest はレスポンスのステータスと処理時間を記録する。
func (c *Collector) ObserveRequest(method string, status int, duration time.Duration) {
	c.httpStatus.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.requestLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordUploadPresigned は署名付きURLの発行を記録する。
func (c *Collector) RecordUploadPresigned() {
	c.uploadPresigned.Inc()
}

// RecordRecount は再集計後の件数を記録する。
func (c *Collector) RecordRecount(all, published int64) {
	c.recipeCount.WithLabelValues("all").Set(float64(all))
	c.recipeCount.WithLabelValues("published").Set(float64(published))
}

// RecordRecountFailure は再集計の失敗を記録する。
func (c *Collector) RecordRecountFailure() {
	c.recountFail.Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordRecipeOperation(string, bool)        {}
func (NopCollector) RecordAuthFailure(string)                  {}
func (NopCollector) ObserveRequest(string, int, time.Duration) {}
func (NopCollector) RecordUploadPresigned()                    {}
func (NopCollector) RecordRecount(int64, int64)                {}
func (NopCollector) RecordRecountFailure()                     {}

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
