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
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordMutation(op, mode, result string)
	RecordMovedItemLost()
	RecordRealtimeEvent(table string)
	RecordHTTPStatus(statusCode int)
	RecordImport(count int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	mutations      *prometheus.CounterVec
	movedItemLost  prometheus.Counter
	realtimeEvents *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	importedItems  prometheus.Counter
	importLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "myworld_mutations_total",
			Help: "アイテム変更操作の合計数",
		}, []string{"op", "mode", "result"}),
		movedItemLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "myworld_moved_item_lost_total",
			Help: "完了への移動中に失われたアイテムの合計数",
		}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "myworld_realtime_events_total",
			Help: "配信した変更通知の合計数",
		}, []string{"table"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "myworld_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		importedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "myworld_imported_items_total",
			Help: "フィードからインポートした予定アイテムの合計数",
		}),
		importLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "myworld_import_latency_seconds",
			Help:    "フィードインポートのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.mutations,
		c.movedItemLost,
		c.realtimeEvents,
		c.httpStatus,
		c.importedItems,
		c.importLatency,
	)

	return c
}

// RecordMutation は変更操作の結果を記録する。resultは "ok" または "error"。
func (c *Collector) RecordMutation(op, mode, result string) {
	c.mutations.WithLabelValues(op, mode, result).Inc()
}

// RecordMovedItemLost は移動中のアイテム消失を記録する。
func (c *Collector) RecordMovedItemLost() {
	c.movedItemLost.Inc()
}

// RecordRealtimeEvent は変更通知の配信を記録する。
func (c *Collector) RecordRealtimeEvent(table string) {
	c.realtimeEvents.WithLabelValues(table).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordImport はインポートされたアイテム数と所要時間を記録する。
func (c *Collector) RecordImport(count int, duration time.Duration) {
	c.importedItems.Add(float64(count))
	c.importLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordMutation(string, string, string) {}
func (Nop) RecordMovedItemLost() {}
func (Nop) RecordRealtimeEvent(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordImport(int, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のメトリクスの収集に失敗しても、収集できたものは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
