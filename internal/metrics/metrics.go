// Package metrics 维护进程级 Prometheus 指标，由 /-/metrics 暴露。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// 按请求分类与响应来源统计的 fetch 次数。
	WorkerFetchTotal *prometheus.CounterVec

	// 安装结果：ok / failed。
	WorkerInstallTotal *prometheus.CounterVec

	WorkerActivateTotal prometheus.Counter

	// 激活时删除的旧缓存桶数量。
	CacheBucketsPurgedTotal prometheus.Counter

	// 控制者变化后页面重新加载的次数。
	PageReloadsTotal prometheus.Counter

	// 回复通道不可用、退化为无端口消息的次数，此时不会自动刷新页面。
	SkipWaitingDegradedTotal prometheus.Counter

	// 天气查询结果：ok / offline / not_found / error。
	WeatherLookupsTotal *prometheus.CounterVec

	// 按类型统计的提醒：rain / heat，以及通知是否送达。
	AlertsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	WorkerFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerFetchTotal",
			Help: "Fetch events answered by the worker, by request class and response source",
		},
		[]string{"class", "source"},
	)
	WorkerInstallTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workerInstallTotal",
			Help: "Worker install attempts by result",
		},
		[]string{"result"},
	)
	WorkerActivateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workerActivateTotal",
			Help: "Worker activations",
		},
	)
	CacheBucketsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheBucketsPurgedTotal",
			Help: "Stale cache buckets deleted during activation",
		},
	)
	PageReloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pageReloadsTotal",
			Help: "Page reloads triggered after a controller change",
		},
	)
	SkipWaitingDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skipWaitingDegradedTotal",
			Help: "Skip-waiting requests sent without a reply channel (no automatic reload)",
		},
	)
	WeatherLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherLookupsTotal",
			Help: "Weather lookups by result",
		},
		[]string{"result"},
	)
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertsTotal",
			Help: "Weather alerts raised, by kind and whether the notification was shown",
		},
		[]string{"kind", "delivered"},
	)

	registry.MustRegister(
		WorkerFetchTotal, WorkerInstallTotal, WorkerActivateTotal,
		CacheBucketsPurgedTotal,
		PageReloadsTotal, SkipWaitingDegradedTotal,
		WeatherLookupsTotal, AlertsTotal,
	)
}

// Handler 返回 Prometheus 文本格式的指标处理器。
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
