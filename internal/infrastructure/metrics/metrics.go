package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess  = "success"
	ResultReplay   = "replay"
	ResultBusy     = "busy"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var (
	// Registry 礼品卡服务自己的指标注册表
	Registry = prometheus.NewRegistry()

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftcard",
			Name:      "operations_total",
			Help:      "Total number of gift card ledger operations by result.",
		},
		[]string{"op", "result"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "giftcard",
			Name:      "operation_duration_seconds",
			Help:      "Duration of gift card ledger operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms ~ 4s
		},
		[]string{"op"},
	)

	exclusionBusy = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftcard",
			Name:      "exclusion_busy_total",
			Help:      "Number of operations rejected because the card exclusion lock was held.",
		},
		[]string{"op"},
	)

	outboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftcard",
			Name:      "outbox_published_total",
			Help:      "Outbox messages published to Kafka by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftcard",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	Registry.MustRegister(
		operations,
		operationDuration,
		exclusionBusy,
		outboxPublished,
		httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveOperation 记录一次账本操作的结果和耗时
func ObserveOperation(op, result string, duration time.Duration) {
	operations.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(duration.Seconds())
	if result == ResultBusy {
		exclusionBusy.WithLabelValues(op).Inc()
	}
}

func ObserveOutboxPublish(result string) {
	outboxPublished.WithLabelValues(result).Inc()
}

func ObserveHTTPRequest(method, path, status string) {
	if path == "" {
		path = "unmatched"
	}
	httpRequests.WithLabelValues(method, path, status).Inc()
}
