package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/memxfer/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memxfer",
			Subsystem: "session",
			Name:      "exchanges_total",
			Help:      "Metadata exchanges by role and result.",
		},
		[]string{"role", "result"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memxfer",
			Subsystem: "session",
			Name:      "exchange_duration_seconds",
			Help:      "Metadata exchange duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role"},
	)
	planBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memxfer",
			Subsystem: "plan",
			Name:      "bytes_total",
			Help:      "Bytes covered by reconciled transfer plans.",
		},
	)
	planChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memxfer",
			Subsystem: "plan",
			Name:      "chunks",
			Help:      "Chunk pairs per reconciled transfer plan.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memxfer",
			Subsystem: "transfer",
			Name:      "requests_total",
			Help:      "Transfers handed to the engine by op and result.",
		},
		[]string{"op", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memxfer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"agent", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(exchanges, exchangeDuration, planBytes, planChunks, transfers, httpRequests)
	})
}

// Result labels an outcome as ok or by the error kind that ended it.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return protocol.KindOf(err).String()
}

func RecordExchange(role, result string, duration time.Duration) {
	RegisterMetrics()
	exchanges.WithLabelValues(role, result).Inc()
	exchangeDuration.WithLabelValues(role).Observe(duration.Seconds())
}

func RecordPlan(totalBytes uint64, chunks int) {
	RegisterMetrics()
	planBytes.Add(float64(totalBytes))
	planChunks.Observe(float64(chunks))
}

func RecordTransfer(op, result string) {
	RegisterMetrics()
	transfers.WithLabelValues(op, result).Inc()
}

func RecordHTTPRequest(agent, method, path string, status int) {
	RegisterMetrics()
	httpRequests.WithLabelValues(agent, method, path, strconv.Itoa(status)).Inc()
}
