package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aimian",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "大模型调用总数。",
		},
		[]string{"provider", "success"},
	)

	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aimian",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "大模型调用耗时分布（秒）。",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)
)

// ObserveLLMCall 记录一次大模型调用的结果与耗时。
func ObserveLLMCall(provider string, success bool, elapsed time.Duration) {
	llmCallTotal.WithLabelValues(provider, strconv.FormatBool(success)).Inc()
	llmCallDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}
