// Package metrics 定义推荐链路的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shelfrec"

var (
	// RecommendDuration 单次推荐耗时，outcome: personalized / gated / fallback / empty / error
	RecommendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recommend_duration_seconds",
			Help:      "Duration of recommendation requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// SourceCandidates 各召回源返回的候选数
	SourceCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_candidates",
			Help:      "Number of candidates returned per recall source",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200},
		},
		[]string{"source"},
	)

	// SourceFailures 召回源失败次数（失败的召回源贡献 0 个候选）
	SourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Total number of recall source failures absorbed by fanout",
		},
		[]string{"source"},
	)

	// TrainingRuns 离线训练次数，status: ok / insufficient_data / error
	TrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Total number of offline training runs",
		},
		[]string{"trainer", "status"},
	)

	TrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Duration of offline training runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"trainer"},
	)

	// EncoderRequests 文本编码调用次数，status: ok / error / open
	EncoderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encoder_requests_total",
			Help:      "Total number of text encoder calls",
		},
		[]string{"provider", "status"},
	)

	// EvalMetric 最近一次评估的指标值，metric 如 precision@10
	EvalMetric = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eval_metric",
			Help:      "Latest offline evaluation metric values",
		},
		[]string{"metric"},
	)
)

// RecordRecommend 记录一次推荐
func RecordRecommend(outcome string, duration time.Duration) {
	RecommendDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSource 记录一个召回源的结果
func RecordSource(source string, candidates int, err error) {
	if err != nil {
		SourceFailures.WithLabelValues(source).Inc()
		return
	}
	SourceCandidates.WithLabelValues(source).Observe(float64(candidates))
}

// RecordTraining 记录一次训练
func RecordTraining(trainer, status string, duration time.Duration) {
	TrainingRuns.WithLabelValues(trainer, status).Inc()
	TrainingDuration.WithLabelValues(trainer).Observe(duration.Seconds())
}

// RecordEncoder 记录一次编码调用
func RecordEncoder(provider, status string) {
	EncoderRequests.WithLabelValues(provider, status).Inc()
}

// SetEvalMetric 更新评估指标
func SetEvalMetric(metric string, value float64) {
	EvalMetric.WithLabelValues(metric).Set(value)
}
