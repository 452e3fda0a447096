package recommend

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pipeline"
	"github.com/rushteam/shelfrec/recall"
)

// Option 配置 Engine。
type Option func(*Engine)

// WithLogger 设置日志，默认不输出。
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMinInteractions 设置个性化门槛，默认 3。
func WithMinInteractions(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.minInteractions = n
		}
	}
}

// WithPattern 启用交互模式信号（默认关闭）。
func WithPattern(enabled bool) Option {
	return func(e *Engine) {
		e.enablePattern = enabled
	}
}

// WithSourceTimeout 设置单个召回源的超时。
func WithSourceTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.sourceTimeout = d
	}
}

// WithMaxConcurrent 设置召回源的最大并发数，0 表示不限制。
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		e.maxConcurrent = n
	}
}

// WithSamplingPolicies 覆盖各向量召回源的采样策略，传 nil 的保持默认。
func WithSamplingPolicies(content, cf, graph core.SamplingPolicy) Option {
	return func(e *Engine) {
		e.contentPolicy, e.cfPolicy, e.graphPolicy = content, cf, graph
	}
}

// WithSources 用给定的召回源替换默认召回源（内容/CF/图/交互模式）。
func WithSources(sources ...recall.Source) Option {
	return func(e *Engine) {
		e.sources = sources
	}
}

// WithPipeline 设置融合后的处理链，默认 [filter.interacted, rerank.dedup, rerank.sort, rerank.topn]。
func WithPipeline(p *pipeline.Pipeline) Option {
	return func(e *Engine) {
		e.pipeline = p
	}
}

// WithFallback 替换默认的兜底链。
func WithFallback(f *recall.FallbackChain) Option {
	return func(e *Engine) {
		e.fallback = f
	}
}
